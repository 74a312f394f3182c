package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookline/internal/app"
	"bookline/internal/config"
	"bookline/internal/db"
	"bookline/internal/domain"
	"bookline/internal/engine"
	"bookline/internal/migrate"
	"bookline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("org-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := app.ResolveOrg(ctx, cfg, "tester", eng.Repo); err != nil {
		t.Fatalf("resolve org: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) resourceType(t *testing.T, name string, blockable bool) domain.ResourceType {
	t.Helper()
	rt, err := env.Engine.CreateResourceType(env.Ctx, engine.ResourceTypeCreateOptions{
		OrgID: "org-1", Name: name, IsBlockable: blockable, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create resource type %s: %v", name, err)
	}
	return rt
}

func (env testEnv) resource(t *testing.T, name, typeID string, override *bool) domain.Resource {
	t.Helper()
	r, err := env.Engine.CreateResource(env.Ctx, engine.ResourceCreateOptions{
		OrgID: "org-1", TypeID: typeID, DisplayName: name, Blockable: override, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create resource %s: %v", name, err)
	}
	return r
}

func window(day, startHour, endHour int) (time.Time, time.Time) {
	return time.Date(2026, 3, day, startHour, 0, 0, 0, time.UTC),
		time.Date(2026, 3, day, endHour, 0, 0, 0, time.UTC)
}

func boolPtr(b bool) *bool { return &b }

func (env testEnv) task(t *testing.T, title string, start, end time.Time, resources ...string) domain.Task {
	t.Helper()
	var refs []domain.TaskResource
	for _, id := range resources {
		refs = append(refs, domain.TaskResource{ResourceID: id})
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: title, Start: start, End: end,
		Resources: refs, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	start, end := window(2, 9, 11)

	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Start: start, End: end, ActorID: "tester",
	})
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("blank title: want ValidationError, got %v", err)
	}

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "backwards", Start: end, End: start, ActorID: "tester",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("inverted window: want ValidationError, got %v", err)
	}
}

func TestUnknownResourceIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	start, end := window(2, 9, 11)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "ghost", Start: start, End: end,
		Resources: []domain.TaskResource{{ResourceID: "no-such-resource"}},
		ActorID:   "tester",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestBlockableConflictAndTouchingWindows(t *testing.T) {
	env := newTestEnv(t)
	rt := env.resourceType(t, "cnc", true)
	mill := env.resource(t, "CNC Mill", rt.ID, nil)

	start, end := window(2, 9, 11)
	env.task(t, "first", start, end, mill.ID)

	// overlapping window conflicts
	s2, e2 := window(2, 10, 12)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "second", Start: s2, End: e2,
		Resources: []domain.TaskResource{{ResourceID: mill.ID}},
		ActorID:   "tester",
	})
	var ce *engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConflictError, got %v", err)
	}
	if len(ce.Conflicts) != 1 || ce.Conflicts[0].ResourceName != "CNC Mill" {
		t.Fatalf("conflict details: %+v", ce.Conflicts)
	}

	// touching windows do not conflict: second starts exactly at first's end
	s3, e3 := window(2, 11, 13)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "third", Start: s3, End: e3,
		Resources: []domain.TaskResource{{ResourceID: mill.ID}},
		ActorID:   "tester",
	}); err != nil {
		t.Fatalf("touching windows must not conflict: %v", err)
	}
}

func TestOverrideBeatsTypeDefault(t *testing.T) {
	env := newTestEnv(t)
	blockableType := env.resourceType(t, "press", true)
	sharedType := env.resourceType(t, "alloy", false)

	// type says blockable, override says shared: no exclusivity
	sharedMill := env.resource(t, "Training Mill", blockableType.ID, boolPtr(false))
	start, end := window(3, 9, 11)
	env.task(t, "class A", start, end, sharedMill.ID)
	env.task(t, "class B", start, end, sharedMill.ID)

	// type says shared, override says blockable: exclusivity enforced
	rareStock := env.resource(t, "Titanium Rod", sharedType.ID, boolPtr(true))
	env.task(t, "cut A", start, end, rareStock.ID)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "cut B", Start: start, End: end,
		Resources: []domain.TaskResource{{ResourceID: rareStock.ID}},
		ActorID:   "tester",
	})
	var ce *engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("override to blockable must conflict, got %v", err)
	}
}

func TestLedgerBookingsForNonBlockable(t *testing.T) {
	env := newTestEnv(t)
	rt := env.resourceType(t, "consumable", false)
	sand := env.resource(t, "Sand", rt.ID, nil)

	start, end := window(4, 9, 11)
	a := env.task(t, "pour A", start, end, sand.ID)
	b := env.task(t, "pour B", start, end, sand.ID)

	bookings, err := env.Engine.ListBookings(env.Ctx, repo.BookingFilters{OrgID: "org-1", ResourceID: sand.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(bookings) != 2 {
		t.Fatalf("want 2 ledger bookings on shared resource, got %d", len(bookings))
	}
	for _, bk := range bookings {
		if bk.TaskID != a.ID && bk.TaskID != b.ID {
			t.Fatalf("unexpected booking task %s", bk.TaskID)
		}
		if bk.Status != "confirmed" {
			t.Fatalf("want confirmed, got %s", bk.Status)
		}
	}
}

func TestUpdateExcludesOwnBookings(t *testing.T) {
	env := newTestEnv(t)
	rt := env.resourceType(t, "meeting-room", true)
	room := env.resource(t, "Room 101", rt.ID, nil)

	start, end := window(5, 9, 11)
	task := env.task(t, "standup", start, end, room.ID)

	// shift by 30 minutes into a window overlapping its own booking
	newStart := start.Add(30 * time.Minute)
	newEnd := end.Add(30 * time.Minute)
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, Start: &newStart, End: &newEnd, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("self-overlap must not conflict: %v", err)
	}
	if !updated.Schedule.Start.Equal(newStart) {
		t.Fatalf("schedule not updated: %v", updated.Schedule.Start)
	}

	// bookings follow the new window
	bookings, err := env.Engine.ListBookings(env.Ctx, repo.BookingFilters{OrgID: "org-1", TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(bookings) != 1 || !bookings[0].StartTime.Equal(newStart) {
		t.Fatalf("booking not resynced: %+v", bookings)
	}
}

func TestUpdateConflictsWithOtherTask(t *testing.T) {
	env := newTestEnv(t)
	rt := env.resourceType(t, "truck-fleet", true)
	truck := env.resource(t, "Truck", rt.ID, nil)

	s1, e1 := window(6, 9, 11)
	env.task(t, "delivery A", s1, e1, truck.ID)
	s2, e2 := window(6, 13, 15)
	b := env.task(t, "delivery B", s2, e2, truck.ID)

	// move B onto A's window
	newStart, newEnd := window(6, 10, 12)
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: b.ID, Start: &newStart, End: &newEnd, ActorID: "tester",
	})
	var ce *engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConflictError, got %v", err)
	}
}

func TestCompletionWritesLogs(t *testing.T) {
	env := newTestEnv(t)
	machineType := env.resourceType(t, "mill-machine", true)
	stockType := env.resourceType(t, "stock", false)
	mill := env.resource(t, "Mill", machineType.ID, nil)
	rod := env.resource(t, "Rod", stockType.ID, nil)
	mold := env.resource(t, "Mold", stockType.ID, nil)

	start := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "machining", Start: start, End: end,
		Resources: []domain.TaskResource{
			{ResourceID: mill.ID, RelationshipType: "uses"},
			{ResourceID: rod.ID, RelationshipType: "consumes", Quantity: 3},
			{ResourceID: mold.ID, RelationshipType: "produces"},
		},
		Assignments: []domain.Assignment{{UserID: "alice"}, {UserID: "bob"}},
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatal(err)
	}

	done := "done"
	completed, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, Status: &done, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(completed.TimeLogs) != 2 {
		t.Fatalf("want one time log per assignee, got %d", len(completed.TimeLogs))
	}
	for _, l := range completed.TimeLogs {
		if l.DurationMinutes != 90 {
			t.Fatalf("want 90 minutes, got %d", l.DurationMinutes)
		}
		if !l.IsBillable {
			t.Fatalf("auto time log must be billable")
		}
	}

	actions := map[string]string{}
	for _, l := range completed.ResourceLogs {
		actions[l.ResourceID] = l.Action
		if l.LoggedBy != "tester" {
			t.Fatalf("loggedBy must be the creator, got %s", l.LoggedBy)
		}
	}
	if actions[mill.ID] != "used" || actions[rod.ID] != "consumed" || actions[mold.ID] != "produced" {
		t.Fatalf("action mapping wrong: %v", actions)
	}
	for _, l := range completed.ResourceLogs {
		if l.ResourceID == rod.ID && l.Quantity != 3 {
			t.Fatalf("want quantity 3, got %v", l.Quantity)
		}
		if l.ResourceID == mill.ID && l.Quantity != 1 {
			t.Fatalf("want default quantity 1, got %v", l.Quantity)
		}
	}

	// done releases the booking ledger
	bookings, err := env.Engine.ListBookings(env.Ctx, repo.BookingFilters{OrgID: "org-1", TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(bookings) != 0 {
		t.Fatalf("done task must hold no bookings, got %d", len(bookings))
	}

	// completing again is a no-op for logs
	again, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, Status: &done, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(again.TimeLogs) != 2 || len(again.ResourceLogs) != 3 {
		t.Fatalf("repeated done must not duplicate logs: %d time, %d resource",
			len(again.TimeLogs), len(again.ResourceLogs))
	}
}

func TestInactivationReleasesWindow(t *testing.T) {
	env := newTestEnv(t)
	rt := env.resourceType(t, "meeting-room", true)
	room := env.resource(t, "Room A", rt.ID, nil)

	start, end := window(8, 9, 11)
	task := env.task(t, "workshop", start, end, room.ID)

	archived := "archived"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, Status: &archived, ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}

	// the window is free again
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "replacement", Start: start, End: end,
		Resources: []domain.TaskResource{{ResourceID: room.ID}},
		ActorID:   "tester",
	}); err != nil {
		t.Fatalf("archived task must release its window: %v", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	rt := env.resourceType(t, "power-tool", true)
	drill := env.resource(t, "Drill", rt.ID, nil)

	s1, e1 := window(9, 9, 11)
	dep := env.task(t, "prep", s1, e1, drill.ID)

	s2, e2 := window(9, 13, 15)
	main, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "main", Start: s2, End: e2,
		DependsOn: []string{dep.ID}, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := env.Engine.DeleteTask(env.Ctx, dep.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, dep.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted task still readable: %v", err)
	}

	bookings, err := env.Engine.ListBookings(env.Ctx, repo.BookingFilters{OrgID: "org-1", TaskID: dep.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(bookings) != 0 {
		t.Fatalf("delete must cascade bookings, got %d", len(bookings))
	}

	got, err := env.Engine.GetTask(env.Ctx, main.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Dependencies) != 0 {
		t.Fatalf("delete must pull the task out of dependency lists, got %+v", got.Dependencies)
	}

	if err := env.Engine.DeleteTask(env.Ctx, dep.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestListTasksFilters(t *testing.T) {
	env := newTestEnv(t)
	s1, e1 := window(10, 9, 11)
	env.task(t, "one", s1, e1)
	s2, e2 := window(11, 9, 11)
	b := env.task(t, "two", s2, e2)

	inProgress := "in_progress"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: b.ID, Status: &inProgress, ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}

	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{OrgID: "org-1", Status: "in_progress"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].ID != b.ID {
		t.Fatalf("status filter wrong: %+v", tasks)
	}

	from := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	tasks, err = env.Engine.ListTasks(env.Ctx, repo.TaskFilters{OrgID: "org-1", From: &from})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].ID != b.ID {
		t.Fatalf("window filter wrong: %+v", tasks)
	}
}
