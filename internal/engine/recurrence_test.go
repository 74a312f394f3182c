package engine_test

import (
	"errors"
	"testing"
	"time"

	"bookline/internal/domain"
	"bookline/internal/engine"
	"bookline/internal/repo"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestWeeklySeriesPreservesDuration(t *testing.T) {
	env := newTestEnv(t)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	until := start.AddDate(0, 0, 28)

	root, instances, err := env.Engine.CreateRecurringSeries(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "weekly maintenance",
		Start: start, End: end,
		RepeatFrequency: "weekly", TaskPeriod: timePtr(until),
		ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !root.IsRecurringRoot {
		t.Fatalf("root not flagged recurring")
	}
	if len(instances) != 4 {
		t.Fatalf("want 4 weekly instances in 28 days, got %d", len(instances))
	}
	for i, inst := range instances {
		wantStart := start.AddDate(0, 0, 7*(i+1))
		if !inst.Schedule.Start.Equal(wantStart) {
			t.Fatalf("instance %d start %v, want %v", i, inst.Schedule.Start, wantStart)
		}
		if inst.Schedule.Duration() != 90*time.Minute {
			t.Fatalf("instance %d duration %v, want 90m", i, inst.Schedule.Duration())
		}
		if !inst.IsRecurringInstance || inst.RootTaskID == nil || *inst.RootTaskID != root.ID {
			t.Fatalf("instance %d not linked to root", i)
		}
	}
}

func TestIntervalFrequency(t *testing.T) {
	env := newTestEnv(t)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	until := start.AddDate(0, 0, 10)

	_, instances, err := env.Engine.CreateRecurringSeries(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "every 3 days",
		Start: start, End: end,
		RepeatFrequency: "3 Days", TaskPeriod: timePtr(until),
		ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 3 {
		t.Fatalf("want instances at +3/+6/+9 days, got %d", len(instances))
	}
}

func TestZeroIntervalFrequencyRejected(t *testing.T) {
	env := newTestEnv(t)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	until := start.AddDate(0, 0, 3)

	_, _, err := env.Engine.CreateRecurringSeries(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "stuck in place",
		Start: start, End: end,
		RepeatFrequency: "0 days", TaskPeriod: timePtr(until),
		ActorID: "tester",
	})
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("zero interval: want ValidationError, got %v", err)
	}

	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{OrgID: "org-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("rejected series must persist nothing, got %d tasks", len(tasks))
	}
}

func TestUnknownUnitYieldsRootOnly(t *testing.T) {
	env := newTestEnv(t)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	until := start.AddDate(0, 1, 0)

	root, instances, err := env.Engine.CreateRecurringSeries(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "fortnightly-ish",
		Start: start, End: end,
		RepeatFrequency: "fortnightly", TaskPeriod: timePtr(until),
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("unknown unit must not error: %v", err)
	}
	if len(instances) != 0 {
		t.Fatalf("unknown unit must expand nothing, got %d instances", len(instances))
	}
	if _, err := env.Engine.GetTask(env.Ctx, root.ID); err != nil {
		t.Fatalf("root must still exist: %v", err)
	}
}

func TestSeriesConflictLeavesNothingPersisted(t *testing.T) {
	env := newTestEnv(t)
	rt := env.resourceType(t, "bay", true)
	bay := env.resource(t, "Bay 1", rt.ID, nil)

	// booking that collides with the third weekly occurrence
	blocker := time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC)
	env.task(t, "blocker", blocker, blocker.Add(time.Hour), bay.ID)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	until := start.AddDate(0, 0, 28)

	_, _, err := env.Engine.CreateRecurringSeries(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "weekly service",
		Start: start, End: end,
		Resources:       []domain.TaskResource{{ResourceID: bay.ID}},
		RepeatFrequency: "weekly", TaskPeriod: timePtr(until),
		ActorID:         "tester",
	})
	var ce *engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConflictError, got %v", err)
	}

	// no root, no instances, no bookings beyond the blocker's
	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{OrgID: "org-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Title != "blocker" {
		t.Fatalf("conflicting series must persist nothing, got %d tasks", len(tasks))
	}
	bookings, err := env.Engine.ListBookings(env.Ctx, repo.BookingFilters{OrgID: "org-1", ResourceID: bay.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(bookings) != 1 {
		t.Fatalf("want only the blocker's booking, got %d", len(bookings))
	}
}

func TestSeriesInstanceCap(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Scheduling.MaxSeriesInstances = 5

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	// over the cap: rejected, nothing persisted
	_, _, err := env.Engine.CreateRecurringSeries(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "daily forever",
		Start: start, End: end,
		RepeatFrequency: "daily", TaskPeriod: timePtr(start.AddDate(2, 0, 0)),
		ActorID: "tester",
	})
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("over-cap series: want ValidationError, got %v", err)
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{OrgID: "org-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("rejected series must persist nothing, got %d tasks", len(tasks))
	}

	// exactly at the cap: fine
	_, instances, err := env.Engine.CreateRecurringSeries(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", Title: "daily for a workweek",
		Start: start, End: end,
		RepeatFrequency: "daily", TaskPeriod: timePtr(start.AddDate(0, 0, 5)),
		ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 5 {
		t.Fatalf("want 5 instances at the cap, got %d", len(instances))
	}
}
