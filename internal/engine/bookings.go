package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"bookline/internal/domain"
	"bookline/internal/repo"
)

// checkConflicts fails with a ConflictError when any confirmed booking on
// the given resources overlaps any of the windows.
func (e Engine) checkConflicts(ctx context.Context, tx *sql.Tx, orgID string, resourceIDs []string, windows []repo.Window, excludeTaskID string) error {
	conflicts, err := e.Repo.FindConflictingTx(ctx, tx, orgID, resourceIDs, windows, excludeTaskID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

// FindConflicts is the read-only availability probe: confirmed bookings on
// the given resources overlapping [start, end), without taking a write
// transaction. Used by the availability endpoint and the CLI.
func (e Engine) FindConflicts(ctx context.Context, orgID string, resourceIDs []string, start, end time.Time, excludeTaskID string) ([]repo.ConflictingBooking, error) {
	return e.Repo.FindConflicting(ctx, orgID, resourceIDs, []repo.Window{{Start: start, End: end}}, excludeTaskID)
}

// syncBookings rewrites the booking ledger for a task: drop everything it
// holds, then, if the task is active, book every planned resource for the
// task's window. Non-blockable resources get ledger rows too; only blockable
// ones are consulted by conflict checks.
func (e Engine) syncBookings(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if err := e.Repo.DeleteBookingsForTask(ctx, tx, t.ID); err != nil {
		return err
	}
	if t.IsInactive() || len(t.Resources) == 0 {
		return nil
	}
	now := e.nowRFC3339()
	bookings := make([]domain.ResourceBooking, 0, len(t.Resources))
	for _, r := range t.Resources {
		bookings = append(bookings, domain.ResourceBooking{
			ID:         uuid.NewString(),
			OrgID:      t.OrgID,
			ResourceID: r.ResourceID,
			TaskID:     t.ID,
			StartTime:  t.Schedule.Start,
			EndTime:    t.Schedule.End,
			Status:     "confirmed",
			CreatedAt:  now,
		})
	}
	return e.Repo.InsertBookings(ctx, tx, bookings)
}
