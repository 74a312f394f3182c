package engine

import (
	"fmt"
	"strings"

	"bookline/internal/repo"
)

// ValidationError marks caller mistakes (blank title, inverted window,
// unknown status). The HTTP layer maps it to 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError carries every colliding booking found by a conflict check so
// callers can report all of them at once. The HTTP layer maps it to 409.
type ConflictError struct {
	Conflicts []repo.ConflictingBooking
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = fmt.Sprintf("resource %q is booked by task %q from %s to %s",
			c.ResourceName, c.TaskTitle,
			c.StartTime.Format("2006-01-02 15:04"), c.EndTime.Format("2006-01-02 15:04"))
	}
	return "scheduling conflict: " + strings.Join(parts, "; ")
}
