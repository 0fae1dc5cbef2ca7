package shiftsync

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrPersistence     = errors.New("persistence failure")
)

// FetchError reports an upstream calendar fetch failure. It is scoped to a
// single calendar; sibling fetches are unaffected.
type FetchError struct {
	CalendarID string
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("calendar %s fetch failed: status=%d %s", e.CalendarID, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("calendar %s fetch failed: %s", e.CalendarID, e.Message)
}
