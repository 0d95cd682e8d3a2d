package domain

import (
	"errors"
	"fmt"
)

// ErrOutcomeUnavailable signals that the earnings outcome for an event has
// not been published yet. Records stay pending and are retried on a later
// run; never fatal.
var ErrOutcomeUnavailable = errors.New("earnings outcome unavailable")

// InvalidAuthorNameError marks an article whose author name is empty or
// whitespace-only. The article is skipped and logged; the run continues.
type InvalidAuthorNameError struct {
	Raw string
}

func (e *InvalidAuthorNameError) Error() string {
	return fmt.Sprintf("invalid author name %q", e.Raw)
}

// InsufficientDataError marks an event with too few valid articles to form a
// consensus. The event is skipped; the run continues.
type InsufficientDataError struct {
	Event EventKey
	Got   int
	Need  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("event %s: %d valid articles, need %d for consensus", e.Event, e.Got, e.Need)
}

// DataIntegrityError marks a persisted aggregate that fails to parse or
// violates its invariants on load. Fatal: the merger refuses further writes
// until the table is repaired from history.
type DataIntegrityError struct {
	Source string
	Reason string
	Err    error
}

func (e *DataIntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data integrity: %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("data integrity: %s: %s", e.Source, e.Reason)
}

func (e *DataIntegrityError) Unwrap() error {
	return e.Err
}
