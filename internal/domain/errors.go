package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a quake with the requested ID does not exist.
	ErrNotFound = errors.New("quake not found")

	// ErrEmptyFilter is returned when a delete-by-filter would match every row.
	ErrEmptyFilter = errors.New("filter has no conditions")
)

// FetchReason classifies feed download failures.
type FetchReason string

const (
	FetchNetwork   FetchReason = "network"
	FetchBadStatus FetchReason = "bad-status"
)

// FetchError reports a failed feed download. Code is set for bad-status.
type FetchError struct {
	Reason FetchReason
	Code   int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Reason == FetchBadStatus {
		return fmt.Sprintf("fetch feed: bad status %d", e.Code)
	}
	return fmt.Sprintf("fetch feed: %s: %v", e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool {
	return e.Reason == FetchNetwork || e.Code >= 500
}

// ParseError reports a feed document whose entries cannot be enumerated.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse feed: malformed document: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// StoreReason classifies store write failures.
type StoreReason string

const (
	StoreWriteFailed StoreReason = "write-failed"
	StoreDuplicate   StoreReason = "duplicate"
)

// StoreError reports a rejected insert.
type StoreError struct {
	Reason StoreReason
	Err    error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return "store: " + string(e.Reason)
	}
	return fmt.Sprintf("store: %s: %v", e.Reason, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsDuplicate reports whether err is a StoreError for an already stored OccurredAt.
func IsDuplicate(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Reason == StoreDuplicate
}

// RecordError wraps a failure attributable to a single feed entry.
// Index is the entry's position in the document.
type RecordError struct {
	Index      int
	OccurredAt time.Time
	Err        error
}

func (e *RecordError) Error() string {
	if e.OccurredAt.IsZero() {
		return fmt.Sprintf("entry %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("entry %d (%s): %v", e.Index, e.OccurredAt.Format(time.RFC3339), e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
