// Package repository defines the hold store, the seat catalog and the
// booking records, together with the error values shared across them.
// These sentinel values allow higher layers such as the coordinator and
// the handlers to distinguish contention from infrastructure failures.
package repository

import (
	"errors"
	"fmt"
	"sort"
)

// ErrConflict is returned when a seat is SOLD or held by another live
// session.  It is an expected outcome under contention; handlers translate
// it into an HTTP 409 response carrying the contested seat ids.
var ErrConflict = errors.New("conflict")

// ErrNotHeld is returned when an extension targets seats the session does
// not currently hold (expired, released or owned by someone else).
var ErrNotHeld = errors.New("not held")

// ErrSeatLimit is returned when a hold would leave the session with more
// live holds on the showtime than the configured cap.
var ErrSeatLimit = errors.New("seat limit exceeded")

// ErrShowtimeNotFound is returned by catalogs for unknown showtimes.
var ErrShowtimeNotFound = errors.New("showtime not found")

// SeatError attaches the offending seat ids to a sentinel error.  Use
// errors.Is against the sentinel and errors.As to read SeatIDs.
type SeatError struct {
	Err     error
	SeatIDs []uint64
}

// NewSeatError builds a SeatError with a sorted copy of ids.
func NewSeatError(err error, ids []uint64) *SeatError {
	cp := append([]uint64(nil), ids...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	return &SeatError{Err: err, SeatIDs: cp}
}

func (e *SeatError) Error() string { return fmt.Sprintf("%v: seats %v", e.Err, e.SeatIDs) }

func (e *SeatError) Unwrap() error { return e.Err }

// SeatIDsOf returns the seat ids carried by err, or nil.
func SeatIDsOf(err error) []uint64 {
	var se *SeatError
	if errors.As(err, &se) {
		return se.SeatIDs
	}
	return nil
}
