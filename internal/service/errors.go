// Package service implements the reservation coordinator, the expiry
// sweeper and the booking finalizer on top of a HoldStore and a seat
// catalog.
package service

import (
	"errors"

	"github.com/iliyamo/cinema-seat-hold/internal/repository"
)

var (
	// ErrInvalidRequest reports a malformed request: a bad session id, an
	// empty or oversized seat list, or a zero id.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownSeat reports seat ids that are not part of the showtime's
	// inventory.  It is carried inside a *repository.SeatError.
	ErrUnknownSeat = errors.New("unknown seat")

	// ErrStoreUnavailable reports that the hold store or the catalog kept
	// failing after the bounded retries.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Store-level sentinels, re-exported so that callers only import service.
var (
	ErrConflict         = repository.ErrConflict
	ErrNotHeld          = repository.ErrNotHeld
	ErrSeatLimit        = repository.ErrSeatLimit
	ErrShowtimeNotFound = repository.ErrShowtimeNotFound
)

// SeatIDsOf returns the seat ids attached to err, if any.
func SeatIDsOf(err error) []uint64 { return repository.SeatIDsOf(err) }

// isDomainError reports whether err is an expected outcome that retrying
// cannot change.
func isDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest, ErrUnknownSeat, ErrConflict, ErrNotHeld,
		ErrSeatLimit, ErrShowtimeNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
