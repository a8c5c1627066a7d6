package repository

import (
	"context"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// HoldClaim describes a group hold request as seen by a HoldStore.
//
// Fields:
//  ShowtimeID    – showtime whose seats are claimed.
//  SeatIDs       – seats to hold; all of them or none are claimed.
//  SessionID     – claiming session.
//  CustomerEmail – optional correlation value stored on each record.
//  TTL           – lifetime of the hold from now.
//  MaxPerSession – cap on the session's live holds on the showtime after
//                  the claim; zero disables the check.
type HoldClaim struct {
	ShowtimeID    uint64
	SeatIDs       []uint64
	SessionID     string
	CustomerEmail string
	TTL           time.Duration
	MaxPerSession int
}

// HoldStore is the authoritative table of hold records and the only
// component allowed to mutate them.  Every group operation is atomic per
// showtime: either every seat in the call transitions or none does, and
// no other caller observes an intermediate state.  Operations on
// different showtimes never contend.
type HoldStore interface {
	// TryHoldAll claims every seat for the session.  Seats already held by
	// the same session are refreshed.  A SOLD seat or a seat held by another
	// live session yields a *SeatError wrapping ErrConflict naming every
	// contested seat; a breached per-session cap yields ErrSeatLimit.
	TryHoldAll(ctx context.Context, claim HoldClaim) ([]model.HoldRecord, error)

	// ExtendAll moves the expiry of every seat to now+extension.  All seats
	// must be live holds of the session, otherwise a *SeatError wrapping
	// ErrNotHeld is returned and nothing changes.
	ExtendAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, sessionID string, extension time.Duration) (time.Time, error)

	// ReleaseAll removes the session's HELD records among seatIDs and
	// returns the seats it released.  Seats owned by others, sold seats and
	// absent records are ignored.  An empty seatIDs releases every hold the
	// session has on the showtime.
	ReleaseAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, sessionID string) ([]uint64, error)

	// ConfirmAll promotes the session's live holds to SOLD.  A request that
	// names exactly the seats of an earlier confirm by the same session is
	// a replay and returns the SOLD records unchanged.  Any other seat,
	// including a SOLD seat mixed into a new confirm, yields a *SeatError
	// wrapping ErrConflict and nothing changes.
	ConfirmAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, sessionID string) ([]model.HoldRecord, error)

	// Snapshot returns the non-available seats of a showtime.  Expired holds
	// are omitted even when they have not been swept yet.
	Snapshot(ctx context.Context, showtimeID uint64) (map[uint64]model.SeatStatus, error)

	// SweepExpired deletes every expired HELD record and returns them.
	SweepExpired(ctx context.Context) ([]model.HoldRecord, error)
}

// uniqueIDs drops duplicate seat ids while keeping the first occurrence.
func uniqueIDs(ids []uint64) []uint64 {
	out := make([]uint64, 0, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
