package model

import "time"

// SeatState is the lifecycle state of a seat for one showtime.  AVAILABLE is
// never stored: the absence of a record means the seat is free.
type SeatState string

const (
	SeatAvailable SeatState = "AVAILABLE"
	SeatHeld      SeatState = "HELD"
	SeatSold      SeatState = "SOLD"
)

// HoldRecord is a soft claim on one seat for one showtime.  A HELD record
// is live until ExpiresAt; a SOLD record is terminal.
//
// Fields:
//  ShowtimeID, SeatID – composite key.
//  SessionID          – opaque browser session that owns the claim.
//  State              – HELD or SOLD.
//  HeldAt             – when the session (re)claimed the seat.
//  ExpiresAt          – end of the hold; refreshed by Extend.
//  SoldAt             – set once the seat is confirmed.
//  CustomerEmail      – optional correlation value, never used for auth.
type HoldRecord struct {
	ShowtimeID    uint64
	SeatID        uint64
	SessionID     string
	State         SeatState
	HeldAt        time.Time
	ExpiresAt     time.Time
	SoldAt        time.Time
	CustomerEmail string
}

// IsLive reports whether the record still blocks other sessions at now.
// SOLD records are always live; HELD records are live strictly before
// ExpiresAt.
func (h *HoldRecord) IsLive(now time.Time) bool {
	if h.State == SeatSold {
		return true
	}
	return h.State == SeatHeld && h.ExpiresAt.After(now)
}

// OwnedBy reports whether the record is a live hold of sessionID.
func (h *HoldRecord) OwnedBy(sessionID string, now time.Time) bool {
	return h.State == SeatHeld && h.SessionID == sessionID && h.ExpiresAt.After(now)
}

// SeatStatus is the snapshot view of one non-available seat.
type SeatStatus struct {
	SeatID         uint64
	State          SeatState
	OwnerSessionID string
	ExpiresAt      time.Time
}

// Status converts a record into its snapshot view.
func (h *HoldRecord) Status() SeatStatus {
	st := SeatStatus{SeatID: h.SeatID, State: h.State, OwnerSessionID: h.SessionID}
	if h.State == SeatHeld {
		st.ExpiresAt = h.ExpiresAt
	}
	return st
}
