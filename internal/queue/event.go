// Package queue defines the messages exchanged over the message broker and
// the RabbitMQ publisher and consumer that carry them.
package queue

import "time"

// Queue names.  Both queues are durable.
const (
	SeatEventsQueue       = "seat.events"
	BookingConfirmedQueue = "booking.confirmed"
)

// SeatEventType names a seat state transition.
type SeatEventType string

const (
	SeatHeld     SeatEventType = "seat.held"
	SeatExtended SeatEventType = "seat.extended"
	SeatReleased SeatEventType = "seat.released"
	SeatExpired  SeatEventType = "seat.expired"
	SeatSold     SeatEventType = "seat.sold"
)

// SeatEvent is published after every successful hold mutation and for
// every batch of holds reclaimed by the sweeper.  It lets downstream
// consumers (seat maps, analytics) follow availability without polling.
type SeatEvent struct {
	ID         string        `json:"id"`
	Type       SeatEventType `json:"type"`
	ShowtimeID uint64        `json:"showtime_id"`
	SessionID  string        `json:"session_id"`
	SeatIDs    []uint64      `json:"seat_ids"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// BookingConfirmedEvent is published when a session's held seats have
// been promoted to SOLD and the booking record is written.  It carries
// enough for downstream consumers to notify the customer without querying
// the coordinator.
type BookingConfirmedEvent struct {
	BookingID     string    `json:"booking_id"`
	ShowtimeID    uint64    `json:"showtime_id"`
	SessionID     string    `json:"session_id"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	PaymentRef    string    `json:"payment_ref,omitempty"`
	SeatIDs       []uint64  `json:"seat_ids"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}
