package model

import "time"

// Booking is the durable record written once a session's held seats have
// been promoted to SOLD.
//
// Fields:
//  ID            – deterministic booking id (UUID) so retries collapse.
//  ShowtimeID    – showtime the seats belong to.
//  SessionID     – session that held and confirmed the seats.
//  CustomerEmail – optional contact address supplied by the finalizer.
//  PaymentRef    – external payment reference, if any.
//  SeatIDs       – confirmed seats, sorted ascending.
//  ConfirmedAt   – when the seats became SOLD.
type Booking struct {
	ID            string    `json:"bookingId"`
	ShowtimeID    uint64    `json:"showtimeId"`
	SessionID     string    `json:"sessionId"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	PaymentRef    string    `json:"paymentRef,omitempty"`
	SeatIDs       []uint64  `json:"seatIds"`
	ConfirmedAt   time.Time `json:"confirmedAt"`
}
