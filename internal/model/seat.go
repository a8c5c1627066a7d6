package model

import "strings"

// Category classifies a seat.  The hall schema historically stored
// ACCESSIBLE for wheelchair places; ParseCategory folds it into
// CategoryWheelchair.
type Category string

const (
	CategoryStandard   Category = "STANDARD"
	CategoryVIP        Category = "VIP"
	CategoryCouple     Category = "COUPLE"
	CategoryWheelchair Category = "WHEELCHAIR"
)

// ParseCategory maps a stored seat_type value to a Category.  Unknown
// values are treated as STANDARD.
func ParseCategory(s string) Category {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VIP":
		return CategoryVIP
	case "COUPLE":
		return CategoryCouple
	case "WHEELCHAIR", "ACCESSIBLE":
		return CategoryWheelchair
	default:
		return CategoryStandard
	}
}

// Seat is immutable reference data describing one seat of the hall a
// showtime is screened in.  Seats are owned by the seat catalog; the hold
// coordinator only reads them.
//
// Fields:
//  ShowtimeID – showtime whose inventory this seat belongs to.
//  SeatID     – stable seat identifier within the hall.
//  Row        – row label (A, B, AA ...).
//  Number     – position in the row, 1-based.
//  Category   – STANDARD, VIP, COUPLE or WHEELCHAIR.
type Seat struct {
	ShowtimeID uint64   `json:"showtimeId"`
	SeatID     uint64   `json:"seatId"`
	Row        string   `json:"row"`
	Number     uint32   `json:"number"`
	Category   Category `json:"category"`
}
