package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// SeatRepo reads the seat inventory of a showtime from MySQL.  A showtime
// (shows row) is screened in one hall; its seats are the active seats of
// that hall.  The hold coordinator never writes these tables.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// SeatsForShowtime returns the active seats of the showtime's hall ordered
// by row label then seat number.  It returns ErrShowtimeNotFound when the
// shows row does not exist.
func (r *SeatRepo) SeatsForShowtime(ctx context.Context, showtimeID uint64) ([]model.Seat, error) {
	var hallID uint64
	err := r.db.QueryRowContext(ctx, `SELECT hall_id FROM shows WHERE id = ?`, showtimeID).Scan(&hallID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShowtimeNotFound
		}
		return nil, err
	}

	const q = `SELECT id, row_label, seat_number, seat_type
	           FROM seats
	           WHERE hall_id = ? AND is_active = 1
	           ORDER BY LENGTH(row_label), row_label, seat_number`
	rows, err := r.db.QueryContext(ctx, q, hallID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Seat
	for rows.Next() {
		var (
			s        model.Seat
			seatType string
		)
		if err := rows.Scan(&s.SeatID, &s.Row, &s.Number, &seatType); err != nil {
			return nil, err
		}
		s.ShowtimeID = showtimeID
		s.Category = model.ParseCategory(seatType)
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

var _ SeatCatalog = (*SeatRepo)(nil)
