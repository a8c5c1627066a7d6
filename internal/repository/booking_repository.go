package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// BookingRepo persists finalized bookings.  A booking groups the seats a
// session confirmed for one showtime.  Rows are keyed by a deterministic
// booking id so a retried finalization writes nothing new.
//
// Expected schema:
//
//	CREATE TABLE bookings (
//	    id             CHAR(36) PRIMARY KEY,
//	    show_id        BIGINT UNSIGNED NOT NULL,
//	    session_id     VARCHAR(128) NOT NULL,
//	    customer_email VARCHAR(255) NULL,
//	    payment_ref    VARCHAR(128) NULL,
//	    confirmed_at   DATETIME NOT NULL
//	);
//	CREATE TABLE booking_seats (
//	    booking_id CHAR(36) NOT NULL,
//	    show_id    BIGINT UNSIGNED NOT NULL,
//	    seat_id    BIGINT UNSIGNED NOT NULL,
//	    PRIMARY KEY (show_id, seat_id)
//	);
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// Record inserts the booking and its seats in one transaction.  Existing
// rows with the same keys are left untouched, which makes Record safe to
// call again after a partial failure upstream.
func (r *BookingRepo) Record(ctx context.Context, b model.Booking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const ins = `INSERT IGNORE INTO bookings (id, show_id, session_id, customer_email, payment_ref, confirmed_at)
	             VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, ins,
		b.ID, b.ShowtimeID, b.SessionID, nullable(b.CustomerEmail), nullable(b.PaymentRef),
		b.ConfirmedAt.UTC().Format("2006-01-02 15:04:05"),
	); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	if len(b.SeatIDs) > 0 {
		query := `INSERT IGNORE INTO booking_seats (booking_id, show_id, seat_id) VALUES `
		args := make([]interface{}, 0, len(b.SeatIDs)*3)
		for i, seatID := range b.SeatIDs {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?)"
			args = append(args, b.ID, b.ShowtimeID, seatID)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert booking seats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit booking tx: %w", err)
	}
	committed = true
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
