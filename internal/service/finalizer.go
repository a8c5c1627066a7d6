package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/queue"
)

// BookingRecorder persists confirmed bookings.  Record must be idempotent
// on Booking.ID.
type BookingRecorder interface {
	Record(ctx context.Context, b model.Booking) error
}

// bookingNamespace seeds the name-based booking ids.
var bookingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:cinema-seat-hold:booking"))

// BookingID derives the booking id of a confirmation.  The same showtime,
// session and seat set always yields the same id so a retried confirmation
// maps to the same booking.
func BookingID(showtimeID uint64, sessionID string, seatIDs []uint64) string {
	ids := sortedIDs(seatIDs)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	name := fmt.Sprintf("%d|%s|%s", showtimeID, sessionID, strings.Join(parts, ","))
	return uuid.NewSHA1(bookingNamespace, []byte(name)).String()
}

// FinalizeRequest is issued by the payment side once the customer has
// paid for the held seats.
type FinalizeRequest struct {
	ShowtimeID    uint64
	SeatIDs       []uint64
	SessionID     string
	CustomerEmail string
	PaymentRef    string
}

// Finalizer turns a session's held seats into a booking: it confirms the
// holds, records the booking and publishes booking.confirmed.
type Finalizer struct {
	coord    *Coordinator
	recorder BookingRecorder
	events   queue.Publisher
	log      *zap.Logger
}

// NewFinalizer builds a Finalizer.  recorder may be nil when bookings are
// only announced on the broker.
func NewFinalizer(coord *Coordinator, recorder BookingRecorder, events queue.Publisher, log *zap.Logger) *Finalizer {
	if coord == nil {
		panic("nil coordinator passed to NewFinalizer")
	}
	if events == nil {
		events = queue.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Finalizer{coord: coord, recorder: recorder, events: events, log: log.Named("finalizer")}
}

// Finalize confirms the seats and records the booking.  Calling it again
// with the same request returns the same booking.
func (f *Finalizer) Finalize(ctx context.Context, req FinalizeRequest) (model.Booking, error) {
	res, err := f.coord.Confirm(ctx, ConfirmRequest{
		ShowtimeID: req.ShowtimeID,
		SeatIDs:    req.SeatIDs,
		SessionID:  req.SessionID,
	})
	if err != nil {
		return model.Booking{}, err
	}

	email := req.CustomerEmail
	if email == "" {
		email = res.CustomerEmail
	}
	b := model.Booking{
		ID:            BookingID(res.ShowtimeID, res.SessionID, res.SeatIDs),
		ShowtimeID:    res.ShowtimeID,
		SessionID:     res.SessionID,
		CustomerEmail: email,
		PaymentRef:    req.PaymentRef,
		SeatIDs:       res.SeatIDs,
		ConfirmedAt:   res.ConfirmedAt,
	}

	if f.recorder != nil {
		if err := f.coord.do(ctx, "record booking", func(ctx context.Context) error {
			return f.recorder.Record(ctx, b)
		}); err != nil {
			return model.Booking{}, err
		}
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := f.events.PublishBookingConfirmed(pctx, queue.BookingConfirmedEvent{
		BookingID:     b.ID,
		ShowtimeID:    b.ShowtimeID,
		SessionID:     b.SessionID,
		CustomerEmail: b.CustomerEmail,
		PaymentRef:    b.PaymentRef,
		SeatIDs:       b.SeatIDs,
		ConfirmedAt:   b.ConfirmedAt,
	}); err != nil {
		f.log.Warn("publish booking confirmed failed", zap.String("booking_id", b.ID), zap.Error(err))
	}
	f.log.Info("booking finalized", zap.String("booking_id", b.ID), zap.Uint64("showtime_id", b.ShowtimeID), zap.Int("seats", len(b.SeatIDs)))
	return b, nil
}
