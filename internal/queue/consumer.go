package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// StartBookingConsumer connects to RabbitMQ, declares the booking.confirmed
// queue and logs one structured line per confirmed booking.  It runs a
// reconnect loop with capped backoff and returns only when ctx is done.
// Malformed messages are rejected without requeue so a bad payload cannot
// spin the consumer.
func StartBookingConsumer(ctx context.Context, url string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("booking-consumer")

	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(BookingConfirmedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(BookingConfirmedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handleMessage(log, d.Body); err != nil {
				log.Error("handle message failed", zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func handleMessage(log *zap.Logger, body []byte) error {
	var ev BookingConfirmedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.BookingID == "" || len(ev.SeatIDs) == 0 {
		return errors.New("booking event without id or seats")
	}
	log.Info("booking confirmed",
		zap.String("booking_id", ev.BookingID),
		zap.Uint64("showtime_id", ev.ShowtimeID),
		zap.String("session_id", ev.SessionID),
		zap.String("customer_email", ev.CustomerEmail),
		zap.String("payment_ref", ev.PaymentRef),
		zap.Uint64s("seat_ids", ev.SeatIDs),
		zap.Time("confirmed_at", ev.ConfirmedAt),
	)
	return nil
}
