package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends domain events to the broker.  Callers treat publishing
// as best effort: an error is logged and never fails the request.
type Publisher interface {
	PublishSeatEvent(ctx context.Context, ev SeatEvent) error
	PublishBookingConfirmed(ctx context.Context, ev BookingConfirmedEvent) error
	Close() error
}

// NopPublisher drops every event.  It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishSeatEvent(context.Context, SeatEvent) error { return nil }

func (NopPublisher) PublishBookingConfirmed(context.Context, BookingConfirmedEvent) error {
	return nil
}

func (NopPublisher) Close() error { return nil }

// redialCooldown keeps a broker outage from turning every request into a
// dial attempt.
const redialCooldown = 5 * time.Second

// AMQPPublisher keeps one connection and channel open and re-dials lazily
// after the broker drops it.  It is safe for concurrent use.
type AMQPPublisher struct {
	url string
	log *zap.Logger

	mu         sync.Mutex
	conn       *amqp.Connection
	ch         *amqp.Channel
	lastDialAt time.Time
}

// NewAMQPPublisher dials url and declares the event queues.  A failed
// initial dial is not fatal; the publisher retries on the next publish.
func NewAMQPPublisher(url string, log *zap.Logger) *AMQPPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &AMQPPublisher{url: url, log: log}
	p.mu.Lock()
	if err := p.connectLocked(); err != nil {
		log.Warn("rabbitmq: initial dial failed", zap.Error(err))
	}
	p.mu.Unlock()
	return p
}

func (p *AMQPPublisher) connectLocked() error {
	p.lastDialAt = time.Now()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("channel open: %w", err)
	}
	for _, name := range []string{SeatEventsQueue, BookingConfirmedQueue} {
		// durable so messages survive broker restarts
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	if time.Since(p.lastDialAt) < redialCooldown {
		return nil, fmt.Errorf("rabbitmq: broker unavailable")
	}
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p.ch, nil
}

func (p *AMQPPublisher) publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	// default exchange, routing key = queue name
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}

// PublishSeatEvent sends ev to the seat.events queue.
func (p *AMQPPublisher) PublishSeatEvent(ctx context.Context, ev SeatEvent) error {
	return p.publish(ctx, SeatEventsQueue, ev)
}

// PublishBookingConfirmed sends ev to the booking.confirmed queue.
func (p *AMQPPublisher) PublishBookingConfirmed(ctx context.Context, ev BookingConfirmedEvent) error {
	return p.publish(ctx, BookingConfirmedQueue, ev)
}

// Close shuts the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*AMQPPublisher)(nil)
)
