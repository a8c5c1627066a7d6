package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHandleMessage_LogsBooking(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	body, err := json.Marshal(BookingConfirmedEvent{
		BookingID:     "7b0c2f1e-0000-5000-8000-000000000000",
		ShowtimeID:    42,
		SessionID:     "sess-a",
		CustomerEmail: "a@example.com",
		SeatIDs:       []uint64{3, 4},
		ConfirmedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, handleMessage(zap.New(core), body))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "booking confirmed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "7b0c2f1e-0000-5000-8000-000000000000", fields["booking_id"])
	assert.Equal(t, uint64(42), fields["showtime_id"])
	assert.Equal(t, "a@example.com", fields["customer_email"])
}

func TestHandleMessage_RejectsBadPayloads(t *testing.T) {
	log := zap.NewNop()
	assert.Error(t, handleMessage(log, []byte("{not json")))
	assert.Error(t, handleMessage(log, []byte(`{"booking_id":"x","seat_ids":[]}`)))
	assert.Error(t, handleMessage(log, []byte(`{"seat_ids":[1]}`)))
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishSeatEvent(context.Background(), SeatEvent{Type: SeatHeld}))
	assert.NoError(t, p.Close())
}
