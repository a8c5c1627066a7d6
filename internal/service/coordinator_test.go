package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-hold/internal/clock"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/queue"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/retry"
)

const showtime = uint64(5)

var baseTime = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

// recordingPublisher keeps every published event in memory.
type recordingPublisher struct {
	mu       sync.Mutex
	seats    []queue.SeatEvent
	bookings []queue.BookingConfirmedEvent
	err      error
}

func (p *recordingPublisher) PublishSeatEvent(_ context.Context, ev queue.SeatEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seats = append(p.seats, ev)
	return p.err
}

func (p *recordingPublisher) PublishBookingConfirmed(_ context.Context, ev queue.BookingConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bookings = append(p.bookings, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) seatTypes() []queue.SeatEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.SeatEventType, 0, len(p.seats))
	for _, ev := range p.seats {
		out = append(out, ev.Type)
	}
	return out
}

// flakyStore fails the first failures calls of every operation with a
// transport error before delegating.
type flakyStore struct {
	repository.HoldStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("dial tcp: connection refused")
	}
	return nil
}

func (s *flakyStore) TryHoldAll(ctx context.Context, c repository.HoldClaim) ([]model.HoldRecord, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	return s.HoldStore.TryHoldAll(ctx, c)
}

func (s *flakyStore) ReleaseAll(ctx context.Context, id uint64, seats []uint64, session string) ([]uint64, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	return s.HoldStore.ReleaseAll(ctx, id, seats, session)
}

type fixture struct {
	coord  *Coordinator
	store  *repository.MemoryHoldStore
	clock  *clock.Fake
	events *recordingPublisher
}

func catalogSeats() []model.Seat {
	seats := make([]model.Seat, 0, 20)
	for i := uint64(1); i <= 20; i++ {
		row := "A"
		if i > 10 {
			row = "B"
		}
		seats = append(seats, model.Seat{ShowtimeID: showtime, SeatID: i, Row: row, Number: uint32((i-1)%10 + 1), Category: model.CategoryStandard})
	}
	return seats
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
}

func newFixture(t *testing.T, wrap func(repository.HoldStore) repository.HoldStore) fixture {
	t.Helper()
	clk := clock.NewFake(baseTime)
	store := repository.NewMemoryHoldStore(clk)
	var hs repository.HoldStore = store
	if wrap != nil {
		hs = wrap(store)
	}
	events := &recordingPublisher{}
	coord := NewCoordinator(hs, repository.NewStaticCatalog(catalogSeats()), DefaultHoldPolicy(),
		WithClock(clk), WithPublisher(events), WithRetry(fastRetry()))
	return fixture{coord: coord, store: store, clock: clk, events: events}
}

func TestHold_ReturnsExpiryAndRenewHint(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.coord.Hold(context.Background(), HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{3, 1, 3}, SessionID: "sess-a"})
	require.NoError(t, err)

	assert.Equal(t, []uint64{1, 3}, res.SeatIDs)
	assert.Equal(t, baseTime.Add(5*time.Minute), res.ExpiresAt)
	assert.Equal(t, baseTime.Add(4*time.Minute), res.RenewAt)
	assert.Equal(t, 5*time.Minute, res.TTL)
	assert.Equal(t, []queue.SeatEventType{queue.SeatHeld}, f.events.seatTypes())
}

func TestHold_ValidatesRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := map[string]HoldRequest{
		"no seats":      {ShowtimeID: showtime, SessionID: "sess-a"},
		"zero seat":     {ShowtimeID: showtime, SeatIDs: []uint64{0}, SessionID: "sess-a"},
		"empty session": {ShowtimeID: showtime, SeatIDs: []uint64{1}},
		"bad session":   {ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "has space"},
		"zero showtime": {SeatIDs: []uint64{1}, SessionID: "sess-a"},
		"eleven seats":  {ShowtimeID: showtime, SeatIDs: []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, SessionID: "sess-a"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.coord.Hold(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Empty(t, f.events.seatTypes())

	snap, err := f.store.Snapshot(ctx, showtime)
	require.NoError(t, err)
	assert.Empty(t, snap, "rejected requests must not write holds")
}

func TestHold_TenSeatsAllowed(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.coord.Hold(context.Background(), HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, SessionID: "sess-a"})
	require.NoError(t, err)
	assert.Len(t, res.SeatIDs, 10)
}

func TestHold_UnknownSeatAndShowtime(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1, 99, 98}, SessionID: "sess-a"})
	require.ErrorIs(t, err, ErrUnknownSeat)
	assert.Equal(t, []uint64{98, 99}, SeatIDsOf(err))

	_, err = f.coord.Hold(ctx, HoldRequest{ShowtimeID: 404, SeatIDs: []uint64{1}, SessionID: "sess-a"})
	assert.ErrorIs(t, err, ErrShowtimeNotFound)
}

func TestHold_ConflictAndSessionCap(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1, 2}, SessionID: "sess-a"})
	require.NoError(t, err)
	_, err = f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{2, 3}, SessionID: "sess-b"})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, []uint64{2}, SeatIDsOf(err))

	_, err = f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{11, 12, 13, 14, 15, 16, 17, 18, 19}, SessionID: "sess-a"})
	assert.ErrorIs(t, err, ErrSeatLimit)
}

func TestHold_RetriesTransientStoreErrors(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, func(s repository.HoldStore) repository.HoldStore {
		flaky = &flakyStore{HoldStore: s, failures: 2}
		return flaky
	})

	_, err := f.coord.Hold(context.Background(), HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a"})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
}

func TestHold_ReportsStoreUnavailableAfterRetries(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, func(s repository.HoldStore) repository.HoldStore {
		flaky = &flakyStore{HoldStore: s, failures: 100}
		return flaky
	})

	_, err := f.coord.Hold(context.Background(), HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a"})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 3, flaky.calls)
	assert.Empty(t, f.events.seatTypes())
}

func TestHold_DomainErrorsAreNotRetried(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, func(s repository.HoldStore) repository.HoldStore {
		flaky = &flakyStore{HoldStore: s}
		return flaky
	})
	ctx := context.Background()
	_, err := f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a"})
	require.NoError(t, err)

	_, err = f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-b"})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, flaky.calls)
}

func TestHold_PublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.events.err = errors.New("broker down")

	_, err := f.coord.Hold(context.Background(), HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a"})
	assert.NoError(t, err)
}

func TestExtend_ClampsAndResetsExpiry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1, 2}, SessionID: "sess-a"})
	require.NoError(t, err)

	f.clock.Set(baseTime.Add(240 * time.Second))
	res, err := f.coord.Extend(ctx, ExtendRequest{ShowtimeID: showtime, SeatIDs: []uint64{1, 2}, SessionID: "sess-a", AdditionalMinutes: 60})
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(540*time.Second), res.ExpiresAt)
	assert.Equal(t, baseTime.Add(480*time.Second), res.RenewAt)

	res, err = f.coord.Extend(ctx, ExtendRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a", AdditionalMinutes: 2})
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(240*time.Second+2*time.Minute), res.ExpiresAt)

	_, err = f.coord.Extend(ctx, ExtendRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a", AdditionalMinutes: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	f.clock.Set(baseTime.Add(500 * time.Second))
	av, err := f.coord.Availability(ctx, showtime, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, model.SeatHeld, av.Seats[1].Status)
}

func TestExtend_NotHeldNamesSeats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a"})
	require.NoError(t, err)

	_, err = f.coord.Extend(ctx, ExtendRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-b"})
	require.ErrorIs(t, err, ErrNotHeld)
	assert.Equal(t, []uint64{1}, SeatIDsOf(err))

	f.clock.Advance(301 * time.Second)
	_, err = f.coord.Extend(ctx, ExtendRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a"})
	assert.ErrorIs(t, err, ErrNotHeld)
}

func TestRelease_IsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1, 2}, SessionID: "sess-a"})
	require.NoError(t, err)

	released, err := f.coord.Release(ctx, ReleaseRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, released)

	released, err = f.coord.Release(ctx, ReleaseRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a"})
	require.NoError(t, err)
	assert.Empty(t, released)
	assert.NotNil(t, released)

	released, err = f.coord.Release(ctx, ReleaseRequest{ShowtimeID: showtime, SessionID: "sess-a"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, released)

	assert.Equal(t, []queue.SeatEventType{queue.SeatHeld, queue.SeatReleased, queue.SeatReleased}, f.events.seatTypes())
}

func TestRelease_RetriesStore(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, func(s repository.HoldStore) repository.HoldStore {
		flaky = &flakyStore{HoldStore: s, failures: 1}
		return flaky
	})
	_, err := f.coord.Release(context.Background(), ReleaseRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a"})
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.calls)
}

func TestConfirm_RequiresOwnershipOfEverySeat(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1, 2}, SessionID: "sess-a", CustomerEmail: "a@example.com"})
	require.NoError(t, err)
	_, err = f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{3}, SessionID: "sess-b"})
	require.NoError(t, err)

	_, err = f.coord.Confirm(ctx, ConfirmRequest{ShowtimeID: showtime, SeatIDs: []uint64{1, 2, 3}, SessionID: "sess-a"})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, []uint64{3}, SeatIDsOf(err))

	f.clock.Advance(time.Minute)
	res, err := f.coord.Confirm(ctx, ConfirmRequest{ShowtimeID: showtime, SeatIDs: []uint64{2, 1}, SessionID: "sess-a"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, res.SeatIDs)
	assert.Equal(t, baseTime.Add(time.Minute), res.ConfirmedAt)
	assert.Equal(t, "a@example.com", res.CustomerEmail)
}

func TestAvailability_HidesOtherSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{1}, SessionID: "sess-a"})
	require.NoError(t, err)
	_, err = f.coord.Hold(ctx, HoldRequest{ShowtimeID: showtime, SeatIDs: []uint64{2}, SessionID: "sess-b"})
	require.NoError(t, err)
	_, err = f.coord.Confirm(ctx, ConfirmRequest{ShowtimeID: showtime, SeatIDs: []uint64{2}, SessionID: "sess-b"})
	require.NoError(t, err)

	av, err := f.coord.Availability(ctx, showtime, "sess-a")
	require.NoError(t, err)
	require.Len(t, av.Seats, 20)

	mine := av.Seats[0]
	assert.Equal(t, model.SeatHeld, mine.Status)
	assert.True(t, mine.HeldByYou)
	assert.Equal(t, "sess-a", mine.OwnerSessionID)
	require.NotNil(t, mine.ExpiresAt)

	theirs := av.Seats[1]
	assert.Equal(t, model.SeatSold, theirs.Status)
	assert.False(t, theirs.HeldByYou)
	assert.Empty(t, theirs.OwnerSessionID)
	assert.Nil(t, theirs.ExpiresAt)

	assert.Equal(t, model.SeatAvailable, av.Seats[2].Status)

	anon, err := f.coord.Availability(ctx, showtime, "")
	require.NoError(t, err)
	assert.False(t, anon.Seats[0].HeldByYou)
	assert.Empty(t, anon.Seats[0].OwnerSessionID)

	f.clock.Advance(301 * time.Second)
	av, err = f.coord.Availability(ctx, showtime, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, av.Seats[0].Status)
	assert.False(t, av.Seats[0].HeldByYou)

	_, err = f.coord.Availability(ctx, 404, "sess-a")
	assert.ErrorIs(t, err, ErrShowtimeNotFound)
}

func TestHoldPolicy_Defaults(t *testing.T) {
	p := HoldPolicy{TTL: 30 * time.Second}.withDefaults()
	assert.Equal(t, 10, p.MaxSeats)
	assert.Equal(t, 6*time.Second, p.RenewThreshold)
	assert.Equal(t, 5*time.Minute, p.Extension)
}
