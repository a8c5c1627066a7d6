package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/clock"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// showtimeHolds is the critical section for one showtime.  Every group
// operation, snapshot and sweep on the showtime runs under mu, which is
// what serialises an Extend against an expiry eviction of the same seat.
type showtimeHolds struct {
	mu    sync.Mutex
	seats map[uint64]*model.HoldRecord
}

// MemoryHoldStore keeps hold records in process memory.  It is suitable
// for a single coordinator instance; horizontally scaled deployments use
// RedisHoldStore instead.
type MemoryHoldStore struct {
	clock clock.Clock

	mu    sync.RWMutex
	shows map[uint64]*showtimeHolds
}

// NewMemoryHoldStore returns an empty store driven by clk.
func NewMemoryHoldStore(clk clock.Clock) *MemoryHoldStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryHoldStore{clock: clk, shows: make(map[uint64]*showtimeHolds)}
}

// shard returns the critical section of a showtime, creating it when
// create is set.  Shards are never removed so a pointer obtained here
// stays valid.
func (s *MemoryHoldStore) shard(showtimeID uint64, create bool) *showtimeHolds {
	s.mu.RLock()
	sh := s.shows[showtimeID]
	s.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh = s.shows[showtimeID]; sh == nil {
		sh = &showtimeHolds{seats: make(map[uint64]*model.HoldRecord)}
		s.shows[showtimeID] = sh
	}
	return sh
}

func (s *MemoryHoldStore) TryHoldAll(ctx context.Context, claim HoldClaim) ([]model.HoldRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := uniqueIDs(claim.SeatIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	sh := s.shard(claim.ShowtimeID, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	now := s.clock.Now()

	// validate every seat before touching any of them
	var conflicts []uint64
	for _, id := range ids {
		if rec, ok := sh.seats[id]; ok && rec.IsLive(now) && !rec.OwnedBy(claim.SessionID, now) {
			conflicts = append(conflicts, id)
		}
	}
	if len(conflicts) > 0 {
		return nil, NewSeatError(ErrConflict, conflicts)
	}
	if claim.MaxPerSession > 0 {
		requested := make(map[uint64]struct{}, len(ids))
		for _, id := range ids {
			requested[id] = struct{}{}
		}
		total := len(ids)
		for id, rec := range sh.seats {
			if _, ok := requested[id]; !ok && rec.OwnedBy(claim.SessionID, now) {
				total++
			}
		}
		if total > claim.MaxPerSession {
			return nil, ErrSeatLimit
		}
	}

	expiresAt := now.Add(claim.TTL)
	out := make([]model.HoldRecord, 0, len(ids))
	for _, id := range ids {
		rec := &model.HoldRecord{
			ShowtimeID:    claim.ShowtimeID,
			SeatID:        id,
			SessionID:     claim.SessionID,
			State:         model.SeatHeld,
			HeldAt:        now,
			ExpiresAt:     expiresAt,
			CustomerEmail: claim.CustomerEmail,
		}
		sh.seats[id] = rec
		out = append(out, *rec)
	}
	return out, nil
}

func (s *MemoryHoldStore) ExtendAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, sessionID string, extension time.Duration) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	ids := uniqueIDs(seatIDs)
	sh := s.shard(showtimeID, false)
	if sh == nil {
		return time.Time{}, NewSeatError(ErrNotHeld, ids)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	now := s.clock.Now()

	var missing []uint64
	for _, id := range ids {
		if rec, ok := sh.seats[id]; !ok || !rec.OwnedBy(sessionID, now) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return time.Time{}, NewSeatError(ErrNotHeld, missing)
	}
	expiresAt := now.Add(extension)
	for _, id := range ids {
		sh.seats[id].ExpiresAt = expiresAt
	}
	return expiresAt, nil
}

func (s *MemoryHoldStore) ReleaseAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, sessionID string) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shard(showtimeID, false)
	if sh == nil {
		return nil, nil
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	owned := func(rec *model.HoldRecord) bool {
		return rec.State == model.SeatHeld && rec.SessionID == sessionID
	}
	var released []uint64
	if len(seatIDs) == 0 {
		for id, rec := range sh.seats {
			if owned(rec) {
				delete(sh.seats, id)
				released = append(released, id)
			}
		}
	} else {
		for _, id := range uniqueIDs(seatIDs) {
			if rec, ok := sh.seats[id]; ok && owned(rec) {
				delete(sh.seats, id)
				released = append(released, id)
			}
		}
	}
	sort.Slice(released, func(i, j int) bool { return released[i] < released[j] })
	return released, nil
}

func (s *MemoryHoldStore) ConfirmAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, sessionID string) ([]model.HoldRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := uniqueIDs(seatIDs)
	sh := s.shard(showtimeID, false)
	if sh == nil {
		return nil, NewSeatError(ErrConflict, ids)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	now := s.clock.Now()

	var conflicts, sold []uint64
	for _, id := range ids {
		rec, ok := sh.seats[id]
		switch {
		case !ok:
			conflicts = append(conflicts, id)
		case rec.State == model.SeatSold && rec.SessionID == sessionID:
			sold = append(sold, id)
		case !rec.OwnedBy(sessionID, now):
			conflicts = append(conflicts, id)
		}
	}
	if len(conflicts) > 0 {
		return nil, NewSeatError(ErrConflict, conflicts)
	}
	if len(sold) > 0 && (len(sold) != len(ids) || !sh.isSaleBatch(ids, sessionID)) {
		return nil, NewSeatError(ErrConflict, sold)
	}
	out := make([]model.HoldRecord, 0, len(ids))
	for _, id := range ids {
		rec := sh.seats[id]
		if rec.State == model.SeatHeld {
			rec.State = model.SeatSold
			rec.SoldAt = now
		}
		out = append(out, *rec)
	}
	return out, nil
}

// isSaleBatch reports whether ids are exactly the seats one earlier
// confirm sold to the session.  Seats sold together share their SoldAt.
func (sh *showtimeHolds) isSaleBatch(ids []uint64, sessionID string) bool {
	soldAt := sh.seats[ids[0]].SoldAt
	for _, id := range ids {
		if !sh.seats[id].SoldAt.Equal(soldAt) {
			return false
		}
	}
	n := 0
	for _, rec := range sh.seats {
		if rec.State == model.SeatSold && rec.SessionID == sessionID && rec.SoldAt.Equal(soldAt) {
			n++
		}
	}
	return n == len(ids)
}

func (s *MemoryHoldStore) Snapshot(ctx context.Context, showtimeID uint64) (map[uint64]model.SeatStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[uint64]model.SeatStatus)
	sh := s.shard(showtimeID, false)
	if sh == nil {
		return out, nil
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	now := s.clock.Now()
	for id, rec := range sh.seats {
		if rec.IsLive(now) {
			out[id] = rec.Status()
		}
	}
	return out, nil
}

func (s *MemoryHoldStore) SweepExpired(ctx context.Context) ([]model.HoldRecord, error) {
	s.mu.RLock()
	shards := make([]*showtimeHolds, 0, len(s.shows))
	for _, sh := range s.shows {
		shards = append(shards, sh)
	}
	s.mu.RUnlock()

	var expired []model.HoldRecord
	for _, sh := range shards {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		sh.mu.Lock()
		now := s.clock.Now()
		for id, rec := range sh.seats {
			if rec.State == model.SeatHeld && !rec.ExpiresAt.After(now) {
				expired = append(expired, *rec)
				delete(sh.seats, id)
			}
		}
		sh.mu.Unlock()
	}
	return expired, nil
}

var _ HoldStore = (*MemoryHoldStore)(nil)
