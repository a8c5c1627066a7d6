package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/clock"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/queue"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
)

// DefaultSweepInterval is used when no interval is configured.
const DefaultSweepInterval = 15 * time.Second

// Sweeper periodically removes expired holds from the store.  Reads
// already treat expired holds as available, so the sweeper only reclaims
// memory and announces the expiries.
type Sweeper struct {
	store    repository.HoldStore
	events   queue.Publisher
	interval time.Duration
	log      *zap.Logger
	clock    clock.Clock
}

// NewSweeper builds a Sweeper.  A nil publisher drops the events.
func NewSweeper(store repository.HoldStore, events queue.Publisher, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if events == nil {
		events = queue.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{store: store, events: events, interval: interval, log: log.Named("sweeper"), clock: clock.Real{}}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce removes the expired holds and publishes one seat.expired event
// per showtime and session.  It returns the number of seats reclaimed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expired, err := s.store.SweepExpired(ctx)
	if len(expired) > 0 {
		s.announce(ctx, expired)
		s.log.Debug("reclaimed expired holds", zap.Int("seats", len(expired)))
	}
	return len(expired), err
}

type sweepGroup struct {
	showtimeID uint64
	sessionID  string
}

func (s *Sweeper) announce(ctx context.Context, expired []model.HoldRecord) {
	groups := make(map[sweepGroup][]model.HoldRecord)
	for _, rec := range expired {
		k := sweepGroup{rec.ShowtimeID, rec.SessionID}
		groups[k] = append(groups[k], rec)
	}
	now := s.clock.Now()
	for k, recs := range groups {
		ids := make([]uint64, 0, len(recs))
		var expiresAt time.Time
		for _, r := range recs {
			ids = append(ids, r.SeatID)
			if r.ExpiresAt.After(expiresAt) {
				expiresAt = r.ExpiresAt
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		ev := queue.SeatEvent{
			ID:         uuid.NewString(),
			Type:       queue.SeatExpired,
			ShowtimeID: k.showtimeID,
			SessionID:  k.sessionID,
			SeatIDs:    ids,
			ExpiresAt:  &expiresAt,
			OccurredAt: now,
		}
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		if err := s.events.PublishSeatEvent(pctx, ev); err != nil {
			s.log.Warn("publish expiry event failed", zap.Uint64("showtime_id", k.showtimeID), zap.Error(err))
		}
		cancel()
	}
}
