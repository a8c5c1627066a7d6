package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// CachedCatalog keeps showtime inventories in Redis in front of a slower
// catalog.  Concurrent misses for the same showtime share one load.  Redis
// failures degrade to the underlying catalog; they are never surfaced.
type CachedCatalog struct {
	next   SeatCatalog
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	group  singleflight.Group
}

// NewCachedCatalog wraps next.  A non-positive ttl defaults to ten minutes.
func NewCachedCatalog(next SeatCatalog, rdb redis.UniversalClient, ttl time.Duration, prefix string) *CachedCatalog {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if prefix == "" {
		prefix = "catalog"
	}
	return &CachedCatalog{next: next, rdb: rdb, ttl: ttl, prefix: prefix}
}

func (c *CachedCatalog) key(showtimeID uint64) string {
	return fmt.Sprintf("%s:showtime:%d:seats", c.prefix, showtimeID)
}

// SeatsForShowtime serves from Redis when possible and fills the cache on
// a miss.  Unknown showtimes are not cached.
func (c *CachedCatalog) SeatsForShowtime(ctx context.Context, showtimeID uint64) ([]model.Seat, error) {
	key := c.key(showtimeID)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var seats []model.Seat
		if err := json.Unmarshal(raw, &seats); err == nil {
			return seats, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		seats, err := c.next.SeatsForShowtime(ctx, showtimeID)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(seats); err == nil {
			_ = c.rdb.Set(ctx, key, raw, c.ttl).Err()
		}
		return seats, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]model.Seat(nil), v.([]model.Seat)...), nil
}

// Invalidate drops the cached inventory of a showtime.
func (c *CachedCatalog) Invalidate(ctx context.Context, showtimeID uint64) error {
	return c.rdb.Del(ctx, c.key(showtimeID)).Err()
}

var _ SeatCatalog = (*CachedCatalog)(nil)
