package repository

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/cinema-seat-hold/internal/clock"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

//go:embed scripts/common.lua
var commonScript string

//go:embed scripts/hold_seats.lua
var holdSeatsScript string

//go:embed scripts/extend_seats.lua
var extendSeatsScript string

//go:embed scripts/release_seats.lua
var releaseSeatsScript string

//go:embed scripts/confirm_seats.lua
var confirmSeatsScript string

//go:embed scripts/sweep_expired.lua
var sweepExpiredScript string

var tracer = otel.Tracer("github.com/iliyamo/cinema-seat-hold/internal/repository")

// RedisHoldStore keeps hold records in Redis so that several coordinator
// instances share one logical store.  Each showtime is a single hash and
// every group operation is one Lua script on that hash, which gives the
// same all-or-nothing guarantee as the in-memory critical section.  The
// hash key carries a {showtime} hash tag so a cluster can shard by
// showtime.
type RedisHoldStore struct {
	rdb    redis.UniversalClient
	clock  clock.Clock
	prefix string

	hold    *redis.Script
	extend  *redis.Script
	release *redis.Script
	confirm *redis.Script
	sweep   *redis.Script
}

// NewRedisHoldStore builds a store on rdb.  prefix namespaces every key;
// an empty prefix defaults to "seathold".
func NewRedisHoldStore(rdb redis.UniversalClient, clk clock.Clock, prefix string) *RedisHoldStore {
	if clk == nil {
		clk = clock.Real{}
	}
	if prefix == "" {
		prefix = "seathold"
	}
	script := func(body string) *redis.Script { return redis.NewScript(commonScript + "\n" + body) }
	return &RedisHoldStore{
		rdb:     rdb,
		clock:   clk,
		prefix:  prefix,
		hold:    script(holdSeatsScript),
		extend:  script(extendSeatsScript),
		release: script(releaseSeatsScript),
		confirm: script(confirmSeatsScript),
		sweep:   script(sweepExpiredScript),
	}
}

func (s *RedisHoldStore) showtimeKey(showtimeID uint64) string {
	return fmt.Sprintf("%s:{%d}", s.prefix, showtimeID)
}

// indexKey lists showtimes that may hold records; the sweeper walks it.
func (s *RedisHoldStore) indexKey() string { return s.prefix + ":showtimes" }

func (s *RedisHoldStore) TryHoldAll(ctx context.Context, claim HoldClaim) ([]model.HoldRecord, error) {
	ctx, span := tracer.Start(ctx, "repo.redis.hold.try_hold_all")
	defer span.End()
	ids := uniqueIDs(claim.SeatIDs)
	span.SetAttributes(
		attribute.Int64("showtime_id", int64(claim.ShowtimeID)),
		attribute.Int("seats", len(ids)),
	)
	if len(ids) == 0 {
		return nil, nil
	}

	// The index entry is written before and after the script.  The second
	// write restores an entry a concurrent sweep removed in between; a
	// stale entry only costs the sweeper one empty scan.
	if err := s.rdb.SAdd(ctx, s.indexKey(), claim.ShowtimeID).Err(); err != nil {
		return nil, s.fail(span, fmt.Errorf("index showtime: %w", err))
	}

	now := s.clock.Now()
	expiresAt := now.Add(claim.TTL)
	args := []interface{}{
		msString(now),
		msString(expiresAt),
		claim.SessionID,
		claim.MaxPerSession,
		claim.CustomerEmail,
	}
	args = append(args, seatArgs(ids)...)

	values, err := s.run(ctx, s.hold, claim.ShowtimeID, args)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !succeeded(values) {
		err := scriptError(values)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.rdb.SAdd(ctx, s.indexKey(), claim.ShowtimeID).Err(); err != nil {
		span.RecordError(err)
	}

	out := make([]model.HoldRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.HoldRecord{
			ShowtimeID:    claim.ShowtimeID,
			SeatID:        id,
			SessionID:     claim.SessionID,
			State:         model.SeatHeld,
			HeldAt:        fromMs(now.UnixMilli()),
			ExpiresAt:     fromMs(expiresAt.UnixMilli()),
			CustomerEmail: claim.CustomerEmail,
		})
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (s *RedisHoldStore) ExtendAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, sessionID string, extension time.Duration) (time.Time, error) {
	ctx, span := tracer.Start(ctx, "repo.redis.hold.extend_all")
	defer span.End()
	ids := uniqueIDs(seatIDs)
	span.SetAttributes(attribute.Int64("showtime_id", int64(showtimeID)), attribute.Int("seats", len(ids)))

	now := s.clock.Now()
	expiresAt := now.Add(extension)
	args := []interface{}{msString(now), msString(expiresAt), sessionID}
	args = append(args, seatArgs(ids)...)

	values, err := s.run(ctx, s.extend, showtimeID, args)
	if err != nil {
		return time.Time{}, s.fail(span, err)
	}
	if !succeeded(values) {
		err := scriptError(values)
		span.SetStatus(codes.Error, err.Error())
		return time.Time{}, err
	}
	span.SetStatus(codes.Ok, "")
	return fromMs(expiresAt.UnixMilli()), nil
}

func (s *RedisHoldStore) ReleaseAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, sessionID string) ([]uint64, error) {
	ctx, span := tracer.Start(ctx, "repo.redis.hold.release_all")
	defer span.End()
	ids := uniqueIDs(seatIDs)
	span.SetAttributes(attribute.Int64("showtime_id", int64(showtimeID)), attribute.Int("seats", len(ids)))

	args := append([]interface{}{sessionID}, seatArgs(ids)...)
	values, err := s.run(ctx, s.release, showtimeID, args)
	if err != nil {
		return nil, s.fail(span, err)
	}
	released, err := parseSeatIDs(values)
	if err != nil {
		return nil, s.fail(span, err)
	}
	sort.Slice(released, func(i, j int) bool { return released[i] < released[j] })
	span.SetStatus(codes.Ok, "")
	return released, nil
}

func (s *RedisHoldStore) ConfirmAll(ctx context.Context, showtimeID uint64, seatIDs []uint64, sessionID string) ([]model.HoldRecord, error) {
	ctx, span := tracer.Start(ctx, "repo.redis.hold.confirm_all")
	defer span.End()
	ids := uniqueIDs(seatIDs)
	span.SetAttributes(attribute.Int64("showtime_id", int64(showtimeID)), attribute.Int("seats", len(ids)))

	args := append([]interface{}{msString(s.clock.Now()), sessionID}, seatArgs(ids)...)
	values, err := s.run(ctx, s.confirm, showtimeID, args)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !succeeded(values) {
		err := scriptError(values)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	records, err := parseRecordPairs(showtimeID, values[1:])
	if err != nil {
		return nil, s.fail(span, err)
	}
	span.SetStatus(codes.Ok, "")
	return records, nil
}

func (s *RedisHoldStore) Snapshot(ctx context.Context, showtimeID uint64) (map[uint64]model.SeatStatus, error) {
	ctx, span := tracer.Start(ctx, "repo.redis.hold.snapshot")
	defer span.End()
	span.SetAttributes(attribute.Int64("showtime_id", int64(showtimeID)))

	fields, err := s.rdb.HGetAll(ctx, s.showtimeKey(showtimeID)).Result()
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("load showtime holds: %w", err))
	}
	now := s.clock.Now()
	out := make(map[uint64]model.SeatStatus, len(fields))
	for field, raw := range fields {
		seatID, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, s.fail(span, fmt.Errorf("invalid seat field %q: %w", field, err))
		}
		rec, err := decodeRecord(showtimeID, seatID, raw)
		if err != nil {
			return nil, s.fail(span, err)
		}
		if rec.IsLive(now) {
			out[seatID] = rec.Status()
		}
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (s *RedisHoldStore) SweepExpired(ctx context.Context) ([]model.HoldRecord, error) {
	ctx, span := tracer.Start(ctx, "repo.redis.hold.sweep_expired")
	defer span.End()

	members, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("list showtimes: %w", err))
	}
	var expired []model.HoldRecord
	for _, m := range members {
		showtimeID, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			_ = s.rdb.SRem(ctx, s.indexKey(), m).Err()
			continue
		}
		values, err := s.run(ctx, s.sweep, showtimeID, []interface{}{msString(s.clock.Now())})
		if err != nil {
			return expired, s.fail(span, err)
		}
		if len(values) == 0 {
			return expired, s.fail(span, fmt.Errorf("empty sweep reply for showtime %d", showtimeID))
		}
		records, err := parseRecordPairs(showtimeID, values[1:])
		if err != nil {
			return expired, s.fail(span, err)
		}
		expired = append(expired, records...)
		if remaining, _ := toInt64(values[0]); remaining == 0 {
			if err := s.unindex(ctx, showtimeID); err != nil {
				return expired, s.fail(span, err)
			}
		}
	}
	span.SetAttributes(attribute.Int("expired", len(expired)))
	span.SetStatus(codes.Ok, "")
	return expired, nil
}

// unindex drops an emptied showtime from the index.  A hold that lands
// between the sweep script and the removal recreates the hash, so the
// entry is put back when the hash exists again.
func (s *RedisHoldStore) unindex(ctx context.Context, showtimeID uint64) error {
	if err := s.rdb.SRem(ctx, s.indexKey(), showtimeID).Err(); err != nil {
		return fmt.Errorf("unindex showtime: %w", err)
	}
	n, err := s.rdb.Exists(ctx, s.showtimeKey(showtimeID)).Result()
	if err != nil {
		return fmt.Errorf("recheck showtime: %w", err)
	}
	if n > 0 {
		if err := s.rdb.SAdd(ctx, s.indexKey(), showtimeID).Err(); err != nil {
			return fmt.Errorf("reindex showtime: %w", err)
		}
	}
	return nil
}

// run executes a script against the showtime hash and returns its reply
// as a slice.  Scripts are sent by SHA and re-sent in full on NOSCRIPT.
func (s *RedisHoldStore) run(ctx context.Context, script *redis.Script, showtimeID uint64, args []interface{}) ([]interface{}, error) {
	res, err := script.Run(ctx, s.rdb, []string{s.showtimeKey(showtimeID)}, args...).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("run hold script: %w", err)
	}
	values, _ := res.([]interface{})
	if values == nil {
		values = []interface{}{}
	}
	return values, nil
}

func (s *RedisHoldStore) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// succeeded reports whether a script reply starts with the success flag.
func succeeded(values []interface{}) bool {
	if len(values) == 0 {
		return false
	}
	ok, _ := toInt64(values[0])
	return ok == 1
}

// scriptError converts a {0, CODE, seat...} reply into a domain error.
func scriptError(values []interface{}) error {
	if len(values) < 2 {
		return fmt.Errorf("unexpected script result length: %d", len(values))
	}
	code, _ := values[1].(string)
	seats, err := parseSeatIDs(values[2:])
	if err != nil {
		return err
	}
	switch code {
	case "CONFLICT":
		return NewSeatError(ErrConflict, seats)
	case "NOT_HELD":
		return NewSeatError(ErrNotHeld, seats)
	case "SEAT_LIMIT":
		return ErrSeatLimit
	default:
		return fmt.Errorf("unexpected script code %q", code)
	}
}

func parseSeatIDs(values []interface{}) ([]uint64, error) {
	out := make([]uint64, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected seat value %#v", v)
		}
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seat id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// parseRecordPairs decodes a flat {seat, record, seat, record ...} reply.
func parseRecordPairs(showtimeID uint64, values []interface{}) ([]model.HoldRecord, error) {
	if len(values)%2 != 0 {
		return nil, fmt.Errorf("unexpected record reply length: %d", len(values))
	}
	out := make([]model.HoldRecord, 0, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		ids, err := parseSeatIDs(values[i : i+1])
		if err != nil {
			return nil, err
		}
		raw, _ := values[i+1].(string)
		rec, err := decodeRecord(showtimeID, ids[0], raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// decodeRecord parses the value format written by the Lua scripts.
func decodeRecord(showtimeID, seatID uint64, raw string) (model.HoldRecord, error) {
	parts := strings.SplitN(raw, "|", 6)
	if len(parts) != 6 {
		return model.HoldRecord{}, fmt.Errorf("malformed hold record for seat %d", seatID)
	}
	rec := model.HoldRecord{
		ShowtimeID:    showtimeID,
		SeatID:        seatID,
		SessionID:     parts[1],
		CustomerEmail: parts[5],
	}
	switch parts[0] {
	case "H":
		rec.State = model.SeatHeld
	case "S":
		rec.State = model.SeatSold
	default:
		return model.HoldRecord{}, fmt.Errorf("unknown hold state %q for seat %d", parts[0], seatID)
	}
	stamps := make([]int64, 3)
	for i, p := range parts[2:5] {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return model.HoldRecord{}, fmt.Errorf("malformed timestamp for seat %d: %w", seatID, err)
		}
		stamps[i] = n
	}
	rec.ExpiresAt = fromMs(stamps[0])
	rec.HeldAt = fromMs(stamps[1])
	rec.SoldAt = fromMs(stamps[2])
	return rec, nil
}

func seatArgs(ids []uint64) []interface{} {
	out := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatUint(id, 10))
	}
	return out
}

func msString(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// fromMs maps 0 to the zero time so unset stamps stay IsZero.
func fromMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

var _ HoldStore = (*RedisHoldStore)(nil)
