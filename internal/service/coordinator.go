package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/clock"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/queue"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/retry"
)

// HoldPolicy holds the tunable limits of the coordinator.
//
// Fields:
//  MaxSeats       – seats per request and live holds per session per showtime.
//  TTL            – lifetime of a fresh hold.
//  RenewThreshold – how long before expiry clients should send Extend.
//  Extension      – upper bound of a single extension.
type HoldPolicy struct {
	MaxSeats       int
	TTL            time.Duration
	RenewThreshold time.Duration
	Extension      time.Duration
}

// DefaultHoldPolicy returns the stock limits: ten seats, five minute holds,
// renewal one minute before expiry and five minute extensions.
func DefaultHoldPolicy() HoldPolicy {
	return HoldPolicy{
		MaxSeats:       10,
		TTL:            5 * time.Minute,
		RenewThreshold: 60 * time.Second,
		Extension:      5 * time.Minute,
	}
}

func (p HoldPolicy) withDefaults() HoldPolicy {
	def := DefaultHoldPolicy()
	if p.MaxSeats <= 0 {
		p.MaxSeats = def.MaxSeats
	}
	if p.TTL <= 0 {
		p.TTL = def.TTL
	}
	if p.RenewThreshold <= 0 || p.RenewThreshold >= p.TTL {
		p.RenewThreshold = def.RenewThreshold
		if p.RenewThreshold >= p.TTL {
			p.RenewThreshold = p.TTL / 5
		}
	}
	if p.Extension <= 0 {
		p.Extension = def.Extension
	}
	return p
}

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// publishTimeout bounds how long a request waits on the broker.
const publishTimeout = 2 * time.Second

// HoldRequest asks for a group hold.
type HoldRequest struct {
	ShowtimeID    uint64
	SeatIDs       []uint64
	SessionID     string
	CustomerEmail string
}

// HoldResult describes a granted hold.  RenewAt is when the client should
// send its next Extend.
type HoldResult struct {
	ShowtimeID uint64
	SeatIDs    []uint64
	ExpiresAt  time.Time
	RenewAt    time.Time
	TTL        time.Duration
}

// ExtendRequest asks to push back the expiry of held seats.  A zero
// AdditionalMinutes means the configured extension.
type ExtendRequest struct {
	ShowtimeID        uint64
	SeatIDs           []uint64
	SessionID         string
	AdditionalMinutes int
}

// ExtendResult carries the new expiry of the extended seats.
type ExtendResult struct {
	SeatIDs   []uint64
	ExpiresAt time.Time
	RenewAt   time.Time
}

// ReleaseRequest gives back held seats.  No seat ids releases every hold
// the session has on the showtime.
type ReleaseRequest struct {
	ShowtimeID uint64
	SeatIDs    []uint64
	SessionID  string
}

// ConfirmRequest promotes held seats to SOLD.
type ConfirmRequest struct {
	ShowtimeID uint64
	SeatIDs    []uint64
	SessionID  string
}

// ConfirmResult lists the seats now SOLD to the session.
type ConfirmResult struct {
	ShowtimeID    uint64
	SessionID     string
	SeatIDs       []uint64
	CustomerEmail string
	ConfirmedAt   time.Time
}

// SeatAvailability is one seat of the availability view.  Owner details
// are only filled in for the caller's own holds.
type SeatAvailability struct {
	SeatID         uint64          `json:"seatId"`
	Row            string          `json:"row"`
	Number         uint32          `json:"number"`
	Category       model.Category  `json:"category"`
	Status         model.SeatState `json:"status"`
	HeldByYou      bool            `json:"heldByYou"`
	OwnerSessionID string          `json:"ownerSessionId,omitempty"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
}

// Availability is the seat map of one showtime.
type Availability struct {
	ShowtimeID uint64             `json:"showtimeId"`
	Seats      []SeatAvailability `json:"seats"`
}

// Coordinator validates hold requests, drives the HoldStore and publishes
// seat events.  It holds no hold state of its own.
type Coordinator struct {
	store   repository.HoldStore
	catalog repository.SeatCatalog
	policy  HoldPolicy
	retrier *retry.Retrier
	events  queue.Publisher
	log     *zap.Logger
	clock   clock.Clock
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithRetry sets the store retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(c *Coordinator) { c.retrier = retry.New(cfg) }
}

// WithPublisher sets the seat event publisher.
func WithPublisher(p queue.Publisher) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.events = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock sets the time source used for renewal hints and events.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// NewCoordinator builds a Coordinator.  store and catalog must be non-nil.
func NewCoordinator(store repository.HoldStore, catalog repository.SeatCatalog, policy HoldPolicy, opts ...Option) *Coordinator {
	if store == nil || catalog == nil {
		panic("nil store or catalog passed to NewCoordinator")
	}
	c := &Coordinator{
		store:   store,
		catalog: catalog,
		policy:  policy.withDefaults(),
		retrier: retry.New(retry.DefaultConfig()),
		events:  queue.NopPublisher{},
		log:     zap.NewNop(),
		clock:   clock.Real{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the effective limits.
func (c *Coordinator) Policy() HoldPolicy { return c.policy }

// Hold claims every requested seat for the session or none of them.
func (c *Coordinator) Hold(ctx context.Context, req HoldRequest) (HoldResult, error) {
	if err := c.validate(req.ShowtimeID, req.SessionID); err != nil {
		return HoldResult{}, err
	}
	ids, err := c.seatIDs(req.SeatIDs)
	if err != nil {
		return HoldResult{}, err
	}
	if err := c.checkInventory(ctx, req.ShowtimeID, ids); err != nil {
		return HoldResult{}, err
	}

	var records []model.HoldRecord
	err = c.do(ctx, "hold", func(ctx context.Context) error {
		var err error
		records, err = c.store.TryHoldAll(ctx, repository.HoldClaim{
			ShowtimeID:    req.ShowtimeID,
			SeatIDs:       ids,
			SessionID:     req.SessionID,
			CustomerEmail: req.CustomerEmail,
			TTL:           c.policy.TTL,
			MaxPerSession: c.policy.MaxSeats,
		})
		return err
	})
	if err != nil {
		return HoldResult{}, err
	}

	res := HoldResult{ShowtimeID: req.ShowtimeID, SeatIDs: sortedIDs(ids), TTL: c.policy.TTL}
	if len(records) > 0 {
		res.ExpiresAt = records[0].ExpiresAt
	}
	res.RenewAt = res.ExpiresAt.Add(-c.policy.RenewThreshold)
	c.publish(ctx, queue.SeatHeld, req.ShowtimeID, req.SessionID, res.SeatIDs, res.ExpiresAt)
	return res, nil
}

// Extend moves the expiry of the session's held seats forward.
func (c *Coordinator) Extend(ctx context.Context, req ExtendRequest) (ExtendResult, error) {
	if err := c.validate(req.ShowtimeID, req.SessionID); err != nil {
		return ExtendResult{}, err
	}
	ids, err := c.seatIDs(req.SeatIDs)
	if err != nil {
		return ExtendResult{}, err
	}
	if req.AdditionalMinutes < 0 {
		return ExtendResult{}, fmt.Errorf("%w: additionalMinutes must not be negative", ErrInvalidRequest)
	}
	ext := c.policy.Extension
	if req.AdditionalMinutes > 0 {
		if d := time.Duration(req.AdditionalMinutes) * time.Minute; d < ext {
			ext = d
		}
	}

	var expiresAt time.Time
	err = c.do(ctx, "extend", func(ctx context.Context) error {
		var err error
		expiresAt, err = c.store.ExtendAll(ctx, req.ShowtimeID, ids, req.SessionID, ext)
		return err
	})
	if err != nil {
		return ExtendResult{}, err
	}
	res := ExtendResult{
		SeatIDs:   sortedIDs(ids),
		ExpiresAt: expiresAt,
		RenewAt:   expiresAt.Add(-c.policy.RenewThreshold),
	}
	c.publish(ctx, queue.SeatExtended, req.ShowtimeID, req.SessionID, res.SeatIDs, expiresAt)
	return res, nil
}

// Release gives back the session's holds among the requested seats.  It
// is idempotent: seats that are not held by the session are ignored.
func (c *Coordinator) Release(ctx context.Context, req ReleaseRequest) ([]uint64, error) {
	if err := c.validate(req.ShowtimeID, req.SessionID); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(req.SeatIDs))
	for _, id := range req.SeatIDs {
		if id != 0 {
			ids = append(ids, id)
		}
	}

	var released []uint64
	err := c.do(ctx, "release", func(ctx context.Context) error {
		var err error
		released, err = c.store.ReleaseAll(ctx, req.ShowtimeID, ids, req.SessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if released == nil {
		released = []uint64{}
	}
	if len(released) > 0 {
		c.publish(ctx, queue.SeatReleased, req.ShowtimeID, req.SessionID, released, time.Time{})
	}
	return released, nil
}

// Confirm promotes the session's live holds to SOLD.  Every seat must be
// held by the session, otherwise nothing changes.
func (c *Coordinator) Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	if err := c.validate(req.ShowtimeID, req.SessionID); err != nil {
		return ConfirmResult{}, err
	}
	ids, err := c.seatIDs(req.SeatIDs)
	if err != nil {
		return ConfirmResult{}, err
	}

	var records []model.HoldRecord
	err = c.do(ctx, "confirm", func(ctx context.Context) error {
		var err error
		records, err = c.store.ConfirmAll(ctx, req.ShowtimeID, ids, req.SessionID)
		return err
	})
	if err != nil {
		return ConfirmResult{}, err
	}

	res := ConfirmResult{ShowtimeID: req.ShowtimeID, SessionID: req.SessionID, SeatIDs: sortedIDs(ids)}
	for _, rec := range records {
		if rec.SoldAt.After(res.ConfirmedAt) {
			res.ConfirmedAt = rec.SoldAt
		}
		if res.CustomerEmail == "" {
			res.CustomerEmail = rec.CustomerEmail
		}
	}
	if res.ConfirmedAt.IsZero() {
		res.ConfirmedAt = c.clock.Now()
	}
	c.publish(ctx, queue.SeatSold, req.ShowtimeID, req.SessionID, res.SeatIDs, time.Time{})
	return res, nil
}

// Availability lists every seat of the showtime with its current state.
// Holds whose TTL has passed read as AVAILABLE even before the sweeper
// removes them.
func (c *Coordinator) Availability(ctx context.Context, showtimeID uint64, sessionID string) (Availability, error) {
	if showtimeID == 0 {
		return Availability{}, fmt.Errorf("%w: showtime id is required", ErrInvalidRequest)
	}
	var seats []model.Seat
	err := c.do(ctx, "catalog", func(ctx context.Context) error {
		var err error
		seats, err = c.catalog.SeatsForShowtime(ctx, showtimeID)
		return err
	})
	if err != nil {
		return Availability{}, err
	}
	var snapshot map[uint64]model.SeatStatus
	err = c.do(ctx, "snapshot", func(ctx context.Context) error {
		var err error
		snapshot, err = c.store.Snapshot(ctx, showtimeID)
		return err
	})
	if err != nil {
		return Availability{}, err
	}

	out := Availability{ShowtimeID: showtimeID, Seats: make([]SeatAvailability, 0, len(seats))}
	for _, seat := range seats {
		sa := SeatAvailability{
			SeatID:   seat.SeatID,
			Row:      seat.Row,
			Number:   seat.Number,
			Category: seat.Category,
			Status:   model.SeatAvailable,
		}
		if st, ok := snapshot[seat.SeatID]; ok {
			sa.Status = st.State
			if sessionID != "" && st.OwnerSessionID == sessionID {
				sa.HeldByYou = st.State == model.SeatHeld
				sa.OwnerSessionID = st.OwnerSessionID
				if !st.ExpiresAt.IsZero() {
					exp := st.ExpiresAt
					sa.ExpiresAt = &exp
				}
			}
		}
		out.Seats = append(out.Seats, sa)
	}
	return out, nil
}

func (c *Coordinator) validate(showtimeID uint64, sessionID string) error {
	if showtimeID == 0 {
		return fmt.Errorf("%w: showtime id is required", ErrInvalidRequest)
	}
	if !sessionPattern.MatchString(sessionID) {
		return fmt.Errorf("%w: malformed sessionId", ErrInvalidRequest)
	}
	return nil
}

// seatIDs dedupes ids and enforces 1..MaxSeats.
func (c *Coordinator) seatIDs(ids []uint64) ([]uint64, error) {
	out := make([]uint64, 0, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			return nil, fmt.Errorf("%w: seat ids must be positive", ErrInvalidRequest)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	switch {
	case len(out) == 0:
		return nil, fmt.Errorf("%w: seatIds is required", ErrInvalidRequest)
	case len(out) > c.policy.MaxSeats:
		return nil, fmt.Errorf("%w: at most %d seats per request", ErrInvalidRequest, c.policy.MaxSeats)
	}
	return out, nil
}

func (c *Coordinator) checkInventory(ctx context.Context, showtimeID uint64, ids []uint64) error {
	var seats []model.Seat
	err := c.do(ctx, "catalog", func(ctx context.Context) error {
		var err error
		seats, err = c.catalog.SeatsForShowtime(ctx, showtimeID)
		return err
	})
	if err != nil {
		return err
	}
	known := make(map[uint64]struct{}, len(seats))
	for _, s := range seats {
		known[s.SeatID] = struct{}{}
	}
	var unknown []uint64
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return repository.NewSeatError(ErrUnknownSeat, unknown)
	}
	return nil
}

// do runs fn with bounded retries.  Domain errors and context errors come
// back unchanged; anything else is reported as ErrStoreUnavailable.
func (c *Coordinator) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error, wait time.Duration) {
		c.log.Warn("store call failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempt),
			zap.Duration("wait", wait), zap.Error(err))
	})
	if err == nil || isDomainError(err) {
		return err
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	c.log.Error("store unavailable", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func (c *Coordinator) publish(ctx context.Context, typ queue.SeatEventType, showtimeID uint64, sessionID string, seatIDs []uint64, expiresAt time.Time) {
	ev := queue.SeatEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		ShowtimeID: showtimeID,
		SessionID:  sessionID,
		SeatIDs:    seatIDs,
		OccurredAt: c.clock.Now(),
	}
	if !expiresAt.IsZero() {
		ev.ExpiresAt = &expiresAt
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.events.PublishSeatEvent(pctx, ev); err != nil {
		c.log.Warn("publish seat event failed", zap.String("type", string(typ)), zap.Error(err))
	}
}

func sortedIDs(ids []uint64) []uint64 {
	out := append([]uint64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
