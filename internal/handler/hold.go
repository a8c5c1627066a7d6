// Package handler binds the hold coordinator to HTTP.  Handlers translate
// JSON bodies into coordinator requests and coordinator errors into
// status codes; they hold no state of their own.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/middleware"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
)

// HoldHandler serves the seat hold endpoints under /v1/showtimes/:id.
type HoldHandler struct {
	Coord     *service.Coordinator
	Finalizer *service.Finalizer
	Log       *zap.Logger
}

// NewHoldHandler constructs a HoldHandler and panics if a dependency is
// missing.
func NewHoldHandler(coord *service.Coordinator, fin *service.Finalizer, log *zap.Logger) *HoldHandler {
	if coord == nil || fin == nil {
		panic("nil dependency passed to NewHoldHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HoldHandler{Coord: coord, Finalizer: fin, Log: log}
}

// seatRequest is the common body of the hold endpoints.  ShowtimeID is
// optional; when present it must match the path.
type seatRequest struct {
	ShowtimeID        *uint64  `json:"showtimeId"`
	SeatIDs           []uint64 `json:"seatIds"`
	SessionID         string   `json:"sessionId"`
	CustomerEmail     string   `json:"customerEmail"`
	AdditionalMinutes int      `json:"additionalMinutes"`
	PaymentRef        string   `json:"paymentRef"`
}

// maxBodyBytes caps request bodies; a full hold request is well below it.
const maxBodyBytes = 64 << 10

// readRequest parses the path showtime id and the JSON body.  Bodies are
// decoded regardless of Content-Type because navigator.sendBeacon posts
// text/plain.  An empty body is allowed.
func readRequest(c echo.Context) (uint64, seatRequest, error) {
	var body seatRequest
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, body, errors.New("invalid showtime id")
	}
	dec := json.NewDecoder(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return 0, body, errors.New("invalid request body")
	}
	if body.ShowtimeID != nil && *body.ShowtimeID != id {
		return 0, body, errors.New("showtimeId does not match path")
	}
	return id, body, nil
}

// Hold handles POST /v1/showtimes/:id/hold.  It claims every requested
// seat for the session or none of them and answers 201 with the expiry
// and the time the client should renew.
func (h *HoldHandler) Hold(c echo.Context) error {
	id, body, err := readRequest(c)
	if err != nil {
		return badRequest(c, err)
	}
	res, err := h.Coord.Hold(c.Request().Context(), service.HoldRequest{
		ShowtimeID:    id,
		SeatIDs:       body.SeatIDs,
		SessionID:     body.SessionID,
		CustomerEmail: body.CustomerEmail,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"heldSeatIds": res.SeatIDs,
		"expiresAt":   res.ExpiresAt,
		"renewAt":     res.RenewAt,
		"ttlSeconds":  int(res.TTL / time.Second),
	})
}

// Extend handles POST /v1/showtimes/:id/extend.  Every seat must still be
// held by the session; otherwise 409 lists the seats that are not.
func (h *HoldHandler) Extend(c echo.Context) error {
	id, body, err := readRequest(c)
	if err != nil {
		return badRequest(c, err)
	}
	res, err := h.Coord.Extend(c.Request().Context(), service.ExtendRequest{
		ShowtimeID:        id,
		SeatIDs:           body.SeatIDs,
		SessionID:         body.SessionID,
		AdditionalMinutes: body.AdditionalMinutes,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"seatIds":   res.SeatIDs,
		"expiresAt": res.ExpiresAt,
		"renewAt":   res.RenewAt,
	})
}

// Release handles POST /v1/showtimes/:id/release.  It always answers 200
// so that page-unload beacons never retry; failures are only logged.  The
// session may also be given in the X-Session-Id header or the sessionId
// query parameter.
func (h *HoldHandler) Release(c echo.Context) error {
	id, body, err := readRequest(c)
	if err != nil {
		h.Log.Debug("release ignored", zap.Error(err))
		return c.JSON(http.StatusOK, echo.Map{"released": []uint64{}})
	}
	session := body.SessionID
	if session == "" {
		session = c.Request().Header.Get(middleware.SessionHeader)
	}
	if session == "" {
		session = c.QueryParam("sessionId")
	}
	released, err := h.Coord.Release(c.Request().Context(), service.ReleaseRequest{
		ShowtimeID: id,
		SeatIDs:    body.SeatIDs,
		SessionID:  session,
	})
	if err != nil {
		h.Log.Warn("release failed", zap.Uint64("showtime_id", id), zap.Error(err))
		released = []uint64{}
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

// Availability handles GET /v1/showtimes/:id/availability.  Passing the
// caller's sessionId marks the caller's own holds.
func (h *HoldHandler) Availability(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return badRequest(c, errors.New("invalid showtime id"))
	}
	av, err := h.Coord.Availability(c.Request().Context(), id, c.QueryParam("sessionId"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, av)
}

// Confirm handles POST /v1/showtimes/:id/confirm.  It is called by the
// payment backend with a FINALIZER token once the customer has paid and
// turns the session's held seats into a booking.
func (h *HoldHandler) Confirm(c echo.Context) error {
	id, body, err := readRequest(c)
	if err != nil {
		return badRequest(c, err)
	}
	b, err := h.Finalizer.Finalize(c.Request().Context(), service.FinalizeRequest{
		ShowtimeID:    id,
		SeatIDs:       body.SeatIDs,
		SessionID:     body.SessionID,
		CustomerEmail: body.CustomerEmail,
		PaymentRef:    body.PaymentRef,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	h.Log.Info("seats confirmed",
		zap.String("booking_id", b.ID),
		zap.String("finalizer", middleware.Subject(c)),
		zap.Uint64("showtime_id", id))
	return c.JSON(http.StatusOK, echo.Map{
		"bookingId":   b.ID,
		"seatIds":     b.SeatIDs,
		"confirmedAt": b.ConfirmedAt,
	})
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": err.Error()})
}

// writeError maps coordinator errors onto responses.  Contention outcomes
// are 409 with the seats involved.
func (h *HoldHandler) writeError(c echo.Context, err error) error {
	seats := service.SeatIDsOf(err)
	if seats == nil {
		seats = []uint64{}
	}
	switch {
	case errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict", "conflictingSeatIds": seats})
	case errors.Is(err, service.ErrNotHeld):
		return c.JSON(http.StatusConflict, echo.Map{"error": "not_held", "seatIds": seats})
	case errors.Is(err, service.ErrSeatLimit):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error":    "seat_limit_exceeded",
			"maxSeats": h.Coord.Policy().MaxSeats,
		})
	case errors.Is(err, service.ErrUnknownSeat):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown_seat", "seatIds": seats})
	case errors.Is(err, service.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, service.ErrShowtimeNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "showtime_not_found"})
	case errors.Is(err, service.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store_unavailable"})
	default:
		h.Log.Error("unexpected error", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
	}
}
