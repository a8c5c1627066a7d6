// Package router wires handlers and middleware onto an Echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/handler"
	"github.com/iliyamo/cinema-seat-hold/internal/middleware"
)

// Deps carries what the routes need.  Redis may be nil, which disables
// rate limiting.
type Deps struct {
	Holds     *handler.HoldHandler
	JWTSecret string
	RateLimit config.RateLimitConfig
	Redis     redis.UniversalClient
	Log       *zap.Logger
}

// New builds the Echo instance with the global middleware and every route.
func New(d Deps) *echo.Echo {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.BodyLimit("64K"))

	RegisterRoutes(e)
	RegisterHolds(e, d.Holds, d.JWTSecret, middleware.NewTokenBucket(d.RateLimit, d.Redis, log))
	return e
}

// RegisterRoutes registers routes that need neither a session nor a token.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterHolds registers the seat hold endpoints.  Hold, extend and
// release pass through the rate limiter; confirm requires a FINALIZER
// token signed with jwtSecret.
func RegisterHolds(e *echo.Echo, h *handler.HoldHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/showtimes/:id")

	g.POST("/hold", h.Hold, limiter)
	g.POST("/extend", h.Extend, limiter)
	g.POST("/release", h.Release, limiter)
	g.GET("/availability", h.Availability)

	g.POST("/confirm", h.Confirm,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleFinalizer))
}
