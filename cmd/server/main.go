package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/database"
	"github.com/iliyamo/cinema-seat-hold/internal/handler"
	"github.com/iliyamo/cinema-seat-hold/internal/logger"
	"github.com/iliyamo/cinema-seat-hold/internal/queue"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/retry"
	"github.com/iliyamo/cinema-seat-hold/internal/router"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		c, err := config.NewRedisClient(cfg.Redis)
		if err != nil {
			if cfg.Hold.Store == config.StoreRedis {
				return err
			}
			// cache and rate limiter degrade without Redis
			log.Warn("redis unavailable, catalog cache and rate limiting disabled", zap.Error(err))
		} else {
			rdb = c
			defer func() { _ = rdb.Close() }()
		}
	}

	var db *sql.DB
	if cfg.Catalog.Source == config.CatalogMySQL {
		d, err := database.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("open mysql: %w", err)
		}
		db = d
		defer func() { _ = db.Close() }()
	}

	store := newStore(cfg, rdb)
	catalog, err := newCatalog(cfg, db, rdb)
	if err != nil {
		return err
	}

	var events queue.Publisher = queue.NopPublisher{}
	if cfg.AMQP.Enabled {
		events = queue.NewAMQPPublisher(cfg.AMQP.URL, log.Named("publisher"))
	}
	defer func() { _ = events.Close() }()

	coord := service.NewCoordinator(store, catalog, service.HoldPolicy{
		MaxSeats:       cfg.Hold.MaxSeats,
		TTL:            cfg.Hold.TTL,
		RenewThreshold: cfg.Hold.RenewThreshold,
		Extension:      cfg.Hold.Extension,
	},
		service.WithRetry(retry.Config{
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
			JitterFactor:    0.1,
		}),
		service.WithPublisher(events),
		service.WithLogger(log.Named("coordinator")),
	)

	var recorder service.BookingRecorder
	if db != nil {
		recorder = repository.NewBookingRepo(db)
	}
	finalizer := service.NewFinalizer(coord, recorder, events, log)
	sweeper := service.NewSweeper(store, events, cfg.Hold.SweepInterval, log)

	var ur redis.UniversalClient
	if rdb != nil {
		ur = rdb
	}
	e := router.New(router.Deps{
		Holds:     handler.NewHoldHandler(coord, finalizer, log.Named("http")),
		JWTSecret: cfg.JWT.Secret,
		RateLimit: cfg.RateLimit,
		Redis:     ur,
		Log:       log.Named("http"),
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	if cfg.AMQP.Enabled && cfg.AMQP.ConsumerEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = queue.StartBookingConsumer(ctx, cfg.AMQP.URL, log)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.Port
		log.Info("listening",
			zap.String("addr", addr),
			zap.String("env", cfg.App.Env),
			zap.String("store", cfg.Hold.Store),
			zap.String("catalog", cfg.Catalog.Source))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	err = e.Shutdown(shutdownCtx)
	stop()
	wg.Wait()
	return err
}

func newStore(cfg config.Config, rdb *redis.Client) repository.HoldStore {
	if cfg.Hold.Store == config.StoreRedis {
		return repository.NewRedisHoldStore(rdb, nil, cfg.Hold.KeyPrefix)
	}
	return repository.NewMemoryHoldStore(nil)
}

func newCatalog(cfg config.Config, db *sql.DB, rdb *redis.Client) (repository.SeatCatalog, error) {
	var catalog repository.SeatCatalog
	switch cfg.Catalog.Source {
	case config.CatalogMySQL:
		catalog = repository.NewSeatRepo(db)
	default:
		c, err := repository.LoadStaticCatalog(cfg.Catalog.File)
		if err != nil {
			return nil, err
		}
		catalog = c
	}
	if cfg.Catalog.CacheEnabled && rdb != nil {
		catalog = repository.NewCachedCatalog(catalog, rdb, cfg.Catalog.CacheTTL, cfg.Catalog.CachePrefix)
	}
	return catalog, nil
}
