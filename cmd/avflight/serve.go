package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/CharlesOkeke1/AirValora/internal/api"
	"github.com/CharlesOkeke1/AirValora/internal/auth"
	"github.com/CharlesOkeke1/AirValora/internal/booking"
	"github.com/CharlesOkeke1/AirValora/internal/config"
	"github.com/CharlesOkeke1/AirValora/internal/crew"
	"github.com/CharlesOkeke1/AirValora/internal/edge"
	"github.com/CharlesOkeke1/AirValora/internal/ingestion"
	"github.com/CharlesOkeke1/AirValora/internal/lifecycle"
	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/internal/store/redisstore"
	"github.com/CharlesOkeke1/AirValora/internal/store/sqlstore"
	"github.com/CharlesOkeke1/AirValora/internal/ticker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the progress ticker, the lifecycle mover and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := NewApp(cmd.Context(), c.cfg, clockwork.NewRealClock())
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

// openStore connects the configured backend.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "redis":
		rs := redisstore.New(redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return rs, nil
	case "sqlite":
		return sqlstore.Open(ctx, sqlstore.SQLite, cfg.SQLiteDSN())
	case "postgres":
		return sqlstore.Open(ctx, sqlstore.Postgres, cfg.DSN)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// ---------------------------------------------------------------------------
// Application
// ---------------------------------------------------------------------------

// App wires the store, the periodic processes and the API server.
type App struct {
	config config.Config
	clock  clockwork.Clock
	log    *slog.Logger

	store    store.Store
	ticker   *ticker.Ticker
	mover    *lifecycle.Mover
	watcher  *ingestion.Watcher
	memory   *edge.MemoryMonitor
	limiter  *api.RateLimiter
	api      *api.Server
	server   *http.Server
	serveErr chan error
}

// NewApp opens the store and builds every component. Nothing runs
// until Run.
func NewApp(ctx context.Context, cfg config.Config, clk clockwork.Clock) (*App, error) {
	cfg.Runtime.Apply()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:   cfg,
		clock:    clk,
		log:      slog.Default().With("component", "app"),
		store:    st,
		serveErr: make(chan error, 1),
	}

	a.ticker = ticker.New(st,
		ticker.WithClock(clk),
		ticker.WithConfig(ticker.Config{
			Interval: cfg.Ticker.Interval,
			Refresh:  cfg.Ticker.Refresh,
			Linger:   cfg.Ticker.Linger,
		}),
	)
	a.mover = lifecycle.New(st, lifecycle.WithClock(clk), lifecycle.WithInterval(cfg.Mover.Interval))
	a.memory = edge.NewMemoryMonitor(cfg.Runtime, edge.WithClock(clk))
	a.memory.AddListener(func(_, to edge.MemoryState, stats edge.MemoryStats) {
		if to >= edge.MemoryStateCritical {
			a.log.Warn("memory pressure, bookings paused", "state", to, "heap_mb", stats.HeapMB)
		}
	})
	a.limiter = api.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, clk)

	if cfg.Ingestion.Source != "" {
		var opts []ingestion.ClientOption
		if cfg.Ingestion.Token != "" {
			opts = append(opts, ingestion.WithBearerToken(cfg.Ingestion.Token))
		}
		im := ingestion.NewImporter(st, ingestion.NewClient(opts...), ingestion.DefaultImporterConfig())
		a.watcher = ingestion.NewWatcher(im, cfg.Ingestion.Source, cfg.Ingestion.Interval, cfg.Ingestion.RequestsPerMinute, clk)
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if verifier == nil {
		a.log.Warn("no JWT secret configured, only public routes are served")
	}
	a.api = api.New(api.Deps{
		Store:    st,
		Booking:  booking.New(st, booking.WithClock(clk), booking.WithCapacity(cfg.SeatCapacity)),
		Crew:     crew.New(st, clk),
		Mover:    a.mover,
		Verifier: verifier,
		Limiter:  a.limiter,
		Memory:   a.memory,
		Clock:    clk,
		Version:  version,
	})
	return a, nil
}

// Run starts every component, serves until ctx ends, then shuts down.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("avflight starting",
		"version", version,
		"addr", a.config.HTTP.Listen(),
		"store", a.config.Store.Backend,
		"memory_mode", a.config.Runtime.MemoryMode)

	a.memory.Start(ctx)
	if a.config.Ticker.Enabled {
		a.ticker.Start(ctx)
	}
	if a.config.Mover.Enabled {
		a.mover.Start(ctx)
	}
	if a.watcher != nil {
		go a.watcher.Run(ctx)
	}
	if a.limiter != nil {
		go a.sweepVisitors(ctx)
	}

	a.startHTTPServer()
	a.api.SetReady(true)
	a.log.Info("avflight ready")

	var err error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err = <-a.serveErr:
		a.log.Error("http server failed", "error", err)
	}
	return errors.Join(err, a.Shutdown())
}

// Shutdown stops the loops, drains the server and closes the store.
func (a *App) Shutdown() error {
	a.api.SetReady(false)

	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	a.ticker.Stop()
	a.mover.Stop()
	a.memory.Stop()

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	a.log.Info("avflight stopped")
	return errors.Join(errs...)
}

func (a *App) startHTTPServer() {
	a.server = &http.Server{
		Addr:         a.config.HTTP.Listen(),
		Handler:      a.api.Handler(),
		ReadTimeout:  a.config.HTTP.ReadTimeout,
		WriteTimeout: a.config.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		a.log.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- err
		}
	}()
}

// sweepVisitors drops idle rate-limiter entries once a minute.
func (a *App) sweepVisitors(ctx context.Context) {
	t := a.clock.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			a.limiter.Sweep()
		}
	}
}
