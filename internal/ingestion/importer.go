package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/CharlesOkeke1/AirValora/internal/metrics"
	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

// ErrMissingReference marks a record without a flight reference.
var ErrMissingReference = errors.New("flight has no flightReference")

// runtimeFields are owned by the ticker, crew and booking flows. A
// re-import never overwrites them on an existing flight.
var runtimeFields = []string{"landed", "landedAt", "progress", "takenSeats", "statusOverride", "delayMins"}

// ImporterConfig controls batching.
type ImporterConfig struct {
	BatchSize int
	Workers   int
}

// DefaultImporterConfig returns sensible defaults.
func DefaultImporterConfig() ImporterConfig {
	return ImporterConfig{BatchSize: 10, Workers: 4}
}

// ImportStats summarises one import.
type ImportStats struct {
	Created int
	Updated int
	Failed  int
}

// Total is the number of flights written.
func (s ImportStats) Total() int { return s.Created + s.Updated }

// Importer upserts schedules into the store.
type Importer struct {
	store  store.Store
	client *Client
	config ImporterConfig
	log    *slog.Logger
}

// NewImporter creates an importer. A nil client gets a default one.
func NewImporter(s store.Store, client *Client, cfg ImporterConfig) *Importer {
	if client == nil {
		client = NewClient()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Importer{
		store:  s,
		client: client,
		config: cfg,
		log:    slog.Default().With("component", "ingestion"),
	}
}

// Load reads a schedule from an http(s) URL or a local file.
func (im *Importer) Load(ctx context.Context, source string) ([]models.FlightRecord, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return im.client.FetchWithRetry(ctx, source)
	}
	return ReadFile(source)
}

// ImportSource loads and imports a schedule.
func (im *Importer) ImportSource(ctx context.Context, source string) (ImportStats, error) {
	flights, err := im.Load(ctx, source)
	if err != nil {
		metrics.ImportErrors.Inc()
		return ImportStats{}, err
	}
	stats := im.Import(ctx, flights)
	im.log.Info("schedule imported",
		"source", source,
		"created", stats.Created,
		"updated", stats.Updated,
		"failed", stats.Failed,
	)
	return stats, nil
}

// Import upserts flights in parallel batches. Failing records are
// logged and counted; the rest are still written.
func (im *Importer) Import(ctx context.Context, flights []models.FlightRecord) ImportStats {
	var created, updated, failed atomic.Int64

	batchSize := im.config.BatchSize
	var batches [][]models.FlightRecord
	for i := 0; i < len(flights); i += batchSize {
		end := min(i+batchSize, len(flights))
		batches = append(batches, flights[i:end])
	}

	sem := make(chan struct{}, im.config.Workers)
	var wg sync.WaitGroup

	for _, batch := range batches {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ImportStats{Created: int(created.Load()), Updated: int(updated.Load()), Failed: int(failed.Load())}
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(b []models.FlightRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			for _, f := range b {
				isNew, err := im.upsert(ctx, f)
				switch {
				case err != nil:
					failed.Add(1)
					metrics.ImportErrors.Inc()
					im.log.Warn("flight not imported", "flight", f.ID, "error", err)
				case isNew:
					created.Add(1)
				default:
					updated.Add(1)
				}
			}
		}(batch)
	}
	wg.Wait()

	stats := ImportStats{Created: int(created.Load()), Updated: int(updated.Load()), Failed: int(failed.Load())}
	metrics.FlightsImported.Add(int64(stats.Total()))
	return stats
}

// upsert writes a new flight whole, or merges the schedule fields of an
// existing one.
func (im *Importer) upsert(ctx context.Context, f models.FlightRecord) (bool, error) {
	Normalize(&f)
	if f.ID == "" {
		return false, ErrMissingReference
	}
	if f.TakenSeats == nil {
		f.TakenSeats = []string{}
	}
	fields, err := store.Encode(f)
	if err != nil {
		return false, err
	}

	var isNew bool
	err = im.store.RunTx(ctx, func(tx store.Tx) error {
		_, err := tx.Get(models.FlightsCollection, f.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			isNew = true
			return tx.Put(models.FlightsCollection, f.ID, fields)
		case err != nil:
			return err
		}
		isNew = false
		schedule := make(store.Fields, len(fields))
		for k, v := range fields {
			schedule[k] = v
		}
		for _, k := range runtimeFields {
			delete(schedule, k)
		}
		return tx.Put(models.FlightsCollection, f.ID, schedule, store.Merge())
	})
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", f.ID, err)
	}
	return isNew, nil
}

// Watcher re-imports a source on an interval, never faster than its
// limiter allows.
type Watcher struct {
	importer *Importer
	source   string
	interval time.Duration
	limiter  *rate.Limiter
	clock    clockwork.Clock
}

// NewWatcher creates a watcher. perMinute caps imports per minute.
func NewWatcher(im *Importer, source string, interval time.Duration, perMinute int, c clockwork.Clock) *Watcher {
	if perMinute <= 0 {
		perMinute = 6
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Watcher{
		importer: im,
		source:   source,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		clock:    c,
	}
}

// Run imports immediately and then on every interval until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	t := w.clock.NewTicker(w.interval)
	defer t.Stop()

	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		if _, err := w.importer.ImportSource(ctx, w.source); err != nil && ctx.Err() == nil {
			w.importer.log.Error("schedule import failed", "source", w.source, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
		}
	}
}
