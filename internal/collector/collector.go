// Package collector runs resumable trade downloads and serves stored trades
// and candles built from them.
//
// A download walks a pair's history with a Cursor: it resumes after the last
// stored trade, or discovers the start of the pair's history when nothing is
// stored, then fetches pages until a short page or a page reaching the end
// of the requested range. Each page is appended before the next is fetched,
// so a failed download keeps its progress and the next run continues from it.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/johnayoung/go-trade-backfill/internal/aggregator"
	apperrors "github.com/johnayoung/go-trade-backfill/internal/errors"
	"github.com/johnayoung/go-trade-backfill/internal/exchange"
	"github.com/johnayoung/go-trade-backfill/internal/logger"
	"github.com/johnayoung/go-trade-backfill/internal/metrics"
	"github.com/johnayoung/go-trade-backfill/internal/models"
	"github.com/johnayoung/go-trade-backfill/internal/storage"
)

const (
	// DefaultWorkerCount bounds concurrent downloads in DownloadAll.
	DefaultWorkerCount = 4

	maxHistory = 100
)

// ErrDownloadInProgress is returned when a download for the pair is already running.
var ErrDownloadInProgress = errors.New("download already in progress")

// Config configures the collector behavior
type Config struct {
	WorkerCount int
	// Epsilon is added to the newest seen trade time to form the next since.
	Epsilon float64
	// PairMarker excludes pairs from LocalPairs like the exchange listing does.
	PairMarker string
	Logger     *slog.Logger
	Metrics    *metrics.MetricsCollector
}

// DefaultConfig returns a configuration with the default worker count and epsilon.
func DefaultConfig() Config {
	return Config{
		WorkerCount: DefaultWorkerCount,
		Epsilon:     DefaultEpsilon,
		PairMarker:  ".d",
	}
}

// Collector downloads trades into a store and reads them back.
type Collector struct {
	exchange exchange.ExchangeAdapter
	store    storage.TradeStore
	config   Config
	logger   *slog.Logger
	metrics  *metrics.MetricsCollector

	mu       sync.RWMutex
	inFlight map[string]*models.Download
	runs     map[string]*models.Download
	order    []string
}

// New creates a Collector. Zero config fields take their defaults.
func New(ex exchange.ExchangeAdapter, store storage.TradeStore, cfg Config) *Collector {
	def := DefaultConfig()
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Collector{
		exchange: ex,
		store:    store,
		config:   cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		inFlight: make(map[string]*models.Download),
		runs:     make(map[string]*models.Download),
	}
}

// Download fetches the trades of pair for [start, end] that are not stored
// yet. The returned record describes the run even when an error is returned.
// Errors from exhausted retries match errors.ErrRetryExhausted.
func (c *Collector) Download(ctx context.Context, pair string, start, end time.Time) (*models.Download, error) {
	d, err := c.prepare(pair, start, end)
	if err != nil {
		return d, err
	}
	return c.execute(ctx, d)
}

// StartDownload registers a download and runs it in the background. The
// returned record is the state at start; GetDownload reports its progress.
// Invalid requests and ErrDownloadInProgress are returned synchronously.
func (c *Collector) StartDownload(ctx context.Context, pair string, start, end time.Time) (*models.Download, error) {
	d, err := c.prepare(pair, start, end)
	if err != nil {
		return d, err
	}
	snapshot := c.snapshot(d)
	go func() {
		_, _ = c.execute(ctx, d)
	}()
	return snapshot, nil
}

// prepare validates the request and registers the run as in flight.
func (c *Collector) prepare(pair string, start, end time.Time) (*models.Download, error) {
	d := models.NewDownload(logger.NewRunID(), pair, start, end)
	if err := d.Validate(); err != nil {
		return d, fmt.Errorf("invalid download request: %w: %w", apperrors.ErrInvalidRequest, err)
	}
	if err := c.acquire(d); err != nil {
		return d, err
	}
	return d, nil
}

func (c *Collector) execute(ctx context.Context, d *models.Download) (*models.Download, error) {
	pair := d.Pair
	defer c.release(pair)

	ctx = logger.WithPair(logger.WithRunID(ctx, d.ID), pair)
	log := logger.FromContext(ctx, c.logger)

	c.update(d, func(d *models.Download) { _ = d.Begin() })
	log.Info("download started", "start", d.Start, "end", d.End)
	began := time.Now()

	err := c.run(ctx, d, log)
	duration := time.Since(began)
	c.metrics.RecordDuration(metrics.DownloadDuration, duration, map[string]string{"pair": pair})

	if err != nil {
		c.update(d, func(d *models.Download) { _ = d.Fail(err.Error()) })
		c.metrics.RecordError(metrics.DownloadsFailed, map[string]string{"pair": pair})
		snapshot := c.snapshot(d)
		if ctx.Err() != nil {
			log.Warn("download canceled", "pages", snapshot.Pages, "trades_stored", snapshot.TradesStored, "error", err)
		} else {
			log.Error("download failed",
				"pages", snapshot.Pages,
				"trades_stored", snapshot.TradesStored,
				"error_type", apperrors.Classify(err),
				"error", err)
		}
		return snapshot, err
	}

	c.update(d, func(d *models.Download) { _ = d.Complete() })
	c.metrics.RecordCounter(metrics.DownloadsCompleted, map[string]string{"pair": pair})
	snapshot := c.snapshot(d)
	log.Info("download completed",
		"pages", snapshot.Pages,
		"trades_stored", snapshot.TradesStored,
		"resumed", snapshot.Resumed,
		"duration", duration)
	return snapshot, nil
}

func (c *Collector) run(ctx context.Context, d *models.Download, log *slog.Logger) error {
	pair := d.Pair
	cur := NewCursor(models.ToUnix(d.Start), models.ToUnix(d.End), c.exchange.PageLimit(), c.config.Epsilon)

	last, err := c.store.Last(ctx, pair)
	if err != nil {
		return fmt.Errorf("failed to read last stored trade: %w", err)
	}

	// first holds a page already fetched for the cursor's starting point.
	var first []models.Trade
	if cur.Resume(last) {
		log.Info("resuming after stored trades", "last_stored", last.DateString(), "since", cur.Since)
	} else {
		head, err := c.exchange.FetchTrades(ctx, pair, 0)
		if err != nil {
			return fmt.Errorf("failed to find earliest trade: %w", err)
		}
		if cur.Discover(head) {
			first = head
		}
		switch {
		case len(head) == 0:
			log.Info("exchange has no trades for pair")
		case head[0].Time > cur.Start:
			log.Info("requested start predates exchange history", "earliest", head[0].DateString())
		}
	}

	c.update(d, func(d *models.Download) {
		d.Resumed = last != nil
		d.Cursor = cur.Since
	})

	for !cur.Done() {
		since := cur.Since
		page := first
		first = nil
		if page == nil {
			var err error
			if page, err = c.exchange.FetchTrades(ctx, pair, since); err != nil {
				return err
			}
		}

		fresh := cur.Advance(page)
		if len(fresh) > 0 {
			if err := c.store.Append(ctx, pair, fresh); err != nil {
				return fmt.Errorf("failed to store page: %w", err)
			}
		}

		c.update(d, func(d *models.Download) { d.RecordPage(len(fresh), cur.Since) })
		c.metrics.RecordCounter(metrics.PagesFetched, map[string]string{"pair": pair})
		c.metrics.AddCounter(metrics.TradesStored, float64(len(fresh)), map[string]string{"pair": pair})

		log.Debug("page stored",
			"since", since,
			"fetched", len(page),
			"stored", len(fresh),
			"next_since", cur.Since,
			"state", cur.State.String())
	}
	return nil
}

// DownloadAll downloads each distinct pair with at most WorkerCount running
// at once. Failures do not stop the other pairs; they are joined into the
// returned error, each prefixed with its pair.
func (c *Collector) DownloadAll(ctx context.Context, pairs []string, start, end time.Time) ([]*models.Download, error) {
	unique := make([]string, 0, len(pairs))
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		unique = append(unique, p)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*models.Download, len(unique))
		errs    = make(map[string]error)
		wg      sync.WaitGroup
	)

	pool := NewWorkerPool(c.config.WorkerCount, func(ctx context.Context, job *WorkerJob) error {
		d, err := c.Download(ctx, job.Pair, job.Start, job.End)
		mu.Lock()
		results[job.Pair] = d
		mu.Unlock()
		return err
	}, c.logger)
	if err := pool.Start(); err != nil {
		return nil, err
	}

	for _, pair := range unique {
		pair := pair
		wg.Add(1)
		pool.Submit(ctx, &WorkerJob{Pair: pair, Start: start, End: end}, func(err error) {
			defer wg.Done()
			if err != nil {
				mu.Lock()
				errs[pair] = err
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	_ = pool.Stop(context.Background())

	stats := pool.GetStats()
	c.logger.Info("downloads finished",
		"pairs", len(unique),
		"completed", stats.CompletedJobs,
		"failed", stats.FailedJobs,
		"avg_duration", stats.AvgJobDuration)

	out := make([]*models.Download, 0, len(unique))
	joined := make([]error, 0, len(errs))
	for _, pair := range unique {
		if d := results[pair]; d != nil {
			out = append(out, d)
		}
		if err := errs[pair]; err != nil {
			joined = append(joined, fmt.Errorf("%s: %w", pair, err))
		}
	}
	return out, errors.Join(joined...)
}

// Trades returns the stored trades of pair within [start, end].
func (c *Collector) Trades(ctx context.Context, pair string, start, end time.Time) ([]models.Trade, error) {
	if err := c.requireData(ctx, pair); err != nil {
		return nil, err
	}
	return c.store.Range(ctx, pair, models.ToUnix(start), models.ToUnix(end))
}

// Charts aggregates the stored trades of pair into candles for [start, end).
func (c *Collector) Charts(ctx context.Context, pair string, start, end time.Time, interval time.Duration) ([]models.Candle, error) {
	if err := c.requireData(ctx, pair); err != nil {
		return nil, err
	}
	trades, err := c.store.Range(ctx, pair, models.ToUnix(start), models.ToUnix(end))
	if err != nil {
		return nil, err
	}

	candles, err := aggregator.Aggregate(trades, start, end, interval)
	if err != nil {
		return nil, err
	}
	for i := range candles {
		candles[i].Pair = pair
	}
	return candles, nil
}

func (c *Collector) requireData(ctx context.Context, pair string) error {
	ok, err := c.store.Exists(ctx, pair)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", pair, apperrors.ErrNoDataForPair)
	}
	return nil
}

// Pairs lists the exchange's tradable pairs.
func (c *Collector) Pairs(ctx context.Context) ([]string, error) {
	return c.exchange.ListPairs(ctx)
}

// LocalPairs lists the pairs with stored trades.
func (c *Collector) LocalPairs(ctx context.Context) ([]string, error) {
	pairs, err := c.store.Pairs(ctx)
	if err != nil {
		return nil, err
	}
	return exchange.FilterPairs(pairs, c.config.PairMarker), nil
}

// Health checks the exchange and the store.
func (c *Collector) Health(ctx context.Context) error {
	if err := c.exchange.HealthCheck(ctx); err != nil {
		return fmt.Errorf("exchange health check failed: %w", err)
	}
	if err := c.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}

// IsDownloading reports whether a download for pair is running.
func (c *Collector) IsDownloading(pair string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.inFlight[pair]
	return ok
}

// GetDownload returns a copy of the run with the given id.
func (c *Collector) GetDownload(id string) (*models.Download, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.runs[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Downloads returns copies of the recent runs, newest first.
func (c *Collector) Downloads() []*models.Download {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.Download, 0, len(c.order))
	for i := len(c.order) - 1; i >= 0; i-- {
		out = append(out, c.runs[c.order[i]].Clone())
	}
	return out
}

// acquire registers d as the in-flight download of its pair.
func (c *Collector) acquire(d *models.Download) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if running, ok := c.inFlight[d.Pair]; ok {
		return fmt.Errorf("%s (run %s): %w", d.Pair, running.ID, ErrDownloadInProgress)
	}
	c.inFlight[d.Pair] = d

	c.runs[d.ID] = d
	c.order = append(c.order, d.ID)
	if len(c.order) > maxHistory {
		delete(c.runs, c.order[0])
		c.order = c.order[1:]
	}
	return nil
}

func (c *Collector) release(pair string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, pair)
}

func (c *Collector) update(d *models.Download, fn func(*models.Download)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(d)
}

func (c *Collector) snapshot(d *models.Download) *models.Download {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return d.Clone()
}
