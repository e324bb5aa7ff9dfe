package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/go-trade-backfill/internal/errors"
	"github.com/johnayoung/go-trade-backfill/internal/metrics"
	"github.com/johnayoung/go-trade-backfill/internal/models"
	"github.com/johnayoung/go-trade-backfill/internal/storage"
)

// fakeExchange serves pages from an in-memory history, oldest first, at most
// limit. since is inclusive unless exclusive is set, so the download loop is
// exercised against both readings of the bound.
type fakeExchange struct {
	mu      sync.Mutex
	history map[string][]models.Trade
	limit   int
	pairs   []string

	calls map[string][]float64
	// failAt makes the n-th call (1-based) for a pair return failErr.
	failAt  map[string]int
	failErr error
	// overlap serves pages starting this many seconds before since.
	overlap float64
	// exclusive drops trades stamped exactly at since, as Kraken does.
	exclusive bool
	// block, when set, is waited on before every call.
	block chan struct{}
}

func newFakeExchange(limit int) *fakeExchange {
	return &fakeExchange{
		history: make(map[string][]models.Trade),
		limit:   limit,
		calls:   make(map[string][]float64),
		failAt:  make(map[string]int),
	}
}

func (f *fakeExchange) FetchTrades(ctx context.Context, pair string, since float64) ([]models.Trade, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[pair] = append(f.calls[pair], since)
	if n := f.failAt[pair]; n > 0 && len(f.calls[pair]) >= n {
		return nil, f.failErr
	}

	from := since - f.overlap
	page := make([]models.Trade, 0, f.limit)
	for _, t := range f.history[pair] {
		if t.Time > from || (!f.exclusive && t.Time == from) {
			page = append(page, t)
			if len(page) == f.limit {
				break
			}
		}
	}
	return page, nil
}

func (f *fakeExchange) PageLimit() int { return f.limit }

func (f *fakeExchange) ListPairs(ctx context.Context) ([]string, error) { return f.pairs, nil }

func (f *fakeExchange) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeExchange) callsFor(pair string) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.calls[pair]...)
}

func (f *fakeExchange) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string][]float64)
	f.failAt = make(map[string]int)
}

func makeHistory(n int, first, step float64) []models.Trade {
	trades := make([]models.Trade, n)
	for i := range trades {
		side := models.SideBuy
		if i%2 == 1 {
			side = models.SideSell
		}
		trades[i] = models.Trade{
			Time:      first + float64(i)*step,
			Price:     100 + float64(i%10),
			Size:      1,
			Side:      side,
			OrderType: "limit",
		}
	}
	return trades
}

func unix(sec float64) time.Time {
	return models.FromUnix(sec)
}

func newTestCollector(ex *fakeExchange, store storage.TradeStore) (*Collector, *metrics.MetricsCollector) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetricsCollector(log)
	return New(ex, store, Config{WorkerCount: 2, Logger: log, Metrics: m, PairMarker: ".d"}), m
}

func newStore(t *testing.T) storage.TradeStore {
	s := storage.NewMemoryStorage()
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func storedTrades(t *testing.T, s storage.TradeStore, pair string) []models.Trade {
	trades, err := s.Range(context.Background(), pair, 0, 1e12)
	require.NoError(t, err)
	return trades
}

func TestDownload_FromEmptyStore(t *testing.T) {
	ex := newFakeExchange(1000)
	ex.history["XBTUSD"] = makeHistory(2500, 1000, 0.5)
	store := newStore(t)
	c, m := newTestCollector(ex, store)

	d, err := c.Download(context.Background(), "XBTUSD", unix(0), unix(1e10))
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, d.Status)
	assert.False(t, d.Resumed)
	assert.Equal(t, 3, d.Pages)
	assert.Equal(t, 2500, d.TradesStored)
	assert.Equal(t, ex.history["XBTUSD"], storedTrades(t, store, "XBTUSD"))

	// the earliest-trade page doubles as the first page
	calls := ex.callsFor("XBTUSD")
	require.Len(t, calls, 3)
	assert.Equal(t, 0.0, calls[0])
	assert.InDelta(t, 1000+999*0.5+DefaultEpsilon, calls[1], 1e-9)
	assert.InDelta(t, 1000+1999*0.5+DefaultEpsilon, calls[2], 1e-9)

	assert.Equal(t, 3.0, m.Value(metrics.PagesFetched, map[string]string{"pair": "XBTUSD"}))
	assert.Equal(t, 2500.0, m.Value(metrics.TradesStored, map[string]string{"pair": "XBTUSD"}))
	assert.Equal(t, 1.0, m.Value(metrics.DownloadsCompleted, map[string]string{"pair": "XBTUSD"}))
}

func TestDownload_ResumesAfterFailure(t *testing.T) {
	ex := newFakeExchange(1000)
	ex.history["XBTUSD"] = makeHistory(2500, 1000, 0.5)
	ex.failAt["XBTUSD"] = 2
	ex.failErr = &apperrors.FetchError{Pair: "XBTUSD", Attempts: 100, Exhausted: true, Err: errors.New("service unavailable")}
	store := newStore(t)
	c, m := newTestCollector(ex, store)

	d, err := c.Download(context.Background(), "XBTUSD", unix(0), unix(1e10))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRetryExhausted)
	assert.Equal(t, models.StatusFailed, d.Status)
	assert.Equal(t, 1000, d.TradesStored)
	assert.Len(t, storedTrades(t, store, "XBTUSD"), 1000, "pages fetched before the failure are kept")
	assert.Equal(t, 1.0, m.Value(metrics.DownloadsFailed, map[string]string{"pair": "XBTUSD"}))

	ex.resetCalls()
	d, err = c.Download(context.Background(), "XBTUSD", unix(0), unix(1e10))
	require.NoError(t, err)
	assert.True(t, d.Resumed)
	assert.Equal(t, 1500, d.TradesStored)

	calls := ex.callsFor("XBTUSD")
	require.NotEmpty(t, calls)
	assert.InDelta(t, 1000+999*0.5+DefaultEpsilon, calls[0], 1e-9, "resume skips the earliest-trade fetch")
	assert.Equal(t, ex.history["XBTUSD"], storedTrades(t, store, "XBTUSD"))
}

func TestDownload_ExclusiveSince(t *testing.T) {
	ex := newFakeExchange(1000)
	ex.exclusive = true
	ex.history["XBTUSD"] = makeHistory(2500, 1000, 0.5)
	ex.failAt["XBTUSD"] = 3
	ex.failErr = &apperrors.FetchError{Pair: "XBTUSD", Attempts: 3, Exhausted: true, Err: errors.New("timeout")}
	store := newStore(t)
	c, _ := newTestCollector(ex, store)

	_, err := c.Download(context.Background(), "XBTUSD", unix(0), unix(1e10))
	require.Error(t, err)
	assert.Len(t, storedTrades(t, store, "XBTUSD"), 2000)

	delete(ex.failAt, "XBTUSD")
	d, err := c.Download(context.Background(), "XBTUSD", unix(0), unix(1e10))
	require.NoError(t, err)
	assert.True(t, d.Resumed)
	assert.Equal(t, ex.history["XBTUSD"], storedTrades(t, store, "XBTUSD"))
}

func TestDownload_Idempotent(t *testing.T) {
	ex := newFakeExchange(100)
	ex.history["ETHUSD"] = makeHistory(250, 5000, 1)
	store := newStore(t)
	c, _ := newTestCollector(ex, store)

	_, err := c.Download(context.Background(), "ETHUSD", unix(0), unix(1e10))
	require.NoError(t, err)
	d, err := c.Download(context.Background(), "ETHUSD", unix(0), unix(1e10))
	require.NoError(t, err)

	assert.Zero(t, d.TradesStored)
	assert.Len(t, storedTrades(t, store, "ETHUSD"), 250)
}

func TestDownload_StartAfterEarliest(t *testing.T) {
	ex := newFakeExchange(1000)
	ex.history["XBTUSD"] = makeHistory(100, 1000, 1)
	store := newStore(t)
	c, _ := newTestCollector(ex, store)

	_, err := c.Download(context.Background(), "XBTUSD", unix(1050), unix(1e10))
	require.NoError(t, err)

	// the earliest-trade page predates start, so the first page is fetched
	calls := ex.callsFor("XBTUSD")
	require.Len(t, calls, 2)
	assert.Equal(t, 1050.0, calls[1])
	stored := storedTrades(t, store, "XBTUSD")
	require.Len(t, stored, 50)
	assert.Equal(t, 1050.0, stored[0].Time)
}

func TestDownload_StartAtEarliestReusesFirstPage(t *testing.T) {
	ex := newFakeExchange(10)
	ex.history["XBTUSD"] = makeHistory(5, 1000, 1)
	store := newStore(t)
	c, _ := newTestCollector(ex, store)

	d, err := c.Download(context.Background(), "XBTUSD", unix(1000), unix(1e10))
	require.NoError(t, err)

	assert.Equal(t, []float64{0}, ex.callsFor("XBTUSD"))
	assert.Equal(t, 1, d.Pages)
	assert.Equal(t, ex.history["XBTUSD"], storedTrades(t, store, "XBTUSD"))
}

func TestDownload_StopsAtEnd(t *testing.T) {
	ex := newFakeExchange(10)
	ex.history["XBTUSD"] = makeHistory(100, 0, 1)
	store := newStore(t)
	c, _ := newTestCollector(ex, store)

	d, err := c.Download(context.Background(), "XBTUSD", unix(0), unix(25))
	require.NoError(t, err)

	// pages [0,9] [10,19] [20,29]; the third reaches end
	assert.Equal(t, 3, d.Pages)
	assert.Len(t, storedTrades(t, store, "XBTUSD"), 30)
}

func TestDownload_NoOp(t *testing.T) {
	t.Run("range ends before history", func(t *testing.T) {
		ex := newFakeExchange(10)
		ex.history["XBTUSD"] = makeHistory(10, 5000, 1)
		store := newStore(t)
		c, _ := newTestCollector(ex, store)

		d, err := c.Download(context.Background(), "XBTUSD", unix(0), unix(100))
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, d.Status)
		assert.Len(t, ex.callsFor("XBTUSD"), 1)
		assert.Empty(t, storedTrades(t, store, "XBTUSD"))
	})

	t.Run("pair without trades", func(t *testing.T) {
		ex := newFakeExchange(10)
		store := newStore(t)
		c, _ := newTestCollector(ex, store)

		d, err := c.Download(context.Background(), "NEWUSD", unix(0), unix(100))
		require.NoError(t, err)
		assert.Equal(t, 0, d.Pages)
		assert.Len(t, ex.callsFor("NEWUSD"), 1)
	})

	t.Run("stored data already past end", func(t *testing.T) {
		ex := newFakeExchange(10)
		store := newStore(t)
		require.NoError(t, store.Append(context.Background(), "XBTUSD", makeHistory(5, 200, 1)))
		c, _ := newTestCollector(ex, store)

		d, err := c.Download(context.Background(), "XBTUSD", unix(0), unix(100))
		require.NoError(t, err)
		assert.True(t, d.Resumed)
		assert.Empty(t, ex.callsFor("XBTUSD"))
	})
}

func TestDownload_DropsAlreadyStoredTrades(t *testing.T) {
	ex := newFakeExchange(10)
	ex.history["XBTUSD"] = makeHistory(35, 100, 1)
	ex.overlap = 3
	store := newStore(t)
	c, _ := newTestCollector(ex, store)

	_, err := c.Download(context.Background(), "XBTUSD", unix(0), unix(1e10))
	require.NoError(t, err)

	stored := storedTrades(t, store, "XBTUSD")
	assert.Equal(t, ex.history["XBTUSD"], stored)
	assert.Equal(t, -1, models.CheckOrdered(stored))
}

func TestDownload_InvalidRange(t *testing.T) {
	c, _ := newTestCollector(newFakeExchange(10), newStore(t))

	_, err := c.Download(context.Background(), "XBTUSD", unix(100), unix(100))
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	_, err = c.Download(context.Background(), "", unix(0), unix(100))
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}

func TestDownload_OnePerPair(t *testing.T) {
	ex := newFakeExchange(10)
	ex.history["XBTUSD"] = makeHistory(5, 100, 1)
	ex.block = make(chan struct{})
	c, _ := newTestCollector(ex, newStore(t))

	done := make(chan error, 1)
	go func() {
		_, err := c.Download(context.Background(), "XBTUSD", unix(0), unix(1e10))
		done <- err
	}()

	require.Eventually(t, func() bool { return c.IsDownloading("XBTUSD") }, time.Second, time.Millisecond)

	_, err := c.Download(context.Background(), "XBTUSD", unix(0), unix(1e10))
	assert.ErrorIs(t, err, ErrDownloadInProgress)

	close(ex.block)
	require.NoError(t, <-done)
	assert.False(t, c.IsDownloading("XBTUSD"))

	runs := c.Downloads()
	require.Len(t, runs, 1)
	got, ok := c.GetDownload(runs[0].ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestDownload_Canceled(t *testing.T) {
	ex := newFakeExchange(10)
	ex.history["XBTUSD"] = makeHistory(5, 100, 1)
	ex.block = make(chan struct{})
	c, _ := newTestCollector(ex, newStore(t))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	d, err := c.Download(ctx, "XBTUSD", unix(0), unix(1e10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StatusFailed, d.Status)
}

func TestDownloadAll(t *testing.T) {
	ex := newFakeExchange(10)
	ex.history["XBTUSD"] = makeHistory(25, 100, 1)
	ex.history["ETHUSD"] = makeHistory(15, 100, 1)
	ex.history["BADUSD"] = makeHistory(15, 100, 1)
	ex.failAt["BADUSD"] = 1
	ex.failErr = &apperrors.FetchError{Pair: "BADUSD", Attempts: 3, Exhausted: true, Err: errors.New("boom")}
	store := newStore(t)
	c, _ := newTestCollector(ex, store)

	runs, err := c.DownloadAll(context.Background(), []string{"XBTUSD", "ETHUSD", "XBTUSD", "BADUSD"}, unix(0), unix(1e10))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRetryExhausted)
	assert.Contains(t, err.Error(), "BADUSD")
	assert.NotContains(t, err.Error(), "XBTUSD:")

	require.Len(t, runs, 3)
	assert.Equal(t, "XBTUSD", runs[0].Pair)
	assert.Equal(t, "ETHUSD", runs[1].Pair)
	assert.Equal(t, models.StatusFailed, runs[2].Status)

	assert.Len(t, storedTrades(t, store, "XBTUSD"), 25)
	assert.Len(t, storedTrades(t, store, "ETHUSD"), 15)
	assert.Len(t, ex.callsFor("XBTUSD"), 3, "duplicate pairs are downloaded once")
}

func TestTradesAndCharts(t *testing.T) {
	ex := newFakeExchange(1000)
	store := newStore(t)
	c, _ := newTestCollector(ex, store)
	ctx := context.Background()

	_, err := c.Trades(ctx, "XBTUSD", unix(0), unix(100))
	assert.ErrorIs(t, err, apperrors.ErrNoDataForPair)
	_, err = c.Charts(ctx, "XBTUSD", unix(0), unix(100), time.Minute)
	assert.ErrorIs(t, err, apperrors.ErrNoDataForPair)

	require.NoError(t, store.Append(ctx, "XBTUSD", []models.Trade{
		{Time: 100, Price: 10, Size: 1, Side: models.SideBuy, OrderType: "limit"},
		{Time: 200, Price: 20, Size: 1, Side: models.SideSell, OrderType: "limit"},
		{Time: 400, Price: 30, Size: 1, Side: models.SideSell, OrderType: "limit"},
	}))

	trades, err := c.Trades(ctx, "XBTUSD", unix(100), unix(200))
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	candles, err := c.Charts(ctx, "XBTUSD", unix(0), unix(300), 100*time.Second)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "XBTUSD", candles[0].Pair)
	assert.Equal(t, 10.0, candles[1].Open)
	assert.Equal(t, 20.0, candles[1].Close)

	_, err = c.Charts(ctx, "XBTUSD", unix(0), unix(300), 0)
	assert.Error(t, err)
}

func TestTrades_FractionalBounds(t *testing.T) {
	store := newStore(t)
	c, _ := newTestCollector(newFakeExchange(10), store)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "XBTUSD", []models.Trade{
		{Time: 1700000000.001, Price: 10, Size: 1, Side: models.SideBuy, OrderType: "limit"},
		{Time: 1700000000.002, Price: 11, Size: 1, Side: models.SideSell, OrderType: "limit"},
		{Time: 1700000000.003, Price: 12, Size: 1, Side: models.SideBuy, OrderType: "market"},
	}))

	trades, err := c.Trades(ctx, "XBTUSD", unix(1700000000.002), unix(1700000000.002))
	require.NoError(t, err)
	require.Len(t, trades, 1, "both bounds are inclusive")
	assert.Equal(t, 11.0, trades[0].Price)

	trades, err = c.Trades(ctx, "XBTUSD", unix(1700000000), unix(1700000000.003))
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

func TestPairs(t *testing.T) {
	ex := newFakeExchange(10)
	ex.pairs = []string{"ETHUSD", "XBTUSD"}
	store := newStore(t)
	c, _ := newTestCollector(ex, store)
	ctx := context.Background()

	pairs, err := c.Pairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSD", "XBTUSD"}, pairs)

	require.NoError(t, store.Append(ctx, "XBTUSD.d", makeHistory(1, 1, 1)))
	require.NoError(t, store.Append(ctx, "XBTUSD", makeHistory(1, 1, 1)))
	local, err := c.LocalPairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"XBTUSD"}, local)

	assert.NoError(t, c.Health(ctx))
}

func TestStartDownload(t *testing.T) {
	ex := newFakeExchange(10)
	ex.history["XBTUSD"] = makeHistory(25, 100, 1)
	ex.block = make(chan struct{})
	store := newStore(t)
	c, _ := newTestCollector(ex, store)

	d, err := c.StartDownload(context.Background(), "XBTUSD", unix(0), unix(1e10))
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Contains(t, []models.DownloadStatus{models.StatusPending, models.StatusRunning}, d.Status)

	_, err = c.StartDownload(context.Background(), "XBTUSD", unix(0), unix(1e10))
	assert.ErrorIs(t, err, ErrDownloadInProgress)

	close(ex.block)
	require.Eventually(t, func() bool {
		got, ok := c.GetDownload(d.ID)
		return ok && got.IsFinished()
	}, time.Second, time.Millisecond)

	got, _ := c.GetDownload(d.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 25, got.TradesStored)

	_, err = c.StartDownload(context.Background(), "XBTUSD", unix(10), unix(5))
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}
