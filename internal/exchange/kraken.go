package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-trade-backfill/internal/config"
	apperrors "github.com/johnayoung/go-trade-backfill/internal/errors"
	"github.com/johnayoung/go-trade-backfill/internal/metrics"
	"github.com/johnayoung/go-trade-backfill/internal/models"
)

const (
	krakenBaseURL = "https://api.kraken.com"

	tradesEndpoint     = "/0/public/Trades"
	assetPairsEndpoint = "/0/public/AssetPairs"
	timeEndpoint       = "/0/public/Time"

	krakenPageLimit    = 1000
	requestTimeout     = 30 * time.Second
	healthCheckTimeout = 5 * time.Second
	maxErrorBody       = 512
)

// KrakenConfig configures a KrakenAdapter.
type KrakenConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64 // requests per second
	PageLimit  int
	PairMarker string
	Retry      RetryPolicy
	UserAgent  string
}

// DefaultKrakenConfig returns the configuration for the public Kraken API.
func DefaultKrakenConfig() KrakenConfig {
	return KrakenConfig{
		BaseURL:    krakenBaseURL,
		Timeout:    requestTimeout,
		RateLimit:  1,
		PageLimit:  krakenPageLimit,
		PairMarker: ".d",
		Retry:      DefaultRetryPolicy(),
		UserAgent:  "go-trade-backfill/1.0",
	}
}

// KrakenConfigFrom converts the application exchange configuration.
func KrakenConfigFrom(cfg config.ExchangeConfig) KrakenConfig {
	kc := DefaultKrakenConfig()
	if cfg.BaseURL != "" {
		kc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if d := cfg.TimeoutDuration(); d > 0 {
		kc.Timeout = d
	}
	if cfg.RateLimit > 0 {
		kc.RateLimit = cfg.RateLimit
	}
	if cfg.PageLimit > 0 {
		kc.PageLimit = cfg.PageLimit
	}
	kc.PairMarker = cfg.PairMarker
	base, max := cfg.RetryPolicy.Delays()
	kc.Retry = RetryPolicy{
		MaxAttempts: cfg.RetryPolicy.MaxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
	}
	return kc
}

// KrakenAdapter implements ExchangeAdapter against the Kraken public REST API.
type KrakenAdapter struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	config      KrakenConfig
	logger      *slog.Logger
	metrics     *metrics.MetricsCollector
}

// NewKrakenAdapter creates a new Kraken exchange adapter. logger and m may be nil.
func NewKrakenAdapter(cfg KrakenConfig, logger *slog.Logger, m *metrics.MetricsCollector) *KrakenAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = krakenBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = requestTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = krakenPageLimit
	}

	return &KrakenAdapter{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		config:      cfg,
		logger:      logger,
		metrics:     m,
	}
}

// PageLimit implements the TradeFetcher interface.
func (k *KrakenAdapter) PageLimit() int {
	return k.config.PageLimit
}

// FetchTrades implements the TradeFetcher interface using the adapter's
// retry policy.
func (k *KrakenAdapter) FetchTrades(ctx context.Context, pair string, since float64) ([]models.Trade, error) {
	return k.FetchTradesWithPolicy(ctx, pair, since, k.config.Retry)
}

// FetchTradesWithPolicy fetches one page of trades under an explicit retry policy.
func (k *KrakenAdapter) FetchTradesWithPolicy(ctx context.Context, pair string, since float64, policy RetryPolicy) ([]models.Trade, error) {
	if pair == "" {
		return nil, fmt.Errorf("pair is required: %w", apperrors.ErrInvalidRequest)
	}
	if since < 0 {
		return nil, fmt.Errorf("since must be non-negative, got %v: %w", since, apperrors.ErrInvalidRequest)
	}

	params := url.Values{}
	params.Set("pair", pair)
	params.Set("since", strconv.FormatInt(int64(since*1e9), 10))

	trades, attempts, err := retryCall(ctx, k, policy, tradesEndpoint, func() ([]models.Trade, error) {
		result, err := k.get(ctx, tradesEndpoint, params)
		if err != nil {
			return nil, err
		}
		return decodeTrades(result, pair)
	})
	if err != nil {
		return nil, k.fetchError(ctx, pair, since, attempts, policy.normalized().MaxAttempts, err)
	}

	k.logger.Debug("fetched trades page",
		"pair", pair,
		"since", since,
		"count", len(trades),
		"attempts", attempts)

	return trades, nil
}

// ListPairs implements the PairLister interface.
func (k *KrakenAdapter) ListPairs(ctx context.Context) ([]string, error) {
	names, attempts, err := retryCall(ctx, k, k.config.Retry, assetPairsEndpoint, func() ([]string, error) {
		result, err := k.get(ctx, assetPairsEndpoint, nil)
		if err != nil {
			return nil, err
		}

		var pairs map[string]json.RawMessage
		if err := json.Unmarshal(result, &pairs); err != nil {
			return nil, malformed(assetPairsEndpoint, err)
		}

		names := make([]string, 0, len(pairs))
		for name := range pairs {
			names = append(names, name)
		}
		return names, nil
	})
	if err != nil {
		return nil, k.fetchError(ctx, "", 0, attempts, k.config.Retry.normalized().MaxAttempts, err)
	}

	filtered := FilterPairs(names, k.config.PairMarker)
	k.logger.Debug("fetched asset pairs", "total", len(names), "kept", len(filtered))
	return filtered, nil
}

// HealthCheck implements the HealthChecker interface.
func (k *KrakenAdapter) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if _, err := k.get(healthCtx, timeEndpoint, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	k.logger.Debug("health check passed")
	return nil
}

// retryCall runs fn under policy, waiting for the rate limiter before each
// attempt. It returns the number of attempts made.
func retryCall[T any](ctx context.Context, k *KrakenAdapter, policy RetryPolicy, op string, fn func() (T, error)) (T, int, error) {
	policy = policy.normalized()
	attempts := 0

	operation := func() (T, error) {
		var zero T
		if err := k.rateLimiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, backoff.Permanent(ctxErr)
			}
			return zero, backoff.Permanent(fmt.Errorf("rate limit wait failed: %w", err))
		}

		attempts++
		k.metrics.RecordCounter(metrics.FetchRequests, map[string]string{"endpoint": op})
		return fn()
	}

	notify := func(err error, delay time.Duration) {
		k.metrics.RecordCounter(metrics.FetchRetries, map[string]string{"endpoint": op})
		k.logger.Warn("request failed, retrying",
			"operation", op,
			"attempt", attempts,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"error_type", apperrors.Classify(err),
			"error", err)
	}

	result, err := backoff.RetryNotifyWithData[T](operation, policy.BackOff(ctx), notify)
	return result, attempts, err
}

// fetchError wraps a failed call. The error is marked exhausted when every
// allowed attempt was made and the context did not end the retries.
func (k *KrakenAdapter) fetchError(ctx context.Context, pair string, since float64, attempts, maxAttempts int, err error) error {
	fe := &apperrors.FetchError{
		Pair:     pair,
		Since:    since,
		Attempts: attempts,
		Err:      err,
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		fe.Err = ctxErr
		return fe
	}

	fe.Exhausted = attempts >= maxAttempts
	k.metrics.RecordError(metrics.FetchFailures, map[string]string{"pair": pair})
	k.logger.Error("giving up on request",
		"pair", pair,
		"since", since,
		"attempts", attempts,
		"error", err)
	return fe
}

// krakenEnvelope is the wrapper every public endpoint responds with.
type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// get performs a single request and returns the envelope's result on success.
// Every failure is returned as a transient ClassifiedError.
func (k *KrakenAdapter) get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	requestURL := k.config.BaseURL + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if k.config.UserAgent != "" {
		req.Header.Set("User-Agent", k.config.UserAgent)
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		typ := apperrors.ErrorTypeNetwork
		if apperrors.Classify(err) == apperrors.ErrorTypeTimeout {
			typ = apperrors.ErrorTypeTimeout
		}
		return nil, apperrors.New(typ, endpoint, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeNetwork, endpoint, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.ErrorTypeHTTPStatus, endpoint,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, maxErrorBody)))
	}

	var env krakenEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, malformed(endpoint, err)
	}
	if len(env.Error) > 0 {
		return nil, apperrors.New(apperrors.ErrorTypeAPI, endpoint, errors.New(strings.Join(env.Error, "; ")))
	}
	if len(env.Result) == 0 || bytes.Equal(env.Result, []byte("null")) {
		return nil, malformed(endpoint, errors.New("missing result"))
	}

	return env.Result, nil
}

// decodeTrades turns the positional rows of a Trades result into models.
// The result is keyed by pair name next to a "last" cursor; when the API
// canonicalises the pair name the single remaining key is used.
func decodeTrades(result json.RawMessage, pair string) ([]models.Trade, error) {
	var byKey map[string]json.RawMessage
	if err := json.Unmarshal(result, &byKey); err != nil {
		return nil, malformed(tradesEndpoint, err)
	}

	raw, ok := byKey[pair]
	if !ok {
		var candidates []string
		for key := range byKey {
			if key != "last" {
				candidates = append(candidates, key)
			}
		}
		if len(candidates) != 1 {
			return nil, malformed(tradesEndpoint, fmt.Errorf("result has no trades for %s (keys %v)", pair, candidates))
		}
		raw = byKey[candidates[0]]
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rows [][]any
	if err := dec.Decode(&rows); err != nil {
		return nil, malformed(tradesEndpoint, err)
	}

	trades := make([]models.Trade, 0, len(rows))
	for i, row := range rows {
		trade, err := decodeTradeRow(row)
		if err != nil {
			return nil, malformed(tradesEndpoint, fmt.Errorf("row %d: %w", i, err))
		}
		trades = append(trades, trade)
	}

	if idx := models.CheckOrdered(trades); idx >= 0 {
		return nil, malformed(tradesEndpoint, fmt.Errorf("row %d: %w", idx, apperrors.ErrUnsortedTrades))
	}

	return trades, nil
}

// decodeTradeRow decodes [price, volume, time, side, order_type, misc, ...].
func decodeTradeRow(row []any) (models.Trade, error) {
	if len(row) < 5 {
		return models.Trade{}, fmt.Errorf("expected at least 5 fields, got %d", len(row))
	}

	price, err := decimalField(row[0], "price")
	if err != nil {
		return models.Trade{}, err
	}
	size, err := decimalField(row[1], "volume")
	if err != nil {
		return models.Trade{}, err
	}
	ts, err := decimalField(row[2], "time")
	if err != nil {
		return models.Trade{}, err
	}

	sideStr, ok := row[3].(string)
	if !ok {
		return models.Trade{}, fmt.Errorf("side: expected string, got %T", row[3])
	}
	side, err := models.ParseSide(sideStr)
	if err != nil {
		return models.Trade{}, err
	}

	orderType, _ := row[4].(string)

	return models.Trade{
		Time:      ts.InexactFloat64(),
		Price:     price.InexactFloat64(),
		Size:      size.InexactFloat64(),
		Side:      side,
		OrderType: models.OrderType(orderType),
	}, nil
}

func decimalField(v any, name string) (decimal.Decimal, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	default:
		return decimal.Decimal{}, fmt.Errorf("%s: unexpected type %T", name, v)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func malformed(endpoint string, err error) error {
	return apperrors.New(apperrors.ErrorTypeMalformed, endpoint, fmt.Errorf("%w: %w", apperrors.ErrMalformedResponse, err))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface checks
var _ ExchangeAdapter = (*KrakenAdapter)(nil)
