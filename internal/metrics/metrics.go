// Package metrics provides in-process metrics for the backfill: counters,
// gauges and durations keyed by name and labels, readable as a snapshot.
// All methods are safe on a nil *MetricsCollector, which records nothing.
package metrics

import (
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// Metric names recorded by the fetcher and the download loop.
const (
	FetchRequests      = "fetch_requests_total"
	FetchRetries       = "fetch_retries_total"
	FetchFailures      = "fetch_failures_total"
	PagesFetched       = "pages_fetched_total"
	TradesStored       = "trades_stored_total"
	DownloadsCompleted = "downloads_completed_total"
	DownloadsFailed    = "downloads_failed_total"
	DownloadDuration   = "download_duration"
	ExportsWritten     = "exports_written_total"
)

// MetricType represents different types of metrics
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric represents a single metric with metadata
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Count     int64             `json:"count,omitempty"`
	Min       float64           `json:"min,omitempty"`
	Max       float64           `json:"max,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// MetricsSnapshot represents a snapshot of all metrics at a point in time
type MetricsSnapshot struct {
	Timestamp     time.Time         `json:"timestamp"`
	Uptime        time.Duration     `json:"uptime"`
	Metrics       map[string]Metric `json:"metrics"`
	SystemMetrics SystemMetrics     `json:"system_metrics"`
	RequestCount  int64             `json:"request_count"`
	ErrorCount    int64             `json:"error_count"`
	ErrorRate     float64           `json:"error_rate"`
}

// SystemMetrics represents system-level metrics
type SystemMetrics struct {
	GoroutineCount int    `json:"goroutine_count"`
	NumGC          uint32 `json:"num_gc"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	HeapInuse      uint64 `json:"heap_inuse"`

	// Host memory, omitted when the platform does not report it.
	MemoryUsedPercent float64 `json:"memory_used_percent,omitempty"`
}

var memoryStatsFn = mem.VirtualMemory

// MetricsCollector manages application metrics
type MetricsCollector struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	metrics   map[string]Metric
	startTime time.Time

	requestCount int64
	errorCount   int64
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsCollector{
		logger:    logger,
		metrics:   make(map[string]Metric),
		startTime: time.Now(),
	}
}

// RecordCounter increments a counter metric by one
func (mc *MetricsCollector) RecordCounter(name string, labels map[string]string) {
	mc.AddCounter(name, 1, labels)
}

// AddCounter increments a counter metric by delta
func (mc *MetricsCollector) AddCounter(name string, delta float64, labels map[string]string) {
	if mc == nil {
		return
	}
	mc.recordMetric(name, MetricTypeCounter, delta, labels)
	if name == FetchRequests {
		atomic.AddInt64(&mc.requestCount, int64(delta))
	}
}

// RecordGauge sets a gauge metric value
func (mc *MetricsCollector) RecordGauge(name string, value float64, labels map[string]string) {
	if mc == nil {
		return
	}
	mc.recordMetric(name, MetricTypeGauge, value, labels)
}

// RecordError records an error metric
func (mc *MetricsCollector) RecordError(name string, labels map[string]string) {
	if mc == nil {
		return
	}
	mc.recordMetric(name, MetricTypeCounter, 1, labels)
	atomic.AddInt64(&mc.errorCount, 1)
}

// RecordDuration records a duration metric in milliseconds
func (mc *MetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	if mc == nil {
		return
	}
	ms := float64(duration.Nanoseconds()) / float64(time.Millisecond)
	mc.recordMetric(name, MetricTypeHistogram, ms, labels)
}

// recordMetric is the internal method for recording metrics
func (mc *MetricsCollector) recordMetric(name string, metricType MetricType, value float64, labels map[string]string) {
	key := metricKey(name, labels)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()

	existing, exists := mc.metrics[key]
	if !exists {
		mc.metrics[key] = Metric{
			Name:      name,
			Type:      metricType,
			Value:     value,
			Count:     1,
			Min:       value,
			Max:       value,
			Labels:    copyLabels(labels),
			UpdatedAt: now,
		}
		return
	}

	switch metricType {
	case MetricTypeCounter:
		existing.Value += value
	case MetricTypeHistogram:
		// Value holds the running sum; Count the observations.
		existing.Value += value
		if value < existing.Min {
			existing.Min = value
		}
		if value > existing.Max {
			existing.Max = value
		}
	default:
		existing.Value = value
	}
	existing.Count++
	existing.UpdatedAt = now
	mc.metrics[key] = existing
}

// Value returns the current value of a metric, or zero when it was never recorded.
func (mc *MetricsCollector) Value(name string, labels map[string]string) float64 {
	if mc == nil {
		return 0
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics[metricKey(name, labels)].Value
}

// GetSnapshot returns a snapshot of all current metrics
func (mc *MetricsCollector) GetSnapshot() MetricsSnapshot {
	if mc == nil {
		return MetricsSnapshot{Timestamp: time.Now(), Metrics: map[string]Metric{}}
	}

	mc.mu.RLock()
	metricsCopy := make(map[string]Metric, len(mc.metrics))
	for k, v := range mc.metrics {
		v.Labels = copyLabels(v.Labels)
		metricsCopy[k] = v
	}
	mc.mu.RUnlock()

	requestCount := atomic.LoadInt64(&mc.requestCount)
	errorCount := atomic.LoadInt64(&mc.errorCount)
	var errorRate float64
	if requestCount > 0 {
		errorRate = float64(errorCount) / float64(requestCount) * 100
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	system := SystemMetrics{
		GoroutineCount: runtime.NumGoroutine(),
		NumGC:          m.NumGC,
		HeapAlloc:      m.HeapAlloc,
		HeapInuse:      m.HeapInuse,
	}
	if vm, err := memoryStatsFn(); err == nil {
		system.MemoryUsedPercent = vm.UsedPercent
	}

	return MetricsSnapshot{
		Timestamp:     time.Now(),
		Uptime:        time.Since(mc.startTime),
		Metrics:       metricsCopy,
		SystemMetrics: system,
		RequestCount:  requestCount,
		ErrorCount:    errorCount,
		ErrorRate:     errorRate,
	}
}

// LogSummary writes the counters to the logger at INFO.
func (mc *MetricsCollector) LogSummary() {
	if mc == nil {
		return
	}
	snap := mc.GetSnapshot()
	keys := make([]string, 0, len(snap.Metrics))
	for k := range snap.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, snap.Metrics[k].Value)
	}
	mc.logger.Info("metrics summary", args...)
}

// metricKey renders name{k1=v1,k2=v2} with labels sorted by key.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
