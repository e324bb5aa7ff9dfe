package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRegistry(t *testing.T) {
	mc := NewMetricsCollector(nil)
	mc.AddCounter(TradesStored, 1000, map[string]string{"pair": "XBTUSD"})
	mc.AddCounter(TradesStored, 500, map[string]string{"pair": "XBTUSD"})
	mc.RecordCounter(TradesStored, map[string]string{"pair": "ETHUSD"})
	mc.RecordDuration(DownloadDuration, 2*time.Second, map[string]string{"pair": "XBTUSD"})
	mc.RecordDuration(DownloadDuration, 4*time.Second, map[string]string{"pair": "XBTUSD"})
	mc.RecordGauge("active_downloads", 2, nil)

	families, err := mc.PrometheusRegistry().Gather()
	require.NoError(t, err)

	byName := make(map[string]int)
	for i, f := range families {
		byName[f.GetName()] = i
	}

	i, ok := byName["backfill_trades_stored_total"]
	require.True(t, ok)
	stored := families[i].GetMetric()
	require.Len(t, stored, 2)
	values := map[string]float64{}
	for _, m := range stored {
		require.Len(t, m.GetLabel(), 1)
		values[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"XBTUSD": 1500, "ETHUSD": 1}, values)

	i, ok = byName["backfill_download_duration_milliseconds"]
	require.True(t, ok)
	summary := families[i].GetMetric()[0].GetSummary()
	assert.Equal(t, uint64(2), summary.GetSampleCount())
	assert.InDelta(t, 6000, summary.GetSampleSum(), 1e-9)

	i, ok = byName["backfill_active_downloads"]
	require.True(t, ok)
	assert.Equal(t, 2.0, families[i].GetMetric()[0].GetGauge().GetValue())

	_, ok = byName["go_goroutines"]
	assert.True(t, ok)
}

func TestPrometheusRegistry_NilCollector(t *testing.T) {
	var mc *MetricsCollector
	_, err := mc.PrometheusRegistry().Gather()
	assert.NoError(t, err)
}
