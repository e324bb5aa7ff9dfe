package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "backfill"

// PrometheusRegistry returns a registry exposing the collector's metrics
// alongside the Go runtime and process collectors. Values are read from a
// snapshot on every scrape.
func (mc *MetricsCollector) PrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		promBridge{mc: mc},
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// promBridge is an unchecked collector: metric names and labels are only
// known once recorded.
type promBridge struct {
	mc *MetricsCollector
}

func (promBridge) Describe(chan<- *prometheus.Desc) {}

func (b promBridge) Collect(ch chan<- prometheus.Metric) {
	for _, m := range b.mc.GetSnapshot().Metrics {
		keys := make([]string, 0, len(m.Labels))
		for k := range m.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		values := make([]string, len(keys))
		for i, k := range keys {
			values[i] = m.Labels[k]
		}

		switch m.Type {
		case MetricTypeCounter:
			desc := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", m.Name), m.Name, keys, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, m.Value, values...)
		case MetricTypeHistogram:
			desc := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", m.Name+"_milliseconds"), m.Name, keys, nil)
			ch <- prometheus.MustNewConstSummary(desc, uint64(m.Count), m.Value, nil, values...)
		default:
			desc := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", m.Name), m.Name, keys, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, m.Value, values...)
		}
	}
}
