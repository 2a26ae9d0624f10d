// Package metrics exposes the swap pager's sysctl-equivalent counters
// (spec §6) as a Prometheus collector, in the shape of
// talyz-systemd_exporter/systemd.Collector: a set of *prometheus.Desc
// fields built once in a constructor, and a Collect method that reads
// live state on every scrape rather than maintaining its own counters.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ryogrid/go-swap-pager/device"
)

const namespace = "swap"

// Source is the read-only surface metrics.Collector needs from a
// running pager. pager.SwapPager satisfies it directly.
type Source interface {
	Full() bool
	AlmostFull() bool
	AsyncMax() int
	DeviceSnapshot() []device.Info
	DMMAX() int64
}

// Collector adapts a Source to prometheus.Collector.
type Collector struct {
	src Source

	asyncMax   *prometheus.Desc
	dmmax      *prometheus.Desc
	full       *prometheus.Desc
	almostFull *prometheus.Desc
	deviceInfo *prometheus.Desc
	deviceUsed *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector scraping src on every Collect call.
func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,
		asyncMax: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "async_max"),
			"Current vm.swap_async_max equivalent: bounded async write reservoir usage.",
			nil, nil,
		),
		dmmax: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "dmmax"),
			"Fixed DMMAX interleave stripe size, in pages.",
			nil, nil,
		),
		full: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "pager_full"),
			"1 if the pager has hit the OOM-level swap exhaustion threshold.",
			nil, nil,
		),
		almostFull: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "pager_almost_full"),
			"1 if the pager has seen at least one failed allocation since it last cleared.",
			nil, nil,
		),
		deviceInfo: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "device_info"),
			"Static per-device metadata; value is always 1.",
			[]string{"index", "path"}, nil,
		),
		deviceUsed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "device_used_blocks"),
			"Currently allocated page-sized blocks on this device.",
			[]string{"index", "path"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.asyncMax
	ch <- c.dmmax
	ch <- c.full
	ch <- c.almostFull
	ch <- c.deviceInfo
	ch <- c.deviceUsed
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.asyncMax, prometheus.GaugeValue, float64(c.src.AsyncMax()))
	ch <- prometheus.MustNewConstMetric(c.dmmax, prometheus.GaugeValue, float64(c.src.DMMAX()))
	ch <- prometheus.MustNewConstMetric(c.full, prometheus.GaugeValue, boolToFloat(c.src.Full()))
	ch <- prometheus.MustNewConstMetric(c.almostFull, prometheus.GaugeValue, boolToFloat(c.src.AlmostFull()))

	for _, info := range c.src.DeviceSnapshot() {
		idx := strconv.Itoa(info.Index)
		ch <- prometheus.MustNewConstMetric(c.deviceInfo, prometheus.GaugeValue, 1, idx, info.Path)
		ch <- prometheus.MustNewConstMetric(c.deviceUsed, prometheus.GaugeValue, float64(info.Used), idx, info.Path)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
