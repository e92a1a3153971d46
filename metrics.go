package pagedb

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/pagedb/internal/arena"
	"github.com/hupe1980/pagedb/persistence"
	"github.com/hupe1980/pagedb/resource"
)

// Metrics exports DB activity to Prometheus. Counters and histograms are
// updated as operations finish; per-pool gauges are read from the registry
// at scrape time.
//
//	m := pagedb.NewMetrics("pagedb")
//	prometheus.MustRegister(m)
//	db, err := pagedb.Open(dir, pagedb.WithMetrics(m))
type Metrics struct {
	saves            *prometheus.CounterVec
	loads            *prometheus.CounterVec
	saveDuration     prometheus.Histogram
	loadDuration     prometheus.Histogram
	bytesWritten     prometheus.Counter
	checksumFailures prometheus.Counter
	publishes        *prometheus.CounterVec
	fetches          *prometheus.CounterVec

	poolBytes  *prometheus.Desc
	poolPages  *prometheus.Desc
	poolAllocs *prometheus.Desc
	memory     *prometheus.Desc

	mu         sync.Mutex
	source     func() []arena.Stats
	controller *resource.Controller
}

// NewMetrics creates the collector. namespace prefixes every metric name.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Triad saves by container kind and result",
		}, []string{"kind", "result"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Triad loads by container kind and result",
		}, []string{"kind", "result"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "save_duration_seconds",
			Help:      "Duration of triad saves",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Duration of triad loads",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Uncompressed bytes written to triads",
		}),
		checksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_failures_total",
			Help:      "Loads rejected because the header checksum did not match",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Triad generations uploaded to the blob store by result",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Triad generations downloaded from the blob store by result",
		}, []string{"result"}),
		poolBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "bytes"),
			"Pool memory by state (reserved, used, free)",
			[]string{"pool", "state"}, nil,
		),
		poolPages: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "pages"),
			"Pages held by a pool",
			[]string{"pool"}, nil,
		),
		poolAllocs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "allocations_total"),
			"Slot operations of a pool (alloc, free, reuse)",
			[]string{"pool", "op"}, nil,
		),
		memory: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "memory", "bytes"),
			"Chunk memory granted by the resource controller (used, peak, limit)",
			[]string{"state"}, nil,
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.saves, m.loads, m.saveDuration, m.loadDuration,
		m.bytesWritten, m.checksumFailures, m.publishes, m.fetches,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
	ch <- m.poolBytes
	ch <- m.poolPages
	ch <- m.poolAllocs
	ch <- m.memory
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}

	m.mu.Lock()
	source, ctrl := m.source, m.controller
	m.mu.Unlock()

	if ctrl != nil {
		ch <- prometheus.MustNewConstMetric(m.memory, prometheus.GaugeValue, float64(ctrl.MemoryUsage()), "used")
		ch <- prometheus.MustNewConstMetric(m.memory, prometheus.GaugeValue, float64(ctrl.MemoryPeak()), "peak")
		if limit := ctrl.MemoryLimit(); limit > 0 {
			ch <- prometheus.MustNewConstMetric(m.memory, prometheus.GaugeValue, float64(limit), "limit")
		}
	}
	if source == nil {
		return
	}

	for _, s := range source() {
		pool := strconv.Itoa(int(s.Pool))
		ch <- prometheus.MustNewConstMetric(m.poolBytes, prometheus.GaugeValue, float64(s.BytesReserved), pool, "reserved")
		ch <- prometheus.MustNewConstMetric(m.poolBytes, prometheus.GaugeValue, float64(s.BytesUsed), pool, "used")
		ch <- prometheus.MustNewConstMetric(m.poolBytes, prometheus.GaugeValue, float64(s.FreeBytes), pool, "free")
		ch <- prometheus.MustNewConstMetric(m.poolPages, prometheus.GaugeValue, float64(s.Pages), pool)
		ch <- prometheus.MustNewConstMetric(m.poolAllocs, prometheus.CounterValue, float64(s.Allocs), pool, "alloc")
		ch <- prometheus.MustNewConstMetric(m.poolAllocs, prometheus.CounterValue, float64(s.Frees), pool, "free")
		ch <- prometheus.MustNewConstMetric(m.poolAllocs, prometheus.CounterValue, float64(s.Reuses), pool, "reuse")
	}
}

// attach points the scrape-time gauges at a registry and controller. Both
// may be nil.
func (m *Metrics) attach(source func() []arena.Stats, ctrl *resource.Controller) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.source, m.controller = source, ctrl
	m.mu.Unlock()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) recordSave(kind Kind, bytes int64, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(kind.String(), result(err)).Inc()
	if err == nil {
		m.saveDuration.Observe(took.Seconds())
		m.bytesWritten.Add(float64(bytes))
	}
}

func (m *Metrics) recordLoad(kind Kind, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(kind.String(), result(err)).Inc()
	if err == nil {
		m.loadDuration.Observe(took.Seconds())
	}
	if err != nil && persistence.IsChecksumMismatch(err) {
		m.checksumFailures.Inc()
	}
}

func (m *Metrics) recordPublish(err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) recordFetch(err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result(err)).Inc()
}
