package bar

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments a Loader. A nil *Metrics records nothing.
type Metrics struct {
	daysLoaded  *prometheus.CounterVec
	daysSkipped *prometheus.CounterVec
	daysFailed  *prometheus.CounterVec
	dayDur      *prometheus.HistogramVec
	inFlight    prometheus.Gauge
}

// NewMetrics registers loader metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		daysLoaded:  f.NewCounterVec(prometheus.CounterOpts{Name: "bar_loader_days_loaded_total", Help: "Trading days loaded"}, []string{"level"}),
		daysSkipped: f.NewCounterVec(prometheus.CounterOpts{Name: "bar_loader_days_skipped_total", Help: "Trading days without data"}, []string{"level"}),
		daysFailed:  f.NewCounterVec(prometheus.CounterOpts{Name: "bar_loader_days_failed_total", Help: "Trading days that failed to load"}, []string{"level"}),
		dayDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bar_loader_day_seconds",
			Help:    "Per-day load duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"level"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{Name: "bar_loader_workers_busy", Help: "Day tasks in flight"}),
	}
}

func (m *Metrics) loaded(level string, seconds float64) {
	if m == nil {
		return
	}
	m.daysLoaded.WithLabelValues(level).Inc()
	m.dayDur.WithLabelValues(level).Observe(seconds)
}

func (m *Metrics) skipped(level string) {
	if m != nil {
		m.daysSkipped.WithLabelValues(level).Inc()
	}
}

func (m *Metrics) failed(level string) {
	if m != nil {
		m.daysFailed.WithLabelValues(level).Inc()
	}
}

func (m *Metrics) busy(delta float64) {
	if m != nil {
		m.inFlight.Add(delta)
	}
}
