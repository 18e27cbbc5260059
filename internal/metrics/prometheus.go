package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors holds the service's Prometheus metrics. A nil *Collectors records nothing.
type Collectors struct {
	framesTotal         *prometheus.CounterVec
	detectorErrorsTotal *prometheus.CounterVec
	detectorDuration    *prometheus.HistogramVec
	confirmationsTotal  *prometheus.CounterVec
	eventsTotal         *prometheus.CounterVec
	dispatchDropped     prometheus.Counter
	dispatchQueueDepth  prometheus.Gauge
	writeDuration       *prometheus.HistogramVec
	exemptionsActive    prometheus.Gauge
	exemptionRefreshes  *prometheus.CounterVec
	publishErrorsTotal  *prometheus.CounterVec

	collectors []prometheus.Collector
}

func NewCollectors(registry prometheus.Registerer) (*Collectors, error) {
	m := &Collectors{}
	m.framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dresswatch_frames_total", Help: "Frames read per camera"},
		[]string{"camera"},
	)
	m.detectorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dresswatch_detector_errors_total", Help: "Detector calls that failed"},
		[]string{"camera"},
	)
	m.detectorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dresswatch_detector_duration_seconds",
			Help:    "Time spent in one detector call",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"camera"},
	)
	m.confirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dresswatch_confirmations_total", Help: "Classes confirmed and admitted by the emission gate"},
		[]string{"camera", "kind"},
	)
	m.eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dresswatch_events_written_total", Help: "Event record writes by outcome"},
		[]string{"collection", "status"},
	)
	m.dispatchDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dresswatch_dispatch_dropped_total", Help: "Confirmations dropped because the dispatch queue was full"},
	)
	m.dispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dresswatch_dispatch_queue_depth", Help: "Confirmations waiting for a dispatch worker"},
	)
	m.writeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dresswatch_write_duration_seconds",
			Help:    "Snapshot and record write latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"step"},
	)
	m.exemptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dresswatch_exemptions_active", Help: "Exemption entries active in the latest snapshot"},
	)
	m.exemptionRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dresswatch_exemption_refreshes_total", Help: "Exemption refreshes by outcome"},
		[]string{"status"},
	)
	m.publishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dresswatch_publish_errors_total", Help: "Event publish failures by publisher"},
		[]string{"publisher"},
	)
	m.collectors = []prometheus.Collector{
		m.framesTotal, m.detectorErrorsTotal, m.detectorDuration, m.confirmationsTotal,
		m.eventsTotal, m.dispatchDropped, m.dispatchQueueDepth, m.writeDuration,
		m.exemptionsActive, m.exemptionRefreshes, m.publishErrorsTotal,
	}
	if registry != nil {
		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *Collectors) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Collectors) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

func (m *Collectors) ObserveFrame(camera string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(camera).Inc()
}

func (m *Collectors) ObserveDetector(camera string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.detectorDuration.WithLabelValues(camera).Observe(d.Seconds())
	if err != nil {
		m.detectorErrorsTotal.WithLabelValues(camera).Inc()
	}
}

func (m *Collectors) ObserveConfirmation(camera, kind string) {
	if m == nil {
		return
	}
	m.confirmationsTotal.WithLabelValues(camera, kind).Inc()
}

func (m *Collectors) ObserveWrite(collection string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.eventsTotal.WithLabelValues(collection, status).Inc()
}

func (m *Collectors) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.writeDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Collectors) ObserveDrop() {
	if m == nil {
		return
	}
	m.dispatchDropped.Inc()
}

func (m *Collectors) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.dispatchQueueDepth.Set(float64(n))
}

func (m *Collectors) ObserveExemptionRefresh(active int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.exemptionRefreshes.WithLabelValues("error").Inc()
		return
	}
	m.exemptionRefreshes.WithLabelValues("success").Inc()
	m.exemptionsActive.Set(float64(active))
}

func (m *Collectors) ObservePublishError(publisher string) {
	if m == nil {
		return
	}
	m.publishErrorsTotal.WithLabelValues(publisher).Inc()
}
