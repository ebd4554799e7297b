// Package telemetry exposes the agent's Prometheus metrics: poll and
// stream health counters, mutation outcomes, and gauges mirroring the
// reconciled operational view.
package telemetry

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrelis/ops-agent/internal/ops"
)

// Metrics holds every collector the agent registers. It satisfies
// ops.Instrumentation so the poller reports into it directly.
type Metrics struct {
	registry *prometheus.Registry

	pollsTotal       *prometheus.CounterVec
	snapshotsDropped prometheus.Counter
	streamReconnects prometheus.Counter
	mutationsTotal   *prometheus.CounterVec
	alertsRaised     prometheus.Counter

	stressScore      prometheus.Gauge
	occupancyPercent prometheus.Gauge
	bedsAvailable    prometheus.Gauge
	surgeActive      prometheus.Gauge
	streamConnected  prometheus.Gauge
	degraded         prometheus.Gauge
	viewClients      prometheus.Gauge
}

// NewMetrics builds and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsagent",
			Name:      "polls_total",
			Help:      "Snapshot poll ticks by outcome.",
		}, []string{"outcome"}),
		snapshotsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opsagent",
			Name:      "snapshots_dropped_total",
			Help:      "Polled snapshots dropped as stale or malformed.",
		}),
		streamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opsagent",
			Name:      "stream_reconnects_total",
			Help:      "Vitals stream reconnection attempts.",
		}),
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsagent",
			Name:      "mutations_total",
			Help:      "Confirmed write operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		alertsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opsagent",
			Name:      "alerts_raised_total",
			Help:      "Alerts raised from the vitals stream.",
		}),
		stressScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opsagent",
			Name:      "stress_score",
			Help:      "Current composite stress score (0-100).",
		}),
		occupancyPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opsagent",
			Name:      "occupancy_percent",
			Help:      "Current bed occupancy percentage.",
		}),
		bedsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opsagent",
			Name:      "beds_available",
			Help:      "Beds currently available.",
		}),
		surgeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opsagent",
			Name:      "surge_active",
			Help:      "1 when surge mode is active.",
		}),
		streamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opsagent",
			Name:      "stream_connected",
			Help:      "1 when the vitals stream is connected.",
		}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opsagent",
			Name:      "degraded",
			Help:      "1 when the last snapshot fetch failed.",
		}),
		viewClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opsagent",
			Name:      "view_clients",
			Help:      "Connected dashboard view WebSocket clients.",
		}),
	}

	m.registry.MustRegister(
		m.pollsTotal,
		m.snapshotsDropped,
		m.streamReconnects,
		m.mutationsTotal,
		m.alertsRaised,
		m.stressScore,
		m.occupancyPercent,
		m.bedsAvailable,
		m.surgeActive,
		m.streamConnected,
		m.degraded,
		m.viewClients,
	)
	return m
}

// PollCompleted implements ops.Instrumentation.
func (m *Metrics) PollCompleted(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.pollsTotal.WithLabelValues(outcome).Inc()
}

// SnapshotDropped implements ops.Instrumentation.
func (m *Metrics) SnapshotDropped() {
	m.snapshotsDropped.Inc()
}

// StreamReconnect counts one redial of the vitals stream.
func (m *Metrics) StreamReconnect() {
	m.streamReconnects.Inc()
}

// MutationCompleted records one admit/discharge/dispatch/reset outcome.
func (m *Metrics) MutationCompleted(kind string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.mutationsTotal.WithLabelValues(kind, outcome).Inc()
}

// AlertRaised counts one alert raised from the stream.
func (m *Metrics) AlertRaised() {
	m.alertsRaised.Inc()
}

// SetViewClients records the current WebSocket client count.
func (m *Metrics) SetViewClients(n int) {
	m.viewClients.Set(float64(n))
}

// ObserveView mirrors the reconciled view onto the gauges. The reconciler
// publishes a View on every change, so wiring this as a publish hook keeps
// the gauges current without a scrape-time callback.
func (m *Metrics) ObserveView(v ops.View) {
	m.stressScore.Set(float64(v.Stress.Score))
	m.occupancyPercent.Set(float64(v.OccupancyPercent))
	m.bedsAvailable.Set(float64(v.State.AvailableBeds()))
	m.surgeActive.Set(boolGauge(v.Stress.SurgeActive))
	m.streamConnected.Set(boolGauge(v.StreamConnected))
	m.degraded.Set(boolGauge(v.Degraded))
}

// Publish implements ops.Publisher so the gauges ride the same fan-out as
// the view hub. Non-state topics are ignored.
func (m *Metrics) Publish(topic string, payload any) {
	if topic != ops.TopicState {
		return
	}
	if v, ok := payload.(ops.View); ok {
		m.ObserveView(v)
	}
}

// Handler returns the /metrics exposition handler for echo.
func (m *Metrics) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
