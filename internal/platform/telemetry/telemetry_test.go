package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/phrelis/ops-agent/internal/ops"
)

func TestMetrics_PollOutcomes(t *testing.T) {
	m := NewMetrics()

	m.PollCompleted(true)
	m.PollCompleted(true)
	m.PollCompleted(false)
	m.SnapshotDropped()

	if got := testutil.ToFloat64(m.pollsTotal.WithLabelValues("success")); got != 2 {
		t.Fatalf("expected 2 successful polls, got %v", got)
	}
	if got := testutil.ToFloat64(m.pollsTotal.WithLabelValues("failure")); got != 1 {
		t.Fatalf("expected 1 failed poll, got %v", got)
	}
	if got := testutil.ToFloat64(m.snapshotsDropped); got != 1 {
		t.Fatalf("expected 1 dropped snapshot, got %v", got)
	}
}

func TestMetrics_PublishMirrorsView(t *testing.T) {
	m := NewMetrics()

	view := ops.View{
		Stress:           ops.StressSignal{Score: 75, SurgeActive: true},
		OccupancyPercent: 90,
		StreamConnected:  true,
	}
	m.Publish(ops.TopicState, view)

	if got := testutil.ToFloat64(m.stressScore); got != 75 {
		t.Fatalf("expected stress gauge 75, got %v", got)
	}
	if got := testutil.ToFloat64(m.occupancyPercent); got != 90 {
		t.Fatalf("expected occupancy gauge 90, got %v", got)
	}
	if got := testutil.ToFloat64(m.surgeActive); got != 1 {
		t.Fatalf("expected surge gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.streamConnected); got != 1 {
		t.Fatalf("expected stream gauge 1, got %v", got)
	}

	// Non-state topics leave the gauges alone.
	m.Publish(ops.TopicAlerts, []ops.Alert{})
	if got := testutil.ToFloat64(m.stressScore); got != 75 {
		t.Fatalf("expected stress gauge untouched by alert publish, got %v", got)
	}
}

func TestMetrics_MutationOutcomes(t *testing.T) {
	m := NewMetrics()

	m.MutationCompleted("admit", nil)
	m.MutationCompleted("admit", ops.ErrBedOccupied)

	if got := testutil.ToFloat64(m.mutationsTotal.WithLabelValues("admit", "success")); got != 1 {
		t.Fatalf("expected 1 successful admit, got %v", got)
	}
	if got := testutil.ToFloat64(m.mutationsTotal.WithLabelValues("admit", "failure")); got != 1 {
		t.Fatalf("expected 1 failed admit, got %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.PollCompleted(true)

	e := echo.New()
	e.GET("/metrics", m.Handler())
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "opsagent_polls_total") {
		t.Fatal("expected exposition to contain the polls counter")
	}
}
