package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersAndGauges(t *testing.T) {
	m := New()
	m.Inc(Join)
	m.Inc(Join)
	m.Inc(TargetNotFound)
	m.SetRooms(3)
	m.AddConnections(2)
	m.AddConnections(-1)

	if got := testutil.ToFloat64(m.events.WithLabelValues(Join)); got != 2 {
		t.Fatalf("join=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues(TargetNotFound)); got != 1 {
		t.Fatalf("target_not_found=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rooms); got != 3 {
		t.Fatalf("rooms=%v, want 3", got)
	}
	if got := testutil.ToFloat64(m.connections); got != 1 {
		t.Fatalf("connections=%v, want 1", got)
	}
}

func TestMetrics_HandlerExposesEvents(t *testing.T) {
	m := New()
	m.Inc(Forwarded)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), `fast_security_events_total{event="forwarded"} 1`) {
		t.Fatalf("missing forwarded counter:\n%s", body)
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(Join)
	m.SetRooms(1)
	m.AddConnections(1)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}
