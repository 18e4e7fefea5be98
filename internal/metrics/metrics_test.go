package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.LapRecorded()
	m.LapRejected("invalid")
	m.EventBroadcast()
	m.DeliveryDropped("ws")
	m.ClientConnected("ws")
	m.ClientDisconnected("ws")
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.LapRecorded()
	m.LapRecorded()
	m.LapRejected("rate_limited")
	m.ClientConnected("ws")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"lapboard_laps_recorded_total 2",
		`lapboard_laps_rejected_total{reason="rate_limited"} 1`,
		`lapboard_stream_clients{transport="ws"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
