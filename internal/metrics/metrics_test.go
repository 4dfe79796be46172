package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestQueueMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewQueueMetrics(reg)
	m.ObserveCommand("issue_ticket", nil)
	m.ObserveCommand("issue_ticket", errors.New("boom"))
	m.ObserveTicket("created")
	m.ObserveNotification("sent")
	m.SetCounters(10, 2)

	if got := testutil.ToFloat64(m.commandsTotal.WithLabelValues("issue_ticket", "error")); got != 1 {
		t.Fatalf("error commands=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.waiting); got != 10 {
		t.Fatalf("waiting gauge=%v, want 10", got)
	}
}

func TestHTTPMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.ObserveRequest("GET", 200, 0.01)
	m.ObserveRequest("GET", 200, 0.02)
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "200")); got != 2 {
		t.Fatalf("requests=%v, want 2", got)
	}
}

func TestWebhookMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.ObserveEvent("message", "handled")
	if got := testutil.ToFloat64(m.eventsTotal.WithLabelValues("message", "handled")); got != 1 {
		t.Fatalf("events=%v, want 1", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var q *QueueMetrics
	q.ObserveCommand("x", nil)
	q.ObserveTicket("created")
	q.ObserveNotification("sent")
	q.SetCounters(1, 1)
	var h *HTTPMetrics
	h.ObserveRequest("GET", 200, 0.1)
	var w *WebhookMetrics
	w.ObserveEvent("follow", "handled")
}
