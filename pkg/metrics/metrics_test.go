package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"vpc-mesh/pkg/events"
)

func TestMetrics_CountsEvents(t *testing.T) {
	t.Parallel()

	m := New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Now()
	m.Observe(events.Event{Kind: events.RunStarted, RunID: "r", Time: start})
	m.Observe(events.Event{Kind: events.NetworkProvisioned, Region: "eu-west-1"})
	m.Observe(events.Event{Kind: events.NetworkProvisioned, Region: "eu-west-1"})
	m.Observe(events.Event{Kind: events.EdgeLinked})
	m.Observe(events.Event{Kind: events.EdgeFailed})
	m.Observe(events.Event{Kind: events.RouteConverged})
	m.Observe(events.Event{Kind: events.RouteUnconverged})
	m.Observe(events.Event{Kind: events.LinkState, State: "active"})
	m.Observe(events.Event{Kind: events.RunFinished, RunID: "r", State: "failed", Time: start.Add(3 * time.Second)})

	if got := testutil.ToFloat64(m.provisioned.WithLabelValues("eu-west-1")); got != 2 {
		t.Fatalf("provisioned=%v", got)
	}
	if got := testutil.ToFloat64(m.edges.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed edges=%v", got)
	}
	if got := testutil.ToFloat64(m.routes.WithLabelValues("unconverged")); got != 1 {
		t.Fatalf("unconverged=%v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("failed")); got != 1 {
		t.Fatalf("runs=%v", got)
	}
	if n := testutil.CollectAndCount(m.runDuration); n != 1 {
		t.Fatalf("duration series=%d", n)
	}
}

func TestMetrics_RegisterTwiceFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	if err := New().Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := New().Register(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
