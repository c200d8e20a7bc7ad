// Package metrics exposes mesh progress as Prometheus series.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vpc-mesh/pkg/events"
)

const namespace = "vpcmesh"

// Metrics turns progress events into counters. It implements events.Observer.
type Metrics struct {
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	provisioned  *prometheus.CounterVec
	provisionErr *prometheus.CounterVec
	edges        *prometheus.CounterVec
	linkStates   *prometheus.CounterVec
	routes       *prometheus.CounterVec

	mu      sync.Mutex
	started map[string]time.Time
}

func New() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "total",
				Help:      "Mesh runs by outcome.",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "duration_seconds",
				Help:      "Mesh run duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
		),
		provisioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provision",
				Name:      "networks_total",
				Help:      "Networks provisioned per region.",
			},
			[]string{"region"},
		),
		provisionErr: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provision",
				Name:      "failures_total",
				Help:      "Provisioning failures per region.",
			},
			[]string{"region"},
		),
		edges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "peering",
				Name:      "edges_total",
				Help:      "Edges processed by outcome.",
			},
			[]string{"outcome"},
		),
		linkStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "peering",
				Name:      "link_transitions_total",
				Help:      "Peering link state transitions.",
			},
			[]string{"state"},
		),
		routes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "routes",
				Name:      "total",
				Help:      "Peering routes by convergence result.",
			},
			[]string{"result"},
		),
		started: make(map[string]time.Time),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.runs, m.runDuration, m.provisioned, m.provisionErr, m.edges, m.linkStates, m.routes} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Observe(e events.Event) {
	switch e.Kind {
	case events.RunStarted:
		m.mu.Lock()
		m.started[e.RunID] = eventTime(e)
		m.mu.Unlock()
	case events.RunFinished:
		m.runs.WithLabelValues(e.State).Inc()
		m.mu.Lock()
		start, ok := m.started[e.RunID]
		delete(m.started, e.RunID)
		m.mu.Unlock()
		if ok {
			m.runDuration.Observe(eventTime(e).Sub(start).Seconds())
		}
	case events.NetworkProvisioned:
		m.provisioned.WithLabelValues(e.Region).Inc()
	case events.ProvisionFailed:
		m.provisionErr.WithLabelValues(e.Region).Inc()
	case events.EdgeLinked:
		m.edges.WithLabelValues("linked").Inc()
	case events.EdgeFailed:
		m.edges.WithLabelValues("failed").Inc()
	case events.LinkState:
		m.linkStates.WithLabelValues(e.State).Inc()
	case events.RouteConverged:
		m.routes.WithLabelValues("converged").Inc()
	case events.RouteUnconverged:
		m.routes.WithLabelValues("unconverged").Inc()
	}
}

func eventTime(e events.Event) time.Time {
	if e.Time.IsZero() {
		return time.Now()
	}
	return e.Time
}
