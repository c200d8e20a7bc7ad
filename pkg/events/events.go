// Package events carries mesh progress notifications from the orchestrator to its observers
// (journal, metrics, live stream).
package events

import (
	"sync"
	"time"

	"vpc-mesh/pkg/model"
)

// Kind names a progress milestone.
type Kind string

const (
	RunStarted         Kind = "run_started"
	NetworkProvisioned Kind = "network_provisioned"
	ProvisionFailed    Kind = "provision_failed"
	SnapshotSaved      Kind = "snapshot_saved"
	EdgeStarted        Kind = "edge_started"
	LinkState          Kind = "link_state"
	RouteInstalled     Kind = "route_installed"
	RouteConverged     Kind = "route_converged"
	RouteUnconverged   Kind = "route_unconverged"
	EdgeLinked         Kind = "edge_linked"
	EdgeFailed         Kind = "edge_failed"
	RunFinished        Kind = "run_finished"
)

// Event is one progress notification.
type Event struct {
	RunID     string      `json:"runId,omitempty"`
	Kind      Kind        `json:"kind"`
	Time      time.Time   `json:"time"`
	Region    string      `json:"region,omitempty"`
	Network   string      `json:"network,omitempty"`
	Edge      *model.Edge `json:"edge,omitempty"`
	PeeringID string      `json:"peeringId,omitempty"`
	State     string      `json:"state,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// Target names the object the event is about.
func (e Event) Target() string {
	switch {
	case e.Edge != nil:
		return e.Edge.String()
	case e.Network != "":
		return e.Network
	default:
		return e.Region
	}
}

// Observer receives events. Implementations must be safe for concurrent use.
type Observer interface {
	Observe(Event)
}

// Func adapts a function to Observer.
type Func func(Event)

func (f Func) Observe(e Event) { f(e) }

// Discard drops every event.
var Discard Observer = Func(func(Event) {})

// Multi fans events out to every observer in order.
func Multi(observers ...Observer) Observer {
	out := make(multi, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multi []Observer

func (m multi) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// WithRun stamps the run id and time on every event before passing it on.
func WithRun(runID string, next Observer) Observer {
	return Func(func(e Event) {
		e.RunID = runID
		if e.Time.IsZero() {
			e.Time = time.Now().UTC()
		}
		next.Observe(e)
	})
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
