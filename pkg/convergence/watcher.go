// Package convergence polls a route table until a freshly installed route reports active.
// The budget is fixed: a route that has not converged after the last attempt is reported, never
// treated as an error.
package convergence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"vpc-mesh/pkg/cloud"
	"vpc-mesh/pkg/events"
	"vpc-mesh/pkg/logging"
	"vpc-mesh/pkg/model"
)

const (
	DefaultAttempts = 10
	DefaultDelay    = 3 * time.Second
)

var errNotInstalled = errors.New("convergence: route not present in table")

// RouteTarget identifies the route to watch.
type RouteTarget struct {
	Region       string
	RouteTableID string
	Destination  string
	PeeringID    string
}

// Result is the outcome of one watch.
type Result struct {
	Converged bool
	Attempts  int
	State     model.RouteState
	// Err is the last read error, or the context error when the watch was cut short.
	Err error
}

// Record converts the result into the route record kept on a peering link.
func (r Result) Record(t RouteTarget) model.RouteRecord {
	return model.RouteRecord{
		Region:       t.Region,
		RouteTableID: t.RouteTableID,
		Destination:  t.Destination,
		PeeringID:    t.PeeringID,
		State:        r.State,
		Attempts:     r.Attempts,
	}
}

// Watcher holds the polling budget.
type Watcher struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`

	log      zerolog.Logger
	observer events.Observer
}

// New returns a watcher with the given budget. A non-positive attempt count selects
// DefaultAttempts and a non-positive delay selects DefaultDelay.
func New(attempts int, delay time.Duration, log zerolog.Logger, observer events.Observer) *Watcher {
	if observer == nil {
		observer = events.Discard
	}
	return &Watcher{Attempts: attempts, Delay: delay, log: log, observer: observer}
}

func (w *Watcher) budget() (int, time.Duration) {
	attempts, delay := w.Attempts, w.Delay
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	return attempts, delay
}

// Watch reads the route table of t through cp until the route to t.Destination is active or the
// attempt budget is spent. Read errors consume an attempt.
func (w *Watcher) Watch(ctx context.Context, cp cloud.ControlPlane, t RouteTarget) Result {
	attempts, delay := w.budget()
	observer := w.observer
	if observer == nil {
		observer = events.Discard
	}
	log := w.log.With().
		Str("region", t.Region).
		Str("route_table", t.RouteTableID).
		Str("destination", t.Destination).
		Logger()

	res := Result{State: model.RouteUnknown}
	op := func() error {
		res.Attempts++
		routes, err := cp.Routes(ctx, t.RouteTableID)
		if err != nil {
			res.State = model.RouteUnknown
			res.Err = err
			return err
		}
		res.Err = nil
		route, ok := find(routes, t)
		if !ok {
			res.State = model.RoutePropagating
			return errNotInstalled
		}
		if route.State == cloud.RouteStateActive {
			res.State = model.RouteActive
			return nil
		}
		res.State = model.RoutePropagating
		return fmt.Errorf("convergence: route state %q", route.State)
	}
	notify := func(err error, next time.Duration) {
		msg := "route still propagating"
		if res.Err != nil {
			msg = "route table read failed"
		}
		log.Warn().Err(err).
			Str("state", string(res.State)).
			Int("attempt", res.Attempts).
			Int("of", attempts).
			Dur("retry_in", next).
			Msg(msg)
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(delay)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)
	err := backoff.RetryNotify(op, b, notify)

	event := events.Event{
		Region:    t.Region,
		Network:   t.RouteTableID,
		PeeringID: t.PeeringID,
		State:     string(res.State),
		Detail:    t.Destination,
	}
	switch {
	case err == nil:
		res.Converged = true
		log.Info().Int("attempts", res.Attempts).Msg("route converged")
		event.Kind = events.RouteConverged
	case ctx.Err() != nil:
		res.Err = ctx.Err()
		log.Warn().Err(res.Err).Int("attempts", res.Attempts).Msg("route watch canceled")
		event.Kind = events.RouteUnconverged
	default:
		logging.Critical(&log).Err(err).Int("attempts", res.Attempts).Msg("route did not converge")
		event.Kind = events.RouteUnconverged
	}
	observer.Observe(event)
	return res
}

func find(routes []cloud.Route, t RouteTarget) (cloud.Route, bool) {
	for _, r := range routes {
		if r.Destination != t.Destination {
			continue
		}
		if t.PeeringID != "" && r.PeeringID != "" && r.PeeringID != t.PeeringID {
			continue
		}
		return r, true
	}
	return cloud.Route{}, false
}
