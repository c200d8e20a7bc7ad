// Package peering establishes one point-to-point link between two provisioned networks: a
// two-sided request/accept handshake followed by a route in each network's table.
package peering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vpc-mesh/pkg/cloud"
	"vpc-mesh/pkg/convergence"
	"vpc-mesh/pkg/events"
	"vpc-mesh/pkg/model"
	"vpc-mesh/pkg/waiter"
)

// ErrPeeringFailed is matched when the control plane reports a terminal peering status.
var ErrPeeringFailed = errors.New("peering: connection entered a terminal failure state")

// Handshake stages reported in HandshakeError.
const (
	StageRequest          = "request"
	StageRequesterPending = "requester_pending_acceptance"
	StageAccepterPending  = "accepter_pending_acceptance"
	StageAccept           = "accept"
	StageActive           = "active"
	StageRouteRequester   = "route_requester"
	StageRouteAccepter    = "route_accepter"
)

// HandshakeError reports the stage at which linking an edge stopped.
type HandshakeError struct {
	Edge      model.Edge
	Stage     string
	PeeringID string
	Err       error
}

func (e *HandshakeError) Error() string {
	if e.PeeringID != "" {
		return fmt.Sprintf("edge %s: %s (%s): %v", e.Edge, e.Stage, e.PeeringID, e.Err)
	}
	return fmt.Sprintf("edge %s: %s: %v", e.Edge, e.Stage, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Establisher links pairs of networks.
type Establisher struct {
	wait     waiter.Policy
	watcher  *convergence.Watcher
	log      zerolog.Logger
	observer events.Observer
}

// New returns an establisher. Handshake polls use wait; installed routes are watched by watcher.
func New(wait waiter.Policy, watcher *convergence.Watcher, log zerolog.Logger, observer events.Observer) *Establisher {
	if observer == nil {
		observer = events.Discard
	}
	if watcher == nil {
		watcher = convergence.New(0, convergence.DefaultDelay, log, observer)
	}
	return &Establisher{wait: wait, watcher: watcher, log: log, observer: observer}
}

// Establish links a (requester, reached through requester) with b (accepter, reached through
// accepter). Acceptance is issued only after both sides report pending-acceptance. On success the
// returned link is active and carries one route record per direction; routes that did not
// converge within the watcher budget are kept with their last observed state.
func (e *Establisher) Establish(ctx context.Context, requester, accepter cloud.ControlPlane, edge model.Edge, a, b model.NetworkDescriptor) (model.PeeringLink, error) {
	link := model.PeeringLink{Edge: edge, Requester: a, Accepter: b}
	log := e.log.With().
		Str("edge", edge.String()).
		Str("requester", a.Region).
		Str("accepter", b.Region).
		Logger()
	started := time.Now()

	fail := func(stage string, err error) (model.PeeringLink, error) {
		link.State = model.LinkFailed
		e.emit(link, stage)
		return link, &HandshakeError{Edge: edge, Stage: stage, PeeringID: link.PeeringID, Err: err}
	}

	id, err := requester.CreatePeering(ctx, cloud.PeeringRequest{
		NetworkID:     a.NetworkID,
		PeerNetworkID: b.NetworkID,
		PeerRegion:    b.Region,
	})
	if err != nil {
		return fail(StageRequest, err)
	}
	link.PeeringID = id
	link.State = model.LinkRequested
	e.emit(link, StageRequest)
	log = log.With().Str("peering", id).Logger()
	log.Info().Msg("requested peering connection")

	if _, err := waiter.Until(ctx, e.wait, "peering "+id+" in "+a.Region, e.status(requester, id, cloud.PeeringPendingAcceptance)); err != nil {
		return fail(StageRequesterPending, err)
	}
	if _, err := waiter.Until(ctx, e.wait, "peering "+id+" in "+b.Region, e.status(accepter, id, cloud.PeeringPendingAcceptance)); err != nil {
		return fail(StageAccepterPending, err)
	}
	link.State = model.LinkPendingAcceptance
	e.emit(link, StageAccepterPending)

	if err := accepter.AcceptPeering(ctx, id); err != nil {
		return fail(StageAccept, err)
	}
	log.Info().Msg("accepted peering connection")

	if _, err := waiter.Until(ctx, e.wait, "peering "+id+" active", e.status(accepter, id, cloud.PeeringActive)); err != nil {
		return fail(StageActive, err)
	}
	link.State = model.LinkActive
	e.emit(link, StageActive)

	rec, err := e.route(ctx, requester, a, b.CIDR, id)
	if err != nil {
		return fail(StageRouteRequester, err)
	}
	link.Routes = append(link.Routes, rec)

	rec, err = e.route(ctx, accepter, b, a.CIDR, id)
	if err != nil {
		return fail(StageRouteAccepter, err)
	}
	link.Routes = append(link.Routes, rec)

	log.Info().Dur("took", time.Since(started)).Msg("peering link established")
	return link, nil
}

// route installs a route in owner's table to destination over the peering and watches it. The
// call goes through the control plane of the owner's region.
func (e *Establisher) route(ctx context.Context, cp cloud.ControlPlane, owner model.NetworkDescriptor, destination, peeringID string) (model.RouteRecord, error) {
	err := cp.CreateRoute(ctx, cloud.RouteSpec{
		RouteTableID: owner.RouteTableID,
		Destination:  destination,
		PeeringID:    peeringID,
	})
	if err != nil {
		return model.RouteRecord{}, fmt.Errorf("create route %s in %s: %w", destination, owner.RouteTableID, err)
	}
	e.observer.Observe(events.Event{
		Kind:      events.RouteInstalled,
		Region:    owner.Region,
		Network:   owner.RouteTableID,
		PeeringID: peeringID,
		Detail:    destination,
	})
	target := convergence.RouteTarget{
		Region:       owner.Region,
		RouteTableID: owner.RouteTableID,
		Destination:  destination,
		PeeringID:    peeringID,
	}
	return e.watcher.Watch(ctx, cp, target).Record(target), nil
}

// status waits for want and aborts on any terminal failure code.
func (e *Establisher) status(cp cloud.ControlPlane, id, want string) waiter.Check {
	return func(ctx context.Context) (string, bool, error) {
		code, err := cp.PeeringStatus(ctx, id)
		if err != nil {
			return "", false, err
		}
		if cloud.PeeringTerminalFailure(code) {
			return code, false, fmt.Errorf("%w: %s reports %q", ErrPeeringFailed, cp.Region(), code)
		}
		return code, code == want, nil
	}
}

func (e *Establisher) emit(link model.PeeringLink, stage string) {
	edge := link.Edge
	e.observer.Observe(events.Event{
		Kind:      events.LinkState,
		Edge:      &edge,
		PeeringID: link.PeeringID,
		State:     string(link.State),
		Detail:    stage,
	})
}
