package mesh

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"vpc-mesh/pkg/cloud"
	"vpc-mesh/pkg/events"
	"vpc-mesh/pkg/model"
	"vpc-mesh/pkg/peering"
	"vpc-mesh/pkg/topology"
)

// StageSkipped marks edges never attempted because an earlier edge failed in fail-fast mode.
const StageSkipped = "skipped"

// StageCanceled marks edges that were in flight when another edge failed in fail-fast mode.
const StageCanceled = "canceled"

// StageEndpoint marks edges whose regional control plane could not be reached.
const StageEndpoint = "endpoint"

type outcome struct {
	idx         int
	edge        model.Edge
	link        model.PeeringLink
	err         error
	interrupted bool
}

func (o *Orchestrator) link(ctx context.Context, r *run, snap model.Snapshot) (model.RunReport, error) {
	report := model.RunReport{RunID: r.id, StartedAt: r.started, Snapshot: snap.Clone()}
	if err := snap.Validate(); err != nil {
		return report, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	edges := topology.Edges(len(snap.Networks))
	report.Edges = edges
	if len(edges) == 0 {
		r.log.Info().Int("networks", len(snap.Networks)).Msg("nothing to link")
		return report, nil
	}

	planes, planeErrs := o.planes(ctx, snap.Networks)

	linkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan outcome)
	collected := make(chan []outcome, 1)
	go func() {
		var all []outcome
		for oc := range results {
			all = append(all, oc)
		}
		collected <- all
	}()

	var g errgroup.Group
	g.SetLimit(limit(o.cfg.EdgeConcurrency))
	for idx, edge := range edges {
		idx, edge := idx, edge
		g.Go(func() error {
			if linkCtx.Err() != nil {
				results <- outcome{idx: idx, edge: edge, err: linkCtx.Err()}
				return nil
			}
			link, err := o.linkEdge(linkCtx, r, snap, planes, planeErrs, edge)
			interrupted := false
			if err != nil && o.cfg.FailFast {
				// Only the edge that failed on its own cancels the others.
				interrupted = ctx.Err() == nil && linkCtx.Err() != nil && errors.Is(err, context.Canceled)
				if !interrupted {
					cancel()
				}
			}
			results <- outcome{idx: idx, edge: edge, link: link, err: err, interrupted: interrupted}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	all := <-collected
	sort.Slice(all, func(i, j int) bool { return all[i].idx < all[j].idx })

	var merr *multierror.Error
	for _, oc := range all {
		a, b := snap.Networks[oc.edge.A], snap.Networks[oc.edge.B]
		if oc.err == nil {
			report.Links = append(report.Links, oc.link)
			for _, rt := range oc.link.Routes {
				if !rt.Converged() {
					report.Unconverged = append(report.Unconverged, rt)
				}
			}
			continue
		}
		stage := stageOf(oc.err)
		if oc.interrupted {
			stage = StageCanceled
		}
		failure := model.EdgeFailure{
			Edge:      oc.edge,
			Requester: a.Region,
			Accepter:  b.Region,
			Stage:     stage,
			Error:     oc.err.Error(),
		}
		report.Failures = append(report.Failures, failure)
		merr = multierror.Append(merr, fmt.Errorf("edge %s %s<->%s: %w", oc.edge, a.Region, b.Region, oc.err))
	}
	if len(report.Unconverged) > 0 {
		r.log.Warn().Int("routes", len(report.Unconverged)).Msg("some routes did not converge")
	}
	if err := merr.ErrorOrNil(); err != nil {
		r.log.Error().Int("failed", len(report.Failures)).Int("edges", len(edges)).Msg("mesh linked with failures")
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) linkEdge(ctx context.Context, r *run, snap model.Snapshot, planes map[string]cloud.ControlPlane, planeErrs map[string]error, edge model.Edge) (model.PeeringLink, error) {
	a, b := snap.Networks[edge.A], snap.Networks[edge.B]
	ev := edge
	r.observer.Observe(events.Event{Kind: events.EdgeStarted, Edge: &ev, Detail: a.Region + "<->" + b.Region})

	var link model.PeeringLink
	err := errors.Join(planeErrs[a.Region], planeErrs[b.Region])
	if err == nil {
		link, err = r.establisher.Establish(ctx, planes[a.Region], planes[b.Region], edge, a, b)
	}
	if err != nil {
		r.log.Error().Err(err).Str("edge", edge.String()).Str("requester", a.Region).Str("accepter", b.Region).Msg("edge failed")
		r.observer.Observe(events.Event{Kind: events.EdgeFailed, Edge: &ev, PeeringID: link.PeeringID, Detail: err.Error()})
		return link, err
	}
	r.observer.Observe(events.Event{Kind: events.EdgeLinked, Edge: &ev, PeeringID: link.PeeringID, State: string(link.State)})
	return link, nil
}

// planes resolves one control plane per region up front so edge tasks share them read-only.
func (o *Orchestrator) planes(ctx context.Context, networks []model.NetworkDescriptor) (map[string]cloud.ControlPlane, map[string]error) {
	planes := make(map[string]cloud.ControlPlane, len(networks))
	errs := make(map[string]error)
	for _, n := range networks {
		cp, err := o.provider.Region(ctx, n.Region)
		if err != nil {
			errs[n.Region] = &endpointError{region: n.Region, err: err}
			continue
		}
		planes[n.Region] = cp
	}
	return planes, errs
}

type endpointError struct {
	region string
	err    error
}

func (e *endpointError) Error() string { return fmt.Sprintf("endpoint %s: %v", e.region, e.err) }
func (e *endpointError) Unwrap() error { return e.err }

func stageOf(err error) string {
	var he *peering.HandshakeError
	var ee *endpointError
	switch {
	case errors.As(err, &he):
		return he.Stage
	case errors.As(err, &ee):
		return StageEndpoint
	case errors.Is(err, context.Canceled):
		return StageSkipped
	default:
		return "unknown"
	}
}
