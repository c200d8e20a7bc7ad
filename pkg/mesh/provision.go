package mesh

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"vpc-mesh/pkg/events"
	"vpc-mesh/pkg/model"
	"vpc-mesh/pkg/provision"
)

func (o *Orchestrator) provision(ctx context.Context, r *run, regions []string) ([]model.NetworkDescriptor, error) {
	if len(regions) == 0 {
		return nil, ErrNoRegions
	}
	if len(regions) > provision.MaxSlot+1 {
		return nil, fmt.Errorf("%w: %d", ErrTooManyRegions, len(regions))
	}
	seen := make(map[string]bool, len(regions))
	for _, region := range regions {
		if seen[region] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRegion, region)
		}
		seen[region] = true
	}

	networks := make([]model.NetworkDescriptor, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(o.cfg.RegionConcurrency))
	for slot, region := range regions {
		slot, region := slot, region
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			desc, err := r.provisioner.Provision(gctx, region, slot)
			if err != nil {
				r.observer.Observe(events.Event{Kind: events.ProvisionFailed, Region: region, Detail: err.Error()})
				return &ProvisionError{Region: region, Slot: slot, Err: err}
			}
			networks[slot] = desc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return networks, nil
}

func limit(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
