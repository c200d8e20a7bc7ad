// Package mesh drives a full build: one network per region, a checkpoint of the descriptors and
// a peering link for every pair of networks.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vpc-mesh/pkg/cloud"
	"vpc-mesh/pkg/convergence"
	"vpc-mesh/pkg/events"
	"vpc-mesh/pkg/model"
	"vpc-mesh/pkg/peering"
	"vpc-mesh/pkg/provision"
	"vpc-mesh/pkg/store"
	"vpc-mesh/pkg/waiter"
)

var (
	ErrNoRegions        = errors.New("mesh: no regions given")
	ErrDuplicateRegion  = errors.New("mesh: region listed twice")
	ErrTooManyRegions   = errors.New("mesh: more regions than address slots")
	ErrInvalidSnapshot  = errors.New("mesh: invalid snapshot")
	ErrCheckpointDiffer = errors.New("mesh: reloaded checkpoint differs from saved snapshot")
)

// LockName is the store lock held for the duration of Run.
const LockName = "mesh-run"

// Config tunes an orchestrator. Zero concurrency values mean sequential processing.
type Config struct {
	RegionConcurrency int
	EdgeConcurrency   int
	FailFast          bool
	Wait              waiter.Policy
	// Zero watch values select the convergence defaults.
	WatchAttempts int
	WatchDelay    time.Duration
}

// ProvisionError reports the region that aborted a run.
type ProvisionError struct {
	Region string
	Slot   int
	Err    error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning %s (slot %d): %v", e.Region, e.Slot, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Orchestrator builds meshes. It is safe to reuse across runs.
type Orchestrator struct {
	provider cloud.Provider
	store    store.SnapshotStore
	cfg      Config
	log      zerolog.Logger
	observer events.Observer
}

func New(provider cloud.Provider, st store.SnapshotStore, cfg Config, log zerolog.Logger, observer events.Observer) *Orchestrator {
	if observer == nil {
		observer = events.Discard
	}
	return &Orchestrator{provider: provider, store: st, cfg: cfg, log: log, observer: observer}
}

// run carries the per-run identity shared by every component of one invocation.
type run struct {
	id          string
	started     time.Time
	log         zerolog.Logger
	observer    events.Observer
	provisioner *provision.Provisioner
	establisher *peering.Establisher
}

func (o *Orchestrator) begin() *run {
	id := uuid.NewString()
	log := o.log.With().Str("run", id).Logger()
	observer := events.WithRun(id, o.observer)
	watcher := convergence.New(o.cfg.WatchAttempts, o.cfg.WatchDelay, log, observer)
	return &run{
		id:          id,
		started:     time.Now().UTC(),
		log:         log,
		observer:    observer,
		provisioner: provision.New(o.provider, o.cfg.Wait, log, observer),
		establisher: peering.New(o.cfg.Wait, watcher, log, observer),
	}
}

// Run provisions every region, checkpoints the snapshot and links every edge. A provisioning
// failure aborts the run before any edge is attempted. Edge failures are collected into the
// report and returned as one aggregate error.
func (o *Orchestrator) Run(ctx context.Context, regions []string) (model.RunReport, error) {
	r := o.begin()
	report := model.RunReport{RunID: r.id, StartedAt: r.started}

	if locker, ok := o.store.(store.Locker); ok {
		unlock, err := locker.Lock(ctx, LockName)
		if err != nil {
			return report, fmt.Errorf("mesh: acquire run lock: %w", err)
		}
		defer unlock()
	}

	r.observer.Observe(events.Event{Kind: events.RunStarted, Detail: fmt.Sprint(regions)})
	r.log.Info().Strs("regions", regions).Msg("mesh run started")

	networks, err := o.provision(ctx, r, regions)
	if err != nil {
		r.log.Error().Err(err).Msg("mesh run aborted during provisioning")
		return o.finish(r, report, err)
	}
	snap, err := o.checkpoint(ctx, r, networks)
	if err != nil {
		r.log.Error().Err(err).Msg("mesh run aborted at checkpoint")
		return o.finish(r, report, err)
	}
	report, err = o.link(ctx, r, snap)
	return o.finish(r, report, err)
}

// Provision builds one network per region, slot = position in regions.
func (o *Orchestrator) Provision(ctx context.Context, regions []string) ([]model.NetworkDescriptor, error) {
	return o.provision(ctx, o.begin(), regions)
}

// Checkpoint saves the descriptors and reads them back; linking always works from the reloaded
// snapshot.
func (o *Orchestrator) Checkpoint(ctx context.Context, networks []model.NetworkDescriptor) (model.Snapshot, error) {
	return o.checkpoint(ctx, o.begin(), networks)
}

// Link peers every pair of networks of a stored snapshot.
func (o *Orchestrator) Link(ctx context.Context, snap model.Snapshot) (model.RunReport, error) {
	r := o.begin()
	report, err := o.link(ctx, r, snap)
	return o.finish(r, report, err)
}

// Resume loads the stored snapshot and links it.
func (o *Orchestrator) Resume(ctx context.Context) (model.RunReport, error) {
	snap, err := o.store.Load(ctx)
	if err != nil {
		return model.RunReport{}, fmt.Errorf("mesh: load checkpoint: %w", err)
	}
	return o.Link(ctx, snap)
}

func (o *Orchestrator) checkpoint(ctx context.Context, r *run, networks []model.NetworkDescriptor) (model.Snapshot, error) {
	saved, err := o.store.Save(ctx, model.NewSnapshot(networks))
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("mesh: save checkpoint: %w", err)
	}
	loaded, err := o.store.Load(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("mesh: reload checkpoint: %w", err)
	}
	if len(loaded.Networks) != len(networks) {
		return model.Snapshot{}, fmt.Errorf("%w: saved %d networks, loaded %d", ErrCheckpointDiffer, len(networks), len(loaded.Networks))
	}
	r.log.Info().Int64("version", saved.Version).Int("networks", len(loaded.Networks)).Msg("checkpoint saved")
	r.observer.Observe(events.Event{Kind: events.SnapshotSaved, Detail: fmt.Sprintf("version %d", saved.Version)})
	return loaded, nil
}

func (o *Orchestrator) finish(r *run, report model.RunReport, err error) (model.RunReport, error) {
	report.RunID = r.id
	report.StartedAt = r.started
	report.FinishedAt = time.Now().UTC()
	ev := events.Event{Kind: events.RunFinished, State: "succeeded"}
	if err != nil {
		ev.State = "failed"
		ev.Detail = err.Error()
	}
	r.observer.Observe(ev)
	r.log.Info().
		Int("links", len(report.Links)).
		Int("failures", len(report.Failures)).
		Int("unconverged", len(report.Unconverged)).
		Dur("took", report.FinishedAt.Sub(r.started)).
		Msg("mesh run finished")
	return report, err
}
