// Package app assembles the orchestrator and its collaborators from a loaded configuration.
// It is shared by the CLI and the Lambda handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"vpc-mesh/pkg/api"
	"vpc-mesh/pkg/auth"
	"vpc-mesh/pkg/cloud"
	"vpc-mesh/pkg/cloud/ec2"
	"vpc-mesh/pkg/cloud/fake"
	"vpc-mesh/pkg/config"
	"vpc-mesh/pkg/events"
	"vpc-mesh/pkg/journal"
	"vpc-mesh/pkg/logging"
	"vpc-mesh/pkg/mesh"
	"vpc-mesh/pkg/metrics"
	"vpc-mesh/pkg/store"
	"vpc-mesh/pkg/waiter"
)

const Name = "vpc-mesh"

// App holds the long-lived components of one process.
type App struct {
	Config   config.Config
	Log      zerolog.Logger
	Provider cloud.Provider
	Store    store.SnapshotStore
	Journal  journal.Journal
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Hub      *api.Hub
}

// New builds an App. Logs go to out (stderr when nil). The caller must Close it.
func New(ctx context.Context, cfg config.Config, out io.Writer) (*App, error) {
	log := logging.New(Name, cfg.Log.Level, cfg.Log.Format, out)

	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Options{
		Kind:         cfg.Store.Kind,
		Path:         cfg.Store.Path,
		ConsulAddr:   cfg.Store.ConsulAddr,
		ConsulPrefix: cfg.Store.ConsulPrefix,
		MySQLDSN:     cfg.Store.MySQLDSN,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{
		Config:   cfg,
		Log:      log,
		Provider: provider,
		Store:    st,
		Metrics:  metrics.New(),
		Registry: prometheus.NewRegistry(),
		Hub:      api.NewHub(log),
	}
	if !cfg.Journal.Disabled {
		j, err := journal.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			_ = store.Close(st)
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.Journal = j
	}
	if err := a.Metrics.Register(a.Registry); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return a, nil
}

// NewProvider returns the control-plane provider named by cfg.Provider.
func NewProvider(cfg config.Config) (cloud.Provider, error) {
	switch cfg.Provider {
	case config.ProviderAWS, "":
		return ec2.NewProvider(cfg.AWS.Profile), nil
	case config.ProviderFake:
		return fake.New(fake.Options{}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Observer fans progress events out to the journal, metrics, the live hub and the log.
func (a *App) Observer() events.Observer {
	var j events.Observer
	if a.Journal != nil {
		j = journal.Observer(a.Journal, a.Log)
	}
	return events.Multi(j, a.Metrics, a.Hub, LogObserver(a.Log))
}

// MeshConfig maps the configuration onto orchestrator settings.
func (a *App) MeshConfig() mesh.Config {
	c := a.Config
	return mesh.Config{
		RegionConcurrency: c.Mesh.RegionConcurrency,
		EdgeConcurrency:   c.Mesh.EdgeConcurrency,
		FailFast:          c.Mesh.FailFast,
		Wait: waiter.Policy{
			InitialInterval: c.Wait.InitialInterval,
			MaxInterval:     c.Wait.MaxInterval,
			Timeout:         c.Wait.Timeout,
		},
		WatchAttempts: c.Watch.Attempts,
		WatchDelay:    c.Watch.Delay,
	}
}

func (a *App) Orchestrator() *mesh.Orchestrator {
	return mesh.New(a.Provider, a.Store, a.MeshConfig(), a.Log, a.Observer())
}

// Server returns the status API. Authentication is enabled when a JWT secret is configured.
func (a *App) Server() (*api.Server, error) {
	var signer *auth.Signer
	if a.Config.API.JWTSecret != "" {
		s, err := auth.NewSigner(a.Config.API.JWTSecret, a.Config.API.TokenTTL)
		if err != nil {
			return nil, err
		}
		signer = s
	}
	return api.NewServer(api.Options{
		Store:    a.Store,
		Journal:  a.Journal,
		Signer:   signer,
		Users:    auth.Users(a.Config.API.Users),
		Gatherer: a.Registry,
		Hub:      a.Hub,
		Log:      a.Log,
	}), nil
}

func (a *App) Close() error {
	var errs []error
	if a.Journal != nil {
		errs = append(errs, a.Journal.Close())
	}
	errs = append(errs, store.Close(a.Store))
	return errors.Join(errs...)
}

// LogObserver writes every event at debug level; failures are logged at warn.
func LogObserver(log zerolog.Logger) events.Observer {
	return events.Func(func(e events.Event) {
		ev := log.Debug()
		if e.Kind == events.EdgeFailed || e.Kind == events.ProvisionFailed || e.Kind == events.RouteUnconverged {
			ev = log.Warn()
		}
		ev.Str("run", e.RunID).Str("event", string(e.Kind)).Str("target", e.Target())
		if e.State != "" {
			ev = ev.Str("state", e.State)
		}
		if e.PeeringID != "" {
			ev = ev.Str("peering", e.PeeringID)
		}
		ev.Msg(e.Detail)
	})
}
