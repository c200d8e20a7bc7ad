package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"vpc-mesh/pkg/cloud/ec2"
	"vpc-mesh/pkg/cloud/fake"
	"vpc-mesh/pkg/config"
	"vpc-mesh/pkg/journal"
	"vpc-mesh/pkg/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		Regions:  []string{"eu-west-1", "eu-west-2", "eu-north-1"},
		Provider: config.ProviderFake,
		Wait:     config.WaitConfig{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Timeout: time.Second},
		Watch:    config.WatchConfig{Attempts: 3, Delay: time.Millisecond},
		Store:    config.StoreConfig{Kind: store.KindFile, Path: filepath.Join(dir, "all_vpc.json")},
		Journal:  config.JournalConfig{Path: filepath.Join(dir, "journal.db")},
		Log:      config.LogConfig{Level: "debug", Format: "json"},
	}
	config.ApplyDefaults(&cfg)
	return cfg
}

func TestApp_RunRecordsJournalAndMetrics(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	a, err := New(context.Background(), testConfig(t), &logs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	report, err := a.Orchestrator().Run(context.Background(), a.Config.Regions)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Links) != 3 || report.RouteCount() != 6 {
		t.Fatalf("report=%+v", report)
	}

	entries, err := a.Journal.List(context.Background(), journal.Query{RunID: report.RunID, Kind: "edge_linked"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("journal entries=%d", len(entries))
	}
	if n, err := testutil.GatherAndCount(a.Registry, "vpcmesh_peering_edges_total"); err != nil || n != 1 {
		t.Fatalf("edge series=%d err=%v", n, err)
	}
	if !strings.Contains(logs.String(), `"event":"edge_linked"`) {
		t.Fatalf("log observer output missing:\n%s", logs.String())
	}

	snap, err := a.Store.Load(context.Background())
	if err != nil || len(snap.Networks) != 3 {
		t.Fatalf("snapshot=%+v err=%v", snap, err)
	}
}

func TestApp_JournalDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Journal.Disabled = true
	a, err := New(context.Background(), cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if a.Journal != nil {
		t.Fatalf("journal opened while disabled")
	}
	if _, err := a.Server(); err != nil {
		t.Fatalf("Server: %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	if p, err := NewProvider(config.Config{Provider: config.ProviderFake}); err != nil {
		t.Fatal(err)
	} else if _, ok := p.(*fake.Cloud); !ok {
		t.Fatalf("provider=%T", p)
	}
	if p, err := NewProvider(config.Config{Provider: config.ProviderAWS}); err != nil {
		t.Fatal(err)
	} else if _, ok := p.(*ec2.Provider); !ok {
		t.Fatalf("provider=%T", p)
	}
	if _, err := NewProvider(config.Config{Provider: "gcp"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestMeshConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Mesh = config.MeshConfig{EdgeConcurrency: 4, FailFast: true}
	a := &App{Config: cfg}
	mc := a.MeshConfig()
	if mc.EdgeConcurrency != 4 || !mc.FailFast || mc.WatchAttempts != 3 || mc.Wait.Timeout != time.Second {
		t.Fatalf("mesh config=%+v", mc)
	}
}
