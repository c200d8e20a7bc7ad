package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"vpc-mesh/pkg/model"
)

func testSnapshot(regions ...string) model.Snapshot {
	networks := make([]model.NetworkDescriptor, 0, len(regions))
	for i, r := range regions {
		networks = append(networks, model.NetworkDescriptor{
			Region:            r,
			CIDR:              fmt.Sprintf("10.%d.0.0/16", i),
			NetworkID:         fmt.Sprintf("vpc-%d", i),
			InternetGatewayID: fmt.Sprintf("igw-%d", i),
			SubnetIDs:         []string{fmt.Sprintf("subnet-%d-a", i), fmt.Sprintf("subnet-%d-b", i), fmt.Sprintf("subnet-%d-c", i)},
			RouteTableID:      fmt.Sprintf("rtb-%d", i),
		})
	}
	return model.NewSnapshot(networks)
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()
	if _, err := m.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("err=%v", err)
	}
	saved, err := m.Save(ctx, testSnapshot("eu-west-1", "eu-west-2"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("version=%d", saved.Version)
	}
	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Networks) != 2 || got.Networks[1].Region != "eu-west-2" {
		t.Fatalf("got=%+v", got)
	}

	got.Networks[0].SubnetIDs[0] = "mutated"
	again, _ := m.Load(ctx)
	if again.Networks[0].SubnetIDs[0] == "mutated" {
		t.Fatalf("Load shares state with caller")
	}
}

func TestMemoryStore_RejectsInvalid(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	s := testSnapshot("eu-west-1", "eu-west-1")
	if _, err := m.Save(context.Background(), s); err == nil {
		t.Fatalf("expected duplicate region error")
	}
	if _, err := m.Save(context.Background(), model.Snapshot{}); err == nil {
		t.Fatalf("expected empty snapshot error")
	}
}

func TestMemoryStore_HistoryAndRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()
	for _, regions := range [][]string{{"a"}, {"a", "b"}, {"a", "b", "c"}} {
		if _, err := m.Save(ctx, testSnapshot(regions...)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	hist, _ := m.History(ctx, 2)
	if len(hist) != 2 || hist[0].Version != 2 || hist[1].Version != 3 {
		t.Fatalf("hist=%+v", hist)
	}
	if _, err := m.Rollback(ctx, 1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	cur, _ := m.Load(ctx)
	if cur.Version != 1 || len(cur.Networks) != 1 {
		t.Fatalf("cur=%+v", cur)
	}
	if _, err := m.Rollback(ctx, 42); !errors.Is(err, ErrNoVersion) {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryStore_Lock(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	unlock, err := m.Lock(context.Background(), "mesh")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := m.Lock(context.Background(), "mesh"); !errors.Is(err, ErrLocked) {
		t.Fatalf("second lock err=%v", err)
	}
	unlock()
	if _, err := m.Lock(context.Background(), "mesh"); err != nil {
		t.Fatalf("relock: %v", err)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	s, err := Open(Options{Kind: KindMemory}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("store=%T", s)
	}
	s, err = Open(Options{Path: t.TempDir() + "/mesh.json"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("store=%T", s)
	}
	s, err = Open(Options{Kind: KindConsul, ConsulAddr: "http://127.0.0.1:8500", ConsulPrefix: "mesh"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open consul: %v", err)
	}
	if cs, ok := s.(*ConsulStore); !ok || cs.snapshotKey() != "mesh/snapshot" {
		t.Fatalf("store=%T", s)
	}
	if _, err := Open(Options{Kind: "etcd"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected unknown backend error")
	}
	if _, err := Open(Options{Kind: KindMySQL}, zerolog.Nop()); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestGormRows(t *testing.T) {
	t.Parallel()

	row, err := toRow(testSnapshot("eu-west-1", "eu-north-1"))
	if err != nil {
		t.Fatalf("toRow: %v", err)
	}
	if row.Regions != "eu-west-1,eu-north-1" || row.CreatedAt.IsZero() {
		t.Fatalf("row=%+v", row)
	}
	row.ID = 7
	s, err := fromRow(row)
	if err != nil {
		t.Fatalf("fromRow: %v", err)
	}
	if s.Version != 7 || len(s.Networks) != 2 || s.Networks[1].RouteTableID != "rtb-1" {
		t.Fatalf("snapshot=%+v", s)
	}
}
