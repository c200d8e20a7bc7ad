package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewGormStore_Errors(t *testing.T) {
	t.Parallel()

	if _, err := NewGormStore("", zerolog.Nop()); err == nil || !strings.Contains(err.Error(), "dsn is required") {
		t.Fatalf("err=%v", err)
	}
	_, err := NewGormStore("mesh:secret@tcp(127.0.0.1:1)/vpc_mesh?timeout=1s", zerolog.Nop())
	if err == nil || !strings.Contains(err.Error(), "store: open mysql") {
		t.Fatalf("err=%v", err)
	}
}

func TestCreateDatabase_DSN(t *testing.T) {
	t.Parallel()

	if err := createDatabase("not a dsn"); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := createDatabase("mesh:secret@tcp(127.0.0.1:1)/"); err == nil || !strings.Contains(err.Error(), "names no database") {
		t.Fatalf("err=%v", err)
	}
}

// Runs against a real server when VPC_MESH_MYSQL_DSN is set, e.g.
// VPC_MESH_MYSQL_DSN='root:root@tcp(127.0.0.1:3306)/vpc_mesh_test?parseTime=true'.
func TestGormStore_MySQL(t *testing.T) {
	dsn := os.Getenv("VPC_MESH_MYSQL_DSN")
	if dsn == "" {
		t.Skip("set VPC_MESH_MYSQL_DSN to run")
	}

	g, err := NewGormStore(dsn, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	defer g.Close()
	ctx := context.Background()

	first, err := g.Save(ctx, testSnapshot("eu-west-1"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := g.Save(ctx, testSnapshot("eu-west-1", "eu-west-2"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if second.Version <= first.Version {
		t.Fatalf("versions %d then %d", first.Version, second.Version)
	}
	got, err := g.Load(ctx)
	if err != nil || got.Version != second.Version || len(got.Networks) != 2 {
		t.Fatalf("got=%+v err=%v", got, err)
	}
	hist, err := g.History(ctx, 2)
	if err != nil || len(hist) != 2 || hist[0].Version != first.Version || hist[1].Version != second.Version {
		t.Fatalf("hist=%+v err=%v", hist, err)
	}
	rolled, err := g.Rollback(ctx, first.Version)
	if err != nil || rolled.Version <= second.Version || len(rolled.Networks) != 1 {
		t.Fatalf("rolled=%+v err=%v", rolled, err)
	}
	if _, err := g.Rollback(ctx, -1); !errors.Is(err, ErrNoVersion) {
		t.Fatalf("err=%v", err)
	}
}
