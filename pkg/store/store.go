// Package store persists the mesh checkpoint: the ordered network descriptors written once
// every region is provisioned and read back before linking.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"vpc-mesh/pkg/model"
)

var (
	ErrNoSnapshot = errors.New("store: no snapshot saved")
	ErrNoVersion  = errors.New("store: snapshot version not found")
	ErrLocked     = errors.New("store: lock held by another runner")
)

// Backend kinds accepted by Open.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindConsul = "consul"
	KindMySQL  = "mysql"
)

// SnapshotStore saves and loads the latest checkpoint.
type SnapshotStore interface {
	Save(ctx context.Context, s model.Snapshot) (model.Snapshot, error)
	Load(ctx context.Context) (model.Snapshot, error)
}

// Locker is implemented by stores that can keep two orchestrators from building the same mesh
// at once. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

// Historian is implemented by stores that keep earlier snapshots.
type Historian interface {
	History(ctx context.Context, limit int) ([]model.Snapshot, error)
	Rollback(ctx context.Context, version int64) (model.Snapshot, error)
}

// Options selects and configures a backend.
type Options struct {
	Kind         string `yaml:"kind"`
	Path         string `yaml:"path"`
	ConsulAddr   string `yaml:"consul_addr"`
	ConsulPrefix string `yaml:"consul_prefix"`
	MySQLDSN     string `yaml:"mysql_dsn"`
}

// Open returns the backend named by opts.Kind. An empty kind selects the file store.
func Open(opts Options, log zerolog.Logger) (SnapshotStore, error) {
	switch opts.Kind {
	case "", KindFile:
		return NewFileStore(opts.Path), nil
	case KindMemory:
		return NewMemoryStore(), nil
	case KindConsul:
		s, err := NewConsulStore(opts.ConsulAddr, opts.ConsulPrefix, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindMySQL:
		s, err := NewGormStore(opts.MySQLDSN, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", opts.Kind)
	}
}

// Close releases backend resources when the store holds any.
func Close(s SnapshotStore) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func validate(s model.Snapshot) error {
	if len(s.Networks) == 0 {
		return errors.New("store: snapshot has no networks")
	}
	return s.Validate()
}
