package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/rs/zerolog"

	"vpc-mesh/pkg/model"
)

// DefaultConsulPrefix roots every key written by ConsulStore.
const DefaultConsulPrefix = "vpc-mesh/"

// ConsulStore keeps the snapshot document in Consul KV. The latest document lives under
// <prefix>snapshot; each save is also kept under <prefix>history/<index>.
type ConsulStore struct {
	cli      *consulapi.Client
	prefix   string
	log      zerolog.Logger
	lockWait time.Duration
}

type consulMeta struct {
	CreatedAt time.Time `json:"createdAt"`
	Regions   []string  `json:"regions"`
}

func NewConsulStore(addr, prefix string, log zerolog.Logger) (*ConsulStore, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("store: consul client: %w", err)
	}
	return NewConsulStoreWithClient(cli, prefix, log), nil
}

// NewConsulStoreWithClient wraps an existing client.
func NewConsulStoreWithClient(cli *consulapi.Client, prefix string, log zerolog.Logger) *ConsulStore {
	if prefix == "" {
		prefix = DefaultConsulPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ConsulStore{
		cli:      cli,
		prefix:   prefix,
		log:      log.With().Str("component", "consul-store").Logger(),
		lockWait: 2 * time.Second,
	}
}

func (s *ConsulStore) snapshotKey() string   { return s.prefix + "snapshot" }
func (s *ConsulStore) metaKey() string       { return s.prefix + "snapshot-meta" }
func (s *ConsulStore) historyPrefix() string { return s.prefix + "history/" }

func (s *ConsulStore) Save(ctx context.Context, snap model.Snapshot) (model.Snapshot, error) {
	if err := validate(snap); err != nil {
		return model.Snapshot{}, err
	}
	doc, err := EncodeDocument(snap)
	if err != nil {
		return model.Snapshot{}, err
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(consulMeta{CreatedAt: snap.CreatedAt, Regions: snap.Regions()})
	if err != nil {
		return model.Snapshot{}, err
	}
	kv := s.cli.KV()
	q := (&consulapi.WriteOptions{}).WithContext(ctx)
	if _, err := kv.Put(&consulapi.KVPair{Key: s.snapshotKey(), Value: doc}, q); err != nil {
		return model.Snapshot{}, fmt.Errorf("store: consul put snapshot: %w", err)
	}
	if _, err := kv.Put(&consulapi.KVPair{Key: s.metaKey(), Value: meta}, q); err != nil {
		return model.Snapshot{}, fmt.Errorf("store: consul put meta: %w", err)
	}
	latest, err := s.Load(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	histKey := s.historyPrefix() + strconv.FormatInt(latest.Version, 10)
	if _, err := kv.Put(&consulapi.KVPair{Key: histKey, Value: doc, Flags: uint64(snap.CreatedAt.Unix())}, q); err != nil {
		return model.Snapshot{}, fmt.Errorf("store: consul put history: %w", err)
	}
	return latest, nil
}

func (s *ConsulStore) Load(ctx context.Context) (model.Snapshot, error) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	pair, _, err := s.cli.KV().Get(s.snapshotKey(), q)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("store: consul get snapshot: %w", err)
	}
	if pair == nil {
		return model.Snapshot{}, ErrNoSnapshot
	}
	snap, err := DecodeDocument(pair.Value)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap.Version = int64(pair.ModifyIndex)
	if mp, _, err := s.cli.KV().Get(s.metaKey(), q); err == nil && mp != nil {
		var meta consulMeta
		if json.Unmarshal(mp.Value, &meta) == nil {
			snap.CreatedAt = meta.CreatedAt
		}
	}
	return snap, nil
}

// History lists saved documents, oldest first.
func (s *ConsulStore) History(ctx context.Context, limit int) ([]model.Snapshot, error) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	pairs, _, err := s.cli.KV().List(s.historyPrefix(), q)
	if err != nil {
		return nil, fmt.Errorf("store: consul list history: %w", err)
	}
	var out []model.Snapshot
	for _, p := range pairs {
		snap, err := DecodeDocument(p.Value)
		if err != nil {
			return nil, fmt.Errorf("store: consul history %s: %w", p.Key, err)
		}
		snap.Version, _ = strconv.ParseInt(strings.TrimPrefix(p.Key, s.historyPrefix()), 10, 64)
		snap.CreatedAt = time.Unix(int64(p.Flags), 0).UTC()
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Rollback writes an earlier document back as the latest snapshot.
func (s *ConsulStore) Rollback(ctx context.Context, version int64) (model.Snapshot, error) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	pair, _, err := s.cli.KV().Get(s.historyPrefix()+strconv.FormatInt(version, 10), q)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("store: consul get history: %w", err)
	}
	if pair == nil {
		return model.Snapshot{}, fmt.Errorf("%w: %d", ErrNoVersion, version)
	}
	snap, err := DecodeDocument(pair.Value)
	if err != nil {
		return model.Snapshot{}, err
	}
	return s.Save(ctx, snap)
}

// Lock takes a Consul session lock under <prefix>lock/<name>. It does not wait for a lock held
// elsewhere; ErrLocked is returned instead. Losing the session while the lock is held is logged.
func (s *ConsulStore) Lock(ctx context.Context, name string) (func(), error) {
	key := s.prefix + "lock/" + name
	l, err := s.cli.LockOpts(&consulapi.LockOptions{
		Key:          key,
		SessionName:  "vpc-mesh " + name,
		SessionTTL:   "30s",
		LockTryOnce:  true,
		LockWaitTime: s.lockWait,
	})
	if err != nil {
		return nil, fmt.Errorf("store: consul lock: %w", err)
	}
	lost, err := l.Lock(ctx.Done())
	if err != nil {
		return nil, fmt.Errorf("store: consul lock: %w", err)
	}
	if lost == nil {
		return nil, ErrLocked
	}
	done := make(chan struct{})
	go s.watchLock(key, lost, done)
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			if err := l.Unlock(); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("consul unlock failed")
			}
		})
	}, nil
}

// watchLock reports a lock whose session went away before it was released.
func (s *ConsulStore) watchLock(key string, lost <-chan struct{}, done <-chan struct{}) {
	select {
	case <-done:
	case <-lost:
		select {
		case <-done:
			return
		default:
		}
		s.log.Error().Str("key", key).Msg("consul lock lost, another runner may start building the mesh")
	}
}
