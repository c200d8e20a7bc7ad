package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/rs/zerolog"
)

const runLock = "mesh-run"

// consulKV serves the subset of the Consul HTTP API the store and its lock use: KV get, list,
// put, acquire and release with blocking queries, plus session create, renew and destroy.
type consulKV struct {
	mu       sync.Mutex
	index    uint64
	pairs    map[string]*consulapi.KVPair
	sessions int
	changed  chan struct{}
	closing  chan struct{}
}

func newConsulKV(t *testing.T) (*consulKV, *consulapi.Client) {
	t.Helper()
	kv := &consulKV{
		pairs:   make(map[string]*consulapi.KVPair),
		changed: make(chan struct{}),
		closing: make(chan struct{}),
	}
	srv := httptest.NewServer(kv)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(kv.closing) })
	cli, err := consulapi.NewClient(&consulapi.Config{Address: srv.URL})
	if err != nil {
		t.Fatalf("consul client: %v", err)
	}
	return kv, cli
}

// bump must be called with mu held.
func (c *consulKV) bump() uint64 {
	c.index++
	close(c.changed)
	c.changed = make(chan struct{})
	return c.index
}

func (c *consulKV) put(key string, value []byte, flags uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.bump()
	c.pairs[key] = &consulapi.KVPair{Key: key, Value: value, Flags: flags, CreateIndex: idx, ModifyIndex: idx}
}

func (c *consulKV) get(key string) *consulapi.KVPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pairs[key]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// invalidate drops a session the way Consul does when its TTL lapses.
func (c *consulKV) invalidate(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseSession(session)
}

func (c *consulKV) releaseSession(session string) {
	for _, p := range c.pairs {
		if p.Session == session {
			p.Session = ""
			p.ModifyIndex = c.bump()
		}
	}
}

func (c *consulKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/v1/session/create":
		c.mu.Lock()
		c.sessions++
		id := fmt.Sprintf("session-%d", c.sessions)
		c.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"ID": id})
	case strings.HasPrefix(path, "/v1/session/renew/"):
		id := strings.TrimPrefix(path, "/v1/session/renew/")
		_ = json.NewEncoder(w).Encode([]consulapi.SessionEntry{{ID: id, TTL: "30s"}})
	case strings.HasPrefix(path, "/v1/session/destroy/"):
		c.invalidate(strings.TrimPrefix(path, "/v1/session/destroy/"))
		_, _ = io.WriteString(w, "true")
	case strings.HasPrefix(path, "/v1/kv/"):
		key := strings.TrimPrefix(path, "/v1/kv/")
		switch r.Method {
		case http.MethodGet:
			c.serveGet(w, r, key)
		case http.MethodPut:
			c.servePut(w, r, key)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (c *consulKV) serveGet(w http.ResponseWriter, r *http.Request, key string) {
	q := r.URL.Query()
	if idx, _ := strconv.ParseUint(q.Get("index"), 10, 64); idx > 0 {
		wait := 5 * time.Minute
		if d, err := time.ParseDuration(q.Get("wait")); err == nil {
			wait = d
		}
		c.mu.Lock()
		ch, current := c.changed, c.index
		c.mu.Unlock()
		if idx >= current {
			select {
			case <-ch:
			case <-time.After(wait):
			case <-r.Context().Done():
			case <-c.closing:
			}
		}
	}

	c.mu.Lock()
	var out []*consulapi.KVPair
	if q.Has("recurse") {
		for k, p := range c.pairs {
			if strings.HasPrefix(k, key) {
				cp := *p
				out = append(out, &cp)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	} else if p, ok := c.pairs[key]; ok {
		cp := *p
		out = append(out, &cp)
	}
	index := c.index
	c.mu.Unlock()

	w.Header().Set("X-Consul-Index", strconv.FormatUint(index, 10))
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("X-Consul-KnownLeader", "true")
	if len(out) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (c *consulKV) servePut(w http.ResponseWriter, r *http.Request, key string) {
	q := r.URL.Query()
	body, _ := io.ReadAll(r.Body)
	flags, _ := strconv.ParseUint(q.Get("flags"), 10, 64)

	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pairs[key]
	if !ok {
		p = &consulapi.KVPair{Key: key}
	}
	switch {
	case q.Has("acquire"):
		session := q.Get("acquire")
		if p.Session != "" && p.Session != session {
			_, _ = io.WriteString(w, "false")
			return
		}
		p.Session = session
		p.LockIndex++
	case q.Has("release"):
		if p.Session != q.Get("release") {
			_, _ = io.WriteString(w, "false")
			return
		}
		p.Session = ""
	}
	p.Value = body
	p.Flags = flags
	p.ModifyIndex = c.bump()
	if !ok {
		p.CreateIndex = p.ModifyIndex
		c.pairs[key] = p
	}
	_, _ = io.WriteString(w, "true")
}

// syncBuffer collects log lines written from the lock watcher goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConsulStore_SaveLoad(t *testing.T) {
	t.Parallel()

	kv, cli := newConsulKV(t)
	s := NewConsulStoreWithClient(cli, "vpc-mesh-test", zerolog.Nop())
	ctx := context.Background()

	if _, err := s.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("err=%v", err)
	}
	saved, err := s.Save(ctx, testSnapshot("eu-west-1", "eu-west-2"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	pair := kv.get("vpc-mesh-test/snapshot")
	if pair == nil || saved.Version != int64(pair.ModifyIndex) {
		t.Fatalf("version=%d pair=%+v", saved.Version, pair)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != saved.Version || len(got.Networks) != 2 || got.Networks[1].RouteTableID != "rtb-1" {
		t.Fatalf("got=%+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created at not restored from meta")
	}
	if kv.get(fmt.Sprintf("vpc-mesh-test/history/%d", saved.Version)) == nil {
		t.Fatalf("history entry missing")
	}
}

func TestConsulStore_HistoryAndRollback(t *testing.T) {
	t.Parallel()

	kv, cli := newConsulKV(t)
	s := NewConsulStoreWithClient(cli, "", zerolog.Nop())
	ctx := context.Background()

	var versions []int64
	for _, regions := range [][]string{{"a"}, {"a", "b"}, {"a", "b", "c"}} {
		saved, err := s.Save(ctx, testSnapshot(regions...))
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		versions = append(versions, saved.Version)
	}
	hist, err := s.History(ctx, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].Version != versions[1] || hist[1].Version != versions[2] {
		t.Fatalf("hist=%+v versions=%v", hist, versions)
	}
	if len(hist[1].Networks) != 3 {
		t.Fatalf("networks=%d", len(hist[1].Networks))
	}

	rolled, err := s.Rollback(ctx, versions[0])
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	cur, _ := s.Load(ctx)
	if cur.Version != rolled.Version || cur.Version <= versions[2] || len(cur.Networks) != 1 {
		t.Fatalf("cur=%+v", cur)
	}
	if _, err := s.Rollback(ctx, 42); !errors.Is(err, ErrNoVersion) {
		t.Fatalf("err=%v", err)
	}

	kv.put(DefaultConsulPrefix+"history/99999", []byte("{not json"), 0)
	if _, err := s.History(ctx, 0); err == nil || !strings.Contains(err.Error(), "history/99999") {
		t.Fatalf("err=%v", err)
	}
}

func TestConsulStore_Lock(t *testing.T) {
	t.Parallel()

	_, cli := newConsulKV(t)
	first := NewConsulStoreWithClient(cli, "vpc-mesh-test", zerolog.Nop())
	second := NewConsulStoreWithClient(cli, "vpc-mesh-test", zerolog.Nop())
	second.lockWait = 100 * time.Millisecond
	ctx := context.Background()

	unlock, err := first.Lock(ctx, runLock)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := second.Lock(ctx, runLock); !errors.Is(err, ErrLocked) {
		t.Fatalf("second lock err=%v", err)
	}
	unlock()
	unlock()

	relock, err := second.Lock(ctx, runLock)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	relock()
}

func TestConsulStore_LockLostIsLogged(t *testing.T) {
	t.Parallel()

	kv, cli := newConsulKV(t)
	var buf syncBuffer
	s := NewConsulStoreWithClient(cli, "vpc-mesh-test", zerolog.New(&buf))

	unlock, err := s.Lock(context.Background(), runLock)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()
	pair := kv.get("vpc-mesh-test/lock/" + runLock)
	if pair == nil || pair.Session == "" {
		t.Fatalf("lock pair=%+v", pair)
	}

	kv.invalidate(pair.Session)
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(buf.String(), "consul lock lost") {
		if time.Now().After(deadline) {
			t.Fatalf("lock loss not logged: %q", buf.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), "lock/"+runLock) {
		t.Fatalf("log=%q", buf.String())
	}
}

func TestConsulStore_UnlockIsQuiet(t *testing.T) {
	t.Parallel()

	_, cli := newConsulKV(t)
	var buf syncBuffer
	s := NewConsulStoreWithClient(cli, "vpc-mesh-test", zerolog.New(&buf))

	unlock, err := s.Lock(context.Background(), runLock)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
	relock, err := s.Lock(context.Background(), runLock)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	relock()
	if strings.Contains(buf.String(), "lock lost") {
		t.Fatalf("log=%q", buf.String())
	}
}
