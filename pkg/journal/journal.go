// Package journal persists the progress events of mesh runs so an operator can see what a run
// did after it finished.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vpc-mesh/pkg/events"
	"vpc-mesh/pkg/model"
)

// Query filters List. Zero values match everything; Limit keeps the newest entries.
type Query struct {
	RunID string
	Kind  string
	Limit int
}

// Journal stores run entries.
type Journal interface {
	Append(ctx context.Context, e model.JournalEntry) error
	List(ctx context.Context, q Query) ([]model.JournalEntry, error)
	Close() error
}

// Entry converts an event into its journal form.
func Entry(e events.Event) model.JournalEntry {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	detail := e.Detail
	if e.State != "" {
		if detail != "" {
			detail = e.State + ": " + detail
		} else {
			detail = e.State
		}
	}
	return model.JournalEntry{
		RunID:     e.RunID,
		Kind:      string(e.Kind),
		Target:    e.Target(),
		Detail:    detail,
		Timestamp: ts,
	}
}

// Observer writes every event to j. Write failures are logged and do not reach the run.
func Observer(j Journal, log zerolog.Logger) events.Observer {
	return events.Func(func(e events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := j.Append(ctx, Entry(e)); err != nil {
			log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("journal append failed")
		}
	})
}

// Memory is an in-process journal.
type Memory struct {
	mu      sync.RWMutex
	entries []model.JournalEntry
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(_ context.Context, e model.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) List(_ context.Context, q Query) ([]model.JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.JournalEntry
	for _, e := range m.entries {
		if q.RunID != "" && e.RunID != q.RunID {
			continue
		}
		if q.Kind != "" && e.Kind != q.Kind {
			continue
		}
		out = append(out, e)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
