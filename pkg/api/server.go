// Package api serves the read-only status surface of the orchestrator: the stored snapshot, the
// edge set, per-network route plans, the last run report, the journal and a live event stream.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vpc-mesh/pkg/auth"
	"vpc-mesh/pkg/journal"
	"vpc-mesh/pkg/model"
	"vpc-mesh/pkg/store"
	"vpc-mesh/pkg/topology"
)

// Options wires the server's collaborators. Signer nil disables authentication; Journal and
// Gatherer are optional.
type Options struct {
	Store    store.SnapshotStore
	Journal  journal.Journal
	Signer   *auth.Signer
	Users    auth.Users
	Gatherer prometheus.Gatherer
	Hub      *Hub
	Log      zerolog.Logger
}

type Server struct {
	opts Options
	hub  *Hub
	log  zerolog.Logger

	mu     sync.RWMutex
	report *model.RunReport
}

func NewServer(opts Options) *Server {
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(opts.Log)
	}
	return &Server{opts: opts, hub: hub, log: opts.Log}
}

// Hub returns the live event hub; register it as an observer of mesh runs.
func (s *Server) Hub() *Hub { return s.hub }

// SetReport publishes the report of the latest run.
func (s *Server) SetReport(r model.RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = &r
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("/api/v1/networks", s.authed(s.handleNetworks))
	mux.HandleFunc("/api/v1/edges", s.authed(s.handleEdges))
	mux.HandleFunc("/api/v1/plan", s.authed(s.handlePlan))
	mux.HandleFunc("/api/v1/report", s.authed(s.handleReport))
	mux.HandleFunc("/api/v1/journal", s.authed(s.handleJournal))
	mux.HandleFunc("/api/v1/ws/events", s.authed(s.hub.HandleEvents))
	if s.opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (model.Snapshot, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return model.Snapshot{}, false
	}
	snap, err := s.opts.Store.Load(r.Context())
	if errors.Is(err, store.ErrNoSnapshot) {
		http.Error(w, "no snapshot", http.StatusNotFound)
		return model.Snapshot{}, false
	}
	if err != nil {
		s.log.Error().Err(err).Msg("load snapshot")
		http.Error(w, "failed to load snapshot", http.StatusInternalServerError)
		return model.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type edgeView struct {
	model.Edge
	Requester string `json:"requester"`
	Accepter  string `json:"accepter"`
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	edges := topology.Edges(len(snap.Networks))
	out := make([]edgeView, 0, len(edges))
	for _, e := range edges {
		out = append(out, edgeView{Edge: e, Requester: snap.Networks[e.A].Region, Accepter: snap.Networks[e.B].Region})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	if region == "" {
		http.Error(w, "region required", http.StatusBadRequest)
		return
	}
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	idx := topology.IndexOf(region, snap.Networks)
	if idx < 0 {
		http.Error(w, "unknown region", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"region":       region,
		"routeTableId": snap.Networks[idx].RouteTableID,
		"routes":       topology.RoutePlan(idx, snap.Networks),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	report := s.report
	s.mu.RUnlock()
	if report == nil {
		http.Error(w, "no run finished yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	q := journal.Query{RunID: r.URL.Query().Get("run"), Kind: r.URL.Query().Get("kind"), Limit: 200}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		q.Limit = n
	}
	entries, err := s.opts.Journal.List(r.Context(), q)
	if err != nil {
		s.log.Error().Err(err).Msg("list journal")
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
