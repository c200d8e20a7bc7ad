package model

import "time"

// EdgeFailure records why one edge could not be linked.
type EdgeFailure struct {
	Edge      Edge   `json:"edge"`
	Requester string `json:"requester"`
	Accepter  string `json:"accepter"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

// RunReport summarizes one mesh run.
type RunReport struct {
	RunID       string        `json:"runId"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	Snapshot    Snapshot      `json:"snapshot"`
	Edges       []Edge        `json:"edges"`
	Links       []PeeringLink `json:"links"`
	Failures    []EdgeFailure `json:"failures,omitempty"`
	Unconverged []RouteRecord `json:"unconverged,omitempty"`
}

// Succeeded reports whether every edge was linked.
func (r RunReport) Succeeded() bool { return len(r.Failures) == 0 }

// RouteCount returns the number of routes installed across all links.
func (r RunReport) RouteCount() int {
	n := 0
	for _, l := range r.Links {
		n += len(l.Routes)
	}
	return n
}
