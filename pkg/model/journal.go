package model

import "time"

// JournalEntry captures one persisted progress record of a mesh run.
type JournalEntry struct {
	RunID     string    `json:"runId"`
	Kind      string    `json:"kind"`
	Target    string    `json:"target"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
