package analytics

import "time"

// StreamSnapshot is one stream's point-in-time consumer activity, rolled
// into the cross-stream Snapshot for an operator dashboard or /health
// detail endpoint.
type StreamSnapshot struct {
	StreamID  string         `json:"stream_id"`
	Active    int            `json:"active"`
	Countries map[string]int `json:"countries"`
}

type Snapshot struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	TotalActive int                       `json:"total_active"`
	Streams     map[string]StreamSnapshot `json:"streams"`
}
