package events

import "time"

// Change describes one committed mutation. Keys carries the affected primary
// keys when the writer knows them; bulk operations may leave it empty.
type Change struct {
	Table      string    `json:"table"`
	Op         string    `json:"op"`
	Keys       []string  `json:"keys,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
