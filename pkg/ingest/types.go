// Package ingest defines the core data structures shared by every stage of
// the crawl reconciliation pipeline: the raw dataset item, the built
// document, the stamped chunk, what a vector store adapter persists, and
// the plan the reconciliation engine computes before touching a backend.
package ingest

import "time"

// Item is one raw record read from the upstream dataset. Fields beyond the
// configured projection are kept in Raw so the Document Builder can later
// pull nested values out of them.
type Item struct {
	Raw map[string]any `json:"-"`
}

// Document is the result of projecting an Item through the configured
// field paths and joining the non-empty values.
type Document struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Chunk is a single slice of a Document after splitting, carrying the
// parent document's metadata plus identity fields stamped by the Identity
// Stamper.
type Chunk struct {
	ChunkID    string         `json:"chunk_id"`
	ItemID     string         `json:"item_id"`
	Checksum   string         `json:"checksum"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata"`
	LastSeenAt int64          `json:"last_seen_at"`
	Vector     []float32      `json:"-"`
	ChunkIndex int            `json:"chunk_index"`
	ChunkCount int            `json:"chunk_count"`
}

// StoredRecord is what a Store returns when asked for existing records of
// an item. It mirrors Chunk but represents backend state rather than an
// incoming chunk.
type StoredRecord struct {
	ChunkID    string         `json:"chunk_id"`
	ItemID     string         `json:"item_id"`
	Checksum   string         `json:"checksum"`
	LastSeenAt int64          `json:"last_seen_at"`
	Metadata   map[string]any `json:"metadata"`
}

// PlanAction names one of the four reconciliation operations.
type PlanAction string

const (
	ActionAdd    PlanAction = "add"
	ActionTouch  PlanAction = "touch"
	ActionDelete PlanAction = "delete"
	ActionExpire PlanAction = "expire"
)

// Plan is the full set of operations the reconciliation engine intends to
// execute against a store for one run, already ordered delete, add, touch.
type Plan struct {
	Deletes []StoredRecord `json:"deletes"`
	Adds    []Chunk        `json:"adds"`
	Touches []StoredRecord `json:"touches"`
}

// IsEmpty reports whether the plan has no work at all.
func (p Plan) IsEmpty() bool {
	return len(p.Deletes) == 0 && len(p.Adds) == 0 && len(p.Touches) == 0
}

// Result summarizes one reconciliation run for callers and logs.
type Result struct {
	Added     int       `json:"added"`
	Touched   int       `json:"touched"`
	Deleted   int       `json:"deleted"`
	Expired   int       `json:"expired"`
	Failed    int       `json:"failed"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}
