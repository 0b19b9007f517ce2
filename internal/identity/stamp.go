// Package identity computes the content-addressed identity fields every
// chunk carries before it reaches the reconciliation engine: item_id,
// checksum, last_seen_at, and chunk_id.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lerian-mcp-memory/pkg/ingest"
)

// excludedChecksumKeys are never part of the checksum input: they either
// identify the record (chunk_id, item_id, id) or are derived from time or
// the checksum itself (checksum, last_seen_at).
var excludedChecksumKeys = map[string]bool{
	"chunk_id":     true,
	"checksum":     true,
	"last_seen_at": true,
	"item_id":      true,
	"id":           true,
}

// Stamper computes identity fields for documents and chunks.
type Stamper struct {
	primaryFields []string
	now           func() time.Time
}

// New creates a Stamper keyed on the given primary metadata fields, which
// are concatenated (in order, stringified) to derive item_id.
func New(primaryFields []string) *Stamper {
	return &Stamper{primaryFields: primaryFields, now: time.Now}
}

// StampItem sets item_id, checksum, and last_seen_at on every chunk
// belonging to one document. All chunks of a document share the same
// checksum and item_id, since checksum is computed over the whole
// document (page_content plus metadata) before chunking split it: a
// content edit that leaves metadata untouched must still change the
// checksum, or the delta engine would mistake changed content for
// unchanged content and never refresh its embedding.
func (s *Stamper) StampItem(docText string, docMetadata map[string]any, chunks []ingest.Chunk) {
	itemID := s.itemID(docMetadata)
	checksum := s.checksum(docText, docMetadata)
	lastSeen := s.now().UTC().Unix()

	for i := range chunks {
		chunks[i].ItemID = itemID
		chunks[i].Checksum = checksum
		chunks[i].LastSeenAt = lastSeen
	}
}

// StampChunk assigns a fresh chunk_id when one is not already present.
// Existing chunk_ids are preserved so re-runs over unchanged content keep
// the same stored record.
func (s *Stamper) StampChunk(c *ingest.Chunk) {
	if c.ChunkID == "" {
		c.ChunkID = uuid.New().String()
	}
}

// itemID hashes the concatenation of the stringified primary fields. An
// empty primary-field list yields the hash of the empty string — callers
// should treat that as a configuration warning, not a fatal error.
func (s *Stamper) itemID(metadata map[string]any) string {
	var concat string
	for _, field := range s.primaryFields {
		concat += stringify(metadata[field])
	}
	return hashString(concat)
}

// checksum hashes the canonical JSON encoding of the document's metadata
// together with its page_content, excluding the identity fields that
// would make every run produce a different checksum for unchanged
// content. Text and metadata are joined with a NUL separator, which
// cannot appear in either canonical JSON or ordinary page content, so the
// two parts can't collide into the same hash input.
func (s *Stamper) checksum(text string, metadata map[string]any) string {
	filtered := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if !excludedChecksumKeys[k] {
			filtered[k] = v
		}
	}
	encoded, err := MarshalCanonical(filtered)
	if err != nil {
		// Canonical marshaling only fails on unsupported value types; treat
		// that as an empty document rather than panic mid-pipeline.
		encoded = []byte("{}")
	}
	return hashString(string(encoded) + "\x00" + text)
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
