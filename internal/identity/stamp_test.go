package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-mcp-memory/pkg/ingest"
)

func fixedStamper(primary []string, at time.Time) *Stamper {
	s := New(primary)
	s.now = func() time.Time { return at }
	return s
}

func TestStampItem_SameContentSameChecksum(t *testing.T) {
	s := fixedStamper([]string{"url"}, time.Unix(1000, 0))

	metaA := map[string]any{"url": "https://a.com", "title": "A"}
	metaB := map[string]any{"title": "A", "url": "https://a.com"} // different key order

	chunksA := []ingest.Chunk{{Text: "hello"}}
	chunksB := []ingest.Chunk{{Text: "hello"}}

	s.StampItem("hello", metaA, chunksA)
	s.StampItem("hello", metaB, chunksB)

	assert.Equal(t, chunksA[0].Checksum, chunksB[0].Checksum, "key order must not affect checksum")
	assert.Equal(t, chunksA[0].ItemID, chunksB[0].ItemID)
}

func TestStampItem_DifferentMetadataDifferentChecksum(t *testing.T) {
	s := fixedStamper([]string{"url"}, time.Unix(1000, 0))

	meta1 := map[string]any{"url": "https://a.com", "title": "v1"}
	meta2 := map[string]any{"url": "https://a.com", "title": "v2"}

	c1 := []ingest.Chunk{{}}
	c2 := []ingest.Chunk{{}}
	s.StampItem("same text", meta1, c1)
	s.StampItem("same text", meta2, c2)

	assert.NotEqual(t, c1[0].Checksum, c2[0].Checksum)
	assert.Equal(t, c1[0].ItemID, c2[0].ItemID, "item_id depends only on primary fields")
}

// TestStampItem_ContentChangeWithUnchangedMetadataChangesChecksum mirrors
// the content-change regression in the original implementation's test
// suite: editing page_content alone, with metadata held fixed, must still
// change the checksum so the reconciliation engine replaces the chunk
// instead of merely refreshing its last_seen_at.
func TestStampItem_ContentChangeWithUnchangedMetadataChangesChecksum(t *testing.T) {
	s := fixedStamper([]string{"url"}, time.Unix(1000, 0))
	meta := map[string]any{"url": "https://a.com"}

	prev := []ingest.Chunk{{}}
	curr := []ingest.Chunk{{}}
	s.StampItem("original page content", meta, prev)
	s.StampItem("content has changed between runs", meta, curr)

	assert.Equal(t, prev[0].ItemID, curr[0].ItemID)
	assert.NotEqual(t, prev[0].Checksum, curr[0].Checksum)
}

func TestStampItem_AllChunksOfDocumentShareChecksum(t *testing.T) {
	s := fixedStamper([]string{"url"}, time.Unix(1000, 0))
	meta := map[string]any{"url": "https://a.com"}
	chunks := []ingest.Chunk{{Text: "part1"}, {Text: "part2"}, {Text: "part3"}}

	s.StampItem("part1part2part3", meta, chunks)

	for _, c := range chunks {
		assert.Equal(t, chunks[0].Checksum, c.Checksum)
		assert.Equal(t, chunks[0].ItemID, c.ItemID)
		assert.Equal(t, int64(1000), c.LastSeenAt)
	}
}

func TestStampItem_ExcludedKeysDoNotAffectChecksum(t *testing.T) {
	s := fixedStamper([]string{"url"}, time.Unix(1000, 0))
	base := map[string]any{"url": "https://a.com"}
	withIdentity := map[string]any{
		"url":          "https://a.com",
		"chunk_id":     "ignored-1",
		"checksum":     "ignored-2",
		"last_seen_at": "ignored-3",
		"item_id":      "ignored-4",
		"id":           "ignored-5",
	}

	c1 := []ingest.Chunk{{}}
	c2 := []ingest.Chunk{{}}
	s.StampItem("body", base, c1)
	s.StampItem("body", withIdentity, c2)

	assert.Equal(t, c1[0].Checksum, c2[0].Checksum)
}

func TestStampChunk_PreservesExistingID(t *testing.T) {
	s := New(nil)
	c := ingest.Chunk{ChunkID: "existing-id"}
	s.StampChunk(&c)
	assert.Equal(t, "existing-id", c.ChunkID)
}

func TestStampChunk_AssignsFreshUUIDWhenAbsent(t *testing.T) {
	s := New(nil)
	c := ingest.Chunk{}
	s.StampChunk(&c)
	require.NotEmpty(t, c.ChunkID)

	c2 := ingest.Chunk{}
	s.StampChunk(&c2)
	assert.NotEqual(t, c.ChunkID, c2.ChunkID)
}

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	out1, err := MarshalCanonical(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	out2, err := MarshalCanonical(map[string]any{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, string(out1), string(out2))
	assert.Equal(t, `{"a":2,"b":1}`, string(out1))
}
