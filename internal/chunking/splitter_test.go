package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-mcp-memory/pkg/ingest"
)

func TestNewRecursiveCharacterSplitter_Validation(t *testing.T) {
	t.Run("rejects non-positive size", func(t *testing.T) {
		_, err := NewRecursiveCharacterSplitter(0, 0)
		require.Error(t, err)
	})

	t.Run("rejects negative overlap", func(t *testing.T) {
		_, err := NewRecursiveCharacterSplitter(100, -1)
		require.Error(t, err)
	})

	t.Run("rejects overlap >= size", func(t *testing.T) {
		_, err := NewRecursiveCharacterSplitter(100, 100)
		require.Error(t, err)
	})

	t.Run("accepts valid configuration", func(t *testing.T) {
		s, err := NewRecursiveCharacterSplitter(100, 20)
		require.NoError(t, err)
		assert.Equal(t, 100, s.Size)
		assert.Equal(t, 20, s.Overlap)
	})
}

func TestSplit_ShortTextIsSingleChunk(t *testing.T) {
	s, err := NewRecursiveCharacterSplitter(1000, 100)
	require.NoError(t, err)

	doc := ingest.Document{Text: "short document", Metadata: map[string]any{"url": "https://example.com"}}
	chunks := s.Split(doc)

	require.Len(t, chunks, 1)
	assert.Equal(t, "short document", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[0].ChunkCount)
	assert.Equal(t, "https://example.com", chunks[0].Metadata["url"])
}

func TestSplit_LongTextProducesMultipleChunksWithinSize(t *testing.T) {
	s, err := NewRecursiveCharacterSplitter(50, 10)
	require.NoError(t, err)

	paragraph := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 10)
	doc := ingest.Document{Text: paragraph}
	chunks := s.Split(doc)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), s.Size+s.Overlap+1)
	}
}

func TestSplit_MetadataIsClonedNotShared(t *testing.T) {
	s, err := NewRecursiveCharacterSplitter(1000, 100)
	require.NoError(t, err)

	meta := map[string]any{"key": "value"}
	doc := ingest.Document{Text: "some text here", Metadata: meta}
	chunks := s.Split(doc)

	require.Len(t, chunks, 1)
	chunks[0].Metadata["key"] = "mutated"
	assert.Equal(t, "value", meta["key"])
}

func TestSplit_EmptyTextProducesNoChunks(t *testing.T) {
	s, err := NewRecursiveCharacterSplitter(100, 10)
	require.NoError(t, err)

	chunks := s.Split(ingest.Document{Text: "   "})
	assert.Empty(t, chunks)
}
