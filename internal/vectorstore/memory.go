package vectorstore

import (
	"context"
	"math"
	"sort"

	"lerian-mcp-memory/pkg/ingest"
)

// MemoryStore is a map-backed Store used by tests and local runs in place
// of a real backend. It supports every capability since nothing about it
// is constrained by a wire protocol.
type MemoryStore struct {
	chunks map[string]ingest.Chunk
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]ingest.Chunk)}
}

func (m *MemoryStore) Add(_ context.Context, chunks []ingest.Chunk) error {
	for _, c := range chunks {
		m.chunks[c.ChunkID] = c
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, chunkIDs []string) error {
	for _, id := range chunkIDs {
		delete(m.chunks, id)
	}
	return nil
}

func (m *MemoryStore) DeleteByItemID(_ context.Context, itemIDs []string) error {
	want := toSet(itemIDs)
	for id, c := range m.chunks {
		if want[c.ItemID] {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *MemoryStore) GetByItemID(_ context.Context, itemIDs []string) ([]ingest.StoredRecord, error) {
	want := toSet(itemIDs)
	var out []ingest.StoredRecord
	for _, c := range m.chunks {
		if want[c.ItemID] {
			out = append(out, ingest.StoredRecord{
				ChunkID:    c.ChunkID,
				ItemID:     c.ItemID,
				Checksum:   c.Checksum,
				LastSeenAt: c.LastSeenAt,
				Metadata:   c.Metadata,
			})
		}
	}
	return out, nil
}

func (m *MemoryStore) Touch(_ context.Context, chunkIDs []string, seenAt int64) error {
	for _, id := range chunkIDs {
		if c, ok := m.chunks[id]; ok {
			c.LastSeenAt = seenAt
			m.chunks[id] = c
		}
	}
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, cutoff int64) (int, error) {
	removed := 0
	for id, c := range m.chunks {
		if c.LastSeenAt < cutoff {
			delete(m.chunks, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) SearchByVector(_ context.Context, vector []float32, topK int) ([]ingest.Chunk, error) {
	type scored struct {
		chunk ingest.Chunk
		score float64
	}
	scoredChunks := make([]scored, 0, len(m.chunks))
	for _, c := range m.chunks {
		scoredChunks = append(scoredChunks, scored{chunk: c, score: cosineSimilarity(vector, c.Vector)})
	}
	sort.Slice(scoredChunks, func(i, j int) bool { return scoredChunks[i].score > scoredChunks[j].score })
	if topK > len(scoredChunks) {
		topK = len(scoredChunks)
	}
	out := make([]ingest.Chunk, topK)
	for i := 0; i < topK; i++ {
		out[i] = scoredChunks[i].chunk
	}
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	return len(m.chunks), nil
}

func (m *MemoryStore) DeleteAll(_ context.Context) error {
	m.chunks = make(map[string]ingest.Chunk)
	return nil
}

func (m *MemoryStore) Capabilities() Capabilities {
	return Capabilities{IDPrefix: true, Count: true, PredicateDelete: true}
}

func (m *MemoryStore) Close() error { return nil }

func toSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
