package dataset

import (
	"context"

	"lerian-mcp-memory/pkg/ingest"
)

// MemoryClient is an in-memory Client backed by a fixed slice, used by
// tests and local runs in place of the externally-owned crawler dataset
// store.
type MemoryClient struct {
	Items []ingest.Item
}

// Page returns a slice of Items starting at offset.
func (m *MemoryClient) Page(_ context.Context, _ string, offset, pageSize int) ([]ingest.Item, error) {
	if offset >= len(m.Items) {
		return nil, nil
	}
	end := offset + pageSize
	if end > len(m.Items) {
		end = len(m.Items)
	}
	return m.Items[offset:end], nil
}
