// Package dataset reads items from the upstream crawl dataset and builds
// Documents from them by projecting configured field paths into text and
// metadata. Reading the dataset itself is external — the Reader only
// knows how to walk a page at a time through a Client.
package dataset

import (
	"context"
	"fmt"
	"strings"

	"lerian-mcp-memory/internal/errors"
	"lerian-mcp-memory/pkg/ingest"
)

// Client pages through an upstream dataset's raw items. Production
// deployments back this with the crawler's own dataset storage; it is
// treated as an external interface the same way the embedding provider
// and vector store clients are.
type Client interface {
	// Page returns up to pageSize items starting at offset. A short page
	// (fewer than pageSize) signals the end of the dataset.
	Page(ctx context.Context, datasetID string, offset, pageSize int) ([]ingest.Item, error)
}

// Reader projects dataset items into Documents via configured field paths.
type Reader struct {
	client     Client
	datasetID  string
	fieldPaths []string
	metaPaths  map[string]string
	metaStatic map[string]any
	pageSize   int
}

// Config configures one Reader.
type Config struct {
	DatasetID  string
	FieldPaths []string          // paths joined into page_content
	MetaPaths  map[string]string // output metadata key -> field path
	MetaStatic map[string]any    // metadata values fixed for every document
	PageSize   int
}

// New creates a Reader.
func New(client Client, cfg Config) *Reader {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Reader{
		client:     client,
		datasetID:  cfg.DatasetID,
		fieldPaths: cfg.FieldPaths,
		metaPaths:  cfg.MetaPaths,
		metaStatic: cfg.MetaStatic,
		pageSize:   pageSize,
	}
}

// ReadAll pages through the entire dataset and builds Documents, filtering
// out any whose projected text is empty. Any transport error is wrapped
// as DATASET_UNAVAILABLE; the reader never retries itself — retries are
// the adapter transport's job, per the upstream contract.
func (r *Reader) ReadAll(ctx context.Context) ([]ingest.Document, error) {
	var docs []ingest.Document
	offset := 0

	for {
		items, err := r.client.Page(ctx, r.datasetID, offset, r.pageSize)
		if err != nil {
			return nil, errors.DatasetUnavailable(r.datasetID, err)
		}

		for _, item := range items {
			doc := r.buildDocument(item)
			if doc.Text == "" {
				continue
			}
			docs = append(docs, doc)
		}

		if len(items) < r.pageSize {
			break
		}
		offset += len(items)
	}

	return docs, nil
}

// buildDocument projects one raw item into a Document: page_content joins
// "path: value" for every non-empty field path in configured order,
// metadata merges static values with projected metadata paths.
func (r *Reader) buildDocument(item ingest.Item) ingest.Document {
	var lines []string
	for _, path := range r.fieldPaths {
		if v := getNestedValue(item.Raw, path); v != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", path, v))
		}
	}

	metadata := make(map[string]any, len(r.metaStatic)+len(r.metaPaths))
	for k, v := range r.metaStatic {
		metadata[k] = v
	}
	for key, path := range r.metaPaths {
		metadata[key] = getNestedValue(item.Raw, path)
	}

	return ingest.Document{
		Text:     strings.Join(lines, "\n"),
		Metadata: metadata,
	}
}

// getNestedValue walks a dot-separated path through nested maps, returning
// the empty string if any intermediate step is missing or not a map, and
// coercing the final value to its string representation.
func getNestedValue(d map[string]any, path string) string {
	var cur any = d
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok || m == nil {
			return ""
		}
		v, ok := m[key]
		if !ok || v == nil {
			return ""
		}
		cur = v
	}
	if cur == nil {
		return ""
	}
	if s, ok := cur.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", cur)
}
