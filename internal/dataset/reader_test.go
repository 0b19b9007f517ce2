package dataset

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipelineerrors "lerian-mcp-memory/internal/errors"
	"lerian-mcp-memory/pkg/ingest"
)

func TestReadAll_ProjectsFieldsInOrder(t *testing.T) {
	client := &MemoryClient{Items: []ingest.Item{
		{Raw: map[string]any{"title": "Hello", "body": map[string]any{"text": "World"}}},
	}}
	r := New(client, Config{
		DatasetID:  "ds1",
		FieldPaths: []string{"title", "body.text"},
		PageSize:   10,
	})

	docs, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "title: Hello\nbody.text: World", docs[0].Text)
}

func TestReadAll_FiltersEmptyDocuments(t *testing.T) {
	client := &MemoryClient{Items: []ingest.Item{
		{Raw: map[string]any{}},
		{Raw: map[string]any{"title": "present"}},
	}}
	r := New(client, Config{DatasetID: "ds1", FieldPaths: []string{"title"}, PageSize: 10})

	docs, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "title: present", docs[0].Text)
}

func TestReadAll_MergesStaticAndProjectedMetadata(t *testing.T) {
	client := &MemoryClient{Items: []ingest.Item{
		{Raw: map[string]any{"title": "x", "url": "https://a.com"}},
	}}
	r := New(client, Config{
		DatasetID:  "ds1",
		FieldPaths: []string{"title"},
		MetaPaths:  map[string]string{"source_url": "url"},
		MetaStatic: map[string]any{"namespace": "crawl-1"},
		PageSize:   10,
	})

	docs, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "crawl-1", docs[0].Metadata["namespace"])
	assert.Equal(t, "https://a.com", docs[0].Metadata["source_url"])
}

func TestReadAll_PagesUntilShortPage(t *testing.T) {
	items := make([]ingest.Item, 5)
	for i := range items {
		items[i] = ingest.Item{Raw: map[string]any{"title": "x"}}
	}
	client := &MemoryClient{Items: items}
	r := New(client, Config{DatasetID: "ds1", FieldPaths: []string{"title"}, PageSize: 2})

	docs, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 5)
}

type failingClient struct{}

func (failingClient) Page(context.Context, string, int, int) ([]ingest.Item, error) {
	return nil, errors.New("connection refused")
}

func TestReadAll_WrapsTransportErrorAsDatasetUnavailable(t *testing.T) {
	r := New(failingClient{}, Config{DatasetID: "ds1", FieldPaths: []string{"title"}})

	_, err := r.ReadAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, pipelineerrors.CodeDatasetUnavailable, pipelineerrors.Classify(err))
}

func TestGetNestedValue_MissingIntermediateYieldsEmpty(t *testing.T) {
	d := map[string]any{"a": "scalar"}
	assert.Equal(t, "", getNestedValue(d, "a.b"))
	assert.Equal(t, "", getNestedValue(d, "missing.path"))
}
