package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-mcp-memory/internal/errors"
)

func TestDefaultConfigIsInvalidWithoutDatasetID(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.Classify(err))
}

func TestDefaultConfigValidatesOnceDatasetIDIsSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dataset.DatasetID = "crawl-123"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsOverlapNotSmallerThanSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dataset.DatasetID = "crawl-123"
	cfg.Chunking.ChunkSize = 100
	cfg.Chunking.ChunkOverlap = 100

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.Classify(err))
}

func TestValidateRejectsUnsupportedStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dataset.DatasetID = "crawl-123"
	cfg.Reconcile.Strategy = "merge"

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsUnsupportedBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dataset.DatasetID = "crawl-123"
	cfg.VectorStore.Backend = "dynamodb"

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsNonPositiveWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dataset.DatasetID = "crawl-123"
	cfg.Reconcile.Workers = 0

	err := cfg.Validate()
	require.Error(t, err)
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	t.Setenv("RECONCILE_DATASET_ID", "crawl-from-env")
	t.Setenv("RECONCILE_VECTOR_STORE", "pgvector")
	t.Setenv("RECONCILE_CHUNK_SIZE", "500")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "crawl-from-env", cfg.Dataset.DatasetID)
	assert.Equal(t, "pgvector", cfg.VectorStore.Backend)
	assert.Equal(t, 500, cfg.Chunking.ChunkSize)
}

func TestLoadConfigAppliesMetadataAndPrimaryFieldEnvOverrides(t *testing.T) {
	t.Setenv("RECONCILE_DATASET_ID", "crawl-from-env")
	t.Setenv("RECONCILE_METADATA_DATASET_FIELDS", "source_url=url,title=page.title")
	t.Setenv("RECONCILE_PRIMARY_FIELDS", "source_url,title")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"source_url": "url", "title": "page.title"}, cfg.Dataset.MetadataDatasetFields)
	assert.Equal(t, []string{"source_url", "title"}, cfg.Dataset.PrimaryFields)
}

func TestValidateSkipsChunkSizeChecksWhenChunkingDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dataset.DatasetID = "crawl-123"
	cfg.Chunking.PerformChunking = false
	cfg.Chunking.ChunkSize = 0
	cfg.Chunking.ChunkOverlap = 0

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFailsValidationWithoutDatasetID(t *testing.T) {
	for _, key := range []string{"RECONCILE_DATASET_ID", "RECONCILE_VECTOR_STORE", "RECONCILE_CHUNK_SIZE"} {
		os.Unsetenv(key)
	}
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.Classify(err))
}

func TestLoadConfigRejectsMissingYAMLFile(t *testing.T) {
	t.Setenv("RECONCILE_DATASET_ID", "crawl-from-env")
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
