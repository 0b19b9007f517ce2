package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// FakeService is a deterministic EmbeddingService used in tests and local
// runs without network access. The same text always yields the same
// vector, and distinct texts yield different vectors, which is all the
// reconciliation engine's tests require.
type FakeService struct {
	dimensions int
}

// NewFakeService creates a deterministic fake embedding provider.
func NewFakeService(dimensions int) *FakeService {
	if dimensions <= 0 {
		dimensions = 16
	}
	return &FakeService{dimensions: dimensions}
}

// Generate derives a unit vector from the SHA-256 digest of text.
func (f *FakeService) Generate(_ context.Context, text string) ([]float64, error) {
	return f.vector(text), nil
}

// GenerateBatch applies Generate to each text.
func (f *FakeService) GenerateBatch(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

// GetDimensions returns the configured vector length.
func (f *FakeService) GetDimensions() int {
	return f.dimensions
}

// HealthCheck always succeeds.
func (f *FakeService) HealthCheck(_ context.Context) error {
	return nil
}

func (f *FakeService) vector(text string) []float64 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float64, f.dimensions)
	var normSq float64
	for i := range vec {
		b := sum[i%len(sum):]
		n := binary.BigEndian.Uint32(padTo4(b))
		v := float64(n)/float64(math.MaxUint32)*2 - 1
		vec[i] = v
		normSq += v * v
	}
	norm := math.Sqrt(normSq)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func padTo4(b []byte) []byte {
	out := make([]byte, 4)
	copy(out, b)
	return out
}
