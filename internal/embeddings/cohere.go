package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultCohereModel = "embed-english-v3.0"

// CohereService implements EmbeddingService using Cohere's embed API.
type CohereService struct {
	apiKey      string
	baseURL     string
	model       string
	dimensions  int
	httpClient  *http.Client
	logger      *slog.Logger
	cache       *EmbeddingCache
	rateLimiter *RateLimiter
}

// CohereConfig contains configuration for the Cohere embeddings service.
type CohereConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Dimensions     int
	Timeout        time.Duration
	RequestsPerMin int
}

// NewCohereService creates a new Cohere embeddings service.
func NewCohereService(cfg *CohereConfig, logger *slog.Logger) (*CohereService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Cohere API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cohere.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = defaultCohereModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1024
	}
	if cfg.RequestsPerMin == 0 {
		cfg.RequestsPerMin = 600
	}

	return &CohereService{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:      logger,
		cache:       NewEmbeddingCache(1000, 24*time.Hour),
		rateLimiter: NewRateLimiter(cfg.RequestsPerMin, time.Minute),
	}, nil
}

// Generate creates an embedding for a single text.
func (s *CohereService) Generate(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	if cached, found := s.cache.Get(text); found {
		return cached, nil
	}

	embeddings, err := s.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	s.cache.Set(text, embeddings[0])
	return embeddings[0], nil
}

// GenerateBatch creates embeddings for multiple texts in one request.
func (s *CohereService) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiting error: %w", err)
	}

	body := map[string]interface{}{
		"texts":      texts,
		"model":      s.model,
		"input_type": "search_document",
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/embed", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Cohere API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed cohereEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	s.logger.Debug("cohere embeddings generated", slog.Int("count", len(parsed.Embeddings)))
	return parsed.Embeddings, nil
}

// GetDimensions returns the embedding dimensions for the configured model.
func (s *CohereService) GetDimensions() int {
	return s.dimensions
}

// HealthCheck verifies the service is reachable.
func (s *CohereService) HealthCheck(ctx context.Context) error {
	_, err := s.Generate(ctx, "health check")
	return err
}

type cohereEmbedResponse struct {
	ID         string      `json:"id"`
	Embeddings [][]float64 `json:"embeddings"`
}
