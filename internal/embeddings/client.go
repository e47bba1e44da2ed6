// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrEmbeddingUnavailable is returned for any provider failure, timeout or
// unusable vector. Callers treat it as non-fatal.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Client is the interface for embedding providers
type Client interface {
	// Embed generates an embedding vector for the given text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// GetModelInfo returns information about the embedding model
	GetModelInfo() ModelInfo
}

// ModelInfo contains metadata about the embedding model
type ModelInfo struct {
	Name       string
	Version    string
	Dimensions int
	Provider   string
}

// OpenAIClient talks to any OpenAI-compatible embeddings endpoint
type OpenAIClient struct {
	client     openai.Client
	model      string
	provider   string
	dimensions int
}

// Option configures an OpenAIClient
type Option func(*clientOptions)

type clientOptions struct {
	timeout    time.Duration
	maxRetries int
	provider   string
}

// WithTimeout bounds each request attempt
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithMaxRetries sets how often transient failures (429, 5xx, network) are retried
func WithMaxRetries(n int) Option {
	return func(o *clientOptions) { o.maxRetries = n }
}

// WithProvider labels the client in ModelInfo
func WithProvider(name string) Option {
	return func(o *clientOptions) { o.provider = name }
}

// NewOpenAIClient creates a new OpenAI embedding client
func NewOpenAIClient(baseURL, apiKey, model string, dimensions int, opts ...Option) *OpenAIClient {
	o := clientOptions{
		timeout:    10 * time.Second,
		maxRetries: 2,
		provider:   "openai",
	}
	for _, fn := range opts {
		fn(&o)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(o.timeout),
		option.WithMaxRetries(o.maxRetries),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}

	return &OpenAIClient{
		client:     openai.NewClient(reqOpts...),
		model:      model,
		provider:   o.provider,
		dimensions: dimensions,
	}
}

// Embed generates an embedding vector for the given text
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embedding vectors for multiple texts
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(c.model),
	}
	if c.dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.dimensions))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEmbeddingUnavailable, c.provider, err)
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(vectors) {
			continue
		}
		vec := make([]float32, len(data.Embedding))
		for i, f := range data.Embedding {
			vec[i] = float32(f)
		}
		vectors[data.Index] = vec
	}

	for i, vec := range vectors {
		if err := Validate(vec, c.dimensions); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	return vectors, nil
}

// GetModelInfo returns information about the embedding model
func (c *OpenAIClient) GetModelInfo() ModelInfo {
	return ModelInfo{
		Name:       c.model,
		Version:    "v1",
		Dimensions: c.dimensions,
		Provider:   c.provider,
	}
}

// MockClient is a mock implementation for testing
type MockClient struct {
	EmbedFunc      func(text string) ([]float32, error)
	EmbedBatchFunc func(texts []string) ([][]float32, error)
	CallCount      int
	ModelInfo      ModelInfo

	mu sync.Mutex
}

// Embed calls the mock function
func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if m.EmbedFunc != nil {
		return m.EmbedFunc(text)
	}
	return HashVector(text, m.GetModelInfo().Dimensions), nil
}

// EmbedBatch calls the mock function
func (m *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedBatchFunc != nil {
		m.mu.Lock()
		m.CallCount++
		m.mu.Unlock()
		return m.EmbedBatchFunc(texts)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Calls returns the number of calls made so far
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// GetModelInfo returns mock model info
func (m *MockClient) GetModelInfo() ModelInfo {
	if m.ModelInfo.Name != "" {
		return m.ModelInfo
	}
	return ModelInfo{
		Name:       "mock-model",
		Version:    "v1",
		Dimensions: 64,
		Provider:   "mock",
	}
}
