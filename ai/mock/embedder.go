package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// DefaultDimensions is the vector size produced when none is configured.
const DefaultDimensions = 384

// MockEmbedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields.
type MockEmbedder struct {
	// EmbedTextFunc is called by EmbedText if set.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedTextsFunc is called by EmbedTexts if set.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	dims int

	mu        sync.Mutex
	callCount int
	texts     []string
}

// Option configures a MockEmbedder.
type Option func(*MockEmbedder)

// WithDimensions sets the size of generated vectors.
func WithDimensions(n int) Option {
	return func(m *MockEmbedder) {
		m.dims = n
	}
}

// NewMockEmbedder creates a mock embedder with default deterministic behavior.
func NewMockEmbedder(opts ...Option) *MockEmbedder {
	m := &MockEmbedder{dims: DefaultDimensions}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockEmbedder) record(texts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.texts = append(m.texts, texts...)
}

// EmbedText generates a deterministic embedding based on text hash.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.record(text)
	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return DeterministicVector(text, m.dims), nil
}

// EmbedTexts generates deterministic embeddings for multiple texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.record(texts...)
	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = DeterministicVector(text, m.dims)
	}
	return out, nil
}

// CallCount returns the number of times any method was called.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Texts returns every text passed to the embedder so far.
func (m *MockEmbedder) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// Reset clears recorded calls and injected behavior.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.texts = nil
	m.EmbedTextFunc = nil
	m.EmbedTextsFunc = nil
}

// DeterministicVector derives a unit vector of size dim from text.
// The same text always produces the same vector.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	var sum float64
	for i := range vector {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000)/1000.0 + 0.001
		sum += float64(vector[i]) * float64(vector[i])
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range vector {
		vector[i] *= norm
	}
	return vector
}
