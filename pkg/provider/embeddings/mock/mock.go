// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/sage-learning/sage/pkg/provider/embeddings"
)

// Compile-time interface assertion.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock embeddings provider. When Vector is nil, Embed returns a
// deterministic vector of Dims length derived from the input text so that
// different texts produce different (but stable) vectors.
type Provider struct {
	mu sync.Mutex

	// Vector, when non-nil, is returned by every Embed call.
	Vector []float32

	// Err, if non-nil, is returned as the error from Embed.
	Err error

	// Dims is the dimension reported by Dimensions. Defaults to 8 when zero.
	Dims int

	// EmbedCalls records every text passed to Embed.
	EmbedCalls []string
}

// Embed records the call and returns the configured or derived vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Vector != nil {
		out := make([]float32, len(p.Vector))
		copy(out, p.Vector)
		return out, nil
	}

	dims := p.Dims
	if dims == 0 {
		dims = 8
	}
	vec := make([]float32, dims)
	for i, r := range text {
		vec[i%dims] += float32(r%13) / 13
	}
	return vec, nil
}

// Dimensions returns Dims (default 8).
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Dims == 0 {
		return 8
	}
	return p.Dims
}

// ModelID returns a fixed identifier for logging.
func (p *Provider) ModelID() string { return "mock-embeddings" }
