package health

import (
	"context"
	"fmt"

	"github.com/sage-learning/sage/pkg/graph"
	"github.com/sage-learning/sage/pkg/provider/llm"
)

// GraphStore returns a readiness checker that pings the learning-graph store.
func GraphStore(store graph.Store) Checker {
	return Checker{
		Name: "graph",
		Check: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return fmt.Errorf("health: graph store: %w", err)
			}
			return nil
		},
	}
}

// LLMProvider returns a readiness checker for the LLM backend. The check is
// deliberately cheap: a token-count round trip, not a completion, so a ready
// probe never burns model quota.
func LLMProvider(provider llm.Provider) Checker {
	return Checker{
		Name: "llm",
		Check: func(_ context.Context) error {
			if _, err := provider.CountTokens([]llm.Message{{Role: "user", Content: "ping"}}); err != nil {
				return fmt.Errorf("health: llm provider: %w", err)
			}
			return nil
		},
	}
}
