// Package turnctx assembles the read-only snapshot a turn starts from: the
// learner profile, their active outcome, known concepts, open gaps, recent
// proofs, and semantically related concepts.
//
// The graph fetches run concurrently via errgroup. The snapshot is never
// persisted; only the deltas a turn licenses are written back.
package turnctx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-learning/sage/pkg/graph"
	"github.com/sage-learning/sage/pkg/provider/embeddings"
)

// TurnContext is the per-turn read-only snapshot.
type TurnContext struct {
	Learner graph.Learner

	// ActiveOutcome is the learner's current outcome, or nil when none is
	// active.
	ActiveOutcome *graph.Outcome

	// Concepts lists the learner's known concepts.
	Concepts []graph.Concept

	// OpenGaps lists unresolved gaps for the learner.
	OpenGaps []graph.Gap

	// FocusProofs lists proofs recorded for the focus concept, newest first.
	// Empty when no concept is in focus.
	FocusProofs []graph.Proof

	// RelatedConcepts lists concepts semantically close to the turn's focus
	// text, ranked by embedding similarity. Empty when no embeddings
	// provider is configured or the turn has no focus text.
	RelatedConcepts []graph.Concept

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// Vocabulary returns the learner's concept names, used for phonetic
// correction of voice transcripts.
func (tc *TurnContext) Vocabulary() []string {
	names := make([]string, 0, len(tc.Concepts))
	for _, c := range tc.Concepts {
		names = append(names, c.Name)
	}
	return names
}

// Request identifies what to assemble a snapshot for.
type Request struct {
	LearnerID string

	// FocusConceptID selects the concept whose proofs are loaded. Optional.
	FocusConceptID string

	// FocusText is embedded to find related concepts. Optional.
	FocusText string
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithRelatedLimit caps the number of related concepts fetched. Defaults to 5.
func WithRelatedLimit(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.relatedLimit = n
		}
	}
}

// WithEmbeddings enables related-concept lookup via the given provider.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(a *Assembler) { a.embeddings = p }
}

// Assembler concurrently fetches the snapshot components from the graph.
type Assembler struct {
	store        graph.Store
	embeddings   embeddings.Provider
	relatedLimit int
}

// NewAssembler creates an Assembler over the given store.
func NewAssembler(store graph.Store, opts ...Option) *Assembler {
	a := &Assembler{store: store, relatedLimit: 5}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble fetches all snapshot components concurrently. If any fetch fails,
// assembly is aborted and the error returned wrapped with a "turn context"
// prefix. A learner miss surfaces as [graph.ErrNotFound] inside that error.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*TurnContext, error) {
	start := time.Now()
	tc := &TurnContext{}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		learner, err := a.store.GetLearner(egCtx, req.LearnerID)
		if err != nil {
			return fmt.Errorf("turn context: learner %q: %w", req.LearnerID, err)
		}
		tc.Learner = learner
		return nil
	})

	eg.Go(func() error {
		outcome, err := a.store.ActiveOutcome(egCtx, req.LearnerID)
		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("turn context: active outcome: %w", err)
		}
		tc.ActiveOutcome = &outcome
		return nil
	})

	eg.Go(func() error {
		concepts, err := a.store.ConceptsForLearner(egCtx, req.LearnerID)
		if err != nil {
			return fmt.Errorf("turn context: concepts: %w", err)
		}
		tc.Concepts = concepts
		return nil
	})

	eg.Go(func() error {
		gaps, err := a.store.OpenGaps(egCtx, req.LearnerID)
		if err != nil {
			return fmt.Errorf("turn context: open gaps: %w", err)
		}
		tc.OpenGaps = gaps
		return nil
	})

	if req.FocusConceptID != "" {
		eg.Go(func() error {
			proofs, err := a.store.ProofsForConcept(egCtx, req.FocusConceptID)
			if err != nil {
				return fmt.Errorf("turn context: proofs for %q: %w", req.FocusConceptID, err)
			}
			tc.FocusProofs = proofs
			return nil
		})
	}

	if a.embeddings != nil && req.FocusText != "" {
		eg.Go(func() error {
			vec, err := a.embeddings.Embed(egCtx, req.FocusText)
			if err != nil {
				return fmt.Errorf("turn context: embed focus text: %w", err)
			}
			related, err := a.store.RelatedConcepts(egCtx, req.LearnerID, vec, a.relatedLimit)
			if err != nil {
				return fmt.Errorf("turn context: related concepts: %w", err)
			}
			tc.RelatedConcepts = related
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	tc.AssemblyDuration = time.Since(start)
	return tc, nil
}
