// Package detect derives state-change signals from a turn: explicit signals
// read straight out of the model's structured state changes, and implicit
// signals found by a deterministic lexical scan of the learner's own words.
//
// The implicit scan is a heuristic safety net, not a second model call. It
// must stay fast and deterministic so the engine can run it on every turn.
package detect

import (
	"context"
	"strings"

	"github.com/sage-learning/sage/internal/contract"
	"github.com/sage-learning/sage/internal/mode"
	"github.com/sage-learning/sage/internal/observe"
	"github.com/sage-learning/sage/internal/session"
)

// SignalKind identifies one kind of state-change signal.
type SignalKind string

const (
	// Explicit kinds mirror the structured state-change variants.
	SignalGapIdentified        SignalKind = "gap_identified"
	SignalConnectionDiscovered SignalKind = "connection_discovered"
	SignalProofEarned          SignalKind = "proof_earned"
	SignalApplicationDetected  SignalKind = "application_detected"
	SignalFollowupResponse     SignalKind = "followup_response"

	// Implicit kinds come from the lexical scan.
	SignalHedging      SignalKind = "hedging"
	SignalLowEnergy    SignalKind = "low_energy"
	SignalHighEnergy   SignalKind = "high_energy"
	SignalTimePressure SignalKind = "time_pressure"
	SignalFrustration  SignalKind = "frustration"
)

// Source says where a signal came from.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceImplicit Source = "implicit"
)

// Signal is one detected state-change signal.
type Signal struct {
	Kind   SignalKind
	Source Source

	// ConceptRef is set for explicit signals that reference a concept.
	ConceptRef string

	// Detail carries the matched phrase (implicit) or free-text payload
	// (explicit) for logging and prompt instructions.
	Detail string
}

// Explicit derives signals directly from the structured state changes of a
// parsed response. Pure function.
func Explicit(resp *contract.SAGEResponse) []Signal {
	if resp == nil {
		return nil
	}
	var signals []Signal
	for _, c := range resp.StateChanges {
		switch c.Kind {
		case contract.KindGapIdentified:
			signals = append(signals, Signal{
				Kind: SignalGapIdentified, Source: SourceExplicit,
				ConceptRef: c.Gap.ConceptRef, Detail: c.Gap.Description,
			})
		case contract.KindConnectionDiscovered:
			signals = append(signals, Signal{
				Kind: SignalConnectionDiscovered, Source: SourceExplicit,
				ConceptRef: c.Connection.FromConceptRef, Detail: c.Connection.Insight,
			})
		case contract.KindProofEarned:
			signals = append(signals, Signal{
				Kind: SignalProofEarned, Source: SourceExplicit,
				ConceptRef: c.Proof.ConceptRef, Detail: c.Proof.Statement,
			})
		case contract.KindApplicationDetected:
			signals = append(signals, Signal{
				Kind: SignalApplicationDetected, Source: SourceExplicit,
				ConceptRef: c.Application.ConceptRef, Detail: c.Application.Context,
			})
		case contract.KindFollowupResponse:
			signals = append(signals, Signal{
				Kind: SignalFollowupResponse, Source: SourceExplicit,
				Detail: c.Followup.Question,
			})
		}
	}
	return signals
}

// lexicons drive the implicit scan. Phrases are matched case-insensitively
// as substrings of the learner's text.
var (
	hedgingPhrases = []string{
		"i think", "i guess", "maybe", "not sure", "kind of", "sort of",
		"i suppose", "probably", "if i remember",
	}
	lowEnergyPhrases = []string{
		"tired", "exhausted", "wiped", "drained", "worn out", "sleepy",
		"long day", "low energy",
	}
	highEnergyPhrases = []string{
		"excited", "let's go", "pumped", "can't wait", "feeling great",
		"energised", "energized",
	}
	timePressurePhrases = []string{
		"only have", "short on time", "quick one", "in a hurry", "gotta run",
		"just a few minutes", "before my",
	}
	frustrationPhrases = []string{
		"frustrated", "stuck", "this makes no sense", "i give up",
		"i don't get it", "confusing",
	}
)

// Implicit scans the learner's raw text for linguistic cues. currentEnergy
// suppresses redundant energy signals (a learner already marked low does
// not re-trigger low_energy). Pure and deterministic.
func Implicit(rawText, currentEnergy string) []Signal {
	text := strings.ToLower(rawText)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var signals []Signal
	appendMatch := func(kind SignalKind, phrases []string) {
		for _, p := range phrases {
			if strings.Contains(text, p) {
				signals = append(signals, Signal{Kind: kind, Source: SourceImplicit, Detail: p})
				return
			}
		}
	}

	appendMatch(SignalHedging, hedgingPhrases)
	if currentEnergy != "low" {
		appendMatch(SignalLowEnergy, lowEnergyPhrases)
	}
	if currentEnergy != "high" {
		appendMatch(SignalHighEnergy, highEnergyPhrases)
	}
	appendMatch(SignalTimePressure, timePressurePhrases)
	appendMatch(SignalFrustration, frustrationPhrases)

	return signals
}

// Adaptation is a recommended pacing or mode adjustment for a signal.
type Adaptation struct {
	// Pacing recommendation: "slow", "steady", or "brisk". Empty means no
	// pacing change.
	Pacing string

	// ModeSignal optionally recommends a dialogue mode transition.
	ModeSignal mode.Signal

	// Instruction is injected into the prompt so the model adjusts its
	// next response.
	Instruction string
}

// adaptations is a pure lookup from signal kind to recommendation.
var adaptations = map[SignalKind]Adaptation{
	SignalHedging: {
		Pacing:      "slow",
		ModeSignal:  mode.SignalNeedsVerification,
		Instruction: "The learner sounds unsure. Check their understanding before moving on.",
	},
	SignalLowEnergy: {
		Pacing:      "slow",
		ModeSignal:  mode.SignalLowEnergy,
		Instruction: "The learner has low energy. Keep the next step small and encouraging.",
	},
	SignalHighEnergy: {
		Pacing:      "brisk",
		Instruction: "The learner is energised. You can move faster and go deeper.",
	},
	SignalTimePressure: {
		Pacing:      "brisk",
		Instruction: "The learner is short on time. Prioritise one focused step.",
	},
	SignalFrustration: {
		Pacing:      "slow",
		ModeSignal:  mode.SignalGapFound,
		Instruction: "The learner is frustrated. Back up to something they already understand.",
	},
	SignalGapIdentified: {
		Pacing:      "slow",
		ModeSignal:  mode.SignalGapFound,
		Instruction: "A gap was identified. Probe it gently before continuing.",
	},
	SignalProofEarned: {
		ModeSignal:  mode.SignalVerified,
		Instruction: "The learner just demonstrated understanding. Acknowledge it specifically.",
	},
	SignalConnectionDiscovered: {
		Instruction: "The learner connected two concepts. Reinforce the link.",
	},
	SignalApplicationDetected: {
		ModeSignal:  mode.SignalReadyToPractice,
		Instruction: "The learner applied the concept to their own situation. Build on it.",
	},
	SignalFollowupResponse: {
		Instruction: "Note the open question and return to it when there is room.",
	},
}

// AdaptationFor maps a signal to its recommended adjustment. The second
// return value is false for unrecognised signal kinds.
func AdaptationFor(sig Signal) (Adaptation, bool) {
	a, ok := adaptations[sig.Kind]
	return a, ok
}

// UpdateContext applies the adaptation for sig to the session context.
// Unrecognised signals are logged and ignored, never dropped silently.
func UpdateContext(ctx context.Context, sctx *session.Context, sig Signal) {
	a, ok := AdaptationFor(sig)
	if !ok {
		observe.Logger(ctx).Warn("unrecognised state-change signal ignored",
			"kind", string(sig.Kind), "source", string(sig.Source))
		return
	}

	if a.Pacing != "" {
		sctx.Pacing = a.Pacing
	}
	switch sig.Kind {
	case SignalLowEnergy:
		sctx.EnergyLevel = "low"
	case SignalHighEnergy:
		sctx.EnergyLevel = "high"
	}
}
