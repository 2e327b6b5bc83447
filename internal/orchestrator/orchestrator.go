// Package orchestrator chooses the output strategy for a completed turn:
// plain text, a generated interactive UI, or a voice-safe fallback. The
// decision is a pure function of the turn's modality, mode, and UI hint.
package orchestrator

import (
	"github.com/sage-learning/sage/internal/contract"
	"github.com/sage-learning/sage/internal/mode"
	"github.com/sage-learning/sage/internal/normalize"
)

// OutputStrategy is how the turn's response should be delivered.
type OutputStrategy string

const (
	// TextOnly renders the conversational message as-is.
	TextOnly OutputStrategy = "TEXT_ONLY"

	// GenerateUI asks the UI generation agent for an interactive view.
	GenerateUI OutputStrategy = "GENERATE_UI"

	// VoiceFallback speaks the message; the voice channel cannot render a UI
	// tree, so a hinted UI degrades to its voice fallback.
	VoiceFallback OutputStrategy = "VOICE_FALLBACK"
)

// Decision is the orchestrator's verdict for one turn.
type Decision struct {
	Strategy OutputStrategy

	// UIRequest is populated only for [GenerateUI].
	UIRequest *UIGenerationRequest
}

// UIGenerationRequest is handed to the external UI generation agent.
type UIGenerationRequest struct {
	Purpose       string
	Mode          mode.Mode
	EnergyLevel   string
	TimeAvailable int
	RecentTopic   string
	Requirements  string
}

// Input carries everything [Decide] needs.
type Input struct {
	Modality normalize.Modality
	Mode     mode.Mode
	UIHint   *contract.UIGenerationHint

	// EnergyLevel, TimeAvailable, and RecentTopic seed the UI request when
	// one is generated.
	EnergyLevel   string
	TimeAvailable int
	RecentTopic   string
}

// Decide picks the output strategy. Voice input always yields
// [VoiceFallback]; a UI hint on a non-voice channel yields [GenerateUI];
// everything else is [TextOnly]. Pure function, no hidden state.
func Decide(in Input) Decision {
	if in.Modality == normalize.ModalityVoice {
		return Decision{Strategy: VoiceFallback}
	}
	if in.UIHint != nil && in.UIHint.ShouldShowUI {
		return Decision{
			Strategy: GenerateUI,
			UIRequest: &UIGenerationRequest{
				Purpose:       in.UIHint.Purpose,
				Mode:          in.Mode,
				EnergyLevel:   in.EnergyLevel,
				TimeAvailable: in.TimeAvailable,
				RecentTopic:   in.RecentTopic,
				Requirements:  in.UIHint.Requirements,
			},
		}
	}
	return Decision{Strategy: TextOnly}
}
