package orchestrator

import (
	"testing"

	"github.com/sage-learning/sage/internal/contract"
	"github.com/sage-learning/sage/internal/mode"
	"github.com/sage-learning/sage/internal/normalize"
)

func TestDecide(t *testing.T) {
	showUI := &contract.UIGenerationHint{ShouldShowUI: true, Purpose: "practice quiz"}
	hideUI := &contract.UIGenerationHint{ShouldShowUI: false}

	tests := []struct {
		name     string
		modality normalize.Modality
		hint     *contract.UIGenerationHint
		want     OutputStrategy
	}{
		{"chat without hint", normalize.ModalityChat, nil, TextOnly},
		{"chat with suppressed hint", normalize.ModalityChat, hideUI, TextOnly},
		{"chat with UI hint", normalize.ModalityChat, showUI, GenerateUI},
		{"form with UI hint", normalize.ModalityForm, showUI, GenerateUI},
		{"voice without hint", normalize.ModalityVoice, nil, VoiceFallback},
		{"voice with UI hint", normalize.ModalityVoice, showUI, VoiceFallback},
		{"voice with suppressed hint", normalize.ModalityVoice, hideUI, VoiceFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(Input{Modality: tt.modality, Mode: mode.Practice, UIHint: tt.hint})
			if got.Strategy != tt.want {
				t.Errorf("Decide() strategy = %s, want %s", got.Strategy, tt.want)
			}
		})
	}
}

func TestDecide_UIRequestPopulated(t *testing.T) {
	d := Decide(Input{
		Modality: normalize.ModalityChat,
		Mode:     mode.Practice,
		UIHint: &contract.UIGenerationHint{
			ShouldShowUI: true,
			Purpose:      "practice quiz",
			Requirements: "three questions, increasing difficulty",
		},
		EnergyLevel:   "medium",
		TimeAvailable: 20,
		RecentTopic:   "recursion",
	})

	if d.Strategy != GenerateUI {
		t.Fatalf("strategy = %s, want GENERATE_UI", d.Strategy)
	}
	req := d.UIRequest
	if req == nil {
		t.Fatal("UIRequest is nil")
	}
	if req.Purpose != "practice quiz" || req.Mode != mode.Practice ||
		req.EnergyLevel != "medium" || req.TimeAvailable != 20 ||
		req.RecentTopic != "recursion" || req.Requirements != "three questions, increasing difficulty" {
		t.Errorf("UIRequest = %+v", req)
	}
}

func TestDecide_TextOnlyHasNoUIRequest(t *testing.T) {
	d := Decide(Input{Modality: normalize.ModalityChat, Mode: mode.Explore})
	if d.UIRequest != nil {
		t.Errorf("UIRequest = %+v, want nil", d.UIRequest)
	}
}
