package detect_test

import (
	"context"
	"testing"

	"github.com/sage-learning/sage/internal/contract"
	"github.com/sage-learning/sage/internal/detect"
	"github.com/sage-learning/sage/internal/session"
)

func TestExplicit_MapsAllVariants(t *testing.T) {
	resp := &contract.SAGEResponse{
		Message: "nice work",
		StateChanges: []contract.StateChange{
			{Kind: contract.KindProofEarned, Proof: &contract.ProofEarned{ConceptRef: "c-1", Statement: "explained it", Confidence: 0.8}},
			{Kind: contract.KindGapIdentified, Gap: &contract.GapIdentified{ConceptRef: "c-2", Description: "fuzzy on edge cases"}},
			{Kind: contract.KindConnectionDiscovered, Connection: &contract.ConnectionDiscovered{FromConceptRef: "c-1", ToConceptRef: "c-3", Insight: "same pattern"}},
			{Kind: contract.KindApplicationDetected, Application: &contract.ApplicationDetected{ConceptRef: "c-1", Context: "my budget spreadsheet"}},
			{Kind: contract.KindFollowupResponse, Followup: &contract.FollowupResponse{Question: "what about zero?"}},
		},
	}

	signals := detect.Explicit(resp)
	if len(signals) != 5 {
		t.Fatalf("len(signals) = %d, want 5", len(signals))
	}

	wantKinds := []detect.SignalKind{
		detect.SignalProofEarned,
		detect.SignalGapIdentified,
		detect.SignalConnectionDiscovered,
		detect.SignalApplicationDetected,
		detect.SignalFollowupResponse,
	}
	for i, want := range wantKinds {
		if signals[i].Kind != want {
			t.Errorf("signals[%d].Kind = %s, want %s", i, signals[i].Kind, want)
		}
		if signals[i].Source != detect.SourceExplicit {
			t.Errorf("signals[%d].Source = %s, want explicit", i, signals[i].Source)
		}
	}
	if signals[0].ConceptRef != "c-1" {
		t.Errorf("proof signal ConceptRef = %q", signals[0].ConceptRef)
	}
}

func TestExplicit_NilAndEmpty(t *testing.T) {
	if got := detect.Explicit(nil); got != nil {
		t.Errorf("Explicit(nil) = %v, want nil", got)
	}
	if got := detect.Explicit(&contract.SAGEResponse{Message: "hi"}); len(got) != 0 {
		t.Errorf("Explicit(no changes) = %v, want empty", got)
	}
}

func TestImplicit_Lexicons(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		energy string
		want   []detect.SignalKind
	}{
		{
			name: "hedging",
			text: "I think it's maybe the chain rule?",
			want: []detect.SignalKind{detect.SignalHedging},
		},
		{
			name: "low energy",
			text: "honestly I'm pretty tired today",
			want: []detect.SignalKind{detect.SignalLowEnergy},
		},
		{
			name:   "low energy suppressed when already low",
			text:   "still tired",
			energy: "low",
			want:   nil,
		},
		{
			name: "time pressure",
			text: "quick one before my meeting",
			want: []detect.SignalKind{detect.SignalTimePressure},
		},
		{
			name: "frustration",
			text: "I'm stuck and this makes no sense",
			want: []detect.SignalKind{detect.SignalFrustration},
		},
		{
			name: "high energy",
			text: "feeling great, let's go",
			want: []detect.SignalKind{detect.SignalHighEnergy},
		},
		{
			name: "combined cues",
			text: "I guess I'm just tired",
			want: []detect.SignalKind{detect.SignalHedging, detect.SignalLowEnergy},
		},
		{
			name: "neutral text",
			text: "derivatives measure rate of change",
			want: nil,
		},
		{
			name: "empty",
			text: "   ",
			want: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := detect.Implicit(tc.text, tc.energy)
			if len(got) != len(tc.want) {
				t.Fatalf("Implicit(%q) = %v, want kinds %v", tc.text, got, tc.want)
			}
			for i, want := range tc.want {
				if got[i].Kind != want {
					t.Errorf("signal[%d].Kind = %s, want %s", i, got[i].Kind, want)
				}
				if got[i].Source != detect.SourceImplicit {
					t.Errorf("signal[%d].Source = %s, want implicit", i, got[i].Source)
				}
			}
		})
	}
}

// The same text always produces the same signals.
func TestImplicit_Deterministic(t *testing.T) {
	text := "I guess I'm tired and a bit stuck"
	first := detect.Implicit(text, "")
	for i := 0; i < 10; i++ {
		again := detect.Implicit(text, "")
		if len(again) != len(first) {
			t.Fatalf("run %d: %v != %v", i, again, first)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: signal %d differs: %+v != %+v", i, j, again[j], first[j])
			}
		}
	}
}

func TestAdaptationFor(t *testing.T) {
	a, ok := detect.AdaptationFor(detect.Signal{Kind: detect.SignalHedging})
	if !ok {
		t.Fatal("AdaptationFor(hedging) not found")
	}
	if a.Pacing != "slow" || a.Instruction == "" {
		t.Errorf("hedging adaptation = %+v", a)
	}

	if _, ok := detect.AdaptationFor(detect.Signal{Kind: "interpretive_dance"}); ok {
		t.Error("AdaptationFor(unknown) = ok, want false")
	}
}

func TestUpdateContext(t *testing.T) {
	sctx := session.NewContext("s-1", "l-1")

	detect.UpdateContext(context.Background(), sctx, detect.Signal{Kind: detect.SignalLowEnergy, Source: detect.SourceImplicit})
	if sctx.EnergyLevel != "low" || sctx.Pacing != "slow" {
		t.Errorf("context after low_energy = energy %q pacing %q", sctx.EnergyLevel, sctx.Pacing)
	}

	detect.UpdateContext(context.Background(), sctx, detect.Signal{Kind: detect.SignalHighEnergy, Source: detect.SourceImplicit})
	if sctx.EnergyLevel != "high" || sctx.Pacing != "brisk" {
		t.Errorf("context after high_energy = energy %q pacing %q", sctx.EnergyLevel, sctx.Pacing)
	}

	// Unrecognised signals leave the context untouched.
	energy, pacing, m := sctx.EnergyLevel, sctx.Pacing, sctx.Mode
	detect.UpdateContext(context.Background(), sctx, detect.Signal{Kind: "interpretive_dance"})
	if sctx.EnergyLevel != energy || sctx.Pacing != pacing || sctx.Mode != m {
		t.Error("unrecognised signal mutated context")
	}
}
