package contract_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/sage-learning/sage/internal/contract"
	"github.com/sage-learning/sage/internal/mode"
)

func TestParse_FullResponse(t *testing.T) {
	raw := `{
		"message": "Great explanation of recursion!",
		"mode_signal": "verified",
		"state_changes": [
			{"type": "proof_earned", "concept_ref": "c-recursion", "statement": "explained base case correctly", "confidence": 0.85},
			{"type": "gap_identified", "concept_ref": "c-tail-calls", "description": "unsure about stack frames"}
		],
		"ui_hint": {"should_show_ui": true, "purpose": "practice_exercise"}
	}`

	resp, err := contract.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if resp.Message != "Great explanation of recursion!" {
		t.Errorf("Message = %q", resp.Message)
	}
	if resp.ModeSignal != mode.SignalVerified {
		t.Errorf("ModeSignal = %q, want verified", resp.ModeSignal)
	}
	if len(resp.StateChanges) != 2 {
		t.Fatalf("len(StateChanges) = %d, want 2", len(resp.StateChanges))
	}

	first := resp.StateChanges[0]
	if first.Kind != contract.KindProofEarned || first.Proof == nil {
		t.Fatalf("first change = %+v, want proof_earned with payload", first)
	}
	if first.Proof.ConceptRef != "c-recursion" || first.Proof.Confidence != 0.85 {
		t.Errorf("proof payload = %+v", first.Proof)
	}

	second := resp.StateChanges[1]
	if second.Kind != contract.KindGapIdentified || second.Gap == nil {
		t.Fatalf("second change = %+v, want gap_identified with payload", second)
	}

	if resp.UIHint == nil || !resp.UIHint.ShouldShowUI {
		t.Errorf("UIHint = %+v, want should_show_ui true", resp.UIHint)
	}
}

func TestParse_StripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"message\": \"hello\"}\n```"

	resp, err := contract.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if resp.Message != "hello" {
		t.Errorf("Message = %q, want hello", resp.Message)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"prose", "Sure! Here is my answer: recursion is when..."},
		{"truncated json", `{"message": "hi", "state_changes": [`},
		{"missing message", `{"mode_signal": "verified"}`},
		{"unknown change type", `{"message": "hi", "state_changes": [{"type": "mind_read"}]}`},
		{"untagged change", `{"message": "hi", "state_changes": [{"concept_ref": "c-1"}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := contract.Parse(tc.raw)
			if !errors.Is(err, contract.ErrMalformedOutput) {
				t.Errorf("Parse(%q) error = %v, want ErrMalformedOutput", tc.raw, err)
			}
		})
	}
}

// Serialising a response and parsing it back must preserve every field.
func TestRoundTrip(t *testing.T) {
	orig := &contract.SAGEResponse{
		Message:    "Let's connect these two ideas.",
		ModeSignal: mode.SignalNeedsVerification,
		StateChanges: []contract.StateChange{
			{
				Kind: contract.KindConnectionDiscovered,
				Connection: &contract.ConnectionDiscovered{
					FromConceptRef: "c-derivatives",
					ToConceptRef:   "c-velocity",
					Insight:        "rate of change is the same idea in both",
				},
			},
			{
				Kind: contract.KindApplicationDetected,
				Application: &contract.ApplicationDetected{
					ConceptRef: "c-derivatives",
					Context:    "estimating how fast my savings grow",
				},
			},
			{
				Kind: contract.KindFollowupResponse,
				Followup: &contract.FollowupResponse{
					Question: "What happens at an inflection point?",
					DueHint:  "next session",
				},
			},
		},
		UIHint: &contract.UIGenerationHint{ShouldShowUI: true, Purpose: "concept_map"},
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	parsed, err := contract.Parse(string(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if parsed.Message != orig.Message || parsed.ModeSignal != orig.ModeSignal {
		t.Errorf("header fields differ: %+v", parsed)
	}
	if len(parsed.StateChanges) != 3 {
		t.Fatalf("len(StateChanges) = %d, want 3", len(parsed.StateChanges))
	}
	if got := parsed.StateChanges[0].Connection; got == nil || *got != *orig.StateChanges[0].Connection {
		t.Errorf("connection = %+v, want %+v", got, orig.StateChanges[0].Connection)
	}
	if got := parsed.StateChanges[1].Application; got == nil || *got != *orig.StateChanges[1].Application {
		t.Errorf("application = %+v, want %+v", got, orig.StateChanges[1].Application)
	}
	if got := parsed.StateChanges[2].Followup; got == nil || *got != *orig.StateChanges[2].Followup {
		t.Errorf("followup = %+v, want %+v", got, orig.StateChanges[2].Followup)
	}
	if parsed.UIHint == nil || *parsed.UIHint != *orig.UIHint {
		t.Errorf("ui_hint = %+v, want %+v", parsed.UIHint, orig.UIHint)
	}
}

func TestMarshal_UnknownKindFails(t *testing.T) {
	c := contract.StateChange{Kind: "mystery"}
	if _, err := json.Marshal(c); err == nil {
		t.Fatal("Marshal of unknown kind succeeded, want error")
	}
}

func TestFromPlainText(t *testing.T) {
	resp := contract.FromPlainText("  Just keep practising.  ")
	if resp.Message != "Just keep practising." {
		t.Errorf("Message = %q", resp.Message)
	}
	if resp.ModeSignal != "" || len(resp.StateChanges) != 0 || resp.UIHint != nil {
		t.Errorf("plain text response carries extra fields: %+v", resp)
	}
}

func TestFallback_PerMode(t *testing.T) {
	for _, m := range []mode.Mode{mode.CheckIn, mode.Explore, mode.Verify, mode.Practice, mode.WrapUp} {
		resp := contract.Fallback(m)
		if resp.Message == "" {
			t.Errorf("Fallback(%s) has empty message", m)
		}
		if resp.ModeSignal != "" || len(resp.StateChanges) != 0 || resp.UIHint != nil {
			t.Errorf("Fallback(%s) must be message-only, got %+v", m, resp)
		}
	}

	// Unknown modes still produce something usable.
	if resp := contract.Fallback(mode.Mode("LIMBO")); resp.Message == "" {
		t.Error("Fallback(unknown) has empty message")
	}
}
