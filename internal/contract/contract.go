// Package contract defines the structured output SAGE expects from the
// language model each turn: a conversational message, an optional mode
// transition signal, a list of typed state changes, and an optional UI hint.
//
// The model returns JSON; [Parse] strips markdown fences, unmarshals, and
// validates the discriminated state-change variants. Parsing never panics on
// arbitrary model output; callers get [ErrMalformedOutput] and fall back to
// a degraded response.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sage-learning/sage/internal/mode"
)

// ErrMalformedOutput is returned when model output cannot be parsed into a
// valid [SAGEResponse].
var ErrMalformedOutput = errors.New("contract: malformed model output")

// ChangeKind discriminates the state-change variants.
type ChangeKind string

const (
	KindGapIdentified        ChangeKind = "gap_identified"
	KindConnectionDiscovered ChangeKind = "connection_discovered"
	KindProofEarned          ChangeKind = "proof_earned"
	KindApplicationDetected  ChangeKind = "application_detected"
	KindFollowupResponse     ChangeKind = "followup_response"
)

// StateChange is one typed entry of SAGEResponse.state_changes. Exactly one
// variant field is non-nil, matching Kind.
type StateChange struct {
	Kind ChangeKind

	Gap         *GapIdentified
	Connection  *ConnectionDiscovered
	Proof       *ProofEarned
	Application *ApplicationDetected
	Followup    *FollowupResponse
}

// GapIdentified records a detected deficiency in the learner's understanding.
type GapIdentified struct {
	ConceptRef  string `json:"concept_ref"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
}

// ConnectionDiscovered records a link the learner drew between two concepts.
type ConnectionDiscovered struct {
	FromConceptRef string `json:"from_concept_ref"`
	ToConceptRef   string `json:"to_concept_ref"`
	Insight        string `json:"insight"`
}

// ProofEarned records learner-provided evidence of understanding a concept.
type ProofEarned struct {
	ConceptRef string  `json:"concept_ref"`
	Statement  string  `json:"statement"`
	Confidence float64 `json:"confidence"`
}

// ApplicationDetected records the learner applying a concept to a real
// problem of their own.
type ApplicationDetected struct {
	ConceptRef string `json:"concept_ref"`
	Context    string `json:"context"`
}

// FollowupResponse records a pending question SAGE should return to later.
type FollowupResponse struct {
	Question string `json:"question"`
	DueHint  string `json:"due_hint,omitempty"`
}

// UIGenerationHint tells the orchestrator the model thinks an interactive UI
// would serve this turn better than plain text.
type UIGenerationHint struct {
	ShouldShowUI bool   `json:"should_show_ui"`
	Purpose      string `json:"purpose,omitempty"`
	Requirements string `json:"requirements,omitempty"`
}

// SAGEResponse is the structured output contract for one turn.
type SAGEResponse struct {
	// Message is the conversational reply shown (or spoken) to the learner.
	Message string `json:"message"`

	// ModeSignal optionally requests a dialogue mode transition. Empty means
	// stay in the current mode. Illegal signals are ignored downstream.
	ModeSignal mode.Signal `json:"mode_signal,omitempty"`

	// StateChanges lists the graph mutations this turn licenses, in the
	// order the model proposed them.
	StateChanges []StateChange `json:"state_changes,omitempty"`

	// UIHint optionally suggests generating an interactive UI.
	UIHint *UIGenerationHint `json:"ui_hint,omitempty"`
}

// MarshalJSON encodes the variant with a "type" discriminator field inlined
// alongside the variant's own fields.
func (c StateChange) MarshalJSON() ([]byte, error) {
	var payload any
	switch c.Kind {
	case KindGapIdentified:
		payload = c.Gap
	case KindConnectionDiscovered:
		payload = c.Connection
	case KindProofEarned:
		payload = c.Proof
	case KindApplicationDetected:
		payload = c.Application
	case KindFollowupResponse:
		payload = c.Followup
	default:
		return nil, fmt.Errorf("contract: marshal state change: unknown kind %q", c.Kind)
	}
	if payload == nil {
		return nil, fmt.Errorf("contract: marshal state change: kind %q has no payload", c.Kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	// Splice the type tag into the variant's object.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(c.Kind)
	fields["type"] = tag
	return json.Marshal(fields)
}

// UnmarshalJSON decodes a discriminated state change. An unknown or missing
// type tag is an error; variant fields are decoded strictly by the tag,
// never by field sniffing.
func (c *StateChange) UnmarshalJSON(data []byte) error {
	var env struct {
		Type ChangeKind `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	c.Kind = env.Type
	switch env.Type {
	case KindGapIdentified:
		c.Gap = &GapIdentified{}
		return json.Unmarshal(data, c.Gap)
	case KindConnectionDiscovered:
		c.Connection = &ConnectionDiscovered{}
		return json.Unmarshal(data, c.Connection)
	case KindProofEarned:
		c.Proof = &ProofEarned{}
		return json.Unmarshal(data, c.Proof)
	case KindApplicationDetected:
		c.Application = &ApplicationDetected{}
		return json.Unmarshal(data, c.Application)
	case KindFollowupResponse:
		c.Followup = &FollowupResponse{}
		return json.Unmarshal(data, c.Followup)
	default:
		return fmt.Errorf("contract: unknown state change type %q", env.Type)
	}
}

// Parse attempts to decode raw model output into a [SAGEResponse]. It strips
// markdown code fences first, then unmarshals. A response with an empty
// message, an invalid state change entry, or no JSON at all fails with
// [ErrMalformedOutput].
func Parse(raw string) (*SAGEResponse, error) {
	cleaned := stripMarkdown(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}

	var resp SAGEResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if resp.Message == "" {
		return nil, fmt.Errorf("%w: missing message", ErrMalformedOutput)
	}
	return &resp, nil
}

// FromPlainText wraps non-JSON model output as a message-only response. Used
// when the model ignored the JSON contract but still produced usable prose.
func FromPlainText(text string) *SAGEResponse {
	return &SAGEResponse{Message: strings.TrimSpace(text)}
}

// fallbackMessages holds the degraded per-mode reply used when parsing fails
// even after the repair retry.
var fallbackMessages = map[mode.Mode]string{
	mode.CheckIn:  "Good to see you. How are you feeling today, and how much time do you have?",
	mode.Explore:  "Let's keep going. Tell me more about what you're curious about right now.",
	mode.Verify:   "Walk me through it in your own words. How would you explain this idea?",
	mode.Practice: "Give it a try and tell me how it goes. Where would you apply this?",
	mode.WrapUp:   "Nice work today. Is there anything you want to note down before we stop?",
}

// Fallback returns the degraded response for the given mode: fixed
// conversational text, no mode signal, no state changes, no UI hint.
func Fallback(m mode.Mode) *SAGEResponse {
	msg, ok := fallbackMessages[m]
	if !ok {
		msg = fallbackMessages[mode.Explore]
	}
	return &SAGEResponse{Message: msg}
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
