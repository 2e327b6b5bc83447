// Package prompt renders the per-turn system prompt from the mode, the turn
// context snapshot, and the session history, and trims it to a token budget.
//
// The builder is pure: no I/O, no side effects, deterministic for identical
// input. When the assembled prompt exceeds the budget, sections are dropped in
// a fixed order (oldest history first, then related concepts, then recent
// proofs) and the trimming is reported so the caller can log it.
package prompt

import (
	"fmt"
	"strings"

	"github.com/sage-learning/sage/internal/mode"
	"github.com/sage-learning/sage/internal/turnctx"
	"github.com/sage-learning/sage/pkg/graph"
	"github.com/sage-learning/sage/pkg/provider/llm"
)

// modeInstructions steer the model's behaviour per dialogue mode.
var modeInstructions = map[mode.Mode]string{
	mode.CheckIn: "You are opening the session. Find out how the learner is feeling, " +
		"how much time they have, and what they want to focus on. Keep it short and warm. " +
		"Signal checkin_complete once energy and available time are known.",
	mode.Explore: "Help the learner build understanding of the focus topic. Connect new " +
		"ideas to concepts they already know. Ask one question at a time. Signal " +
		"needs_verification when they claim understanding, or ready_to_practice when the " +
		"idea is established.",
	mode.Verify: "The learner claims to understand. Ask them to explain the idea in their " +
		"own words or apply it to a fresh example. Do not explain it for them. Signal " +
		"verified with a proof_earned change when the explanation holds, or gap_found with " +
		"a gap_identified change when it does not.",
	mode.Practice: "Give the learner exercises that apply the focus concept. Increase " +
		"difficulty gradually. Signal goal_achieved when the session goal is met.",
	mode.WrapUp: "Close the session. Summarise what was covered, name what is solid and " +
		"what needs revisiting, and suggest what to pick up next time.",
}

// contractInstructions describes the JSON output the engine parses each turn.
const contractInstructions = `Respond with a single JSON object and nothing else:
{
  "message": "your conversational reply to the learner (required)",
  "mode_signal": "optional transition signal, omit to stay in the current mode",
  "state_changes": [
    {"type": "gap_identified", "concept_ref": "...", "description": "...", "severity": "..."},
    {"type": "connection_discovered", "from_concept_ref": "...", "to_concept_ref": "...", "insight": "..."},
    {"type": "proof_earned", "concept_ref": "...", "statement": "...", "confidence": 0.0},
    {"type": "application_detected", "concept_ref": "...", "context": "..."},
    {"type": "followup_response", "question": "...", "due_hint": "..."}
  ],
  "ui_hint": {"should_show_ui": false, "purpose": "...", "requirements": "..."}
}
Only record state changes you have direct evidence for in the learner's words.
Omit state_changes and ui_hint entirely when there is nothing to report.`

// Dropped reports which sections were trimmed to fit the token budget.
type Dropped struct {
	// HistoryTurns is the number of oldest history messages removed.
	HistoryTurns int

	// RelatedConcepts is true when the related-concepts section was dropped.
	RelatedConcepts bool

	// RecentProofs is true when the recent-proofs section was dropped.
	RecentProofs bool
}

// Any reports whether anything was dropped.
func (d Dropped) Any() bool {
	return d.HistoryTurns > 0 || d.RelatedConcepts || d.RecentProofs
}

// Input carries everything one turn's prompt is built from.
type Input struct {
	// Mode is the current dialogue mode.
	Mode mode.Mode

	// Turn is the assembled graph snapshot for this turn.
	Turn *turnctx.TurnContext

	// Summary is the compacted summary of earlier conversation, if any.
	Summary string

	// History is the retained conversation history, oldest first.
	History []llm.Message

	// EnergyLevel, TimeAvailable, and Pacing describe the session state.
	EnergyLevel   string
	TimeAvailable int
	Pacing        string

	// Guidance holds per-turn adaptation instructions derived from
	// conversational cues in the learner's latest message.
	Guidance []string
}

// Prompt is the budget-fitted result of [Builder.Build].
type Prompt struct {
	// System is the rendered system prompt.
	System string

	// History is the (possibly trimmed) conversation history, oldest first.
	History []llm.Message

	// Dropped reports trimming applied to fit the budget.
	Dropped Dropped

	// TokenEstimate is the approximate token count of System plus History.
	TokenEstimate int
}

// Option is a functional option for [NewBuilder].
type Option func(*Builder)

// WithTokenBudget sets the prompt token budget. Defaults to 8000.
func WithTokenBudget(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.budget = n
		}
	}
}

// Builder renders and budget-fits turn prompts.
type Builder struct {
	budget int
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{budget: 8000}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build renders the prompt for one turn and trims it to the token budget.
// Trimming drops, in order: oldest history messages, the related-concepts
// section, the recent-proofs section. The mode instructions, learner profile,
// per-turn guidance, and output contract are never dropped.
func (b *Builder) Build(in Input) (*Prompt, error) {
	if in.Turn == nil {
		return nil, fmt.Errorf("prompt: build: nil turn context")
	}

	history := in.History
	var dropped Dropped
	includeRelated := len(in.Turn.RelatedConcepts) > 0
	includeProofs := len(in.Turn.FocusProofs) > 0

	for {
		system := b.render(in, includeRelated, includeProofs)
		estimate := estimateTokens(system, history)
		if estimate <= b.budget {
			return &Prompt{
				System:        system,
				History:       history,
				Dropped:       dropped,
				TokenEstimate: estimate,
			}, nil
		}

		switch {
		case len(history) > 0:
			history = history[1:]
			dropped.HistoryTurns++
		case includeRelated:
			includeRelated = false
			dropped.RelatedConcepts = true
		case includeProofs:
			includeProofs = false
			dropped.RecentProofs = true
		default:
			// Nothing left to trim; return the minimal prompt over budget.
			return &Prompt{
				System:        system,
				History:       history,
				Dropped:       dropped,
				TokenEstimate: estimate,
			}, nil
		}
	}
}

func (b *Builder) render(in Input, includeRelated, includeProofs bool) string {
	tc := in.Turn
	var sb strings.Builder

	name := tc.Learner.Name
	if name == "" {
		name = "the learner"
	}
	fmt.Fprintf(&sb, "You are SAGE, a personal tutor working with %s.", name)

	if instr, ok := modeInstructions[in.Mode]; ok {
		sb.WriteString("\n\n## Current Mode: " + string(in.Mode) + "\n")
		sb.WriteString(instr)
	}

	if tc.ActiveOutcome != nil {
		sb.WriteString("\n\n## Current Goal\n")
		fmt.Fprintf(&sb, "%s (progress: %.0f%%)", tc.ActiveOutcome.Title, tc.ActiveOutcome.Progress*100)
		if tc.ActiveOutcome.Description != "" {
			sb.WriteString("\n" + tc.ActiveOutcome.Description)
		}
	}

	if session := formatSessionSection(in); session != "" {
		sb.WriteString("\n\n## Session\n")
		sb.WriteString(session)
	}

	if len(tc.Concepts) > 0 {
		sb.WriteString("\n\n## Known Concepts\n")
		sb.WriteString(formatConcepts(tc.Concepts))
	}

	if includeRelated && len(tc.RelatedConcepts) > 0 {
		sb.WriteString("\n\n## Related Concepts\n")
		sb.WriteString(formatConcepts(tc.RelatedConcepts))
	}

	if len(tc.OpenGaps) > 0 {
		sb.WriteString("\n\n## Open Gaps\n")
		var lines []string
		for _, g := range tc.OpenGaps {
			lines = append(lines, "- "+g.Description)
		}
		sb.WriteString(strings.Join(lines, "\n"))
	}

	if includeProofs && len(tc.FocusProofs) > 0 {
		sb.WriteString("\n\n## Recent Proofs\n")
		var lines []string
		for _, p := range tc.FocusProofs {
			lines = append(lines, fmt.Sprintf("- %s (confidence %.2f)", p.Statement, p.Confidence))
		}
		sb.WriteString(strings.Join(lines, "\n"))
	}

	if in.Summary != "" {
		sb.WriteString("\n\n## Earlier In This Session\n")
		sb.WriteString(in.Summary)
	}

	if len(in.Guidance) > 0 {
		sb.WriteString("\n\n## This Turn\n")
		var lines []string
		for _, g := range in.Guidance {
			lines = append(lines, "- "+g)
		}
		sb.WriteString(strings.Join(lines, "\n"))
	}

	sb.WriteString("\n\n## Response Format\n")
	sb.WriteString(contractInstructions)

	return sb.String()
}

func formatSessionSection(in Input) string {
	var lines []string
	if in.EnergyLevel != "" {
		lines = append(lines, "Learner energy: "+in.EnergyLevel)
	}
	if in.TimeAvailable > 0 {
		lines = append(lines, fmt.Sprintf("Time available: %d minutes", in.TimeAvailable))
	}
	if in.Pacing != "" {
		lines = append(lines, "Pacing: "+in.Pacing)
	}
	return strings.Join(lines, "\n")
}

func formatConcepts(concepts []graph.Concept) string {
	var lines []string
	for _, c := range concepts {
		line := fmt.Sprintf("- %s [%s]", c.Name, c.Status)
		if c.Summary != "" {
			line += ": " + c.Summary
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// estimateTokens approximates the token count as one token per four
// characters, matching the heuristic the session log uses.
func estimateTokens(system string, history []llm.Message) int {
	total := len(system)
	for _, m := range history {
		total += len(m.Role) + len(m.Content)
	}
	return total / 4
}
