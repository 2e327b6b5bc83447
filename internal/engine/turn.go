package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sage-learning/sage/internal/contract"
	"github.com/sage-learning/sage/internal/detect"
	"github.com/sage-learning/sage/internal/mode"
	"github.com/sage-learning/sage/internal/normalize"
	"github.com/sage-learning/sage/internal/observe"
	"github.com/sage-learning/sage/internal/prompt"
	"github.com/sage-learning/sage/internal/turnctx"
	"github.com/sage-learning/sage/pkg/graph"
	"github.com/sage-learning/sage/pkg/provider/llm"
)

// repairInstruction is sent once when the model's structured output could not
// be parsed.
const repairInstruction = "Your previous reply was not valid JSON. Return ONLY the JSON object " +
	"described in the response format, with no surrounding text or markdown fences."

// outcomeProofStep is how far one solid proof moves the active outcome.
const outcomeProofStep = 0.1

// TurnInput is one learner message entering [LiveSession.ProcessTurn].
type TurnInput struct {
	// Modality is how the input arrived: form, voice, or chat.
	Modality normalize.Modality

	// Intent names the declared or expected intent schema.
	Intent string

	// Fields is the typed payload for form input.
	Fields map[string]any

	// Text is the free-text payload for voice and chat input.
	Text string
}

// TurnResult is the outcome of one turn. Response is always non-nil on a nil
// error; GraphErr is set when the turn's graph mutations did not persist.
type TurnResult struct {
	// Response is the structured reply for the learner.
	Response *contract.SAGEResponse

	// Mode is the dialogue mode after this turn.
	Mode mode.Mode

	// Clarification is true when the turn short-circuited into a request for
	// missing or low-confidence fields instead of a model exchange.
	Clarification bool

	// UIHint mirrors Response.UIHint for the orchestrator's convenience.
	UIHint *contract.UIGenerationHint

	// GraphErr wraps [ErrGraphWrite] when persistence failed. The response is
	// still valid conversationally.
	GraphErr error
}

// ProcessTurn runs the atomic unit of work for one learner message. Turns on
// the same session are serialised; a second concurrent call blocks until the
// first finishes.
func (s *LiveSession) ProcessTurn(ctx context.Context, input TurnInput) (*TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateActive {
		return nil, ErrSessionNotActive
	}

	ctx, span := observe.StartSpan(ctx, "engine.process_turn",
		trace.WithAttributes(
			attribute.String("session_id", s.sctx.SessionID),
			attribute.String("mode", string(s.sctx.Mode)),
			attribute.String("modality", string(input.Modality)),
		))
	defer span.End()

	start := time.Now()
	e := s.engine
	defer func() {
		if e.metrics != nil {
			e.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("mode", string(s.sctx.Mode))))
			e.metrics.TurnsProcessed.Add(ctx, 1)
		}
	}()

	log := observe.Logger(ctx).With(
		"session_id", s.sctx.SessionID, "mode", string(s.sctx.Mode))

	tc, err := e.assembler.Assemble(ctx, turnctx.Request{
		LearnerID:      s.sctx.LearnerID,
		FocusConceptID: s.sctx.FocusConceptID,
		FocusText:      input.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: process turn: %w", err)
	}

	norm, err := e.normalizer.Normalize(ctx, normalize.Request{
		Modality:   input.Modality,
		Intent:     input.Intent,
		Fields:     input.Fields,
		Text:       input.Text,
		Vocabulary: tc.Vocabulary(),
	})
	if err != nil {
		return nil, fmt.Errorf("engine: process turn: %w", err)
	}

	// Low-confidence extraction triggers a clarification turn instead of a
	// model exchange: no state mutation, no graph writes.
	if norm.Extraction != nil &&
		norm.Extraction.Confidence < e.dialogueConfig().EffectiveConfidenceThreshold() {
		resp := clarificationResponse(norm)
		s.sctx.PendingFields = norm.Extraction.MissingFields
		s.appendTurns(ctx, input, norm, resp, log)
		s.sctx.Touch()
		log.Info("clarification turn", "intent", norm.Intent,
			"confidence", norm.Extraction.Confidence,
			"missing_fields", strings.Join(norm.Extraction.MissingFields, ","))
		return &TurnResult{Response: resp, Mode: s.sctx.Mode, Clarification: true}, nil
	}

	var changes graph.ChangeSet
	if topic := s.absorbFields(norm, tc); topic != "" {
		// The learner named a topic the graph does not know yet; introduce
		// it so this turn's proofs and gaps have a node to attach to.
		concept := graph.Concept{
			ID:        uuid.NewString(),
			LearnerID: s.sctx.LearnerID,
			Name:      topic,
			Status:    graph.ConceptIntroduced,
			CreatedAt: time.Now().UTC(),
		}
		changes.NewConcepts = append(changes.NewConcepts, concept)
		tc.Concepts = append(tc.Concepts, concept)
		s.sctx.FocusConceptID = concept.ID
		log.Info("concept introduced", "concept", concept.Name)
	}

	// Implicit cues in the learner's message adapt this same turn's prompt.
	// Explicit signals only arrive with the model response and are handled
	// after the call.
	implicit := detect.Implicit(norm.RawText, s.sctx.EnergyLevel)
	var guidance []string
	for _, sig := range implicit {
		detect.UpdateContext(ctx, s.sctx, sig)
		if a, ok := detect.AdaptationFor(sig); ok && a.Instruction != "" {
			guidance = append(guidance, a.Instruction)
		}
	}

	built, err := e.prompt.Build(prompt.Input{
		Mode:          s.sctx.Mode,
		Turn:          tc,
		Summary:       s.log.Summary(),
		History:       s.log.Messages(),
		EnergyLevel:   s.sctx.EnergyLevel,
		TimeAvailable: parseMinutes(s.sctx.TimeAvailable),
		Pacing:        s.sctx.Pacing,
		Guidance:      guidance,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: process turn: %w", err)
	}
	if built.Dropped.Any() {
		log.Info("prompt trimmed to budget",
			"dropped_history_turns", built.Dropped.HistoryTurns,
			"dropped_related_concepts", built.Dropped.RelatedConcepts,
			"dropped_recent_proofs", built.Dropped.RecentProofs)
	}

	userText := learnerMessage(input, norm)
	resp := s.invokeModel(ctx, built, userText, log)

	// Validate state changes against the turn context; inconsistent entries
	// are dropped, the rest of the turn proceeds.
	resp.StateChanges = s.validateChanges(ctx, resp, tc, &changes, log)

	s.applyModeTransition(ctx, resp, implicit, tc, log)

	result := &TurnResult{Response: resp, Mode: s.sctx.Mode, UIHint: resp.UIHint}
	if !changes.Empty() {
		if err := e.store.Apply(ctx, changes); err != nil {
			if e.metrics != nil {
				e.metrics.GraphWriteErrors.Add(ctx, 1)
			}
			log.Error("turn changes not persisted", "error", err)
			result.GraphErr = fmt.Errorf("%w: %v", ErrGraphWrite, err)
		}
	}

	s.appendTurns(ctx, input, norm, resp, log)
	s.sctx.Touch()
	s.persistSessionState(ctx, log)

	return result, nil
}

// invokeModel runs the completion, with one repair retry for malformed
// structured output. When the retry also fails, a plain-prose reply is
// salvaged as a message-only response; anything else falls back to the fixed
// per-mode message.
func (s *LiveSession) invokeModel(ctx context.Context, built *prompt.Prompt, userText string, log *slog.Logger) *contract.SAGEResponse {
	e := s.engine

	messages := append(append([]llm.Message{}, built.History...),
		llm.Message{Role: "user", Content: userText})
	raw, err := s.complete(ctx, built.System, messages)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ProviderErrors.Add(ctx, 1)
		}
		log.Error("model call failed, using fallback response", "error", err)
		return contract.Fallback(s.sctx.Mode)
	}

	resp, err := contract.Parse(raw)
	if err == nil {
		return resp
	}
	log.Warn("malformed model output, retrying with repair instruction", "error", err)

	salvage := raw
	messages = append(messages,
		llm.Message{Role: "assistant", Content: raw},
		llm.Message{Role: "user", Content: repairInstruction})
	raw, err = s.complete(ctx, built.System, messages)
	if err == nil {
		if resp, perr := contract.Parse(raw); perr == nil {
			return resp
		}
		salvage = raw
	}

	if e.metrics != nil {
		e.metrics.MalformedResponses.Add(ctx, 1)
	}
	// Prose that merely ignored the JSON contract is still a usable reply.
	// Broken JSON is not: it may be truncated mid-structure.
	if t := strings.TrimSpace(salvage); t != "" && !strings.HasPrefix(t, "{") {
		log.Warn("structured output unrecoverable, salvaging plain-text reply")
		return contract.FromPlainText(t)
	}
	log.Warn("structured output unrecoverable, using fallback response")
	return contract.Fallback(s.sctx.Mode)
}

func (s *LiveSession) complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	if d := s.engine.dialogueConfig().EffectiveModelCallTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	start := time.Now()
	resp, err := s.engine.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: system,
		Temperature:  0.7,
	})
	if s.engine.metrics != nil {
		s.engine.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("engine: provider returned no response")
	}
	return resp.Content, nil
}

// validateChanges filters the response's state changes down to those whose
// concept references resolve in the turn context, appends the survivors'
// graph mutations to changes, and advances the active outcome.
func (s *LiveSession) validateChanges(ctx context.Context, resp *contract.SAGEResponse, tc *turnctx.TurnContext, changes *graph.ChangeSet, log *slog.Logger) []contract.StateChange {
	var (
		kept       []contract.StateChange
		solidProof bool
	)
	resolvedGaps := make(map[string]bool)
	now := time.Now().UTC()

	for _, sc := range resp.StateChanges {
		switch sc.Kind {
		case contract.KindProofEarned:
			concept, ok := resolveConcept(tc, sc.Proof.ConceptRef)
			if !ok {
				s.dropChange(ctx, sc, sc.Proof.ConceptRef, log)
				continue
			}
			changes.NewProofs = append(changes.NewProofs, graph.Proof{
				ID:         uuid.NewString(),
				LearnerID:  s.sctx.LearnerID,
				ConceptID:  concept.ID,
				Statement:  sc.Proof.Statement,
				Confidence: sc.Proof.Confidence,
				EarnedAt:   now,
			})
			if sc.Proof.Confidence >= s.engine.dialogueConfig().EffectiveConfidenceThreshold() {
				solidProof = true
				changes.ConceptUpdates = append(changes.ConceptUpdates, graph.ConceptStatusUpdate{
					ConceptID: concept.ID,
					Status:    graph.ConceptSolid,
				})
				// A solid proof closes the open gaps recorded against the
				// same concept.
				for _, g := range tc.OpenGaps {
					if g.ConceptID == concept.ID && !resolvedGaps[g.ID] {
						resolvedGaps[g.ID] = true
						changes.ResolvedGapIDs = append(changes.ResolvedGapIDs, g.ID)
					}
				}
			}

		case contract.KindGapIdentified:
			// A gap may be recorded before its concept node exists; an
			// unresolved reference yields a gap with no concept link.
			conceptID := ""
			if concept, ok := resolveConcept(tc, sc.Gap.ConceptRef); ok {
				conceptID = concept.ID
			}
			changes.NewGaps = append(changes.NewGaps, graph.Gap{
				ID:          uuid.NewString(),
				LearnerID:   s.sctx.LearnerID,
				ConceptID:   conceptID,
				Description: sc.Gap.Description,
				DetectedAt:  now,
			})

		case contract.KindConnectionDiscovered:
			from, okFrom := resolveConcept(tc, sc.Connection.FromConceptRef)
			_, okTo := resolveConcept(tc, sc.Connection.ToConceptRef)
			if !okFrom || !okTo {
				ref := sc.Connection.FromConceptRef
				if okFrom {
					ref = sc.Connection.ToConceptRef
				}
				s.dropChange(ctx, sc, ref, log)
				continue
			}
			changes.ConceptUpdates = append(changes.ConceptUpdates, graph.ConceptStatusUpdate{
				ConceptID: from.ID,
				Status:    from.Status,
				Summary:   appendInsight(from.Summary, sc.Connection.Insight),
			})

		case contract.KindApplicationDetected:
			concept, ok := resolveConcept(tc, sc.Application.ConceptRef)
			if !ok {
				s.dropChange(ctx, sc, sc.Application.ConceptRef, log)
				continue
			}
			changes.ConceptUpdates = append(changes.ConceptUpdates, graph.ConceptStatusUpdate{
				ConceptID: concept.ID,
				Status:    concept.Status,
				Summary:   appendInsight(concept.Summary, "Applied: "+sc.Application.Context),
			})

		case contract.KindFollowupResponse:
			// Kept in session state only; followups are not graph entities.
			s.sctx.PendingFields = append(s.sctx.PendingFields, sc.Followup.Question)

		default:
			s.dropChange(ctx, sc, "", log)
			continue
		}
		kept = append(kept, sc)
	}

	if tc.ActiveOutcome != nil {
		if u, ok := s.outcomeProgress(resp, tc.ActiveOutcome, solidProof); ok {
			changes.OutcomeUpdates = append(changes.OutcomeUpdates, u)
		}
	}
	return kept
}

// outcomeProgress derives the active outcome's progress update for one turn.
// A legal goal_achieved signal completes the outcome; otherwise a solid
// proof moves it one step forward.
func (s *LiveSession) outcomeProgress(resp *contract.SAGEResponse, out *graph.Outcome, solidProof bool) (graph.OutcomeProgressUpdate, bool) {
	if resp.ModeSignal == mode.SignalGoalAchieved {
		if _, ok := mode.Apply(s.sctx.Mode, mode.SignalGoalAchieved); ok {
			return graph.OutcomeProgressUpdate{
				OutcomeID: out.ID,
				Progress:  1,
				Status:    graph.OutcomeAchieved,
			}, true
		}
	}
	if solidProof {
		progress := out.Progress + outcomeProofStep
		if progress > 1 {
			progress = 1
		}
		return graph.OutcomeProgressUpdate{
			OutcomeID: out.ID,
			Progress:  progress,
			Status:    out.Status,
		}, true
	}
	return graph.OutcomeProgressUpdate{}, false
}

func (s *LiveSession) dropChange(ctx context.Context, sc contract.StateChange, ref string, log *slog.Logger) {
	if s.engine.metrics != nil {
		s.engine.metrics.DroppedStateChanges.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", string(sc.Kind))))
	}
	log.Warn("state change dropped",
		"error", ErrInconsistentStateChange,
		"kind", string(sc.Kind),
		"concept_ref", ref)
}

// applyModeTransition applies at most one mode change per turn. The model's
// explicit signal takes precedence; otherwise the first detector adaptation
// that recommends a transition is tried. Illegal signals are ignored.
// Implicit signals were detected and applied to the session context before
// the model call; they are passed in so they can still drive a transition.
func (s *LiveSession) applyModeTransition(ctx context.Context, resp *contract.SAGEResponse, implicit []detect.Signal, tc *turnctx.TurnContext, log *slog.Logger) {
	signals := detect.Explicit(resp)
	for _, sig := range signals {
		detect.UpdateContext(ctx, s.sctx, sig)
	}
	signals = append(signals, implicit...)

	candidate := resp.ModeSignal
	if candidate == "" {
		for _, sig := range signals {
			if a, ok := detect.AdaptationFor(sig); ok && a.ModeSignal != "" {
				candidate = a.ModeSignal
				break
			}
		}
	}
	if candidate == "" {
		return
	}

	if candidate == mode.SignalReadyToPractice && !s.verificationSatisfied(tc) {
		log.Info("practice transition held for verification",
			"signal", string(candidate))
		return
	}
	// A verified signal is only honoured when a proof survived validation
	// this turn; a dropped proof must not advance the session to practice.
	if candidate == mode.SignalVerified && !hasProofChange(resp) {
		log.Info("verified transition held, no surviving proof",
			"signal", string(candidate))
		return
	}

	next, ok := mode.Apply(s.sctx.Mode, candidate)
	if !ok {
		log.Debug("illegal mode signal ignored",
			"signal", string(candidate))
		return
	}
	log.Info("mode transition", "from", string(s.sctx.Mode),
		"to", string(next), "signal", string(candidate))
	s.sctx.SetMode(next)
}

// verificationSatisfied reports whether the learner may enter practice from
// the current mode: either policy does not require verification here, or the
// focus concept already carries a proof at the confidence floor.
func (s *LiveSession) verificationSatisfied(tc *turnctx.TurnContext) bool {
	if !s.engine.dialogueConfig().EffectiveRequireVerification() {
		return true
	}
	if !mode.ShouldVerifyBeforePractice(s.sctx.Mode) {
		return true
	}
	floor := s.engine.dialogueConfig().EffectiveConfidenceThreshold()
	for _, p := range tc.FocusProofs {
		if p.Confidence >= floor {
			return true
		}
	}
	return false
}

// absorbFields folds normalized intent fields into the session context. It
// returns the named topic when it matches no known concept, so the caller
// can introduce a node for it.
func (s *LiveSession) absorbFields(norm *normalize.NormalizedInput, tc *turnctx.TurnContext) string {
	if v, ok := norm.Fields["energy"].(string); ok && v != "" {
		s.sctx.EnergyLevel = v
	}
	if v, ok := norm.Fields["time_available"].(string); ok && v != "" {
		s.sctx.TimeAvailable = v
	}
	if norm.IsComplete {
		s.sctx.PendingFields = nil
	}

	var topic string
	for _, key := range []string{"topic", "concept"} {
		if v, ok := norm.Fields[key].(string); ok && v != "" {
			topic = v
			break
		}
	}
	if topic == "" {
		return ""
	}
	if concept, ok := resolveConcept(tc, topic); ok {
		s.sctx.FocusConceptID = concept.ID
		return ""
	}
	return topic
}

// appendTurns records the learner and sage messages in the graph store and
// the in-memory conversation log.
func (s *LiveSession) appendTurns(ctx context.Context, input TurnInput, norm *normalize.NormalizedInput, resp *contract.SAGEResponse, log *slog.Logger) {
	now := time.Now().UTC()
	learnerTurn := graph.Turn{
		ID:        uuid.NewString(),
		SessionID: s.sctx.SessionID,
		Role:      "learner",
		Content:   learnerMessage(input, norm),
		Intent:    norm.Intent,
		Modality:  string(norm.Modality),
		CreatedAt: now,
	}
	sageTurn := graph.Turn{
		ID:        uuid.NewString(),
		SessionID: s.sctx.SessionID,
		Role:      "sage",
		Content:   resp.Message,
		CreatedAt: now,
	}
	if err := s.engine.store.AppendTurn(ctx, learnerTurn); err != nil {
		log.Error("learner turn not recorded", "error", err)
	}
	if err := s.engine.store.AppendTurn(ctx, sageTurn); err != nil {
		log.Error("sage turn not recorded", "error", err)
	}

	if err := s.log.Append(ctx,
		llm.Message{Role: "user", Content: learnerTurn.Content},
		llm.Message{Role: "assistant", Content: resp.Message},
	); err != nil {
		log.Warn("conversation log compaction failed", "error", err)
	}
}

// persistSessionState writes the session's mode/energy/summary after a turn.
func (s *LiveSession) persistSessionState(ctx context.Context, log *slog.Logger) {
	err := s.engine.store.UpdateSession(ctx, graph.Session{
		ID:            s.sctx.SessionID,
		LearnerID:     s.sctx.LearnerID,
		Mode:          string(s.sctx.Mode),
		EnergyLevel:   s.sctx.EnergyLevel,
		TimeAvailable: parseMinutes(s.sctx.TimeAvailable),
		Summary:       s.log.Summary(),
		StartedAt:     s.sctx.StartedAt,
	})
	if err != nil {
		log.Warn("session state not persisted", "error", err)
	}
}

// clarificationResponse asks for the fields extraction could not establish.
func clarificationResponse(norm *normalize.NormalizedInput) *contract.SAGEResponse {
	missing := norm.Extraction.MissingFields
	if len(missing) == 0 {
		return &contract.SAGEResponse{
			Message: "I didn't quite catch that. Could you say it another way?",
		}
	}
	return &contract.SAGEResponse{
		Message: fmt.Sprintf(
			"Just to make sure I understood: could you tell me your %s?",
			strings.Join(missing, " and ")),
	}
}

// learnerMessage picks the text that represents this turn in history.
func learnerMessage(input TurnInput, norm *normalize.NormalizedInput) string {
	if norm.RawText != "" {
		return norm.RawText
	}
	if len(norm.Fields) == 0 {
		return input.Intent
	}
	parts := make([]string, 0, len(norm.Fields))
	for name, value := range norm.Fields {
		parts = append(parts, fmt.Sprintf("%s: %v", name, value))
	}
	return fmt.Sprintf("[%s] %s", norm.Intent, strings.Join(parts, ", "))
}

// hasProofChange reports whether a proof_earned change survived validation.
func hasProofChange(resp *contract.SAGEResponse) bool {
	for _, sc := range resp.StateChanges {
		if sc.Kind == contract.KindProofEarned {
			return true
		}
	}
	return false
}

// resolveConcept matches a model-proposed concept reference against the turn
// context, by id first, then case-insensitive name.
func resolveConcept(tc *turnctx.TurnContext, ref string) (graph.Concept, bool) {
	if ref == "" {
		return graph.Concept{}, false
	}
	pools := [][]graph.Concept{tc.Concepts, tc.RelatedConcepts}
	for _, pool := range pools {
		for _, c := range pool {
			if c.ID == ref {
				return c, true
			}
		}
	}
	for _, pool := range pools {
		for _, c := range pool {
			if strings.EqualFold(c.Name, ref) {
				return c, true
			}
		}
	}
	return graph.Concept{}, false
}

func appendInsight(summary, insight string) string {
	if insight == "" {
		return summary
	}
	if summary == "" {
		return insight
	}
	return summary + " " + insight
}

// parseMinutes extracts a leading minute count from free text like
// "20 minutes" or "about 30 min". Returns 0 when no number is found.
func parseMinutes(text string) int {
	total := 0
	seen := false
	for _, r := range text {
		if r >= '0' && r <= '9' {
			total = total*10 + int(r-'0')
			seen = true
			continue
		}
		if seen {
			break
		}
	}
	if !seen {
		return 0
	}
	return total
}
