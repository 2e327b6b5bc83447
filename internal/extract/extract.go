// Package extract implements the semantic intent extractor: it asks a
// language model to pull a typed field map out of free-form learner text,
// guided by the intent's declared schema.
//
// Extraction failure must never crash a turn. On a parse failure the
// extractor retries once with a stricter "return only JSON" instruction; a
// second parse failure, a provider error, or a call timeout all degrade to a
// zero-confidence result so the engine falls into a clarification turn.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sage-learning/sage/internal/intent"
	"github.com/sage-learning/sage/internal/observe"
	llm "github.com/sage-learning/sage/pkg/provider/llm"
)

const (
	defaultTemperature = 0.1
	defaultCallTimeout = 30 * time.Second
)

// systemPromptTemplate is the base system prompt. The schema description is
// appended at call time.
const systemPromptTemplate = `You are an intent extraction assistant for a tutoring conversation.

Your task: extract structured fields from the learner's message for the intent %q (%s).

Fields to extract:
%s
Rules:
- Extract ONLY what the learner actually said. Do not invent values.
- Omit a field entirely when the message gives no evidence for it.
- Enum fields must use one of the listed values exactly.
- Interpret colloquial phrasing: "pretty tired" means low energy, "around half an hour" is a time span.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "data": {"<field_name>": <value>, ...},
  "confidence": <0.0-1.0 or omit if unsure>
}`

// strictRetryInstruction is appended to the user message on the single retry
// after a parse failure.
const strictRetryInstruction = "Return ONLY the JSON object. No explanation, no markdown fences, no text before or after."

// modelResponse is the expected JSON structure returned by the model.
type modelResponse struct {
	Data       map[string]any `json:"data"`
	Confidence *float64       `json:"confidence"`
}

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(e *Extractor) {
		e.temperature = temp
	}
}

// WithMetrics attaches extraction metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Extractor) {
		e.metrics = m
	}
}

// WithTimeout bounds each model call. A non-positive value disables the
// bound. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		e.timeout = d
	}
}

// Extractor extracts typed intents from unstructured text via an
// [llm.Provider]. It is safe for concurrent use.
type Extractor struct {
	llm         llm.Provider
	temperature float64
	timeout     time.Duration
	metrics     *observe.Metrics
}

// New returns an Extractor backed by the given provider.
func New(provider llm.Provider, opts ...Option) *Extractor {
	e := &Extractor{
		llm:         provider,
		temperature: defaultTemperature,
		timeout:     defaultCallTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract pulls schema fields out of rawText. It invokes the model once,
// retries once with a stricter instruction on parse failure, and never
// returns a non-nil error: a second parse failure, a provider error, or a
// timed-out call all yield a zero-confidence [intent.ExtractedIntent] with
// no data, which the engine treats as a clarification turn.
func (e *Extractor) Extract(ctx context.Context, schema intent.Schema, rawText string) (*intent.ExtractedIntent, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ExtractionDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	sysPrompt := buildSystemPrompt(schema)

	data, reported, err := e.attempt(ctx, sysPrompt, rawText)
	if err == nil && data == nil {
		// Retry once with the strict instruction.
		data, reported, err = e.attempt(ctx, sysPrompt, rawText+"\n\n"+strictRetryInstruction)
	}
	if err != nil {
		observe.Logger(ctx).Warn("intent extraction degraded to zero confidence",
			"intent", schema.Intent, "error", err)
		return e.degraded(ctx, schema), nil
	}
	if data == nil {
		observe.Logger(ctx).Warn("intent extraction degraded to zero confidence",
			"intent", schema.Intent)
		return e.degraded(ctx, schema), nil
	}

	data = pruneToSchema(schema, data)
	missing := intent.MissingRequired(schema, data)
	complete := len(missing) == 0

	return &intent.ExtractedIntent{
		Intent:        schema.Intent,
		Data:          data,
		DataComplete:  complete,
		MissingFields: missing,
		Confidence:    scoreConfidence(schema, data, complete, reported),
	}, nil
}

// degraded records the failure and returns the zero-confidence result.
func (e *Extractor) degraded(ctx context.Context, schema intent.Schema) *intent.ExtractedIntent {
	if e.metrics != nil {
		e.metrics.ExtractionFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("intent", schema.Intent)))
	}
	return &intent.ExtractedIntent{
		Intent:        schema.Intent,
		Data:          map[string]any{},
		DataComplete:  false,
		MissingFields: schema.RequiredFields(),
		Confidence:    0,
	}
}

// attempt performs one model call and parse. A nil data map with nil error
// means the output was malformed and the caller may retry.
func (e *Extractor) attempt(ctx context.Context, sysPrompt, userMsg string) (map[string]any, *float64, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: sysPrompt,
		Temperature:  e.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: userMsg},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("extract: complete: %w", err)
	}

	cleaned := stripMarkdown(resp.Content)
	var parsed modelResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, nil, nil
	}
	if parsed.Data == nil {
		parsed.Data = map[string]any{}
	}
	return parsed.Data, parsed.Confidence, nil
}

// scoreConfidence implements the documented scaling: the model's reported
// value wins when present; otherwise 1.0 for a complete extraction with all
// enum values matching exactly, else 0.9 x coverage - 0.2 x enum mismatches,
// clamped to [0, 1]. Monotonic in field coverage.
func scoreConfidence(schema intent.Schema, data map[string]any, complete bool, reported *float64) float64 {
	if reported != nil {
		return clamp01(*reported)
	}

	mismatches := 0
	for name, v := range data {
		spec, ok := schema.Field(name)
		if !ok || spec.Type != intent.FieldEnum {
			continue
		}
		if s, isString := v.(string); !isString || !spec.AllowsValue(s) {
			mismatches++
		}
	}

	if complete && mismatches == 0 {
		return 1.0
	}

	required := schema.RequiredFields()
	if len(required) == 0 {
		return clamp01(0.9 - 0.2*float64(mismatches))
	}

	populated := 0
	for _, name := range required {
		if v, ok := data[name]; ok && v != nil && v != "" {
			populated++
		}
	}
	coverage := float64(populated) / float64(len(required))
	return clamp01(0.9*coverage - 0.2*float64(mismatches))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// pruneToSchema drops fields the schema does not declare. The model
// occasionally volunteers extras; they must not leak into the graph.
func pruneToSchema(schema intent.Schema, data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for _, spec := range schema.Fields {
		if v, ok := data[spec.Name]; ok && v != nil && v != "" {
			out[spec.Name] = v
		}
	}
	return out
}

// buildSystemPrompt formats the system prompt with the schema's field list.
func buildSystemPrompt(schema intent.Schema) string {
	var sb strings.Builder
	for _, f := range schema.Fields {
		sb.WriteString("- ")
		sb.WriteString(f.Name)
		sb.WriteString(" (")
		sb.WriteString(string(f.Type))
		if f.Required {
			sb.WriteString(", required")
		}
		sb.WriteString(")")
		if len(f.Enum) > 0 {
			sb.WriteString(": one of ")
			sb.WriteString(strings.Join(f.Enum, ", "))
		}
		if f.Hint != "" {
			sb.WriteString(" - ")
			sb.WriteString(f.Hint)
		}
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, schema.Intent, schema.Description, sb.String())
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
