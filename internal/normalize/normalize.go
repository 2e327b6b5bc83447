// Package normalize converts heterogeneous learner input (typed form fields,
// voice transcripts, free chat) into a single canonical [NormalizedInput].
//
// Form payloads are validated directly against the intent's field schema.
// Voice and chat payloads are free text: voice transcripts first run through
// a phonetic concept-name correction pass, then both delegate to the
// semantic extractor to populate fields. The normalizer itself performs no
// model calls; extraction is the only effectful step and is delegated.
package normalize

import (
	"context"
	"fmt"

	"github.com/sage-learning/sage/internal/intent"
	"github.com/sage-learning/sage/internal/observe"
)

// ErrUnknownIntent is returned when the requested intent has no registered
// field schema.
var ErrUnknownIntent = intent.ErrUnknownIntent

// Modality is the channel through which learner input arrived.
type Modality string

const (
	ModalityForm  Modality = "form"
	ModalityVoice Modality = "voice"
	ModalityChat  Modality = "chat"
)

// IsValid reports whether m is a recognised modality.
func (m Modality) IsValid() bool {
	switch m {
	case ModalityForm, ModalityVoice, ModalityChat:
		return true
	}
	return false
}

// NormalizedInput is the canonical per-turn input artifact. It is immutable
// after creation.
type NormalizedInput struct {
	Modality Modality

	// Intent is the intent the input was normalized against.
	Intent string

	// Fields maps schema field names to values. For form input these are
	// the validated payload fields; for voice/chat they come from extraction.
	Fields map[string]any

	// RawText is the free text the input arrived as, after phonetic
	// correction for voice. Empty for form input.
	RawText string

	// IsComplete is true when every required schema field is populated.
	IsComplete bool

	// Extraction holds the extractor's full result for voice/chat input.
	// Nil for form input.
	Extraction *intent.ExtractedIntent
}

// Extractor is the semantic extraction collaborator for unstructured input.
type Extractor interface {
	Extract(ctx context.Context, schema intent.Schema, rawText string) (*intent.ExtractedIntent, error)
}

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithMatcher sets the phonetic matcher used to correct misheard concept
// names in voice transcripts. When nil, voice text is passed through
// unchanged.
func WithMatcher(m *Matcher) Option {
	return func(n *Normalizer) {
		n.matcher = m
	}
}

// Normalizer turns raw per-turn input into a [NormalizedInput].
type Normalizer struct {
	registry  *intent.Registry
	extractor Extractor
	matcher   *Matcher
}

// New returns a Normalizer over the given schema registry and extractor.
func New(registry *intent.Registry, extractor Extractor, opts ...Option) *Normalizer {
	n := &Normalizer{registry: registry, extractor: extractor}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Request carries one turn's raw input into [Normalizer.Normalize].
type Request struct {
	Modality Modality
	Intent   string

	// Fields is the typed payload for form input. Ignored for voice/chat.
	Fields map[string]any

	// Text is the free-text payload for voice/chat input. Ignored for form.
	Text string

	// Vocabulary lists concept names known for this learner, used by the
	// phonetic correction pass on voice transcripts.
	Vocabulary []string
}

// Normalize converts req into a [NormalizedInput]. Fails with
// [ErrUnknownIntent] when req.Intent has no registered schema. Extraction
// failures degrade inside the extractor (zero confidence), not here.
func (n *Normalizer) Normalize(ctx context.Context, req Request) (*NormalizedInput, error) {
	schema, err := n.registry.Lookup(req.Intent)
	if err != nil {
		return nil, err
	}
	if !req.Modality.IsValid() {
		return nil, fmt.Errorf("normalize: invalid modality %q", req.Modality)
	}

	if req.Modality == ModalityForm {
		return n.normalizeForm(schema, req.Fields), nil
	}
	return n.normalizeText(ctx, schema, req)
}

// normalizeForm validates an already-typed payload against the schema.
// Undeclared fields are dropped; enum fields with unlisted values are
// treated as unpopulated.
func (n *Normalizer) normalizeForm(schema intent.Schema, payload map[string]any) *NormalizedInput {
	fields := make(map[string]any, len(schema.Fields))
	for _, spec := range schema.Fields {
		v, ok := payload[spec.Name]
		if !ok || v == nil || v == "" {
			continue
		}
		if spec.Type == intent.FieldEnum {
			s, isString := v.(string)
			if !isString || !spec.AllowsValue(s) {
				continue
			}
		}
		fields[spec.Name] = v
	}

	missing := intent.MissingRequired(schema, fields)
	return &NormalizedInput{
		Modality:   ModalityForm,
		Intent:     schema.Intent,
		Fields:     fields,
		IsComplete: len(missing) == 0,
	}
}

// normalizeText corrects voice transcripts phonetically, then delegates to
// the extractor.
func (n *Normalizer) normalizeText(ctx context.Context, schema intent.Schema, req Request) (*NormalizedInput, error) {
	text := req.Text
	if req.Modality == ModalityVoice && n.matcher != nil && len(req.Vocabulary) > 0 {
		text, _ = n.matcher.CorrectTranscript(text, req.Vocabulary)
	}

	extracted, err := n.extractor.Extract(ctx, schema, text)
	if err != nil {
		// The built-in extractor degrades internally; guard against other
		// implementations so a provider outage still yields a turn.
		observe.Logger(ctx).Warn("extraction failed, degrading to zero confidence",
			"intent", schema.Intent, "error", err)
		extracted = &intent.ExtractedIntent{
			Intent:        schema.Intent,
			Data:          map[string]any{},
			DataComplete:  false,
			MissingFields: schema.RequiredFields(),
			Confidence:    0,
		}
	}

	return &NormalizedInput{
		Modality:   req.Modality,
		Intent:     schema.Intent,
		Fields:     extracted.Data,
		RawText:    text,
		IsComplete: extracted.DataComplete,
		Extraction: extracted,
	}, nil
}
