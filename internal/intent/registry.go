package intent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps intent names to their schemas. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register adds or replaces the schema for its intent name.
func (r *Registry) Register(s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Intent] = s
}

// Lookup returns the schema registered for name.
// Returns [ErrUnknownIntent] when the name has no schema.
func (r *Registry) Lookup(name string) (Schema, error) {
	r.mu.RLock()
	s, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownIntent, name)
	}
	return s, nil
}

// Names returns all registered intent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry populated with the tutoring intents.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range defaultSchemas {
		r.Register(s)
	}
	return r
}

var defaultSchemas = []Schema{
	{
		Intent:      "session_check_in",
		Description: "The learner is starting a session and sharing how they are doing.",
		Fields: []FieldSpec{
			{Name: "energy", Type: FieldEnum, Required: true,
				Enum: []string{"low", "medium", "high"},
				Hint: "how energetic the learner sounds"},
			{Name: "time_available", Type: FieldString, Required: true,
				Hint: "free text such as '20 minutes' or 'about an hour'"},
			{Name: "focus_topic", Type: FieldString,
				Hint: "the topic the learner wants to work on, if mentioned"},
		},
	},
	{
		Intent:      "explore_topic",
		Description: "The learner wants to explore or learn about a topic.",
		Fields: []FieldSpec{
			{Name: "topic", Type: FieldString, Required: true,
				Hint: "the concept or subject to explore"},
			{Name: "depth", Type: FieldEnum,
				Enum: []string{"overview", "detailed", "connections"},
				Hint: "how deep the learner wants to go"},
			{Name: "prior_exposure", Type: FieldBool,
				Hint: "whether the learner says they have seen this before"},
		},
	},
	{
		Intent:      "submit_proof",
		Description: "The learner is explaining a concept back to demonstrate understanding.",
		Fields: []FieldSpec{
			{Name: "concept", Type: FieldString, Required: true,
				Hint: "the concept being explained"},
			{Name: "explanation", Type: FieldString, Required: true,
				Hint: "the learner's explanation in their own words"},
		},
	},
	{
		Intent:      "practice_feedback",
		Description: "The learner is reporting how a practice attempt went.",
		Fields: []FieldSpec{
			{Name: "concept", Type: FieldString, Required: true,
				Hint: "the concept that was practised"},
			{Name: "outcome", Type: FieldEnum, Required: true,
				Enum: []string{"succeeded", "partial", "stuck"},
				Hint: "how the attempt went"},
			{Name: "struggle", Type: FieldString,
				Hint: "what the learner found hard, if anything"},
		},
	},
	{
		Intent:      "wrap_up",
		Description: "The learner wants to end the session.",
		Fields: []FieldSpec{
			{Name: "reason", Type: FieldEnum,
				Enum: []string{"done", "tired", "out_of_time", "other"},
				Hint: "why the session is ending, if stated"},
			{Name: "reflection", Type: FieldString,
				Hint: "anything the learner says they took away"},
		},
	},
}
