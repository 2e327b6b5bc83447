package session

import (
	"context"
	"fmt"
	"sync"

	llm "github.com/sage-learning/sage/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation.
// English text averages roughly 4 characters per token across common
// LLM tokenizers. This avoids pulling in a tokenizer dependency.
const charsPerToken = 4

// Log tracks the conversation history of one session and compacts it when
// it grows too large. It maintains an ordered list of [llm.Message] values
// plus accumulated summaries; when the estimated token count exceeds
// thresholdRatio x maxTokens, or the message count exceeds maxTurns, the
// oldest half of the messages is summarised and replaced by a compact
// summary message.
//
// All methods are safe for concurrent use.
type Log struct {
	maxTokens      int
	maxTurns       int
	thresholdRatio float64
	summariser     Summariser

	mu            sync.Mutex
	currentTokens int
	messages      []llm.Message
	summaries     []string
}

// LogConfig configures a [Log].
type LogConfig struct {
	// MaxTokens is the token ceiling for the verbatim history (e.g., the
	// prompt budget share reserved for history).
	MaxTokens int

	// MaxTurns caps the number of verbatim messages kept before compaction.
	// Defaults to 30 if zero or negative.
	MaxTurns int

	// ThresholdRatio is the fraction of MaxTokens at which summarisation is
	// triggered. Defaults to 0.75 if zero or negative.
	ThresholdRatio float64

	// Summariser compresses older messages. Must not be nil when compaction
	// can trigger.
	Summariser Summariser
}

// NewLog creates a conversation log with the given configuration.
func NewLog(cfg LogConfig) *Log {
	ratio := cfg.ThresholdRatio
	if ratio <= 0 {
		ratio = 0.75
	}
	turns := cfg.MaxTurns
	if turns <= 0 {
		turns = 30
	}
	return &Log{
		maxTokens:      cfg.MaxTokens,
		maxTurns:       turns,
		thresholdRatio: ratio,
		summariser:     cfg.Summariser,
		messages:       make([]llm.Message, 0),
		summaries:      make([]string, 0),
	}
}

// Append adds messages and estimates token count. When the accumulated
// tokens exceed threshold x maxTokens, or the message count exceeds
// MaxTurns, the oldest half of the messages is summarised and replaced.
func (l *Log) Append(ctx context.Context, msgs ...llm.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range msgs {
		l.messages = append(l.messages, m)
		l.currentTokens += estimateTokens(m)
	}

	threshold := int(float64(l.maxTokens) * l.thresholdRatio)
	overTokens := l.maxTokens > 0 && l.currentTokens > threshold
	overTurns := len(l.messages) > l.maxTurns

	if (overTokens || overTurns) && len(l.messages) > 1 && l.summariser != nil {
		if err := l.summariseOldest(ctx); err != nil {
			return fmt.Errorf("session: log compaction: %w", err)
		}
	}

	return nil
}

// Messages returns the current conversation history with accumulated
// summaries prepended as system context.
func (l *Log) Messages() []llm.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]llm.Message, 0, len(l.summaries)+len(l.messages))
	for _, s := range l.summaries {
		result = append(result, llm.Message{
			Role:    "system",
			Content: fmt.Sprintf("[Earlier in this session]: %s", s),
		})
	}
	result = append(result, l.messages...)
	return result
}

// Summary returns the accumulated compaction summaries joined together,
// suitable for persisting on the session record.
func (l *Log) Summary() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch len(l.summaries) {
	case 0:
		return ""
	case 1:
		return l.summaries[0]
	}
	out := l.summaries[0]
	for _, s := range l.summaries[1:] {
		out += " " + s
	}
	return out
}

// TokenEstimate returns the current estimated token count.
func (l *Log) TokenEstimate() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTokens
}

// Reset clears all messages and summaries.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = l.messages[:0]
	l.summaries = l.summaries[:0]
	l.currentTokens = 0
}

// summariseOldest compresses the oldest half of messages into a summary.
// Must be called with l.mu held.
func (l *Log) summariseOldest(ctx context.Context) error {
	half := len(l.messages) / 2
	if half == 0 {
		half = 1
	}

	toSummarise := make([]llm.Message, half)
	copy(toSummarise, l.messages[:half])

	// Temporarily release the lock for the (potentially slow) LLM call.
	l.mu.Unlock()
	summary, err := l.summariser.Summarise(ctx, toSummarise)
	l.mu.Lock()
	if err != nil {
		return err
	}

	removedTokens := 0
	for _, m := range l.messages[:half] {
		removedTokens += estimateTokens(m)
	}

	l.messages = l.messages[half:]
	l.currentTokens -= removedTokens

	l.summaries = append(l.summaries, summary)
	l.currentTokens += len(summary) / charsPerToken

	return nil
}

// estimateTokens returns a rough token count for a single message using
// the 1-token-per-4-characters heuristic.
func estimateTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
