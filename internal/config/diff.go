package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DialogueChanged is true when any dialogue tuning value changed.
	// The engine picks the new values up on the next turn.
	DialogueChanged bool
	NewDialogue     DialogueConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; provider and
// graph changes require a restart and are ignored here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !dialogueEqual(old.Dialogue, new.Dialogue) {
		d.DialogueChanged = true
		d.NewDialogue = new.Dialogue
	}

	return d
}

func dialogueEqual(a, b DialogueConfig) bool {
	return a.ConfidenceThreshold == b.ConfidenceThreshold &&
		a.PromptTokenBudget == b.PromptTokenBudget &&
		a.MaxHistoryTurns == b.MaxHistoryTurns &&
		a.SessionIdleTimeout == b.SessionIdleTimeout &&
		a.ModelCallTimeout == b.ModelCallTimeout &&
		boolPtrEqual(a.RequireVerification, b.RequireVerification)
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
