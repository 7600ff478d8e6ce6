package types

// Exchange is one (stage invoked, feedback given, outcome) history entry.
type Exchange struct {
	// Stage is the stage that was invoked.
	Stage Stage `json:"stage"`
	// Hint is the feedback the stage was given, if any.
	Hint string `json:"hint,omitempty"`
	// Outcome summarizes what the invocation produced.
	Outcome string `json:"outcome,omitempty"`
}

// ConversationState tracks the per-instance round loop. The round counter
// is 0-based and bounded by Limit; the state is terminal once a
// classification is accepted or the counter reaches the limit.
type ConversationState struct {
	// Round is the current round counter, starting at 0.
	Round int `json:"round"`
	// Limit is the configured round limit.
	Limit int `json:"limit"`
	// History is the ordered invocation history.
	History []Exchange `json:"history,omitempty"`
}

// NewConversationState creates a state with the given round limit.
func NewConversationState(limit int) *ConversationState {
	return &ConversationState{Limit: limit}
}

// Record appends an exchange to the history.
func (c *ConversationState) Record(stage Stage, hint, outcome string) {
	c.History = append(c.History, Exchange{Stage: stage, Hint: hint, Outcome: outcome})
}

// Advance increments the round counter and reports whether the new round
// is still within the limit. Each retry consumes one round.
func (c *ConversationState) Advance() bool {
	c.Round++
	return c.Round < c.Limit
}

// Exhausted reports whether the round counter has reached the limit.
func (c *ConversationState) Exhausted() bool {
	return c.Round >= c.Limit
}
