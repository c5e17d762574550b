package domain

// Message is one outbound unit handed to the transport adapter.
type Message struct {
	Text    string   `json:"text"`
	Options []Option `json:"options,omitempty"`
}

// TurnResult is what one conversational turn produces.
type TurnResult struct {
	SessionID  string    `json:"session_id,omitempty"`
	Messages   []Message `json:"messages"`
	Terminated bool      `json:"terminated"`

	// Recovered marks a turn that went through the recovery subsystem
	// and came back degraded but safe.
	Recovered bool `json:"recovered,omitempty"`

	// Success is false only when even the recovery fallbacks failed and
	// the in-flight turn was abandoned. Upstream alerting keys off it.
	Success bool `json:"success"`

	// NoEntryMatch reports inbound text that matched no entry keyword
	// while no session was active. The caller decides the fallback reply.
	NoEntryMatch bool `json:"no_entry_match,omitempty"`
}
