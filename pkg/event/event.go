// Package event defines the closed set of event variants that make up an
// agent's log, plus the wire encoding shared by the store and the HTTP
// surface.
//
// Every event is an immutable, chained record: id is "{context}:{NNNN}" with
// a per-agent counter, parentEventId points at the immediately preceding
// event (absent only for the first event ever written for the context), and
// the chain is unconditional: turn and session boundaries do not reset it.
//
// TextDelta is the only ephemeral variant: it is broadcast to subscribers and
// kept in the in-memory log, but never persisted.
package event

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tag discriminates event variants. Serialized as the "_tag" field.
type Tag string

// The closed set of event variants.
const (
	TagSystemPrompt         Tag = "SystemPromptEvent"
	TagUserMessage          Tag = "UserMessageEvent"
	TagAssistantMessage     Tag = "AssistantMessageEvent"
	TagTextDelta            Tag = "TextDeltaEvent"
	TagSetLLMConfig         Tag = "SetLlmConfigEvent"
	TagSessionStarted       Tag = "SessionStartedEvent"
	TagSessionEnded         Tag = "SessionEndedEvent"
	TagAgentTurnStarted     Tag = "AgentTurnStartedEvent"
	TagAgentTurnCompleted   Tag = "AgentTurnCompletedEvent"
	TagAgentTurnInterrupted Tag = "AgentTurnInterruptedEvent"
	TagAgentTurnFailed      Tag = "AgentTurnFailedEvent"
)

// knownTags is used to reject unknown variants before they enter the log.
var knownTags = map[Tag]bool{
	TagSystemPrompt:         true,
	TagUserMessage:          true,
	TagAssistantMessage:     true,
	TagTextDelta:            true,
	TagSetLLMConfig:         true,
	TagSessionStarted:       true,
	TagSessionEnded:         true,
	TagAgentTurnStarted:     true,
	TagAgentTurnCompleted:   true,
	TagAgentTurnInterrupted: true,
	TagAgentTurnFailed:      true,
}

// Known reports whether t is one of the closed set of variants.
func Known(t Tag) bool { return knownTags[t] }

// InterruptReason explains why an open turn was interrupted.
type InterruptReason string

// Interrupt reasons.
const (
	ReasonUserCancel     InterruptReason = "user_cancel"
	ReasonUserNewMessage InterruptReason = "user_new_message"
	ReasonTimeout        InterruptReason = "timeout"
	ReasonSessionEnded   InterruptReason = "session_ended"
)

// LLMConfig is the model configuration carried by SetLlmConfig events.
type LLMConfig struct {
	APIFormat    string `json:"apiFormat" yaml:"api_format"`
	Model        string `json:"model" yaml:"model"`
	BaseURL      string `json:"baseUrl" yaml:"base_url"`
	APIKeyEnvVar string `json:"apiKeyEnvVar" yaml:"api_key_env_var"`
}

// Event is a single record in an agent's log. The variant is discriminated by
// Tag; variant-specific fields are zero for other variants and omitted on the
// wire. ParentEventID is omitted (never a wrapped null) when absent, so
// consumers can test genesis by the field's presence.
type Event struct {
	Tag               Tag       `json:"_tag"`
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	AgentName         string    `json:"agentName"`
	ParentEventID     string    `json:"parentEventId,omitempty"`
	TriggersAgentTurn bool      `json:"triggersAgentTurn"`

	// SystemPrompt / UserMessage / AssistantMessage
	Content string   `json:"content,omitempty"`
	Images  []string `json:"images,omitempty"`

	// TextDelta
	Delta string `json:"delta,omitempty"`

	// SetLlmConfig
	APIFormat    string `json:"apiFormat,omitempty"`
	Model        string `json:"model,omitempty"`
	BaseURL      string `json:"baseUrl,omitempty"`
	APIKeyEnvVar string `json:"apiKeyEnvVar,omitempty"`

	// AgentTurn* lifecycle
	TurnNumber           int             `json:"turnNumber,omitempty"`
	DurationMs           int64           `json:"durationMs,omitempty"`
	Reason               InterruptReason `json:"reason,omitempty"`
	PartialResponse      string          `json:"partialResponse,omitempty"`
	InterruptedByEventID string          `json:"interruptedByEventId,omitempty"`
	Error                string          `json:"error,omitempty"`
}

// Persisted reports whether this variant is written to the store.
// TextDelta is broadcast-only.
func (e Event) Persisted() bool { return e.Tag != TagTextDelta }

// Terminal reports whether this event closes a turn.
func (e Event) Terminal() bool {
	switch e.Tag {
	case TagAgentTurnCompleted, TagAgentTurnFailed, TagAgentTurnInterrupted:
		return true
	}
	return false
}

// FormatID renders an event id for the given context and counter. Counters
// below 10000 are zero-padded to exactly four digits; larger counters grow
// naturally.
func FormatID(context string, counter int) string {
	return fmt.Sprintf("%s:%04d", context, counter)
}

// ParseCounter extracts the numeric counter from an event id.
func ParseCounter(id string) (int, error) {
	idx := strings.LastIndexByte(id, ':')
	if idx < 0 {
		return 0, fmt.Errorf("event id %q has no counter", id)
	}
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("event id %q has a malformed counter: %w", id, err)
	}
	return n, nil
}

// --- Variant constructors ---
//
// Constructors build the caller-settable part of an event: the tag, payload
// and triggersAgentTurn flag. ID, timestamp, agent name and parent are
// assigned by the agent's processor when the event is accepted.

// NewSystemPrompt builds a SystemPrompt event.
func NewSystemPrompt(content string) Event {
	return Event{Tag: TagSystemPrompt, Content: content}
}

// NewUserMessage builds a UserMessage event. User messages trigger a turn.
func NewUserMessage(content string, images []string) Event {
	return Event{Tag: TagUserMessage, Content: content, Images: images, TriggersAgentTurn: true}
}

// NewAssistantMessage builds the final AssistantMessage for a turn.
func NewAssistantMessage(content string) Event {
	return Event{Tag: TagAssistantMessage, Content: content}
}

// NewTextDelta builds an ephemeral streaming delta.
func NewTextDelta(delta string) Event {
	return Event{Tag: TagTextDelta, Delta: delta}
}

// NewSetLLMConfig builds a SetLlmConfig event.
func NewSetLLMConfig(cfg LLMConfig) Event {
	return Event{
		Tag:          TagSetLLMConfig,
		APIFormat:    cfg.APIFormat,
		Model:        cfg.Model,
		BaseURL:      cfg.BaseURL,
		APIKeyEnvVar: cfg.APIKeyEnvVar,
	}
}

// NewSessionStarted builds a SessionStarted event.
func NewSessionStarted() Event { return Event{Tag: TagSessionStarted} }

// NewSessionEnded builds a SessionEnded event.
func NewSessionEnded() Event { return Event{Tag: TagSessionEnded} }

// NewTurnStarted builds an AgentTurnStarted event.
func NewTurnStarted(turnNumber int) Event {
	return Event{Tag: TagAgentTurnStarted, TurnNumber: turnNumber}
}

// NewTurnCompleted builds an AgentTurnCompleted event.
func NewTurnCompleted(turnNumber int, duration time.Duration) Event {
	return Event{Tag: TagAgentTurnCompleted, TurnNumber: turnNumber, DurationMs: duration.Milliseconds()}
}

// NewTurnFailed builds an AgentTurnFailed event.
func NewTurnFailed(turnNumber int, errText string) Event {
	return Event{Tag: TagAgentTurnFailed, TurnNumber: turnNumber, Error: errText}
}

// NewTurnInterrupted builds an AgentTurnInterrupted event. partialResponse
// and interruptedBy may be empty; the processor fills partialResponse from
// the delta accumulator when the event is accepted.
func NewTurnInterrupted(turnNumber int, reason InterruptReason, interruptedBy string) Event {
	return Event{
		Tag:                  TagAgentTurnInterrupted,
		TurnNumber:           turnNumber,
		Reason:               reason,
		InterruptedByEventID: interruptedBy,
	}
}
