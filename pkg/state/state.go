// Package state derives an agent's current view of the world from its event
// log. Reduce is a pure fold: no I/O, no clocks, and reducing a sequence in
// any batching yields the same result as reducing one event at a time.
package state

import (
	"fmt"

	"github.com/agentchain-dev/agentchain/pkg/event"
)

// Role identifies the author of a conversation message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the reduced conversation history. Images are
// preserved opaquely from UserMessage events.
type Message struct {
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// State is the projection of an event log. It is derived only, never stored:
// replaying the log always reconstructs it.
type State struct {
	// Messages holds SystemPrompt/UserMessage/AssistantMessage events in log
	// order. Consecutive same-role messages are kept as-is; merging is a
	// display concern.
	Messages []Message

	// LLMConfig is the latest SetLlmConfig, or nil if none was ever set.
	LLMConfig *event.LLMConfig

	// NextEventNumber counts events reduced so far. Every variant increments
	// it, including TextDelta and session bookends.
	NextEventNumber int

	// CurrentTurnNumber counts completed or failed turns. Interrupted turns
	// do not increment it.
	CurrentTurnNumber int

	// TurnStartedAtEventID is the id of the open AgentTurnStarted event, or
	// "" when no turn is open.
	TurnStartedAtEventID string
}

// TurnInProgress reports whether a turn is currently open.
func (s State) TurnInProgress() bool { return s.TurnStartedAtEventID != "" }

// ReducerError reports an event variant the reducer does not know. It
// indicates a programming bug and is fatal for the owning agent.
type ReducerError struct {
	EventTag event.Tag
}

func (e *ReducerError) Error() string {
	return fmt.Sprintf("reducer: unknown event tag %q", e.EventTag)
}

// Reduce folds events into s left-to-right and returns the new state. The
// input state is not mutated; the messages slice is copied before the first
// append so snapshots handed to callers stay stable.
func Reduce(s State, events []event.Event) (State, error) {
	copied := false
	for _, ev := range events {
		if !event.Known(ev.Tag) {
			return s, &ReducerError{EventTag: ev.Tag}
		}

		switch ev.Tag {
		case event.TagSystemPrompt, event.TagUserMessage, event.TagAssistantMessage:
			if !copied {
				s.Messages = append([]Message(nil), s.Messages...)
				copied = true
			}
			s.Messages = append(s.Messages, Message{
				Role:    roleFor(ev.Tag),
				Content: ev.Content,
				Images:  ev.Images,
			})

		case event.TagSetLLMConfig:
			s.LLMConfig = &event.LLMConfig{
				APIFormat:    ev.APIFormat,
				Model:        ev.Model,
				BaseURL:      ev.BaseURL,
				APIKeyEnvVar: ev.APIKeyEnvVar,
			}

		case event.TagAgentTurnStarted:
			s.TurnStartedAtEventID = ev.ID

		case event.TagAgentTurnCompleted, event.TagAgentTurnFailed:
			s.TurnStartedAtEventID = ""
			s.CurrentTurnNumber++

		case event.TagAgentTurnInterrupted:
			s.TurnStartedAtEventID = ""

		case event.TagTextDelta, event.TagSessionStarted, event.TagSessionEnded:
			// No effect on messages or config; the counter still advances.
		}

		s.NextEventNumber++
	}
	return s, nil
}

func roleFor(t event.Tag) Role {
	switch t {
	case event.TagSystemPrompt:
		return RoleSystem
	case event.TagUserMessage:
		return RoleUser
	default:
		return RoleAssistant
	}
}
