package agent

import (
	"context"
	"strings"
	"time"

	"github.com/agentchain-dev/agentchain/pkg/event"
	"github.com/agentchain-dev/agentchain/pkg/state"
)

// TurnExecutor produces an agent's response for one turn.
//
// Execute returns immediately with two channels. The implementation streams
// zero or more TextDelta events followed by a final AssistantMessage on the
// event channel and closes it when the turn is done. A non-nil value on the
// error channel aborts the turn. Implementations must stop promptly when ctx
// is cancelled; events emitted after cancellation are discarded.
//
// Emitted events are templates: ID, Timestamp and ParentEventID are assigned
// by the agent pipeline, so implementations leave them zero.
type TurnExecutor interface {
	Execute(ctx context.Context, snapshot state.State) (<-chan event.Event, <-chan error)
}

// EchoExecutor is the built-in executor used when no model integration is
// configured. It streams the last user message back word by word, which
// exercises the full delta/message pipeline without any network dependency.
type EchoExecutor struct {
	// Delay is the pause before each delta. Zero means no pause.
	Delay time.Duration
}

var _ TurnExecutor = (*EchoExecutor)(nil)

func (e *EchoExecutor) Execute(ctx context.Context, snapshot state.State) (<-chan event.Event, <-chan error) {
	events := make(chan event.Event)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		reply := "Hello. Send a message and I will echo it back."
		for i := len(snapshot.Messages) - 1; i >= 0; i-- {
			if snapshot.Messages[i].Role == state.RoleUser {
				reply = "You said: " + snapshot.Messages[i].Content
				break
			}
		}

		var sent strings.Builder
		for _, word := range strings.SplitAfter(reply, " ") {
			if e.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.Delay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case events <- event.NewTextDelta(word):
				sent.WriteString(word)
			}
		}

		select {
		case <-ctx.Done():
		case events <- event.NewAssistantMessage(sent.String()):
		}
	}()

	return events, errs
}

// ScriptedTurn is one turn's worth of scripted executor behavior.
type ScriptedTurn struct {
	// Deltas are streamed in order before the final message.
	Deltas []string
	// Final is the assistant message emitted after the deltas. Empty means
	// the concatenated deltas.
	Final string
	// Err, if set, is reported after the deltas instead of a final message.
	Err error
	// DelayPerDelta is the pause before each delta.
	DelayPerDelta time.Duration
	// BlockAfterDeltas, when set, makes the turn hang after streaming its
	// deltas until the turn context is cancelled. Used to test interrupts.
	BlockAfterDeltas bool
}

// ScriptedExecutor plays back a fixed sequence of turns. Once the script is
// exhausted, further turns complete immediately with an empty message.
type ScriptedExecutor struct {
	mu    chan struct{} // semaphore; a plain mutex would be held across channel sends
	turns []ScriptedTurn
	next  int

	// Started is signalled (non-blockingly) each time a turn begins.
	Started chan struct{}
}

var _ TurnExecutor = (*ScriptedExecutor)(nil)

// NewScriptedExecutor returns an executor that plays the given turns in order.
func NewScriptedExecutor(turns ...ScriptedTurn) *ScriptedExecutor {
	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &ScriptedExecutor{
		mu:      mu,
		turns:   turns,
		Started: make(chan struct{}, 16),
	}
}

func (s *ScriptedExecutor) takeTurnScript() ScriptedTurn {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	if s.next >= len(s.turns) {
		return ScriptedTurn{}
	}
	t := s.turns[s.next]
	s.next++
	return t
}

func (s *ScriptedExecutor) Execute(ctx context.Context, snapshot state.State) (<-chan event.Event, <-chan error) {
	events := make(chan event.Event)
	errs := make(chan error, 1)

	turn := s.takeTurnScript()
	select {
	case s.Started <- struct{}{}:
	default:
	}

	go func() {
		defer close(events)
		defer close(errs)

		var sent strings.Builder
		for _, d := range turn.Deltas {
			if turn.DelayPerDelta > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(turn.DelayPerDelta):
				}
			}
			select {
			case <-ctx.Done():
				return
			case events <- event.NewTextDelta(d):
				sent.WriteString(d)
			}
		}

		if turn.BlockAfterDeltas {
			<-ctx.Done()
			return
		}

		if turn.Err != nil {
			errs <- turn.Err
			return
		}

		final := turn.Final
		if final == "" {
			final = sent.String()
		}
		select {
		case <-ctx.Done():
		case events <- event.NewAssistantMessage(final):
		}
	}()

	return events, errs
}
