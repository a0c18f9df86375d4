package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchain-dev/agentchain/pkg/event"
)

func withID(ev event.Event, counter int) event.Event {
	ev.ID = event.FormatID("test-v1", counter)
	return ev
}

func conversation() []event.Event {
	return []event.Event{
		withID(event.NewSessionStarted(), 0),
		withID(event.NewSystemPrompt("be terse"), 1),
		withID(event.NewSetLLMConfig(event.LLMConfig{Model: "m1", APIFormat: "openai"}), 2),
		withID(event.NewUserMessage("hi", nil), 3),
		withID(event.NewTurnStarted(1), 4),
		withID(event.NewTextDelta("he"), 5),
		withID(event.NewTextDelta("llo"), 6),
		withID(event.NewAssistantMessage("hello"), 7),
		withID(event.NewTurnCompleted(1, 0), 8),
	}
}

func TestReduceConversation(t *testing.T) {
	st, err := Reduce(State{}, conversation())
	require.NoError(t, err)

	assert.Equal(t, 9, st.NextEventNumber)
	assert.Equal(t, 1, st.CurrentTurnNumber)
	assert.False(t, st.TurnInProgress())

	require.Len(t, st.Messages, 3)
	assert.Equal(t, Message{Role: RoleSystem, Content: "be terse"}, st.Messages[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "hi"}, st.Messages[1])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "hello"}, st.Messages[2])

	require.NotNil(t, st.LLMConfig)
	assert.Equal(t, "m1", st.LLMConfig.Model)
}

func TestReduceBatchingEquivalence(t *testing.T) {
	events := conversation()

	all, err := Reduce(State{}, events)
	require.NoError(t, err)

	oneByOne := State{}
	for _, ev := range events {
		oneByOne, err = Reduce(oneByOne, []event.Event{ev})
		require.NoError(t, err)
	}

	assert.Equal(t, all, oneByOne)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	base, err := Reduce(State{}, conversation())
	require.NoError(t, err)
	messagesBefore := len(base.Messages)

	_, err = Reduce(base, []event.Event{
		withID(event.NewUserMessage("again", nil), 9),
	})
	require.NoError(t, err)

	assert.Len(t, base.Messages, messagesBefore)
}

func TestReduceOpenTurn(t *testing.T) {
	st, err := Reduce(State{}, []event.Event{
		withID(event.NewUserMessage("hi", nil), 0),
		withID(event.NewTurnStarted(1), 1),
	})
	require.NoError(t, err)

	assert.True(t, st.TurnInProgress())
	assert.Equal(t, "test-v1:0001", st.TurnStartedAtEventID)
	assert.Equal(t, 0, st.CurrentTurnNumber)
}

func TestReduceInterruptedTurnDoesNotCount(t *testing.T) {
	st, err := Reduce(State{}, []event.Event{
		withID(event.NewUserMessage("hi", nil), 0),
		withID(event.NewTurnStarted(1), 1),
		withID(event.NewTurnInterrupted(1, event.ReasonUserCancel, ""), 2),
	})
	require.NoError(t, err)

	assert.False(t, st.TurnInProgress())
	assert.Equal(t, 0, st.CurrentTurnNumber)
}

func TestReduceFailedTurnCounts(t *testing.T) {
	st, err := Reduce(State{}, []event.Event{
		withID(event.NewTurnStarted(1), 0),
		withID(event.NewTurnFailed(1, "boom"), 1),
	})
	require.NoError(t, err)

	assert.False(t, st.TurnInProgress())
	assert.Equal(t, 1, st.CurrentTurnNumber)
}

func TestReduceLLMConfigOverwrite(t *testing.T) {
	st, err := Reduce(State{}, []event.Event{
		withID(event.NewSetLLMConfig(event.LLMConfig{Model: "m1"}), 0),
		withID(event.NewSetLLMConfig(event.LLMConfig{Model: "m2"}), 1),
	})
	require.NoError(t, err)

	require.NotNil(t, st.LLMConfig)
	assert.Equal(t, "m2", st.LLMConfig.Model)
}

func TestReduceUnknownTag(t *testing.T) {
	st := State{NextEventNumber: 3}
	_, err := Reduce(st, []event.Event{{Tag: event.Tag("MysteryEvent")}})
	require.Error(t, err)

	var rerr *ReducerError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, event.Tag("MysteryEvent"), rerr.EventTag)
}

func TestReduceDeltaAdvancesCounterOnly(t *testing.T) {
	st, err := Reduce(State{}, []event.Event{
		withID(event.NewTextDelta("abc"), 0),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, st.NextEventNumber)
	assert.Empty(t, st.Messages)
}
