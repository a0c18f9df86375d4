package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatID(t *testing.T) {
	assert.Equal(t, "alice-v1:0000", FormatID("alice-v1", 0))
	assert.Equal(t, "alice-v1:0042", FormatID("alice-v1", 42))
	assert.Equal(t, "alice-v1:9999", FormatID("alice-v1", 9999))
	// Past four digits the counter grows naturally.
	assert.Equal(t, "alice-v1:10000", FormatID("alice-v1", 10000))
}

func TestParseCounter(t *testing.T) {
	n, err := ParseCounter("alice-v1:0042")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = ParseCounter("alice-v1:10001")
	require.NoError(t, err)
	assert.Equal(t, 10001, n)

	_, err = ParseCounter("no-counter")
	assert.Error(t, err)

	_, err = ParseCounter("alice-v1:notanumber")
	assert.Error(t, err)
}

func TestGenesisOmitsParentOnWire(t *testing.T) {
	ev := NewSessionStarted()
	ev.ID = FormatID("alice-v1", 0)
	ev.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev.AgentName = "alice"

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "SessionStartedEvent", raw["_tag"])
	assert.NotContains(t, raw, "parentEventId")
	// triggersAgentTurn is always present, even when false.
	assert.Contains(t, raw, "triggersAgentTurn")
	assert.Equal(t, false, raw["triggersAgentTurn"])
}

func TestChainedEventCarriesParent(t *testing.T) {
	ev := NewUserMessage("hello", nil)
	ev.ID = FormatID("alice-v1", 3)
	ev.ParentEventID = FormatID("alice-v1", 2)

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "alice-v1:0002", raw["parentEventId"])
	assert.Equal(t, true, raw["triggersAgentTurn"])
	assert.Equal(t, "hello", raw["content"])
}

func TestInterruptedRoundTrip(t *testing.T) {
	ev := NewTurnInterrupted(2, ReasonUserNewMessage, "alice-v1:0007")
	ev.PartialResponse = "I was about to say"
	ev.ID = FormatID("alice-v1", 8)

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, TagAgentTurnInterrupted, back.Tag)
	assert.Equal(t, ReasonUserNewMessage, back.Reason)
	assert.Equal(t, "alice-v1:0007", back.InterruptedByEventID)
	assert.Equal(t, "I was about to say", back.PartialResponse)
	assert.Equal(t, 2, back.TurnNumber)
}

func TestPersisted(t *testing.T) {
	assert.False(t, NewTextDelta("x").Persisted())
	assert.True(t, NewUserMessage("x", nil).Persisted())
	assert.True(t, NewSessionEnded().Persisted())
}

func TestTerminal(t *testing.T) {
	assert.True(t, NewTurnCompleted(1, time.Second).Terminal())
	assert.True(t, NewTurnFailed(1, "boom").Terminal())
	assert.True(t, NewTurnInterrupted(1, ReasonUserCancel, "").Terminal())
	assert.False(t, NewTurnStarted(1).Terminal())
	assert.False(t, NewAssistantMessage("x").Terminal())
}

func TestKnown(t *testing.T) {
	assert.True(t, Known(TagSetLLMConfig))
	assert.False(t, Known(Tag("MysteryEvent")))
}
