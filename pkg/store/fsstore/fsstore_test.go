package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchain-dev/agentchain/pkg/event"
	"github.com/agentchain-dev/agentchain/pkg/store"
)

func chained(contextName string, events ...event.Event) []event.Event {
	for i := range events {
		events[i].ID = event.FormatID(contextName, i)
		if i > 0 {
			events[i].ParentEventID = events[i-1].ID
		}
	}
	return events
}

func TestAppendLoadRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	batch := chained("alice-v1",
		event.NewSessionStarted(),
		event.NewUserMessage("hi", []string{"data:image/png;base64,xyz"}),
		event.NewAssistantMessage("hello"),
	)
	require.NoError(t, s.Append(ctx, "alice-v1", batch))

	got, err := s.Load(ctx, "alice-v1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, batch[1].Content, got[1].Content)
	assert.Equal(t, batch[1].Images, got[1].Images)
	assert.Equal(t, batch[2].ParentEventID, got[2].ParentEventID)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := New(dir)
	require.NoError(t, err)
	batch := chained("alice-v1", event.NewSessionStarted(), event.NewUserMessage("hi", nil))
	require.NoError(t, s1.Append(ctx, "alice-v1", batch))

	s2, err := New(dir)
	require.NoError(t, err)
	got, err := s2.Load(ctx, "alice-v1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "hi", got[1].Content)
}

func TestOneFilePerContext(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "alice-v1", chained("alice-v1", event.NewSessionStarted())))
	require.NoError(t, s.Append(ctx, "bob-v1", chained("bob-v1", event.NewSessionStarted())))

	_, err = os.Stat(filepath.Join(dir, "alice-v1.jsonl"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "bob-v1.jsonl"))
	require.NoError(t, err)

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice-v1", "bob-v1"}, names)
}

func TestEphemeralRejected(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	err = s.Append(context.Background(), "alice-v1", []event.Event{event.NewTextDelta("x")})
	require.ErrorIs(t, err, store.ErrEphemeralEvent)

	ok, err := s.Exists(context.Background(), "alice-v1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidContextName(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		_, err := s.Load(ctx, name)
		assert.Error(t, err, "load %q", name)
		err = s.Append(ctx, name, chained("x", event.NewSessionStarted()))
		assert.Error(t, err, "append %q", name)
	}
}

func TestMissingContextLoadsEmpty(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	got, err := s.Load(context.Background(), "nobody-v1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
