package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushpals/pushpals/pkg/models"
	"github.com/pushpals/pushpals/pkg/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewManager(st, 16), st
}

func emit(t *testing.T, b *Bus, eventType string, payload map[string]any) int64 {
	t.Helper()
	cursor, err := b.Emit(context.Background(), models.Envelope{
		Type:    eventType,
		Payload: payload,
	})
	require.NoError(t, err)
	return cursor
}

func TestEmit_AssignsDenseCursors(t *testing.T) {
	m, _ := newTestManager(t)
	b := m.Bus("dev")

	assert.Equal(t, int64(1), emit(t, b, TypeMessage, map[string]any{"text": "hi"}))
	assert.Equal(t, int64(2), emit(t, b, TypeLog, map[string]any{"line": "x"}))

	latest, err := b.LatestCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)
}

func TestEmit_FillsServerAssignedFields(t *testing.T) {
	m, st := newTestManager(t)
	b := m.Bus("dev")
	emit(t, b, TypeMessage, map[string]any{"text": "hi"})

	evs, err := st.EventsAfter(context.Background(), "dev", 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	env := evs[0].Envelope
	assert.NotEmpty(t, env.ID)
	assert.False(t, env.TS.IsZero())
	assert.Equal(t, "0.1.0", env.ProtocolVersion)
	assert.Equal(t, "dev", env.SessionID)
}

func TestEmit_InvalidEnvelopePersistsErrorEvent(t *testing.T) {
	m, st := newTestManager(t)
	b := m.Bus("dev")

	cursor, err := b.Emit(context.Background(), models.Envelope{
		Type:    "definitely_not_a_type",
		Payload: map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor)

	evs, err := st.EventsAfter(context.Background(), "dev", 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, TypeError, evs[0].Envelope.Type)
	assert.Equal(t, "definitely_not_a_type", evs[0].Envelope.Payload["rejectedType"])
	assert.Contains(t, evs[0].Envelope.Payload["message"], "not a known event type")
}

func TestSubscribe_ReplayThenLiveIsGapFree(t *testing.T) {
	m, _ := newTestManager(t)
	b := m.Bus("dev")
	ctx := context.Background()

	emit(t, b, TypeMessage, map[string]any{"text": "one"})
	emit(t, b, TypeTaskCreated, map[string]any{"taskId": "t1", "title": "T"})
	emit(t, b, TypeTaskStarted, map[string]any{"taskId": "t1"})
	emit(t, b, TypeTaskCompleted, map[string]any{"taskId": "t1"})

	backlog, live, cancel, err := b.Subscribe(ctx, 2)
	require.NoError(t, err)
	defer cancel()

	require.Len(t, backlog, 2)
	assert.Equal(t, int64(3), backlog[0].Cursor)
	assert.Equal(t, int64(4), backlog[1].Cursor)

	emit(t, b, TypeDone, map[string]any{})
	ev := <-live
	assert.Equal(t, int64(5), ev.Cursor)
	assert.Equal(t, TypeDone, ev.Envelope.Type)
}

func TestSubscribe_CursorBeyondLogResets(t *testing.T) {
	m, _ := newTestManager(t)
	b := m.Bus("dev")

	for i := 0; i < 5; i++ {
		emit(t, b, TypeMessage, map[string]any{"text": "m"})
	}

	backlog, _, cancel, err := b.Subscribe(context.Background(), 42)
	require.NoError(t, err)
	defer cancel()

	require.Len(t, backlog, 5)
	assert.Equal(t, int64(1), backlog[0].Cursor)
	assert.Equal(t, int64(5), backlog[4].Cursor)
}

func TestReplay_AppliesCursorResetRule(t *testing.T) {
	m, _ := newTestManager(t)
	b := m.Bus("dev")
	emit(t, b, TypeMessage, map[string]any{"text": "m"})

	evs, err := b.Replay(context.Background(), 99)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(1), evs[0].Cursor)
}

func TestBroadcast_OverflowDropsSubscriber(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	b := NewManager(st, 1).Bus("dev")

	_, live, cancel, err := b.Subscribe(context.Background(), 0)
	require.NoError(t, err)
	defer cancel()

	// Buffer size 1: the second emit without a reader overflows.
	emit(t, b, TypeMessage, map[string]any{"text": "one"})
	emit(t, b, TypeMessage, map[string]any{"text": "two"})

	ev, ok := <-live
	require.True(t, ok)
	assert.Equal(t, int64(1), ev.Cursor)
	_, ok = <-live
	assert.False(t, ok, "channel closed after overflow drop")
}

func TestTaskProjection_FoldsLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	b := m.Bus("dev")

	emit(t, b, TypeTaskCreated, map[string]any{
		"taskId": "t1", "title": "Build", "description": "build it", "createdBy": "planner",
	})
	emit(t, b, TypeTaskStarted, map[string]any{"taskId": "t1"})
	emit(t, b, TypeTaskProgress, map[string]any{"taskId": "t1", "note": "halfway"})

	tasks := b.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusInProgress, tasks[0].Status)
	assert.Equal(t, "Build", tasks[0].Title)
	assert.Equal(t, "planner", tasks[0].CreatedBy)

	emit(t, b, TypeTaskFailed, map[string]any{"taskId": "t1", "message": "compile error"})
	tasks = b.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusFailed, tasks[0].Status)
	assert.Equal(t, "compile error", tasks[0].FailMessage)
}

func statusOnline(agent string) map[string]any {
	return map[string]any{"agentId": agent, "detail": "agent online and polling"}
}

func TestReadiness_AnnouncesOnceWhenAllAgentsOnline(t *testing.T) {
	m, st := newTestManager(t)
	b := m.Bus("dev")
	ctx := context.Background()

	emit(t, b, TypeStatus, statusOnline("localbuddy-1"))
	emit(t, b, TypeStatus, statusOnline("remotebuddy-1"))

	latest, err := b.LatestCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest, "no announcement before all agents report")

	emit(t, b, TypeStatus, statusOnline("source-control-manager"))

	evs, err := st.EventsAfter(ctx, "dev", 3)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, TypeAssistantMessage, evs[0].Envelope.Type)
	assert.Equal(t, ReadyMessage, evs[0].Envelope.Payload["text"])

	// Repeat reports never re-announce.
	emit(t, b, TypeStatus, statusOnline("localbuddy-1"))
	latest, err = b.LatestCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), latest)
}

func TestReadiness_IgnoresOfflineAndUnknownAgents(t *testing.T) {
	m, _ := newTestManager(t)
	b := m.Bus("dev")

	emit(t, b, TypeStatus, map[string]any{"agentId": "localbuddy-1", "detail": "going offline"})
	emit(t, b, TypeStatus, statusOnline("random-agent"))
	emit(t, b, TypeStatus, statusOnline("remotebuddy-1"))
	emit(t, b, TypeStatus, statusOnline("source-control-manager"))

	latest, err := b.LatestCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest, "localbuddy never reported online")
}

func TestRebuild_RestoresProjectionAndReadiness(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	m1 := NewManager(st, 16)
	b1 := m1.Bus("dev")
	emit(t, b1, TypeTaskCreated, map[string]any{"taskId": "t1", "title": "Build"})
	emit(t, b1, TypeTaskCompleted, map[string]any{"taskId": "t1", "summary": "ok"})
	emit(t, b1, TypeStatus, statusOnline("localbuddy"))
	emit(t, b1, TypeStatus, statusOnline("remotebuddy"))
	emit(t, b1, TypeStatus, statusOnline("source-control-manager"))

	// A fresh manager over the same store sees the same state.
	m2 := NewManager(st, 16)
	require.NoError(t, m2.Rebuild(ctx))
	b2 := m2.Bus("dev")

	tasks := b2.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusCompleted, tasks[0].Status)
	assert.Equal(t, "ok", tasks[0].Summary)

	// The stored announcement suppresses a duplicate after restart.
	before, err := b2.LatestCursor(ctx)
	require.NoError(t, err)
	emit(t, b2, TypeStatus, statusOnline("localbuddy"))
	after, err := b2.LatestCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
}
