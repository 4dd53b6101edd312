package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushpals/pushpals/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEnvelope(sessionID, id, eventType string) models.Envelope {
	return models.Envelope{
		ProtocolVersion: "0.1.0",
		ID:              id,
		TS:              time.Now().UTC(),
		SessionID:       sessionID,
		Type:            eventType,
		Payload:         map[string]any{"text": "hello"},
	}
}

func TestInsertEvent_CursorsDensePerSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"e1", "e2", "e3"} {
		cursor, err := s.InsertEvent(ctx, testEnvelope("dev", id, "message"))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), cursor)
	}

	// An interleaved session gets its own dense sequence.
	cursor, err := s.InsertEvent(ctx, testEnvelope("other", "o1", "message"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor)

	cursor, err = s.InsertEvent(ctx, testEnvelope("dev", "e4", "message"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), cursor)
}

func TestEventsAfter_ReturnsOrderedTail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		_, err := s.InsertEvent(ctx, testEnvelope("dev", id, "message"))
		require.NoError(t, err)
	}

	evs, err := s.EventsAfter(ctx, "dev", 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, int64(3), evs[0].Cursor)
	assert.Equal(t, "e3", evs[0].Envelope.ID)
	assert.Equal(t, int64(4), evs[1].Cursor)
	assert.Equal(t, "e4", evs[1].Envelope.ID)
}

func TestLatestCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cursor, err := s.LatestCursor(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)

	_, err = s.InsertEvent(ctx, testEnvelope("dev", "e1", "message"))
	require.NoError(t, err)
	_, err = s.InsertEvent(ctx, testEnvelope("dev", "e2", "message"))
	require.NoError(t, err)

	cursor, err = s.LatestCursor(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursor)
}

func TestCreateSession_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "dev")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateSession(ctx, "dev")
	require.NoError(t, err)
	assert.False(t, created)

	exists, err := s.SessionExists(ctx, "dev")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.SessionExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListSessions_TracksLatestCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "empty")
	require.NoError(t, err)
	_, err = s.InsertEvent(ctx, testEnvelope("busy", "e1", "message"))
	require.NoError(t, err)
	_, err = s.InsertEvent(ctx, testEnvelope("busy", "e2", "message"))
	require.NoError(t, err)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	byID := map[string]SessionInfo{}
	for _, info := range sessions {
		byID[info.SessionID] = info
	}
	assert.Equal(t, int64(0), byID["empty"].LatestCursor)
	assert.Equal(t, int64(2), byID["busy"].LatestCursor)
}
