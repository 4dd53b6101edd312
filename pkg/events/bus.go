package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pushpals/pushpals/pkg/metrics"
	"github.com/pushpals/pushpals/pkg/models"
	"github.com/pushpals/pushpals/pkg/store"
	"github.com/pushpals/pushpals/pkg/version"
)

// Bus is the event bus for one session. All of {validate, persist, fold
// task projection, broadcast} run under one mutex so a projection update
// and the corresponding delivery are atomic to observers, and live
// subscribers attach at a well-defined cursor.
type Bus struct {
	sessionID string
	store     *store.Store
	bufSize   int

	mu   sync.Mutex
	subs map[string]chan models.BusEvent

	// Task projection, folded from task_* events. Never persisted
	// separately; rebuilt from the log on process start.
	tasks map[string]*models.Task

	// Startup-readiness aggregation state.
	agentsSeen     map[string]bool
	readyAnnounced bool
}

func newBus(sessionID string, st *store.Store, bufSize int) *Bus {
	return &Bus{
		sessionID:  sessionID,
		store:      st,
		bufSize:    bufSize,
		subs:       make(map[string]chan models.BusEvent),
		tasks:      make(map[string]*models.Task),
		agentsSeen: make(map[string]bool),
	}
}

// Emit validates, persists and broadcasts an envelope, returning its
// cursor. An envelope that fails validation is replaced by an error event;
// the error event's cursor is returned and the original is not persisted.
func (b *Bus) Emit(ctx context.Context, env models.Envelope) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emitLocked(ctx, env)
}

func (b *Bus) emitLocked(ctx context.Context, env models.Envelope) (int64, error) {
	env.SessionID = b.sessionID
	if err := Normalize(&env); err != nil {
		slog.Warn("Rejected invalid envelope",
			"session_id", b.sessionID, "type", env.Type, "error", err)
		env = errorEnvelope(b.sessionID, env, err)
	}

	cursor, err := b.store.InsertEvent(ctx, env)
	if err != nil {
		return 0, fmt.Errorf("failed to persist event: %w", err)
	}
	metrics.EventsEmitted.WithLabelValues(env.Type).Inc()

	b.foldTask(env)
	b.broadcastLocked(models.BusEvent{Envelope: env, Cursor: cursor})

	if b.observeReadiness(env) {
		ready := models.Envelope{
			ProtocolVersion: version.ProtocolVersion,
			ID:              uuid.New().String(),
			TS:              time.Now().UTC(),
			SessionID:       b.sessionID,
			Type:            TypeAssistantMessage,
			From:            "server",
			Payload:         map[string]any{"text": ReadyMessage},
		}
		if _, err := b.emitLocked(ctx, ready); err != nil {
			slog.Error("Failed to announce readiness",
				"session_id", b.sessionID, "error", err)
		}
	}
	return cursor, nil
}

// Subscribe registers a live subscriber and returns the replay backlog for
// cursors in (after, latestAtSubscribe]. The live channel carries every
// event emitted after the attach point, so backlog-then-channel is a
// seamless, gap-free cursor sequence. cancel detaches the subscriber; the
// channel is closed either by cancel or by an overflow drop.
func (b *Bus) Subscribe(ctx context.Context, after int64) ([]models.BusEvent, <-chan models.BusEvent, func(), error) {
	b.mu.Lock()
	latest, err := b.store.LatestCursor(ctx, b.sessionID)
	if err != nil {
		b.mu.Unlock()
		return nil, nil, nil, err
	}
	after = b.resetCursor(after, latest)

	id := uuid.New().String()
	ch := make(chan models.BusEvent, b.bufSize)
	b.subs[id] = ch
	b.mu.Unlock()
	metrics.ActiveSubscribers.Inc()

	cancel := func() { b.drop(id) }

	backlog, err := b.store.EventsAfter(ctx, b.sessionID, after)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	// Keep only rows at or before the attach point; later cursors arrive
	// on the live channel.
	trimmed := backlog[:0]
	for _, ev := range backlog {
		if ev.Cursor <= latest {
			trimmed = append(trimmed, ev)
		}
	}
	return trimmed, ch, cancel, nil
}

// Replay returns all stored events with cursor > after, applying the
// cursor reset rule.
func (b *Bus) Replay(ctx context.Context, after int64) ([]models.BusEvent, error) {
	latest, err := b.store.LatestCursor(ctx, b.sessionID)
	if err != nil {
		return nil, err
	}
	after = b.resetCursor(after, latest)
	return b.store.EventsAfter(ctx, b.sessionID, after)
}

// LatestCursor returns the session's highest assigned cursor (0 if none).
func (b *Bus) LatestCursor(ctx context.Context) (int64, error) {
	return b.store.LatestCursor(ctx, b.sessionID)
}

// Tasks returns a snapshot of the folded task projection.
func (b *Bus) Tasks() []models.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		out = append(out, *t)
	}
	return out
}

// resetCursor applies the cursor reset rule: a subscriber presenting a
// cursor beyond the log (stale client state after a store reset) gets a
// full replay instead of being wedged on a phantom cursor.
func (b *Bus) resetCursor(after, latest int64) int64 {
	if after > latest {
		slog.Warn("Cursor beyond log end, resetting to full replay",
			"session_id", b.sessionID, "after", after, "latest", latest)
		return 0
	}
	return after
}

// broadcastLocked delivers an event to every live subscriber. Sends are
// non-blocking: a full buffer means the subscriber cannot keep up, and it
// is dropped exactly as if its connection had died.
func (b *Bus) broadcastLocked(ev models.BusEvent) {
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Subscriber buffer overflow, dropping",
				"session_id", b.sessionID, "subscriber_id", id)
			delete(b.subs, id)
			close(ch)
			metrics.ActiveSubscribers.Dec()
			metrics.SubscribersDropped.Inc()
		}
	}
}

// drop detaches a subscriber on explicit cancel. A subscriber already
// removed by the overflow path is a no-op here.
func (b *Bus) drop(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
	metrics.ActiveSubscribers.Dec()
}

// foldTask updates the in-memory task projection for task_* events.
func (b *Bus) foldTask(env models.Envelope) {
	taskID, _ := env.Payload["taskId"].(string)
	if taskID == "" {
		return
	}

	switch env.Type {
	case TypeTaskCreated:
		t := &models.Task{TaskID: taskID, Status: models.TaskStatusCreated}
		t.Title, _ = env.Payload["title"].(string)
		t.Description, _ = env.Payload["description"].(string)
		if by, ok := env.Payload["createdBy"].(string); ok && by != "" {
			t.CreatedBy = by
		} else {
			t.CreatedBy = env.From
		}
		b.tasks[taskID] = t
	case TypeTaskStarted:
		if t, ok := b.tasks[taskID]; ok {
			t.Status = models.TaskStatusStarted
		}
	case TypeTaskProgress:
		if t, ok := b.tasks[taskID]; ok {
			t.Status = models.TaskStatusInProgress
		}
	case TypeTaskCompleted:
		if t, ok := b.tasks[taskID]; ok {
			t.Status = models.TaskStatusCompleted
			t.Summary, _ = env.Payload["summary"].(string)
		}
	case TypeTaskFailed:
		if t, ok := b.tasks[taskID]; ok {
			t.Status = models.TaskStatusFailed
			t.FailMessage, _ = env.Payload["message"].(string)
		}
	}
}

// observeReadiness tracks required-agent status events and reports true
// exactly once, when the last required agent comes online.
func (b *Bus) observeReadiness(env models.Envelope) bool {
	if b.readyAnnounced || env.Type != TypeStatus {
		return false
	}
	agentID, _ := env.Payload["agentId"].(string)
	detail, _ := env.Payload["detail"].(string)
	if agentID == "" || !strings.Contains(strings.ToLower(detail), "online") {
		return false
	}
	for _, required := range requiredAgents {
		if strings.HasPrefix(agentID, required) {
			b.agentsSeen[required] = true
			break
		}
	}
	if len(b.agentsSeen) < len(requiredAgents) {
		return false
	}
	b.readyAnnounced = true
	return true
}

// rehydrate rebuilds the task projection and readiness state from the
// stored log. Called once per session at process start; never broadcasts.
func (b *Bus) rehydrate(ctx context.Context) error {
	evs, err := b.store.EventsAfter(ctx, b.sessionID, 0)
	if err != nil {
		return fmt.Errorf("failed to rehydrate session %s: %w", b.sessionID, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range evs {
		b.foldTask(ev.Envelope)
		if ev.Envelope.Type == TypeAssistantMessage {
			if text, _ := ev.Envelope.Payload["text"].(string); text == ReadyMessage {
				b.readyAnnounced = true
			}
		}
		b.observeReadiness(ev.Envelope)
	}
	return nil
}
