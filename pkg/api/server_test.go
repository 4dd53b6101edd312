package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushpals/pushpals/pkg/approvals"
	"github.com/pushpals/pushpals/pkg/config"
	"github.com/pushpals/pushpals/pkg/events"
	"github.com/pushpals/pushpals/pkg/queue"
	"github.com/pushpals/pushpals/pkg/store"
)

const testToken = "test-token"

func newTestServer(t *testing.T, token string) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		HTTPPort:         config.DefaultHTTPPort,
		AuthToken:        token,
		WorkerOnlineTTL:  15 * time.Second,
		StaleClaimTTL:    15 * time.Second,
		SweepInterval:    0,
		SLOWindow:        24 * time.Hour,
		SSEKeepalive:     15 * time.Second,
		SubscriberBuffer: 16,
		JobLogTail:       200,
		ShutdownTimeout:  time.Second,
	}
	srv := NewServer(cfg, st, events.NewManager(st, cfg.SubscriberBuffer),
		queue.NewRequests(st),
		queue.NewJobs(st, cfg.JobLogTail),
		queue.NewCompletions(st),
		approvals.NewRegistry(),
		queue.NewSweeper(st, cfg.StaleClaimTTL, cfg.SweepInterval))
	return srv, st
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.OK)
	assert.Equal(t, "0.1.0", resp.ProtocolVersion)
}

func TestCreateSession_NewThenJoin(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/sessions", "", CreateSessionRequest{SessionID: "dev"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp SessionResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "dev", resp.SessionID)
	assert.Equal(t, "0.1.0", resp.ProtocolVersion)

	rec = doJSON(t, h, http.MethodPost, "/sessions", "", CreateSessionRequest{SessionID: "dev"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSession_GeneratesAndValidatesID(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/sessions", "", CreateSessionRequest{})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp SessionResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.SessionID)

	rec = doJSON(t, h, http.MethodPost, "/sessions", "", CreateSessionRequest{SessionID: "no spaces!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessage_EmitsClientEvent(t *testing.T) {
	srv, st := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/sessions/dev/message", "", MessageRequest{Text: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp EmitResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, int64(1), resp.Cursor)

	evs, err := st.EventsAfter(context.Background(), "dev", 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeMessage, evs[0].Envelope.Type)
	assert.Equal(t, "client", evs[0].Envelope.From)
	assert.Equal(t, "hello", evs[0].Envelope.Payload["text"])

	rec = doJSON(t, h, http.MethodPost, "/sessions/dev/message", "", MessageRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBearerAuth_GuardsAgentSurface(t *testing.T) {
	srv, _ := newTestServer(t, testToken)
	h := srv.Handler()

	in := queue.EnqueueRequestInput{SessionID: "dev", Prompt: "hi"}
	rec := doJSON(t, h, http.MethodPost, "/requests/enqueue", "", in)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/requests/enqueue", "wrong", in)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/requests/enqueue", testToken, in)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// The client-facing surface stays open.
	rec = doJSON(t, h, http.MethodPost, "/sessions/dev/message", "", MessageRequest{Text: "hi"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestPipeline_EnqueueClaimComplete(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/requests/enqueue", "",
		queue.EnqueueRequestInput{SessionID: "dev", Prompt: "build it", Priority: "interactive"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var receipt queue.Receipt
	decodeBody(t, rec, &receipt)
	assert.Equal(t, 1, receipt.QueuePosition)

	// Completing before claiming is rejected.
	rec = doJSON(t, h, http.MethodPost, "/requests/"+receipt.ID+"/complete", "",
		CompleteRequestBody{Result: "done"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not in claimed state")

	rec = doJSON(t, h, http.MethodPost, "/requests/claim", "", ClaimRequestBody{AgentID: "planner-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var claim struct {
		Request *struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"request"`
	}
	decodeBody(t, rec, &claim)
	require.NotNil(t, claim.Request)
	assert.Equal(t, receipt.ID, claim.Request.ID)

	rec = doJSON(t, h, http.MethodPost, "/requests/"+receipt.ID+"/complete", "",
		CompleteRequestBody{Result: "done"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Empty queue claims return an explicit null.
	rec = doJSON(t, h, http.MethodPost, "/requests/claim", "", ClaimRequestBody{AgentID: "planner-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"request":null`)

	rec = doJSON(t, h, http.MethodPost, "/requests/missing/fail", "", FailRequestBody{Message: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommand_RejectsUnknownType(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/sessions/dev/command", "",
		CommandRequest{Type: "mystery", Payload: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/sessions/dev/command", "",
		CommandRequest{Type: events.TypeStatus})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommand_ToolCallApprovalFlow(t *testing.T) {
	srv, st := newTestServer(t, "")
	h := srv.Handler()
	ctx := context.Background()

	rec := doJSON(t, h, http.MethodPost, "/sessions/dev/command", "", CommandRequest{
		Type: events.TypeToolCall,
		From: "localbuddy",
		Payload: map[string]any{
			"toolCallId":       "tc-1",
			"tool":             "git_push",
			"summary":          "Push feature branch",
			"requiresApproval": true,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var emitted EmitResponse
	decodeBody(t, rec, &emitted)
	assert.Equal(t, int64(2), emitted.Cursor, "tool_call then approval_required")

	evs, err := st.EventsAfter(ctx, "dev", 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeApprovalRequired, evs[0].Envelope.Type)
	assert.Equal(t, "server", evs[0].Envelope.From)
	assert.Equal(t, "tc-1", evs[0].Envelope.Payload["approvalId"])
	assert.Equal(t, "git_push", evs[0].Envelope.Payload["action"])

	rec = doJSON(t, h, http.MethodPost, "/approvals/tc-1", "", DecisionRequest{Decision: "approve"})
	require.Equal(t, http.StatusOK, rec.Code)
	var decided struct {
		ApprovalID string `json:"approvalId"`
		Decision   string `json:"decision"`
		Cursor     int64  `json:"cursor"`
	}
	decodeBody(t, rec, &decided)
	assert.Equal(t, "tc-1", decided.ApprovalID)
	assert.Equal(t, int64(3), decided.Cursor)

	evs, err = st.EventsAfter(ctx, "dev", 2)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeApproved, evs[0].Envelope.Type)
	assert.Equal(t, "tc-1", evs[0].Envelope.CorrelationID)

	// The gate resolves exactly once.
	rec = doJSON(t, h, http.MethodPost, "/approvals/tc-1", "", DecisionRequest{Decision: "approve"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Approval not found")
}

func TestApprovals_DenyEmitsDenied(t *testing.T) {
	srv, st := newTestServer(t, "")
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/sessions/dev/command", "", CommandRequest{
		Type: events.TypeToolCall,
		From: "localbuddy",
		Payload: map[string]any{
			"toolCallId":       "tc-2",
			"tool":             "shell",
			"requiresApproval": true,
		},
	})

	rec := doJSON(t, h, http.MethodPost, "/approvals/tc-2", "", DecisionRequest{Decision: "deny"})
	require.Equal(t, http.StatusOK, rec.Code)

	evs, err := st.EventsAfter(context.Background(), "dev", 2)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeDenied, evs[0].Envelope.Type)
}

func enqueueJobViaAPI(t *testing.T, h http.Handler, sessionID string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/jobs/enqueue", "",
		queue.EnqueueJobInput{SessionID: sessionID, Kind: "shell", Params: map[string]any{"cmd": "make"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var receipt queue.Receipt
	decodeBody(t, rec, &receipt)
	return receipt.ID
}

func TestJobFail_AnnouncedOnSessionBus(t *testing.T) {
	srv, st := newTestServer(t, "")
	h := srv.Handler()

	jobID := enqueueJobViaAPI(t, h, "dev")
	doJSON(t, h, http.MethodPost, "/workers/heartbeat", "", HeartbeatRequest{WorkerID: "w1", Status: "busy"})
	rec := doJSON(t, h, http.MethodPost, "/jobs/claim", "", ClaimJobBody{WorkerID: "w1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/jobs/"+jobID+"/fail", "",
		FailJobBody{Message: "\x1b[31mboom\x1b[0m", Detail: "exit status 2"})
	require.Equal(t, http.StatusOK, rec.Code)

	evs, err := st.EventsAfter(context.Background(), "dev", 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeJobFailed, evs[0].Envelope.Type)
	assert.Equal(t, "server", evs[0].Envelope.From)
	assert.Equal(t, jobID, evs[0].Envelope.Payload["jobId"])
	assert.Equal(t, "boom", evs[0].Envelope.Payload["message"])
}

func TestJobClaim_RecoversStaleClaimsFirst(t *testing.T) {
	srv, st := newTestServer(t, "")
	h := srv.Handler()

	jobID := enqueueJobViaAPI(t, h, "dev")

	// Claimed by a worker that never heartbeats, then abandoned.
	rec := doJSON(t, h, http.MethodPost, "/jobs/claim", "", ClaimJobBody{WorkerID: "ghost"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The next claim sweeps, recovers the job and hands it over.
	rec = doJSON(t, h, http.MethodPost, "/jobs/claim", "", ClaimJobBody{WorkerID: "w2"})
	require.Equal(t, http.StatusOK, rec.Code)
	var claim struct {
		Job *struct {
			ID           string `json:"id"`
			WorkerID     string `json:"workerId"`
			AttemptCount int    `json:"attemptCount"`
		} `json:"job"`
	}
	decodeBody(t, rec, &claim)
	require.NotNil(t, claim.Job)
	assert.Equal(t, jobID, claim.Job.ID)
	assert.Equal(t, "w2", claim.Job.WorkerID)
	assert.Equal(t, 2, claim.Job.AttemptCount)

	evs, err := st.EventsAfter(context.Background(), "dev", 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeJobFailed, evs[0].Envelope.Type)
	assert.Equal(t, "server:stale-claim-recovery", evs[0].Envelope.From)
	assert.Equal(t, "Worker disappeared during job execution", evs[0].Envelope.Payload["message"])
	assert.Equal(t, "lost worker ghost", evs[0].Envelope.Payload["detail"])
}

func TestJobLogs_AppendAndList(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	jobID := enqueueJobViaAPI(t, h, "dev")
	rec := doJSON(t, h, http.MethodPost, "/jobs/"+jobID+"/log", "", AppendLogBody{
		Stream: "stdout",
		Lines: []queue.LogLine{
			{Seq: 1, Message: "\x1b[32mcompiling\x1b[0m main.go"},
			{Seq: 2, Message: "42% [####>----]"},
			{Seq: 3, Message: "done"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var stored struct {
		Stored int `json:"stored"`
	}
	decodeBody(t, rec, &stored)
	assert.Equal(t, 2, stored.Stored)

	rec = doJSON(t, h, http.MethodGet, "/jobs/"+jobID+"/logs?limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Logs []struct {
			Message string `json:"message"`
		} `json:"logs"`
		LastID int64 `json:"lastId"`
	}
	decodeBody(t, rec, &listed)
	require.Len(t, listed.Logs, 2)
	assert.Equal(t, "done", listed.Logs[0].Message)
	assert.Greater(t, listed.LastID, int64(0))

	rec = doJSON(t, h, http.MethodPost, "/jobs/"+jobID+"/log", "",
		AppendLogBody{Stream: "stdweird"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/jobs/"+jobID+"/logs?limit=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkers_HeartbeatAndList(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/workers/heartbeat", "", HeartbeatRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/workers/heartbeat", "",
		HeartbeatRequest{WorkerID: "w1", Status: "idle", PollMs: 1000})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/workers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Workers []struct {
			WorkerID string `json:"workerId"`
			IsOnline bool   `json:"isOnline"`
		} `json:"workers"`
	}
	decodeBody(t, rec, &listed)
	require.Len(t, listed.Workers, 1)
	assert.Equal(t, "w1", listed.Workers[0].WorkerID)
	assert.True(t, listed.Workers[0].IsOnline)
}

func TestCompletionsPipeline(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	body := map[string]any{
		"jobId": "j1", "sessionId": "dev", "commitSha": "abc123", "branch": "feature/x",
	}
	rec := doJSON(t, h, http.MethodPost, "/completions/enqueue", "", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.ID)

	// A second pending completion for the same job conflicts.
	rec = doJSON(t, h, http.MethodPost, "/completions/enqueue", "", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/completions/claim", "", map[string]any{"pusherId": "p1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/completions/"+created.ID+"/processed", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSystemStatus(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/workers/heartbeat", "", HeartbeatRequest{WorkerID: "w1"})
	doJSON(t, h, http.MethodPost, "/requests/enqueue", "",
		queue.EnqueueRequestInput{SessionID: "dev", Prompt: "hi"})
	enqueueJobViaAPI(t, h, "dev")

	rec := doJSON(t, h, http.MethodGet, "/system/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status SystemStatusResponse
	decodeBody(t, rec, &status)

	assert.Equal(t, 1, status.Workers.Total)
	assert.Equal(t, 1, status.Workers.Online)
	assert.Equal(t, 1, status.RequestCounts["pending"])
	assert.Equal(t, 1, status.JobCounts["pending"])
	assert.Len(t, status.PendingRequests, 1)
	assert.Len(t, status.PendingJobs, 1)
	assert.Equal(t, 24.0, status.SLOWindowHours)
	assert.Equal(t, 0, status.RequestSLO.Terminal)
}

func TestSSE_ReplaysBacklogFrames(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/sessions/dev/message", "", MessageRequest{Text: "one"})
	doJSON(t, h, http.MethodPost, "/sessions/dev/message", "", MessageRequest{Text: "two"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/sessions/dev/events?after=0", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, ": connected")
	assert.Contains(t, body, "id: 1\n")
	assert.Contains(t, body, "id: 2\n")
	assert.Contains(t, body, `"text":"one"`)
}

func TestCORS_PreflightAndHeaders(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestSSE_RejectsBadCursor(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/sessions/dev/events?after=-3", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
