// Package api is the pipeline coordinator's HTTP/WebSocket surface. It
// composes the session bus, the three pipeline queues and the approvals
// registry behind one echo server.
package api

import (
	"context"
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pushpals/pushpals/pkg/approvals"
	"github.com/pushpals/pushpals/pkg/config"
	"github.com/pushpals/pushpals/pkg/events"
	"github.com/pushpals/pushpals/pkg/queue"
	"github.com/pushpals/pushpals/pkg/store"
)

// Server wires all coordinator dependencies behind the HTTP surface.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	buses       *events.Manager
	requests    *queue.Requests
	jobs        *queue.Jobs
	completions *queue.Completions
	approvals   *approvals.Registry
	sweeper     *queue.Sweeper

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer builds the coordinator server and registers all routes.
func NewServer(cfg *config.Config, st *store.Store, buses *events.Manager,
	requests *queue.Requests, jobs *queue.Jobs, completions *queue.Completions,
	reg *approvals.Registry, sweeper *queue.Sweeper) *Server {

	s := &Server{
		cfg:         cfg,
		store:       st,
		buses:       buses,
		requests:    requests,
		jobs:        jobs,
		completions: completions,
		approvals:   reg,
		sweeper:     sweeper,
	}

	e := echo.New()
	e.Use(corsMiddleware())
	e.Use(noStoreMiddleware())

	auth := bearerAuth(cfg.AuthToken)

	// Open endpoints: health, session bootstrap and the client-facing
	// message/stream surface.
	e.GET("/healthz", s.healthHandler)
	e.POST("/sessions", s.createSessionHandler)
	e.GET("/sessions", s.listSessionsHandler)
	e.GET("/sessions/:id/tasks", s.sessionTasksHandler)
	e.POST("/sessions/:id/message", s.messageHandler)
	e.GET("/sessions/:id/events", s.sseHandler)
	e.GET("/sessions/:id/ws", s.wsHandler)

	// Agent/worker surface behind the bearer token.
	e.POST("/sessions/:id/command", s.commandHandler, auth)
	e.POST("/approvals/:id", s.decideApprovalHandler, auth)

	e.POST("/requests/enqueue", s.enqueueRequestHandler, auth)
	e.POST("/requests/claim", s.claimRequestHandler, auth)
	e.POST("/requests/:id/complete", s.completeRequestHandler, auth)
	e.POST("/requests/:id/fail", s.failRequestHandler, auth)

	e.POST("/jobs/enqueue", s.enqueueJobHandler, auth)
	e.POST("/jobs/claim", s.claimJobHandler, auth)
	e.POST("/jobs/:id/complete", s.completeJobHandler, auth)
	e.POST("/jobs/:id/fail", s.failJobHandler, auth)
	e.POST("/jobs/:id/log", s.appendJobLogHandler, auth)
	e.GET("/jobs/:id/logs", s.listJobLogsHandler, auth)

	e.POST("/workers/heartbeat", s.heartbeatHandler, auth)
	e.GET("/workers", s.listWorkersHandler, auth)

	e.POST("/completions/enqueue", s.enqueueCompletionHandler, auth)
	e.POST("/completions/claim", s.claimCompletionHandler, auth)
	e.POST("/completions/:id/processed", s.completionProcessedHandler, auth)
	e.POST("/completions/:id/fail", s.completionFailedHandler, auth)

	e.GET("/system/status", s.systemStatusHandler, auth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo = e
	return s
}

// Handler exposes the routed HTTP handler, used by tests and embedders.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving HTTP on addr until Shutdown or a listen failure.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
