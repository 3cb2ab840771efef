// Package api exposes the control plane's approval/control HTTP surface
// and WebSocket event stream (§6) over the orchestrator's public methods.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/agentimmune/control-plane/pkg/events"
	"github.com/agentimmune/control-plane/pkg/orchestrator"
)

// Server is the HTTP API server fronting one Orchestrator instance.
type Server struct {
	echo        *echo.Echo
	httpServer  *http.Server
	orch        *orchestrator.Orchestrator
	connManager *events.ConnectionManager
	dbPing      func(ctx context.Context) error // nil when no store is wired (in-memory mode)
}

// NewServer creates a new API server with Echo v5, wired directly to the
// orchestrator's public operations and the WebSocket connection manager.
func NewServer(orch *orchestrator.Orchestrator, connManager *events.ConnectionManager) *Server {
	e := echo.New()

	s := &Server{
		echo:        e,
		orch:        orch,
		connManager: connManager,
	}

	s.setupRoutes()
	return s
}

// SetDBPing wires a liveness check for the backing store into /health.
// Skip this call entirely for in-memory-only deployments.
func (s *Server) SetDBPing(ping func(ctx context.Context) error) {
	s.dbPing = ping
}

// setupRoutes registers every route in the control plane's HTTP surface.
func (s *Server) setupRoutes() {
	s.echo.Use(securityHeaders())
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.Use(noStoreAPI())

	// Agent registry and vitals ingestion (§6).
	v1.GET("/agents", s.listAgentsHandler)
	v1.POST("/agents/register", s.registerAgentHandler)
	v1.POST("/ingest", s.ingestVitalsHandler)

	// Fleet-wide dashboard snapshot and audit trail.
	v1.GET("/stats", s.statsHandler)
	v1.GET("/actions/recent", s.recentActionsHandler)

	// HITL approval workflow (§4.11).
	v1.GET("/approvals/pending", s.pendingApprovalsHandler)
	v1.GET("/approvals/rejected", s.rejectedApprovalsHandler)
	v1.POST("/approvals/approve-all", s.approveAllHandler)
	v1.POST("/approvals/heal-all-rejected", s.healAllRejectedHandler)
	v1.POST("/agents/:id/approve-healing", s.approveHealingHandler)
	v1.POST("/agents/:id/heal-explicitly", s.healExplicitlyHandler)

	// Operator feedback on diagnosis accuracy (§4.5).
	v1.POST("/diagnosis/feedback", s.submitFeedbackHandler)

	// Real-time event stream for the dashboard (§6).
	v1.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
