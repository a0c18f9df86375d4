// Package api is the HTTP surface of the runtime: message posting with a
// streamed turn response, full event-stream subscriptions over SSE and
// WebSocket, and reduced-state inspection.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentchain-dev/agentchain/pkg/registry"
)

// Server hosts the HTTP API over a Registry.
type Server struct {
	registry *registry.Registry
	log      *slog.Logger

	echo *echo.Echo
	http *http.Server
}

// NewServer wires all routes and middleware. Start must be called to listen.
func NewServer(reg *registry.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: reg,
		log:      logger,
		echo:     echo.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/api/v1/agents", s.listAgentsHandler)
	e.GET("/api/v1/agents/states", s.listStatesHandler)

	e.POST("/agent/:name", s.postMessageHandler)
	e.GET("/agent/:name/events", s.streamEventsHandler)
	e.GET("/agent/:name/ws", s.wsHandler)
	e.GET("/agent/:name/state", s.stateHandler)
	e.POST("/agent/:name/interrupt", s.interruptHandler)
	e.POST("/agent/:name/end", s.endSessionHandler)
}

// Handler exposes the routed handler, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
