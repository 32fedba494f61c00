package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/fanout/internal/observability"
)

type Server struct {
	httpServer *http.Server
}

func New(addr string, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     handler,
			ReadTimeout: 10 * time.Second,
			// No WriteTimeout: websocket connections outlive any sane value.
		},
	}
}

func (s *Server) Start() error {
	observability.GetLogger(context.Background()).Info("starting server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	observability.GetLogger(ctx).Info("shutting down server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.Shutdown(ctx)
}
