package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const readHeaderTimeout = 5 * time.Second

// Server exposes the registered collectors on /metrics.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// Start binds addr and serves the metrics in the background. Bind errors are
// returned to the caller.
func Start(addr string, logger *zap.Logger) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &Server{
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		listener: lis,
		logger:   logger,
	}

	go func() {
		logger.Info("metrics server is listening", zap.String("addr", lis.Addr().String()))
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped unexpectedly", zap.Error(err))
		}
	}()

	return s, nil
}

// Addr is the bound address, useful when started on port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shut down the metrics server", zap.Error(err))
		return
	}
	s.logger.Info("metrics server stopped")
}
