package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnd/signal"
	"go.uber.org/zap"

	"github.com/xencat/bridge-verifier/config"
	"github.com/xencat/bridge-verifier/metrics"
)

const shutdownTimeout = 10 * time.Second

// Server is the main daemon construct of the bridge. It runs the bridge app,
// the REST API, the attestation listener of a validator node and the metrics
// server until the process is asked to shut down.
type Server struct {
	started int32

	cfg    *config.Config
	logger *zap.Logger

	app         *BridgeApp
	db          kvdb.Backend
	interceptor signal.Interceptor

	wg sync.WaitGroup
}

func NewBridgeServer(cfg *config.Config, l *zap.Logger, app *BridgeApp, db kvdb.Backend, sig signal.Interceptor) *Server {
	return &Server{
		cfg:         cfg,
		logger:      l,
		app:         app,
		db:          db,
		interceptor: sig,
	}
}

// RunUntilShutdown runs the bridge daemon until a signal is received to shut
// down the process.
func (s *Server) RunUntilShutdown() error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}

	promAddr, err := s.cfg.Metrics.Address()
	if err != nil {
		return fmt.Errorf("failed to get prometheus address: %w", err)
	}
	metricsServer, err := metrics.Start(promAddr, s.logger)
	if err != nil {
		return fmt.Errorf("failed to start the metrics server: %w", err)
	}

	defer func() {
		s.logger.Info("Shutdown complete")
	}()

	defer func() {
		s.logger.Info("Closing database...")
		if err := s.db.Close(); err != nil {
			s.logger.Error("failed to close the database", zap.Error(err))
		}
		s.logger.Info("Database closed")
		metricsServer.Stop(context.Background())
	}()

	if err := s.app.Start(); err != nil {
		return fmt.Errorf("failed to start the bridge app: %w", err)
	}
	defer func() {
		if err := s.app.Stop(); err != nil {
			s.logger.Error("failed to stop the bridge app", zap.Error(err))
		}
	}()

	servers := []*http.Server{NewRESTServer(s.cfg.APIListener, s.logger, s.app)}
	if att := s.app.Attestor(); att != nil {
		servers = append(servers, NewRESTServer(s.cfg.AttestorConfig.Listener, s.logger, att))
	}

	for _, srv := range servers {
		if err := s.serve(srv); err != nil {
			s.shutdown(servers)
			return err
		}
	}
	defer s.shutdown(servers)

	quit := make(chan struct{})
	defer close(quit)
	s.wg.Add(1)
	go s.updateLiveness(quit)

	s.logger.Info("Bridge Daemon is fully active!")

	// Wait for shutdown signal from either a graceful server stop or from
	// the interrupt handler.
	<-s.interceptor.ShutdownChannel()

	return nil
}

func (s *Server) serve(srv *http.Server) error {
	lis, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("API server listening", zap.String("address", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped unexpectedly", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) shutdown(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shut down API server", zap.String("address", srv.Addr), zap.Error(err))
		}
	}
	s.wg.Wait()
}

func (s *Server) updateLiveness(quit <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Metrics.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.app.metrics.UpdateValidatorLiveness()
		case <-quit:
			return
		}
	}
}
