package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irctrakz/netbench/pkg/config"
	"github.com/irctrakz/netbench/pkg/facility"
	"github.com/irctrakz/netbench/pkg/logging"
)

// shutdownTimeout bounds the health endpoint shutdown.
const shutdownTimeout = 5 * time.Second

// Server runs one benchmark server on the host facility together with
// the metrics reporter and the health endpoint.
type Server struct {
	config    *config.Config
	fac       *facility.HostFacility
	collector *Collector
}

// NewServer creates the facility and collector for cfg.
func NewServer(cfg *config.Config) *Server {
	fac := facility.NewHostFacility(cfg.Stack)
	c := NewCollector(fac)
	c.Register("facility", func() map[string]uint64 { return fac.Metrics().Map() })
	return &Server{config: cfg, fac: fac, collector: c}
}

// Facility returns the socket facility the benchmark runs on.
func (s *Server) Facility() *facility.HostFacility { return s.fac }

// Collector returns the metrics collector.
func (s *Server) Collector() *Collector { return s.collector }

// Register adds benchmark counters to the reports.
func (s *Server) Register(name string, fn MetricsFunc) { s.collector.Register(name, fn) }

// Run starts the facility and calls serve until it returns or ctx is
// cancelled. Cancellation is a clean shutdown and returns nil.
func (s *Server) Run(ctx context.Context, serve func(ctx context.Context) error) error {
	if err := s.fac.Start(); err != nil {
		return fmt.Errorf("start facility: %w", err)
	}

	var health *HealthServer
	if s.config.Health.Listen != "" {
		health = NewHealthServer(s.config.Health.Listen, s.collector)
		if err := health.Start(); err != nil {
			s.fac.Stop()
			return fmt.Errorf("start health endpoint: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go RunReporter(runCtx, s.collector, s.config.Metrics.Interval, s.config.Metrics.Format)

	errCh := make(chan error, 1)
	go func() { errCh <- serve(runCtx) }()

	var err error
	select {
	case <-ctx.Done():
		logging.Infof("Shutting down")
		cancel()
		// Stop wakes the serve loop if it is parked in the facility.
		s.fac.Stop()
		err = <-errCh
	case err = <-errCh:
		s.fac.Stop()
	}

	if health != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		if herr := health.Shutdown(shutdownCtx); herr != nil {
			logging.Warnf("Health endpoint shutdown: %v", herr)
		}
		done()
	}
	DumpMetrics(s.collector, s.config.Metrics.Format)

	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	return err
}
