package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/irctrakz/netbench/pkg/core"
	"github.com/irctrakz/netbench/pkg/logging"
	"github.com/sirupsen/logrus"
)

// HealthServer serves /health and /metrics over HTTP.
type HealthServer struct {
	addr      string
	collector *Collector
	srv       *http.Server
	ln        net.Listener
	log       *logrus.Entry
}

// NewHealthServer creates a server for addr. Start must be called to
// begin serving.
func NewHealthServer(addr string, c *Collector) *HealthServer {
	h := &HealthServer{
		addr:      addr,
		collector: c,
		log:       logging.WithComponent("health"),
	}
	h.srv = &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h
}

// Handler returns the HTTP routes.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/metrics", h.handleMetrics)
	return mux
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.collector.Status()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if status != core.StatusRunning {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(status.String()))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *HealthServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.collector.Snapshot()); err != nil {
		h.log.Warnf("Encoding metrics failed: %v", err)
	}
}

// Start listens on the configured address and serves in the background.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.ln = ln
	h.log.Infof("Health endpoint listening on %s", ln.Addr())
	go func() {
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Errorf("Health endpoint failed: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (h *HealthServer) Addr() string {
	if h.ln != nil {
		return h.ln.Addr().String()
	}
	return h.addr
}

// Shutdown stops the server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
