package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// MetricsServer exposes /metrics over HTTP.
type MetricsServer struct {
	srv  *http.Server
	addr string
}

// NewMetricsServer serves handler at /metrics on addr.
func NewMetricsServer(addr string, handler http.Handler) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return &MetricsServer{
		srv:  &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr: addr,
	}
}

// Start binds the listener and serves in the background.
func (s *MetricsServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server stopped: %v", err)
		}
	}()
	logger.Infof("Serving Prometheus metrics on %s/metrics.", s.addr)
	return nil
}

// Addr returns the bound address once Start returned.
func (s *MetricsServer) Addr() string { return s.addr }

// Stop shuts the server down.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
