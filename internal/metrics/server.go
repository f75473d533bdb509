package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rbx/ODC/internal/logger"
	"github.com/rbx/ODC/types"
)

// PrometheusServer exposes a PrometheusCollector's registered metrics over
// HTTP. Grounded on the teacher's test/simulation/internal/metrics
// PrometheusServer (mux with /metrics and /health, graceful Shutdown), with
// its system-metrics ticker dropped since nothing in this domain's
// MetricsCollector surface reports goroutine/memory stats.
type PrometheusServer struct {
	addr   string
	log    types.Logger
	server *http.Server
}

// NewPrometheusServer builds a server that will listen on addr once Start
// runs. log defaults to a no-op logger if nil.
func NewPrometheusServer(addr string, log types.Logger) *PrometheusServer {
	if log == nil {
		log = logger.NewNop()
	}
	return &PrometheusServer{addr: addr, log: log}
}

// Start serves /metrics until ctx is canceled, then shuts down gracefully.
func (s *PrometheusServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("starting prometheus metrics server", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *PrometheusServer) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
