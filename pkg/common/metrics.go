package common

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/pushwatch/pkg/common/logger"
)

// NewMetricsHandler serves the default Prometheus registry on /metrics.
func NewMetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// RunMetricsServer serves process metrics on addr until ctx is canceled.
func RunMetricsServer(ctx context.Context, addr string, log *logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "Error shutting down metrics server", "error", err)
		}
	}()

	log.Info(ctx, "Metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
