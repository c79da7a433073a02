// Package observability holds the pipeline's Prometheus metrics and the
// optional HTTP endpoint exposing them.
package observability

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

//nolint:gochecknoglobals // Singleton pattern for metrics server
var (
	metricsServer *http.Server
	startOnce     sync.Once
)

// StartMetricsServer exposes the Prometheus registry over HTTP on addr. The
// server is a process singleton: calls after the first are no-ops. Serve
// failures are logged rather than returned since assembly keeps running
// without the endpoint.
func StartMetricsServer(log logrus.FieldLogger, addr string) {
	startOnce.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer = &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 15 * time.Second,
			Handler:           mux,
		}

		go func() {
			log.WithField("addr", addr).Info("Serving metrics")

			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server stopped")
			}
		}()
	})
}
