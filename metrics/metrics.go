// Package metrics exposes Prometheus metrics for the provisioning service
// and runs the dedicated metrics listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters shared by the provisioning components.
var (
	// CredentialsIssued counts successfully issued device credentials.
	CredentialsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_credentials_issued_total",
		Help: "Number of device credentials issued.",
	})

	// GroupsCreated counts enrollment groups created in the backend.
	GroupsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_enrollment_groups_created_total",
		Help: "Number of enrollment groups created.",
	})

	// BackendErrors counts failed provisioning backend calls.
	BackendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioning_backend_errors_total",
		Help: "Number of failed provisioning backend calls.",
	})

	// ImportRows counts processed import rows by outcome.
	ImportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioning_import_rows_total",
		Help: "Number of processed bulk import rows by outcome.",
	}, []string{"outcome"})
)

// MetricsServer serves the Prometheus scrape endpoint on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr. All metrics are
// registered globally via promauto.
func New(addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
