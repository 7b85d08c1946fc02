package httpserver

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetcore/device-provisioning-backend/api/handlers"
	"github.com/fleetcore/device-provisioning-backend/attestation"
	"github.com/fleetcore/device-provisioning-backend/devicestore"
	"github.com/fleetcore/device-provisioning-backend/enrollment"
	"github.com/fleetcore/device-provisioning-backend/onboarding"
	"github.com/fleetcore/device-provisioning-backend/registry"
	"github.com/fleetcore/device-provisioning-backend/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	source, err := attestation.NewSeededSource(bytes.Repeat([]byte{0x33}, 32))
	require.NoError(t, err)
	mappings, err := storage.NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)

	store := devicestore.NewMemoryStore()
	groups := enrollment.NewGroupStore(registry.NewInMemoryBackend(), source, mappings, log)
	issuer := enrollment.NewCredentialIssuer(store, groups, source, log)
	pipeline := onboarding.NewPipeline(store, store, issuer, groups, onboarding.ModelUnionSchema{Models: store}, 0, log)
	handler := handlers.NewHandler(issuer, pipeline, nil, log)

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      log,
		DrainDuration:            10 * time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, handler)
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	router := srv.getRouter()

	assert.Equal(t, http.StatusOK, get(t, router, "/livez").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/readyz").Code)
}

func TestDrainUndrainCycle(t *testing.T) {
	srv := newTestServer(t)
	router := srv.getRouter()

	assert.Equal(t, http.StatusOK, get(t, router, "/drain").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/readyz").Code)

	// Draining twice reports the current state without error.
	rec := get(t, router, "/drain")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already draining")

	assert.Equal(t, http.StatusOK, get(t, router, "/undrain").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/readyz").Code)
}

func TestAPIMountedOnRouter(t *testing.T) {
	srv := newTestServer(t)
	router := srv.getRouter()

	rec := get(t, router, "/api/devices/template")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
}
