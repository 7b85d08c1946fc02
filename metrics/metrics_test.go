package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(CredentialsIssued)
	CredentialsIssued.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(CredentialsIssued))

	before = testutil.ToFloat64(ImportRows.WithLabelValues("Created"))
	ImportRows.WithLabelValues("Created").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ImportRows.WithLabelValues("Created")))
}

func TestNewMetricsServer(t *testing.T) {
	srv, err := New("127.0.0.1:0")
	require.NoError(t, err)
	assert.NotNil(t, srv)
}
