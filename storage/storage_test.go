package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileBackendRoundTrip(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	key := interfaces.ContentKey("thermostat-v2")
	data := []byte(`{"group_id":"eg-1234"}`)

	require.NoError(t, backend.Store(ctx, key, interfaces.MappingType, data))

	got, err := backend.Fetch(ctx, key, interfaces.MappingType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Namespaces are independent.
	_, err = backend.Fetch(ctx, key, interfaces.ImageType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestFileBackendFetchMissing(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	_, err = backend.Fetch(context.Background(), "absent", interfaces.MappingType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestFileBackendDeleteIdempotent(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	key := interfaces.ContentKey("thermostat-v2")
	require.NoError(t, backend.Store(ctx, key, interfaces.MappingType, []byte("x")))
	require.NoError(t, backend.Delete(ctx, key, interfaces.MappingType))
	require.NoError(t, backend.Delete(ctx, key, interfaces.MappingType))

	_, err = backend.Fetch(ctx, key, interfaces.MappingType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestFileBackendRejectsUnsafeKeys(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	err = backend.Store(context.Background(), "../escape", interfaces.MappingType, []byte("x"))
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestMultiBackendFallback(t *testing.T) {
	ctx := context.Background()
	first, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	second, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	multi := NewMultiBackend([]interfaces.StorageBackend{first, second}, testLogger())

	key := interfaces.ContentKey("valve-v1")
	data := []byte(`{"group_id":"eg-5678"}`)
	require.NoError(t, multi.Store(ctx, key, interfaces.MappingType, data))

	// Both backends got the write.
	got, err := first.Fetch(ctx, key, interfaces.MappingType)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	got, err = second.Fetch(ctx, key, interfaces.MappingType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// A miss in the first backend falls through to the second.
	require.NoError(t, first.Delete(ctx, key, interfaces.MappingType))
	got, err = multi.Fetch(ctx, key, interfaces.MappingType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Delete clears every backend.
	require.NoError(t, multi.Delete(ctx, key, interfaces.MappingType))
	_, err = multi.Fetch(ctx, key, interfaces.MappingType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestFactorySchemes(t *testing.T) {
	factory := NewFactory(testLogger())

	backend, err := factory.StorageBackendFor(interfaces.StorageBackendLocation("file://" + t.TempDir()))
	require.NoError(t, err)
	assert.True(t, backend.Available(context.Background()))

	_, err = factory.StorageBackendFor("ipfs://whatever")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.StorageBackendFor("vault://host:8200/onlymount")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestFactoryMultiBackendSkipsInvalid(t *testing.T) {
	factory := NewFactory(testLogger())

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
		interfaces.StorageBackendLocation("file://" + t.TempDir()),
		"bogus://nowhere",
	})
	require.NoError(t, err)
	assert.True(t, multi.Available(context.Background()))

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{"bogus://nowhere"})
	assert.Error(t, err)
}
