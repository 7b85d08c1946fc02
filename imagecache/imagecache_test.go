package imagecache

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
	"github.com/fleetcore/device-provisioning-backend/storage"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := storage.NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)
	return New(backend, log)
}

func TestCachePutGet(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	etag, err := cache.Put(ctx, "thermo-v2", []byte("png-bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, etag)

	image, err := cache.Get(ctx, "thermo-v2")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), image.Data)
	assert.Equal(t, etag, image.ETag)
	assert.Equal(t, etag, cache.ETag("thermo-v2"))
}

func TestCacheETagChangesWithContent(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	first, err := cache.Put(ctx, "thermo-v2", []byte("one"))
	require.NoError(t, err)
	second, err := cache.Put(ctx, "thermo-v2", []byte("two"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCacheMissingImage(t *testing.T) {
	cache := newTestCache(t)

	_, err := cache.Get(context.Background(), "thermo-v2")
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestCacheRejectsEmptyImage(t *testing.T) {
	cache := newTestCache(t)

	_, err := cache.Put(context.Background(), "thermo-v2", nil)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestCacheDeleteIdempotent(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Put(ctx, "thermo-v2", []byte("png-bytes"))
	require.NoError(t, err)

	require.NoError(t, cache.Delete(ctx, "thermo-v2"))
	_, err = cache.Get(ctx, "thermo-v2")
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
	assert.Empty(t, cache.ETag("thermo-v2"))

	assert.NoError(t, cache.Delete(ctx, "thermo-v2"))
}
