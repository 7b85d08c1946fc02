// Package imagecache stores device-model thumbnail images in a storage
// backend and serves them with content-hash ETags so clients can
// revalidate cheaply.
package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// MaxImageSize bounds accepted thumbnail uploads.
const MaxImageSize = 4 << 20

// Image is a stored thumbnail together with its strong ETag.
type Image struct {
	Data []byte
	ETag string
}

// Cache reads and writes model thumbnails. ETags are kept in memory and
// recomputed on demand after a restart.
type Cache struct {
	backend interfaces.StorageBackend
	log     *slog.Logger

	mu    sync.RWMutex
	etags map[interfaces.ModelID]string
}

// New creates a cache on top of the given storage backend.
func New(backend interfaces.StorageBackend, log *slog.Logger) *Cache {
	return &Cache{
		backend: backend,
		log:     log,
		etags:   make(map[interfaces.ModelID]string),
	}
}

// Get returns the model's thumbnail. Fails with
// interfaces.ErrContentNotFound when no image was stored.
func (c *Cache) Get(ctx context.Context, modelID interfaces.ModelID) (Image, error) {
	if err := modelID.Validate(); err != nil {
		return Image{}, err
	}

	data, err := c.backend.Fetch(ctx, imageKey(modelID), interfaces.ImageType)
	if err != nil {
		return Image{}, err
	}

	etag := c.cachedETag(modelID)
	if etag == "" {
		etag = computeETag(data)
		c.storeETag(modelID, etag)
	}
	return Image{Data: data, ETag: etag}, nil
}

// ETag returns the model's current image ETag without fetching the blob,
// or empty when unknown. Used for cheap If-None-Match checks.
func (c *Cache) ETag(modelID interfaces.ModelID) string {
	return c.cachedETag(modelID)
}

// Put stores the model's thumbnail and returns its ETag.
func (c *Cache) Put(ctx context.Context, modelID interfaces.ModelID, data []byte) (string, error) {
	if err := modelID.Validate(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", interfaces.ErrValidation)
	}
	if len(data) > MaxImageSize {
		return "", fmt.Errorf("%w: image exceeds %d bytes", interfaces.ErrValidation, MaxImageSize)
	}

	if err := c.backend.Store(ctx, imageKey(modelID), interfaces.ImageType, data); err != nil {
		return "", fmt.Errorf("storing image for model %s: %w", modelID, err)
	}

	etag := computeETag(data)
	c.storeETag(modelID, etag)
	c.log.Debug("Stored model image",
		slog.String("model_id", modelID.String()),
		slog.Int("bytes", len(data)))
	return etag, nil
}

// Delete removes the model's thumbnail. Idempotent.
func (c *Cache) Delete(ctx context.Context, modelID interfaces.ModelID) error {
	if err := modelID.Validate(); err != nil {
		return err
	}
	if err := c.backend.Delete(ctx, imageKey(modelID), interfaces.ImageType); err != nil {
		return fmt.Errorf("deleting image for model %s: %w", modelID, err)
	}

	c.mu.Lock()
	delete(c.etags, modelID)
	c.mu.Unlock()
	return nil
}

func (c *Cache) cachedETag(modelID interfaces.ModelID) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.etags[modelID]
}

func (c *Cache) storeETag(modelID interfaces.ModelID, etag string) {
	c.mu.Lock()
	c.etags[modelID] = etag
	c.mu.Unlock()
}

func computeETag(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func imageKey(modelID interfaces.ModelID) interfaces.ContentKey {
	return interfaces.ContentKey(modelID)
}
