// Package storage provides keyed blob storage for the provisioning service:
// durable enrollment group mappings and device model thumbnails. Backends are
// created from location URIs by the factory and can be aggregated into a
// redundant multi-backend.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// FileBackend implements a storage backend on the local file system.
// Blobs are stored in a directory per content type, one file per key.
type FileBackend struct {
	baseDir     string
	prefixes    map[interfaces.ContentType]string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file storage backend rooted at baseDir, creating
// the per-type subdirectories if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	prefixes := map[interfaces.ContentType]string{
		interfaces.MappingType: "mappings",
		interfaces.ImageType:   "images",
	}

	for _, subdir := range prefixes {
		if err := os.MkdirAll(filepath.Join(baseDir, subdir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", subdir, err)
		}
	}

	return &FileBackend{
		baseDir:     baseDir,
		prefixes:    prefixes,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch reads the blob stored under key. Returns
// interfaces.ErrContentNotFound if the file does not exist.
func (b *FileBackend) Fetch(ctx context.Context, key interfaces.ContentKey, contentType interfaces.ContentType) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	filePath := b.getFilePath(key, contentType)
	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s/%s", interfaces.ErrContentNotFound, contentType, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched content from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))
	return data, nil
}

// Store writes the blob under key, replacing any previous value.
func (b *FileBackend) Store(ctx context.Context, key interfaces.ContentKey, contentType interfaces.ContentType, data []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}

	filePath := b.getFilePath(key, contentType)
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	b.log.Debug("Stored content in file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))
	return nil
}

// Delete removes the blob under key. Deleting an absent key succeeds.
func (b *FileBackend) Delete(ctx context.Context, key interfaces.ContentKey, contentType interfaces.ContentType) error {
	if err := key.Validate(); err != nil {
		return err
	}

	err := os.Remove(b.getFilePath(key, contentType))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Available checks the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI this backend was created from.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) getFilePath(key interfaces.ContentKey, contentType interfaces.ContentType) string {
	return filepath.Join(b.baseDir, b.prefixes[contentType], key.String())
}
