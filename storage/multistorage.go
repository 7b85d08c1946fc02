package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// MultiBackend aggregates several storage backends for redundancy: stores
// and deletes go to every available backend, fetches return the first hit.
type MultiBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// NewMultiBackend creates a multi-storage backend over the given backends.
func NewMultiBackend(backends []interfaces.StorageBackend, log *slog.Logger) *MultiBackend {
	if log == nil {
		log = slog.Default()
	}
	return &MultiBackend{backends: backends, log: log}
}

// Fetch returns the blob from the first backend that has it. It returns
// interfaces.ErrContentNotFound only when every backend misses.
func (m *MultiBackend) Fetch(ctx context.Context, key interfaces.ContentKey, contentType interfaces.ContentType) ([]byte, error) {
	var errs []error
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable, skipping fetch",
				slog.String("backend", backend.Name()),
				slog.String("key", key.String()))
			continue
		}

		data, err := backend.Fetch(ctx, key, contentType)
		if err == nil {
			return data, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	for _, err := range errs {
		// Only a clean miss everywhere maps to not-found; any other
		// failure is reported as such so callers do not recreate state
		// that may still exist.
		if !errorsIsNotFound(err) {
			return nil, fmt.Errorf("fetch %s/%s: %v", contentType, key, errs)
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", interfaces.ErrContentNotFound, contentType, key)
}

// Store writes the blob to every available backend. It succeeds when at
// least one backend accepted the write.
func (m *MultiBackend) Store(ctx context.Context, key interfaces.ContentKey, contentType interfaces.ContentType, data []byte) error {
	var stored int
	var errs []error
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			continue
		}
		if err := backend.Store(ctx, key, contentType, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store content in backend",
				slog.String("backend", backend.Name()),
				slog.String("key", key.String()),
				"err", err)
			continue
		}
		stored++
	}

	if stored == 0 {
		return fmt.Errorf("%w: no backend accepted %s/%s: %v",
			interfaces.ErrStorageUnavailable, contentType, key, errs)
	}
	return nil
}

// Delete removes the blob from every backend. It fails if any backend
// reported an error, since a partial delete leaves a stale mapping.
func (m *MultiBackend) Delete(ctx context.Context, key interfaces.ContentKey, contentType interfaces.ContentType) error {
	var errs []error
	for _, backend := range m.backends {
		if err := backend.Delete(ctx, key, contentType); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("delete %s/%s: %v", contentType, key, errs)
	}
	return nil
}

// Available reports whether at least one underlying backend is available.
func (m *MultiBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns a composite identifier listing the underlying backends.
func (m *MultiBackend) Name() string {
	names := make([]string, len(m.backends))
	for i, backend := range m.backends {
		names[i] = backend.Name()
	}
	return "multi[" + strings.Join(names, ",") + "]"
}

// LocationURI returns the comma-joined URIs of the underlying backends.
func (m *MultiBackend) LocationURI() string {
	uris := make([]string, len(m.backends))
	for i, backend := range m.backends {
		uris[i] = backend.LocationURI()
	}
	return strings.Join(uris, ",")
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrContentNotFound)
}
