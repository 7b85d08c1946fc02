package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// Factory creates storage backends from URI strings and aggregates
// multi-backend configurations for redundant storage.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a backend factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// StorageBackendFor creates a storage backend from a location URI.
//
// Supported schemes:
//   - file:///path - local filesystem storage
//   - s3://bucket/prefix?region=...&endpoint=...&access_key=...&secret_key=... - S3 or compatible
//   - vault://host:port/mount/path?token=... - HashiCorp Vault KV v2
//
// Returns interfaces.ErrInvalidLocationURI for malformed or unsupported URIs.
func (f *Factory) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	u, err := url.Parse(string(location))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return f.createFileBackend(u)
	case "s3":
		return f.createS3Backend(u)
	case "vault":
		return f.createVaultBackend(u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// CreateMultiBackend creates a redundant multi-backend from a list of
// location URIs. Invalid locations are skipped with a warning; at least one
// backend must be created.
func (f *Factory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locations))
	for _, location := range locations {
		backend, err := f.StorageBackendFor(location)
		if err != nil {
			f.log.Warn("Failed to create storage backend",
				slog.String("location", string(location)),
				"err", err)
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no valid storage backends created", interfaces.ErrInvalidLocationURI)
	}
	return NewMultiBackend(backends, f.log), nil
}

func (f *Factory) createFileBackend(u *url.URL) (interfaces.StorageBackend, error) {
	baseDir := u.Path
	if u.Host != "" {
		// Relative form like file://data/provisioning.
		baseDir = u.Host + u.Path
	}
	if baseDir == "" {
		return nil, fmt.Errorf("%w: file URI has no path", interfaces.ErrInvalidLocationURI)
	}
	return NewFileBackend(baseDir, f.log)
}

func (f *Factory) createS3Backend(u *url.URL) (interfaces.StorageBackend, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: s3 URI has no bucket", interfaces.ErrInvalidLocationURI)
	}

	q := u.Query()
	region := q.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	accessKey := q.Get("access_key")
	secretKey := q.Get("secret_key")
	if u.User != nil {
		accessKey = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			secretKey = pw
		}
	}

	prefix := strings.TrimPrefix(u.Path, "/")
	return NewS3Backend(u.Host, prefix, region, q.Get("endpoint"), accessKey, secretKey, f.log)
}

func (f *Factory) createVaultBackend(u *url.URL) (interfaces.StorageBackend, error) {
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if u.Host == "" || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: vault URI must be vault://host:port/mount/path", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	return NewVaultBackend(address, parts[0], parts[1], u.Query().Get("token"), f.log)
}
