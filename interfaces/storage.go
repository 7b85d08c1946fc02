package interfaces

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ContentKey names a stored object within a content type namespace, for
// example the model identifier owning an enrollment group mapping.
type ContentKey string

var contentKeyRegex = regexp.MustCompile(`^[A-Za-z0-9\-._:]{1,128}$`)

// Validate checks the key is safe to use as a path segment in any backend.
func (k ContentKey) Validate() error {
	if !contentKeyRegex.MatchString(string(k)) {
		return fmt.Errorf("%w: invalid content key %q", ErrValidation, string(k))
	}
	return nil
}

// String returns the key as a string.
func (k ContentKey) String() string {
	return string(k)
}

// ContentType indicates the storage namespace.
type ContentType int

const (
	// MappingType for durable enrollment group records (model -> group).
	MappingType ContentType = iota
	// ImageType for device model thumbnail blobs.
	ImageType
)

// String returns the namespace name.
func (ct ContentType) String() string {
	switch ct {
	case MappingType:
		return "mapping"
	case ImageType:
		return "image"
	default:
		return "unknown"
	}
}

// StorageBackendLocation is a URI describing one storage backend, e.g.
// file:///var/lib/provisioning, s3://bucket/prefix?region=us-east-1 or
// vault://addr/mount/path.
type StorageBackendLocation string

// StorageBackend stores small keyed blobs: enrollment group mappings and
// model thumbnails. Implementations must be safe for concurrent use.
type StorageBackend interface {
	// Fetch retrieves the blob stored under key. Fails with
	// ErrContentNotFound when the key is absent.
	Fetch(ctx context.Context, key ContentKey, contentType ContentType) ([]byte, error)

	// Store writes the blob under key, replacing any previous value.
	Store(ctx context.Context, key ContentKey, contentType ContentType, data []byte) error

	// Delete removes the blob under key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key ContentKey, contentType ContentType) error

	// Available reports whether the backend can currently serve requests.
	Available(ctx context.Context) bool

	// Name returns a short unique identifier for logs and metrics.
	Name() string

	// LocationURI returns the URI this backend was created from.
	LocationURI() string
}

// StorageBackendFactory creates storage backends from location URIs.
type StorageBackendFactory interface {
	// StorageBackendFor creates a single backend from a location URI.
	StorageBackendFor(location StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend aggregates several locations into one redundant
	// backend that writes everywhere and reads from the first hit.
	CreateMultiBackend(locations []StorageBackendLocation) (StorageBackend, error)
}

// Storage sentinel errors.
var (
	// ErrContentNotFound is returned when a key is absent from a backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrStorageUnavailable is returned when a backend cannot serve requests.
	ErrStorageUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned for malformed or unsupported
	// storage location URIs.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)
