// Package attestation implements the attestation source: the component that
// holds or fetches symmetric group master keys by opaque reference.
package attestation

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// MasterKeyLen is the length of derived group master keys in bytes.
const MasterKeyLen = 32

// SeededSource derives group master keys deterministically from a root seed.
// It keeps key derivation consistent across service restarts without storing
// any per-group material, which makes it suitable for development and for
// deployments where the root seed is supplied by the environment.
type SeededSource struct {
	rootSeed []byte

	mu      sync.Mutex
	revoked map[interfaces.AttestationRef]struct{}
}

// NewSeededSource creates a source with the provided root seed.
// The seed must be at least 32 bytes long.
func NewSeededSource(rootSeed []byte) (*SeededSource, error) {
	if len(rootSeed) < 32 {
		return nil, errors.New("root seed must be at least 32 bytes")
	}

	seed := make([]byte, len(rootSeed))
	copy(seed, rootSeed)
	return &SeededSource{
		rootSeed: seed,
		revoked:  make(map[interfaces.AttestationRef]struct{}),
	}, nil
}

// RefForModel returns the attestation reference for a model's group key.
// The reference is stable: it carries the derived group identifier, not any
// key material.
func (s *SeededSource) RefForModel(modelID interfaces.ModelID) interfaces.AttestationRef {
	return interfaces.AttestationRef("att-" + interfaces.NewGroupID(modelID).String())
}

// MasterKey derives the 32-byte group master key for a reference using
// HKDF-SHA256 keyed by the root seed, with the reference as info.
//
// Fails with interfaces.ErrGroupNotFound for revoked references.
func (s *SeededSource) MasterKey(ctx context.Context, ref interfaces.AttestationRef) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty attestation reference", interfaces.ErrGroupNotFound)
	}

	s.mu.Lock()
	_, gone := s.revoked[ref]
	s.mu.Unlock()
	if gone {
		return nil, fmt.Errorf("%w: reference %s revoked", interfaces.ErrGroupNotFound, ref)
	}

	key := make([]byte, MasterKeyLen)
	kdf := hkdf.New(sha256.New, s.rootSeed, nil, []byte(ref))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAttestationUnavailable, err)
	}
	return key, nil
}

// Revoke invalidates a reference. Subsequent MasterKey calls for it fail
// with interfaces.ErrGroupNotFound. Used when an enrollment group is deleted
// so stale handles cannot resolve.
func (s *SeededSource) Revoke(ref interfaces.AttestationRef) {
	s.mu.Lock()
	s.revoked[ref] = struct{}{}
	s.mu.Unlock()
}
