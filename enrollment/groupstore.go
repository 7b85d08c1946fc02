// Package enrollment manages the lifecycle of enrollment groups and composes
// them with the attestation source and key derivation into credential
// issuance.
package enrollment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
	"github.com/fleetcore/device-provisioning-backend/metrics"
)

// GroupStore manages one enrollment group per device model. It owns the
// local notion of "does a group already exist for model X", persisted as a
// mapping record in the storage backend, and enforces the single-group
// invariant within this service instance via a per-model lock. Across
// instances the backend's idempotent-create contract is the safety net: a
// conflict on create means another instance won the race and is treated as
// success.
type GroupStore struct {
	backend     interfaces.ProvisioningBackend
	attestation interfaces.AttestationSource
	mappings    interfaces.StorageBackend
	log         *slog.Logger

	mu    sync.Mutex
	locks map[interfaces.ModelID]*sync.Mutex
}

// NewGroupStore creates a group store.
//
// Parameters:
//   - backend: the external provisioning backend groups are registered with
//   - attestation: source of group master key references
//   - mappings: durable storage for model -> group mapping records
//   - log: structured logger
func NewGroupStore(backend interfaces.ProvisioningBackend, attestation interfaces.AttestationSource, mappings interfaces.StorageBackend, log *slog.Logger) *GroupStore {
	return &GroupStore{
		backend:     backend,
		attestation: attestation,
		mappings:    mappings,
		log:         log,
		locks:       make(map[interfaces.ModelID]*sync.Mutex),
	}
}

// lockFor returns the mutual-exclusion scope for one model. Locks are never
// removed from the map; the fleet's model count is small and bounded.
func (s *GroupStore) lockFor(modelID interfaces.ModelID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[modelID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[modelID] = lock
	}
	return lock
}

// GetOrCreate returns the enrollment group for a model, creating it on
// first use. Concurrent calls for the same model converge on exactly one
// group. The local mapping is committed only after the backend create
// succeeded (or reported the group already exists), so a failed create
// leaves no local record pointing at a missing remote group.
func (s *GroupStore) GetOrCreate(ctx context.Context, modelID interfaces.ModelID, modelName string, desiredProperties map[string]any) (*interfaces.EnrollmentGroup, error) {
	if err := modelID.Validate(); err != nil {
		return nil, err
	}

	lock := s.lockFor(modelID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.fetchMapping(ctx, modelID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, fmt.Errorf("reading group mapping for model %s: %w", modelID, err)
	}

	group := &interfaces.EnrollmentGroup{
		GroupID:           interfaces.NewGroupID(modelID),
		ModelID:           modelID,
		ModelName:         modelName,
		DesiredProperties: desiredProperties,
		AttestationRef:    s.attestation.RefForModel(modelID),
		CreatedAt:         time.Now().UTC(),
	}

	_, err = s.backend.CreateOrGetGroup(ctx, group.GroupID, group.AttestationRef, desiredProperties)
	switch {
	case err == nil:
		metrics.GroupsCreated.Inc()
		s.log.Info("Created enrollment group",
			slog.String("model_id", modelID.String()),
			slog.String("group_id", group.GroupID.String()))
	case errors.Is(err, interfaces.ErrBackendConflict):
		// Another instance created the group first. The group identifier
		// and attestation reference are deterministic, so the record we
		// built matches theirs.
		s.log.Debug("Enrollment group already exists in backend",
			slog.String("model_id", modelID.String()),
			slog.String("group_id", group.GroupID.String()))
	default:
		metrics.BackendErrors.Inc()
		return nil, fmt.Errorf("creating enrollment group for model %s: %w", modelID, err)
	}

	if err := s.storeMapping(ctx, group); err != nil {
		// Not committed locally; the backend create is idempotent, so the
		// caller can safely retry the whole operation.
		return nil, fmt.Errorf("persisting group mapping for model %s: %w", modelID, err)
	}
	return group, nil
}

// Get returns the enrollment group for a model without creating one.
// Fails with interfaces.ErrGroupNotFound when no mapping exists.
func (s *GroupStore) Get(ctx context.Context, modelID interfaces.ModelID) (*interfaces.EnrollmentGroup, error) {
	group, err := s.fetchMapping(ctx, modelID)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, fmt.Errorf("%w: model %s", interfaces.ErrGroupNotFound, modelID)
	}
	if err != nil {
		return nil, err
	}
	return group, nil
}

// Delete removes the model's enrollment group from the backend and the
// local mapping, and revokes the group's attestation reference so its
// master key stops resolving. Idempotent: deleting an absent group is a
// successful no-op.
func (s *GroupStore) Delete(ctx context.Context, modelID interfaces.ModelID) error {
	if err := modelID.Validate(); err != nil {
		return err
	}

	lock := s.lockFor(modelID)
	lock.Lock()
	defer lock.Unlock()

	// The local mapping goes first. If the backend delete then fails, no
	// mapping survives pointing at a half-deleted group, and a retry only
	// repeats idempotent operations.
	if err := s.mappings.Delete(ctx, mappingKey(modelID), interfaces.MappingType); err != nil {
		return fmt.Errorf("deleting group mapping for model %s: %w", modelID, err)
	}

	groupID := interfaces.NewGroupID(modelID)
	if err := s.backend.DeleteGroup(ctx, groupID); err != nil {
		metrics.BackendErrors.Inc()
		return fmt.Errorf("deleting enrollment group for model %s: %w", modelID, err)
	}

	if revoker, ok := s.attestation.(interfaces.AttestationRevoker); ok {
		revoker.Revoke(s.attestation.RefForModel(modelID))
	}

	s.log.Info("Deleted enrollment group",
		slog.String("model_id", modelID.String()),
		slog.String("group_id", groupID.String()))
	return nil
}

func (s *GroupStore) fetchMapping(ctx context.Context, modelID interfaces.ModelID) (*interfaces.EnrollmentGroup, error) {
	data, err := s.mappings.Fetch(ctx, mappingKey(modelID), interfaces.MappingType)
	if err != nil {
		return nil, err
	}

	var group interfaces.EnrollmentGroup
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("malformed group mapping for model %s: %w", modelID, err)
	}
	return &group, nil
}

func (s *GroupStore) storeMapping(ctx context.Context, group *interfaces.EnrollmentGroup) error {
	data, err := json.Marshal(group)
	if err != nil {
		return err
	}
	return s.mappings.Store(ctx, mappingKey(group.ModelID), interfaces.MappingType, data)
}

func mappingKey(modelID interfaces.ModelID) interfaces.ContentKey {
	return interfaces.ContentKey(modelID)
}
