package interfaces

import "context"

// AttestationSource supplies group master keys. It is an opaque external
// capability: given an attestation reference it returns the symmetric master
// key the reference names.
type AttestationSource interface {
	// RefForModel returns the attestation reference under which the master
	// key for the given model is (or will be) held.
	RefForModel(modelID ModelID) AttestationRef

	// MasterKey returns the group master key for a reference.
	//
	// Fails with ErrGroupNotFound if the reference is stale or deleted and
	// with ErrAttestationUnavailable if the source cannot be reached.
	MasterKey(ctx context.Context, ref AttestationRef) ([]byte, error)
}

// AttestationRevoker is implemented by attestation sources that can
// invalidate a reference. The group store revokes a group's reference once
// the group is deleted so MasterKey fails with ErrGroupNotFound afterwards.
type AttestationRevoker interface {
	Revoke(ref AttestationRef)
}

// ProvisioningBackend is the opaque remote registry the enrollment group
// store talks to. The wire format is the backend's concern; this contract
// only fixes the error semantics the store relies on.
type ProvisioningBackend interface {
	// CreateOrGetGroup registers an enrollment group with the backend and
	// returns the backend's identifier for it.
	//
	// Fails with ErrBackendConflict when the group already exists (callers
	// treat that as success) and ErrBackendUnavailable on timeout,
	// throttling or outage.
	CreateOrGetGroup(ctx context.Context, groupID GroupID, ref AttestationRef, desiredProperties map[string]any) (string, error)

	// DeleteGroup removes a group. Idempotent by contract: deleting an
	// absent group succeeds.
	DeleteGroup(ctx context.Context, groupID GroupID) error
}

// ModelStore looks up device model metadata. The relational repository
// behind it is an external collaborator used purely as a key/value lookup.
type ModelStore interface {
	// GetModel returns the model metadata. Fails with ErrModelNotFound.
	GetModel(ctx context.Context, modelID ModelID) (*DeviceModel, error)

	// ListModels enumerates all known models.
	ListModels(ctx context.Context) ([]*DeviceModel, error)
}

// UpsertResult reports what a device upsert did.
type UpsertResult struct {
	// Outcome is OutcomeCreated or OutcomeUpdated.
	Outcome Outcome

	// ModelChanged is true when an update moved the device to a different
	// model. The pipeline re-provisions credentials in that case.
	ModelChanged bool
}

// DeviceStore persists device entities keyed by device identifier.
type DeviceStore interface {
	// UpsertDevice creates the device if absent or updates it in place.
	UpsertDevice(ctx context.Context, device Device) (UpsertResult, error)

	// GetDevice returns a device. Fails with ErrDeviceNotFound.
	GetDevice(ctx context.Context, deviceID DeviceID) (*Device, error)

	// ListDevices enumerates all devices ordered by device identifier.
	ListDevices(ctx context.Context) ([]*Device, error)
}
