// Package interfaces defines the types and contracts shared by the device
// provisioning components.
//
// The onboarding core is a composition of small collaborators:
//
//   - AttestationSource: supplies symmetric group master keys by reference.
//   - ProvisioningBackend: the opaque remote registry groups are created in.
//   - ModelStore / DeviceStore: key/value lookups for models and devices.
//   - StorageBackend: durable keyed blobs (group mappings, model thumbnails).
//
// Error handling follows a small taxonomy of sentinel errors defined here
// (ErrValidation, ErrModelNotFound, ErrBackendConflict, ...). Components wrap
// them with context and callers match with errors.Is. Row-level errors are
// converted to report lines at the pipeline boundary and never abort a batch;
// backend errors during single-credential issuance propagate typed to the
// immediate caller.
//
// Key material discipline: DeviceCredentials.DerivedKey and group master keys
// are computed on demand, returned once to the caller, and never logged or
// persisted. EnrollmentGroup records carry only an AttestationRef handle.
package interfaces
