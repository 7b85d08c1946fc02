// Package interfaces defines the core types and contracts of the device
// provisioning system. It provides the contract between components without
// implementation details.
package interfaces

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// DeviceID identifies a single physical device within the fleet.
type DeviceID string

var deviceIDRegex = regexp.MustCompile(`^[A-Za-z0-9\-._:]{1,128}$`)

// NewDeviceID creates a device identifier with validation.
func NewDeviceID(id string) (DeviceID, error) {
	d := DeviceID(id)
	if err := d.Validate(); err != nil {
		return "", err
	}
	return d, nil
}

// Validate checks identifier format constraints: 1-128 characters of
// alphanumerics, dash, dot, underscore and colon.
func (id DeviceID) Validate() error {
	if !deviceIDRegex.MatchString(string(id)) {
		return fmt.Errorf("%w: invalid device id %q", ErrValidation, string(id))
	}
	return nil
}

// String returns the identifier as a string.
func (id DeviceID) String() string {
	return string(id)
}

// ModelID identifies a device model (type) within the fleet.
type ModelID string

var modelIDRegex = regexp.MustCompile(`^[A-Za-z0-9\-._:]{1,64}$`)

// NewModelID creates a model identifier with validation.
func NewModelID(id string) (ModelID, error) {
	m := ModelID(id)
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

// Validate checks identifier format constraints: 1-64 characters of
// alphanumerics, dash, dot, underscore and colon.
func (id ModelID) Validate() error {
	if !modelIDRegex.MatchString(string(id)) {
		return fmt.Errorf("%w: invalid model id %q", ErrValidation, string(id))
	}
	return nil
}

// String returns the identifier as a string.
func (id ModelID) String() string {
	return string(id)
}

// GroupID identifies an enrollment group. It is derived deterministically
// from the owning model identifier so that the same model always maps to the
// same group, with no coordination required between service instances.
type GroupID string

// NewGroupID derives the enrollment group identifier for a model.
// The slug is "eg-" followed by the first 16 hex characters of the SHA-256
// hash of the model identifier.
func NewGroupID(modelID ModelID) GroupID {
	sum := sha256.Sum256([]byte(modelID))
	return GroupID("eg-" + hex.EncodeToString(sum[:8]))
}

// String returns the group identifier as a string.
func (id GroupID) String() string {
	return string(id)
}

// AttestationRef is an opaque handle into the attestation source. It names
// the group master key without carrying the key material itself.
type AttestationRef string

// String returns the reference as a string.
func (r AttestationRef) String() string {
	return string(r)
}

// EnrollmentGroup is the provisioning-backend entity scoped to one device
// model. At most one non-deleted group exists per model at any time; the
// invariant is enforced by the enrollment group store.
type EnrollmentGroup struct {
	GroupID   GroupID `json:"group_id"`
	ModelID   ModelID `json:"model_id"`
	ModelName string  `json:"model_name"`

	// DesiredProperties is the opaque configuration document pushed to
	// member devices on first connect.
	DesiredProperties map[string]any `json:"desired_properties,omitempty"`

	// AttestationRef is the handle to the group master key. The key
	// material is never part of this record.
	AttestationRef AttestationRef `json:"attestation_ref"`

	CreatedAt time.Time `json:"created_at"`
}

// DeviceCredentials are the connection credentials issued to one device.
// The derived key is a deterministic function of the group master key and
// the device identifier; it is computed on demand and never persisted.
type DeviceCredentials struct {
	DeviceID DeviceID `json:"device_id"`
	GroupID  GroupID  `json:"group_id"`

	// DerivedKey is the per-device symmetric secret, base64-encoded.
	// It must never be logged.
	DerivedKey string `json:"derived_key"`

	IssuedAt time.Time `json:"issued_at"`
}

// DeviceModel describes one device model: its display name and the declared
// tag and writable-property schemas that drive import/export column layout.
type DeviceModel struct {
	ID   ModelID `json:"model_id"`
	Name string  `json:"name"`

	// TagSchema lists the declared tag field names, in column order.
	TagSchema []string `json:"tag_schema,omitempty"`

	// PropertySchema lists the declared writable property field names,
	// in column order.
	PropertySchema []string `json:"property_schema,omitempty"`

	// DesiredProperties is the configuration document pushed to devices of
	// this model on first connect, via the model's enrollment group.
	DesiredProperties map[string]any `json:"desired_properties,omitempty"`
}

// Device is the registry entity for one physical device.
type Device struct {
	ID         DeviceID          `json:"device_id"`
	ModelID    ModelID           `json:"model_id"`
	Tags       map[string]string `json:"tags,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Outcome is the terminal state of one import row.
type Outcome string

const (
	// OutcomeCreated means the device entity was created and provisioned.
	OutcomeCreated Outcome = "Created"
	// OutcomeUpdated means an existing device entity was updated.
	OutcomeUpdated Outcome = "Updated"
	// OutcomeSkipped means the row was empty and carried no change.
	OutcomeSkipped Outcome = "Skipped"
	// OutcomeFailed means the row failed validation, upsert or provisioning.
	OutcomeFailed Outcome = "Failed"
)

// ImportRow is one record parsed from the import stream. It is transient:
// parsed, consumed and discarded.
type ImportRow struct {
	// Index is the one-based position of the row in the input, counting
	// data rows only.
	Index int

	DeviceID   DeviceID
	ModelID    ModelID
	Tags       map[string]string
	Properties map[string]string
}

// ImportResultLine reports the outcome for one import row. The pipeline
// emits exactly one line per row, in input order, so callers can reconcile
// row N of the file with line N of the report.
type ImportResultLine struct {
	RowIndex int      `json:"row_index"`
	DeviceID DeviceID `json:"device_id,omitempty"`
	Outcome  Outcome  `json:"outcome"`

	// ErrorDetail is present iff Outcome is Failed.
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Common sentinel errors shared across components. Implementations wrap
// these with context; callers match with errors.Is.
var (
	// ErrValidation marks row-level or argument-level validation failures.
	// Row-level validation failures never abort an import batch.
	ErrValidation = errors.New("validation failed")

	// ErrModelNotFound is returned when a referenced device model does not exist.
	ErrModelNotFound = errors.New("device model not found")

	// ErrDeviceNotFound is returned when a referenced device does not exist.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrGroupNotFound is returned when an enrollment group or its
	// attestation reference is absent or stale.
	ErrGroupNotFound = errors.New("enrollment group not found")

	// ErrAttestationUnavailable is returned when the attestation source
	// cannot supply the group master key. Retry policy belongs to the caller.
	ErrAttestationUnavailable = errors.New("attestation source unavailable")

	// ErrBackendConflict is returned by the provisioning backend when a
	// group already exists. Callers treat it as success and fetch the
	// existing group.
	ErrBackendConflict = errors.New("provisioning backend conflict")

	// ErrBackendUnavailable is returned on backend timeouts, throttling and
	// outages. It is retryable by the caller.
	ErrBackendUnavailable = errors.New("provisioning backend unavailable")

	// ErrDerivationInvalidInput marks malformed inputs to key derivation.
	// It indicates a programming or configuration bug and is surfaced as a
	// hard failure, never silently retried.
	ErrDerivationInvalidInput = errors.New("invalid key derivation input")
)
