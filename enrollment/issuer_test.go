package enrollment

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fleetcore/device-provisioning-backend/attestation"
	"github.com/fleetcore/device-provisioning-backend/devicestore"
	"github.com/fleetcore/device-provisioning-backend/interfaces"
	"github.com/fleetcore/device-provisioning-backend/keyderive"
	"github.com/fleetcore/device-provisioning-backend/registry"
	"github.com/fleetcore/device-provisioning-backend/storage"
)

func newTestIssuer(t *testing.T) (*CredentialIssuer, *devicestore.MemoryStore, *attestation.SeededSource) {
	t.Helper()

	source, err := attestation.NewSeededSource(bytes.Repeat([]byte{0x17}, 32))
	require.NoError(t, err)

	mappings, err := storage.NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	models := devicestore.NewMemoryStore()
	groups := NewGroupStore(registry.NewInMemoryBackend(), source, mappings, testLogger())
	return NewCredentialIssuer(models, groups, source, testLogger()), models, source
}

func TestIssueDerivesStableCredentials(t *testing.T) {
	issuer, models, source := newTestIssuer(t)
	models.AddModel(interfaces.DeviceModel{ID: "thermo-v2", Name: "Thermostat v2"})
	ctx := context.Background()

	creds, err := issuer.Issue(ctx, "sensor-001", "thermo-v2")
	require.NoError(t, err)
	assert.Equal(t, interfaces.DeviceID("sensor-001"), creds.DeviceID)
	assert.Equal(t, interfaces.NewGroupID("thermo-v2"), creds.GroupID)
	assert.NotEmpty(t, creds.DerivedKey)
	assert.False(t, creds.IssuedAt.IsZero())

	// Reissuing yields the same key: derivation is a pure function of the
	// group master key and the device identifier.
	again, err := issuer.Issue(ctx, "sensor-001", "thermo-v2")
	require.NoError(t, err)
	assert.Equal(t, creds.DerivedKey, again.DerivedKey)

	// And it matches a derivation done independently of the issuer.
	masterKey, err := source.MasterKey(ctx, source.RefForModel("thermo-v2"))
	require.NoError(t, err)
	expected, err := keyderive.Derive(masterKey, "sensor-001")
	require.NoError(t, err)
	assert.Equal(t, expected, creds.DerivedKey)
}

func TestIssueDistinctDevicesGetDistinctKeys(t *testing.T) {
	issuer, models, _ := newTestIssuer(t)
	models.AddModel(interfaces.DeviceModel{ID: "thermo-v2", Name: "Thermostat v2"})
	ctx := context.Background()

	a, err := issuer.Issue(ctx, "sensor-001", "thermo-v2")
	require.NoError(t, err)
	b, err := issuer.Issue(ctx, "sensor-002", "thermo-v2")
	require.NoError(t, err)

	assert.Equal(t, a.GroupID, b.GroupID)
	assert.NotEqual(t, a.DerivedKey, b.DerivedKey)
}

func TestIssueUnknownModel(t *testing.T) {
	issuer, _, _ := newTestIssuer(t)

	_, err := issuer.Issue(context.Background(), "sensor-001", "no-such-model")
	assert.ErrorIs(t, err, interfaces.ErrModelNotFound)
}

func TestIssueInvalidDeviceID(t *testing.T) {
	issuer, models, _ := newTestIssuer(t)
	models.AddModel(interfaces.DeviceModel{ID: "thermo-v2", Name: "Thermostat v2"})

	_, err := issuer.Issue(context.Background(), "bad id with spaces", "thermo-v2")
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestIssueAttestationServiceDown(t *testing.T) {
	mappings, err := storage.NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	source := new(registry.MockAttestationSource)
	ref := interfaces.AttestationRef("att-" + interfaces.NewGroupID("thermo-v2").String())
	source.On("RefForModel", interfaces.ModelID("thermo-v2")).Return(ref)
	source.On("MasterKey", mock.Anything, ref).Return(nil, interfaces.ErrAttestationUnavailable)

	models := devicestore.NewMemoryStore()
	models.AddModel(interfaces.DeviceModel{ID: "thermo-v2", Name: "Thermostat v2"})
	groups := NewGroupStore(registry.NewInMemoryBackend(), source, mappings, testLogger())
	issuer := NewCredentialIssuer(models, groups, source, testLogger())

	_, err = issuer.Issue(context.Background(), "sensor-001", "thermo-v2")
	assert.ErrorIs(t, err, interfaces.ErrAttestationUnavailable)
	source.AssertExpectations(t)
}

func TestIssueAttestationUnavailable(t *testing.T) {
	issuer, models, source := newTestIssuer(t)
	models.AddModel(interfaces.DeviceModel{ID: "thermo-v2", Name: "Thermostat v2"})
	ctx := context.Background()

	// First issue provisions the group, then the key material is revoked.
	_, err := issuer.Issue(ctx, "sensor-001", "thermo-v2")
	require.NoError(t, err)
	source.Revoke(source.RefForModel("thermo-v2"))

	_, err = issuer.Issue(ctx, "sensor-002", "thermo-v2")
	assert.ErrorIs(t, err, interfaces.ErrGroupNotFound)
}
