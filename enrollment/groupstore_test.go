package enrollment

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fleetcore/device-provisioning-backend/attestation"
	"github.com/fleetcore/device-provisioning-backend/interfaces"
	"github.com/fleetcore/device-provisioning-backend/registry"
	"github.com/fleetcore/device-provisioning-backend/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestGroupStore(t *testing.T, backend interfaces.ProvisioningBackend) (*GroupStore, *attestation.SeededSource) {
	t.Helper()

	source, err := attestation.NewSeededSource(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	mappings, err := storage.NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)

	return NewGroupStore(backend, source, mappings, testLogger()), source
}

func TestGroupStoreGetOrCreateIsDeterministic(t *testing.T) {
	backend := registry.NewInMemoryBackend()
	store, _ := newTestGroupStore(t, backend)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "thermo-v2", "Thermostat v2", map[string]any{"fw": "1.4"})
	require.NoError(t, err)
	assert.Equal(t, interfaces.NewGroupID("thermo-v2"), first.GroupID)
	assert.Equal(t, interfaces.AttestationRef("att-"+first.GroupID.String()), first.AttestationRef)

	second, err := store.GetOrCreate(ctx, "thermo-v2", "Thermostat v2", nil)
	require.NoError(t, err)
	assert.Equal(t, first.GroupID, second.GroupID)
	assert.Equal(t, 1, backend.CreateCalls, "second call must hit the cached mapping")
}

func TestGroupStoreConcurrentCreateSingleGroup(t *testing.T) {
	backend := registry.NewInMemoryBackend()
	store, _ := newTestGroupStore(t, backend)
	ctx := context.Background()

	const callers = 16
	groupIDs := make([]interfaces.GroupID, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			group, err := store.GetOrCreate(ctx, "gateway-v1", "Gateway v1", nil)
			if err != nil {
				errs[i] = err
				return
			}
			groupIDs[i] = group.GroupID
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}

	assert.Equal(t, 1, backend.GroupCount(), "exactly one group must exist")
	assert.Equal(t, 1, backend.CreateCalls, "only one caller may reach the backend")
	for i := 1; i < callers; i++ {
		assert.Equal(t, groupIDs[0], groupIDs[i], "all callers must observe the same group")
	}
}

func TestGroupStoreConflictTreatedAsSuccess(t *testing.T) {
	backend := registry.NewInMemoryBackend()
	store, _ := newTestGroupStore(t, backend)
	ctx := context.Background()

	// Simulate another instance having won the create race.
	groupID := interfaces.NewGroupID("thermo-v2")
	_, err := backend.CreateOrGetGroup(ctx, groupID, "att-"+interfaces.AttestationRef(groupID), nil)
	require.NoError(t, err)

	group, err := store.GetOrCreate(ctx, "thermo-v2", "Thermostat v2", nil)
	require.NoError(t, err)
	assert.Equal(t, groupID, group.GroupID)
	assert.Equal(t, 1, backend.GroupCount())
}

func TestGroupStoreBackendFailureLeavesNoMapping(t *testing.T) {
	backend := &failingBackend{err: interfaces.ErrBackendUnavailable}
	store, _ := newTestGroupStore(t, backend)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "thermo-v2", "Thermostat v2", nil)
	require.ErrorIs(t, err, interfaces.ErrBackendUnavailable)

	_, err = store.Get(ctx, "thermo-v2")
	assert.ErrorIs(t, err, interfaces.ErrGroupNotFound, "no local mapping may survive a failed create")
}

func TestGroupStoreGetWithoutCreate(t *testing.T) {
	store, _ := newTestGroupStore(t, registry.NewInMemoryBackend())

	_, err := store.Get(context.Background(), "never-enrolled")
	assert.ErrorIs(t, err, interfaces.ErrGroupNotFound)
}

func TestGroupStoreDeleteIsIdempotent(t *testing.T) {
	backend := registry.NewInMemoryBackend()
	store, _ := newTestGroupStore(t, backend)
	ctx := context.Background()

	group, err := store.GetOrCreate(ctx, "thermo-v2", "Thermostat v2", nil)
	require.NoError(t, err)
	require.True(t, backend.HasGroup(group.GroupID))

	require.NoError(t, store.Delete(ctx, "thermo-v2"))
	assert.False(t, backend.HasGroup(group.GroupID))
	_, err = store.Get(ctx, "thermo-v2")
	assert.ErrorIs(t, err, interfaces.ErrGroupNotFound)

	// Deleting again must succeed without touching anything.
	assert.NoError(t, store.Delete(ctx, "thermo-v2"))
}

func TestGroupStoreDeleteRevokesAttestationReference(t *testing.T) {
	backend := registry.NewInMemoryBackend()
	store, source := newTestGroupStore(t, backend)
	ctx := context.Background()

	group, err := store.GetOrCreate(ctx, "thermo-v2", "Thermostat v2", nil)
	require.NoError(t, err)

	key, err := source.MasterKey(ctx, group.AttestationRef)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	require.NoError(t, store.Delete(ctx, "thermo-v2"))

	// The deleted group's reference must no longer resolve.
	_, err = source.MasterKey(ctx, group.AttestationRef)
	assert.ErrorIs(t, err, interfaces.ErrGroupNotFound)
}

func TestGroupStoreDeleteRetryAfterBackendFailure(t *testing.T) {
	backend := &flakyDeleteBackend{InMemoryBackend: registry.NewInMemoryBackend(), deleteFailures: 1}
	store, _ := newTestGroupStore(t, backend)
	ctx := context.Background()

	group, err := store.GetOrCreate(ctx, "thermo-v2", "Thermostat v2", nil)
	require.NoError(t, err)

	// First delete fails at the backend, after the mapping is gone. No
	// mapping may survive pointing at the half-deleted group.
	require.ErrorIs(t, store.Delete(ctx, "thermo-v2"), interfaces.ErrBackendUnavailable)
	_, err = store.Get(ctx, "thermo-v2")
	assert.ErrorIs(t, err, interfaces.ErrGroupNotFound)

	// Retrying repeats only idempotent operations and completes.
	require.NoError(t, store.Delete(ctx, "thermo-v2"))
	assert.False(t, backend.HasGroup(group.GroupID))
}

func TestGroupStoreDeleteBackendFailure(t *testing.T) {
	backend := new(registry.MockBackend)
	groupID := interfaces.NewGroupID("thermo-v2")
	backend.On("DeleteGroup", mock.Anything, groupID).Return(interfaces.ErrBackendUnavailable)

	store, _ := newTestGroupStore(t, backend)
	err := store.Delete(context.Background(), "thermo-v2")
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	backend.AssertExpectations(t)
}

func TestGroupStoreRejectsInvalidModelID(t *testing.T) {
	store, _ := newTestGroupStore(t, registry.NewInMemoryBackend())

	_, err := store.GetOrCreate(context.Background(), "", "nameless", nil)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

type flakyDeleteBackend struct {
	*registry.InMemoryBackend
	deleteFailures int
}

func (b *flakyDeleteBackend) DeleteGroup(ctx context.Context, groupID interfaces.GroupID) error {
	if b.deleteFailures > 0 {
		b.deleteFailures--
		return interfaces.ErrBackendUnavailable
	}
	return b.InMemoryBackend.DeleteGroup(ctx, groupID)
}

type failingBackend struct {
	err error
}

func (b *failingBackend) CreateOrGetGroup(ctx context.Context, groupID interfaces.GroupID, ref interfaces.AttestationRef, desiredProperties map[string]any) (string, error) {
	return "", b.err
}

func (b *failingBackend) DeleteGroup(ctx context.Context, groupID interfaces.GroupID) error {
	return b.err
}
