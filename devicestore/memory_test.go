package devicestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

func TestMemoryStoreUpsertOutcomes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	device := interfaces.Device{
		ID:      "sensor-001",
		ModelID: "thermo-v2",
		Tags:    map[string]string{"site": "berlin"},
	}

	res, err := store.UpsertDevice(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, interfaces.OutcomeCreated, res.Outcome)
	assert.False(t, res.ModelChanged)

	device.Tags["site"] = "munich"
	res, err = store.UpsertDevice(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, interfaces.OutcomeUpdated, res.Outcome)
	assert.False(t, res.ModelChanged)

	device.ModelID = "thermo-v3"
	res, err = store.UpsertDevice(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, interfaces.OutcomeUpdated, res.Outcome)
	assert.True(t, res.ModelChanged)

	fetched, err := store.GetDevice(ctx, "sensor-001")
	require.NoError(t, err)
	assert.Equal(t, interfaces.ModelID("thermo-v3"), fetched.ModelID)
	assert.False(t, fetched.CreatedAt.IsZero())
	assert.True(t, fetched.UpdatedAt.After(fetched.CreatedAt) || fetched.UpdatedAt.Equal(fetched.CreatedAt))
}

func TestMemoryStoreUpsertRejectsInvalidID(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.UpsertDevice(context.Background(), interfaces.Device{ID: "", ModelID: "thermo-v2"})
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestMemoryStoreNotFoundSentinels(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetDevice(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrDeviceNotFound)

	_, err = store.GetModel(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrModelNotFound)
}

func TestMemoryStoreListOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []interfaces.DeviceID{"gw-02", "gw-01", "gw-03"} {
		_, err := store.UpsertDevice(ctx, interfaces.Device{ID: id, ModelID: "gateway-v1"})
		require.NoError(t, err)
	}

	devices, err := store.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, interfaces.DeviceID("gw-01"), devices[0].ID)
	assert.Equal(t, interfaces.DeviceID("gw-02"), devices[1].ID)
	assert.Equal(t, interfaces.DeviceID("gw-03"), devices[2].ID)
}
