package keyderive

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestDeriveDeterministic(t *testing.T) {
	key := testMasterKey(t)
	deviceID := interfaces.DeviceID("sensor-001")

	first, err := Derive(key, deviceID)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Derive(key, deviceID)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDeriveDistinctDevices(t *testing.T) {
	key := testMasterKey(t)

	deviceIDs := []interfaces.DeviceID{
		"sensor-001", "sensor-002", "sensor-010", "gateway-1",
		"a", "A", "dev.1", "dev_1", "dev:1", "dev-1",
	}

	seen := make(map[string]interfaces.DeviceID)
	for _, id := range deviceIDs {
		derived, err := Derive(key, id)
		require.NoError(t, err)
		if prev, ok := seen[derived]; ok {
			t.Fatalf("derived key collision between %q and %q", prev, id)
		}
		seen[derived] = id
	}
}

func TestDeriveDistinctMasterKeys(t *testing.T) {
	deviceID := interfaces.DeviceID("sensor-001")

	first, err := Derive(testMasterKey(t), deviceID)
	require.NoError(t, err)
	second, err := Derive(testMasterKey(t), deviceID)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestDeriveOutputEncoding(t *testing.T) {
	derived, err := Derive(testMasterKey(t), "sensor-001")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(derived)
	require.NoError(t, err)
	assert.Len(t, raw, 32, "HMAC-SHA256 output")
}

func TestDeriveInvalidInputs(t *testing.T) {
	key := testMasterKey(t)

	tests := []struct {
		name      string
		masterKey []byte
		deviceID  interfaces.DeviceID
	}{
		{"empty master key", nil, "sensor-001"},
		{"short master key", key[:MinMasterKeyLen-1], "sensor-001"},
		{"empty device id", key, ""},
		{"device id with spaces", key, "sensor 001"},
		{"device id too long", key, interfaces.DeviceID(strings.Repeat("x", 129))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Derive(tt.masterKey, tt.deviceID)
			require.Error(t, err)
			assert.ErrorIs(t, err, interfaces.ErrDerivationInvalidInput)
		})
	}
}

func TestDeriveMinimumKeyLength(t *testing.T) {
	key := make([]byte, MinMasterKeyLen)
	_, err := Derive(key, "sensor-001")
	assert.NoError(t, err)
}
