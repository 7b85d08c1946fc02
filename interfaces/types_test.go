package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceIDValidate(t *testing.T) {
	valid := []DeviceID{"sensor-001", "GW-01.east:3", "a"}
	for _, id := range valid {
		assert.NoError(t, id.Validate(), string(id))
	}

	invalid := []DeviceID{"", "has space", "emojié", DeviceID(make([]byte, 129))}
	for _, id := range invalid {
		assert.ErrorIs(t, id.Validate(), ErrValidation, string(id))
	}
}

func TestModelIDValidate(t *testing.T) {
	assert.NoError(t, ModelID("thermo-v2").Validate())
	assert.ErrorIs(t, ModelID("").Validate(), ErrValidation)
	assert.ErrorIs(t, ModelID("not/allowed").Validate(), ErrValidation)
}

func TestNewGroupIDDeterministic(t *testing.T) {
	a := NewGroupID("thermo-v2")
	b := NewGroupID("thermo-v2")
	c := NewGroupID("thermo-v3")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^eg-[0-9a-f]{16}$`, a.String())
}
