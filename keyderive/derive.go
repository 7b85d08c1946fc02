// Package keyderive computes per-device symmetric keys from enrollment group
// master keys.
//
// Derivation is a keyed MAC: HMAC-SHA256 over the UTF-8 bytes of the device
// identifier, keyed by the group master key, base64-encoded. Knowledge of the
// group key plus the device identifier is sufficient to reconstruct the
// per-device key, so the server never stores per-device secrets: a device
// that lost its credentials re-derives identically.
package keyderive

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// MinMasterKeyLen is the minimum accepted group master key length in bytes.
const MinMasterKeyLen = 16

// Derive computes the base64-encoded device key for deviceID under
// masterKey. It is a pure function: same inputs, same output, safe for
// concurrent use.
//
// Fails with interfaces.ErrDerivationInvalidInput if the device identifier
// is empty or malformed, or the master key is shorter than MinMasterKeyLen.
func Derive(masterKey []byte, deviceID interfaces.DeviceID) (string, error) {
	raw, err := DeriveBytes(masterKey, deviceID)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DeriveBytes is Derive without the base64 encoding step.
func DeriveBytes(masterKey []byte, deviceID interfaces.DeviceID) ([]byte, error) {
	if len(masterKey) < MinMasterKeyLen {
		return nil, fmt.Errorf("%w: master key must be at least %d bytes, got %d",
			interfaces.ErrDerivationInvalidInput, MinMasterKeyLen, len(masterKey))
	}
	if err := deviceID.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDerivationInvalidInput, err)
	}

	mac := hmac.New(sha256.New, masterKey)
	mac.Write([]byte(deviceID))
	return mac.Sum(nil), nil
}
