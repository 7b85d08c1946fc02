package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
	"github.com/fleetcore/device-provisioning-backend/keyderive"
	"github.com/fleetcore/device-provisioning-backend/metrics"
)

// CredentialIssuer answers "give me usable connection credentials for device
// D of model M", creating the model's enrollment group on first use.
//
// The derived key is returned to the caller exactly once and is never
// logged or persisted.
type CredentialIssuer struct {
	models      interfaces.ModelStore
	groups      *GroupStore
	attestation interfaces.AttestationSource
	log         *slog.Logger
}

// NewCredentialIssuer creates a credential issuer.
func NewCredentialIssuer(models interfaces.ModelStore, groups *GroupStore, attestation interfaces.AttestationSource, log *slog.Logger) *CredentialIssuer {
	return &CredentialIssuer{
		models:      models,
		groups:      groups,
		attestation: attestation,
		log:         log,
	}
}

// Issue resolves the device's enrollment group, obtains the group master
// key and derives the device credentials.
//
// Error conditions, all typed for the caller:
//   - interfaces.ErrModelNotFound: the model does not exist
//   - interfaces.ErrAttestationUnavailable: master key cannot be supplied;
//     propagated, not retried — retry policy belongs to the caller
//   - interfaces.ErrBackendUnavailable: group creation failed
//   - interfaces.ErrDerivationInvalidInput: derivation rejected its inputs,
//     which indicates a configuration bug and is surfaced as a hard failure
func (i *CredentialIssuer) Issue(ctx context.Context, deviceID interfaces.DeviceID, modelID interfaces.ModelID) (interfaces.DeviceCredentials, error) {
	if err := deviceID.Validate(); err != nil {
		return interfaces.DeviceCredentials{}, err
	}

	model, err := i.models.GetModel(ctx, modelID)
	if err != nil {
		return interfaces.DeviceCredentials{}, err
	}

	group, err := i.groups.GetOrCreate(ctx, modelID, model.Name, model.DesiredProperties)
	if err != nil {
		return interfaces.DeviceCredentials{}, err
	}

	masterKey, err := i.attestation.MasterKey(ctx, group.AttestationRef)
	if err != nil {
		if errors.Is(err, interfaces.ErrGroupNotFound) || errors.Is(err, interfaces.ErrAttestationUnavailable) {
			return interfaces.DeviceCredentials{}, err
		}
		return interfaces.DeviceCredentials{}, fmt.Errorf("%w: %v", interfaces.ErrAttestationUnavailable, err)
	}

	derivedKey, err := keyderive.Derive(masterKey, deviceID)
	if err != nil {
		return interfaces.DeviceCredentials{}, fmt.Errorf("credential derivation for device %s: %w", deviceID, err)
	}

	metrics.CredentialsIssued.Inc()
	i.log.Debug("Issued device credentials",
		slog.String("device_id", deviceID.String()),
		slog.String("group_id", group.GroupID.String()))

	return interfaces.DeviceCredentials{
		DeviceID:   deviceID,
		GroupID:    group.GroupID,
		DerivedKey: derivedKey,
		IssuedAt:   time.Now().UTC(),
	}, nil
}
