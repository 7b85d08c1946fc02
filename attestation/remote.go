package attestation

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// RemoteSource fetches group master keys from an external attestation
// service over HTTP. The service is expected to expose
// GET {address}/masterkey/{ref} returning the base64-encoded key.
type RemoteSource struct {
	// Address is the base URL of the attestation service.
	Address string

	// Timeout bounds every request. Zero means 10 seconds.
	Timeout time.Duration

	// Client overrides the HTTP client used for requests.
	Client *http.Client
}

// RefForModel returns the attestation reference for a model's group key.
func (s *RemoteSource) RefForModel(modelID interfaces.ModelID) interfaces.AttestationRef {
	return interfaces.AttestationRef("att-" + interfaces.NewGroupID(modelID).String())
}

// MasterKey fetches the master key for a reference from the remote service.
//
// A 404 maps to interfaces.ErrGroupNotFound (stale or deleted reference);
// transport errors and non-200 responses map to
// interfaces.ErrAttestationUnavailable.
func (s *RemoteSource) MasterKey(ctx context.Context, ref interfaces.AttestationRef) ([]byte, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/masterkey/%s", s.Address, url.PathEscape(ref.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAttestationUnavailable, err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: calling attestation service: %v", interfaces.ErrAttestationUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: reference %s", interfaces.ErrGroupNotFound, ref)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: attestation service returned status %d: %s",
			interfaces.ErrAttestationUnavailable, resp.StatusCode, string(body))
	}

	encoded, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", interfaces.ErrAttestationUnavailable, err)
	}

	key, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed master key in response: %v", interfaces.ErrAttestationUnavailable, err)
	}
	return key, nil
}
