// Package registry implements the client for the external provisioning
// backend: the cloud registry that enrollment groups are created in.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// Retry bounds for retryable backend failures. The backend does not publish
// a throttling SLA, so the client applies a small bounded exponential
// backoff: maxAttempts tries, starting at initialBackoff and doubling up to
// maxBackoff.
const (
	maxAttempts    = 3
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// Client talks to the provisioning backend over HTTP.
//
// Error mapping follows the interfaces contract: HTTP 409 maps to
// interfaces.ErrBackendConflict, timeouts and 5xx responses map to
// interfaces.ErrBackendUnavailable. Unavailable responses are retried with
// bounded backoff before giving up.
type Client struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewClient creates a provisioning backend client.
// Every request carries a bounded timeout; the default is 10 seconds.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

type createGroupRequest struct {
	AttestationRef    string         `json:"attestation_ref"`
	DesiredProperties map[string]any `json:"desired_properties,omitempty"`
}

type createGroupResponse struct {
	RemoteGroupID string `json:"remote_group_id"`
}

// CreateOrGetGroup registers an enrollment group with the backend and
// returns the backend's identifier for it.
func (c *Client) CreateOrGetGroup(ctx context.Context, groupID interfaces.GroupID, ref interfaces.AttestationRef, desiredProperties map[string]any) (string, error) {
	body, err := json.Marshal(createGroupRequest{
		AttestationRef:    ref.String(),
		DesiredProperties: desiredProperties,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling create group request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/enrollment-groups/%s", c.baseURL, url.PathEscape(groupID.String()))

	var remoteID string
	err = c.withRetries(ctx, "create group", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			var cr createGroupResponse
			if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
				return fmt.Errorf("%w: decoding response: %v", interfaces.ErrBackendUnavailable, err)
			}
			remoteID = cr.RemoteGroupID
			return nil
		case http.StatusConflict:
			return fmt.Errorf("%w: group %s", interfaces.ErrBackendConflict, groupID)
		default:
			return c.statusError(resp)
		}
	})
	if err != nil {
		return "", err
	}
	return remoteID, nil
}

// DeleteGroup removes a group from the backend. A 404 response counts as
// success: delete is idempotent by contract.
func (c *Client) DeleteGroup(ctx context.Context, groupID interfaces.GroupID) error {
	reqURL := fmt.Sprintf("%s/enrollment-groups/%s", c.baseURL, url.PathEscape(groupID.String()))

	return c.withRetries(ctx, "delete group", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
			return nil
		default:
			return c.statusError(resp)
		}
	})
}

// statusError maps a non-success response to a typed error. Server-side
// failures and throttling are retryable; everything else is terminal.
func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: backend returned status %d: %s",
			interfaces.ErrBackendUnavailable, resp.StatusCode, string(body))
	}
	return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(body))
}

// withRetries runs op, retrying on interfaces.ErrBackendUnavailable with
// bounded exponential backoff. Conflicts and other terminal errors return
// immediately.
func (c *Client) withRetries(ctx context.Context, what string, op func() error) error {
	backoff := initialBackoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op()
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		c.log.Warn("Backend call failed, retrying",
			slog.String("op", what),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			"err", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return err
}

func isRetryable(err error) bool {
	return err != nil && errors.Is(err, interfaces.ErrBackendUnavailable)
}
