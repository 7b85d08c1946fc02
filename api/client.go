package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// DefaultClientTimeout applies when no timeout is configured.
const DefaultClientTimeout = 30 * time.Second

// Client talks to the provisioning service's HTTP API. It is the transport
// used by the operator CLI.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates an API client for the given base URL, such as
// "http://localhost:8080". A zero timeout selects DefaultClientTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Credentials requests derived connection credentials for one device.
func (c *Client) Credentials(ctx context.Context, deviceID interfaces.DeviceID, modelID interfaces.ModelID) (*CredentialsResponse, error) {
	endpoint := fmt.Sprintf("%s/api/devices/%s/credentials?model_id=%s",
		c.baseURL, url.PathEscape(deviceID.String()), url.QueryEscape(modelID.String()))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var credentials CredentialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&credentials); err != nil {
		return nil, fmt.Errorf("decoding credentials response: %w", err)
	}
	return &credentials, nil
}

// ImportDevices uploads a CSV stream and returns the row-aligned report.
func (c *Client) ImportDevices(ctx context.Context, file io.Reader) (*ImportReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/devices/import", file)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/csv")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading import file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var report ImportReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decoding import report: %w", err)
	}
	return &report, nil
}

// ExportDevices streams the device list CSV into w.
func (c *Client) ExportDevices(ctx context.Context, w io.Writer) error {
	return c.download(ctx, "/api/devices/export", w)
}

// Template streams the import template CSV into w.
func (c *Client) Template(ctx context.Context, w io.Writer) error {
	return c.download(ctx, "/api/devices/template", w)
}

func (c *Client) download(ctx context.Context, path string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}
	return nil
}

// DeleteEnrollmentGroup removes a model's enrollment group. Deleting an
// absent group succeeds.
func (c *Client) DeleteEnrollmentGroup(ctx context.Context, modelID interfaces.ModelID) error {
	endpoint := fmt.Sprintf("%s/api/models/%s/enrollment-group", c.baseURL, url.PathEscape(modelID.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deleting enrollment group: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return nil
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &RequestError{
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
	}
}
