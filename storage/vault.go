package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// VaultBackend implements a storage backend using HashiCorp Vault's KV v2
// secrets engine. Group mapping records live under
// {mountPath}/data/{dataPath}/{type}/{key}.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault storage backend using token authentication.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "provisioning")
//   - token: Vault token; empty falls back to the VAULT_TOKEN environment variable
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(address, "https://"), mountPath, dataPath),
	}, nil
}

// Fetch retrieves the blob stored under key from Vault.
func (b *VaultBackend) Fetch(ctx context.Context, key interfaces.ContentKey, contentType interfaces.ContentType) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	secret, err := b.client.Logical().ReadWithContext(ctx, b.secretPath(key, contentType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s/%s", interfaces.ErrContentNotFound, contentType, key)
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", interfaces.ErrContentNotFound, contentType, key)
	}
	encoded, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", interfaces.ErrContentNotFound, contentType, key)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed content in Vault at %s/%s: %w", contentType, key, err)
	}

	b.log.Debug("Fetched content from Vault",
		slog.String("key", key.String()),
		slog.Int("size", len(raw)))
	return raw, nil
}

// Store writes the blob under key. Content is base64-wrapped because KV v2
// stores JSON documents.
func (b *VaultBackend) Store(ctx context.Context, key interfaces.ContentKey, contentType interfaces.ContentType, data []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}

	payload := map[string]any{
		"data": map[string]any{
			"content": base64.StdEncoding.EncodeToString(data),
		},
	}
	if _, err := b.client.Logical().WriteWithContext(ctx, b.secretPath(key, contentType), payload); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}

	b.log.Debug("Stored content in Vault",
		slog.String("key", key.String()),
		slog.Int("size", len(data)))
	return nil
}

// Delete removes the blob under key. Absent keys are a successful no-op.
func (b *VaultBackend) Delete(ctx context.Context, key interfaces.ContentKey, contentType interfaces.ContentType) error {
	if err := key.Validate(); err != nil {
		return err
	}

	metadataPath := fmt.Sprintf("%s/metadata/%s/%s/%s", b.mountPath, b.dataPath, contentType, key)
	if _, err := b.client.Logical().DeleteWithContext(ctx, metadataPath); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}
	return nil
}

// Available checks the Vault server's health endpoint.
func (b *VaultBackend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		b.log.Debug("Vault backend unavailable", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

// Name returns a unique identifier for this backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", b.mountPath)
}

// LocationURI returns the URI this backend was created from.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath(key interfaces.ContentKey, contentType interfaces.ContentType) string {
	return fmt.Sprintf("%s/data/%s/%s/%s", b.mountPath, b.dataPath, contentType, key)
}
