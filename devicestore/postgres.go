package devicestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// PostgresStore persists devices and device models in postgres. It implements
// both interfaces.DeviceStore and interfaces.ModelStore.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresStore connects to the given DSN and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string, log *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, log: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS device_models (
			model_id           TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			tag_schema         TEXT[] NOT NULL DEFAULT '{}',
			property_schema    TEXT[] NOT NULL DEFAULT '{}',
			desired_properties JSONB NOT NULL DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS devices (
			device_id  TEXT PRIMARY KEY,
			model_id   TEXT NOT NULL REFERENCES device_models(model_id),
			tags       JSONB NOT NULL DEFAULT '{}',
			properties JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("applying device store schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

type modelRow struct {
	ModelID           string         `db:"model_id"`
	Name              string         `db:"name"`
	TagSchema         []string       `db:"tag_schema"`
	PropertySchema    []string       `db:"property_schema"`
	DesiredProperties map[string]any `db:"desired_properties"`
}

func (r modelRow) toModel() *interfaces.DeviceModel {
	return &interfaces.DeviceModel{
		ID:                interfaces.ModelID(r.ModelID),
		Name:              r.Name,
		TagSchema:         r.TagSchema,
		PropertySchema:    r.PropertySchema,
		DesiredProperties: r.DesiredProperties,
	}
}

type deviceRow struct {
	DeviceID   string            `db:"device_id"`
	ModelID    string            `db:"model_id"`
	Tags       map[string]string `db:"tags"`
	Properties map[string]string `db:"properties"`
	CreatedAt  time.Time         `db:"created_at"`
	UpdatedAt  time.Time         `db:"updated_at"`
}

func (r deviceRow) toDevice() *interfaces.Device {
	return &interfaces.Device{
		ID:         interfaces.DeviceID(r.DeviceID),
		ModelID:    interfaces.ModelID(r.ModelID),
		Tags:       r.Tags,
		Properties: r.Properties,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// AddModel inserts or replaces a device model.
func (s *PostgresStore) AddModel(ctx context.Context, model interfaces.DeviceModel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_models (model_id, name, tag_schema, property_schema, desired_properties)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_id) DO UPDATE SET
			name = EXCLUDED.name,
			tag_schema = EXCLUDED.tag_schema,
			property_schema = EXCLUDED.property_schema,
			desired_properties = EXCLUDED.desired_properties
	`, string(model.ID), model.Name, model.TagSchema, model.PropertySchema, model.DesiredProperties)
	if err != nil {
		return fmt.Errorf("upserting model %s: %w", model.ID, err)
	}
	return nil
}

// GetModel implements interfaces.ModelStore.
func (s *PostgresStore) GetModel(ctx context.Context, modelID interfaces.ModelID) (*interfaces.DeviceModel, error) {
	var row modelRow
	err := pgxscan.Get(ctx, s.pool, &row, `
		SELECT model_id, name, tag_schema, property_schema, desired_properties
		FROM device_models WHERE model_id = $1
	`, string(modelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrModelNotFound, modelID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching model %s: %w", modelID, err)
	}
	return row.toModel(), nil
}

// ListModels implements interfaces.ModelStore.
func (s *PostgresStore) ListModels(ctx context.Context) ([]*interfaces.DeviceModel, error) {
	var rows []modelRow
	err := pgxscan.Select(ctx, s.pool, &rows, `
		SELECT model_id, name, tag_schema, property_schema, desired_properties
		FROM device_models ORDER BY model_id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	models := make([]*interfaces.DeviceModel, 0, len(rows))
	for _, row := range rows {
		models = append(models, row.toModel())
	}
	return models, nil
}

// UpsertDevice implements interfaces.DeviceStore. The outcome distinguishes
// first-time inserts from updates, and updates report whether the device
// moved to a different model.
func (s *PostgresStore) UpsertDevice(ctx context.Context, device interfaces.Device) (interfaces.UpsertResult, error) {
	if err := device.ID.Validate(); err != nil {
		return interfaces.UpsertResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return interfaces.UpsertResult{}, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var previousModel string
	err = tx.QueryRow(ctx, `
		SELECT model_id FROM devices WHERE device_id = $1 FOR UPDATE
	`, string(device.ID)).Scan(&previousModel)

	now := time.Now().UTC()
	result := interfaces.UpsertResult{}
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO devices (device_id, model_id, tags, properties, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
		`, string(device.ID), string(device.ModelID), device.Tags, device.Properties, now)
		if err != nil {
			return interfaces.UpsertResult{}, fmt.Errorf("inserting device %s: %w", device.ID, err)
		}
		result.Outcome = interfaces.OutcomeCreated
	case err != nil:
		return interfaces.UpsertResult{}, fmt.Errorf("locking device %s: %w", device.ID, err)
	default:
		_, err = tx.Exec(ctx, `
			UPDATE devices SET model_id = $2, tags = $3, properties = $4, updated_at = $5
			WHERE device_id = $1
		`, string(device.ID), string(device.ModelID), device.Tags, device.Properties, now)
		if err != nil {
			return interfaces.UpsertResult{}, fmt.Errorf("updating device %s: %w", device.ID, err)
		}
		result.Outcome = interfaces.OutcomeUpdated
		result.ModelChanged = previousModel != string(device.ModelID)
	}

	if err := tx.Commit(ctx); err != nil {
		return interfaces.UpsertResult{}, fmt.Errorf("committing upsert for %s: %w", device.ID, err)
	}
	return result, nil
}

// GetDevice implements interfaces.DeviceStore.
func (s *PostgresStore) GetDevice(ctx context.Context, deviceID interfaces.DeviceID) (*interfaces.Device, error) {
	var row deviceRow
	err := pgxscan.Get(ctx, s.pool, &row, `
		SELECT device_id, model_id, tags, properties, created_at, updated_at
		FROM devices WHERE device_id = $1
	`, string(deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrDeviceNotFound, deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching device %s: %w", deviceID, err)
	}
	return row.toDevice(), nil
}

// ListDevices implements interfaces.DeviceStore, ordered by device identifier
// so exports are stable.
func (s *PostgresStore) ListDevices(ctx context.Context) ([]*interfaces.Device, error) {
	var rows []deviceRow
	err := pgxscan.Select(ctx, s.pool, &rows, `
		SELECT device_id, model_id, tags, properties, created_at, updated_at
		FROM devices ORDER BY device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	devices := make([]*interfaces.Device, 0, len(rows))
	for _, row := range rows {
		devices = append(devices, row.toDevice())
	}
	return devices, nil
}
