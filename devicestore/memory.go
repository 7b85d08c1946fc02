// Package devicestore implements the device and model lookups behind the
// onboarding pipeline: a postgres-backed store for deployments and an
// in-memory store for tests and single-node development.
package devicestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// MemoryStore is an in-memory implementation of interfaces.DeviceStore and
// interfaces.ModelStore. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[interfaces.DeviceID]interfaces.Device
	models  map[interfaces.ModelID]interfaces.DeviceModel
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[interfaces.DeviceID]interfaces.Device),
		models:  make(map[interfaces.ModelID]interfaces.DeviceModel),
	}
}

// AddModel registers a device model.
func (s *MemoryStore) AddModel(model interfaces.DeviceModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[model.ID] = model
}

// GetModel implements interfaces.ModelStore.
func (s *MemoryStore) GetModel(ctx context.Context, modelID interfaces.ModelID) (*interfaces.DeviceModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	model, ok := s.models[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrModelNotFound, modelID)
	}
	return &model, nil
}

// ListModels implements interfaces.ModelStore.
func (s *MemoryStore) ListModels(ctx context.Context) ([]*interfaces.DeviceModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	models := make([]*interfaces.DeviceModel, 0, len(s.models))
	for _, model := range s.models {
		m := model
		models = append(models, &m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// UpsertDevice implements interfaces.DeviceStore.
func (s *MemoryStore) UpsertDevice(ctx context.Context, device interfaces.Device) (interfaces.UpsertResult, error) {
	if err := device.ID.Validate(); err != nil {
		return interfaces.UpsertResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.devices[device.ID]
	if !ok {
		device.CreatedAt = now
		device.UpdatedAt = now
		s.devices[device.ID] = device
		return interfaces.UpsertResult{Outcome: interfaces.OutcomeCreated}, nil
	}

	device.CreatedAt = existing.CreatedAt
	device.UpdatedAt = now
	s.devices[device.ID] = device
	return interfaces.UpsertResult{
		Outcome:      interfaces.OutcomeUpdated,
		ModelChanged: existing.ModelID != device.ModelID,
	}, nil
}

// GetDevice implements interfaces.DeviceStore.
func (s *MemoryStore) GetDevice(ctx context.Context, deviceID interfaces.DeviceID) (*interfaces.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrDeviceNotFound, deviceID)
	}
	return &device, nil
}

// ListDevices implements interfaces.DeviceStore, ordered by device identifier.
func (s *MemoryStore) ListDevices(ctx context.Context) ([]*interfaces.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]*interfaces.Device, 0, len(s.devices))
	for _, device := range s.devices {
		d := device
		devices = append(devices, &d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}
