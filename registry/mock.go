package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// MockBackend is a testify mock of interfaces.ProvisioningBackend for
// failure-injection tests.
type MockBackend struct {
	mock.Mock
}

// CreateOrGetGroup implements interfaces.ProvisioningBackend.
func (m *MockBackend) CreateOrGetGroup(ctx context.Context, groupID interfaces.GroupID, ref interfaces.AttestationRef, desiredProperties map[string]any) (string, error) {
	args := m.Called(ctx, groupID, ref, desiredProperties)
	return args.String(0), args.Error(1)
}

// DeleteGroup implements interfaces.ProvisioningBackend.
func (m *MockBackend) DeleteGroup(ctx context.Context, groupID interfaces.GroupID) error {
	args := m.Called(ctx, groupID)
	return args.Error(0)
}

// MockAttestationSource is a testify mock of interfaces.AttestationSource.
type MockAttestationSource struct {
	mock.Mock
}

// RefForModel implements interfaces.AttestationSource.
func (m *MockAttestationSource) RefForModel(modelID interfaces.ModelID) interfaces.AttestationRef {
	args := m.Called(modelID)
	return args.Get(0).(interfaces.AttestationRef)
}

// MasterKey implements interfaces.AttestationSource.
func (m *MockAttestationSource) MasterKey(ctx context.Context, ref interfaces.AttestationRef) ([]byte, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// InMemoryBackend is a simple in-memory provisioning backend for tests and
// local development. It tracks created groups and simulates the backend's
// idempotent-create contract: a second create for the same group returns
// interfaces.ErrBackendConflict.
type InMemoryBackend struct {
	mu     sync.Mutex
	groups map[interfaces.GroupID]string

	// CreateCalls counts create attempts, including conflicting ones.
	CreateCalls int
}

// NewInMemoryBackend creates an empty in-memory backend.
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{groups: make(map[interfaces.GroupID]string)}
}

// CreateOrGetGroup implements interfaces.ProvisioningBackend.
func (b *InMemoryBackend) CreateOrGetGroup(ctx context.Context, groupID interfaces.GroupID, ref interfaces.AttestationRef, desiredProperties map[string]any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.CreateCalls++
	if _, exists := b.groups[groupID]; exists {
		return "", fmt.Errorf("%w: group %s", interfaces.ErrBackendConflict, groupID)
	}

	remoteID := "remote-" + groupID.String()
	b.groups[groupID] = remoteID
	return remoteID, nil
}

// DeleteGroup implements interfaces.ProvisioningBackend. Idempotent.
func (b *InMemoryBackend) DeleteGroup(ctx context.Context, groupID interfaces.GroupID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.groups, groupID)
	return nil
}

// HasGroup reports whether a group currently exists in the backend.
func (b *InMemoryBackend) HasGroup(groupID interfaces.GroupID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.groups[groupID]
	return ok
}

// GroupCount returns the number of groups currently registered.
func (b *InMemoryBackend) GroupCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups)
}
