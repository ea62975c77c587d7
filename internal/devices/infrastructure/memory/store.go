package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	devices "home-manager/internal/devices/domain"
)

// Store is an in-memory device directory for demo/testing.
type Store struct {
	mu   sync.RWMutex
	data map[string]*devices.Device
}

// NewStore constructs a store.
func NewStore() *Store {
	return &Store{data: make(map[string]*devices.Device)}
}

// SoftCreateOrUpdate upserts by code under the store lock.
func (s *Store) SoftCreateOrUpdate(ctx context.Context, info devices.Info, seenAt time.Time) (*devices.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.data[info.Code]
	if !ok {
		device = &devices.Device{Code: info.Code, Active: true, CreatedAt: seenAt}
		s.data[info.Code] = device
	}
	device.Type = info.Type
	device.Name = info.Name
	device.Version = info.Version
	if seenAt.After(device.LastSeenAt) {
		device.LastSeenAt = seenAt
	}
	device.UpdatedAt = seenAt
	copied := *device
	return &copied, nil
}

// Get loads a device by code.
func (s *Store) Get(ctx context.Context, code string) (*devices.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	device, ok := s.data[code]
	if !ok {
		return nil, devices.ErrNotFound
	}
	copied := *device
	return &copied, nil
}

// List returns devices sorted by code.
func (s *Store) List(ctx context.Context) ([]devices.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]devices.Device, 0, len(s.data))
	for _, device := range s.data {
		result = append(result, *device)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

// Deactivate clears the active flag. Soft-create never revives it.
func (s *Store) Deactivate(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if device, ok := s.data[code]; ok {
		device.Active = false
	}
}
