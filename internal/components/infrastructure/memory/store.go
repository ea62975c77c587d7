package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	components "home-manager/internal/components/domain"
)

// Store is an in-memory component store for demo/testing.
type Store struct {
	mu   sync.RWMutex
	data map[string]*components.Component
}

// NewStore constructs a store.
func NewStore() *Store {
	return &Store{data: make(map[string]*components.Component)}
}

// UpdateManyByDeviceCode updates all matching components under one lock.
func (s *Store) UpdateManyByDeviceCode(ctx context.Context, deviceCode string, inUse bool, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, c := range s.data {
		if c.DeviceCode != deviceCode {
			continue
		}
		if c.InUse != inUse {
			c.InUse = inUse
			c.LastChangedAt = at
		}
		count++
	}
	return count, nil
}

// Save upserts a component; an existing in-use flag is preserved.
func (s *Store) Save(ctx context.Context, component *components.Component) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := component.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[component.ID]; ok {
		existing.DeviceCode = component.DeviceCode
		*component = *existing
		return nil
	}
	if component.CreatedAt.IsZero() {
		component.CreatedAt = time.Now().UTC()
	}
	stored := *component
	s.data[component.ID] = &stored
	return nil
}

// List returns components sorted by id.
func (s *Store) List(ctx context.Context, deviceCode string) ([]components.Component, error) {
	return s.filter(ctx, func(c *components.Component) bool {
		return deviceCode == "" || c.DeviceCode == deviceCode
	})
}

// ListInUse returns components flagged in use.
func (s *Store) ListInUse(ctx context.Context) ([]components.Component, error) {
	return s.filter(ctx, func(c *components.Component) bool { return c.InUse })
}

func (s *Store) filter(ctx context.Context, keep func(*components.Component) bool) ([]components.Component, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]components.Component, 0, len(s.data))
	for _, c := range s.data {
		if keep(c) {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
