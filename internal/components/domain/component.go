package components

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyID indicates a component without id.
	ErrEmptyID = errors.New("component: empty id")
	// ErrEmptyDeviceCode indicates a component without device relation.
	ErrEmptyDeviceCode = errors.New("component: empty device code")
)

// Component is a logical unit whose in-use flag follows its device.
type Component struct {
	ID            string    `json:"id"`
	DeviceCode    string    `json:"deviceCode"`
	InUse         bool      `json:"inUse"`
	LastChangedAt time.Time `json:"lastChangedAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Validate checks component invariants.
func (c Component) Validate() error {
	if c.ID == "" {
		return ErrEmptyID
	}
	if c.DeviceCode == "" {
		return ErrEmptyDeviceCode
	}
	return nil
}

// Store persists components.
type Store interface {
	// UpdateManyByDeviceCode sets inUse on every component of the device in one
	// atomic update and returns the number of matching components. LastChangedAt
	// moves to at only on components whose flag actually changes.
	UpdateManyByDeviceCode(ctx context.Context, deviceCode string, inUse bool, at time.Time) (int, error)
	Save(ctx context.Context, component *Component) error
	List(ctx context.Context, deviceCode string) ([]Component, error)
	ListInUse(ctx context.Context) ([]Component, error)
}
