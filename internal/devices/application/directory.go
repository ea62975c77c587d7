package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	devices "home-manager/internal/devices/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Directory is the idempotent register of known devices.
type Directory struct {
	store  devices.Store
	clock  Clock
	logger *zap.SugaredLogger
}

// DirectoryOption customizes the directory.
type DirectoryOption func(*Directory)

// WithClock assigns a clock.
func WithClock(clock Clock) DirectoryOption {
	return func(d *Directory) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.SugaredLogger) DirectoryOption {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDirectory constructs a directory.
func NewDirectory(store devices.Store, opts ...DirectoryOption) (*Directory, error) {
	if store == nil {
		return nil, errors.New("devices: nil store")
	}
	d := &Directory{store: store, clock: systemClock{}, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Upsert soft-creates the device or refreshes it. Duplicate calls never fail.
func (d *Directory) Upsert(ctx context.Context, info devices.Info) (*devices.Device, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	device, err := d.store.SoftCreateOrUpdate(ctx, info, d.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	d.logger.Debugw("device upserted", "device_code", device.Code, "active", device.Active)
	return device, nil
}

// Get loads one device.
func (d *Directory) Get(ctx context.Context, code string) (*devices.Device, error) {
	if code == "" {
		return nil, devices.ErrEmptyCode
	}
	return d.store.Get(ctx, code)
}

// List returns all devices.
func (d *Directory) List(ctx context.Context) ([]devices.Device, error) {
	return d.store.List(ctx)
}
