package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	components "home-manager/internal/components/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Reconciler keeps component in-use flags in line with device reports.
type Reconciler struct {
	store  components.Store
	clock  Clock
	logger *zap.SugaredLogger
}

// ReconcilerOption customizes the reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock assigns a clock.
func WithClock(clock Clock) ReconcilerOption {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.SugaredLogger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler constructs a reconciler.
func NewReconciler(store components.Store, opts ...ReconcilerOption) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("components: nil store")
	}
	r := &Reconciler{store: store, clock: systemClock{}, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Apply sets the in-use flag on every component of the device. Zero matching
// components is a normal outcome for devices nobody registered yet.
func (r *Reconciler) Apply(ctx context.Context, deviceCode string, inUse bool, at time.Time) (int, error) {
	if deviceCode == "" {
		return 0, components.ErrEmptyDeviceCode
	}
	if at.IsZero() {
		at = r.clock.Now()
	}
	count, err := r.store.UpdateManyByDeviceCode(ctx, deviceCode, inUse, at.UTC())
	if err != nil {
		return 0, err
	}
	r.logger.Debugw("components reconciled", "device_code", deviceCode, "in_use", inUse, "affected", count)
	return count, nil
}

// Register creates or updates a component.
func (r *Reconciler) Register(ctx context.Context, component components.Component) (*components.Component, error) {
	component.ID = strings.TrimSpace(component.ID)
	component.DeviceCode = strings.TrimSpace(component.DeviceCode)
	if err := component.Validate(); err != nil {
		return nil, err
	}
	if component.LastChangedAt.IsZero() {
		component.LastChangedAt = r.clock.Now()
	}
	if err := r.store.Save(ctx, &component); err != nil {
		return nil, err
	}
	return &component, nil
}

// List returns components, filtered by device code when given.
func (r *Reconciler) List(ctx context.Context, deviceCode string) ([]components.Component, error) {
	return r.store.List(ctx, deviceCode)
}

// ListInUse returns components currently flagged in use.
func (r *Reconciler) ListInUse(ctx context.Context) ([]components.Component, error) {
	return r.store.ListInUse(ctx)
}
