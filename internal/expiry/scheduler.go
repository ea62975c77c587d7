// Package expiry reverts the component in-use flag of devices that stop
// reporting. Every ON report arms (or refreshes) a per-device timer tagged
// with a generation; OFF cancels it; a fire whose generation is still current
// applies a synthetic OFF through the component reconciler.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	components "home-manager/internal/components/domain"
	devices "home-manager/internal/devices/domain"
	"home-manager/internal/observability/metrics"
	reports "home-manager/internal/reports/domain"
)

const (
	defaultApplyTimeout     = 10 * time.Second
	defaultRetryInitial     = time.Second
	defaultRetryMaxInterval = time.Minute
)

// Reconciler applies the in-use flag to the components of a device.
type Reconciler interface {
	Apply(ctx context.Context, deviceCode string, inUse bool, at time.Time) (int, error)
}

// Serializer runs work for one key in arrival order.
type Serializer interface {
	Enqueue(ctx context.Context, key string, fn func(ctx context.Context) error) <-chan error
}

// InUseLister lists components currently flagged in use.
type InUseLister interface {
	ListInUse(ctx context.Context) ([]components.Component, error)
}

// DeviceGetter loads device directory records.
type DeviceGetter interface {
	Get(ctx context.Context, code string) (*devices.Device, error)
}

// Timer is a stoppable pending callback.
type Timer interface {
	Stop() bool
}

// Clock provides time and timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// TimerFailure reports a synthetic expiry that could not be applied. The
// timer stays armed and is retried with backoff.
type TimerFailure struct {
	DeviceCode string
	Generation uint64
	Attempt    int
	Err        error
}

func (e *TimerFailure) Error() string {
	return fmt.Sprintf("expiry: device %s generation %d attempt %d: %v", e.DeviceCode, e.Generation, e.Attempt, e.Err)
}

func (e *TimerFailure) Unwrap() error { return e.Err }

// TimerInfo is a read-only view of an armed timer.
type TimerInfo struct {
	DeviceCode string    `json:"deviceCode"`
	ArmedAt    time.Time `json:"armedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Generation uint64    `json:"generation"`
	Failures   int       `json:"failures"`
}

type armed struct {
	info    TimerInfo
	timer   Timer
	backoff *backoff.ExponentialBackOff
}

// Scheduler tracks one expiry timer per device code. OnReportApplied must be
// called from the device's serialization scope; fires re-enter that scope
// through the Serializer.
type Scheduler struct {
	duration   time.Duration
	reconciler Reconciler
	serializer Serializer
	clock      Clock
	logger     *zap.SugaredLogger

	applyTimeout     time.Duration
	retryInitial     time.Duration
	retryMaxInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	generation uint64
	timers     map[string]*armed
}

// Option customizes the scheduler.
type Option func(*Scheduler)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithApplyTimeout bounds each synthetic reconciliation.
func WithApplyTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.applyTimeout = d
		}
	}
}

// WithRetryBackoff sets the backoff used after a failed expiry.
func WithRetryBackoff(initial, maxInterval time.Duration) Option {
	return func(s *Scheduler) {
		if initial > 0 {
			s.retryInitial = initial
		}
		if maxInterval > 0 {
			s.retryMaxInterval = maxInterval
		}
	}
}

// NewScheduler constructs a scheduler expiring devices after duration.
func NewScheduler(duration time.Duration, reconciler Reconciler, serializer Serializer, opts ...Option) (*Scheduler, error) {
	if duration <= 0 {
		return nil, errors.New("expiry: duration must be positive")
	}
	if reconciler == nil {
		return nil, errors.New("expiry: nil reconciler")
	}
	if serializer == nil {
		return nil, errors.New("expiry: nil serializer")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		duration:         duration,
		reconciler:       reconciler,
		serializer:       serializer,
		clock:            systemClock{},
		logger:           zap.NewNop().Sugar(),
		applyTimeout:     defaultApplyTimeout,
		retryInitial:     defaultRetryInitial,
		retryMaxInterval: defaultRetryMaxInterval,
		ctx:              ctx,
		cancel:           cancel,
		timers:           make(map[string]*armed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Duration returns the configured silence period.
func (s *Scheduler) Duration() time.Duration {
	return s.duration
}

// OnReportApplied arms or refreshes the device timer on ON and cancels it on OFF.
func (s *Scheduler) OnReportApplied(_ context.Context, deviceCode string, status reports.Status) error {
	if deviceCode == "" {
		return errors.New("expiry: empty device code")
	}
	switch status {
	case reports.StatusOn:
		now := s.clock.Now()
		s.arm(deviceCode, now, now.Add(s.duration))
	case reports.StatusOff:
		s.disarm(deviceCode)
	default:
		return fmt.Errorf("expiry: unknown status %q", status)
	}
	return nil
}

// Restore re-derives timers from stored state after a restart. Devices with
// in-use components get a timer expiring one duration after the later of the
// component change and the device's last report.
func (s *Scheduler) Restore(ctx context.Context, lister InUseLister, directory DeviceGetter) (int, error) {
	if lister == nil {
		return 0, errors.New("expiry: nil component lister")
	}
	inUse, err := lister.ListInUse(ctx)
	if err != nil {
		return 0, err
	}

	latest := make(map[string]time.Time)
	for _, c := range inUse {
		if prev, ok := latest[c.DeviceCode]; !ok || c.LastChangedAt.After(prev) {
			latest[c.DeviceCode] = c.LastChangedAt
		}
	}

	pending := make([]<-chan error, 0, len(latest))
	for code, base := range latest {
		if directory != nil {
			device, err := directory.Get(ctx, code)
			switch {
			case err == nil && device.LastSeenAt.After(base):
				base = device.LastSeenAt
			case err != nil && !errors.Is(err, devices.ErrNotFound):
				return 0, err
			}
		}
		if base.IsZero() {
			base = s.clock.Now()
		}
		code, armedAt, expiresAt := code, base, base.Add(s.duration)
		pending = append(pending, s.serializer.Enqueue(ctx, code, func(context.Context) error {
			s.arm(code, armedAt, expiresAt)
			return nil
		}))
	}
	for _, done := range pending {
		if err := <-done; err != nil {
			return 0, err
		}
	}
	s.logger.Infow("expiry timers restored", "count", len(pending))
	return len(pending), nil
}

// Snapshot returns the armed timers ordered by device code.
func (s *Scheduler) Snapshot() []TimerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]TimerInfo, 0, len(s.timers))
	for _, a := range s.timers {
		result = append(result, a.info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DeviceCode < result[j].DeviceCode })
	return result
}

// Stop cancels every pending timer.
func (s *Scheduler) Stop() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, code)
	}
	metrics.SetArmedTimers(0)
}

func (s *Scheduler) arm(deviceCode string, armedAt, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}

	if previous, ok := s.timers[deviceCode]; ok {
		previous.timer.Stop()
	}
	s.generation++
	generation := s.generation
	delay := expiresAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.timers[deviceCode] = &armed{
		info: TimerInfo{
			DeviceCode: deviceCode,
			ArmedAt:    armedAt,
			ExpiresAt:  expiresAt,
			Generation: generation,
		},
		timer: s.clock.AfterFunc(delay, func() { s.fire(deviceCode, generation) }),
	}
	metrics.SetArmedTimers(len(s.timers))
	s.logger.Debugw("expiry armed", "device_code", deviceCode, "generation", generation, "expires_at", expiresAt)
}

func (s *Scheduler) disarm(deviceCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.timers[deviceCode]; ok {
		a.timer.Stop()
		delete(s.timers, deviceCode)
		s.logger.Debugw("expiry cancelled", "device_code", deviceCode, "generation", a.info.Generation)
	}
	metrics.SetArmedTimers(len(s.timers))
}

// fire runs on the timer goroutine and only hands the expiry to the device's
// serialization scope.
func (s *Scheduler) fire(deviceCode string, generation uint64) {
	if s.ctx.Err() != nil {
		return
	}
	s.serializer.Enqueue(s.ctx, deviceCode, func(ctx context.Context) error {
		return s.expire(ctx, deviceCode, generation)
	})
}

func (s *Scheduler) current(deviceCode string, generation uint64) bool {
	a, ok := s.timers[deviceCode]
	return ok && a.info.Generation == generation
}

func (s *Scheduler) expire(ctx context.Context, deviceCode string, generation uint64) error {
	s.mu.Lock()
	if !s.current(deviceCode, generation) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	applyCtx, cancel := context.WithTimeout(ctx, s.applyTimeout)
	defer cancel()
	count, err := s.reconciler.Apply(applyCtx, deviceCode, false, s.clock.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(deviceCode, generation) {
		return nil
	}
	a := s.timers[deviceCode]
	if err != nil {
		a.info.Failures++
		if a.backoff == nil {
			a.backoff = backoff.NewExponentialBackOff()
			a.backoff.InitialInterval = s.retryInitial
			a.backoff.MaxInterval = s.retryMaxInterval
			a.backoff.MaxElapsedTime = 0
			a.backoff.Reset()
		}
		delay := a.backoff.NextBackOff()
		if delay == backoff.Stop {
			delay = s.retryMaxInterval
		}
		a.timer = s.clock.AfterFunc(delay, func() { s.fire(deviceCode, generation) })
		failure := &TimerFailure{DeviceCode: deviceCode, Generation: generation, Attempt: a.info.Failures, Err: err}
		metrics.IncExpiryFailure()
		s.logger.Warnw("expiry apply failed, retrying", "device_code", deviceCode, "generation", generation, "retry_in", delay, "err", err)
		return failure
	}

	delete(s.timers, deviceCode)
	metrics.SetArmedTimers(len(s.timers))
	metrics.IncExpiryFired()
	s.logger.Infow("device expired", "device_code", deviceCode, "generation", generation, "affected", count)
	return nil
}
