// Package application orchestrates ingestion of validated status reports.
package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	devices "home-manager/internal/devices/domain"
	feed "home-manager/internal/feed/domain"
	"home-manager/internal/observability/metrics"
	reports "home-manager/internal/reports/domain"
)

const (
	defaultStepTimeout = 5 * time.Second
)

// entryNamespace derives stable feed entry ids from transport message ids.
var entryNamespace = uuid.MustParse("5b0c2f8e-7a43-4f4e-9d54-1c3a8f6b2e10")

// FeedAppender appends reports to the feed.
type FeedAppender interface {
	NewEntry(report reports.StatusReport) feed.Entry
	Append(ctx context.Context, entry feed.Entry) (feed.Entry, error)
}

// ComponentReconciler applies the in-use flag to a device's components.
type ComponentReconciler interface {
	Apply(ctx context.Context, deviceCode string, inUse bool, at time.Time) (int, error)
}

// DeviceUpserter soft-creates device records.
type DeviceUpserter interface {
	Upsert(ctx context.Context, info devices.Info) (*devices.Device, error)
}

// ExpiryNotifier is told about every applied status.
type ExpiryNotifier interface {
	OnReportApplied(ctx context.Context, deviceCode string, status reports.Status) error
}

// Serializer runs work for one key in arrival order.
type Serializer interface {
	Enqueue(ctx context.Context, key string, fn func(ctx context.Context) error) <-chan error
}

// RetryPolicy bounds per-step retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second}
}

// Dispatcher fans one validated report out to the feed, component, directory
// and expiry targets. The feed append happens in the caller; the remaining
// steps run inside the device's serialization scope.
type Dispatcher struct {
	feed       FeedAppender
	components ComponentReconciler
	directory  DeviceUpserter
	expiry     ExpiryNotifier
	serializer Serializer

	stepTimeout time.Duration
	retry       RetryPolicy
	logger      *zap.SugaredLogger

	mu          sync.Mutex
	lastApplied map[string]time.Time
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithStepTimeout bounds each attempt of each step.
func WithStepTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.stepTimeout = d
		}
	}
}

// WithRetryPolicy sets per-step retries.
func WithRetryPolicy(policy RetryPolicy) DispatcherOption {
	return func(dp *Dispatcher) {
		if policy.MaxAttempts > 0 {
			dp.retry.MaxAttempts = policy.MaxAttempts
		}
		if policy.InitialInterval > 0 {
			dp.retry.InitialInterval = policy.InitialInterval
		}
		if policy.MaxInterval > 0 {
			dp.retry.MaxInterval = policy.MaxInterval
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.SugaredLogger) DispatcherOption {
	return func(dp *Dispatcher) {
		if logger != nil {
			dp.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(appender FeedAppender, reconciler ComponentReconciler, directory DeviceUpserter, notifier ExpiryNotifier, serializer Serializer, opts ...DispatcherOption) (*Dispatcher, error) {
	if appender == nil {
		return nil, errors.New("ingestion: nil feed appender")
	}
	if reconciler == nil {
		return nil, errors.New("ingestion: nil component reconciler")
	}
	if directory == nil {
		return nil, errors.New("ingestion: nil device directory")
	}
	if notifier == nil {
		return nil, errors.New("ingestion: nil expiry notifier")
	}
	if serializer == nil {
		return nil, errors.New("ingestion: nil serializer")
	}
	d := &Dispatcher{
		feed:        appender,
		components:  reconciler,
		directory:   directory,
		expiry:      notifier,
		serializer:  serializer,
		stepTimeout: defaultStepTimeout,
		retry:       DefaultRetryPolicy(),
		logger:      zap.NewNop().Sugar(),
		lastApplied: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Ingest processes one report and waits for every step.
func (d *Dispatcher) Ingest(ctx context.Context, report reports.StatusReport, messageID string) IngestionResult {
	return <-d.Submit(ctx, report, messageID)
}

// Submit appends the report to the feed, enqueues the remaining steps on the
// device's queue and returns without waiting for them. Calls made in arrival
// order are applied in arrival order per device. A non-empty messageID makes
// the feed append idempotent across redeliveries.
func (d *Dispatcher) Submit(ctx context.Context, report reports.StatusReport, messageID string) <-chan IngestionResult {
	started := time.Now()
	out := make(chan IngestionResult, 1)

	result := &IngestionResult{MessageID: messageID, Report: report}
	if result.MessageID == "" {
		result.MessageID = uuid.NewString()
	}

	entry := d.feed.NewEntry(report)
	if messageID != "" {
		entry.ID = uuid.NewSHA1(entryNamespace, []byte(messageID)).String()
	}
	feedOutcome := d.runStep(ctx, StepFeed, report.DeviceCode, func(stepCtx context.Context) (int, error) {
		stored, err := d.feed.Append(stepCtx, entry)
		if err != nil {
			return 0, err
		}
		result.Entry = &stored
		return 1, nil
	})
	result.Steps = append(result.Steps, feedOutcome)

	ran := false
	done := d.serializer.Enqueue(ctx, report.DeviceCode, func(ctx context.Context) error {
		ran = true
		d.apply(ctx, result)
		return nil
	})

	go func() {
		err := <-done
		if !ran {
			if err == nil {
				err = context.Canceled
			}
			for _, step := range []Step{StepComponents, StepDirectory, StepExpiry} {
				result.Steps = append(result.Steps, StepOutcome{Step: step, Err: &ReconciliationFailure{Step: step, Err: err}})
			}
		}
		d.finish(result, time.Since(started))
		out <- *result
	}()
	return out
}

// apply runs steps 2-4. It executes inside the device's serialization scope.
func (d *Dispatcher) apply(ctx context.Context, result *IngestionResult) {
	report := result.Report
	code := report.DeviceCode

	if d.isStale(code, report.ObservedAt) {
		result.Stale = true
		for _, step := range []Step{StepComponents, StepDirectory, StepExpiry} {
			result.Steps = append(result.Steps, StepOutcome{Step: step, Skipped: true})
			metrics.ObserveStep(string(step), metrics.ResultSkipped, 0)
		}
		d.logger.Infow("stale report skipped", "device_code", code, "message_id", result.MessageID, "observed_at", report.ObservedAt)
		return
	}

	applied := d.runStep(ctx, StepComponents, code, func(stepCtx context.Context) (int, error) {
		return d.components.Apply(stepCtx, code, report.InUse(), report.ObservedAt)
	})
	if applied.Err == nil {
		d.markApplied(code, report.ObservedAt)
	}

	upserted := d.runStep(ctx, StepDirectory, code, func(stepCtx context.Context) (int, error) {
		_, err := d.directory.Upsert(stepCtx, devices.Info{
			Code:    code,
			Type:    report.DeviceType,
			Name:    report.DeviceName,
			Version: report.FirmwareVersion,
		})
		if err != nil {
			return 0, err
		}
		return 1, nil
	})

	notified := d.runStep(ctx, StepExpiry, code, func(stepCtx context.Context) (int, error) {
		if err := d.expiry.OnReportApplied(stepCtx, code, report.Status); err != nil {
			return 0, err
		}
		return 1, nil
	})

	result.Steps = append(result.Steps, applied, upserted, notified)
}

// runStep retries fn with exponential backoff, bounding every attempt by the
// step timeout.
func (d *Dispatcher) runStep(ctx context.Context, step Step, code string, fn func(ctx context.Context) (int, error)) StepOutcome {
	outcome := StepOutcome{Step: step}
	started := time.Now()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.retry.InitialInterval
	policy.MaxInterval = d.retry.MaxInterval
	policy.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithMaxRetries(policy, uint64(d.retry.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	err := backoff.Retry(func() error {
		outcome.Attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, d.stepTimeout)
		defer cancel()
		affected, err := fn(attemptCtx)
		if err != nil {
			d.logger.Debugw("step attempt failed", "step", step, "device_code", code, "attempt", outcome.Attempts, "err", err)
			return err
		}
		outcome.Affected = affected
		return nil
	}, b)

	if err != nil {
		outcome.Err = &ReconciliationFailure{Step: step, Err: err}
		metrics.ObserveStep(string(step), metrics.ResultError, time.Since(started))
		d.logger.Warnw("reconciliation step failed", "step", step, "device_code", code, "attempts", outcome.Attempts, "err", err)
		return outcome
	}
	metrics.ObserveStep(string(step), metrics.ResultSuccess, time.Since(started))
	return outcome
}

func (d *Dispatcher) finish(result *IngestionResult, elapsed time.Duration) {
	outcome := metrics.ResultSuccess
	if !result.OK() {
		outcome = metrics.ResultError
	}
	metrics.ObserveIngest(outcome, elapsed)
	d.logger.Debugw("report ingested",
		"device_code", result.Report.DeviceCode,
		"message_id", result.MessageID,
		"status", result.Report.Status,
		"stale", result.Stale,
		"ok", result.OK(),
	)
}

func (d *Dispatcher) isStale(code string, observedAt time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastApplied[code]
	return ok && observedAt.Before(last)
}

func (d *Dispatcher) markApplied(code string, observedAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if observedAt.After(d.lastApplied[code]) {
		d.lastApplied[code] = observedAt
	}
}
