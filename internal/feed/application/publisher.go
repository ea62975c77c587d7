package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	feed "home-manager/internal/feed/domain"
	reports "home-manager/internal/reports/domain"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Observer receives entries after they are stored.
type Observer interface {
	Notify(ctx context.Context, entry feed.Entry)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Publisher appends validated reports to the feed.
type Publisher struct {
	store     feed.Store
	observers []Observer
	clock     Clock
	newID     func() string
	logger    *zap.SugaredLogger
}

// PublisherOption customizes the publisher.
type PublisherOption func(*Publisher)

// WithObserver adds a live observer.
func WithObserver(observer Observer) PublisherOption {
	return func(p *Publisher) {
		if observer != nil {
			p.observers = append(p.observers, observer)
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) PublisherOption {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.SugaredLogger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher constructs a feed publisher.
func NewPublisher(store feed.Store, opts ...PublisherOption) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("feed: nil store")
	}
	p := &Publisher{
		store:  store,
		clock:  systemClock{},
		newID:  func() string { return uuid.NewString() },
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewEntry prepares an entry with a fresh idempotency key. Retrying Append
// with the same entry never produces a duplicate.
func (p *Publisher) NewEntry(report reports.StatusReport) feed.Entry {
	return feed.Entry{
		ID:         p.newID(),
		ReceivedAt: p.clock.Now().UTC(),
		Report:     report,
	}
}

// Append stores the entry and notifies observers.
func (p *Publisher) Append(ctx context.Context, entry feed.Entry) (feed.Entry, error) {
	if err := entry.Validate(); err != nil {
		return feed.Entry{}, err
	}
	stored, err := p.store.Append(ctx, entry)
	if err != nil {
		return feed.Entry{}, err
	}
	for _, observer := range p.observers {
		observer.Notify(ctx, stored)
	}
	p.logger.Debugw("feed entry appended", "device_code", stored.Report.DeviceCode, "seq", stored.Seq)
	return stored, nil
}

// List returns entries after the given sequence number.
func (p *Publisher) List(ctx context.Context, afterSeq int64, limit int) ([]feed.Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if afterSeq < 0 {
		afterSeq = 0
	}
	return p.store.List(ctx, afterSeq, limit)
}
