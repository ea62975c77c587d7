package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"home-manager/internal/eventing"
	"home-manager/internal/observability/metrics"
)

const (
	transportName = "nats"

	defaultBatch      = 10
	defaultFetchWait  = 5 * time.Second
	defaultAckWait    = 30 * time.Second
	defaultMaxDeliver = 5
	defaultAckPending = 1000
	fetchErrorBackoff = time.Second
)

// Message is the part of jetstream.Msg the consumer uses.
type Message interface {
	Subject() string
	Data() []byte
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	Nak() error
}

// ConsumerConfig names the stream and durable consumer.
type ConsumerConfig struct {
	Stream     string
	Durable    string
	Subject    string
	MaxDeliver int
	Batch      int
	FetchWait  time.Duration
}

// Validate checks required fields.
func (c ConsumerConfig) Validate() error {
	var errs []error
	if c.Stream == "" {
		errs = append(errs, errors.New("nats: stream is required"))
	}
	if c.Durable == "" {
		errs = append(errs, errors.New("nats: durable consumer name is required"))
	}
	if c.Subject == "" {
		errs = append(errs, errors.New("nats: subject is required"))
	}
	return errors.Join(errs...)
}

// Consumer pulls device messages from a durable JetStream consumer. Messages
// are routed and submitted in fetch order so per-device arrival order is
// preserved; results are awaited in the background before acking.
type Consumer struct {
	consumer   jetstream.Consumer
	router     *Router
	maxDeliver int
	batch      int
	fetchWait  time.Duration
	logger     *zap.SugaredLogger
	wg         sync.WaitGroup
}

// NewConsumer gets or creates the durable consumer.
func NewConsumer(ctx context.Context, js jetstream.JetStream, cfg ConsumerConfig, router *Router, logger *zap.SugaredLogger) (*Consumer, error) {
	if js == nil {
		return nil, errors.New("nats: nil jetstream")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	consumer, err := js.Consumer(ctx, cfg.Stream, cfg.Durable)
	if err != nil {
		maxDeliver := cfg.MaxDeliver
		if maxDeliver <= 0 {
			maxDeliver = defaultMaxDeliver
		}
		consumer, err = js.CreateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
			Durable:       cfg.Durable,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       defaultAckWait,
			MaxDeliver:    maxDeliver,
			MaxAckPending: defaultAckPending,
			FilterSubject: cfg.Subject,
		})
		if err != nil {
			return nil, fmt.Errorf("nats: create consumer %s/%s: %w", cfg.Stream, cfg.Durable, err)
		}
	}
	return newConsumer(consumer, cfg, router, logger)
}

func newConsumer(consumer jetstream.Consumer, cfg ConsumerConfig, router *Router, logger *zap.SugaredLogger) (*Consumer, error) {
	if router == nil {
		return nil, errors.New("nats: nil router")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := &Consumer{
		consumer:   consumer,
		router:     router,
		maxDeliver: cfg.MaxDeliver,
		batch:      cfg.Batch,
		fetchWait:  cfg.FetchWait,
		logger:     logger.With("stream", cfg.Stream, "consumer", cfg.Durable),
	}
	if c.maxDeliver <= 0 {
		c.maxDeliver = defaultMaxDeliver
	}
	if c.batch <= 0 {
		c.batch = defaultBatch
	}
	if c.fetchWait <= 0 {
		c.fetchWait = defaultFetchWait
	}
	return c, nil
}

// Run fetches until ctx is cancelled and then waits for in-flight messages.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Infow("nats consumer started", "patterns", c.router.Patterns())
	defer c.wg.Wait()
	for {
		if ctx.Err() != nil {
			c.logger.Infow("nats consumer stopping")
			return nil
		}
		batch, err := c.consumer.Fetch(c.batch, jetstream.FetchMaxWait(c.fetchWait))
		if err != nil {
			c.logger.Warnw("fetch failed", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(fetchErrorBackoff):
			}
			continue
		}
		for msg := range batch.Messages() {
			c.Handle(ctx, msg)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			c.logger.Debugw("fetch batch ended", "err", err)
		}
	}
}

// Handle routes and submits one message. It returns once the message is
// queued; the ack decision happens when its result arrives.
func (c *Consumer) Handle(ctx context.Context, msg Message) {
	delivered := uint64(1)
	messageID := ""
	var arrivedAt time.Time
	if meta, err := msg.Metadata(); err == nil && meta != nil {
		delivered = meta.NumDelivered
		messageID = fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream)
		arrivedAt = meta.Timestamp.UTC()
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	log := c.logger.With("subject", msg.Subject(), "message_id", messageID, "delivered", delivered)

	handler, wildcards, ok := c.router.Match(msg.Subject())
	if !ok {
		log.Warnw("no route for subject")
		metrics.IncTransportMessage(transportName, "unrouted")
		c.ack(log, msg)
		return
	}

	msgCtx := eventing.WithSource(eventing.WithCorrelationID(ctx, messageID), transportName)
	results, err := handler(msgCtx, Delivery{
		Subject:   msg.Subject(),
		Wildcards: wildcards,
		Data:      msg.Data(),
		MessageID: messageID,
		ArrivedAt: arrivedAt,
	})
	if err != nil {
		metrics.IncTransportMessage(transportName, "rejected")
		c.ack(log, msg)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result := <-results
		switch {
		case result.OK():
			metrics.IncTransportMessage(transportName, "acked")
			c.ack(log, msg)
		case result.Retryable() && delivered < uint64(c.maxDeliver):
			metrics.IncTransportMessage(transportName, "nacked")
			log.Warnw("report failed, requesting redelivery", "err", result.Err())
			if err := msg.Nak(); err != nil {
				log.Warnw("nak failed", "err", err)
			}
		default:
			metrics.IncTransportMessage(transportName, "dropped")
			log.Errorw("report failed after max deliveries", "err", result.Err())
			c.ack(log, msg)
		}
	}()
}

// Wait blocks until every submitted message has been acked or nacked.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) ack(log *zap.SugaredLogger, msg Message) {
	if err := msg.Ack(); err != nil {
		log.Warnw("ack failed", "err", err)
	}
}
