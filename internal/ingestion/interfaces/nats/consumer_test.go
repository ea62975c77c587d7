package nats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"home-manager/internal/eventing"
	"home-manager/internal/ingestion/application"
	reports "home-manager/internal/reports/domain"
)

type fakeMsg struct {
	subject   string
	data      []byte
	delivered uint64
	seq       uint64
	stamp     time.Time

	mu   sync.Mutex
	acks int
	naks int
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{
		Stream:       "DEVICE_STATUS",
		Sequence:     jetstream.SequencePair{Stream: m.seq},
		NumDelivered: m.delivered,
		Timestamp:    m.stamp,
	}, nil
}

func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks++
	return nil
}

func (m *fakeMsg) Nak() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naks++
	return nil
}

func (m *fakeMsg) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks, m.naks
}

type fakeAcceptor struct {
	mu       sync.Mutex
	calls    []string
	ctxCorr  []string
	arrivals []time.Time
	result   application.IngestionResult
	rejectOn string
}

func (a *fakeAcceptor) Accept(ctx context.Context, raw []byte, topicCode, messageID string, arrivedAt time.Time) (<-chan application.IngestionResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, topicCode+"|"+messageID)
	a.arrivals = append(a.arrivals, arrivedAt)
	a.ctxCorr = append(a.ctxCorr, eventing.CorrelationID(ctx))
	a.mu.Unlock()
	if topicCode == a.rejectOn {
		return nil, &reports.ValidationError{DeviceCode: topicCode, Fields: []reports.FieldError{{Field: "status", Message: "is required"}}}
	}
	out := make(chan application.IngestionResult, 1)
	res := a.result
	res.MessageID = messageID
	out <- res
	return out, nil
}

func newTestConsumer(t *testing.T, acceptor *fakeAcceptor) *Consumer {
	t.Helper()
	router := NewRouter()
	require.NoError(t, router.Handle("home.devices.*.state", StateHandler(acceptor)))
	c, err := newConsumer(nil, ConsumerConfig{Stream: "DEVICE_STATUS", Durable: "test", Subject: "home.devices.*.state", MaxDeliver: 3}, router, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return c
}

func okResult() application.IngestionResult {
	return application.IngestionResult{Steps: []application.StepOutcome{{Step: application.StepFeed, Attempts: 1}}}
}

func failedResult() application.IngestionResult {
	err := &application.ReconciliationFailure{Step: application.StepComponents, Err: errors.New("db down")}
	return application.IngestionResult{Steps: []application.StepOutcome{{Step: application.StepComponents, Attempts: 3, Err: err}}}
}

func TestConsumer_AcksSuccess(t *testing.T) {
	acceptor := &fakeAcceptor{result: okResult()}
	c := newTestConsumer(t, acceptor)
	msg := &fakeMsg{subject: "home.devices.A.state", data: []byte(`{"status":"ON"}`), delivered: 1, seq: 9}

	c.Handle(context.Background(), msg)
	c.Wait()

	acks, naks := msg.counts()
	require.Equal(t, 1, acks)
	require.Zero(t, naks)
	require.Equal(t, []string{"A|DEVICE_STATUS:9"}, acceptor.calls)
	require.Equal(t, []string{"DEVICE_STATUS:9"}, acceptor.ctxCorr)
}

func TestConsumer_RedeliveryKeepsStreamTimestamp(t *testing.T) {
	acceptor := &fakeAcceptor{result: failedResult()}
	c := newTestConsumer(t, acceptor)
	stamp := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	c.Handle(context.Background(), &fakeMsg{subject: "home.devices.A.state", delivered: 1, seq: 4, stamp: stamp})
	c.Handle(context.Background(), &fakeMsg{subject: "home.devices.A.state", delivered: 2, seq: 4, stamp: stamp})
	c.Wait()

	require.Equal(t, []string{"A|DEVICE_STATUS:4", "A|DEVICE_STATUS:4"}, acceptor.calls)
	require.Len(t, acceptor.arrivals, 2)
	for _, got := range acceptor.arrivals {
		require.True(t, got.Equal(stamp))
	}
}

func TestConsumer_AcksRejection(t *testing.T) {
	acceptor := &fakeAcceptor{rejectOn: "A"}
	c := newTestConsumer(t, acceptor)
	msg := &fakeMsg{subject: "home.devices.A.state", data: []byte(`{}`), delivered: 1}

	c.Handle(context.Background(), msg)
	c.Wait()

	acks, naks := msg.counts()
	require.Equal(t, 1, acks)
	require.Zero(t, naks)
}

func TestConsumer_NaksRetryableUntilMaxDeliver(t *testing.T) {
	acceptor := &fakeAcceptor{result: failedResult()}
	c := newTestConsumer(t, acceptor)

	first := &fakeMsg{subject: "home.devices.A.state", delivered: 1, seq: 1}
	c.Handle(context.Background(), first)
	last := &fakeMsg{subject: "home.devices.A.state", delivered: 3, seq: 1}
	c.Handle(context.Background(), last)
	c.Wait()

	acks, naks := first.counts()
	require.Zero(t, acks)
	require.Equal(t, 1, naks)

	acks, naks = last.counts()
	require.Equal(t, 1, acks)
	require.Zero(t, naks)
}

func TestConsumer_AcksUnroutedSubject(t *testing.T) {
	acceptor := &fakeAcceptor{result: okResult()}
	c := newTestConsumer(t, acceptor)
	msg := &fakeMsg{subject: "home.devices.A.config", delivered: 1}

	c.Handle(context.Background(), msg)
	c.Wait()

	acks, _ := msg.counts()
	require.Equal(t, 1, acks)
	require.Empty(t, acceptor.calls)
}

func TestConsumer_SubmitsInArrivalOrder(t *testing.T) {
	acceptor := &fakeAcceptor{result: okResult()}
	c := newTestConsumer(t, acceptor)
	for _, code := range []string{"A", "B", "A", "C"} {
		c.Handle(context.Background(), &fakeMsg{subject: "home.devices." + code + ".state", delivered: 1})
	}
	c.Wait()

	codes := make([]string, 0, len(acceptor.calls))
	for _, call := range acceptor.calls {
		codes = append(codes, call[:1])
	}
	require.Equal(t, []string{"A", "B", "A", "C"}, codes)
}

func TestConsumerConfig_Validate(t *testing.T) {
	err := ConsumerConfig{}.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "stream")
	require.ErrorContains(t, err, "durable")
	require.ErrorContains(t, err, "subject")
	require.NoError(t, ConsumerConfig{Stream: "S", Durable: "D", Subject: "x.>"}.Validate())
}
