package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feed "home-manager/internal/feed/domain"
	"home-manager/internal/feed/infrastructure/memory"
	reports "home-manager/internal/reports/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingObserver struct {
	mu      sync.Mutex
	entries []feed.Entry
}

func (o *recordingObserver) Notify(_ context.Context, entry feed.Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, entry)
}

func statusReport(code string) reports.StatusReport {
	return reports.StatusReport{DeviceCode: code, Status: reports.StatusOn, ObservedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func TestPublisher_AppendAssignsSeqAndNotifies(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 1, 0, time.UTC)
	observer := &recordingObserver{}
	publisher, err := NewPublisher(memory.NewStore(), WithClock(fixedClock{now: now}), WithObserver(observer))
	require.NoError(t, err)

	ctx := context.Background()
	first, err := publisher.Append(ctx, publisher.NewEntry(statusReport("A")))
	require.NoError(t, err)
	second, err := publisher.Append(ctx, publisher.NewEntry(statusReport("A")))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, now, first.ReceivedAt)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, observer.entries, 2)
}

func TestPublisher_AppendSameEntryIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	publisher, err := NewPublisher(store)
	require.NoError(t, err)

	entry := publisher.NewEntry(statusReport("A"))
	first, err := publisher.Append(context.Background(), entry)
	require.NoError(t, err)
	again, err := publisher.Append(context.Background(), entry)
	require.NoError(t, err)

	assert.Equal(t, first.Seq, again.Seq)
	assert.Equal(t, 1, store.Len())
}

func TestPublisher_AppendRejectsEmptyDeviceCode(t *testing.T) {
	publisher, err := NewPublisher(memory.NewStore())
	require.NoError(t, err)

	_, err = publisher.Append(context.Background(), publisher.NewEntry(reports.StatusReport{Status: reports.StatusOff}))
	require.ErrorIs(t, err, feed.ErrEmptyDeviceCode)
}

func TestPublisher_ListClampsLimit(t *testing.T) {
	publisher, err := NewPublisher(memory.NewStore())
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < defaultListLimit+5; i++ {
		_, err := publisher.Append(ctx, publisher.NewEntry(statusReport("A")))
		require.NoError(t, err)
	}

	list, err := publisher.List(ctx, -3, 0)
	require.NoError(t, err)
	assert.Len(t, list, defaultListLimit)
	assert.Equal(t, int64(1), list[0].Seq)

	tail, err := publisher.List(ctx, int64(defaultListLimit), maxListLimit+1)
	require.NoError(t, err)
	assert.Len(t, tail, 5)
}

func TestNewPublisher_RequiresStore(t *testing.T) {
	_, err := NewPublisher(nil)
	require.Error(t, err)
}
