package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"notifyrelay/internal/entity"
	"notifyrelay/internal/queue"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/logger"
)

// fakeQueue is an in-memory queue.Adapter double: Receive drains a
// fixed batch once, then blocks (via context) so Pool.Run's poll loop
// idles until the test cancels its context.
type fakeQueue struct {
	mu          sync.Mutex
	batch       []queue.Message
	served      bool
	acked       []queue.Message
	rejected    []queue.Message
	extended    []queue.Message
	extendCalls int32
}

func (f *fakeQueue) Receive(ctx context.Context, maxMessages int) ([]queue.Message, error) {
	f.mu.Lock()
	if !f.served {
		f.served = true
		out := f.batch
		f.mu.Unlock()
		return out, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return nil, nil
}

func (f *fakeQueue) Publish(ctx context.Context, item entity.WorkItem, delay time.Duration) error {
	return nil
}
func (f *fakeQueue) PublishBatch(ctx context.Context, items []entity.WorkItem) error { return nil }

func (f *fakeQueue) Acknowledge(ctx context.Context, msg queue.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, msg)
	return nil
}

func (f *fakeQueue) Reject(ctx context.Context, msg queue.Message, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, msg)
	return nil
}

func (f *fakeQueue) ExtendVisibility(ctx context.Context, msg queue.Message) error {
	atomic.AddInt32(&f.extendCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended = append(f.extended, msg)
	return nil
}

func (f *fakeQueue) DeadLetter(ctx context.Context, item entity.WorkItem, reason string) error {
	return nil
}

func (f *fakeQueue) Close() error { return nil }

func (f *fakeQueue) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked)
}

type fakeProcessor struct {
	mu       sync.Mutex
	delay    time.Duration
	err      error
	seen     []entity.WorkItem
	fail     map[uuid.UUID]bool
}

func (p *fakeProcessor) Process(ctx context.Context, item entity.WorkItem) error {
	p.mu.Lock()
	p.seen = append(p.seen, item)
	failThis := p.fail != nil && p.fail[item.NotificationID]
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failThis {
		return errors.New("send failed")
	}
	return p.err
}

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewZapAdapter("notifyrelay-test", "test")
	require.NoError(t, err)
	return log
}

func TestPoolAcknowledgesOnSuccess(t *testing.T) {
	item := entity.WorkItem{NotificationID: uuid.New(), RecipientPhone: "+14155552671"}
	q := &fakeQueue{batch: []queue.Message{{Item: item}}}
	proc := &fakeProcessor{}

	p := NewPool(q, proc, testLogger(t), Config{Concurrency: 1, WaitSeconds: 1, VisibilityTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, q.ackCount())
	require.Len(t, proc.seen, 1)
	assert.Equal(t, item.NotificationID, proc.seen[0].NotificationID)
}

func TestPoolDoesNotAcknowledgeOnFailure(t *testing.T) {
	item := entity.WorkItem{NotificationID: uuid.New()}
	q := &fakeQueue{batch: []queue.Message{{Item: item}}}
	proc := &fakeProcessor{err: errors.New("boom")}

	p := NewPool(q, proc, testLogger(t), Config{Concurrency: 1, WaitSeconds: 1, VisibilityTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, q.ackCount(), "a failed handler must leave the message unacked for redelivery")
}

// TestPoolExtendsVisibilityForSlowHandlers exercises spec.md §4.C6's
// "approaches 70% of the visibility timeout" guard: a handler slower
// than that threshold must trigger ExtendVisibility before it finishes.
func TestPoolExtendsVisibilityForSlowHandlers(t *testing.T) {
	item := entity.WorkItem{NotificationID: uuid.New()}
	q := &fakeQueue{batch: []queue.Message{{Item: item}}}
	proc := &fakeProcessor{delay: 150 * time.Millisecond}

	p := NewPool(q, proc, testLogger(t), Config{
		Concurrency:       1,
		WaitSeconds:       1,
		VisibilityTimeout: 100 * time.Millisecond,
		ExtendThreshold:   0.5, // extend after 50ms, well before the 150ms handler returns
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&q.extendCalls)), 1)
}

func TestPoolGracefulShutdownAwaitsInFlight(t *testing.T) {
	item := entity.WorkItem{NotificationID: uuid.New()}
	q := &fakeQueue{batch: []queue.Message{{Item: item}}}
	proc := &fakeProcessor{delay: 50 * time.Millisecond}

	p := NewPool(q, proc, testLogger(t), Config{
		Concurrency:         1,
		WaitSeconds:         1,
		VisibilityTimeout:   time.Second,
		ShutdownGracePeriod: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, q.ackCount(), "the in-flight handler must finish and ack before Run returns")
}
