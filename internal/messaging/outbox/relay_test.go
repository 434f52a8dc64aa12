package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubPublisher struct {
	mu     sync.Mutex
	err    error
	keys   []string
	topics []string
}

func (p *stubPublisher) PublishEvent(topic string, key string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	return p.err
}

func (p *stubPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func waitForCalls(t *testing.T, publisher *stubPublisher, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if publisher.calls() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d publish calls, got %d", want, publisher.calls())
}

func TestRelay_PublishesQueuedEvents(t *testing.T) {
	t.Parallel()

	publisher := &stubPublisher{}
	relay := NewRelay(publisher, WithRetryBaseDelay(0))

	ctx, cancel := context.WithCancel(context.Background())
	go relay.Run(ctx)

	if err := relay.PublishEvent("purchase-events", "cid-1", map[string]string{"type": "completed"}); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}
	waitForCalls(t, publisher, 1)

	cancel()
	<-relay.Done()

	if publisher.keys[0] != "cid-1" || publisher.topics[0] != "purchase-events" {
		t.Fatalf("unexpected delivery: topic=%s key=%s", publisher.topics[0], publisher.keys[0])
	}
}

func TestRelay_RetriesUntilMaxAttempts(t *testing.T) {
	t.Parallel()

	publisher := &stubPublisher{err: errors.New("broker down")}
	relay := NewRelay(publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))

	ctx, cancel := context.WithCancel(context.Background())
	go relay.Run(ctx)

	if err := relay.PublishEvent("purchase-events", "cid-2", struct{}{}); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}
	waitForCalls(t, publisher, 3)

	cancel()
	<-relay.Done()

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
}

func TestRelay_QueueFullDropsEvent(t *testing.T) {
	t.Parallel()

	relay := NewRelay(&stubPublisher{}, WithQueueSize(1))

	if err := relay.PublishEvent("t", "k1", nil); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}
	if err := relay.PublishEvent("t", "k2", nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if got := relay.Pending(); got != 1 {
		t.Fatalf("expected 1 pending event, got %d", got)
	}
}

func TestRelay_DrainsQueueOnShutdown(t *testing.T) {
	t.Parallel()

	publisher := &stubPublisher{}
	relay := NewRelay(publisher, WithRetryBaseDelay(0))
	for _, key := range []string{"k1", "k2"} {
		if err := relay.PublishEvent("t", key, nil); err != nil {
			t.Fatalf("unexpected enqueue error: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	relay.Run(ctx)

	if got := publisher.calls(); got != 2 {
		t.Fatalf("expected 2 drained events, got %d", got)
	}
	if got := relay.Pending(); got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}
}

func TestRelay_NilPublisherStopsImmediately(t *testing.T) {
	t.Parallel()

	relay := NewRelay(nil)
	relay.Run(context.Background())

	select {
	case <-relay.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestRelay_SecondRunReturns(t *testing.T) {
	t.Parallel()

	relay := NewRelay(&stubPublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	relay.Run(ctx)

	finished := make(chan struct{})
	go func() {
		relay.Run(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("second Run must return immediately")
	}
}

func TestRelay_RetryBackoff(t *testing.T) {
	t.Parallel()

	relay := NewRelay(&stubPublisher{}, WithRetryBaseDelay(10*time.Millisecond))

	if got := relay.retryBackoff(1); got != 10*time.Millisecond {
		t.Fatalf("expected 10ms for first retry, got %s", got)
	}
	if got := relay.retryBackoff(3); got != 40*time.Millisecond {
		t.Fatalf("expected 40ms for third retry, got %s", got)
	}

	relay = NewRelay(&stubPublisher{}, WithRetryBaseDelay(0))
	if got := relay.retryBackoff(5); got != 0 {
		t.Fatalf("expected zero backoff, got %s", got)
	}
}

func TestNewRelay_NormalizesOptions(t *testing.T) {
	t.Parallel()

	relay := NewRelay(&stubPublisher{}, WithQueueSize(-1), WithMaxAttempts(0), WithRetryBaseDelay(-time.Second))
	if cap(relay.queue) != defaultQueueSize {
		t.Fatalf("expected default queue size, got %d", cap(relay.queue))
	}
	if relay.maxAttempts != defaultMaxAttempts {
		t.Fatalf("expected default attempts, got %d", relay.maxAttempts)
	}
	if relay.retryBaseDelay != 0 {
		t.Fatalf("expected clamped delay, got %s", relay.retryBaseDelay)
	}
}
