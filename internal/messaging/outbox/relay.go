package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultQueueSize      = 256
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// ErrQueueFull возвращается, когда буфер событий переполнен и событие отброшено.
var ErrQueueFull = errors.New("event relay queue is full")

var (
	relayPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oms_event_relay_publish_attempts_total",
		Help: "Total number of saga event publish attempts grouped by result.",
	}, []string{"result"})
	relayQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oms_event_relay_queue_depth",
		Help: "Current number of saga events waiting for publication.",
	})
)

// Publisher: брокер, в который уходят события (Kafka producer).
type Publisher interface {
	PublishEvent(topic string, key string, event interface{}) error
}

// RelayOptions задаёт параметры relay.
type RelayOptions struct {
	Logger         *log.Entry
	QueueSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Relay.
type Option func(*RelayOptions)

// WithLogger задаёт logger для relay.
func WithLogger(logger *log.Entry) Option {
	return func(opts *RelayOptions) {
		opts.Logger = logger
	}
}

// WithQueueSize задаёт ёмкость буфера событий.
func WithQueueSize(size int) Option {
	return func(opts *RelayOptions) {
		opts.QueueSize = size
	}
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *RelayOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *RelayOptions) {
		opts.RetryBaseDelay = delay
	}
}

type envelope struct {
	topic string
	key   string
	event interface{}
}

// Relay принимает события саги в буфер и публикует их в брокер из фоновой горутины.
// Сага не ждёт брокер: PublishEvent только ставит событие в очередь.
type Relay struct {
	publisher      Publisher
	queue          chan envelope
	logger         *log.Entry
	maxAttempts    int
	retryBaseDelay time.Duration

	runOnce sync.Once
	done    chan struct{}
}

// NewRelay создаёт relay поверх publisher.
func NewRelay(publisher Publisher, options ...Option) *Relay {
	opts := RelayOptions{
		QueueSize:      defaultQueueSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "event-relay")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}

	return &Relay{
		publisher:      publisher,
		queue:          make(chan envelope, opts.QueueSize),
		logger:         logger,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		done:           make(chan struct{}),
	}
}

// PublishEvent ставит событие в очередь. При переполнении событие отбрасывается.
func (r *Relay) PublishEvent(topic string, key string, event interface{}) error {
	select {
	case r.queue <- envelope{topic: topic, key: key, event: event}:
		relayQueueDepth.Inc()
		return nil
	default:
		relayPublishAttempts.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// Run публикует события до отмены ctx, затем один раз пытается отправить остаток очереди.
// Повторный вызов возвращается сразу.
func (r *Relay) Run(ctx context.Context) {
	started := false
	r.runOnce.Do(func() { started = true })
	if !started {
		return
	}
	defer close(r.done)

	if r.publisher == nil {
		r.logger.Warn("event relay is disabled: publisher is nil")
		return
	}

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case env := <-r.queue:
			relayQueueDepth.Dec()
			r.deliver(ctx, env, r.maxAttempts)
		}
	}
}

// Done закрывается, когда Run завершился.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Pending возвращает число событий в очереди.
func (r *Relay) Pending() int {
	return len(r.queue)
}

func (r *Relay) drain() {
	for {
		select {
		case env := <-r.queue:
			relayQueueDepth.Dec()
			r.deliver(context.Background(), env, 1)
		default:
			return
		}
	}
}

func (r *Relay) deliver(ctx context.Context, env envelope, attempts int) {
	if err := r.publishWithRetry(ctx, env, attempts); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"topic": env.topic,
			"key":   env.key,
		}).Error("saga event publish failed after retries")
		relayPublishAttempts.WithLabelValues("failed").Inc()
	}
}

func (r *Relay) publishWithRetry(ctx context.Context, env envelope, attempts int) error {
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := r.publisher.PublishEvent(env.topic, env.key, env.event)
		if err == nil {
			relayPublishAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		lastErr = err
		relayPublishAttempts.WithLabelValues("retry_error").Inc()

		if attempt >= attempts {
			break
		}

		delay := r.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("publish interrupted after %d attempts: %w", attempt, errors.Join(lastErr, ctx.Err()))
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", attempts, lastErr)
}

func (r *Relay) retryBackoff(attempt int) time.Duration {
	if r.retryBaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return r.retryBaseDelay
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := r.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}
