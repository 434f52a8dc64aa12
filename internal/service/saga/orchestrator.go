package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
	"github.com/vladislavdragonenkov/purchase-saga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/purchase-saga/internal/metrics"
)

const (
	// DefaultMaxParallelItems ограничивает число одновременно обрабатываемых позиций.
	DefaultMaxParallelItems = 8
	// DefaultCompensationTimeout: бюджет на все компенсирующие возвраты одной саги.
	DefaultCompensationTimeout = 10 * time.Second

	// Коллизия номера заказа маловероятна, но хранилище её отклоняет.
	maxOrderNumberAttempts = 3

	tracerName = "github.com/vladislavdragonenkov/purchase-saga/internal/service/saga"
)

// EventPublisher публикует события саги (Kafka producer или заглушка в тестах).
type EventPublisher interface {
	PublishEvent(topic string, key string, event interface{}) error
}

// PurchaseResult: ответ на успешную покупку.
type PurchaseResult struct {
	OrderID     string
	OrderNumber string
	TotalAmount decimal.Decimal
}

// Options настраивает Orchestrator.
type Options struct {
	MaxParallelItems    int
	CompensationTimeout time.Duration
	Logger              *log.Entry
	Metrics             *metrics.SagaMetrics
	Publisher           EventPublisher
	Tracer              trace.Tracer

	// Генераторы подменяются в тестах.
	Now              func() time.Time
	NewCorrelationID func() string
	NewOrderNumber   func() string
}

// Option изменяет Options.
type Option func(*Options)

// WithMaxParallelItems задаёт предел параллельных позиций.
func WithMaxParallelItems(n int) Option {
	return func(opts *Options) {
		opts.MaxParallelItems = n
	}
}

// WithCompensationTimeout задаёт бюджет на компенсацию.
func WithCompensationTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.CompensationTimeout = timeout
	}
}

// WithLogger задаёт logger оркестратора.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает Prometheus метрики.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithPublisher включает публикацию событий саги.
func WithPublisher(publisher EventPublisher) Option {
	return func(opts *Options) {
		opts.Publisher = publisher
	}
}

// WithTracer задаёт OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *Options) {
		opts.Tracer = tracer
	}
}

// WithClock подменяет источник времени для OrderDate.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// WithOrderNumberGenerator подменяет генератор номеров заказов.
func WithOrderNumberGenerator(gen func() string) Option {
	return func(opts *Options) {
		opts.NewOrderNumber = gen
	}
}

// WithCorrelationIDGenerator подменяет генератор correlation id.
func WithCorrelationIDGenerator(gen func() string) Option {
	return func(opts *Options) {
		opts.NewCorrelationID = gen
	}
}

// Orchestrator проводит сагу покупки: параллельные fetch+reserve по позициям,
// сборка заказа, сохранение и компенсация подтверждённых резервов при любой ошибке.
type Orchestrator struct {
	gateway domain.CatalogGateway
	orders  domain.OrderRepository
	opts    Options
	logger  *log.Entry
	tracer  trace.Tracer
}

// NewOrchestrator создаёт оркестратор поверх шлюза каталога и хранилища заказов.
func NewOrchestrator(gateway domain.CatalogGateway, orders domain.OrderRepository, options ...Option) *Orchestrator {
	opts := Options{
		MaxParallelItems:    DefaultMaxParallelItems,
		CompensationTimeout: DefaultCompensationTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.MaxParallelItems <= 0 {
		opts.MaxParallelItems = DefaultMaxParallelItems
	}
	if opts.CompensationTimeout <= 0 {
		opts.CompensationTimeout = DefaultCompensationTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.New().WithField("component", "saga")
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewCorrelationID == nil {
		opts.NewCorrelationID = uuid.NewString
	}
	if opts.NewOrderNumber == nil {
		opts.NewOrderNumber = domain.NewOrderNumber
	}

	return &Orchestrator{
		gateway: gateway,
		orders:  orders,
		opts:    opts,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
	}
}

// itemOutcome: результат обработки одной позиции. reserved выставляется
// после подтверждённого ответа склада, uncertain: резерв ушёл на склад,
// но ответа со статусом нет.
type itemOutcome struct {
	item      domain.PurchaseItem
	line      domain.OrderItem
	reserved  bool
	uncertain bool
	err       error
}

// Purchase выполняет сагу покупки. Любая ошибка возвращается как *domain.SagaError;
// к этому моменту все подтверждённые и неопределённые резервы уже отправлены на возврат.
func (o *Orchestrator) Purchase(ctx context.Context, req domain.PurchaseRequest, identity domain.CallerIdentity) (result PurchaseResult, err error) {
	correlationID := o.opts.NewCorrelationID()
	logger := o.logger.WithField("correlation_id", correlationID)

	ctx, span := o.tracer.Start(ctx, "saga.purchase", trace.WithAttributes(
		attribute.String("correlation.id", correlationID),
		attribute.Int("items.count", len(req.Items)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordSagaStarted()
		defer func() {
			o.opts.Metrics.RecordSagaFinished(time.Since(start))
		}()
	}

	callerID := identity.ID()
	if identity.IsAnonymous() {
		callerID = "anon-" + uuid.NewString()
	}
	logger = logger.WithField("caller_id", callerID)

	if errs := req.Validate(); len(errs) > 0 {
		return PurchaseResult{}, o.fail(logger, callerID, &domain.SagaError{
			Kind:          domain.KindInvalidRequest,
			Detail:        "Invalid purchase request",
			CorrelationID: correlationID,
			Err:           errors.Join(errs...),
		})
	}

	call := domain.CallContext{CorrelationID: correlationID, Credential: identity.Credential()}
	logger.WithField("items", len(req.Items)).Info("purchase saga started")

	outcomes, firstErr := o.reserveAll(ctx, req.Items, call)
	if firstErr == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			firstErr = ctxErr
		}
	}
	if firstErr != nil {
		o.compensate(ctx, logger, callerID, call, reservationsToRelease(outcomes))
		return PurchaseResult{}, o.fail(logger, callerID, o.itemFailure(ctx, correlationID, firstErr))
	}

	lines := make([]domain.OrderItem, 0, len(outcomes))
	for _, outcome := range outcomes {
		lines = append(lines, outcome.line)
	}

	saved, err := o.persist(ctx, logger, callerID, lines)
	if err != nil {
		o.compensate(ctx, logger, callerID, call, reservationsToRelease(outcomes))
		return PurchaseResult{}, o.fail(logger, callerID, &domain.SagaError{
			Kind:          domain.KindPersistenceFailure,
			Detail:        "Failed to save order",
			CorrelationID: correlationID,
			Err:           err,
		})
	}

	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordSagaCompleted()
	}
	logger.WithFields(log.Fields{
		"order_id":     saved.ID,
		"order_number": saved.OrderNumber,
		"total_amount": saved.TotalAmount.StringFixed(2),
	}).Info("purchase saga completed")
	o.publish(logger, kafka.NewPurchaseEvent(kafka.EventTypePurchaseCompleted, correlationID, callerID, map[string]interface{}{
		"total_amount": saved.TotalAmount.String(),
		"items_count":  len(saved.Items),
	}).WithOrder(saved.ID, saved.OrderNumber))

	return PurchaseResult{
		OrderID:     saved.ID,
		OrderNumber: saved.OrderNumber,
		TotalAmount: saved.TotalAmount,
	}, nil
}

// reserveAll запускает fetch+reserve по каждой позиции. Первая ошибка отменяет
// позиции, которые ещё не начали резерв; начатые резервы дожидаются ответа склада.
func (o *Orchestrator) reserveAll(ctx context.Context, items []domain.PurchaseItem, call domain.CallContext) ([]itemOutcome, error) {
	outcomes := make([]itemOutcome, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxParallelItems)

	for i, item := range items {
		g.Go(func() error {
			outcomes[i] = o.processItem(gctx, item, call)
			return outcomes[i].err
		})
	}
	return outcomes, g.Wait()
}

func (o *Orchestrator) processItem(ctx context.Context, item domain.PurchaseItem, call domain.CallContext) itemOutcome {
	outcome := itemOutcome{item: item}
	if err := ctx.Err(); err != nil {
		outcome.err = err
		return outcome
	}

	stepStart := time.Now()
	snapshot, err := o.gateway.FetchProduct(ctx, item.ProductID, call)
	o.observeStep(domain.SagaStepFetch, stepStart)
	if err != nil {
		outcome.err = err
		return outcome
	}
	if err := ctx.Err(); err != nil {
		outcome.err = err
		return outcome
	}

	// Отмена саги не прерывает отправленный резерв: его исход нужен компенсации.
	// Длительность ограничена таймаутом шлюза.
	stepStart = time.Now()
	err = o.gateway.Reserve(context.WithoutCancel(ctx), item.ProductID, item.Quantity, call)
	o.observeStep(domain.SagaStepReserve, stepStart)
	if err != nil {
		outcome.err = err
		outcome.uncertain = domain.OutcomeUnknown(err)
		return outcome
	}

	outcome.reserved = true
	outcome.line = snapshot.Reserved(item.Quantity)
	return outcome
}

// persist собирает заказ и сохраняет его; при коллизии номера выдаёт новый.
func (o *Orchestrator) persist(ctx context.Context, logger *log.Entry, callerID string, lines []domain.OrderItem) (domain.Order, error) {
	stepStart := time.Now()
	defer o.observeStep(domain.SagaStepPersist, stepStart)

	var lastErr error
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order := domain.NewOrder(callerID, o.opts.NewOrderNumber(), lines, o.opts.Now())
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return domain.Order{}, errors.Join(errs...)
		}

		saved, err := o.orders.Create(ctx, order)
		if err == nil {
			return saved, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrOrderConflict) {
			break
		}
		logger.WithError(err).WithFields(log.Fields{
			"order_number": order.OrderNumber,
			"attempt":      attempt,
		}).Warn("order number collision, regenerating")
	}
	return domain.Order{}, lastErr
}

// itemFailure превращает ошибку позиции в SagaError с деталями ответа каталога.
func (o *Orchestrator) itemFailure(ctx context.Context, correlationID string, err error) *domain.SagaError {
	sagaErr := &domain.SagaError{
		Kind:          domain.KindOf(err),
		CorrelationID: correlationID,
		Err:           err,
	}

	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) {
		sagaErr.ProductID = gwErr.ProductID
		sagaErr.DownstreamBody = gwErr.Body
	}

	switch sagaErr.Kind {
	case domain.KindProductNotFound:
		sagaErr.Detail = "Product not found"
	case domain.KindInsufficientStock:
		sagaErr.Detail = "Insufficient stock"
	default:
		sagaErr.Detail = "Product service error"
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		sagaErr.Kind = domain.KindUpstreamUnavailable
		sagaErr.Detail = "Purchase cancelled"
	}
	return sagaErr
}

func (o *Orchestrator) fail(logger *log.Entry, callerID string, sagaErr *domain.SagaError) error {
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordSagaFailed(string(sagaErr.Kind))
	}
	entry := logger.WithError(sagaErr.Err).WithField("kind", sagaErr.Kind)
	if sagaErr.ProductID != "" {
		entry = entry.WithField("product_id", sagaErr.ProductID)
	}
	entry.Warn("purchase saga failed")

	metadata := map[string]interface{}{
		"kind":   string(sagaErr.Kind),
		"detail": sagaErr.Detail,
	}
	if sagaErr.ProductID != "" {
		metadata["product_id"] = sagaErr.ProductID
	}
	o.publish(logger, kafka.NewPurchaseEvent(kafka.EventTypePurchaseFailed, sagaErr.CorrelationID, callerID, metadata))
	return sagaErr
}

// publish отправляет событие; ошибки Kafka не влияют на исход саги.
func (o *Orchestrator) publish(logger *log.Entry, event *kafka.PurchaseEvent) {
	if o.opts.Publisher == nil {
		return
	}
	if err := o.opts.Publisher.PublishEvent(kafka.TopicPurchaseEvents, event.CorrelationID, event); err != nil {
		logger.WithError(err).WithField("event_type", event.EventType).Warn("failed to publish purchase event to kafka")
	}
}

func (o *Orchestrator) observeStep(step domain.SagaStep, start time.Time) {
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordStepDuration(string(step), time.Since(start))
	}
}
