package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/purchase-saga/internal/health"
	"github.com/vladislavdragonenkov/purchase-saga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/purchase-saga/internal/messaging/outbox"
	"github.com/vladislavdragonenkov/purchase-saga/internal/metrics"
	"github.com/vladislavdragonenkov/purchase-saga/internal/service/identity"
	"github.com/vladislavdragonenkov/purchase-saga/internal/service/inventory"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Orders   domain.OrderRepository
	Catalog  domain.CatalogGateway
	Identity *identity.Resolver
	Metrics  *metrics.SagaMetrics
	Producer *kafka.Producer
	Events   *outbox.Relay
	Logger   *log.Entry

	checkers map[string]healthcheck.Checker
	closeFn  func() error
}

// NewDependencies собирает хранилище, шлюз каталога, resolver и producer по cfg.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	storage, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	catalog, catalogChecker := newCatalogGateway(cfg, logger)

	// Без Kafka сервис работает, события просто не публикуются.
	producer, _ := initKafkaProducer(cfg.KafkaBrokerList(), logger)

	deps := &Dependencies{
		Orders:  storage.orders,
		Catalog: catalog,
		Identity: identity.NewResolver(identity.Config{
			Secret:         []byte(cfg.JWTSecret),
			Issuer:         cfg.JWTIssuer,
			AllowAnonymous: cfg.AllowAnonymous,
		}, logger.WithField("component", "identity")),
		Metrics:  metrics.NewSagaMetrics(),
		Producer: producer,
		Logger:   logger,
		checkers: map[string]healthcheck.Checker{
			"storage": storage.storageChecker,
			"catalog": catalogChecker,
		},
		closeFn: storage.closeFn,
	}
	if producer != nil {
		deps.Events = outbox.NewRelay(producer, outbox.WithLogger(logger.WithField("component", "event-relay")))
	}
	if cfg.AllowAnonymous {
		logger.Warn("anonymous purchases are enabled; disable OMS_ALLOW_ANONYMOUS outside development")
	}
	return deps, nil
}

// RegisterHealthCheckers добавляет проверки хранилища и каталога в handler.
func (d *Dependencies) RegisterHealthCheckers(handler *healthcheck.Handler) {
	for name, checker := range d.checkers {
		handler.RegisterChecker(name, checker)
	}
}

// StartEventRelay запускает фоновую публикацию событий саги.
// Возвращённая функция останавливает relay и ждёт отправки остатка очереди.
func (d *Dependencies) StartEventRelay(ctx context.Context) (stop func()) {
	if d.Events == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go d.Events.Run(ctx)
	return func() {
		cancel()
		<-d.Events.Done()
	}
}

// Close освобождает producer и подключение к хранилищу.
func (d *Dependencies) Close() {
	closeKafka(d.Producer, d.Logger)
	if d.closeFn != nil {
		if err := d.closeFn(); err != nil {
			d.Logger.WithError(err).Warn("failed to close storage")
		}
	}
}

// newCatalogGateway выбирает HTTP-клиент product-service или демо-каталог.
func newCatalogGateway(cfg Config, logger *log.Entry) (domain.CatalogGateway, healthcheck.Checker) {
	if cfg.ProductServiceURL == "" {
		logger.Warn("OMS_PRODUCT_SERVICE_URL is empty, using in-memory demo catalog")
		return inventory.NewDemoService(), healthcheck.NewSimpleChecker("catalog", func(context.Context) error {
			return nil
		})
	}

	client := inventory.NewClient(cfg.ProductServiceURL,
		inventory.WithRequestTimeout(cfg.GatewayTimeout),
		inventory.WithLogger(logger.WithField("component", "inventory-client")),
	)
	// Каталог вне нашей зоны: его недоступность деградирует сервис, но не снимает с балансировки.
	checker := healthcheck.NewDegradedChecker("catalog", client.Ping)

	if cfg.GatewayRetryAttempts <= 1 {
		return client, checker
	}
	retryCfg := inventory.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.GatewayRetryAttempts
	return inventory.NewRetryingGateway(client, retryCfg, logger.WithField("component", "retrying-gateway")), checker
}
