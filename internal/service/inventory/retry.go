package inventory

import (
	"context"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию: одна попытка, без повторов.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   1,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryingGateway оборачивает CatalogGateway повторами с экспоненциальной задержкой.
//
// FetchProduct повторяется при любой временной ошибке. Reserve и Release повторяются
// только если upstream явно ответил 502/503/504: при обрыве соединения или таймауте
// исход на складе неизвестен, и повтор может задвоить резерв или возврат.
// NotFound и Conflict не повторяются никогда.
type RetryingGateway struct {
	next   domain.CatalogGateway
	config RetryConfig
	logger *log.Entry
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryingGateway создаёт декоратор с retry логикой.
func NewRetryingGateway(next domain.CatalogGateway, config RetryConfig, logger *log.Entry) *RetryingGateway {
	if logger == nil {
		logger = log.New().WithField("component", "retrying-gateway")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}

	return &RetryingGateway{
		next:   next,
		config: config,
		logger: logger,
		sleep:  sleepContext,
	}
}

// FetchProduct запрашивает товар с повторами.
func (g *RetryingGateway) FetchProduct(ctx context.Context, productID string, call domain.CallContext) (domain.ProductSnapshot, error) {
	var snapshot domain.ProductSnapshot
	err := g.executeWithRetry(ctx, opFetch, productID, call, domain.IsRetryable, func() error {
		var err error
		snapshot, err = g.next.FetchProduct(ctx, productID, call)
		return err
	})
	return snapshot, err
}

// Reserve резервирует товар, повторяя только явные отказы шлюза.
func (g *RetryingGateway) Reserve(ctx context.Context, productID string, quantity int32, call domain.CallContext) error {
	return g.executeWithRetry(ctx, opReserve, productID, call, isRejectedBeforeCommit, func() error {
		return g.next.Reserve(ctx, productID, quantity, call)
	})
}

// Release возвращает товар, повторяя только явные отказы шлюза.
func (g *RetryingGateway) Release(ctx context.Context, productID string, quantity int32, call domain.CallContext) error {
	return g.executeWithRetry(ctx, opRelease, productID, call, isRejectedBeforeCommit, func() error {
		return g.next.Release(ctx, productID, quantity, call)
	})
}

func (g *RetryingGateway) executeWithRetry(
	ctx context.Context,
	op, productID string,
	call domain.CallContext,
	shouldRetry func(error) bool,
	fn func() error,
) error {
	var lastErr error
	delay := g.config.InitialDelay

	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				g.logger.WithFields(log.Fields{
					"op":             op,
					"product_id":     productID,
					"correlation_id": call.CorrelationID,
					"attempt":        attempt,
				}).Info("catalog call succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == g.config.MaxAttempts {
			break
		}

		g.logger.WithError(err).WithFields(log.Fields{
			"op":             op,
			"product_id":     productID,
			"correlation_id": call.CorrelationID,
			"attempt":        attempt,
			"delay":          delay,
		}).Warn("catalog call failed, retrying")

		if sleepErr := g.sleep(ctx, delay); sleepErr != nil {
			return lastErr
		}

		// Экспоненциальная задержка с ограничением
		delay = time.Duration(float64(delay) * g.config.BackoffFactor)
		if g.config.MaxDelay > 0 && delay > g.config.MaxDelay {
			delay = g.config.MaxDelay
		}
	}

	return lastErr
}

// isRejectedBeforeCommit: upstream ответил статусом шлюза, запрос до склада не дошёл.
func isRejectedBeforeCommit(err error) bool {
	if !domain.IsRetryable(err) {
		return false
	}
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		return false
	}
	switch gwErr.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ domain.CatalogGateway = (*RetryingGateway)(nil)
