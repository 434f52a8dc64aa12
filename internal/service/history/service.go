package history

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
	"github.com/vladislavdragonenkov/purchase-saga/internal/metrics"
)

const (
	// DefaultPageSize совпадает с размером страницы по умолчанию у HTTP API.
	DefaultPageSize = 200
	// MaxPageSize ограничивает размер одной страницы.
	MaxPageSize = 500
)

// Item: позиция заказа в ответе истории.
type Item struct {
	ProductID       string          `json:"productId"`
	ProductName     string          `json:"productName"`
	Quantity        int32           `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"priceAtPurchase"`
}

// Entry: проекция заказа для истории.
type Entry struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"orderNumber"`
	TotalAmount decimal.Decimal    `json:"totalAmount"`
	Status      domain.OrderStatus `json:"status"`
	OrderDate   time.Time          `json:"orderDate"`
	Items       []Item             `json:"items"`
}

// Service отдаёт историю заказов постранично.
type Service struct {
	orders  domain.OrderRepository
	logger  *log.Entry
	metrics *metrics.SagaMetrics
}

// NewService создаёт сервис истории; metrics может быть nil.
func NewService(orders domain.OrderRepository, sagaMetrics *metrics.SagaMetrics, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "history")
	}
	return &Service{
		orders:  orders,
		logger:  logger,
		metrics: sagaMetrics,
	}
}

// List возвращает страницу page (с нуля) размером size, новые заказы первыми.
// Для аутентифицированного вызывающего выборка ограничена его заказами,
// для анонима все заказы.
func (s *Service) List(ctx context.Context, caller domain.CallerIdentity, page, size int) ([]Entry, error) {
	if page < 0 {
		return nil, &domain.SagaError{
			Kind:   domain.KindInvalidRequest,
			Detail: fmt.Sprintf("page must be non-negative, got %d", page),
		}
	}
	size = normalizeSize(size)
	if page > math.MaxInt/size {
		return nil, &domain.SagaError{
			Kind:   domain.KindInvalidRequest,
			Detail: fmt.Sprintf("page %d is out of range for size %d", page, size),
		}
	}

	filter := domain.ListFilter{
		Offset: page * size,
		Limit:  size,
	}
	if !caller.IsAnonymous() {
		callerID := caller.ID()
		filter.CallerID = &callerID
	}

	if s.metrics != nil {
		s.metrics.RecordHistoryRequest()
	}

	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"caller": caller.String(),
			"page":   page,
			"size":   size,
		}).Error("list orders failed")
		return nil, &domain.SagaError{
			Kind:   domain.KindPersistenceFailure,
			Detail: "Failed to load order history",
			Err:    err,
		}
	}

	entries := make([]Entry, 0, len(orders))
	for _, order := range orders {
		entries = append(entries, project(order))
	}
	return entries, nil
}

func normalizeSize(size int) int {
	switch {
	case size <= 0:
		return DefaultPageSize
	case size > MaxPageSize:
		return MaxPageSize
	default:
		return size
	}
}

func project(order domain.Order) Entry {
	items := make([]Item, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, Item{
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
		})
	}
	return Entry{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		TotalAmount: order.TotalAmount,
		Status:      order.Status,
		OrderDate:   order.OrderDate,
		Items:       items,
	}
}
