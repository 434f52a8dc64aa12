package domain

import "context"

// CallContext: метаданные, которые сопровождают каждый вызов каталога в рамках одной покупки.
type CallContext struct {
	CorrelationID string
	// Credential пробрасывается как Bearer-токен, если не пустой.
	Credential string
}

// CatalogGateway описывает взаимодействие с сервисом товаров и складских остатков.
type CatalogGateway interface {
	// FetchProduct возвращает снимок товара или ErrProductNotFound / ErrUpstreamUnavailable.
	FetchProduct(ctx context.Context, productID string, call CallContext) (ProductSnapshot, error)
	// Reserve резервирует количество; ErrInsufficientStock при конфликте.
	Reserve(ctx context.Context, productID string, quantity int32, call CallContext) error
	// Release возвращает количество на склад (компенсация).
	Release(ctx context.Context, productID string, quantity int32, call CallContext) error
}

// ListFilter задаёт выборку истории заказов.
type ListFilter struct {
	// CallerID == nil означает выборку по всем покупателям.
	CallerID *string
	Offset   int
	Limit    int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ и возвращает его с назначенным ID.
	Create(ctx context.Context, order Order) (Order, error)
	// List возвращает заказы по убыванию OrderDate с учётом offset/limit.
	List(ctx context.Context, filter ListFilter) ([]Order, error)
}

// SagaStep задаёт константы шагов для метрик/логов.
type SagaStep string

const (
	SagaStepFetch   SagaStep = "fetch"
	SagaStepReserve SagaStep = "reserve"
	SagaStepPersist SagaStep = "persist"
	SagaStepRelease SagaStep = "release"
)
