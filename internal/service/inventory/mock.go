package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
)

// Call фиксирует один вызов MockService.
type Call struct {
	Op            string
	ProductID     string
	Quantity      int32
	CorrelationID string
	Credential    string
}

// MockService: конфигурируемая in-memory реализация CatalogGateway для тестов и dev-профиля.
// Остатки учитываются, поэтому Reserve/Release ведут себя как настоящий склад.
type MockService struct {
	mu       sync.Mutex
	products map[string]domain.ProductSnapshot
	stock    map[string]int32

	// FetchErr, ReserveErr, ReleaseErr, ошибки для конкретного товара.
	FetchErr   map[string]error
	ReserveErr map[string]error
	ReleaseErr map[string]error
	// BeforeReserve вызывается перед резервом (синхронизация в тестах).
	BeforeReserve func(ctx context.Context, productID string) error

	calls []Call
}

// NewMockService возвращает mock без товаров.
func NewMockService() *MockService {
	return &MockService{
		products:   make(map[string]domain.ProductSnapshot),
		stock:      make(map[string]int32),
		FetchErr:   make(map[string]error),
		ReserveErr: make(map[string]error),
		ReleaseErr: make(map[string]error),
	}
}

// NewDemoService возвращает mock с небольшим каталогом для локального запуска.
func NewDemoService() *MockService {
	m := NewMockService()
	m.AddProduct(domain.ProductSnapshot{
		ProductID: "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaa1",
		Name:      "MacBook Air 13",
		UnitPrice: decimal.RequireFromString("14990.00"),
	}, 25)
	m.AddProduct(domain.ProductSnapshot{
		ProductID: "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaa2",
		Name:      "AirPods Pro",
		UnitPrice: decimal.RequireFromString("2990.00"),
	}, 100)
	m.AddProduct(domain.ProductSnapshot{
		ProductID: "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaa3",
		Name:      "iPhone 16 Pro",
		UnitPrice: decimal.RequireFromString("12999.00"),
	}, 10)
	return m
}

// AddProduct регистрирует товар и его остаток.
func (m *MockService) AddProduct(product domain.ProductSnapshot, stock int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ProductID] = product
	m.stock[product.ProductID] = stock
}

// SetPrice меняет текущую цену товара в каталоге.
func (m *MockService) SetPrice(productID string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product := m.products[productID]
	product.UnitPrice = price
	m.products[productID] = product
}

// Stock возвращает текущий остаток.
func (m *MockService) Stock(productID string) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[productID]
}

// Calls возвращает копию журнала вызовов.
func (m *MockService) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Call, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallsFor возвращает вызовы с указанной операцией.
func (m *MockService) CallsFor(op string) []Call {
	var result []Call
	for _, call := range m.Calls() {
		if call.Op == op {
			result = append(result, call)
		}
	}
	return result
}

// FetchProduct возвращает снимок товара или настроенную ошибку.
func (m *MockService) FetchProduct(ctx context.Context, productID string, call domain.CallContext) (domain.ProductSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(opFetch, productID, 0, call)

	if err := m.FetchErr[productID]; err != nil {
		return domain.ProductSnapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.ProductSnapshot{}, &domain.GatewayError{Op: opFetch, ProductID: productID, Err: domain.ErrUpstreamUnavailable, Cause: err}
	}
	product, ok := m.products[productID]
	if !ok {
		return domain.ProductSnapshot{}, &domain.GatewayError{Op: opFetch, ProductID: productID, StatusCode: 404, Err: domain.ErrProductNotFound}
	}
	return product, nil
}

// Reserve списывает остаток или возвращает ErrInsufficientStock.
func (m *MockService) Reserve(ctx context.Context, productID string, quantity int32, call domain.CallContext) error {
	if m.BeforeReserve != nil {
		if err := m.BeforeReserve(ctx, productID); err != nil {
			return &domain.GatewayError{Op: opReserve, ProductID: productID, Err: domain.ErrUpstreamUnavailable, Cause: err}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(opReserve, productID, quantity, call)

	if err := m.ReserveErr[productID]; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &domain.GatewayError{Op: opReserve, ProductID: productID, Err: domain.ErrUpstreamUnavailable, Cause: err}
	}
	available, ok := m.stock[productID]
	if !ok {
		return &domain.GatewayError{Op: opReserve, ProductID: productID, StatusCode: 404, Err: domain.ErrProductNotFound}
	}
	if available < quantity {
		return &domain.GatewayError{
			Op:         opReserve,
			ProductID:  productID,
			StatusCode: 409,
			Body:       fmt.Sprintf(`{"available":%d,"requested":%d}`, available, quantity),
			Err:        domain.ErrInsufficientStock,
		}
	}
	m.stock[productID] = available - quantity
	return nil
}

// Release возвращает остаток на склад.
func (m *MockService) Release(_ context.Context, productID string, quantity int32, call domain.CallContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(opRelease, productID, quantity, call)

	if err := m.ReleaseErr[productID]; err != nil {
		return err
	}
	m.stock[productID] += quantity
	return nil
}

func (m *MockService) record(op, productID string, quantity int32, call domain.CallContext) {
	m.calls = append(m.calls, Call{
		Op:            op,
		ProductID:     productID,
		Quantity:      quantity,
		CorrelationID: call.CorrelationID,
		Credential:    call.Credential,
	})
}

// Op-константы для проверки журнала вызовов в тестах.
const (
	OpFetch   = opFetch
	OpReserve = opReserve
	OpRelease = opRelease
)

var _ domain.CatalogGateway = (*MockService)(nil)
