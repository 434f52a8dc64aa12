package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

// Сага выставляет только CREATED. CANCELLED и COMPLETED записывают в таблицу
// orders процессы отмены и исполнения вне этого сервиса; история отдаёт их как есть.
const (
	// OrderStatusCreated: все резервы получены и заказ сохранён.
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusCancelled, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

const orderNumberPrefix = "ORD-"

// OrderNumberPattern: формат человекочитаемого номера заказа.
var OrderNumberPattern = regexp.MustCompile(`^ORD-[A-Z0-9]{8}$`)

// NewOrderNumber генерирует номер вида ORD-XXXXXXXX из случайного UUID.
// Уникальность отдельно не проверяется.
func NewOrderNumber() string {
	return orderNumberPrefix + strings.ToUpper(uuid.NewString()[:8])
}

// OrderItem: зарезервированная позиция с ценой, зафиксированной в момент покупки.
type OrderItem struct {
	ProductID       string
	ProductName     string
	Quantity        int32
	PriceAtPurchase decimal.Decimal
}

// LineTotal возвращает priceAtPurchase × quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.PriceAtPurchase.Mul(decimal.NewFromInt32(i.Quantity))
}

// Order агрегирует заказ и его позиции. После сохранения не изменяется.
type Order struct {
	// ID назначается хранилищем.
	ID          string
	OrderNumber string
	CallerID    string
	Status      OrderStatus
	OrderDate   time.Time
	Items       []OrderItem
	TotalAmount decimal.Decimal
}

// NewOrder собирает заказ целиком из уже зарезервированных позиций.
func NewOrder(callerID, orderNumber string, items []OrderItem, now time.Time) Order {
	owned := make([]OrderItem, len(items))
	copy(owned, items)

	return Order{
		OrderNumber: orderNumber,
		CallerID:    callerID,
		Status:      OrderStatusCreated,
		OrderDate:   now,
		Items:       owned,
		TotalAmount: SumItems(owned),
	}
}

// SumItems считает Σ(priceAtPurchase × quantity).
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CallerID == "" {
		errs = append(errs, ErrCallerRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if o.Status == OrderStatusCreated && len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceAtPurchase.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if !SumItems(o.Items).Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
