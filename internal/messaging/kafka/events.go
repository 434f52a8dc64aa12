package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Исходы саги покупки
	EventTypePurchaseCompleted   EventType = "purchase.completed"
	EventTypePurchaseFailed      EventType = "purchase.failed"
	EventTypePurchaseCompensated EventType = "purchase.compensated"
)

// TopicPurchaseEvents: топик событий саги покупки.
const TopicPurchaseEvents = "oms.purchase.events"

// Заголовки сообщений с событиями покупки.
const (
	HeaderEventType     = "event-type"
	HeaderCorrelationID = "correlation-id"
)

// PurchaseEvent представляет событие саги покупки.
// Ключ сообщения равен correlation id, поэтому все события одной покупки попадают в одну партицию.
type PurchaseEvent struct {
	EventType     EventType              `json:"event_type"`
	CorrelationID string                 `json:"correlation_id"`
	CallerID      string                 `json:"caller_id,omitempty"`
	OrderID       string                 `json:"order_id,omitempty"`
	OrderNumber   string                 `json:"order_number,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewPurchaseEvent создает новое событие саги покупки
func NewPurchaseEvent(eventType EventType, correlationID, callerID string, metadata map[string]interface{}) *PurchaseEvent {
	return &PurchaseEvent{
		EventType:     eventType,
		CorrelationID: correlationID,
		CallerID:      callerID,
		Timestamp:     time.Now().UTC(),
		Metadata:      metadata,
	}
}

// WithOrder дополняет событие данными сохранённого заказа.
func (e *PurchaseEvent) WithOrder(orderID, orderNumber string) *PurchaseEvent {
	e.OrderID = orderID
	e.OrderNumber = orderNumber
	return e
}
