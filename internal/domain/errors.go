package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка пустого списка позиций в запросе на покупку.
	ErrItemsRequired = errors.New("purchase must contain at least one item")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка при некорректном количестве товара (< 1).
	ErrItemQtyInvalid = errors.New("item quantity must be at least 1")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отсутствующего идентификатора покупателя.
	ErrCallerRequired = errors.New("caller_id is required")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// ErrStatusInvalid: статус заказа вне CREATED, CANCELLED, COMPLETED.
	ErrStatusInvalid = errors.New("order status is invalid")
	// ErrOrderConflict сигнализирует о коллизии номера или идентификатора заказа при сохранении.
	ErrOrderConflict = errors.New("order already exists")

	// ErrInvalidRequest: запрос на покупку не прошёл валидацию.
	ErrInvalidRequest = errors.New("invalid purchase request")
	// ErrUnauthenticated: не удалось определить вызывающего.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrProductNotFound: каталог ответил 404 на запрос товара или резерва.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock: склад отклонил резерв (409).
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUpstreamUnavailable: сетевая ошибка или неожиданный статус от каталога/склада.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrPersistenceFailure: хранилище не приняло заказ.
	ErrPersistenceFailure = errors.New("order persistence failed")
)

// ErrorKind классифицирует ошибку саги для вызывающего слоя.
type ErrorKind string

const (
	KindInvalidRequest      ErrorKind = "INVALID_REQUEST"
	KindUnauthenticated     ErrorKind = "UNAUTHENTICATED"
	KindProductNotFound     ErrorKind = "PRODUCT_NOT_FOUND"
	KindInsufficientStock   ErrorKind = "INSUFFICIENT_STOCK"
	KindUpstreamUnavailable ErrorKind = "UPSTREAM_UNAVAILABLE"
	KindPersistenceFailure  ErrorKind = "PERSISTENCE_FAILURE"
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidRequest:      ErrInvalidRequest,
	KindUnauthenticated:     ErrUnauthenticated,
	KindProductNotFound:     ErrProductNotFound,
	KindInsufficientStock:   ErrInsufficientStock,
	KindUpstreamUnavailable: ErrUpstreamUnavailable,
	KindPersistenceFailure:  ErrPersistenceFailure,
}

// Sentinel возвращает базовую ошибку для вида.
func (k ErrorKind) Sentinel() error {
	if err, ok := kindSentinels[k]; ok {
		return err
	}
	return ErrUpstreamUnavailable
}

// GatewayError описывает неуспешный вызов каталога/склада.
// Err: одна из базовых ошибок (ErrProductNotFound, ErrInsufficientStock, ErrUpstreamUnavailable),
// Cause: исходная транспортная ошибка, если она была.
type GatewayError struct {
	Op         string
	ProductID  string
	StatusCode int
	Body       string
	Err        error
	Cause      error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Op, e.ProductID)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *GatewayError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// SagaError: структурированная ошибка, которую видит вызывающий Purchase.
type SagaError struct {
	Kind           ErrorKind
	Detail         string
	CorrelationID  string
	ProductID      string
	DownstreamBody string
	Err            error
}

// Error собирает строку в формате "<detail> | <downstream-body> | cid=<id>".
func (e *SagaError) Error() string {
	parts := []string{e.Detail}
	if e.DownstreamBody != "" {
		parts = append(parts, e.DownstreamBody)
	}
	if e.CorrelationID != "" {
		parts = append(parts, "cid="+e.CorrelationID)
	}
	return strings.Join(parts, " | ")
}

func (e *SagaError) Unwrap() []error {
	errs := []error{e.Kind.Sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf определяет вид ошибки; неизвестные ошибки считаются недоступностью upstream.
func KindOf(err error) ErrorKind {
	var sagaErr *SagaError
	if errors.As(err, &sagaErr) {
		return sagaErr.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrProductNotFound):
		return KindProductNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrPersistenceFailure):
		return KindPersistenceFailure
	default:
		return KindUpstreamUnavailable
	}
}

// IsRetryable сообщает, имеет ли смысл повторять вызов шлюза. NotFound и Conflict не повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrInsufficientStock) {
		return false
	}
	return errors.Is(err, ErrUpstreamUnavailable)
}

// OutcomeUnknown сообщает, что вызов склада завершился без ответа со статусом:
// обрыв соединения, таймаут или отмена. Склад мог успеть применить операцию.
func OutcomeUnknown(err error) bool {
	if err == nil {
		return false
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.StatusCode == 0
	}
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
