package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
	"github.com/vladislavdragonenkov/purchase-saga/internal/version"
)

const (
	// HeaderCorrelationID сопровождает каждый исходящий вызов одной покупки.
	HeaderCorrelationID = "X-Correlation-Id"

	defaultRequestTimeout = 5 * time.Second
	maxErrorBodyBytes     = 2 << 10
	maxProductBodyBytes   = 1 << 20

	opFetch   = "fetch"
	opReserve = "reserve"
	opRelease = "release"

	tracerName = "github.com/vladislavdragonenkov/purchase-saga/internal/service/inventory"
)

// ClientOptions задаёт параметры HTTP-клиента каталога.
type ClientOptions struct {
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *log.Entry
	Tracer         trace.Tracer
}

// Option настраивает Client.
type Option func(*ClientOptions)

// WithHTTPClient подменяет транспорт (например, для тестов).
func WithHTTPClient(client *http.Client) Option {
	return func(opts *ClientOptions) {
		opts.HTTPClient = client
	}
}

// WithRequestTimeout задаёт таймаут одного вызова.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(opts *ClientOptions) {
		opts.RequestTimeout = timeout
	}
}

// WithLogger задаёт logger для клиента.
func WithLogger(logger *log.Entry) Option {
	return func(opts *ClientOptions) {
		opts.Logger = logger
	}
}

// WithTracer задаёт OpenTelemetry tracer вместо глобального.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *ClientOptions) {
		opts.Tracer = tracer
	}
}

// Client: HTTP-реализация CatalogGateway поверх product-service.
// Повторов внутри нет: политика повторов задаётся RetryingGateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *log.Entry
	tracer     trace.Tracer
}

// NewClient создаёт клиент для baseURL вида http://product-service:8080.
func NewClient(baseURL string, options ...Option) *Client {
	opts := ClientOptions{
		RequestTimeout: defaultRequestTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "inventory-client")
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		timeout:    opts.RequestTimeout,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
	}
}

type productResponse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type quantityRequest struct {
	Quantity int32 `json:"quantity"`
}

// FetchProduct выполняет GET /api/products/{id}.
func (c *Client) FetchProduct(ctx context.Context, productID string, call domain.CallContext) (domain.ProductSnapshot, error) {
	body, err := c.send(ctx, opFetch, http.MethodGet, productID, "/api/products/"+url.PathEscape(productID), nil, call)
	if err != nil {
		return domain.ProductSnapshot{}, err
	}

	var resp productResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ProductSnapshot{}, &domain.GatewayError{
			Op:        opFetch,
			ProductID: productID,
			Body:      truncate(body, maxErrorBodyBytes),
			Err:       domain.ErrUpstreamUnavailable,
			Cause:     fmt.Errorf("decode product: %w", err),
		}
	}

	// Каталог может не вернуть id в теле, опираемся на запрошенный.
	snapshot := domain.ProductSnapshot{
		ProductID: productID,
		Name:      resp.Name,
		UnitPrice: resp.Price,
	}
	if errs := snapshot.Validate(); len(errs) > 0 {
		return domain.ProductSnapshot{}, &domain.GatewayError{
			Op:        opFetch,
			ProductID: productID,
			Err:       domain.ErrUpstreamUnavailable,
			Cause:     errors.Join(errs...),
		}
	}
	return snapshot, nil
}

// Reserve выполняет POST /api/inventory/{id}/purchase.
func (c *Client) Reserve(ctx context.Context, productID string, quantity int32, call domain.CallContext) error {
	path := "/api/inventory/" + url.PathEscape(productID) + "/purchase"
	_, err := c.send(ctx, opReserve, http.MethodPost, productID, path, quantityRequest{Quantity: quantity}, call)
	return err
}

// Release выполняет POST /api/inventory/{id}/return.
func (c *Client) Release(ctx context.Context, productID string, quantity int32, call domain.CallContext) error {
	path := "/api/inventory/" + url.PathEscape(productID) + "/return"
	_, err := c.send(ctx, opRelease, http.MethodPost, productID, path, quantityRequest{Quantity: quantity}, call)
	return err
}

// Ping проверяет, что product-service отвечает (для health check).
// Любой ответ ниже 500 считается признаком доступности.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("product service unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("product service responded %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) send(
	ctx context.Context,
	op, method, productID, path string,
	payload any,
	call domain.CallContext,
) (respBody []byte, err error) {
	ctx, span := c.tracer.Start(ctx, "inventory."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("product.id", productID),
			attribute.String("correlation.id", call.CorrelationID),
			attribute.String("http.method", method),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return nil, &domain.GatewayError{Op: op, ProductID: productID, Err: domain.ErrUpstreamUnavailable, Cause: marshalErr}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &domain.GatewayError{Op: op, ProductID: productID, Err: domain.ErrUpstreamUnavailable, Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderCorrelationID, call.CorrelationID)
	if call.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+call.Credential)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"op":             op,
			"product_id":     productID,
			"correlation_id": call.CorrelationID,
		}).Warn("catalog call failed")
		return nil, &domain.GatewayError{Op: op, ProductID: productID, Err: domain.ErrUpstreamUnavailable, Cause: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.WithFields(log.Fields{
		"op":             op,
		"product_id":     productID,
		"correlation_id": call.CorrelationID,
		"status":         resp.StatusCode,
		"duration":       time.Since(start),
	}).Debug("catalog call finished")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxProductBodyBytes))
		if readErr != nil {
			return nil, &domain.GatewayError{
				Op: op, ProductID: productID, StatusCode: resp.StatusCode,
				Err: domain.ErrUpstreamUnavailable, Cause: readErr,
			}
		}
		return data, nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return nil, &domain.GatewayError{
		Op:         op,
		ProductID:  productID,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(data)),
		Err:        classifyStatus(op, resp.StatusCode),
	}
}

// classifyStatus переводит HTTP-статус в базовую ошибку домена.
func classifyStatus(op string, status int) error {
	switch {
	case status == http.StatusNotFound:
		return domain.ErrProductNotFound
	case status == http.StatusConflict && op == opReserve:
		return domain.ErrInsufficientStock
	default:
		return domain.ErrUpstreamUnavailable
	}
}

func truncate(body []byte, limit int) string {
	if len(body) > limit {
		body = body[:limit]
	}
	return strings.TrimSpace(string(body))
}

var _ domain.CatalogGateway = (*Client)(nil)
