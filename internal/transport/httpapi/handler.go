package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
	"github.com/vladislavdragonenkov/purchase-saga/internal/service/history"
	"github.com/vladislavdragonenkov/purchase-saga/internal/service/saga"
)

const (
	maxBodyBytes        = 1 << 20
	headerCorrelationID = "X-Correlation-Id"
)

// Purchaser запускает сагу покупки.
type Purchaser interface {
	Purchase(ctx context.Context, req domain.PurchaseRequest, identity domain.CallerIdentity) (saga.PurchaseResult, error)
}

// HistoryLister отдаёт страницу истории заказов.
type HistoryLister interface {
	List(ctx context.Context, caller domain.CallerIdentity, page, size int) ([]history.Entry, error)
}

// IdentityResolver превращает Bearer-токен в идентичность вызывающего.
type IdentityResolver interface {
	Resolve(credential string) (domain.CallerIdentity, error)
}

// Handler обслуживает HTTP API заказов.
type Handler struct {
	purchaser Purchaser
	history   HistoryLister
	identity  IdentityResolver
	logger    *log.Entry
}

// NewHandler создаёт обработчик.
func NewHandler(purchaser Purchaser, historyLister HistoryLister, identity IdentityResolver, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "httpapi")
	}
	return &Handler{
		purchaser: purchaser,
		history:   historyLister,
		identity:  identity,
		logger:    logger,
	}
}

type purchaseItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

type purchaseRequest struct {
	Items []purchaseItemRequest `json:"items"`
}

type purchaseResponse struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// Purchase обрабатывает POST /api/orders/purchase.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	caller, err := h.resolveCaller(r)
	if err != nil {
		h.writeError(w, r, logger, err)
		return
	}

	var body purchaseRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&body); err != nil {
		h.writeError(w, r, logger, &domain.SagaError{
			Kind:   domain.KindInvalidRequest,
			Detail: "Invalid request",
			Err:    err,
		})
		return
	}

	req := domain.PurchaseRequest{Items: make([]domain.PurchaseItem, 0, len(body.Items))}
	for _, item := range body.Items {
		req.Items = append(req.Items, domain.PurchaseItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	result, err := h.purchaser.Purchase(r.Context(), req, caller)
	if err != nil {
		h.writeError(w, r, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, purchaseResponse{
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		TotalAmount: result.TotalAmount,
	})
}

// History обрабатывает GET /api/orders/history?page=0&size=200.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	caller, err := h.resolveCaller(r)
	if err != nil {
		h.writeError(w, r, logger, err)
		return
	}

	page, err := intQuery(r, "page", 0)
	if err != nil {
		h.writeError(w, r, logger, err)
		return
	}
	size, err := intQuery(r, "size", history.DefaultPageSize)
	if err != nil {
		h.writeError(w, r, logger, err)
		return
	}

	entries, err := h.history.List(r.Context(), caller, page, size)
	if err != nil {
		h.writeError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) resolveCaller(r *http.Request) (domain.CallerIdentity, error) {
	credential, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return domain.CallerIdentity{}, err
	}
	identity, err := h.identity.Resolve(credential)
	if err != nil {
		return domain.CallerIdentity{}, &domain.SagaError{
			Kind:   domain.KindUnauthenticated,
			Detail: "Unauthenticated",
			Err:    err,
		}
	}
	return identity, nil
}

func (h *Handler) requestLogger(r *http.Request) *log.Entry {
	fields := log.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"path":       r.URL.Path,
	}
	if cid := r.Header.Get(headerCorrelationID); cid != "" {
		fields["inbound_correlation_id"] = cid
	}
	return h.logger.WithFields(fields)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, logger *log.Entry, err error) {
	problem := problemFor(err, middleware.GetReqID(r.Context()))
	entry := logger.WithError(err).WithField("status", problem.Status)
	if problem.Status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	writeProblem(w, problem)
}

// bearerToken достаёт токен из заголовка Authorization; пустой заголовок допустим.
func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", &domain.SagaError{
			Kind:   domain.KindUnauthenticated,
			Detail: "Authorization header must use the Bearer scheme",
			Err:    domain.ErrUnauthenticated,
		}
	}
	return strings.TrimSpace(token), nil
}

func intQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.SagaError{
			Kind:   domain.KindInvalidRequest,
			Detail: fmt.Sprintf("query parameter %q must be an integer", name),
			Err:    err,
		}
	}
	return value, nil
}
