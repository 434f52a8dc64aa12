package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
)

const contentTypeProblem = "application/problem+json"

func init() {
	// Денежные суммы уходят клиентам JSON-числами.
	decimal.MarshalJSONWithoutQuotes = true
}

// Problem: тело ошибки в формате problem+json.
type Problem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail"`
	CorrelationID string `json:"correlationId,omitempty"`
}

var kindStatus = map[domain.ErrorKind]int{
	domain.KindInvalidRequest:      http.StatusBadRequest,
	domain.KindUnauthenticated:     http.StatusUnauthorized,
	domain.KindProductNotFound:     http.StatusNotFound,
	domain.KindInsufficientStock:   http.StatusConflict,
	domain.KindUpstreamUnavailable: http.StatusBadGateway,
	domain.KindPersistenceFailure:  http.StatusInternalServerError,
}

// StatusFor возвращает HTTP-статус для вида ошибки.
func StatusFor(kind domain.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusBadGateway
}

// problemFor строит тело ошибки. Для SagaError используется её correlation id,
// иначе fallbackID (идентификатор HTTP-запроса).
func problemFor(err error, fallbackID string) Problem {
	status := StatusFor(domain.KindOf(err))
	problem := Problem{
		Type:          "about:blank",
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        err.Error(),
		CorrelationID: fallbackID,
	}

	var sagaErr *domain.SagaError
	if errors.As(err, &sagaErr) && sagaErr.CorrelationID != "" {
		problem.CorrelationID = sagaErr.CorrelationID
	}
	return problem
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, problem Problem) {
	w.Header().Set("Content-Type", contentTypeProblem)
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}
