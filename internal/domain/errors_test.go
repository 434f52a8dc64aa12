package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "saga error",
			err:  &SagaError{Kind: KindInsufficientStock, Detail: "Insufficient stock"},
			want: KindInsufficientStock,
		},
		{
			name: "wrapped gateway not found",
			err:  fmt.Errorf("fetch: %w", &GatewayError{Op: "fetch", ProductID: "p-1", StatusCode: 404, Err: ErrProductNotFound}),
			want: KindProductNotFound,
		},
		{
			name: "persistence sentinel",
			err:  errors.Join(ErrPersistenceFailure, errors.New("disk full")),
			want: KindPersistenceFailure,
		},
		{
			name: "invalid request",
			err:  ErrInvalidRequest,
			want: KindInvalidRequest,
		},
		{
			name: "unknown error",
			err:  errors.New("boom"),
			want: KindUpstreamUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSagaError_ErrorFormat(t *testing.T) {
	err := &SagaError{
		Kind:           KindInsufficientStock,
		Detail:         "Insufficient stock",
		CorrelationID:  "cid-1",
		DownstreamBody: `{"error":"only 1 left"}`,
	}

	want := `Insufficient stock | {"error":"only 1 left"} | cid=cid-1`
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	noBody := &SagaError{Kind: KindUpstreamUnavailable, Detail: "Product service error", CorrelationID: "cid-2"}
	if got := noBody.Error(); got != "Product service error | cid=cid-2" {
		t.Fatalf("unexpected message without body: %q", got)
	}
}

func TestSagaError_UnwrapMatchesKindAndCause(t *testing.T) {
	cause := &GatewayError{Op: "reserve", ProductID: "p-1", StatusCode: 409, Err: ErrInsufficientStock}
	err := error(&SagaError{Kind: KindInsufficientStock, Detail: "Insufficient stock", Err: cause})

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("expected errors.Is to match kind sentinel")
	}

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatal("expected errors.As to reach gateway error")
	}
	if gwErr.StatusCode != 409 {
		t.Fatalf("unexpected status code: %d", gwErr.StatusCode)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "upstream", err: &GatewayError{Op: "fetch", Err: ErrUpstreamUnavailable}, want: true},
		{name: "not found", err: &GatewayError{Op: "fetch", Err: ErrProductNotFound}, want: false},
		{name: "conflict", err: &GatewayError{Op: "reserve", Err: ErrInsufficientStock}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutcomeUnknown(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transport error", err: &GatewayError{Op: "reserve", Err: ErrUpstreamUnavailable, Cause: errors.New("connection reset")}, want: true},
		{name: "timeout", err: &GatewayError{Op: "reserve", Err: ErrUpstreamUnavailable, Cause: context.DeadlineExceeded}, want: true},
		{name: "conflict status", err: &GatewayError{Op: "reserve", StatusCode: 409, Err: ErrInsufficientStock}, want: false},
		{name: "server error status", err: &GatewayError{Op: "reserve", StatusCode: 500, Err: ErrUpstreamUnavailable}, want: false},
		{name: "bare cancellation", err: fmt.Errorf("reserve: %w", context.Canceled), want: true},
		{name: "bare conflict", err: ErrInsufficientStock, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutcomeUnknown(tt.err); got != tt.want {
				t.Errorf("OutcomeUnknown() = %v, want %v", got, tt.want)
			}
		})
	}
}
