package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
)

// helper для создания базового заказа с двумя позициями.
func makeOrder() domain.Order {
	return domain.NewOrder("caller-1", "ORD-ABC12345", []domain.OrderItem{
		{
			ProductID:       "p-1",
			ProductName:     "iPhone 16 Pro",
			Quantity:        2,
			PriceAtPurchase: decimal.RequireFromString("12999.00"),
		},
		{
			ProductID:       "p-2",
			ProductName:     "Case",
			Quantity:        3,
			PriceAtPurchase: decimal.RequireFromString("19.90"),
		},
	}, time.Now().UTC())
}

func TestNewOrder_ComputesTotal(t *testing.T) {
	order := makeOrder()

	want := decimal.RequireFromString("26057.70")
	if !order.TotalAmount.Equal(want) {
		t.Fatalf("unexpected total: got %s want %s", order.TotalAmount, want)
	}
	if order.Status != domain.OrderStatusCreated {
		t.Fatalf("unexpected status: %s", order.Status)
	}
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestNewOrder_CopiesItems(t *testing.T) {
	items := []domain.OrderItem{{ProductID: "p-1", ProductName: "A", Quantity: 1, PriceAtPurchase: decimal.NewFromInt(10)}}
	order := domain.NewOrder("caller-1", domain.NewOrderNumber(), items, time.Now())

	items[0].Quantity = 100
	if order.Items[0].Quantity != 1 {
		t.Fatal("order must not share item slice with the builder input")
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no caller",
			mut: func(o *domain.Order) {
				o.CallerID = ""
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
				o.TotalAmount = decimal.Zero
			},
		},
		{
			name: "qty invalid",
			mut: func(o *domain.Order) {
				o.Items[0].Quantity = 0
			},
		},
		{
			name: "price invalid",
			mut: func(o *domain.Order) {
				o.Items[0].PriceAtPurchase = decimal.NewFromInt(-5)
			},
		},
		{
			name: "unknown status",
			mut: func(o *domain.Order) {
				o.Status = domain.OrderStatus("PENDING")
			},
		},
		{
			name: "amount mismatch",
			mut: func(o *domain.Order) {
				o.TotalAmount = decimal.NewFromInt(999)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)

			if len(order.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestNewOrderNumber_FormatAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		number := domain.NewOrderNumber()
		if !domain.OrderNumberPattern.MatchString(number) {
			t.Fatalf("order number %q does not match pattern", number)
		}
		if _, dup := seen[number]; dup {
			t.Fatalf("duplicate order number generated: %s", number)
		}
		seen[number] = struct{}{}
	}
}

func TestOrderStatusValid(t *testing.T) {
	tests := []struct {
		status domain.OrderStatus
		want   bool
	}{
		{status: domain.OrderStatusCreated, want: true},
		{status: domain.OrderStatusCancelled, want: true},
		{status: domain.OrderStatusCompleted, want: true},
		{status: domain.OrderStatus("pending"), want: false},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestOrderValidateInvariants_ExternalStatuses(t *testing.T) {
	for _, status := range []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusCompleted} {
		order := makeOrder()
		order.Status = status
		if errs := order.ValidateInvariants(); len(errs) != 0 {
			t.Fatalf("status %s: unexpected errors %v", status, errs)
		}
	}

	// Пустой список позиций запрещён только для CREATED.
	cancelled := makeOrder()
	cancelled.Status = domain.OrderStatusCancelled
	cancelled.Items = nil
	cancelled.TotalAmount = decimal.Zero
	if errs := cancelled.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("cancelled order without items: unexpected errors %v", errs)
	}

	created := makeOrder()
	created.Status = domain.OrderStatus("pending")
	errs := created.ValidateInvariants()
	if len(errs) != 1 || errs[0] != domain.ErrStatusInvalid {
		t.Fatalf("expected only ErrStatusInvalid, got %v", errs)
	}
}
