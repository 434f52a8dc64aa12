package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
)

func sampleOrder(callerID, number string, at time.Time) domain.Order {
	items := []domain.OrderItem{
		{ProductID: "p-laptop", ProductName: "MacBook Pro 14", Quantity: 2, PriceAtPurchase: decimal.RequireFromString("12999.00")},
		{ProductID: "p-cable", ProductName: "USB-C cable", Quantity: 3, PriceAtPurchase: decimal.RequireFromString("19.90")},
	}
	return domain.NewOrder(callerID, number, items, at)
}

func TestOrderRepository_PostgresCreateAndList(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	first, err := repo.Create(ctx, sampleOrder("caller-1", "ORD-PGTEST01", now.Add(-2*time.Minute)))
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected generated id")
	}
	second, err := repo.Create(ctx, sampleOrder("caller-1", "ORD-PGTEST02", now.Add(-time.Minute)))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if _, err := repo.Create(ctx, sampleOrder("caller-2", "ORD-PGTEST03", now)); err != nil {
		t.Fatalf("create third: %v", err)
	}

	caller := "caller-1"
	page, err := repo.List(ctx, domain.ListFilter{CallerID: &caller, Limit: 1})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(page) != 1 || page[0].ID != second.ID {
		t.Fatalf("unexpected first page: %+v", page)
	}

	got := page[0]
	if !got.TotalAmount.Equal(decimal.RequireFromString("26057.70")) {
		t.Fatalf("unexpected total: %s", got.TotalAmount)
	}
	if len(got.Items) != 2 || got.Items[0].ProductID != "p-laptop" || got.Items[1].Quantity != 3 {
		t.Fatalf("unexpected items: %+v", got.Items)
	}
	if !got.Items[1].PriceAtPurchase.Equal(decimal.RequireFromString("19.9")) {
		t.Fatalf("unexpected item price: %s", got.Items[1].PriceAtPurchase)
	}
	if !got.OrderDate.Equal(now.Add(-time.Minute)) {
		t.Fatalf("unexpected order date: %s", got.OrderDate)
	}
	if errs := got.ValidateInvariants(); len(errs) > 0 {
		t.Fatalf("invariants violated after round trip: %v", errs)
	}

	next, err := repo.List(ctx, domain.ListFilter{CallerID: &caller, Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(next) != 1 || next[0].ID != first.ID {
		t.Fatalf("unexpected second page: %+v", next)
	}

	all, err := repo.List(ctx, domain.ListFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].CallerID != "caller-2" {
		t.Fatalf("unexpected unscoped list: %+v", all)
	}
}

func TestOrderRepository_PostgresDuplicateOrderNumber(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC()
	if _, err := repo.Create(ctx, sampleOrder("caller-1", "ORD-DUPLICAT", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := repo.Create(ctx, sampleOrder("caller-2", "ORD-DUPLICAT", now))
	if !errors.Is(err, domain.ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}

	// Транзакция откатилась целиком: позиции второго заказа не записаны.
	var items int
	if err := store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM order_items`).Scan(&items); err != nil {
		t.Fatalf("count items: %v", err)
	}
	if items != 2 {
		t.Fatalf("expected 2 stored items, got %d", items)
	}
}

func TestOrderRepository_PostgresPaginationBeyondEnd(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if _, err := repo.Create(ctx, sampleOrder("caller-1", fmt.Sprintf("ORD-PAGE%04d", i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	orders, err := repo.List(ctx, domain.ListFilter{Offset: 10, Limit: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected empty page, got %d", len(orders))
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatal("expected unique violation to be detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation must not be treated as unique violation")
	}
	if isUniqueViolation(errors.New("plain")) {
		t.Fatal("plain error must not be treated as unique violation")
	}
}
