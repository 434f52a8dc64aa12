package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
	"github.com/vladislavdragonenkov/purchase-saga/internal/metrics"
	"github.com/vladislavdragonenkov/purchase-saga/internal/storage/memory"
)

type brokenRepository struct{}

func (brokenRepository) Create(context.Context, domain.Order) (domain.Order, error) {
	return domain.Order{}, errors.New("unused")
}

func (brokenRepository) List(context.Context, domain.ListFilter) ([]domain.Order, error) {
	return nil, errors.New("connection reset")
}

func seed(t *testing.T, repo domain.OrderRepository, callerID string, count int, base time.Time) {
	t.Helper()
	for i := 0; i < count; i++ {
		items := []domain.OrderItem{{
			ProductID:       "p-1",
			ProductName:     "Widget",
			Quantity:        int32(i + 1),
			PriceAtPurchase: decimal.RequireFromString("2.50"),
		}}
		order := domain.NewOrder(callerID, fmt.Sprintf("ORD-%s%04d", callerID[:4], i), items, base.Add(time.Duration(i)*time.Minute))
		_, err := repo.Create(context.Background(), order)
		require.NoError(t, err)
	}
}

func TestList_ScopedToCallerNewestFirst(t *testing.T) {
	repo := memory.NewOrderRepository()
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	seed(t, repo, "alice", 3, base)
	seed(t, repo, "bobb", 2, base.Add(time.Hour))

	svc := NewService(repo, nil, nil)
	entries, err := svc.List(context.Background(), domain.Authenticated("alice", "token"), 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "ORD-alic0002", entries[0].OrderNumber)
	require.Equal(t, "ORD-alic0000", entries[2].OrderNumber)
	require.True(t, entries[0].TotalAmount.Equal(decimal.RequireFromString("7.5")))
	require.Len(t, entries[0].Items, 1)
	require.Equal(t, int32(3), entries[0].Items[0].Quantity)
	require.Equal(t, domain.OrderStatusCreated, entries[0].Status)
}

func TestList_ReportsStatusSetOutsidePurchase(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := domain.NewOrder("alice", "ORD-CANCEL01", []domain.OrderItem{{
		ProductID:       "p-1",
		ProductName:     "Widget",
		Quantity:        1,
		PriceAtPurchase: decimal.RequireFromString("2.50"),
	}}, time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	order.Status = domain.OrderStatusCancelled
	_, err := repo.Create(context.Background(), order)
	require.NoError(t, err)

	entries, err := NewService(repo, nil, nil).List(context.Background(), domain.Authenticated("alice", "token"), 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.OrderStatusCancelled, entries[0].Status)
}

func TestList_AnonymousSeesAllOrders(t *testing.T) {
	repo := memory.NewOrderRepository()
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	seed(t, repo, "alice", 2, base)
	seed(t, repo, "bobb", 2, base.Add(time.Hour))

	entries, err := NewService(repo, nil, nil).List(context.Background(), domain.Anonymous(), 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, "ORD-bobb0001", entries[0].OrderNumber)
}

func TestList_Paging(t *testing.T) {
	repo := memory.NewOrderRepository()
	seed(t, repo, "alice", 5, time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	svc := NewService(repo, nil, nil)
	caller := domain.Authenticated("alice", "")

	page1, err := svc.List(context.Background(), caller, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.Equal(t, "ORD-alic0002", page1[0].OrderNumber)
	require.Equal(t, "ORD-alic0001", page1[1].OrderNumber)

	page3, err := svc.List(context.Background(), caller, 3, 2)
	require.NoError(t, err)
	require.Empty(t, page3)
}

func TestList_InvalidPage(t *testing.T) {
	svc := NewService(memory.NewOrderRepository(), nil, nil)

	_, err := svc.List(context.Background(), domain.Anonymous(), -1, 10)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestList_PageBeyondOffsetRange(t *testing.T) {
	repo := memory.NewOrderRepository()
	seed(t, repo, "alice", 1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(repo, nil, nil)

	_, err := svc.List(context.Background(), domain.Anonymous(), math.MaxInt/DefaultPageSize+1, DefaultPageSize)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	entries, err := svc.List(context.Background(), domain.Anonymous(), math.MaxInt/DefaultPageSize, DefaultPageSize)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestList_StoreFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := NewService(brokenRepository{}, metrics.NewSagaMetricsWithRegisterer(reg), nil)

	_, err := svc.List(context.Background(), domain.Authenticated("alice", ""), 0, 10)
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)
	require.ErrorContains(t, err, "Failed to load order history")
}

func TestNormalizeSize(t *testing.T) {
	require.Equal(t, DefaultPageSize, normalizeSize(0))
	require.Equal(t, DefaultPageSize, normalizeSize(-5))
	require.Equal(t, 25, normalizeSize(25))
	require.Equal(t, MaxPageSize, normalizeSize(10_000))
}
