package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	uniqueViolationCode = "23505"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Create вставляет заказ и его позиции одной транзакцией.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) (saved domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, caller_id, status, order_date, total_amount
		) VALUES ($1, $2, $3, $4, $5, $6::numeric)
	`,
		order.ID, order.OrderNumber, order.CallerID, string(order.Status),
		order.OrderDate, order.TotalAmount.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderConflict, order.OrderNumber)
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for position, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, product_id, product_name, quantity, price_at_purchase
			) VALUES ($1, $2, $3, $4, $5, $6::numeric)
		`,
			order.ID, position, item.ProductID, item.ProductName, item.Quantity, item.PriceAtPurchase.String(),
		); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit create order: %w", err)
	}

	return order, nil
}

// List возвращает страницу заказов, новые первыми.
func (r *orderRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var callerID sql.NullString
	if filter.CallerID != nil {
		callerID = sql.NullString{String: *filter.CallerID, Valid: true}
	}
	// NULL в LIMIT означает выборку без ограничения.
	var limit sql.NullInt64
	if filter.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(filter.Limit), Valid: true}
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id::text, order_number, caller_id, status, order_date, total_amount::text
		FROM orders
		WHERE ($1::text IS NULL OR caller_id = $1::text)
		ORDER BY order_date DESC, id DESC
		LIMIT $2 OFFSET $3
	`, callerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			order  domain.Order
			status string
			total  string
		)
		if err := rows.Scan(&order.ID, &order.OrderNumber, &order.CallerID, &status, &order.OrderDate, &total); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.Status = domain.OrderStatus(status)
		order.OrderDate = order.OrderDate.UTC()
		if order.TotalAmount, err = decimal.NewFromString(total); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("parse total amount of order %s: %w", order.ID, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	_ = rows.Close()

	// Позиции загружаем после закрытия курсора, чтобы не держать два соединения.
	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, price_at_purchase::text
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var (
			item  domain.OrderItem
			price string
		)
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if item.PriceAtPurchase, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse item price of order %s: %w", orderID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
