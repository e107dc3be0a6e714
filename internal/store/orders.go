package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"basket-shop/internal/models"

	"github.com/jmoiron/sqlx"
)

// ErrInvalidTransition is returned when a status change breaks the order lifecycle
var ErrInvalidTransition = errors.New("invalid order status transition")

// CreateOrderWithItems writes an order and its items in one transaction.
// Either every row is persisted or none is.
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (user_id, status, delivery_method, payment_method, delivery_address,
			delivery_notes, phone_number, notification_email, notification_sms, total_price, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.UserID, order.Status, order.DeliveryMethod, order.PaymentMethod, order.DeliveryAddress,
		order.DeliveryNotes, order.PhoneNumber, order.NotificationEmail, order.NotificationSMS,
		order.TotalPrice, order.IdempotencyKey,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := insertOrderItem(ctx, tx, &items[i]); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}

	order.Items = items
	return nil
}

func insertOrderItem(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, basket_id, item_name, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return tx.QueryRowxContext(ctx, query,
		item.OrderID, item.BasketID, item.ItemName, item.Quantity, item.UnitPrice, item.TotalPrice,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	if !validID(id) {
		return nil, ErrOrderNotFound
	}
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersWithItems retrieves a user's orders, newest first, each with its items
func (s *Store) ListOrdersWithItems(ctx context.Context, userID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	byID := make(map[string]*models.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	query, args, err := sqlx.In(`
		SELECT oi.id, oi.order_id, oi.basket_id, oi.quantity, oi.unit_price, oi.total_price,
			oi.created_at, oi.updated_at, COALESCE(b.name, oi.item_name) AS item_name
		FROM order_items oi
		LEFT JOIN baskets b ON b.id = oi.basket_id
		WHERE oi.order_id IN (?)
		ORDER BY oi.created_at`, ids)
	if err != nil {
		return nil, err
	}

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, item := range items {
		if order, ok := byID[item.OrderID]; ok {
			order.Items = append(order.Items, item)
		}
	}

	return orders, nil
}

// UpdateOrderStatus moves an order along its lifecycle and returns the previous status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (models.OrderStatus, error) {
	if !validID(orderID) {
		return "", ErrOrderNotFound
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var current models.OrderStatus
	err = tx.GetContext(ctx, &current, "SELECT status FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock order: %w", err)
	}

	if !current.CanTransitionTo(status) {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	if err != nil {
		return current, fmt.Errorf("failed to update order status: %w", err)
	}

	return current, tx.Commit()
}
