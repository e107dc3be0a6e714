package service

import (
	"context"
	"errors"
	"fmt"

	"basket-shop/internal/apperror"
	"basket-shop/internal/models"
	"basket-shop/internal/store"
	"basket-shop/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderStore is the order side of the store
type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	ListOrdersWithItems(ctx context.Context, userID string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (models.OrderStatus, error)
}

// StatusPublisher announces order status changes
type StatusPublisher interface {
	PublishOrderStatusChanged(ctx context.Context, orderID string, prev, next models.OrderStatus) error
}

// OrderService handles order lookups and lifecycle changes
type OrderService struct {
	store  OrderStore
	events StatusPublisher
	logger *zap.Logger
}

// NewOrderService creates a new order service. events may be nil.
func NewOrderService(store OrderStore, events StatusPublisher) *OrderService {
	return &OrderService{
		store:  store,
		events: events,
		logger: util.GetLogger(),
	}
}

// UpdateStatusRequest represents an operator moving an order along
type UpdateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// UpdateOrderStatus moves an order to status. The database trigger queues the
// customer notifications; the published event wakes the dispatcher.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()

	if !status.Valid() {
		return nil, apperror.Validation("Statut de commande invalide")
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, apperror.New(apperror.KindNotFound, "Commande introuvable", store.ErrOrderNotFound)
	}

	prev, err := s.store.UpdateOrderStatus(ctx, orderID, status)
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		return nil, apperror.New(apperror.KindNotFound, "Commande introuvable", err)
	case errors.Is(err, store.ErrInvalidTransition):
		return nil, apperror.New(apperror.KindConflict,
			fmt.Sprintf("Impossible de passer de %q à %q", prev, status), err)
	case err != nil:
		return nil, apperror.Internal(util.SpanError(span, fmt.Errorf("failed to update order status: %w", err)))
	}

	util.OrderStatusChangesTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(prev)),
		zap.String("to", string(status)))

	if s.events != nil {
		if err := s.events.PublishOrderStatusChanged(ctx, orderID, prev, status); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to reload order: %w", err))
	}
	return order, nil
}

// OrderHistory returns the user's orders, newest first, with their items
func (s *OrderService) OrderHistory(ctx context.Context, userID string) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.OrderHistory")
	defer span.End()

	orders, err := s.store.ListOrdersWithItems(ctx, userID)
	if err != nil {
		return nil, apperror.Internal(util.SpanError(span, fmt.Errorf("failed to list orders: %w", err)))
	}
	return orders, nil
}
