// Package checkout turns a session cart into a persisted order.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"basket-shop/internal/apperror"
	"basket-shop/internal/auth"
	"basket-shop/internal/cart"
	"basket-shop/internal/models"
	"basket-shop/internal/session"
	"basket-shop/internal/store"
	"basket-shop/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// State is the position of a checkout attempt
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingAuth  State = "awaiting_auth"
	StateAwaitingPhone State = "awaiting_phone"
	StateConfirming    State = "confirming"
	StateSubmitting    State = "submitting"
	StateSucceeded     State = "succeeded"
	StateFailed        State = "failed"
)

const pendingKey = "checkout"

var ErrEmptyCart = errors.New("cart is empty")

// OrderStore persists orders
type OrderStore interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
}

// ProfileStore reads contact details
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// EventPublisher announces placed orders
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, order *models.Order) error
}

// Details is what the customer fills in on the order form
type Details struct {
	DeliveryMethod  models.DeliveryMethod `json:"delivery_method"`
	PaymentMethod   models.PaymentMethod  `json:"payment_method"`
	Address         string                `json:"delivery_address"`
	Notes           string                `json:"delivery_notes"`
	NotificationSMS bool                  `json:"notification_sms"`
}

func (d *Details) normalize() error {
	if d.DeliveryMethod == "" {
		d.DeliveryMethod = models.DeliveryHome
	}
	if d.PaymentMethod == "" {
		d.PaymentMethod = models.PaymentMobileMoney
	}
	if !d.DeliveryMethod.Valid() {
		return apperror.Validation("Mode de livraison invalide")
	}
	if !d.PaymentMethod.Valid() {
		return apperror.Validation("Mode de paiement invalide")
	}
	return nil
}

// Request is one submission
type Request struct {
	Kind           cart.Kind `json:"kind"`
	Details        Details   `json:"details"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// Result reports where the attempt ended. Redirect tells the client which
// page must be visited before the attempt can continue.
type Result struct {
	State    State         `json:"state"`
	Order    *models.Order `json:"order,omitempty"`
	Redirect string        `json:"redirect,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// pending is the attempt halted for a missing phone number. Its presence in
// session storage is the one-shot resume flag.
type pending struct {
	UserID    string    `json:"user_id"`
	Request   Request   `json:"request"`
	CreatedAt time.Time `json:"created_at"`
}

// Coordinator runs checkout attempts
type Coordinator struct {
	carts    *cart.Manager
	orders   OrderStore
	profiles ProfileStore
	events   EventPublisher
	logger   *zap.Logger
}

// NewCoordinator creates a checkout coordinator. events may be nil.
func NewCoordinator(carts *cart.Manager, orders OrderStore, profiles ProfileStore, events EventPublisher) *Coordinator {
	return &Coordinator{
		carts:    carts,
		orders:   orders,
		profiles: profiles,
		events:   events,
		logger:   util.Component("checkout"),
	}
}

// Submit checks out the session cart of req.Kind. A nil identity ends in
// StateAwaitingAuth; a profile without phone ends in StateAwaitingPhone and
// remembers the request for Resume. Errors are returned with StateFailed and
// leave the cart untouched.
func (c *Coordinator) Submit(ctx context.Context, sessionID string, id *auth.Identity, req Request) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutCoordinator.Submit")
	defer span.End()

	if req.Kind == "" {
		req.Kind = cart.KindBasket
	}
	if !req.Kind.Valid() {
		return c.finish(&Result{State: StateFailed}, apperror.Validation("Type de panier invalide"))
	}
	if err := req.Details.normalize(); err != nil {
		return c.finish(&Result{State: StateFailed}, err)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	var result *Result
	_, err := c.carts.Update(ctx, sessionID, req.Kind, func(crt *cart.Cart) error {
		var err error
		result, err = c.submit(ctx, sessionID, id, req, crt)
		return err
	})
	if result == nil {
		result = &Result{State: StateFailed}
	}
	span.SetAttributes(attribute.String("checkout.state", string(result.State)))
	return c.finish(result, util.SpanError(span, err))
}

func (c *Coordinator) submit(ctx context.Context, sessionID string, id *auth.Identity, req Request, crt *cart.Cart) (*Result, error) {
	if id != nil {
		existing, err := c.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return &Result{State: StateFailed}, apperror.Internal(fmt.Errorf("failed to check idempotency: %w", err))
		}
		if existing != nil && existing.UserID == id.UserID {
			c.logger.Info("Duplicate checkout detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.ID))
			return &Result{State: StateSucceeded, Order: existing}, nil
		}
	}

	if crt.Empty() {
		return &Result{State: StateIdle}, apperror.New(apperror.KindPrecondition, apperror.MsgEmptyCart, ErrEmptyCart)
	}

	if id == nil {
		return &Result{State: StateAwaitingAuth, Redirect: "/login", Message: apperror.MsgLoginNeeded}, nil
	}

	profile, err := c.profiles.GetProfile(ctx, id.UserID)
	if err != nil && !errors.Is(err, store.ErrProfileNotFound) {
		util.OrdersFailedTotal.WithLabelValues("profile_lookup").Inc()
		return &Result{State: StateFailed}, apperror.External(fmt.Errorf("failed to get profile: %w", err))
	}

	if !profile.HasPhone() {
		if err := c.savePending(ctx, sessionID, id, req); err != nil {
			return &Result{State: StateFailed}, apperror.Internal(err)
		}
		return &Result{State: StateAwaitingPhone, Redirect: "/profile", Message: apperror.MsgPhoneMissing}, nil
	}

	order, items := buildOrder(id, profile, req, crt)
	if err := c.orders.CreateOrderWithItems(ctx, order, items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return &Result{State: StateFailed}, apperror.External(fmt.Errorf("failed to create order: %w", err))
	}

	util.OrdersCreatedTotal.WithLabelValues(string(req.Kind)).Inc()
	c.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Int64("total_price", order.TotalPrice))

	if err := crt.Clear(ctx); err != nil {
		c.logger.Warn("Failed to persist cleared cart", zap.String("order_id", order.ID), zap.Error(err))
	}

	if c.events != nil {
		if err := c.events.PublishOrderPlaced(ctx, order); err != nil {
			c.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
		}
	}

	return &Result{State: StateSucceeded, Order: order}, nil
}

// Resume replays the attempt halted for a missing phone number once the
// profile has one. The stored attempt is consumed; without one, or while the
// phone is still missing, Resume returns nil.
func (c *Coordinator) Resume(ctx context.Context, sessionID string, id *auth.Identity) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutCoordinator.Resume")
	defer span.End()

	if id == nil {
		return nil, nil
	}

	storage := c.carts.Storage(sessionID)
	p, err := loadPending(ctx, storage)
	if err != nil || p == nil {
		return nil, err
	}
	if p.UserID != id.UserID {
		return nil, nil
	}

	profile, err := c.profiles.GetProfile(ctx, id.UserID)
	if err != nil && !errors.Is(err, store.ErrProfileNotFound) {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if !profile.HasPhone() {
		return nil, nil
	}

	if err := storage.Delete(ctx, pendingKey); err != nil {
		return nil, fmt.Errorf("failed to consume pending checkout: %w", err)
	}

	c.logger.Info("Resuming checkout", zap.String("user_id", id.UserID))
	return c.Submit(ctx, sessionID, id, p.Request)
}

func (c *Coordinator) finish(result *Result, err error) (*Result, error) {
	if err != nil {
		if result.State != StateIdle {
			result.State = StateFailed
		}
		result.Message = apperror.MessageOf(err)
	}
	util.CheckoutAttemptsTotal.WithLabelValues(string(result.State)).Inc()
	return result, err
}

func (c *Coordinator) savePending(ctx context.Context, sessionID string, id *auth.Identity, req Request) error {
	raw, err := json.Marshal(pending{UserID: id.UserID, Request: req, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode pending checkout: %w", err)
	}
	if err := c.carts.Storage(sessionID).Set(ctx, pendingKey, string(raw)); err != nil {
		return fmt.Errorf("failed to save pending checkout: %w", err)
	}
	return nil
}

func loadPending(ctx context.Context, storage *session.Storage) (*pending, error) {
	raw, err := storage.Get(ctx, pendingKey)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending checkout: %w", err)
	}

	var p pending
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		_ = storage.Delete(ctx, pendingKey)
		return nil, nil
	}
	return &p, nil
}

// buildOrder prices the order from the cart lines as they were added
func buildOrder(id *auth.Identity, profile *models.Profile, req Request, crt *cart.Cart) (*models.Order, []models.OrderItem) {
	email := profile.Email
	if email == "" {
		email = id.Email
	}

	order := &models.Order{
		UserID:            id.UserID,
		Status:            models.OrderStatusPending,
		DeliveryMethod:    req.Details.DeliveryMethod,
		PaymentMethod:     req.Details.PaymentMethod,
		DeliveryAddress:   req.Details.Address,
		DeliveryNotes:     req.Details.Notes,
		PhoneNumber:       profile.PhoneNumber,
		NotificationEmail: email,
		NotificationSMS:   req.Details.NotificationSMS,
		TotalPrice:        crt.TotalPrice(),
		IdempotencyKey:    req.IdempotencyKey,
	}

	lines := crt.Lines()
	items := make([]models.OrderItem, 0, len(lines))
	for _, l := range lines {
		item := models.OrderItem{
			ItemName:   l.Product.Name,
			Quantity:   l.Quantity,
			UnitPrice:  l.Product.Price,
			TotalPrice: l.Total(),
		}
		if req.Kind == cart.KindBasket {
			basketID := l.Product.ID
			item.BasketID = &basketID
		}
		items = append(items, item)
	}
	return order, items
}
