package models

import "time"

// Basket is a catalog product: a pre-assembled bundle of produce
type Basket struct {
	ID                string    `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Description       string    `db:"description" json:"description"`
	Price             int64     `db:"price" json:"price"`
	ImageURL          *string   `db:"image_url" json:"image_url"`
	Available         bool      `db:"available" json:"available"`
	Slug              string    `db:"slug" json:"slug"`
	IsFeaturedProduct bool      `db:"is_featured_product" json:"is_featured_product"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Image returns the image URL or an empty string
func (b Basket) Image() string {
	if b.ImageURL != nil {
		return *b.ImageURL
	}
	return ""
}

// BasketItem is one line of a basket's contents
type BasketItem struct {
	ID        string    `db:"id" json:"id"`
	BasketID  string    `db:"basket_id" json:"basket_id"`
	ItemName  string    `db:"item_name" json:"item_name"`
	Quantity  string    `db:"quantity" json:"quantity"`
	Category  string    `db:"category" json:"category"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProduceItem is a loose item selectable in a custom basket
type ProduceItem struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Price int64  `db:"price" json:"price"`
}

// Profile holds the contact details attached to a user
type Profile struct {
	ID          string `db:"id" json:"id"`
	FullName    string `db:"full_name" json:"full_name"`
	PhoneNumber string `db:"phone_number" json:"phone_number"`
	Email       string `db:"email" json:"email"`
	Address     string `db:"address" json:"address"`
}

// HasPhone reports whether a contact phone number is on file
func (p *Profile) HasPhone() bool {
	return p != nil && p.PhoneNumber != ""
}

// Order represents a customer order
type Order struct {
	ID                string         `db:"id" json:"id"`
	UserID            string         `db:"user_id" json:"user_id"`
	Status            OrderStatus    `db:"status" json:"status"`
	DeliveryMethod    DeliveryMethod `db:"delivery_method" json:"delivery_method"`
	PaymentMethod     PaymentMethod  `db:"payment_method" json:"payment_method"`
	DeliveryAddress   string         `db:"delivery_address" json:"delivery_address"`
	DeliveryNotes     string         `db:"delivery_notes" json:"delivery_notes,omitempty"`
	PhoneNumber       string         `db:"phone_number" json:"phone_number"`
	NotificationEmail string         `db:"notification_email" json:"notification_email,omitempty"`
	NotificationSMS   bool           `db:"notification_sms" json:"notification_sms"`
	TotalPrice        int64          `db:"total_price" json:"total_price"`
	IdempotencyKey    string         `db:"idempotency_key" json:"-"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
	Items             []OrderItem    `db:"-" json:"items,omitempty"`
}

// OrderItem represents one line of an order. BasketID is empty for custom items.
type OrderItem struct {
	ID         string    `db:"id" json:"id"`
	OrderID    string    `db:"order_id" json:"order_id"`
	BasketID   *string   `db:"basket_id" json:"basket_id,omitempty"`
	ItemName   string    `db:"item_name" json:"item_name"`
	Quantity   int       `db:"quantity" json:"quantity"`
	UnitPrice  int64     `db:"unit_price" json:"unit_price"`
	TotalPrice int64     `db:"total_price" json:"total_price"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// NotificationQueueEntry is a pending outbound message for an order status change
type NotificationQueueEntry struct {
	ID               string           `db:"id" json:"id"`
	OrderID          string           `db:"order_id" json:"order_id"`
	NotificationType NotificationType `db:"notification_type" json:"notification_type"`
	Email            *string          `db:"email" json:"email,omitempty"`
	PhoneNumber      *string          `db:"phone_number" json:"phone_number,omitempty"`
	Status           string           `db:"status" json:"status"`
	Processed        bool             `db:"processed" json:"processed"`
	ProcessedAt      *time.Time       `db:"processed_at" json:"processed_at,omitempty"`
	Attempts         int              `db:"attempts" json:"attempts"`
	LastError        *string          `db:"last_error" json:"last_error,omitempty"`
	Failed           bool             `db:"failed" json:"failed"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// Destination returns the address the entry should be delivered to
func (n NotificationQueueEntry) Destination() string {
	switch n.NotificationType {
	case NotificationEmail:
		if n.Email != nil {
			return *n.Email
		}
	case NotificationSMS:
		if n.PhoneNumber != nil {
			return *n.PhoneNumber
		}
	}
	return ""
}

// OrderStatus is the lifecycle position of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusPreparing  OrderStatus = "preparing"
	OrderStatusDelivering OrderStatus = "delivering"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var nextStatus = map[OrderStatus]OrderStatus{
	OrderStatusPending:    OrderStatusConfirmed,
	OrderStatusConfirmed:  OrderStatusPreparing,
	OrderStatusPreparing:  OrderStatusDelivering,
	OrderStatusDelivering: OrderStatusDelivered,
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing,
		OrderStatusDelivering, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Orders move forward one step at a time, or get cancelled before they are terminal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	return nextStatus[s] == next
}

// DeliveryMethod is how the order reaches the customer
type DeliveryMethod string

const (
	DeliveryHome   DeliveryMethod = "home"
	DeliveryPickup DeliveryMethod = "pickup"
)

func (d DeliveryMethod) Valid() bool {
	return d == DeliveryHome || d == DeliveryPickup
}

// PaymentMethod is recorded on the order but not processed
type PaymentMethod string

const (
	PaymentCash        PaymentMethod = "cash"
	PaymentMobileMoney PaymentMethod = "mobile_money"
)

func (p PaymentMethod) Valid() bool {
	return p == PaymentCash || p == PaymentMobileMoney
}

// NotificationType is the delivery channel of a queue entry
type NotificationType string

const (
	NotificationEmail NotificationType = "email"
	NotificationSMS   NotificationType = "sms"
)
