package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"basket-shop/internal/session"
	"basket-shop/internal/util"
)

// ErrCorruptSnapshot is returned when the stored snapshot cannot be decoded
var ErrCorruptSnapshot = errors.New("corrupt cart snapshot")

// Kind selects which of a session's carts is addressed
type Kind string

const (
	// KindBasket holds catalog baskets
	KindBasket Kind = "basket"
	// KindCustom holds loose produce picked for a custom basket
	KindCustom Kind = "custom"
)

func (k Kind) Valid() bool {
	return k == KindBasket || k == KindCustom
}

func (k Kind) storageKey() string {
	return "cart:" + string(k)
}

// ProductRef is the product as it was when first added. Its price is not refreshed.
type ProductRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	ImageURL string `json:"image_url,omitempty"`
}

// Line is one product and how many of it are in the cart
type Line struct {
	Product  ProductRef `json:"product"`
	Quantity int        `json:"quantity"`
}

// Total is the line total: unit price times quantity
func (l Line) Total() int64 {
	return l.Product.Price * int64(l.Quantity)
}

// Snapshot is the state handed to observers after a mutation
type Snapshot struct {
	SessionID  string
	Kind       Kind
	Op         string
	Lines      []Line
	TotalItems int
	TotalPrice int64
}

// Observer is notified synchronously after every mutation
type Observer func(Snapshot)

// Cart is the set of lines of one session. It holds at most one line per product
// and every quantity is at least 1. Each mutation writes the whole collection
// through to session storage and then notifies observers.
type Cart struct {
	kind    Kind
	storage *session.Storage
	lines   []Line

	mu        sync.Mutex
	observers map[int]Observer
	nextID    int
}

// Load restores a cart from session storage. A missing snapshot yields an empty cart.
func Load(ctx context.Context, storage *session.Storage, kind Kind) (*Cart, error) {
	c := &Cart{
		kind:      kind,
		storage:   storage,
		observers: make(map[int]Observer),
	}

	raw, err := storage.Get(ctx, kind.storageKey())
	if errors.Is(err, session.ErrNotFound) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cart snapshot: %w", err)
	}

	lines, err := decode(raw)
	if err != nil {
		return c, err
	}
	c.lines = lines
	return c, nil
}

func decode(raw string) ([]Line, error) {
	var lines []Line
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	// drop anything that would break the line invariants
	clean := make([]Line, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if l.Product.ID == "" || l.Quantity < 1 || seen[l.Product.ID] {
			continue
		}
		seen[l.Product.ID] = true
		clean = append(clean, l)
	}
	return clean, nil
}

func (c *Cart) Kind() Kind {
	return c.kind
}

// Subscribe registers an observer and returns a function that removes it
func (c *Cart) Subscribe(fn Observer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.observers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// AddItem increments the line for product, or appends a new line. There is no
// upper bound; a result below 1 removes the line like UpdateQuantity does.
func (c *Cart) AddItem(ctx context.Context, product ProductRef, quantity int) error {
	return c.mutate(ctx, "add", func() {
		i := c.indexOf(product.ID)
		switch {
		case i >= 0 && c.lines[i].Quantity+quantity < 1:
			c.remove(product.ID)
		case i >= 0:
			c.lines[i].Quantity += quantity
		case quantity >= 1:
			c.lines = append(c.lines, Line{Product: product, Quantity: quantity})
		}
	})
}

// RemoveItem deletes the line for productID; absent products are ignored
func (c *Cart) RemoveItem(ctx context.Context, productID string) error {
	return c.mutate(ctx, "remove", func() {
		c.remove(productID)
	})
}

// UpdateQuantity replaces the quantity of a line. Below 1 the line is removed.
func (c *Cart) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity < 1 {
		return c.RemoveItem(ctx, productID)
	}
	return c.mutate(ctx, "update", func() {
		if i := c.indexOf(productID); i >= 0 {
			c.lines[i].Quantity = quantity
		}
	})
}

// Clear empties the cart
func (c *Cart) Clear(ctx context.Context) error {
	return c.mutate(ctx, "clear", func() {
		c.lines = nil
	})
}

// Lines returns a copy of the lines in insertion order
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

// TotalPrice is the sum of unit price times quantity over all lines
func (c *Cart) TotalPrice() int64 {
	var total int64
	for _, l := range c.lines {
		total += l.Total()
	}
	return total
}

// TotalItems is the sum of quantities over all lines
func (c *Cart) TotalItems() int {
	total := 0
	for _, l := range c.lines {
		total += l.Quantity
	}
	return total
}

// Snapshot returns the current state
func (c *Cart) Snapshot() Snapshot {
	return Snapshot{
		SessionID:  c.storage.ID(),
		Kind:       c.kind,
		Lines:      c.Lines(),
		TotalItems: c.TotalItems(),
		TotalPrice: c.TotalPrice(),
	}
}

// mutate applies fn, persists the result and notifies observers. The in-memory
// change is kept even when the write fails; the write error is returned.
func (c *Cart) mutate(ctx context.Context, op string, fn func()) error {
	fn()
	util.CartMutationsTotal.WithLabelValues(string(c.kind), op).Inc()

	err := c.persist(ctx)

	snap := c.Snapshot()
	snap.Op = op
	c.notify(snap)

	return err
}

func (c *Cart) persist(ctx context.Context) error {
	lines := c.lines
	if lines == nil {
		lines = []Line{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}
	if err := c.storage.Set(ctx, c.kind.storageKey(), string(raw)); err != nil {
		util.CartPersistFailures.Inc()
		return fmt.Errorf("failed to persist cart: %w", err)
	}
	return nil
}

func (c *Cart) notify(snap Snapshot) {
	c.mu.Lock()
	observers := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func (c *Cart) indexOf(productID string) int {
	for i, l := range c.lines {
		if l.Product.ID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) remove(productID string) {
	if i := c.indexOf(productID); i >= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	}
}
