package cart

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"basket-shop/internal/session"
	"basket-shop/internal/util"

	"go.uber.org/zap"
)

const lockStripes = 64

// Manager opens session carts and serializes mutations per session
type Manager struct {
	backend   session.Backend
	observers []Observer
	stripes   [lockStripes]sync.Mutex
	logger    *zap.Logger
}

// NewManager creates a cart manager. The observers are attached to every opened cart.
func NewManager(backend session.Backend, observers ...Observer) *Manager {
	return &Manager{
		backend:   backend,
		observers: observers,
		logger:    util.Component("cart"),
	}
}

func (m *Manager) stripe(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &m.stripes[h.Sum32()%lockStripes]
}

// Storage returns the session storage for sessionID
func (m *Manager) Storage(sessionID string) *session.Storage {
	return session.For(m.backend, sessionID)
}

// Open loads the cart without taking the session lock
func (m *Manager) Open(ctx context.Context, sessionID string, kind Kind) (*Cart, error) {
	c, err := Load(ctx, m.Storage(sessionID), kind)
	if errors.Is(err, ErrCorruptSnapshot) {
		m.logger.Warn("Discarding unreadable cart snapshot",
			zap.String("session_id", sessionID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		err = nil
	}
	if err != nil {
		return nil, err
	}

	for _, fn := range m.observers {
		c.Subscribe(fn)
	}
	return c, nil
}

// Update opens the cart and runs fn while holding the session lock, so two
// requests of one session never interleave a read-modify-write.
func (m *Manager) Update(ctx context.Context, sessionID string, kind Kind, fn func(*Cart) error) (*Cart, error) {
	mu := m.stripe(sessionID)
	mu.Lock()
	defer mu.Unlock()

	c, err := m.Open(ctx, sessionID, kind)
	if err != nil {
		return nil, err
	}
	return c, fn(c)
}

// MetricsObserver records the cart size after each mutation
func MetricsObserver(s Snapshot) {
	util.CartItemsObserved.Observe(float64(s.TotalItems))
}
