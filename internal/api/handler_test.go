package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"basket-shop/internal/auth"
	"basket-shop/internal/cart"
	"basket-shop/internal/catalog"
	"basket-shop/internal/checkout"
	"basket-shop/internal/models"
	"basket-shop/internal/notify"
	"basket-shop/internal/service"
	"basket-shop/internal/session"
	"basket-shop/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	fraicheurID = "3b6f0c2e-8a41-4d7e-9c55-2f1e7a9d0b11"
	familleID   = "c8e2d5a4-1f93-4b60-a7d2-6e0b4c9f3a22"
	pendingID   = "7a3d9e10-5c2b-4f86-b1e4-0d9c8b7a6f31"
)

// memoryStore backs every service with maps
type memoryStore struct {
	mu       sync.Mutex
	baskets  []models.Basket
	produce  []models.ProduceItem
	profiles map[string]*models.Profile
	orders   []*models.Order
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		baskets: []models.Basket{
			{ID: fraicheurID, Name: "Panier Fraîcheur", Slug: "fraicheur", Price: 1000, Available: true, IsFeaturedProduct: true},
			{ID: familleID, Name: "Panier Famille", Slug: "famille", Price: 2500, Available: true},
		},
		produce:  []models.ProduceItem{{ID: "tomates", Name: "Tomates", Price: 1000}},
		profiles: map[string]*models.Profile{},
	}
}

func (m *memoryStore) ListAvailableBaskets(context.Context) ([]models.Basket, error) {
	return m.baskets, nil
}

func (m *memoryStore) ListFeaturedBaskets(context.Context) ([]models.Basket, error) {
	return m.baskets[:1], nil
}

func (m *memoryStore) GetBasketByID(_ context.Context, id string) (*models.Basket, error) {
	for _, b := range m.baskets {
		if b.ID == id {
			b := b
			return &b, nil
		}
	}
	return nil, store.ErrBasketNotFound
}

func (m *memoryStore) GetBasketBySlug(_ context.Context, slug string) (*models.Basket, error) {
	for _, b := range m.baskets {
		if b.Slug == slug {
			b := b
			return &b, nil
		}
	}
	return nil, store.ErrBasketNotFound
}

func (m *memoryStore) GetBasketItems(context.Context, string) ([]models.BasketItem, error) {
	return []models.BasketItem{}, nil
}

func (m *memoryStore) ListProduce(context.Context) ([]models.ProduceItem, error) {
	return m.produce, nil
}

func (m *memoryStore) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, store.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memoryStore) SaveProfile(_ context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *memoryStore) CreateOrderWithItems(_ context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order.ID = fmt.Sprintf("o%d", len(m.orders)+1)
	order.Items = items
	m.orders = append(m.orders, order)
	return nil
}

func (m *memoryStore) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyKey == key {
			return o, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, store.ErrOrderNotFound
}

func (m *memoryStore) ListOrdersWithItems(_ context.Context, userID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].UserID == userID {
			out = append(out, *m.orders[i])
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateOrderStatus(_ context.Context, id string, status models.OrderStatus) (models.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			prev := o.Status
			if !prev.CanTransitionTo(status) {
				return prev, store.ErrInvalidTransition
			}
			o.Status = status
			return prev, nil
		}
	}
	return "", store.ErrOrderNotFound
}

type stubRunner struct {
	err error
}

func (s stubRunner) Run(context.Context) (notify.Result, error) {
	return notify.Result{Fetched: 1, Delivered: 1}, s.err
}

type testServer struct {
	router   *gin.Engine
	store    *memoryStore
	verifier *auth.Verifier
	session  string
}

func newTestServer(runner NotificationRunner) *testServer {
	st := newMemoryStore()
	carts := cart.NewManager(session.NewMemoryBackend())
	co := checkout.NewCoordinator(carts, st, st, nil)
	verifier := auth.NewVerifier("test-secret")

	h := NewHandler(Dependencies{
		Catalog:    catalog.NewService(st, nil, time.Minute),
		Carts:      carts,
		Checkout:   co,
		Profiles:   service.NewProfileService(st, co),
		Orders:     service.NewOrderService(st, nil),
		Dispatcher: runner,
		Verifier:   verifier,
	}, Config{AllowedOrigins: []string{"http://localhost:5173"}, SessionTTL: time.Hour})

	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{
		router:   router,
		store:    st,
		verifier: verifier,
		session:  "6f1c2f7e-4a3b-4c1e-9d5a-2b8e7c6d5f40",
	}
}

func (s *testServer) token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := s.verifier.Issue(id, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", s.session)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(stubRunner{})
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCatalogRoutes(t *testing.T) {
	s := newTestServer(stubRunner{})

	w := s.do(t, http.MethodGet, "/api/v1/baskets", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct{ Baskets []models.Basket }
	decode(t, w, &list)
	assert.Len(t, list.Baskets, 2)

	w = s.do(t, http.MethodGet, "/api/v1/baskets/fraicheur", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/baskets/inconnu", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCartRoutes(t *testing.T) {
	s := newTestServer(stubRunner{})

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": fraicheurID, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": fraicheurID, "quantity": 1})
	require.Equal(t, http.StatusOK, w.Code)

	var resp cartResponse
	decode(t, w, &resp)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 3, resp.Items[0].Quantity)
	assert.Equal(t, int64(3000), resp.TotalPrice)
	assert.Equal(t, s.session, w.Header().Get("X-Session-ID"))

	w = s.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": fraicheurID, "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": "0f1e2d3c-4b5a-4968-8776-a5b4c3d2e1f0", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPatch, "/api/v1/cart/items/"+fraicheurID, "", gin.H{"quantity": 0})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Empty(t, resp.Items)
	assert.Equal(t, int64(0), resp.TotalPrice)

	w = s.do(t, http.MethodPost, "/api/v1/cart/items?kind=custom", "", gin.H{"product_id": "tomates", "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, cart.KindCustom, resp.Kind)

	w = s.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	decode(t, w, &resp)
	assert.Empty(t, resp.Items)

	w = s.do(t, http.MethodGet, "/api/v1/cart?kind=gift", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionIsMintedWhenMissing(t *testing.T) {
	s := newTestServer(stubRunner{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Session-ID"))
	assert.Contains(t, w.Header().Get("Set-Cookie"), "session_id=")
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(stubRunner{})
	user := s.token(t, auth.Identity{UserID: "u1", Email: "awa@example.com"})
	details := gin.H{"details": gin.H{"delivery_method": "home", "payment_method": "cash", "delivery_address": "Cocody"}}

	w := s.do(t, http.MethodPost, "/api/v1/checkout", user, details)
	assert.Equal(t, http.StatusConflict, w.Code, "empty cart")

	s.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": familleID, "quantity": 1})

	w = s.do(t, http.MethodPost, "/api/v1/checkout", "", details)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/checkout", user, details)
	require.Equal(t, http.StatusConflict, w.Code)
	var res checkout.Result
	decode(t, w, &res)
	assert.Equal(t, checkout.StateAwaitingPhone, res.State)
	assert.Equal(t, "/profile", res.Redirect)

	w = s.do(t, http.MethodPut, "/api/v1/profile", user, gin.H{"full_name": "Awa", "phone_number": "0700000000"})
	require.Equal(t, http.StatusOK, w.Code)
	var profileResp service.UpdateProfileResponse
	decode(t, w, &profileResp)
	require.NotNil(t, profileResp.Checkout)
	assert.Equal(t, checkout.StateSucceeded, profileResp.Checkout.State)
	assert.Equal(t, int64(2500), profileResp.Checkout.Order.TotalPrice)

	w = s.do(t, http.MethodGet, "/api/v1/profile/orders", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct{ Orders []models.Order }
	decode(t, w, &history)
	assert.Len(t, history.Orders, 1)

	w = s.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	var resp cartResponse
	decode(t, w, &resp)
	assert.Empty(t, resp.Items)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(stubRunner{})
	s.store.orders = append(s.store.orders, &models.Order{ID: pendingID, UserID: "u1", Status: models.OrderStatusPending})
	user := s.token(t, auth.Identity{UserID: "u1"})
	admin := s.token(t, auth.Identity{UserID: "a1", Role: auth.RoleAdmin})

	w := s.do(t, http.MethodPatch, "/api/v1/admin/orders/"+pendingID+"/status", user, gin.H{"status": "confirmed"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPatch, "/api/v1/admin/orders/"+pendingID+"/status", admin, gin.H{"status": "confirmed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OrderStatusConfirmed, s.store.orders[0].Status)

	w = s.do(t, http.MethodPatch, "/api/v1/admin/orders/"+pendingID+"/status", admin, gin.H{"status": "pending"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/internal/notifications/process", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "Notifications processed successfully", body["message"])
}

func TestProcessNotificationsFailure(t *testing.T) {
	s := newTestServer(stubRunner{err: fmt.Errorf("failed to fetch notifications: boom")})
	admin := s.token(t, auth.Identity{UserID: "a1", Role: auth.RoleAdmin})

	w := s.do(t, http.MethodPost, "/api/v1/internal/notifications/process", admin, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Contains(t, body["error"], "boom")

	s = newTestServer(stubRunner{err: notify.ErrAlreadyRunning})
	w = s.do(t, http.MethodPost, "/api/v1/internal/notifications/process", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	s := newTestServer(stubRunner{})
	admin := s.token(t, auth.Identity{UserID: "a1", Role: auth.RoleAdmin})

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": "abc", "quantity": 1})
	require.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "Produit introuvable", body["error"])

	w = s.do(t, http.MethodPatch, "/api/v1/admin/orders/abc/status", admin, gin.H{"status": "confirmed"})
	require.Equal(t, http.StatusNotFound, w.Code)
	decode(t, w, &body)
	assert.Equal(t, "Commande introuvable", body["error"])
}
