package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"basket-shop/internal/apperror"
	"basket-shop/internal/auth"
	"basket-shop/internal/cart"
	"basket-shop/internal/catalog"
	"basket-shop/internal/checkout"
	"basket-shop/internal/notify"
	"basket-shop/internal/service"
	"basket-shop/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Probe is a dependency checked by the readiness endpoint
type Probe interface {
	Ping(ctx context.Context) error
}

// NotificationRunner runs one notification batch
type NotificationRunner interface {
	Run(ctx context.Context) (notify.Result, error)
}

// Config holds the HTTP-level settings
type Config struct {
	AllowedOrigins []string
	SessionCookie  string
	SessionHeader  string
	SessionTTL     time.Duration
	SecureCookie   bool
}

// Dependencies are the services the handlers call
type Dependencies struct {
	Catalog    *catalog.Service
	Carts      *cart.Manager
	Checkout   *checkout.Coordinator
	Profiles   *service.ProfileService
	Orders     *service.OrderService
	Dispatcher NotificationRunner
	Verifier   *auth.Verifier
	Probes     map[string]Probe
}

// Handler contains HTTP handlers
type Handler struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies, cfg Config) *Handler {
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "session_id"
	}
	if cfg.SessionHeader == "" {
		cfg.SessionHeader = "X-Session-ID"
	}
	return &Handler{
		deps:   deps,
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     h.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", h.cfg.SessionHeader, "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length", h.cfg.SessionHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(auth.Authenticate(h.deps.Verifier))
	{
		v1.GET("/baskets", h.listBaskets)
		v1.GET("/baskets/featured", h.featuredBaskets)
		v1.GET("/baskets/:slug", h.getBasket)
		v1.GET("/produce", h.listProduce)
	}

	sessions := v1.Group("")
	sessions.Use(h.sessionMiddleware())
	{
		sessions.GET("/cart", h.getCart)
		sessions.DELETE("/cart", h.clearCart)
		sessions.POST("/cart/items", h.addCartItem)
		sessions.PATCH("/cart/items/:id", h.updateCartItem)
		sessions.DELETE("/cart/items/:id", h.removeCartItem)
		sessions.POST("/checkout", h.submitCheckout)
	}

	profile := sessions.Group("/profile")
	profile.Use(auth.RequireUser())
	{
		profile.GET("", h.getProfile)
		profile.PUT("", h.updateProfile)
		profile.GET("/orders", h.orderHistory)
	}

	admin := v1.Group("/admin")
	admin.Use(auth.RequireRole(auth.RoleAdmin))
	{
		admin.PATCH("/orders/:id/status", h.updateOrderStatus)
	}

	internal := v1.Group("/internal")
	internal.Use(auth.RequireRole(auth.RoleAdmin))
	{
		internal.POST("/notifications/process", h.processNotifications)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, probe := range h.deps.Probes {
		if err := probe.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// respondError writes err with its mapped status and user-facing message
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperror.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": apperror.MessageOf(err)})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
