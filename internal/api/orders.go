package api

import (
	"errors"
	"net/http"

	"basket-shop/internal/apperror"
	"basket-shop/internal/auth"
	"basket-shop/internal/checkout"
	"basket-shop/internal/notify"
	"basket-shop/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func identity(c *gin.Context) *auth.Identity {
	id, _ := auth.FromContext(c)
	return id
}

func (h *Handler) submitCheckout(c *gin.Context) {
	var req checkout.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperror.New(apperror.KindValidation, "Requête invalide", err))
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	result, err := h.deps.Checkout.Submit(c.Request.Context(), sessionID(c), identity(c), req)
	if err != nil {
		status := apperror.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.respondError(c, err)
			return
		}
		c.JSON(status, gin.H{"error": result.Message, "state": result.State})
		return
	}

	switch result.State {
	case checkout.StateAwaitingAuth:
		c.JSON(http.StatusUnauthorized, result)
	case checkout.StateAwaitingPhone:
		c.JSON(http.StatusConflict, result)
	default:
		c.JSON(http.StatusCreated, result)
	}
}

func (h *Handler) getProfile(c *gin.Context) {
	profile, err := h.deps.Profiles.GetProfile(c.Request.Context(), identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperror.New(apperror.KindValidation, "Requête invalide", err))
		return
	}

	resp, err := h.deps.Profiles.UpdateProfile(c.Request.Context(), sessionID(c), identity(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) orderHistory(c *gin.Context) {
	orders, err := h.deps.Orders.OrderHistory(c.Request.Context(), identity(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperror.New(apperror.KindValidation, "Requête invalide", err))
		return
	}

	order, err := h.deps.Orders.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// processNotifications runs one dispatcher batch on demand
func (h *Handler) processNotifications(c *gin.Context) {
	result, err := h.deps.Dispatcher.Run(c.Request.Context())
	if errors.Is(err, notify.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("Notification processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Notifications processed successfully",
		"result":  result,
	})
}
