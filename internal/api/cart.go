package api

import (
	"errors"
	"net/http"

	"basket-shop/internal/apperror"
	"basket-shop/internal/cart"
	"basket-shop/internal/catalog"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listBaskets(c *gin.Context) {
	baskets, err := h.deps.Catalog.ListBaskets(c.Request.Context())
	if err != nil {
		h.respondError(c, apperror.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"baskets": baskets})
}

func (h *Handler) featuredBaskets(c *gin.Context) {
	baskets, err := h.deps.Catalog.FeaturedBaskets(c.Request.Context())
	if err != nil {
		h.respondError(c, apperror.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"baskets": baskets})
}

func (h *Handler) getBasket(c *gin.Context) {
	basket, err := h.deps.Catalog.BasketBySlug(c.Request.Context(), c.Param("slug"))
	if errors.Is(err, catalog.ErrProductNotFound) {
		h.respondError(c, apperror.New(apperror.KindNotFound, "Panier introuvable", err))
		return
	}
	if err != nil {
		h.respondError(c, apperror.Internal(err))
		return
	}
	c.JSON(http.StatusOK, basket)
}

func (h *Handler) listProduce(c *gin.Context) {
	produce, err := h.deps.Catalog.Produce(c.Request.Context())
	if err != nil {
		h.respondError(c, apperror.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"produce": produce})
}

// cartResponse is the cart as shown in the drawer
type cartResponse struct {
	Kind       cart.Kind   `json:"kind"`
	Items      []cart.Line `json:"items"`
	TotalItems int         `json:"total_items"`
	TotalPrice int64       `json:"total_price"`
}

func newCartResponse(c *cart.Cart) cartResponse {
	return cartResponse{
		Kind:       c.Kind(),
		Items:      c.Lines(),
		TotalItems: c.TotalItems(),
		TotalPrice: c.TotalPrice(),
	}
}

type addItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func cartKind(c *gin.Context) (cart.Kind, error) {
	kind := cart.Kind(c.DefaultQuery("kind", string(cart.KindBasket)))
	if !kind.Valid() {
		return "", apperror.Validation("Type de panier invalide")
	}
	return kind, nil
}

func (h *Handler) getCart(c *gin.Context) {
	kind, err := cartKind(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	crt, err := h.deps.Carts.Open(c.Request.Context(), sessionID(c), kind)
	if err != nil {
		h.respondError(c, apperror.Internal(err))
		return
	}
	c.JSON(http.StatusOK, newCartResponse(crt))
}

// mutateCart applies fn under the session lock and answers with the new cart
func (h *Handler) mutateCart(c *gin.Context, kind cart.Kind, fn func(*cart.Cart) error) {
	crt, err := h.deps.Carts.Update(c.Request.Context(), sessionID(c), kind, fn)
	if err != nil {
		var appErr *apperror.Error
		if !errors.As(err, &appErr) {
			err = apperror.New(apperror.KindInternal, apperror.MsgRetry, err)
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(crt))
}

func (h *Handler) addCartItem(c *gin.Context) {
	kind, err := cartKind(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperror.New(apperror.KindValidation, "Requête invalide", err))
		return
	}

	ctx := c.Request.Context()
	product, err := h.deps.Catalog.ProductRef(ctx, kind, req.ProductID)
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		h.respondError(c, apperror.New(apperror.KindNotFound, "Produit introuvable", err))
		return
	case errors.Is(err, catalog.ErrUnavailable):
		h.respondError(c, apperror.New(apperror.KindConflict, "Ce produit n'est plus disponible", err))
		return
	case err != nil:
		h.respondError(c, apperror.Internal(err))
		return
	}

	h.mutateCart(c, kind, func(crt *cart.Cart) error {
		return crt.AddItem(ctx, product, req.Quantity)
	})
}

func (h *Handler) updateCartItem(c *gin.Context) {
	kind, err := cartKind(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperror.New(apperror.KindValidation, "Requête invalide", err))
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	h.mutateCart(c, kind, func(crt *cart.Cart) error {
		return crt.UpdateQuantity(ctx, id, *req.Quantity)
	})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	kind, err := cartKind(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	h.mutateCart(c, kind, func(crt *cart.Cart) error {
		return crt.RemoveItem(ctx, id)
	})
}

func (h *Handler) clearCart(c *gin.Context) {
	kind, err := cartKind(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	h.mutateCart(c, kind, func(crt *cart.Cart) error {
		return crt.Clear(ctx)
	})
}
