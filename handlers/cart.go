package handlers

import (
	"net/http"

	"stockcart-backend/cart"
	"stockcart-backend/middleware"
	"stockcart-backend/models"
	"stockcart-backend/reservation"
	"stockcart-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CartHandler struct {
	Reservations *reservation.Service
	Carts        *cart.Store
	Logger       *zap.Logger
}

type cartResponse struct {
	Items []models.CartItem `json:"items"`
	Total decimal.Decimal   `json:"total"`
	Count int               `json:"count"`
}

func (h *CartHandler) GetCart(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	ctx := c.Request.Context()

	resp := cartResponse{Items: []models.CartItem{}, Total: decimal.Zero}
	existing, err := h.Carts.FindByUser(ctx, userID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	if existing == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	if resp.Items, err = h.Carts.Items(ctx, existing.ID); err != nil {
		respondError(c, h.Logger, err)
		return
	}
	if resp.Total, err = h.Carts.TotalValue(ctx, existing.ID); err != nil {
		respondError(c, h.Logger, err)
		return
	}
	if resp.Count, err = h.Carts.TotalQuantity(ctx, existing.ID); err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CartHandler) AddToCart(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		ProductID uuid.UUID `json:"product_id" binding:"required"`
		Quantity  int       `json:"quantity" binding:"required,min=1,max=1000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	item, err := h.Reservations.AddItem(c.Request.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// UpdateCartItem sets an item's quantity; zero removes it.
func (h *CartHandler) UpdateCartItem(c *gin.Context) {
	itemID, ok := h.ownedItem(c)
	if !ok {
		return
	}

	var req struct {
		Quantity *int `json:"quantity" binding:"required,min=0,max=1000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	ctx := c.Request.Context()
	found, err := h.Reservations.UpdateItemQuantity(ctx, itemID, *req.Quantity)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
		return
	}
	if *req.Quantity == 0 {
		c.JSON(http.StatusOK, gin.H{"message": "Item removed from cart"})
		return
	}

	item, err := h.Carts.GetItem(ctx, itemID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *CartHandler) RemoveFromCart(c *gin.Context) {
	itemID, ok := h.ownedItem(c)
	if !ok {
		return
	}

	found, err := h.Reservations.RemoveItem(c.Request.Context(), itemID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item removed from cart"})
}

func (h *CartHandler) ClearCart(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	units, err := h.Reservations.ClearCart(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared", "units_released": units})
}

// ownedItem parses the :id parameter and checks the item sits in the
// caller's cart. It writes the error response itself.
func (h *CartHandler) ownedItem(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return uuid.Nil, false
	}

	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart item ID"})
		return uuid.Nil, false
	}

	item, err := h.Carts.FindItemForUser(c.Request.Context(), itemID, userID)
	if err != nil {
		respondError(c, h.Logger, err)
		return uuid.Nil, false
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
		return uuid.Nil, false
	}
	return itemID, true
}
