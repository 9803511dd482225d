package handlers

import (
	"net/http"

	"stockcart-backend/ledger"
	"stockcart-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ProductHandler struct {
	Ledger *ledger.Ledger
	Logger *zap.Logger
}

func (h *ProductHandler) GetProducts(c *gin.Context) {
	products, err := h.Ledger.Products(c.Request.Context())
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *ProductHandler) GetProduct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	product, err := h.Ledger.Product(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// Restock adds units to a product's stock. Admin only.
func (h *ProductHandler) Restock(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req struct {
		Quantity int `json:"quantity" binding:"required,min=1,max=100000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	product, err := h.Ledger.Restock(c.Request.Context(), id, req.Quantity)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}

	h.Logger.Info("Product restocked",
		zap.String("product_id", id.String()),
		zap.Int("quantity", req.Quantity),
		zap.Int("stock_quantity", product.StockQuantity),
	)
	c.JSON(http.StatusOK, product)
}
