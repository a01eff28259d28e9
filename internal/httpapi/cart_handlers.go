package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartResponse struct {
	Items         []cart.Line     `json:"items"`
	TotalQuantity int             `json:"totalQuantity"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
}

func newCartResponse(c *cart.Cart) cartResponse {
	return cartResponse{Items: c.Items(), TotalQuantity: c.TotalQuantity(), TotalPrice: c.TotalPrice()}
}

type addCartItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errValidation, err))
		return false
	}
	return true
}

func (h *api) getCart(c *gin.Context) {
	userCart, err := h.deps.Carts.Load(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(userCart))
}

func (h *api) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()

	product, err := h.deps.Products.Get(ctx, req.ProductID)
	if err != nil {
		writeError(c, err)
		return
	}
	userCart, err := h.deps.Carts.Load(ctx, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	userCart.Add(product, req.Quantity)
	if line, _ := userCart.Line(product.ID); line.Quantity > product.StockQuantity {
		writeError(c, fmt.Errorf("%w: only %d of %s left", domain.ErrInsufficientStock, product.StockQuantity, product.ID))
		return
	}
	if err := h.deps.Carts.Save(ctx, userID(c), userCart); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(userCart))
}

func (h *api) updateCartItem(c *gin.Context) {
	var req updateCartItemRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	productID := c.Param("productID")

	userCart, err := h.deps.Carts.Load(ctx, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if *req.Quantity > 0 {
		product, err := h.deps.Products.Get(ctx, productID)
		if err != nil {
			writeError(c, err)
			return
		}
		if *req.Quantity > product.StockQuantity {
			writeError(c, fmt.Errorf("%w: only %d of %s left", domain.ErrInsufficientStock, product.StockQuantity, productID))
			return
		}
	}
	if err := userCart.UpdateQuantity(productID, *req.Quantity); err != nil {
		writeError(c, err)
		return
	}
	if err := h.deps.Carts.Save(ctx, userID(c), userCart); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(userCart))
}

func (h *api) removeCartItem(c *gin.Context) {
	ctx := c.Request.Context()
	userCart, err := h.deps.Carts.Load(ctx, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	userCart.Remove(c.Param("productID"))
	if err := h.deps.Carts.Save(ctx, userID(c), userCart); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(userCart))
}

func (h *api) clearCart(c *gin.Context) {
	if err := h.deps.Carts.Delete(c.Request.Context(), userID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
