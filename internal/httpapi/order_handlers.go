package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderItemResponse struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type orderResponse struct {
	ID                string              `json:"id"`
	UserID            string              `json:"userId"`
	TotalAmount       decimal.Decimal     `json:"totalAmount"`
	Status            domain.OrderStatus  `json:"status"`
	PaymentMethod     string              `json:"paymentMethod"`
	Items             []orderItemResponse `json:"items"`
	RefundReason      string              `json:"refundReason,omitempty"`
	RefundNotes       string              `json:"refundNotes,omitempty"`
	RefundRequestedAt *time.Time          `json:"refundRequestedAt,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

func newOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return orderResponse{
		ID:                o.ID,
		UserID:            o.UserID,
		TotalAmount:       o.TotalAmount,
		Status:            o.Status,
		PaymentMethod:     o.PaymentMethod,
		Items:             items,
		RefundReason:      o.RefundReason,
		RefundNotes:       o.RefundNotes,
		RefundRequestedAt: o.RefundRequestedAt,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func newOrderList(orders []domain.Order) []orderResponse {
	result := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		result = append(result, newOrderResponse(o))
	}
	return result
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type refundRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type refundResponse struct {
	Order          orderResponse `json:"order"`
	RefundID       string        `json:"refundId,omitempty"`
	GatewayRefund  bool          `json:"gatewayRefund"`
	GatewayOrderID string        `json:"gatewayOrderId,omitempty"`
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func (h *api) listOrders(c *gin.Context) {
	orders, err := h.deps.Orders.ListForUser(c.Request.Context(), userID(c), queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderList(orders))
}

func (h *api) getOrder(c *gin.Context) {
	order, err := h.deps.Orders.GetForUser(c.Request.Context(), c.Param("orderID"), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *api) getInvoice(c *gin.Context) {
	invoice, err := h.deps.Orders.Invoice(c.Request.Context(), c.Param("orderID"), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (h *api) getTimeline(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("orderID")
	if _, err := h.deps.Orders.GetForUser(ctx, orderID, userID(c)); err != nil {
		writeError(c, err)
		return
	}
	events, err := h.deps.Orders.Timeline(ctx, orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]timelineEventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, timelineEventResponse{Type: ev.Type, Reason: ev.Reason, Occurred: ev.Occurred})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *api) requestRefund(c *gin.Context) {
	var req refundRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := h.deps.Orders.RequestRefund(c.Request.Context(), c.Param("orderID"), userID(c), req.Reason, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *api) cancelOrder(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	order, err := h.deps.Orders.Cancel(c.Request.Context(), c.Param("orderID"), userID(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *api) adminListOrders(c *gin.Context) {
	orders, err := h.deps.Orders.ListAll(c.Request.Context(), queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderList(orders))
}

func (h *api) exportOrders(c *gin.Context) {
	c.Header("Content-Disposition", "attachment; filename=orders.xlsx")
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := h.deps.Orders.ExportXLSX(c.Request.Context(), c.Writer); err != nil {
		writeError(c, err)
		return
	}
}

func (h *api) approveRefund(c *gin.Context) {
	outcome, err := h.deps.Orders.ApproveRefund(c.Request.Context(), c.Param("orderID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, refundResponse{
		Order:          newOrderResponse(outcome.Order),
		RefundID:       outcome.RefundID,
		GatewayRefund:  outcome.GatewayRefund,
		GatewayOrderID: outcome.GatewayOrderID,
	})
}

func (h *api) updateOrderStatus(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %q", err, req.Status))
		return
	}
	order, err := h.deps.Orders.UpdateStatus(c.Request.Context(), c.Param("orderID"), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *api) deleteOrder(c *gin.Context) {
	if err := h.deps.Orders.Delete(c.Request.Context(), c.Param("orderID")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
