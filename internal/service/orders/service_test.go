package orders

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var testNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T) (*Service, *memory.Store, *payment.MockGateway) {
	t.Helper()
	store := memory.NewStore()
	gateway := payment.NewMockGateway()
	svc := NewService(store, gateway, WithClock(func() time.Time { return testNow }))
	return svc, store, gateway
}

func seedOrder(t *testing.T, store *memory.Store, id, userID string, status domain.OrderStatus) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:            id,
		UserID:        userID,
		TotalAmount:   dec("95.92"),
		Status:        status,
		PaymentMethod: "PayPal",
		Items: []domain.OrderItem{
			{OrderID: id, ProductID: "p1", Name: "Kettle", Quantity: 2, UnitPrice: dec("50.00")},
		},
		CreatedAt: testNow.Add(-48 * time.Hour),
		UpdatedAt: testNow.Add(-48 * time.Hour),
	}
	require.NoError(t, store.Repositories().Orders.Create(context.Background(), order))
	return order
}

func seedTransaction(t *testing.T, store *memory.Store, orderID, captureID string) {
	t.Helper()
	require.NoError(t, store.Repositories().Transactions.Create(context.Background(), domain.Transaction{
		ID:              "tx-" + orderID,
		OrderID:         orderID,
		PayerEmail:      "buyer@example.com",
		Amount:          dec("95.92"),
		Currency:        "SGD",
		PaymentCurrency: "USD",
		GatewayStatus:   domain.CaptureStatusCompleted,
		GatewayOrderID:  "PP-" + orderID,
		CaptureID:       captureID,
		CreatedAt:       testNow.Add(-48 * time.Hour),
	}))
}

func orderStatus(t *testing.T, store *memory.Store, id string) domain.OrderStatus {
	t.Helper()
	order, err := store.Repositories().Orders.Get(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

func TestRequestRefund(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedOrder(t, store, "o1", "u1", domain.OrderStatusDelivered)

	order, err := svc.RequestRefund(context.Background(), "o1", "u1", "  arrived broken ", "photo attached")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefundRequested, order.Status)
	assert.Equal(t, "arrived broken", order.RefundReason)

	stored, err := store.Repositories().Orders.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefundRequested, stored.Status)
	assert.Equal(t, "photo attached", stored.RefundNotes)
	require.NotNil(t, stored.RefundRequestedAt)
	assert.Equal(t, testNow, *stored.RefundRequestedAt)

	pending := store.Outbox().AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventOrderRefundRequested, pending[0].EventType)
}

func TestRequestRefund_Rejections(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedOrder(t, store, "delivered", "u1", domain.OrderStatusDelivered)
	seedOrder(t, store, "pending", "u1", domain.OrderStatusPending)

	tests := []struct {
		name    string
		orderID string
		userID  string
		reason  string
		want    error
	}{
		{name: "anonymous", orderID: "delivered", reason: "x", want: domain.ErrUnauthenticated},
		{name: "missing order", orderID: "nope", userID: "u1", reason: "x", want: domain.ErrOrderNotFound},
		{name: "other owner", orderID: "delivered", userID: "u2", reason: "x", want: domain.ErrForbidden},
		{name: "not delivered", orderID: "pending", userID: "u1", reason: "x", want: domain.ErrInvalidState},
		{name: "blank reason", orderID: "delivered", userID: "u1", reason: "   ", want: domain.ErrRefundReasonRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RequestRefund(context.Background(), tt.orderID, tt.userID, tt.reason, "")
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, domain.OrderStatusDelivered, orderStatus(t, store, "delivered"))
	assert.Empty(t, store.Outbox().AllPending())
}

func TestApproveRefund_RefundsPaidAmountInPaymentCurrency(t *testing.T) {
	svc, store, gateway := newTestService(t)
	seedOrder(t, store, "o1", "u1", domain.OrderStatusRefundRequested)
	require.NoError(t, store.Repositories().Transactions.Create(context.Background(), domain.Transaction{
		ID:              "tx-o1",
		OrderID:         "o1",
		Amount:          dec("70.50"),
		Currency:        domain.DefaultCurrency,
		PaymentCurrency: "USD",
		GatewayStatus:   domain.CaptureStatusCompleted,
		GatewayOrderID:  "PP-o1",
		CaptureID:       "CAP-FX",
		CreatedAt:       testNow,
	}))

	_, err := svc.ApproveRefund(context.Background(), "o1")
	require.NoError(t, err)

	refund := gateway.Refunded()
	assert.Equal(t, "CAP-FX", refund.CaptureID)
	assert.True(t, refund.Amount.Equal(dec("70.50")), refund.Amount.String())
	assert.Equal(t, "USD", refund.Currency)
}

func TestApproveRefund_WithCapture(t *testing.T) {
	svc, store, gateway := newTestService(t)
	seedOrder(t, store, "o1", "u1", domain.OrderStatusRefundRequested)
	seedTransaction(t, store, "o1", "CAP-77")

	outcome, err := svc.ApproveRefund(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, outcome.GatewayRefund)
	assert.Equal(t, "REF-CAP-77", outcome.RefundID)
	assert.Equal(t, domain.OrderStatusRefunded, outcome.Order.Status)
	assert.Equal(t, domain.OrderStatusRefunded, orderStatus(t, store, "o1"))

	_, _, refunds := gateway.Calls()
	assert.Equal(t, 1, refunds)

	events, err := store.Repositories().Timeline.List(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TimelineRefunded, events[0].Type)
}

func TestApproveRefund_WithoutCaptureSkipsGateway(t *testing.T) {
	for _, captureID := range []string{"", "N/A"} {
		t.Run("capture="+captureID, func(t *testing.T) {
			svc, store, gateway := newTestService(t)
			seedOrder(t, store, "o1", "u1", domain.OrderStatusRefundRequested)
			if captureID != "" {
				seedTransaction(t, store, "o1", captureID)
			}

			outcome, err := svc.ApproveRefund(context.Background(), "o1")
			require.NoError(t, err)
			assert.False(t, outcome.GatewayRefund)
			assert.Equal(t, domain.OrderStatusRefunded, orderStatus(t, store, "o1"))
			_, _, refunds := gateway.Calls()
			assert.Zero(t, refunds)
		})
	}
}

func TestApproveRefund_WrongStateDoesNotCallGateway(t *testing.T) {
	svc, store, gateway := newTestService(t)
	seedOrder(t, store, "o1", "u1", domain.OrderStatusDelivered)
	seedTransaction(t, store, "o1", "CAP-1")

	_, err := svc.ApproveRefund(context.Background(), "o1")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, _, refunds := gateway.Calls()
	assert.Zero(t, refunds)

	_, err = svc.ApproveRefund(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestApproveRefund_GatewayFailuresLeaveOrderUntouched(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*payment.MockGateway)
		want      error
	}{
		{
			name: "declined",
			configure: func(g *payment.MockGateway) {
				g.RefundResult = domain.RefundResult{Success: false, Status: "UNPROCESSABLE_ENTITY", Error: "capture fully refunded"}
			},
			want: domain.ErrGatewayDeclined,
		},
		{
			name:      "transport",
			configure: func(g *payment.MockGateway) { g.RefundErr = errors.New("dial tcp: timeout") },
			want:      domain.ErrGatewayError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, gateway := newTestService(t)
			seedOrder(t, store, "o1", "u1", domain.OrderStatusRefundRequested)
			seedTransaction(t, store, "o1", "CAP-1")
			tt.configure(gateway)

			_, err := svc.ApproveRefund(context.Background(), "o1")
			require.ErrorIs(t, err, tt.want)

			var gwErr *domain.GatewayFailureError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, "PP-o1", gwErr.GatewayOrderID)

			assert.Equal(t, domain.OrderStatusRefundRequested, orderStatus(t, store, "o1"))
			assert.Empty(t, store.Outbox().AllPending())
		})
	}
}

func TestApproveRefund_ConcurrentApprovalsRefundOnce(t *testing.T) {
	svc, store, gateway := newTestService(t)
	seedOrder(t, store, "o1", "u1", domain.OrderStatusRefundRequested)
	seedTransaction(t, store, "o1", "CAP-1")

	const approvers = 10
	var wg sync.WaitGroup
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.ApproveRefund(context.Background(), "o1")
		}()
	}
	wg.Wait()

	_, _, refunds := gateway.Calls()
	assert.Equal(t, 1, refunds)
	assert.Equal(t, domain.OrderStatusRefunded, orderStatus(t, store, "o1"))
}

func TestUpdateStatus(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedOrder(t, store, "o1", "u1", domain.OrderStatusPending)

	_, err := svc.UpdateStatus(context.Background(), "o1", domain.OrderStatus("Shipped"))
	require.ErrorIs(t, err, domain.ErrUnknownOrderStatus)

	order, err := svc.UpdateStatus(context.Background(), "o1", domain.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
	assert.Equal(t, domain.OrderStatusDelivered, orderStatus(t, store, "o1"))

	_, err = svc.UpdateStatus(context.Background(), "missing", domain.OrderStatusDelivered)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	pending := store.Outbox().AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventOrderStatusChanged, pending[0].EventType)
}

func TestCancel(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedOrder(t, store, "pending", "u1", domain.OrderStatusPending)
	seedOrder(t, store, "delivered", "u1", domain.OrderStatusDelivered)

	_, err := svc.Cancel(context.Background(), "pending", "u2", "")
	require.ErrorIs(t, err, domain.ErrForbidden)

	order, err := svc.Cancel(context.Background(), "pending", "u1", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)

	_, err = svc.Cancel(context.Background(), "delivered", "u1", "")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.OrderStatusDelivered, orderStatus(t, store, "delivered"))
}

func TestDelete_KeepsTimeline(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedOrder(t, store, "o1", "u1", domain.OrderStatusCancelled)

	require.NoError(t, svc.Delete(context.Background(), "o1"))
	_, err := store.Repositories().Orders.Get(context.Background(), "o1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	events, err := svc.Timeline(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TimelineOrderDeleted, events[0].Type)

	require.ErrorIs(t, svc.Delete(context.Background(), "o1"), domain.ErrOrderNotFound)
}

func TestListForUser(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedOrder(t, store, "a", "u1", domain.OrderStatusPending)
	seedOrder(t, store, "b", "u2", domain.OrderStatusPending)

	orders, err := svc.ListForUser(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "a", orders[0].ID)
	require.Len(t, orders[0].Items, 1)

	all, err := svc.ListAll(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.ListForUser(context.Background(), "", 0)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestInvoice_WithoutPayment(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedOrder(t, store, "o1", "u1", domain.OrderStatusDelivered)

	inv, err := svc.Invoice(context.Background(), "o1", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultCurrency, inv.Currency)
	assert.Nil(t, inv.PaidAmount)
	assert.Empty(t, inv.PaymentCurrency)
}

func TestInvoice(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedOrder(t, store, "o1", "u1", domain.OrderStatusDelivered)
	seedTransaction(t, store, "o1", "CAP-5")

	inv, err := svc.Invoice(context.Background(), "o1", "u1")
	require.NoError(t, err)
	assert.True(t, inv.Subtotal.Equal(dec("100")), inv.Subtotal.String())
	assert.True(t, inv.GST.Equal(dec("7.92")), inv.GST.String())
	assert.True(t, inv.Discount.Equal(dec("12")), inv.Discount.String())
	assert.True(t, inv.GrandTotal.Equal(dec("95.92")))
	assert.Equal(t, domain.DefaultCurrency, inv.Currency)
	assert.Equal(t, "USD", inv.PaymentCurrency)
	require.NotNil(t, inv.PaidAmount)
	assert.True(t, inv.PaidAmount.Equal(dec("95.92")))
	assert.Equal(t, "CAP-5", inv.CaptureID)
	require.Len(t, inv.Lines, 1)
	assert.True(t, inv.Lines[0].LineTotal.Equal(dec("100")))

	_, err = svc.Invoice(context.Background(), "o1", "u2")
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestExportXLSX(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedOrder(t, store, "o1", "u1", domain.OrderStatusDelivered)
	seedOrder(t, store, "o2", "u2", domain.OrderStatusPending)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportXLSX(context.Background(), &buf))

	file, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, file.Sheets, 1)
	sheet := file.Sheets[0]
	assert.Equal(t, "Orders", sheet.Name)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "Order ID", sheet.Rows[0].Cells[0].Value)
	assert.Equal(t, "95.92", sheet.Rows[1].Cells[4].Value)
}
