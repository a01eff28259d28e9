package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestParseOrderStatus(t *testing.T) {
	status, err := domain.ParseOrderStatus("Refund Requested")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefundRequested, status)

	_, err = domain.ParseOrderStatus("refund_requested")
	require.ErrorIs(t, err, domain.ErrUnknownOrderStatus)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusProcessing, true},
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusProcessing, domain.OrderStatusCancelled, true},
		{domain.OrderStatusDelivered, domain.OrderStatusRefundRequested, true},
		{domain.OrderStatusRefundRequested, domain.OrderStatusRefunded, true},
		{domain.OrderStatusCompleted, domain.OrderStatusRefundRequested, false},
		{domain.OrderStatusRefunded, domain.OrderStatusRefunded, false},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, domain.CanTransition(tc.from, tc.to))
		})
	}
}

func TestOrderSubtotal(t *testing.T) {
	order := domain.Order{
		UserID: "u-1",
		Items: []domain.OrderItem{
			{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")},
			{ProductID: "p-2", Quantity: 1, UnitPrice: decimal.RequireFromString("0.99")},
		},
	}

	assert.True(t, order.Subtotal().Equal(decimal.RequireFromString("25.99")))
	assert.True(t, order.OwnedBy("u-1"))
	assert.False(t, order.OwnedBy("u-2"))
	assert.False(t, domain.Order{}.OwnedBy(""))
}
