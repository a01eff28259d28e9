package pricing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

func fixedVoucher(amount string) *domain.Voucher {
	return &domain.Voucher{
		ID:             "v-1",
		UserID:         "u-1",
		Code:           "TEN",
		DiscountAmount: decimal.NewNullDecimal(dec(amount)),
		ExpiryDate:     time.Now().Add(time.Hour),
	}
}

func TestQuote_WalletIgnoresCoinsAndVoucher(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultTaxRate)

	q, err := engine.Quote(pricing.Input{
		Subtotal:   dec("50"),
		Method:     domain.WalletPayment{},
		CoinsToUse: 500,
		Voucher:    fixedVoucher("10"),
		Balances:   domain.UserBalances{CoinBalance: 1000, WalletBalance: dec("60")},
	})
	require.NoError(t, err)

	assertDec(t, "54.50", q.TotalAmount, "total")
	assertDec(t, "54.50", q.WalletAmountCharged, "wallet charged")
	assertDec(t, "0", q.CoinDiscount, "coin discount")
	assertDec(t, "0", q.VoucherDiscount, "voucher discount")
	assert.Zero(t, q.CoinsRedeemed)
	assert.Empty(t, q.VoucherID)
	assert.Equal(t, int64(50), q.PointsEarned)
	assert.Zero(t, q.BalanceChange().CoinsDebit)
}

func TestQuote_WalletInsufficientFunds(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultTaxRate)

	for _, balance := range []string{"10", "54.49"} {
		_, err := engine.Quote(pricing.Input{
			Subtotal: dec("50"),
			Method:   domain.WalletPayment{},
			Balances: domain.UserBalances{WalletBalance: dec(balance)},
		})
		require.ErrorIs(t, err, domain.ErrInsufficientFunds, "balance %s", balance)
	}
}

func TestQuote_CoinsAndFixedVoucher(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultTaxRate)

	q, err := engine.Quote(pricing.Input{
		Subtotal:   dec("100"),
		Method:     domain.CoinsAndVoucherPayment{},
		CoinsToUse: 200,
		Voucher:    fixedVoucher("10"),
		Balances:   domain.UserBalances{CoinBalance: 250},
	})
	require.NoError(t, err)

	assertDec(t, "2", q.CoinDiscount, "coin discount")
	assertDec(t, "10", q.VoucherDiscount, "voucher discount")
	assertDec(t, "88", q.FinalSubtotal, "final subtotal")
	assertDec(t, "7.92", q.Tax, "tax")
	assertDec(t, "95.92", q.TotalAmount, "total")
	assertDec(t, "0", q.WalletAmountCharged, "wallet")
	assert.Equal(t, int64(100), q.PointsEarned)
	assert.Equal(t, int64(200), q.CoinsRedeemed)
	assert.Equal(t, "v-1", q.VoucherID)
}

func TestQuote_PercentVoucherAppliesToDiscountedSubtotal(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultTaxRate)
	voucher := &domain.Voucher{
		ID:                 "v-2",
		UserID:             "u-1",
		DiscountPercentage: decimal.NewNullDecimal(dec("10")),
		ExpiryDate:         time.Now().Add(time.Hour),
	}

	q, err := engine.Quote(pricing.Input{
		Subtotal:   dec("100"),
		Method:     domain.ExternalGatewayPayment{Provider: domain.GatewayPayPal},
		CoinsToUse: 2000,
		Voucher:    voucher,
		Balances:   domain.UserBalances{CoinBalance: 2000},
	})
	require.NoError(t, err)

	assertDec(t, "20", q.CoinDiscount, "coin discount")
	assertDec(t, "8", q.VoucherDiscount, "voucher discount")
	assertDec(t, "72", q.FinalSubtotal, "final subtotal")
	assertDec(t, "78.48", q.TotalAmount, "total")
}

func TestQuote_DiscountsNeverGoBelowZero(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultTaxRate)

	q, err := engine.Quote(pricing.Input{
		Subtotal:   dec("5.50"),
		Method:     domain.CoinsAndVoucherPayment{},
		CoinsToUse: 1000,
		Voucher:    fixedVoucher("10"),
		Balances:   domain.UserBalances{CoinBalance: 1000},
	})
	require.NoError(t, err)

	assertDec(t, "10", q.CoinDiscount, "coin discount")
	assertDec(t, "0", q.VoucherDiscount, "voucher discount")
	assertDec(t, "0", q.FinalSubtotal, "final subtotal")
	assertDec(t, "0", q.TotalAmount, "total")
	assert.Equal(t, int64(5), q.PointsEarned)
}

func TestQuote_CoinValidation(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultTaxRate)
	base := pricing.Input{
		Subtotal: dec("10"),
		Method:   domain.CoinsAndVoucherPayment{},
		Balances: domain.UserBalances{CoinBalance: 100},
	}

	over := base
	over.CoinsToUse = 101
	_, err := engine.Quote(over)
	require.ErrorIs(t, err, domain.ErrInsufficientCoinBalance)

	negative := base
	negative.CoinsToUse = -1
	_, err = engine.Quote(negative)
	require.ErrorIs(t, err, domain.ErrInvalidCoins)
}

func TestQuote_PointsUseFloorOfSubtotal(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultTaxRate)

	q, err := engine.Quote(pricing.Input{Subtotal: dec("99.99"), Method: domain.ExternalGatewayPayment{Provider: domain.GatewayQR}})
	require.NoError(t, err)
	assert.Equal(t, int64(99), q.PointsEarned)
}

func TestQuote_MissingMethod(t *testing.T) {
	_, err := pricing.NewEngine(pricing.DefaultTaxRate).Quote(pricing.Input{Subtotal: dec("1")})
	require.ErrorIs(t, err, domain.ErrUnsupportedPaymentMethod)
}

func TestQuote_IsDeterministic(t *testing.T) {
	engine := pricing.NewEngine(dec("0.07"))
	in := pricing.Input{
		Subtotal:   dec("33.33"),
		Method:     domain.CoinsAndVoucherPayment{},
		CoinsToUse: 33,
		Voucher:    fixedVoucher("3"),
		Balances:   domain.UserBalances{CoinBalance: 40},
	}

	first, err := engine.Quote(in)
	require.NoError(t, err)
	second, err := engine.Quote(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
