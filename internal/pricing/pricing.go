// Package pricing считает итог к оплате: скидки монетами и ваучером, налог и баллы лояльности.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTaxRate — ставка GST.
var DefaultTaxRate = decimal.RequireFromString("0.09")

var coinsPerUnit = decimal.NewFromInt(domain.CoinsPerCurrencyUnit)

// Input содержит всё, от чего зависит расчёт.
type Input struct {
	Subtotal   decimal.Decimal
	Method     domain.PaymentMethod
	CoinsToUse int64
	// Voucher уже проверен вызывающим кодом; nil означает расчёт без ваучера.
	Voucher  *domain.Voucher
	Balances domain.UserBalances
}

// Quote — результат расчёта.
type Quote struct {
	Subtotal            decimal.Decimal `json:"subtotal"`
	CoinsRedeemed       int64           `json:"coinsRedeemed"`
	CoinDiscount        decimal.Decimal `json:"coinDiscount"`
	VoucherID           string          `json:"voucherId,omitempty"`
	VoucherDiscount     decimal.Decimal `json:"voucherDiscount"`
	FinalSubtotal       decimal.Decimal `json:"finalSubtotal"`
	Tax                 decimal.Decimal `json:"tax"`
	TotalAmount         decimal.Decimal `json:"totalAmount"`
	WalletAmountCharged decimal.Decimal `json:"walletAmountCharged"`
	PointsEarned        int64           `json:"pointsEarned"`
}

// BalanceChange возвращает изменение балансов пользователя по расчёту.
func (q Quote) BalanceChange() domain.BalanceChange {
	return domain.BalanceChange{
		WalletDebit:  q.WalletAmountCharged,
		CoinsDebit:   q.CoinsRedeemed,
		PointsCredit: q.PointsEarned,
	}
}

// Engine считает заказ с фиксированной ставкой налога и не имеет побочных эффектов.
type Engine struct {
	taxRate decimal.Decimal
}

// NewEngine создаёт калькулятор. Отрицательная ставка заменяется ставкой по умолчанию.
func NewEngine(taxRate decimal.Decimal) Engine {
	if taxRate.IsNegative() {
		taxRate = DefaultTaxRate
	}
	return Engine{taxRate: taxRate}
}

// TaxRate возвращает ставку налога.
func (e Engine) TaxRate() decimal.Decimal { return e.taxRate }

// Quote считает итог. Порядок шагов фиксирован: монеты, затем ваучер, затем налог.
func (e Engine) Quote(in Input) (Quote, error) {
	subtotal := in.Subtotal
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}
	q := Quote{
		Subtotal:     subtotal,
		PointsEarned: subtotal.Floor().IntPart(),
	}

	switch in.Method.(type) {
	case domain.WalletPayment:
		q.FinalSubtotal = subtotal
		q.Tax = e.tax(subtotal)
		q.TotalAmount = subtotal.Add(q.Tax)
		q.WalletAmountCharged = q.TotalAmount
		if in.Balances.WalletBalance.LessThan(q.WalletAmountCharged) {
			return Quote{}, fmt.Errorf("%w: balance %s, required %s",
				domain.ErrInsufficientFunds, in.Balances.WalletBalance.StringFixed(2), q.WalletAmountCharged.StringFixed(2))
		}
		return q, nil
	case domain.CoinsAndVoucherPayment, domain.ExternalGatewayPayment:
		return e.discounted(q, in)
	case nil:
		return Quote{}, fmt.Errorf("%w: payment method is required", domain.ErrUnsupportedPaymentMethod)
	default:
		return Quote{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedPaymentMethod, in.Method.Name())
	}
}

func (e Engine) discounted(q Quote, in Input) (Quote, error) {
	if in.CoinsToUse < 0 {
		return Quote{}, domain.ErrInvalidCoins
	}
	if in.CoinsToUse > in.Balances.CoinBalance {
		return Quote{}, fmt.Errorf("%w: balance %d, requested %d",
			domain.ErrInsufficientCoinBalance, in.Balances.CoinBalance, in.CoinsToUse)
	}

	q.CoinsRedeemed = in.CoinsToUse
	q.CoinDiscount = decimal.NewFromInt(in.CoinsToUse).Div(coinsPerUnit)
	discounted := decimal.Max(decimal.Zero, q.Subtotal.Sub(q.CoinDiscount))

	q.VoucherDiscount = decimal.Zero
	if in.Voucher != nil {
		q.VoucherID = in.Voucher.ID
		q.VoucherDiscount = in.Voucher.Discount(discounted)
	}

	q.FinalSubtotal = decimal.Max(decimal.Zero, discounted.Sub(q.VoucherDiscount))
	q.Tax = e.tax(q.FinalSubtotal)
	q.TotalAmount = q.FinalSubtotal.Add(q.Tax)
	q.WalletAmountCharged = decimal.Zero
	return q, nil
}

func (e Engine) tax(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(e.taxRate).Round(2)
}
