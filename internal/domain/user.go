package domain

import "github.com/shopspring/decimal"

// CoinsPerCurrencyUnit — сколько монет равно одной денежной единице скидки.
const CoinsPerCurrencyUnit = 100

// PointsPerCoin — курс конвертации баллов в монеты.
const PointsPerCoin = 10

// UserBalances хранит снимок балансов пользователя.
type UserBalances struct {
	UserID        string
	LoyaltyPoints int64
	CoinBalance   int64
	WalletBalance decimal.Decimal
}

// BalanceChange описывает атомарное изменение балансов при оформлении заказа.
// Списания применяются условно: ни один баланс не может уйти в минус.
type BalanceChange struct {
	WalletDebit  decimal.Decimal
	CoinsDebit   int64
	PointsCredit int64
}

// IsZero сообщает, что изменение ничего не меняет.
func (c BalanceChange) IsZero() bool {
	return c.WalletDebit.IsZero() && c.CoinsDebit == 0 && c.PointsCredit == 0
}
