package memory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepository struct {
	acc accessor
}

func (r *productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	var product domain.Product
	err := r.acc.read(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		product = p
		return nil
	})
	return product, err
}

func (r *productRepository) Upsert(_ context.Context, product domain.Product) error {
	return r.acc.write(func(st *state) error {
		st.products[product.ID] = product
		return nil
	})
}

func (r *productRepository) DecrementStock(_ context.Context, id string, qty int) error {
	return r.acc.write(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		if qty < 0 || p.StockQuantity < qty {
			return fmt.Errorf("%w: product %s has %d, requested %d", domain.ErrInsufficientStock, id, p.StockQuantity, qty)
		}
		p.StockQuantity -= qty
		st.products[id] = p
		return nil
	})
}

type userRepository struct {
	acc accessor
}

func (r *userRepository) Get(_ context.Context, id string) (domain.UserBalances, error) {
	var balances domain.UserBalances
	err := r.acc.read(func(st *state) error {
		b, ok := st.users[id]
		if !ok {
			return domain.ErrUserNotFound
		}
		balances = b
		return nil
	})
	return balances, err
}

func (r *userRepository) Upsert(_ context.Context, balances domain.UserBalances) error {
	return r.acc.write(func(st *state) error {
		st.users[balances.UserID] = balances
		return nil
	})
}

func (r *userRepository) ApplyBalanceChange(_ context.Context, id string, change domain.BalanceChange) error {
	return r.acc.write(func(st *state) error {
		b, ok := st.users[id]
		if !ok {
			return domain.ErrUserNotFound
		}
		if b.WalletBalance.LessThan(change.WalletDebit) {
			return domain.ErrInsufficientFunds
		}
		if b.CoinBalance < change.CoinsDebit {
			return domain.ErrInsufficientCoinBalance
		}
		b.WalletBalance = b.WalletBalance.Sub(change.WalletDebit)
		b.CoinBalance -= change.CoinsDebit
		b.LoyaltyPoints += change.PointsCredit
		st.users[id] = b
		return nil
	})
}

func (r *userRepository) ConvertPoints(_ context.Context, id string, points, coins int64) error {
	return r.acc.write(func(st *state) error {
		b, ok := st.users[id]
		if !ok {
			return domain.ErrUserNotFound
		}
		if b.LoyaltyPoints < points {
			return domain.ErrInsufficientPoints
		}
		b.LoyaltyPoints -= points
		b.CoinBalance += coins
		st.users[id] = b
		return nil
	})
}

func (r *userRepository) TopUpWallet(_ context.Context, id string, amount decimal.Decimal) error {
	return r.acc.write(func(st *state) error {
		b, ok := st.users[id]
		if !ok {
			return domain.ErrUserNotFound
		}
		b.WalletBalance = b.WalletBalance.Add(amount)
		st.users[id] = b
		return nil
	})
}

var (
	_ domain.ProductRepository = (*productRepository)(nil)
	_ domain.UserRepository    = (*userRepository)(nil)
)
