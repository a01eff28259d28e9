package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepository struct {
	q querier
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var p domain.Product
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, price, stock_quantity, image, category, tags, brand
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.StockQuantity, &p.Image, &p.Category, &p.Tags, &p.Brand)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *productRepository) Upsert(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock_quantity, image, category, tags, brand, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			stock_quantity = EXCLUDED.stock_quantity,
			image = EXCLUDED.image,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			brand = EXCLUDED.brand,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Price, p.StockQuantity, p.Image, p.Category, p.Tags, p.Brand, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (r *productRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: negative quantity %d", domain.ErrInsufficientStock, qty)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $1, updated_at = $2
		WHERE id = $3 AND stock_quantity >= $1
	`, qty, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: product %s has %d, requested %d", domain.ErrInsufficientStock, id, current.StockQuantity, qty)
}

type userRepository struct {
	q querier
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.UserBalances, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	b := domain.UserBalances{UserID: id}
	err := r.q.QueryRowContext(ctx, `
		SELECT loyalty_points, coin_balance, wallet_balance
		FROM users
		WHERE id = $1
	`, id).Scan(&b.LoyaltyPoints, &b.CoinBalance, &b.WalletBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserBalances{}, domain.ErrUserNotFound
		}
		return domain.UserBalances{}, fmt.Errorf("select user balances: %w", err)
	}
	return b, nil
}

func (r *userRepository) Upsert(ctx context.Context, b domain.UserBalances) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, loyalty_points, coin_balance, wallet_balance, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (id) DO UPDATE SET
			loyalty_points = EXCLUDED.loyalty_points,
			coin_balance = EXCLUDED.coin_balance,
			wallet_balance = EXCLUDED.wallet_balance,
			updated_at = EXCLUDED.updated_at
	`, b.UserID, b.LoyaltyPoints, b.CoinBalance, b.WalletBalance, now)
	if err != nil {
		return fmt.Errorf("upsert user balances: %w", err)
	}
	return nil
}

func (r *userRepository) ApplyBalanceChange(ctx context.Context, id string, change domain.BalanceChange) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE users
		SET wallet_balance = wallet_balance - $1,
		    coin_balance = coin_balance - $2,
		    loyalty_points = loyalty_points + $3,
		    updated_at = $4
		WHERE id = $5 AND wallet_balance >= $1 AND coin_balance >= $2
	`, change.WalletDebit, change.CoinsDebit, change.PointsCredit, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("apply balance change: %w", err)
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.WalletBalance.LessThan(change.WalletDebit) {
		return domain.ErrInsufficientFunds
	}
	return domain.ErrInsufficientCoinBalance
}

func (r *userRepository) ConvertPoints(ctx context.Context, id string, points, coins int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE users
		SET loyalty_points = loyalty_points - $1,
		    coin_balance = coin_balance + $2,
		    updated_at = $3
		WHERE id = $4 AND loyalty_points >= $1
	`, points, coins, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("convert points: %w", err)
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrInsufficientPoints
}

func (r *userRepository) TopUpWallet(ctx context.Context, id string, amount decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE users SET wallet_balance = wallet_balance + $1, updated_at = $2 WHERE id = $3
	`, amount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("top up wallet: %w", err)
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

var (
	_ domain.ProductRepository = (*productRepository)(nil)
	_ domain.UserRepository    = (*userRepository)(nil)
)
