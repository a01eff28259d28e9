// Package loyalty управляет балансами пользователя: баллами, монетами и кошельком.
package loyalty

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Conversion — итог конвертации баллов в монеты.
type Conversion struct {
	PointsConverted int64 `json:"pointsConverted"`
	CoinsAdded      int64 `json:"coinsAdded"`
	RemainingPoints int64 `json:"remainingPoints"`
	CoinBalance     int64 `json:"coinBalance"`
}

type Service struct {
	users  domain.UserRepository
	logger *log.Entry
}

// NewService создаёт сервис лояльности поверх репозитория пользователей.
func NewService(users domain.UserRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "loyalty")
	}
	return &Service{users: users, logger: logger}
}

// Balances возвращает балансы пользователя.
func (s *Service) Balances(ctx context.Context, userID string) (domain.UserBalances, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.UserBalances{}, domain.ErrUnauthenticated
	}
	b, err := s.users.Get(ctx, userID)
	if err != nil {
		return domain.UserBalances{}, domain.WrapPersistence(err)
	}
	return b, nil
}

// ConvertPoints меняет баллы на монеты по курсу PointsPerCoin. Списываются только
// баллы, вошедшие в целое число монет; остаток остаётся на счёте.
func (s *Service) ConvertPoints(ctx context.Context, userID string, points int64) (Conversion, error) {
	if strings.TrimSpace(userID) == "" {
		return Conversion{}, domain.ErrUnauthenticated
	}
	if points < domain.PointsPerCoin {
		return Conversion{}, domain.ErrInvalidPoints
	}
	coins := points / domain.PointsPerCoin
	spent := coins * domain.PointsPerCoin

	if err := s.users.ConvertPoints(ctx, userID, spent, coins); err != nil {
		return Conversion{}, domain.WrapPersistence(err)
	}
	b, err := s.users.Get(ctx, userID)
	if err != nil {
		return Conversion{}, domain.WrapPersistence(err)
	}

	s.logger.WithFields(log.Fields{
		"user_id": userID,
		"points":  spent,
		"coins":   coins,
	}).Info("loyalty points converted")
	return Conversion{
		PointsConverted: spent,
		CoinsAdded:      coins,
		RemainingPoints: b.LoyaltyPoints,
		CoinBalance:     b.CoinBalance,
	}, nil
}

// TopUpWallet пополняет кошелёк пользователя.
func (s *Service) TopUpWallet(ctx context.Context, userID string, amount decimal.Decimal) (domain.UserBalances, error) {
	if !amount.IsPositive() {
		return domain.UserBalances{}, domain.ErrInvalidAmount
	}
	if err := s.users.TopUpWallet(ctx, userID, amount.Round(2)); err != nil {
		return domain.UserBalances{}, domain.WrapPersistence(err)
	}
	b, err := s.users.Get(ctx, userID)
	if err != nil {
		return domain.UserBalances{}, domain.WrapPersistence(err)
	}
	s.logger.WithFields(log.Fields{"user_id": userID, "amount": amount.StringFixed(2)}).Info("wallet topped up")
	return b, nil
}
