package paypal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrNoExchangeQuote возвращается, если PayPal вернул пустой список котировок.
var ErrNoExchangeQuote = errors.New("paypal returned no exchange quotes")

// ErrEmptyQuoteAmount возвращается, если в котировке нет пересчитанной суммы.
var ErrEmptyQuoteAmount = errors.New("paypal exchange quote has no converted amount")

// ExchangeQuote описывает котировку конвертации суммы.
type ExchangeQuote struct {
	FXID            string          `json:"fxId"`
	BaseCurrency    string          `json:"baseCurrency"`
	TargetCurrency  string          `json:"targetCurrency"`
	BaseAmount      decimal.Decimal `json:"baseAmount"`
	ConvertedAmount decimal.Decimal `json:"convertedAmount"`
	ExchangeRate    decimal.Decimal `json:"exchangeRate"`
	ExpiresAt       time.Time       `json:"expiresAt,omitempty"`
}

type quoteItem struct {
	BaseCurrency  string `json:"base_currency"`
	BaseAmount    string `json:"base_amount"`
	QuoteCurrency string `json:"quote_currency"`
	MarkupPercent string `json:"markup_percent"`
	FXID          string `json:"fx_id,omitempty"`
}

type quoteRequest struct {
	QuoteItems []quoteItem `json:"quote_items"`
}

type quoteResponse struct {
	ExchangeRateQuotes []struct {
		FXID         string `json:"fx_id"`
		ExchangeRate string `json:"exchange_rate"`
		BaseAmount   *Money `json:"base_amount"`
		QuoteAmount  *Money `json:"quote_amount"`
		ExpiryTime   string `json:"expiry_time"`
	} `json:"exchange_rate_quotes"`
}

// ExchangeRate запрашивает котировку для amount из base в target без наценки.
func (c *Client) ExchangeRate(ctx context.Context, base, target string, amount decimal.Decimal) (ExchangeQuote, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	target = strings.ToUpper(strings.TrimSpace(target))
	if base == "" || target == "" {
		return ExchangeQuote{}, errors.New("base and target currencies are required")
	}
	if !amount.IsPositive() {
		amount = decimal.NewFromInt(1)
	}

	var resp quoteResponse
	err := c.doJSON(ctx, "POST", "/v2/pricing/quote-exchange-rates", quoteRequest{
		QuoteItems: []quoteItem{{
			BaseCurrency:  base,
			BaseAmount:    amount.StringFixed(2),
			QuoteCurrency: target,
			MarkupPercent: "0",
		}},
	}, &resp)
	if err != nil {
		return ExchangeQuote{}, err
	}
	if len(resp.ExchangeRateQuotes) == 0 {
		return ExchangeQuote{}, ErrNoExchangeQuote
	}

	q := resp.ExchangeRateQuotes[0]
	quote := ExchangeQuote{
		FXID:           q.FXID,
		BaseCurrency:   base,
		TargetCurrency: target,
		BaseAmount:     amount.Round(2),
	}
	if q.BaseAmount != nil {
		if v, err := q.BaseAmount.Decimal(); err == nil && !v.IsZero() {
			quote.BaseAmount = v.Round(2)
		}
	}
	if q.QuoteAmount != nil {
		v, err := q.QuoteAmount.Decimal()
		if err != nil {
			return ExchangeQuote{}, fmt.Errorf("parse quote amount: %w", err)
		}
		quote.ConvertedAmount = v.Round(2)
		if q.QuoteAmount.CurrencyCode != "" {
			quote.TargetCurrency = q.QuoteAmount.CurrencyCode
		}
	}
	if q.ExchangeRate != "" {
		rate, err := decimal.NewFromString(q.ExchangeRate)
		if err != nil {
			return ExchangeQuote{}, fmt.Errorf("parse exchange rate: %w", err)
		}
		quote.ExchangeRate = rate.Round(6)
	}
	if q.ExpiryTime != "" {
		if at, err := time.Parse(time.RFC3339, q.ExpiryTime); err == nil {
			quote.ExpiresAt = at.UTC()
		}
	}
	return quote, nil
}

// Convert пересчитывает сумму из валюты магазина в currency по текущей котировке.
func (c *Client) Convert(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	quote, err := c.ExchangeRate(ctx, domain.DefaultCurrency, currency, amount)
	if err != nil {
		return decimal.Zero, err
	}
	if !quote.ConvertedAmount.IsPositive() {
		return decimal.Zero, ErrEmptyQuoteAmount
	}
	return quote.ConvertedAmount, nil
}
