package domain

import "github.com/shopspring/decimal"

// Product — запись каталога, из которой корзина берёт снимок цены и остаток.
type Product struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	StockQuantity int
	Image         string
	Category      string
	Tags          string
	Brand         string
}
