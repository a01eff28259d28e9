package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// InvoiceLine — строка счёта.
type InvoiceLine struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// Invoice описывает счёт по заказу. GST выделяется из итоговой суммы, скидка равна разнице с суммой позиций.
type Invoice struct {
	OrderID        string             `json:"orderId"`
	UserID         string             `json:"userId"`
	Status         domain.OrderStatus `json:"status"`
	PaymentMethod  string             `json:"paymentMethod"`
	CreatedAt      time.Time          `json:"createdAt"`
	Lines          []InvoiceLine      `json:"lines"`
	Subtotal       decimal.Decimal    `json:"subtotal"`
	Discount       decimal.Decimal    `json:"discount"`
	GST            decimal.Decimal    `json:"gst"`
	GrandTotal     decimal.Decimal    `json:"grandTotal"`
	Currency       string             `json:"currency"`
	GatewayOrderID string             `json:"gatewayOrderId,omitempty"`
	CaptureID      string             `json:"captureId,omitempty"`
	PayerEmail     string             `json:"payerEmail,omitempty"`

	// PaidAmount и PaymentCurrency показывают фактическое списание во внешнем шлюзе.
	PaidAmount      *decimal.Decimal `json:"paidAmount,omitempty"`
	PaymentCurrency string           `json:"paymentCurrency,omitempty"`
}

// Invoice собирает счёт по заказу владельца.
func (s *Service) Invoice(ctx context.Context, orderID, userID string) (Invoice, error) {
	order, err := s.GetForUser(ctx, orderID, userID)
	if err != nil {
		return Invoice{}, err
	}

	inv := Invoice{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentMethod: order.PaymentMethod,
		CreatedAt:     order.CreatedAt,
		Lines:         make([]InvoiceLine, 0, len(order.Items)),
		Subtotal:      order.Subtotal(),
		GrandTotal:    order.TotalAmount,
		Currency:      domain.DefaultCurrency,
	}
	for _, item := range order.Items {
		inv.Lines = append(inv.Lines, InvoiceLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal(),
		})
	}

	onePlusRate := decimal.NewFromInt(1).Add(s.taxRate)
	inv.GST = order.TotalAmount.Mul(s.taxRate).Div(onePlusRate).Round(2)
	inv.Discount = decimal.Max(decimal.Zero, inv.Subtotal.Sub(order.TotalAmount.Sub(inv.GST)))

	payment, err := s.storage.Repositories().Transactions.GetByOrder(ctx, orderID)
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
	case err != nil:
		return Invoice{}, domain.WrapPersistence(err)
	default:
		paid := payment.Amount
		inv.PaidAmount = &paid
		inv.PaymentCurrency = payment.RefundCurrency()
		inv.GatewayOrderID = payment.GatewayOrderID
		inv.CaptureID = payment.CaptureID
		inv.PayerEmail = payment.PayerEmail
	}
	return inv, nil
}

var exportHeaders = []string{
	"Order ID", "User ID", "Status", "Payment Method", "Total Amount",
	"Items", "Refund Reason", "Created At", "Updated At",
}

// ExportXLSX выгружает все заказы в xlsx-книгу.
func (s *Service) ExportXLSX(ctx context.Context, w io.Writer) error {
	orders, err := s.storage.Repositories().Orders.List(ctx, 0)
	if err != nil {
		return domain.WrapPersistence(err)
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Orders")
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	header := sheet.AddRow()
	for _, h := range exportHeaders {
		header.AddCell().SetValue(h)
	}

	for _, order := range orders {
		row := sheet.AddRow()
		row.AddCell().SetValue(order.ID)
		row.AddCell().SetValue(order.UserID)
		row.AddCell().SetValue(string(order.Status))
		row.AddCell().SetValue(order.PaymentMethod)
		row.AddCell().SetValue(order.TotalAmount.StringFixed(2))
		row.AddCell().SetValue(len(order.Items))
		row.AddCell().SetValue(order.RefundReason)
		row.AddCell().SetValue(order.CreatedAt.Format("2006-01-02 15:04:05"))
		row.AddCell().SetValue(order.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
