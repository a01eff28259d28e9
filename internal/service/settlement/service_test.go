package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store   *memory.Store
	gateway *payment.MockGateway
	carts   *cart.MemoryStore
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		gateway: payment.NewMockGateway(),
		carts:   cart.NewMemoryStore(),
	}
	var seq atomic.Int64
	f.svc = NewService(f.store, f.gateway, pricing.NewEngine(pricing.DefaultTaxRate),
		WithClock(func() time.Time { return testNow }),
		WithCartStore(f.carts),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	)
	return f
}

func (f *fixture) seedUser(t *testing.T, id, wallet string, coins, points int64) {
	t.Helper()
	require.NoError(t, f.store.Repositories().Users.Upsert(context.Background(), domain.UserBalances{
		UserID:        id,
		WalletBalance: dec(wallet),
		CoinBalance:   coins,
		LoyaltyPoints: points,
	}))
}

func (f *fixture) seedProduct(t *testing.T, id, price string, stock int) domain.Product {
	t.Helper()
	p := domain.Product{ID: id, Name: "Product " + id, Price: dec(price), StockQuantity: stock}
	require.NoError(t, f.store.Repositories().Products.Upsert(context.Background(), p))
	return p
}

func (f *fixture) seedVoucher(t *testing.T, id, userID, amount string, expiry time.Time) {
	t.Helper()
	require.NoError(t, f.store.Repositories().Vouchers.Create(context.Background(), domain.Voucher{
		ID:             id,
		UserID:         userID,
		Code:           "CODE-" + id,
		DiscountAmount: decimal.NewNullDecimal(dec(amount)),
		ExpiryDate:     expiry,
		CreatedAt:      testNow,
	}))
}

func (f *fixture) balances(t *testing.T, userID string) domain.UserBalances {
	t.Helper()
	b, err := f.store.Repositories().Users.Get(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.store.Repositories().Products.Get(context.Background(), productID)
	require.NoError(t, err)
	return p.StockQuantity
}

func cartWith(p domain.Product, qty int) *cart.Cart {
	c := cart.New()
	c.Add(p, qty)
	return c
}

func TestCheckout_WalletIgnoresCoinsAndVoucher(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "100.00", 1000, 0)
	p := f.seedProduct(t, "p1", "25.00", 10)
	f.seedVoucher(t, "v1", "u1", "10", testNow.Add(24*time.Hour))
	c := cartWith(p, 2)

	res, err := f.svc.Checkout(context.Background(), Request{
		UserID:     "u1",
		Cart:       c,
		Method:     domain.WalletPayment{},
		CoinsToUse: 500,
		VoucherID:  "v1",
	})
	require.NoError(t, err)

	assert.True(t, res.TotalAmount.Equal(dec("54.50")), res.TotalAmount.String())
	assert.True(t, res.WalletCharged.Equal(dec("54.50")))
	assert.True(t, res.CoinDiscount.IsZero())
	assert.True(t, res.VoucherDiscount.IsZero())
	assert.Equal(t, int64(50), res.PointsEarned)
	assert.Equal(t, "Wallet", res.PaymentMethod)

	b := f.balances(t, "u1")
	assert.True(t, b.WalletBalance.Equal(dec("45.50")), b.WalletBalance.String())
	assert.Equal(t, int64(1000), b.CoinBalance)
	assert.Equal(t, int64(50), b.LoyaltyPoints)
	assert.Equal(t, 8, f.stock(t, "p1"))

	v, err := f.store.Repositories().Vouchers.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.False(t, v.IsUsed)

	order, err := f.store.Repositories().Orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	require.Len(t, order.Items, 1)
	assert.True(t, order.Items[0].UnitPrice.Equal(dec("25.00")))
	assert.True(t, c.IsEmpty())
}

func TestCheckout_CoinsAndVoucher(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 300, 5)
	p := f.seedProduct(t, "p1", "50.00", 5)
	f.seedVoucher(t, "v1", "u1", "10", testNow.Add(24*time.Hour))

	res, err := f.svc.Checkout(context.Background(), Request{
		UserID:     "u1",
		Cart:       cartWith(p, 2),
		Method:     domain.CoinsAndVoucherPayment{},
		CoinsToUse: 200,
		VoucherID:  "v1",
	})
	require.NoError(t, err)

	assert.True(t, res.TotalAmount.Equal(dec("95.92")), res.TotalAmount.String())
	assert.True(t, res.CoinDiscount.Equal(dec("2")))
	assert.True(t, res.VoucherDiscount.Equal(dec("10")))
	assert.True(t, res.WalletCharged.IsZero())
	assert.Equal(t, int64(100), res.PointsEarned)

	b := f.balances(t, "u1")
	assert.Equal(t, int64(100), b.CoinBalance)
	assert.Equal(t, int64(105), b.LoyaltyPoints)
	assert.True(t, b.WalletBalance.IsZero())

	v, err := f.store.Repositories().Vouchers.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, v.IsUsed)
	require.NotNil(t, v.UsedAt)

	pending := f.store.Outbox().AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventOrderCreated, pending[0].EventType)
	assert.Equal(t, res.OrderID, pending[0].AggregateID)

	events, err := f.store.Repositories().Timeline.List(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TimelineOrderCreated, events[0].Type)
}

func TestCheckout_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "100", 0, 0)
	p := f.seedProduct(t, "p1", "10", 5)

	zeroLine := cartWith(p, 1)
	require.NoError(t, zeroLine.UpdateQuantity("p1", 0))

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{name: "anonymous", req: Request{Cart: cartWith(p, 1), Method: domain.WalletPayment{}}, want: domain.ErrUnauthenticated},
		{name: "nil cart", req: Request{UserID: "u1", Method: domain.WalletPayment{}}, want: domain.ErrEmptyCart},
		{name: "empty cart", req: Request{UserID: "u1", Cart: cart.New(), Method: domain.WalletPayment{}}, want: domain.ErrEmptyCart},
		{name: "only zero lines", req: Request{UserID: "u1", Cart: zeroLine, Method: domain.WalletPayment{}}, want: domain.ErrEmptyCart},
		{name: "no method", req: Request{UserID: "u1", Cart: cartWith(p, 1)}, want: domain.ErrUnsupportedPaymentMethod},
		{name: "unknown user", req: Request{UserID: "ghost", Cart: cartWith(p, 1), Method: domain.WalletPayment{}}, want: domain.ErrUserNotFound},
		{name: "too many coins", req: Request{UserID: "u1", Cart: cartWith(p, 1), Method: domain.CoinsAndVoucherPayment{}, CoinsToUse: 1}, want: domain.ErrInsufficientCoinBalance},
		{name: "unknown voucher", req: Request{UserID: "u1", Cart: cartWith(p, 1), Method: domain.CoinsAndVoucherPayment{}, VoucherID: "nope"}, want: domain.ErrVoucherInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, 5, f.stock(t, "p1"))
	assert.Empty(t, f.store.Outbox().AllPending())
}

func TestCheckout_WalletInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "50.00", 0, 0)
	p := f.seedProduct(t, "p1", "50.00", 5)

	_, err := f.svc.Checkout(context.Background(), Request{UserID: "u1", Cart: cartWith(p, 1), Method: domain.WalletPayment{}})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, f.balances(t, "u1").WalletBalance.Equal(dec("50.00")))
}

func TestCheckout_InsufficientStockRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 500, 0)
	a := f.seedProduct(t, "a", "10", 5)
	b := f.seedProduct(t, "b", "10", 1)
	f.seedVoucher(t, "v1", "u1", "5", testNow.Add(time.Hour))

	c := cart.New()
	c.Add(a, 2)
	c.Add(b, 3)
	require.NoError(t, f.carts.Save(context.Background(), "u1", c))

	_, err := f.svc.Checkout(context.Background(), Request{
		UserID:     "u1",
		Cart:       c,
		Method:     domain.CoinsAndVoucherPayment{},
		CoinsToUse: 100,
		VoucherID:  "v1",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 5, f.stock(t, "a"))
	assert.Equal(t, 1, f.stock(t, "b"))
	assert.Equal(t, int64(500), f.balances(t, "u1").CoinBalance)
	v, err := f.store.Repositories().Vouchers.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.False(t, v.IsUsed)
	orders, err := f.store.Repositories().Orders.ListByUser(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.store.Outbox().AllPending())
	assert.Equal(t, 5, c.TotalQuantity())

	saved, err := f.carts.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, saved.TotalQuantity())
}

func TestCheckout_SuccessDeletesStoredCart(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "100", 0, 0)
	p := f.seedProduct(t, "p1", "10", 5)
	c := cartWith(p, 1)
	require.NoError(t, f.carts.Save(context.Background(), "u1", c))

	_, err := f.svc.Checkout(context.Background(), Request{UserID: "u1", Cart: c, Method: domain.WalletPayment{}})
	require.NoError(t, err)

	saved, err := f.carts.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, saved.IsEmpty())
}

func TestCheckout_ExpiredAndForeignVoucher(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	f.seedUser(t, "u2", "0", 0, 0)
	p := f.seedProduct(t, "p1", "10", 5)
	f.seedVoucher(t, "expired", "u1", "5", testNow.Add(-time.Minute))
	f.seedVoucher(t, "foreign", "u2", "5", testNow.Add(time.Hour))

	for _, id := range []string{"expired", "foreign"} {
		_, err := f.svc.Checkout(context.Background(), Request{
			UserID:    "u1",
			Cart:      cartWith(p, 1),
			Method:    domain.CoinsAndVoucherPayment{},
			VoucherID: id,
		})
		require.ErrorIs(t, err, domain.ErrVoucherInvalid, id)
	}
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestCheckout_ConcurrentVoucherIsClaimedOnce(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "10", 100)
	f.seedVoucher(t, "v1", "u1", "5", testNow.Add(time.Hour))

	const attempts = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		invalid   atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Checkout(context.Background(), Request{
				UserID:    "u1",
				Cart:      cartWith(p, 1),
				Method:    domain.CoinsAndVoucherPayment{},
				VoucherID: "v1",
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrVoucherInvalid):
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(attempts-1), invalid.Load())
	assert.Equal(t, 99, f.stock(t, "p1"))
}

func TestCheckout_ClientVoucherDiscountIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "20", 5)
	f.seedVoucher(t, "v1", "u1", "5", testNow.Add(time.Hour))
	claimed := dec("19")

	res, err := f.svc.Checkout(context.Background(), Request{
		UserID:                "u1",
		Cart:                  cartWith(p, 1),
		Method:                domain.CoinsAndVoucherPayment{},
		VoucherID:             "v1",
		ClientVoucherDiscount: &claimed,
	})
	require.NoError(t, err)
	assert.True(t, res.VoucherDiscount.Equal(dec("5")))
	assert.True(t, res.TotalAmount.Equal(dec("16.35")), res.TotalAmount.String())
}

func TestCapturePayPal_CreatesOrderAndTransaction(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 100, 0)
	p := f.seedProduct(t, "p1", "30", 5)
	c := cartWith(p, 1)

	prepared, err := f.svc.PreparePayPal(context.Background(), PrepareRequest{UserID: "u1", Cart: c, CoinsToUse: 100})
	require.NoError(t, err)
	assert.True(t, prepared.Quote.TotalAmount.Equal(dec("31.61")), prepared.Quote.TotalAmount.String())
	assert.Equal(t, domain.DefaultCurrency, prepared.Currency)

	res, err := f.svc.CapturePayPal(context.Background(), Request{
		UserID:         "u1",
		Cart:           c,
		CoinsToUse:     100,
		GatewayOrderID: prepared.GatewayOrderID,
	})
	require.NoError(t, err)
	assert.Equal(t, "PayPal", res.PaymentMethod)
	assert.Equal(t, prepared.GatewayOrderID, res.GatewayOrderID)
	assert.NotEmpty(t, res.CaptureID)

	tx, err := f.store.Repositories().Transactions.GetByOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, res.CaptureID, tx.CaptureID)
	assert.True(t, tx.Amount.Equal(dec("31.61")))
	assert.Equal(t, domain.CaptureStatusCompleted, tx.GatewayStatus)

	assert.Equal(t, int64(0), f.balances(t, "u1").CoinBalance)
	events, err := f.store.Repositories().Timeline.List(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TimelinePaymentLinked, events[1].Type)
}

func TestCapturePayPal_DeclinedWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "30", 5)
	f.gateway.CaptureStatus = "DECLINED"

	_, err := f.svc.CapturePayPal(context.Background(), Request{UserID: "u1", Cart: cartWith(p, 1), GatewayOrderID: "PP-1"})
	require.ErrorIs(t, err, domain.ErrGatewayDeclined)
	assert.Equal(t, "PP-1", GatewayOrderID(err))

	var gwErr *domain.GatewayFailureError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "DECLINED", gwErr.Status)

	assert.Equal(t, 5, f.stock(t, "p1"))
	orders, err := f.store.Repositories().Orders.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCapturePayPal_TransportError(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "30", 5)
	f.gateway.CaptureErr = errors.New("connection refused")

	_, err := f.svc.CapturePayPal(context.Background(), Request{UserID: "u1", Cart: cartWith(p, 1), GatewayOrderID: "PP-2"})
	require.ErrorIs(t, err, domain.ErrGatewayError)
	assert.Equal(t, "PP-2", GatewayOrderID(err))
}

func TestCheckout_PayPalWithoutCaptureIsDeclined(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "30", 5)

	_, err := f.svc.Checkout(context.Background(), Request{
		UserID: "u1",
		Cart:   cartWith(p, 1),
		Method: domain.ExternalGatewayPayment{Provider: domain.GatewayPayPal},
	})
	require.ErrorIs(t, err, domain.ErrGatewayDeclined)
}

func TestPreparePayPal_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "30", 5)
	f.gateway.CreateErr = errors.New("timeout")

	_, err := f.svc.PreparePayPal(context.Background(), PrepareRequest{UserID: "u1", Cart: cartWith(p, 1)})
	require.ErrorIs(t, err, domain.ErrGatewayError)
}

func TestConfirmQR_NoTransactionRow(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "10", 5)

	res, err := f.svc.ConfirmQR(context.Background(), Request{UserID: "u1", Cart: cartWith(p, 1), PaymentReference: "NETS-42"})
	require.NoError(t, err)
	assert.Equal(t, "QR", res.PaymentMethod)

	_, err = f.store.Repositories().Transactions.GetByOrder(context.Background(), res.OrderID)
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

type failingTransactions struct{}

func (failingTransactions) Create(context.Context, domain.Transaction) error {
	return errors.New("disk full")
}

func (failingTransactions) GetByOrder(context.Context, string) (domain.Transaction, error) {
	return domain.Transaction{}, domain.ErrTransactionNotFound
}

type brokenTransactionsStore struct {
	*memory.Store
}

func (s brokenTransactionsStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Repositories) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		tx.Transactions = failingTransactions{}
		return fn(ctx, tx)
	})
}

func TestCapturePayPal_ReconciliationError(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "10", 5)
	svc := NewService(brokenTransactionsStore{f.store}, f.gateway, pricing.NewEngine(pricing.DefaultTaxRate),
		WithClock(func() time.Time { return testNow }))

	c := cartWith(p, 1)
	prepared, err := svc.PreparePayPal(context.Background(), PrepareRequest{UserID: "u1", Cart: c})
	require.NoError(t, err)

	res, err := svc.CapturePayPal(context.Background(), Request{UserID: "u1", Cart: c, GatewayOrderID: prepared.GatewayOrderID})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrPersistence)

	var recErr *ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, res.OrderID, recErr.OrderID)
	assert.Equal(t, prepared.GatewayOrderID, recErr.GatewayOrderID)
	assert.NotEmpty(t, recErr.CaptureID)
	assert.Equal(t, recErr.CaptureID, CaptureID(err))

	_, _, refunds := f.gateway.Calls()
	assert.Zero(t, refunds, "order exists, capture must be kept")

	order, err := f.store.Repositories().Orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, 4, f.stock(t, "p1"))
}

type fakeConverter struct {
	mu   sync.Mutex
	rate decimal.Decimal
	err  error
}

func (c *fakeConverter) setRate(rate string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = dec(rate)
}

func (c *fakeConverter) Convert(_ context.Context, amount decimal.Decimal, _ string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return decimal.Zero, c.err
	}
	return amount.Mul(c.rate), nil
}

func (f *fixture) withConverter(t *testing.T, fx Converter) {
	t.Helper()
	f.svc = NewService(f.store, f.gateway, pricing.NewEngine(pricing.DefaultTaxRate),
		WithClock(func() time.Time { return testNow }),
		WithCartStore(f.carts),
		WithConverter(fx),
	)
}

func (f *fixture) orderCount(t *testing.T) int {
	t.Helper()
	orders, err := f.store.Repositories().Orders.List(context.Background(), 0)
	require.NoError(t, err)
	return len(orders)
}

func TestCapturePayPal_RefundsCaptureWhenStockRunsOut(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "30", 5)
	c := cartWith(p, 3)

	prepared, err := f.svc.PreparePayPal(context.Background(), PrepareRequest{UserID: "u1", Cart: c})
	require.NoError(t, err)
	require.True(t, prepared.Amount.Equal(dec("98.10")), prepared.Amount.String())

	f.seedProduct(t, "p1", "30", 1)

	_, err = f.svc.CapturePayPal(context.Background(), Request{UserID: "u1", Cart: c, GatewayOrderID: prepared.GatewayOrderID})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var unsettled *UnsettledCaptureError
	require.ErrorAs(t, err, &unsettled)
	assert.True(t, unsettled.Refunded())
	assert.NotEmpty(t, unsettled.RefundID)
	assert.Equal(t, prepared.GatewayOrderID, GatewayOrderID(err))
	assert.NotEmpty(t, CaptureID(err))

	refund := f.gateway.Refunded()
	assert.Equal(t, unsettled.CaptureID, refund.CaptureID)
	assert.True(t, refund.Amount.Equal(dec("98.10")), refund.Amount.String())
	assert.Equal(t, domain.DefaultCurrency, refund.Currency)

	assert.Zero(t, f.orderCount(t))
	assert.Equal(t, 1, f.stock(t, "p1"))
	assert.Equal(t, int64(0), f.balances(t, "u1").LoyaltyPoints)
}

func TestCapturePayPal_FailedRefundRequiresReconciliation(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "30", 5)
	c := cartWith(p, 2)

	prepared, err := f.svc.PreparePayPal(context.Background(), PrepareRequest{UserID: "u1", Cart: c})
	require.NoError(t, err)
	f.seedProduct(t, "p1", "30", 0)
	f.gateway.RefundErr = errors.New("connection reset")

	_, err = f.svc.CapturePayPal(context.Background(), Request{UserID: "u1", Cart: c, GatewayOrderID: prepared.GatewayOrderID})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var unsettled *UnsettledCaptureError
	require.ErrorAs(t, err, &unsettled)
	assert.False(t, unsettled.Refunded())
	assert.ErrorIs(t, unsettled.RefundErr, domain.ErrGatewayError)
	assert.Equal(t, prepared.GatewayOrderID, unsettled.GatewayOrderID)
	assert.Zero(t, f.orderCount(t))
}

func TestCapturePayPal_RejectsCaptureBelowCartTotal(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "10", 100)
	c := cartWith(p, 1)

	prepared, err := f.svc.PreparePayPal(context.Background(), PrepareRequest{UserID: "u1", Cart: c})
	require.NoError(t, err)
	require.True(t, prepared.Amount.Equal(dec("10.9")), prepared.Amount.String())

	c.Add(p, 9)

	_, err = f.svc.CapturePayPal(context.Background(), Request{UserID: "u1", Cart: c, GatewayOrderID: prepared.GatewayOrderID})
	require.ErrorIs(t, err, domain.ErrCaptureAmountMismatch)

	var unsettled *UnsettledCaptureError
	require.ErrorAs(t, err, &unsettled)
	assert.True(t, unsettled.Refunded())
	assert.True(t, f.gateway.Refunded().Amount.Equal(dec("10.9")))

	assert.Zero(t, f.orderCount(t))
	assert.Equal(t, 100, f.stock(t, "p1"))
	assert.Equal(t, int64(0), f.balances(t, "u1").LoyaltyPoints)
}

func TestCheckout_RejectsCaptureForDifferentAmount(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "10", 5)

	tests := []struct {
		name   string
		amount string
	}{
		{name: "short", amount: "10.89"},
		{name: "over", amount: "11.00"},
		{name: "not reported", amount: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), Request{
				UserID: "u1",
				Cart:   cartWith(p, 1),
				Method: domain.ExternalGatewayPayment{Provider: domain.GatewayPayPal},
				Capture: &domain.CaptureResult{
					GatewayOrderID: "PP-X",
					Status:         domain.CaptureStatusCompleted,
					CaptureID:      "CAP-X",
					Amount:         dec(tt.amount),
					Currency:       domain.DefaultCurrency,
				},
			})
			require.ErrorIs(t, err, domain.ErrCaptureAmountMismatch)
		})
	}
	assert.Zero(t, f.orderCount(t))
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestCapturePayPal_ForeignCurrency(t *testing.T) {
	f := newFixture(t)
	fx := &fakeConverter{rate: dec("0.74")}
	f.withConverter(t, fx)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "30", 5)
	c := cartWith(p, 1)

	prepared, err := f.svc.PreparePayPal(context.Background(), PrepareRequest{UserID: "u1", Cart: c, Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, "USD", prepared.Currency)
	assert.True(t, prepared.Quote.TotalAmount.Equal(dec("32.7")))
	assert.True(t, prepared.Amount.Equal(dec("24.2")), prepared.Amount.String())

	res, err := f.svc.CapturePayPal(context.Background(), Request{UserID: "u1", Cart: c, GatewayOrderID: prepared.GatewayOrderID})
	require.NoError(t, err)
	assert.True(t, res.TotalAmount.Equal(dec("32.7")))

	tx, err := f.store.Repositories().Transactions.GetByOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(dec("24.2")), tx.Amount.String())
	assert.Equal(t, domain.DefaultCurrency, tx.Currency)
	assert.Equal(t, "USD", tx.PaymentCurrency)
	assert.Equal(t, "USD", tx.RefundCurrency())
}

func TestCapturePayPal_ForeignCurrencyRateDrift(t *testing.T) {
	f := newFixture(t)
	fx := &fakeConverter{rate: dec("0.74")}
	f.withConverter(t, fx)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "30", 5)
	c := cartWith(p, 1)

	prepared, err := f.svc.PreparePayPal(context.Background(), PrepareRequest{UserID: "u1", Cart: c, Currency: "USD"})
	require.NoError(t, err)

	fx.setRate("0.80")
	_, err = f.svc.CapturePayPal(context.Background(), Request{UserID: "u1", Cart: c, GatewayOrderID: prepared.GatewayOrderID})
	require.ErrorIs(t, err, domain.ErrCaptureAmountMismatch)

	refund := f.gateway.Refunded()
	assert.True(t, refund.Amount.Equal(dec("24.2")))
	assert.Equal(t, "USD", refund.Currency)
	assert.Zero(t, f.orderCount(t))
}

func TestPreparePayPal_ForeignCurrencyWithoutConverter(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", "0", 0, 0)
	p := f.seedProduct(t, "p1", "30", 5)

	_, err := f.svc.PreparePayPal(context.Background(), PrepareRequest{UserID: "u1", Cart: cartWith(p, 1), Currency: "USD"})
	require.ErrorIs(t, err, domain.ErrCurrencyUnsupported)
	create, _, _ := f.gateway.Calls()
	assert.Zero(t, create)
}
