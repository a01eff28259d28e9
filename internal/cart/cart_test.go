package cart

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func product(id, price string, stock int) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          "Product " + id,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		Image:         id + ".png",
		Category:      "shoes",
	}
}

// assertTotals проверяет, что кэшированные итоги равны сумме по позициям.
func assertTotals(t *testing.T, c *Cart) {
	t.Helper()
	qty := 0
	price := decimal.Zero
	for _, line := range c.Items() {
		qty += line.Quantity
		price = price.Add(line.Total())
	}
	assert.Equal(t, qty, c.TotalQuantity())
	assert.True(t, price.Equal(c.TotalPrice()), "total price %s, sum of lines %s", c.TotalPrice(), price)
	assert.False(t, c.TotalPrice().IsNegative())
	assert.GreaterOrEqual(t, c.TotalQuantity(), 0)
}

func TestAdd_SnapshotsPriceOnFirstAdd(t *testing.T) {
	c := New()
	c.Add(product("p-1", "10.00", 5), 2)

	changed := product("p-1", "99.00", 5)
	changed.Name = "Renamed"
	c.Add(changed, 1)

	line, ok := c.Line("p-1")
	require.True(t, ok)
	assert.Equal(t, 3, line.Quantity)
	assert.True(t, line.UnitPrice.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, "Product p-1", line.Name)
	assert.Equal(t, 5, line.MaxQuantity)
	assert.True(t, c.TotalPrice().Equal(decimal.RequireFromString("30")))
	assertTotals(t, c)
}

func TestAdd_InvalidQuantityDefaultsToOne(t *testing.T) {
	c := New()
	c.Add(product("p-1", "2.50", 5), 0)
	c.Add(product("p-1", "2.50", 5), -4)

	line, _ := c.Line("p-1")
	assert.Equal(t, 2, line.Quantity)
	assert.Equal(t, 2, c.TotalQuantity())
	assertTotals(t, c)
}

func TestUpdateQuantity(t *testing.T) {
	c := New()
	c.Add(product("p-1", "3.00", 10), 4)

	require.NoError(t, c.UpdateQuantity("p-1", 1))
	assert.Equal(t, 1, c.TotalQuantity())
	assert.True(t, c.TotalPrice().Equal(decimal.RequireFromString("3")))

	require.ErrorIs(t, c.UpdateQuantity("p-1", -1), ErrInvalidQuantity)
	require.ErrorIs(t, c.UpdateQuantity("missing", 1), ErrLineNotFound)
	assertTotals(t, c)
}

func TestUpdateQuantity_ZeroKeepsLineByDefault(t *testing.T) {
	c := New()
	c.Add(product("p-1", "3.00", 10), 2)

	require.NoError(t, c.UpdateQuantity("p-1", 0))

	line, ok := c.Line("p-1")
	require.True(t, ok)
	assert.Equal(t, 0, line.Quantity)
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.IsEmpty())
	assertTotals(t, c)
}

func TestUpdateQuantity_ZeroRemovesLineWhenEnabled(t *testing.T) {
	c := New(WithRemoveOnZero(true))
	c.Add(product("p-1", "3.00", 10), 2)
	c.Add(product("p-2", "1.00", 10), 1)

	require.NoError(t, c.UpdateQuantity("p-1", 0))

	_, ok := c.Line("p-1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
	for _, line := range c.Items() {
		assert.NotZero(t, line.Quantity)
	}
	assertTotals(t, c)
}

func TestRemove_Idempotent(t *testing.T) {
	c := New()
	c.Add(product("p-1", "3.00", 10), 2)
	c.Add(product("p-2", "4.00", 10), 1)

	c.Remove("p-1")
	qty, price := c.TotalQuantity(), c.TotalPrice()

	c.Remove("p-1")
	c.Remove("never-added")

	assert.Equal(t, qty, c.TotalQuantity())
	assert.True(t, price.Equal(c.TotalPrice()))
	assert.Equal(t, 1, c.Len())
	assertTotals(t, c)
}

func TestClear(t *testing.T) {
	c := New()
	c.Add(product("p-1", "3.00", 10), 2)
	c.Clear()

	assert.True(t, c.IsEmpty())
	assert.Zero(t, c.Len())
	assert.True(t, c.TotalPrice().IsZero())
}

func TestRandomOperationsKeepTotalsConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"a", "b", "c", "d"}
	prices := []string{"0.99", "12.50", "7", "100.01"}

	for _, removeOnZero := range []bool{false, true} {
		c := New(WithRemoveOnZero(removeOnZero))
		for i := 0; i < 500; i++ {
			n := rng.Intn(len(ids))
			switch rng.Intn(3) {
			case 0:
				c.Add(product(ids[n], prices[n], 50), rng.Intn(5)-1)
			case 1:
				_ = c.UpdateQuantity(ids[n], rng.Intn(6))
			case 2:
				c.Remove(ids[n])
			}
			assertTotals(t, c)
		}
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	c := New()
	c.Add(product("p-1", "19.99", 3), 2)
	c.Add(product("p-2", "5.00", 8), 1)

	data, err := json.Marshal(c)
	require.NoError(t, err)

	restored, err := Restore(data)
	require.NoError(t, err)

	assert.Equal(t, c.Items(), restored.Items())
	assert.Equal(t, c.TotalQuantity(), restored.TotalQuantity())
	assert.True(t, c.TotalPrice().Equal(restored.TotalPrice()))

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "items")
	assert.Contains(t, raw, "totalQty")
	assert.Contains(t, raw, "totalPrice")
}

func TestRestore_RecomputesTotals(t *testing.T) {
	data := []byte(`{"items":{"p-1":{"productId":"p-1","name":"x","unitPrice":"2.5","quantity":4}},"totalQty":99,"totalPrice":"1"}`)

	c, err := Restore(data)
	require.NoError(t, err)
	assert.Equal(t, 4, c.TotalQuantity())
	assert.True(t, c.TotalPrice().Equal(decimal.NewFromInt(10)))
}

func TestRestore_RejectsNegativeQuantity(t *testing.T) {
	_, err := Restore([]byte(`{"items":{"p-1":{"unitPrice":"1","quantity":-1}}}`))
	require.ErrorIs(t, err, ErrInvalidSnapshot)
}
