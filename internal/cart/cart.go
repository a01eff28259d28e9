// Package cart содержит корзину покупателя: позиции со снимком цены и кэшируемые итоги.
package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var (
	// ErrLineNotFound — в корзине нет позиции с таким товаром.
	ErrLineNotFound = errors.New("cart line not found")
	// Ошибка отрицательного количества.
	ErrInvalidQuantity = errors.New("quantity must be non-negative")
	// Ошибка некорректных позиций в сериализованной корзине.
	ErrInvalidSnapshot = errors.New("invalid cart snapshot")
)

// Line — позиция корзины. Цена и описание снимаются с каталога при первом добавлении.
type Line struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
	MaxQuantity int             `json:"maxQuantity"`
	Image       string          `json:"image,omitempty"`
	Category    string          `json:"category,omitempty"`
	Tags        string          `json:"tags,omitempty"`
}

// Total возвращает стоимость позиции.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Option настраивает поведение корзины.
type Option func(*Cart)

// WithRemoveOnZero включает удаление позиции при установке нулевого количества.
// По умолчанию позиция с нулём остаётся в корзине.
func WithRemoveOnZero(enabled bool) Option {
	return func(c *Cart) {
		c.removeOnZero = enabled
	}
}

// Cart — корзина пользователя. Не потокобезопасна: живёт в рамках одного запроса.
type Cart struct {
	lines         map[string]*Line
	totalQuantity int
	totalPrice    decimal.Decimal
	removeOnZero  bool
}

// New создаёт пустую корзину.
func New(opts ...Option) *Cart {
	c := &Cart{lines: make(map[string]*Line)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add добавляет товар. Количество <= 0 трактуется как 1.
func (c *Cart) Add(product domain.Product, quantity int) {
	if quantity <= 0 {
		quantity = 1
	}
	if c.lines == nil {
		c.lines = make(map[string]*Line)
	}
	line, ok := c.lines[product.ID]
	if !ok {
		line = &Line{
			ProductID:   product.ID,
			Name:        product.Name,
			UnitPrice:   product.Price,
			MaxQuantity: product.StockQuantity,
			Image:       product.Image,
			Category:    product.Category,
			Tags:        product.Tags,
		}
		c.lines[product.ID] = line
	}
	line.Quantity += quantity
	c.adjust(quantity, line.UnitPrice)
}

// UpdateQuantity выставляет новое количество и пересчитывает итоги по разнице.
func (c *Cart) UpdateQuantity(productID string, quantity int) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	line, ok := c.lines[productID]
	if !ok {
		return ErrLineNotFound
	}
	delta := quantity - line.Quantity
	line.Quantity = quantity
	c.adjust(delta, line.UnitPrice)
	if quantity == 0 && c.removeOnZero {
		delete(c.lines, productID)
	}
	return nil
}

// Remove удаляет позицию. Отсутствующий товар игнорируется.
func (c *Cart) Remove(productID string) {
	line, ok := c.lines[productID]
	if !ok {
		return
	}
	c.adjust(-line.Quantity, line.UnitPrice)
	delete(c.lines, productID)
}

// Clear очищает корзину.
func (c *Cart) Clear() {
	c.lines = make(map[string]*Line)
	c.totalQuantity = 0
	c.totalPrice = decimal.Zero
}

// Items возвращает копии позиций, упорядоченные по идентификатору товара.
func (c *Cart) Items() []Line {
	items := make([]Line, 0, len(c.lines))
	for _, line := range c.lines {
		items = append(items, *line)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items
}

// Line возвращает позицию по товару.
func (c *Cart) Line(productID string) (Line, bool) {
	line, ok := c.lines[productID]
	if !ok {
		return Line{}, false
	}
	return *line, true
}

// Len возвращает количество позиций, включая нулевые.
func (c *Cart) Len() int { return len(c.lines) }

func (c *Cart) TotalQuantity() int { return c.totalQuantity }

func (c *Cart) TotalPrice() decimal.Decimal { return c.totalPrice }

// IsEmpty сообщает, что в корзине нет ни одной единицы товара.
func (c *Cart) IsEmpty() bool {
	return c == nil || c.totalQuantity == 0
}

func (c *Cart) adjust(quantity int, unitPrice decimal.Decimal) {
	c.totalQuantity += quantity
	if c.totalQuantity < 0 {
		c.totalQuantity = 0
	}
	c.totalPrice = c.totalPrice.Add(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
	if c.totalPrice.IsNegative() {
		c.totalPrice = decimal.Zero
	}
}

type snapshot struct {
	Items      map[string]Line `json:"items"`
	TotalQty   int             `json:"totalQty"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// MarshalJSON сериализует корзину в формат {items, totalQty, totalPrice}.
func (c *Cart) MarshalJSON() ([]byte, error) {
	items := make(map[string]Line, len(c.lines))
	for id, line := range c.lines {
		items[id] = *line
	}
	return json.Marshal(snapshot{Items: items, TotalQty: c.totalQuantity, TotalPrice: c.totalPrice})
}

// UnmarshalJSON восстанавливает корзину. Итоги пересчитываются по позициям.
func (c *Cart) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	lines := make(map[string]*Line, len(snap.Items))
	for id, line := range snap.Items {
		if line.Quantity < 0 || line.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %s", ErrInvalidSnapshot, id)
		}
		line := line
		line.ProductID = id
		lines[id] = &line
	}
	c.lines = lines
	c.totalQuantity = 0
	c.totalPrice = decimal.Zero
	for _, line := range lines {
		c.adjust(line.Quantity, line.UnitPrice)
	}
	return nil
}

// Restore восстанавливает корзину из сериализованного вида с заданными опциями.
func Restore(data []byte, opts ...Option) (*Cart, error) {
	c := New(opts...)
	if err := c.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("restore cart: %w", err)
	}
	return c, nil
}
