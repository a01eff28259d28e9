package cart

import (
	"context"
	"sync"
)

// Store хранит корзины между запросами.
type Store interface {
	// Load возвращает сохранённую корзину или пустую, если её нет.
	Load(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, userID string, c *Cart) error
	Delete(ctx context.Context, userID string) error
}

// MemoryStore хранит корзины в памяти процесса.
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string][]byte
	opts  []Option
}

// NewMemoryStore создаёт хранилище корзин в памяти.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{carts: make(map[string][]byte), opts: opts}
}

// Load возвращает копию сохранённой корзины.
func (s *MemoryStore) Load(_ context.Context, userID string) (*Cart, error) {
	s.mu.RLock()
	data, ok := s.carts[userID]
	s.mu.RUnlock()
	if !ok {
		return New(s.opts...), nil
	}
	return Restore(data, s.opts...)
}

// Save сохраняет сериализованную копию корзины.
func (s *MemoryStore) Save(_ context.Context, userID string, c *Cart) error {
	data, err := c.MarshalJSON()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.carts[userID] = data
	s.mu.Unlock()
	return nil
}

// Delete удаляет корзину.
func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.carts, userID)
	s.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
