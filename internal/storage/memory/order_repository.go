package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRepository struct {
	acc accessor
}

func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	return r.acc.write(func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return domain.ErrPersistence
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := r.acc.read(func(st *state) error {
		stored, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = cloneOrder(stored)
		return nil
	})
	return order, err
}

func (r *orderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool { return o.UserID == userID }, limit)
}

func (r *orderRepository) List(_ context.Context, limit int) ([]domain.Order, error) {
	return r.list(func(domain.Order) bool { return true }, limit)
}

func (r *orderRepository) list(match func(domain.Order) bool, limit int) ([]domain.Order, error) {
	var result []domain.Order
	err := r.acc.read(func(st *state) error {
		result = make([]domain.Order, 0, len(st.orders))
		for _, order := range st.orders {
			if match(order) {
				result = append(result, cloneOrder(order))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *orderRepository) TransitionStatus(_ context.Context, id string, from, to domain.OrderStatus, at time.Time) error {
	return r.acc.write(func(st *state) error {
		order, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if order.Status != from {
			return domain.ErrInvalidState
		}
		order.Status = to
		order.UpdatedAt = at
		st.orders[id] = order
		return nil
	})
}

func (r *orderRepository) SetStatus(_ context.Context, id string, status domain.OrderStatus, at time.Time) error {
	return r.acc.write(func(st *state) error {
		order, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order.Status = status
		order.UpdatedAt = at
		st.orders[id] = order
		return nil
	})
}

func (r *orderRepository) MarkRefundRequested(_ context.Context, id string, req domain.RefundRequest) error {
	return r.acc.write(func(st *state) error {
		order, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if order.Status != domain.OrderStatusDelivered {
			return domain.ErrInvalidState
		}
		requestedAt := req.RequestedAt
		order.Status = domain.OrderStatusRefundRequested
		order.RefundReason = req.Reason
		order.RefundNotes = req.Notes
		order.RefundRequestedAt = &requestedAt
		order.UpdatedAt = requestedAt
		st.orders[id] = order
		return nil
	})
}

func (r *orderRepository) Delete(_ context.Context, id string) error {
	return r.acc.write(func(st *state) error {
		if _, ok := st.orders[id]; !ok {
			return domain.ErrOrderNotFound
		}
		delete(st.orders, id)
		delete(st.transactions, id)
		return nil
	})
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	if src.RefundRequestedAt != nil {
		at := *src.RefundRequestedAt
		dst.RefundRequestedAt = &at
	}
	return dst
}

var _ domain.OrderRepository = (*orderRepository)(nil)
