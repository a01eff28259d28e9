package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type timelineRepository struct {
	acc accessor
}

// Append добавляет событие, сохраняя хронологический порядок.
func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	return r.acc.write(func(st *state) error {
		events := append(st.timeline[event.OrderID], event)
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Occurred.Before(events[j].Occurred)
		})
		st.timeline[event.OrderID] = events
		return nil
	})
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	var result []domain.TimelineEvent
	err := r.acc.read(func(st *state) error {
		result = append([]domain.TimelineEvent(nil), st.timeline[orderID]...)
		return nil
	})
	return result, err
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
