package submission

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps aggregates in process, for the command line tool and tests.
// Published receives every saved event in order when set.
type MemoryStore struct {
	mu        sync.Mutex
	events    map[string][]*Event
	Published func(*Event)
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]*Event)}
}

func (m *MemoryStore) Save(_ context.Context, agg *Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	changes := agg.Changes()
	for i, event := range changes {
		event.Version = agg.Version() - len(changes) + i + 1
		m.events[agg.ID()] = append(m.events[agg.ID()], event)
		if m.Published != nil {
			m.Published(event)
		}
	}
	agg.ClearChanges()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*Aggregate, error) {
	events, _ := m.GetEvents(ctx, id)
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	agg := NewAggregate(id)
	agg.LoadFromHistory(events)
	return agg, nil
}

func (m *MemoryStore) GetEvents(_ context.Context, id string) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events[id]))
	copy(out, m.events[id])
	return out, nil
}
