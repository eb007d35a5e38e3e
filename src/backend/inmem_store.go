package backend

import (
	"sync"

	"github.com/commonsnetwork/commonsync/src/common"
	"github.com/commonsnetwork/commonsync/src/event"
)

// InmemStore is an in-memory implementation of the Store interface.
type InmemStore struct {
	sync.RWMutex
	byID  map[string]*event.Event
	order []string
}

// NewInmemStore instantiates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		byID:  map[string]*event.Event{},
		order: []string{},
	}
}

// Get implements the Store interface.
func (s *InmemStore) Get(eventID string) (*event.Event, error) {
	s.RLock()
	defer s.RUnlock()

	ev, ok := s.byID[eventID]
	if !ok {
		return nil, common.NewStoreErr("event", common.KeyNotFound, eventID)
	}

	return ev, nil
}

// Add implements the Store interface.
func (s *InmemStore) Add(ev *event.Event) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.byID[ev.ID]; ok {
		return common.NewStoreErr("event", common.KeyAlreadyExists, ev.ID)
	}

	s.byID[ev.ID] = ev
	s.order = append(s.order, ev.ID)

	return nil
}

// Has implements the Store interface.
func (s *InmemStore) Has(eventID string) bool {
	s.RLock()
	defer s.RUnlock()

	_, ok := s.byID[eventID]
	return ok
}

// List implements the Store interface.
func (s *InmemStore) List() []*event.Event {
	s.RLock()
	defer s.RUnlock()

	res := make([]*event.Event, len(s.order))
	for i, id := range s.order {
		res[i] = s.byID[id]
	}

	return res
}

// IDs implements the Store interface.
func (s *InmemStore) IDs() []string {
	s.RLock()
	defer s.RUnlock()

	res := make([]string, len(s.order))
	copy(res, s.order)

	return res
}

// Len implements the Store interface.
func (s *InmemStore) Len() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.order)
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
