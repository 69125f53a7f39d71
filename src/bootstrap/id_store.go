package bootstrap

import (
	"sync"

	cm "github.com/mosaicnetworks/peernet/src/common"
)

// IDStore hands out node IDs. An address keeps the ID it was first given;
// new addresses get the next value of a sequence shared by all coordinator
// runs.
type IDStore interface {
	// Get returns the ID of addr, or a KeyNotFound StoreErr.
	Get(addr string) (int64, error)
	// Assign returns the ID of addr, assigning the next one if it has none.
	Assign(addr string) (int64, error)
	// Len returns the number of assigned IDs.
	Len() int
	Close() error
}

// InmemIDStore is an IDStore that forgets everything when the process exits.
type InmemIDStore struct {
	sync.Mutex
	ids    map[string]int64
	next   int64
	closed bool
}

// NewInmemIDStore ...
func NewInmemIDStore() *InmemIDStore {
	return &InmemIDStore{
		ids: make(map[string]int64),
	}
}

// Get implements IDStore.
func (s *InmemIDStore) Get(addr string) (int64, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return -1, cm.NewStoreErr("IDStore", cm.Closed, addr)
	}
	id, ok := s.ids[addr]
	if !ok {
		return -1, cm.NewStoreErr("IDStore", cm.KeyNotFound, addr)
	}
	return id, nil
}

// Assign implements IDStore.
func (s *InmemIDStore) Assign(addr string) (int64, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return -1, cm.NewStoreErr("IDStore", cm.Closed, addr)
	}
	if id, ok := s.ids[addr]; ok {
		return id, nil
	}
	id := s.next
	s.ids[addr] = id
	s.next++
	return id, nil
}

// Len implements IDStore.
func (s *InmemIDStore) Len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.ids)
}

// Close implements IDStore. Later Get and Assign calls fail with a Closed
// StoreErr.
func (s *InmemIDStore) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}
