package store

import "sync"

// MemStore keeps values in memory only
type MemStore struct {
	mu   sync.Mutex
	data map[string]map[string]int64
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string]int64)}
}

func (s *MemStore) Open(namespace string) (Handle, error) {
	return newHandle(s, namespace), nil
}

func (s *MemStore) get(ns, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[ns][key]
	if !ok {
		return 0, ErrNotFound
	}
	return v, nil
}

func (s *MemStore) commit(ns string, staged map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.data[ns]
	if m == nil {
		m = make(map[string]int64)
		s.data[ns] = m
	}
	for k, v := range staged {
		m[k] = v
	}
	return nil
}
