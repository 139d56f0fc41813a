package store

import (
	"fmt"
	"sync"
)

import (
	"github.com/pkg/errors"
)

// in memory store, used by tests and singleton deployments
type MemoryStore struct {
	lock     sync.RWMutex
	versions map[string][]byte
	ints     map[string]uint64
}

var _ = Store(&MemoryStore{})

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string][]byte),
		ints:     make(map[string]uint64),
	}
}

func versionKey(name string, v uint64) string {
	return fmt.Sprintf("%v/%v", name, v)
}

func (s *MemoryStore) Start() error { return nil }

func (s *MemoryStore) Stop() error { return nil }

func (s *MemoryStore) ExistsVersion(name string, v uint64) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, exists := s.versions[versionKey(name, v)]
	return exists
}

func (s *MemoryStore) GetVersion(name string, v uint64) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	val, exists := s.versions[versionKey(name, v)]
	if !exists {
		return nil, errors.Errorf("no value at %v", versionKey(name, v))
	}
	dst := make([]byte, len(val))
	copy(dst, val)
	return dst, nil
}

func (s *MemoryStore) PutVersion(name string, v uint64, val []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	dst := make([]byte, len(val))
	copy(dst, val)
	s.versions[versionKey(name, v)] = dst
	return nil
}

func (s *MemoryStore) GetInt(key string) (uint64, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.ints[key], nil
}

func (s *MemoryStore) PutInt(key string, val uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.ints[key] = val
	return nil
}
