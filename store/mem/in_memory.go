package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warriorguo/stemflow/store"
)

var (
	_ store.Store = &memStore{}
)

func NewMemStore() store.Store {
	return NewMemStoreWithErrHandler(nil)
}

/**
 * NewMemStoreWithErrHandler returns a store whose every call returns the
 * result of errHandler first. A failing call leaves the state untouched.
 */
func NewMemStoreWithErrHandler(errHandler func() error) store.Store {
	return &memStore{
		buckets:        make(map[string]map[string][]byte),
		mockErrHandler: errHandler,
	}
}

/**
 * memStore keeps one bucket per prefix. It is meant for tests and
 * development, nothing survives a restart.
 */
type memStore struct {
	mu sync.RWMutex

	mockErrHandler func() error

	buckets map[string]map[string][]byte
}

func (m *memStore) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sb strings.Builder
	for prefix, bucket := range m.buckets {
		fmt.Fprintf(&sb, "%s (%d keys)\n", prefix, len(bucket))
	}
	return sb.String()
}

func (m *memStore) fault() error {
	if m.mockErrHandler == nil {
		return nil
	}
	return m.mockErrHandler()
}

// Get returns a copy, callers may keep mutating the slice.
func (m *memStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(); err != nil {
		return nil, err
	}
	v, exists := m.buckets[prefix][key]
	if !exists {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *memStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(); err != nil {
		return err
	}
	bucket, ok := m.buckets[prefix]
	if !ok {
		bucket = make(map[string][]byte)
		m.buckets[prefix] = bucket
	}
	bucket[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Remove(ctx context.Context, prefix, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(); err != nil {
		return err
	}
	bucket := m.buckets[prefix]
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(m.buckets, prefix)
	}
	return nil
}

// List walks a sorted snapshot of the keys, iterator may call back into the store.
func (m *memStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	m.mu.RLock()
	if err := m.fault(); err != nil {
		m.mu.RUnlock()
		return err
	}
	keys := make([]string, 0, len(m.buckets[prefix]))
	for key := range m.buckets[prefix] {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, key := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !iterator(key) {
			break
		}
	}
	return nil
}

func (m *memStore) Close() error {
	return nil
}
