package cache

import (
	"sync"
)

// MemBackend is the default in-process Backend: a single map guarded by a
// RWMutex, with writable transactions staging their mutations until
// Commit so Rollback can discard them cleanly (spec §4.1 "Commit failure
// MUST auto-abort").
type MemBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemBackend returns an empty in-memory Backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{data: make(map[string][]byte)}
}

func (m *MemBackend) Close() error { return nil }

func (m *MemBackend) Begin(writable bool) (Txn, error) {
	if writable {
		m.mu.Lock()
		return &memTxn{backend: m, writable: true, put: map[string][]byte{}, del: map[string]bool{}}, nil
	}
	m.mu.RLock()
	return &memTxn{backend: m, writable: false}, nil
}

type memTxn struct {
	backend  *MemBackend
	writable bool
	done     bool
	put      map[string][]byte
	del      map[string]bool
}

func (t *memTxn) Get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if t.writable {
		if t.del[k] {
			return nil, false, nil
		}
		if v, ok := t.put[k]; ok {
			return v, true, nil
		}
	}
	v, ok := t.backend.data[k]
	return v, ok, nil
}

func (t *memTxn) Put(key, val []byte) error {
	if !t.writable {
		return errReadOnly
	}
	k := string(key)
	delete(t.del, k)
	cp := append([]byte(nil), val...)
	t.put[k] = cp
	return nil
}

func (t *memTxn) Delete(key []byte) error {
	if !t.writable {
		return errReadOnly
	}
	k := string(key)
	delete(t.put, k)
	t.del[k] = true
	return nil
}

func (t *memTxn) ForEach(fn func(key, val []byte) error) error {
	if t.writable {
		seen := make(map[string]bool, len(t.backend.data))
		for k, v := range t.backend.data {
			if t.del[k] {
				continue
			}
			if pv, ok := t.put[k]; ok {
				v = pv
			}
			seen[k] = true
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
		for k, v := range t.put {
			if seen[k] {
				continue
			}
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	}
	for k, v := range t.backend.data {
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTxn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.writable {
		for k := range t.del {
			delete(t.backend.data, k)
		}
		for k, v := range t.put {
			t.backend.data[k] = v
		}
		t.backend.mu.Unlock()
	} else {
		t.backend.mu.RUnlock()
	}
	return nil
}

func (t *memTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.writable {
		t.backend.mu.Unlock()
	} else {
		t.backend.mu.RUnlock()
	}
	return nil
}

var errReadOnly = &labelError{"cache: write on read-only transaction"}
