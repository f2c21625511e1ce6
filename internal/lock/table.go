// Package lock manages one mutual-exclusion primitive per key.
package lock

import "sync"

// Mutex is a binary lock for a single key.
type Mutex struct {
	ch chan struct{}
}

func newMutex() *Mutex {
	return &Mutex{ch: make(chan struct{}, 1)}
}

// Lock blocks until the mutex is held and returns the function releasing it.
// Release is idempotent so it can be deferred and also called early.
func (m *Mutex) Lock() (release func()) {
	m.ch <- struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() { <-m.ch })
	}
}

// TryLock acquires the mutex only if it is free.
func (m *Mutex) TryLock() (release func(), ok bool) {
	select {
	case m.ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-m.ch }) }, true
	default:
		return nil, false
	}
}

// Table is a thread-safe registry of per-key mutexes. A key's mutex is
// created on first use and lives until Forget.
type Table struct {
	mu    sync.RWMutex
	locks map[string]*Mutex
}

// NewTable creates an empty lock table.
func NewTable() *Table {
	return &Table{
		locks: make(map[string]*Mutex),
	}
}

// Get returns key's mutex, creating it if needed.
func (t *Table) Get(key string) *Mutex {
	t.mu.RLock()
	m, ok := t.locks[key]
	t.mu.RUnlock()
	if ok {
		return m
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok = t.locks[key]; !ok {
		m = newMutex()
		t.locks[key] = m
	}
	return m
}

// Current reports whether m is still the mutex registered for key. Callers
// that waited on a mutex use it to detect that the key was forgotten (and
// possibly recreated) while they were blocked.
func (t *Table) Current(key string, m *Mutex) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.locks[key] == m
}

// Forget drops key's mutex. It should be called while holding that mutex.
func (t *Table) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, key)
}

// Len returns the number of registered mutexes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.locks)
}
