// Package lock_test contains the unit tests for the lock package.
package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTable(t *testing.T) {
	tbl := NewTable()

	// 1. Lazily create a mutex
	m1 := tbl.Get("key1")
	if m1 == nil {
		t.Fatal("expected a mutex, but got nil")
	}
	if tbl.Len() != 1 {
		t.Errorf("expected 1 registered mutex, got %d", tbl.Len())
	}

	// 2. The same key returns the same mutex
	if tbl.Get("key1") != m1 {
		t.Error("expected Get to return the registered mutex")
	}
	if !tbl.Current("key1", m1) {
		t.Error("expected m1 to be current for key1")
	}

	// 3. Different keys get different mutexes
	if tbl.Get("key2") == m1 {
		t.Fatal("expected distinct mutexes per key")
	}

	// 4. Forget drops the mutex, and the next Get creates a fresh one
	tbl.Forget("key1")
	if tbl.Current("key1", m1) {
		t.Error("expected m1 to no longer be current after Forget")
	}
	if tbl.Get("key1") == m1 {
		t.Error("expected a fresh mutex after Forget")
	}

	// 5. Other keys are untouched
	if tbl.Len() != 2 {
		t.Errorf("expected 2 registered mutexes, got %d", tbl.Len())
	}
}

func TestMutex_Exclusive(t *testing.T) {
	m := NewTable().Get("k")
	var inside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := m.Lock()
			defer release()
			if n := atomic.AddInt32(&inside, 1); n != 1 {
				t.Errorf("expected a single holder, found %d", n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
}

func TestMutex_ReleaseIdempotent(t *testing.T) {
	m := NewTable().Get("k")
	release := m.Lock()
	release()
	release()

	// A double release must not free a lock taken by someone else.
	release2 := m.Lock()
	if _, ok := m.TryLock(); ok {
		t.Fatal("expected TryLock to fail while held")
	}
	release()
	if _, ok := m.TryLock(); ok {
		t.Fatal("stale release freed the lock")
	}
	release2()

	r, ok := m.TryLock()
	if !ok {
		t.Fatal("expected TryLock to succeed on a free mutex")
	}
	r()
}
