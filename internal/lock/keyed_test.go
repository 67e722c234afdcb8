package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedLockSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Lock(1)
			defer k.Unlock(1)
			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, n)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("expected at most 1 concurrent holder for the same key, saw %d", maxActive)
	}
}

func TestKeyedLockAllowsDifferentKeysConcurrently(t *testing.T) {
	k := NewKeyed()
	k.Lock(1)
	defer k.Unlock(1)

	done := make(chan struct{})
	go func() {
		k.Lock(2)
		k.Unlock(2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key should not block")
	}
}

func TestKeyedTryLock(t *testing.T) {
	k := NewKeyed()
	if !k.TryLock(5) {
		t.Fatal("expected first TryLock to succeed")
	}
	if k.TryLock(5) {
		t.Fatal("expected second TryLock on held key to fail")
	}
	k.Unlock(5)
	if !k.TryLock(5) {
		t.Fatal("expected TryLock to succeed after unlock")
	}
}
