package keylock

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLockExcludesConcurrentAccess(t *testing.T) {
	table := New()
	key := Key{FileID: "f1"}

	g1, err := table.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	var acquired bool
	done := make(chan struct{})
	go func() {
		g2, err := table.Lock(context.Background(), key)
		if err != nil {
			t.Errorf("second Lock: %v", err)
			close(done)
			return
		}
		acquired = true
		g2.Release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Lock returned before first was released")
	case <-time.After(50 * time.Millisecond):
	}

	g1.Release()
	<-done
	if !acquired {
		t.Fatal("second Lock never acquired")
	}
}

func TestTryLockTimesOutImmediately(t *testing.T) {
	table := New()
	key := Key{FileID: "f1", Variant: "thumb"}

	g1, err := table.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer g1.Release()

	closedTimeout := make(chan struct{})
	close(closedTimeout)

	_, err = table.TryLock(context.Background(), key, closedTimeout)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestLockRespectsCancellation(t *testing.T) {
	table := New()
	key := Key{FileID: "f2"}

	g1, err := table.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer g1.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = table.Lock(ctx, key)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFIFOOrdering(t *testing.T) {
	table := New()
	key := Key{FileID: "fifo"}

	g0, err := table.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	const n = 20
	order := make([]int, 0, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := table.Lock(context.Background(), key)
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			g.Release()
		}()
		// Wait until waiter i is queued so enqueue order matches spawn order.
		for {
			table.mu.Lock()
			queued := len(table.entries[key].waiters)
			table.mu.Unlock()
			if queued == i+1 {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}

	g0.Release()
	wg.Wait()

	if len(order) != n {
		t.Fatalf("expected %d acquisitions, got %d", n, len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("acquisition %d went to waiter %d, want FIFO order %v", i, got, order)
		}
	}
}

func TestInFlightSet(t *testing.T) {
	s := NewInFlightSet()
	if s.Contains("a") {
		t.Fatal("expected empty set")
	}
	s.Add("a")
	if !s.Contains("a") {
		t.Fatal("expected a to be in-flight")
	}
	s.Remove("a")
	if s.Contains("a") {
		t.Fatal("expected a removed")
	}
	s.Remove("never-added") // no-op, must not panic
}
