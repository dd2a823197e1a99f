package remote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerInitializesOnce(t *testing.T) {
	var calls atomic.Int32
	backend := NewMemoryBackend()

	m := NewManager(func(ctx context.Context) (Storage, error) {
		calls.Add(1)
		// Slow factory so all goroutines pile up on the same attempt
		time.Sleep(20 * time.Millisecond)
		return backend, nil
	})

	const goroutines = 16
	var wg sync.WaitGroup
	results := make([]Storage, goroutines)
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Get(context.Background())
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("factory called %d times, want 1", got)
	}
	for i := 0; i < goroutines; i++ {
		if errs[i] != nil {
			t.Errorf("goroutine %d: unexpected error: %v", i, errs[i])
		}
		if results[i] != Storage(backend) {
			t.Errorf("goroutine %d: got a different handle", i)
		}
	}
}

func TestManagerCachesFailureUntilReset(t *testing.T) {
	var calls atomic.Int32
	failErr := errors.New("auth expired")

	m := NewManager(func(ctx context.Context) (Storage, error) {
		if calls.Add(1) == 1 {
			return nil, failErr
		}
		return NewMemoryBackend(), nil
	})

	if _, err := m.Get(context.Background()); !errors.Is(err, failErr) {
		t.Fatalf("expected factory error, got %v", err)
	}

	// Failure is cached: no new attempt happens on subsequent Gets.
	if _, err := m.Get(context.Background()); !errors.Is(err, failErr) {
		t.Fatalf("expected cached error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("factory called %d times before Reset, want 1", got)
	}

	m.Reset()

	handle, err := m.Get(context.Background())
	if err != nil {
		t.Fatalf("Get after Reset failed: %v", err)
	}
	if handle == nil {
		t.Fatal("Get after Reset returned nil handle")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("factory called %d times after Reset, want 2", got)
	}
}

func TestManagerGetHonorsContextWhileWaiting(t *testing.T) {
	release := make(chan struct{})

	m := NewManager(func(ctx context.Context) (Storage, error) {
		<-release
		return NewMemoryBackend(), nil
	})

	// First caller holds the in-flight attempt open.
	go m.Get(context.Background())
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Get(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled for waiting caller, got %v", err)
	}

	close(release)
}
