package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// hold occupies the bulkhead's only slot until release is closed.
func hold(t *testing.T, b *Bulkhead) (release chan struct{}, done chan struct{}) {
	t.Helper()
	started := make(chan struct{})
	release = make(chan struct{})
	done = make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Execute(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	return release, done
}

func TestBulkheadSerializesWithOneSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "engine", MaxConcurrent: 1, Block: true})

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("expected at most 1 concurrent call, got %d", peak)
	}
}

func TestBulkheadRejectsWhenFull(t *testing.T) {
	var rejected int32
	b := NewBulkhead(BulkheadConfig{
		Name:     "engine",
		OnReject: func(string, error) { atomic.AddInt32(&rejected, 1) },
	})
	release, done := hold(t, b)

	err := b.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("expected ErrBulkheadFull, got %v", err)
	}
	if atomic.LoadInt32(&rejected) != 1 {
		t.Errorf("expected OnReject once, got %d", rejected)
	}

	close(release)
	<-done
	if b.InUse() != 0 || b.Available() != 1 {
		t.Errorf("expected slot released, in use %d", b.InUse())
	}
}

func TestBulkheadMaxWaitTimeout(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})
	release, done := hold(t, b)
	defer func() { close(release); <-done }()

	err := b.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrBulkheadTimeout) {
		t.Errorf("expected ErrBulkheadTimeout, got %v", err)
	}
}

func TestBulkheadBlockWaitsForSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, Block: true})
	release, done := hold(t, b)

	result := make(chan error, 1)
	go func() {
		result <- b.Execute(context.Background(), func() error { return nil })
	}()

	select {
	case err := <-result:
		t.Fatalf("expected caller to wait, returned %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	if err := <-result; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBulkheadBlockHonorsContext(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, Block: true})
	release, done := hold(t, b)
	defer func() { close(release); <-done }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Execute(ctx, func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBulkheadPropagatesResultAndError(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 2})
	var acquired, released int32
	b.cfg.OnAcquire = func(string, time.Duration) { atomic.AddInt32(&acquired, 1) }
	b.cfg.OnRelease = func(string) { atomic.AddInt32(&released, 1) }

	v, err := ExecuteWithResult(b, context.Background(), func() (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Errorf("expected ok, got %q %v", v, err)
	}

	boom := errors.New("boom")
	if _, err := ExecuteWithResult(b, context.Background(), func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if acquired != 2 || released != 2 {
		t.Errorf("expected 2 acquire/release, got %d/%d", acquired, released)
	}
	if b.MaxConcurrent() != 2 {
		t.Errorf("expected 2 slots, got %d", b.MaxConcurrent())
	}
}
