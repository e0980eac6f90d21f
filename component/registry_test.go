package component

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kbukum/localchat/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

type fakeComponent struct {
	name     string
	rec      *recorder
	startErr error
	stopErr  error
	status   HealthStatus
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(context.Context) error {
	f.rec.add("start:" + f.name)
	return f.startErr
}

func (f *fakeComponent) Stop(context.Context) error {
	f.rec.add("stop:" + f.name)
	return f.stopErr
}

func (f *fakeComponent) Health(context.Context) Health {
	status := f.status
	if status == "" {
		status = StatusHealthy
	}
	return Health{Name: f.name, Status: status}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	rec := &recorder{}
	if err := r.Register(&fakeComponent{name: "engine", rec: rec}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeComponent{name: "engine", rec: rec}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if r.Get("engine") == nil || r.Get("missing") != nil {
		t.Error("Get returned unexpected result")
	}
}

func TestStartStopOrder(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	rec := &recorder{}
	for _, name := range []string{"engine", "server"} {
		if err := r.Register(&fakeComponent{name: name, rec: rec}); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	if err := r.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := r.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	want := []string{"start:engine", "start:server", "stop:server", "stop:engine"}
	if !equal(rec.events, want) {
		t.Errorf("events = %v, want %v", rec.events, want)
	}
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	rec := &recorder{}
	boom := errors.New("port in use")
	_ = r.Register(&fakeComponent{name: "engine", rec: rec})
	_ = r.Register(&fakeComponent{name: "server", rec: rec, startErr: boom})
	_ = r.Register(&fakeComponent{name: "never", rec: rec})

	err := r.StartAll(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("StartAll err = %v, want %v", err, boom)
	}

	want := []string{"start:engine", "start:server", "stop:engine"}
	if !equal(rec.events, want) {
		t.Errorf("events = %v, want %v", rec.events, want)
	}

	// Nothing is left running, so StopAll is a no-op.
	if err := r.StopAll(context.Background()); err != nil {
		t.Errorf("StopAll: %v", err)
	}
	if len(rec.events) != len(want) {
		t.Errorf("StopAll touched stopped components: %v", rec.events)
	}
}

func TestStopAllJoinsErrors(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	rec := &recorder{}
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	_ = r.Register(&fakeComponent{name: "a", rec: rec, stopErr: errA})
	_ = r.Register(&fakeComponent{name: "b", rec: rec, stopErr: errB})

	ctx := context.Background()
	if err := r.StartAll(ctx); err != nil {
		t.Fatal(err)
	}
	err := r.StopAll(ctx)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("StopAll err = %v, want both errors", err)
	}
}

func TestHealthAllAndOverall(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	rec := &recorder{}
	_ = r.Register(&fakeComponent{name: "engine", rec: rec, status: StatusDegraded})
	_ = r.Register(&fakeComponent{name: "server", rec: rec})

	results := r.HealthAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	if got := Overall(results); got != StatusDegraded {
		t.Errorf("Overall = %s, want degraded", got)
	}

	results = append(results, Health{Name: "x", Status: StatusUnhealthy})
	if got := Overall(results); got != StatusUnhealthy {
		t.Errorf("Overall = %s, want unhealthy", got)
	}
	if got := Overall(nil); got != StatusHealthy {
		t.Errorf("Overall(nil) = %s, want healthy", got)
	}
}
