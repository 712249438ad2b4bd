package telemetry

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

func closeRegistry(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestRegistryConcurrentGetOrStartSharesOneReceiver(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Candidates: func() []int { return []int{0} }})
	defer closeRegistry(t, reg)

	const callers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ports = map[int]int{}
		subs  []*Subscription
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, sub, err := reg.GetOrStart(context.Background())
			if err != nil {
				t.Errorf("GetOrStart: %v", err)
				return
			}
			mu.Lock()
			ports[port]++
			subs = append(subs, sub)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ports) != 1 {
		t.Fatalf("expected one port across callers, got %v", ports)
	}
	if got := reg.starts.Load(); got != 1 {
		t.Fatalf("expected exactly one bind sequence, got %d", got)
	}
	for i := range subs {
		for j := i + 1; j < len(subs); j++ {
			if subs[i] == subs[j] {
				t.Fatal("expected every caller to get its own subscription")
			}
		}
	}
}

func TestRegistrySkipsBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	reg := NewRegistry(RegistryOptions{Candidates: func() []int { return []int{busyPort, 0} }})
	defer closeRegistry(t, reg)

	port, sub, err := reg.GetOrStart(context.Background())
	if err != nil {
		t.Fatalf("GetOrStart: %v", err)
	}
	defer sub.Close()
	if port == busyPort || port == 0 {
		t.Fatalf("expected a fresh port, got %d", port)
	}
}

func TestRegistryAllPortsBusy(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	busyPort := busy.Addr().(*net.TCPAddr).Port

	calls := 0
	reg := NewRegistry(RegistryOptions{Candidates: func() []int {
		calls++
		if calls == 1 {
			return []int{busyPort, busyPort}
		}
		return []int{0}
	}})
	defer closeRegistry(t, reg)

	_, _, err = reg.GetOrStart(context.Background())
	if !errors.Is(err, ErrNoPort) {
		t.Fatalf("expected ErrNoPort, got %v", err)
	}
	var bindErr *BindError
	if !errors.As(err, &bindErr) || bindErr.Port != busyPort {
		t.Fatalf("expected BindError for port %d, got %v", busyPort, err)
	}
	if _, ok := reg.Snapshot(); ok {
		t.Fatal("expected no snapshot without a receiver")
	}
	busy.Close()

	port, sub, err := reg.GetOrStart(context.Background())
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	defer sub.Close()
	if port == 0 {
		t.Fatal("expected bound port on retry")
	}
}

func TestRegistryResetAndSnapshot(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Candidates: func() []int { return []int{0} }})
	defer closeRegistry(t, reg)

	reg.Reset()
	if reg.Port() != 0 {
		t.Fatalf("expected port 0 before start, got %d", reg.Port())
	}

	_, sub, err := reg.GetOrStart(context.Background())
	if err != nil {
		t.Fatalf("GetOrStart: %v", err)
	}
	defer sub.Close()

	snap, ok := reg.Snapshot()
	if !ok || snap.TokensTotal != 0 {
		t.Fatalf("expected zero snapshot, got %+v ok=%v", snap, ok)
	}
}

func TestRegistryRandomCandidatesInRange(t *testing.T) {
	reg := NewRegistry(RegistryOptions{PortMin: 41000, PortMax: 41010, Attempts: 7})
	ports := reg.candidates()
	if len(ports) != 7 {
		t.Fatalf("expected 7 candidates, got %d", len(ports))
	}
	for _, p := range ports {
		if p < 41000 || p >= 41010 {
			t.Fatalf("candidate %d out of range", p)
		}
	}
}
