package connection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dexfeed/internal/chain"
	"dexfeed/internal/chain/chaintest"
	"dexfeed/internal/domain"
)

func testManager(dial Dialer) *Manager {
	return NewManager(ManagerOptions{
		Chain:          domain.ChainEthereum,
		Dial:           dial,
		ReadyWindow:    time.Second,
		ReconnectDelay: 10 * time.Millisecond,
		MaxDelay:       50 * time.Millisecond,
	})
}

func TestManagerBecomesReady(t *testing.T) {
	src := chaintest.NewSource(domain.ChainEthereum)
	m := testManager(func(ctx context.Context) (chain.Source, error) {
		return src, nil
	})

	if m.State() != Disconnected {
		t.Fatalf("initial state = %v, want disconnected", m.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	got, gen, err := m.WaitReady(ctx)
	if err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	if got != src {
		t.Error("WaitReady returned a different handle")
	}
	if gen != 1 {
		t.Errorf("generation = %d, want 1", gen)
	}
	if !m.ReadyNow() {
		t.Error("ReadyNow should be true after connect")
	}
}

func TestManagerReconnectsAfterFailure(t *testing.T) {
	var dials atomic.Int32
	sources := []*chaintest.Source{
		chaintest.NewSource(domain.ChainEthereum),
		chaintest.NewSource(domain.ChainEthereum),
	}
	m := testManager(func(ctx context.Context) (chain.Source, error) {
		n := dials.Add(1)
		if int(n) > len(sources) {
			return chaintest.NewSource(domain.ChainEthereum), nil
		}
		return sources[n-1], nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	_, gen1, err := m.WaitReady(ctx)
	if err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	// Force-close the live handle; the manager must install a fresh one.
	sources[0].Fail()

	deadline := time.After(2 * time.Second)
	for {
		src, gen2, ok := m.Source()
		if ok && gen2 > gen1 {
			if src == chain.Source(sources[0]) {
				t.Fatal("stale handle still installed after failure")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("manager did not reconnect after handle failure")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestManagerRetriesDialFailures(t *testing.T) {
	var dials atomic.Int32
	m := testManager(func(ctx context.Context) (chain.Source, error) {
		if dials.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return chaintest.NewSource(domain.ChainEthereum), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	if _, _, err := m.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	if n := dials.Load(); n != 3 {
		t.Errorf("dial attempts = %d, want 3", n)
	}
}

func TestManagerStopsOnCancel(t *testing.T) {
	m := testManager(func(ctx context.Context) (chain.Source, error) {
		return nil, errors.New("always down")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestNextDelayCapped(t *testing.T) {
	m := testManager(nil)

	d := m.baseDelay
	for i := 0; i < 10; i++ {
		d = m.nextDelay(d)
	}
	if d != m.maxDelay {
		t.Errorf("delay = %v, want capped at %v", d, m.maxDelay)
	}
}
