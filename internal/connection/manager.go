// Package connection owns the per-chain live subscription handle: a small
// readiness state machine and an endless supervised reconnect loop. One
// Manager instance exists per chain, owned by the orchestrator; there is no
// ambient registry.
package connection

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dexfeed/internal/chain"
	"dexfeed/internal/domain"
	"dexfeed/internal/observability"
)

// State is the connection readiness state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Ready
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Default retry and readiness bounds.
const (
	DefaultReadyWindow    = 10 * time.Second
	DefaultReconnectDelay = 1 * time.Second
	DefaultMaxDelay       = 30 * time.Second
)

// Dialer establishes a fresh live source handle.
type Dialer func(ctx context.Context) (chain.Source, error)

// Manager drives one chain's connect/reconnect lifecycle. Loss of
// connectivity is non-fatal: the manager retries with capped exponential
// backoff until its context is cancelled. Exactly one handle is live at a
// time; a stale handle is closed before its replacement is installed.
type Manager struct {
	chainID     domain.Chain
	dial        Dialer
	readyWindow time.Duration
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *log.Logger

	state      atomic.Int32
	generation atomic.Uint64

	mu  sync.Mutex
	src chain.Source
}

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	Chain          domain.Chain
	Dial           Dialer
	ReadyWindow    time.Duration
	ReconnectDelay time.Duration
	MaxDelay       time.Duration
	Logger         *log.Logger
}

// NewManager creates a connection manager for one chain.
func NewManager(opts ManagerOptions) *Manager {
	readyWindow := opts.ReadyWindow
	if readyWindow == 0 {
		readyWindow = DefaultReadyWindow
	}
	baseDelay := opts.ReconnectDelay
	if baseDelay == 0 {
		baseDelay = DefaultReconnectDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Manager{
		chainID:     opts.Chain,
		dial:        opts.Dial,
		readyWindow: readyWindow,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		logger:      logger,
	}
}

// Chain returns the chain this manager serves.
func (m *Manager) Chain() domain.Chain { return m.chainID }

// State returns the current readiness state without blocking.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// ReadyNow reports whether the chain is usable right now.
func (m *Manager) ReadyNow() bool {
	return m.State() == Ready
}

// Source returns the live handle and its generation, or false when the chain
// is not ready. The generation increments on every reconnect so consumers can
// detect handle turnover.
func (m *Manager) Source() (chain.Source, uint64, bool) {
	if !m.ReadyNow() {
		return nil, 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.src == nil {
		return nil, 0, false
	}
	return m.src, m.generation.Load(), true
}

// WaitReady blocks until the chain is ready, returning the live handle and
// its generation.
func (m *Manager) WaitReady(ctx context.Context) (chain.Source, uint64, error) {
	for {
		if src, gen, ok := m.Source(); ok {
			return src, gen, nil
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Run drives the connect/reconnect loop until ctx is cancelled. Intended to
// run under a tomb so shutdown cleanly halts all retry attempts.
func (m *Manager) Run(ctx context.Context) error {
	delay := m.baseDelay

	for {
		m.setState(Connecting)

		dialCtx, cancel := context.WithTimeout(ctx, m.readyWindow)
		src, err := m.dial(dialCtx)
		cancel()

		if err != nil {
			m.setState(Errored)
			m.logger.Printf("[%s] connect failed, retrying in %v: %v", m.chainID, delay, err)
			m.setState(Disconnected)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = m.nextDelay(delay)
			continue
		}

		m.install(src)
		m.setState(Ready)
		m.logger.Printf("[%s] connected (generation %d)", m.chainID, m.generation.Load())
		delay = m.baseDelay

		select {
		case <-ctx.Done():
			m.teardown()
			return ctx.Err()
		case <-src.Done():
		}

		m.setState(Errored)
		observability.RecordReconnect(m.chainID.String())
		m.logger.Printf("[%s] connection lost, reconnecting in %v", m.chainID, delay)
		m.teardown()
		m.setState(Disconnected)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = m.nextDelay(delay)
	}
}

// install swaps in a fresh handle, closing any stale one first so two sockets
// never deliver concurrently.
func (m *Manager) install(src chain.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.src != nil {
		m.src.Close()
	}
	m.src = src
	m.generation.Add(1)
}

// teardown invalidates the current handle.
func (m *Manager) teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.src != nil {
		m.src.Close()
		m.src = nil
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	observability.RecordConnectionState(m.chainID.String(), int(s))
}

func (m *Manager) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > m.maxDelay {
		d = m.maxDelay
	}
	return d
}
