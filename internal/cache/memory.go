package cache

import (
	"context"
	"sync"
	"time"

	"github.com/laneiq/freightlens/internal/clock"
	"github.com/laneiq/freightlens/internal/domain"
)

type readyEntry struct {
	resultID string
	expires  time.Time
}

type inflightEntry struct {
	owner   string
	expires time.Time
}

// Memory is a mutex-guarded single-process cache, sufficient for
// non-replicated deployments and the default in tests and dev mode.
// Expiry is lazy on read with an optional background sweep.
type Memory struct {
	mu       sync.Mutex
	ready    map[string]readyEntry
	inflight map[string]inflightEntry
	clock    clock.Clock
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemory builds an in-memory cache on the given clock.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		ready:    make(map[string]readyEntry),
		inflight: make(map[string]inflightEntry),
		clock:    clk,
		stopCh:   make(chan struct{}),
	}
}

// StartSweeper runs a background janitor that drops expired entries every
// interval until Stop is called. Lazy expiry keeps correctness without it.
func (m *Memory) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// Stop shuts the sweeper down.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Memory) TryClaim(ctx context.Context, fingerprint, owner string, lease time.Duration) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()

	if e, ok := m.ready[fingerprint]; ok {
		if now.Before(e.expires) {
			return Claim{Outcome: ReadyNow, ResultID: e.resultID}, nil
		}
		delete(m.ready, fingerprint)
	}
	if e, ok := m.inflight[fingerprint]; ok && now.Before(e.expires) {
		return Claim{Outcome: HeldByOther, Owner: e.owner, LeaseExpiresAt: e.expires}, nil
	}
	m.inflight[fingerprint] = inflightEntry{owner: owner, expires: now.Add(lease)}
	return Claim{Outcome: Claimed}, nil
}

func (m *Memory) Release(ctx context.Context, fingerprint, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.inflight[fingerprint]
	if !ok {
		return nil // already expired or published; releasing twice is benign
	}
	if e.owner != owner {
		return domain.Ef(domain.KindNotOwner, "in-flight slot for %s is held by %s", fingerprint, e.owner)
	}
	delete(m.inflight, fingerprint)
	return nil
}

func (m *Memory) PublishReady(ctx context.Context, fingerprint, resultID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ready[fingerprint] = readyEntry{resultID: resultID, expires: m.clock.Now().Add(ttl)}
	delete(m.inflight, fingerprint)
	return nil
}

func (m *Memory) LookupReady(ctx context.Context, fingerprint string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.ready[fingerprint]
	if !ok {
		return "", false, nil
	}
	if !m.clock.Now().Before(e.expires) {
		delete(m.ready, fingerprint)
		return "", false, nil
	}
	return e.resultID, true, nil
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for k, e := range m.ready {
		if !now.Before(e.expires) {
			delete(m.ready, k)
		}
	}
	for k, e := range m.inflight {
		if !now.Before(e.expires) {
			delete(m.inflight, k)
		}
	}
}
