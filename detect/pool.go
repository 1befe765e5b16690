package detect

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultPoolSize is the session count used when none is configured.
	DefaultPoolSize   = 2
	AcquireTimeout    = 30 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

// SessionPool holds a fixed number of interchangeable backend sessions for
// one model. Sessions are single-owner while acquired; the pool replenishes
// sessions that were destroyed on release failure.
type SessionPool struct {
	sessions   chan Backend
	size       int
	factory    func() (Backend, error)
	mu         sync.Mutex
	closed     bool
	metrics    *PoolMetrics
	lastErrors []error
}

// PoolMetrics tracks pool usage for the monitoring endpoint.
type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolStats is the exported snapshot of PoolMetrics.
type PoolStats struct {
	Size            int   `json:"size"`
	InUse           int   `json:"in_use"`
	TotalAcquired   int64 `json:"total_acquired"`
	TotalReleased   int64 `json:"total_released"`
	AcquireFailures int64 `json:"acquire_failures"`
}

// NewSessionPool builds size sessions up front via factory. Model loading is
// a one-time, startup-class operation; any factory failure aborts pool
// construction.
func NewSessionPool(factory func() (Backend, error), size int) (*SessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &SessionPool{
		sessions: make(chan Backend, size),
		size:     size,
		factory:  factory,
		metrics:  &PoolMetrics{},
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	go pool.healthCheck()

	return pool, nil
}

// Acquire hands out an idle session, waiting up to AcquireTimeout.
func (p *SessionPool) Acquire(ctx context.Context) (Backend, error) {
	if p.isClosed() {
		return nil, fmt.Errorf("pool is closed")
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	select {
	case session := <-p.sessions:
		// A nil session is the zero value from a channel closed by
		// Destroy while this call was waiting.
		if session == nil {
			p.metrics.mu.Lock()
			p.metrics.acquireFailures++
			p.metrics.mu.Unlock()
			return nil, fmt.Errorf("pool is closed")
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-time.After(AcquireTimeout):
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool.
func (p *SessionPool) Release(session Backend) {
	if p.isClosed() {
		session.Destroy()
		return
	}

	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.sessions <- session
}

// Destroy closes the pool and releases all idle sessions.
func (p *SessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

func (p *SessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *SessionPool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if p.isClosed() {
			return
		}
		p.metrics.mu.RLock()
		inUse := p.metrics.inUse
		p.metrics.mu.RUnlock()
		// Sessions checked out to callers are not missing, only ones
		// destroyed after a failure.
		if missing := p.size - len(p.sessions) - inUse; missing > 0 {
			p.replenishSessions(missing)
		}
	}
}

func (p *SessionPool) replenishSessions(count int) {
	for i := 0; i < count; i++ {
		session, err := p.factory()
		if err != nil {
			p.recordError(err)
			continue
		}
		if p.isClosed() {
			session.Destroy()
			return
		}
		p.sessions <- session
	}
}

func (p *SessionPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

// Stats snapshots the pool metrics.
func (p *SessionPool) Stats() PoolStats {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolStats{
		Size:            p.size,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
	}
}
