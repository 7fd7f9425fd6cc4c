// Package scheduler is the cooperative concurrency kernel every
// session and selector operation runs through: a global backpressure
// semaphore bounding active sessions, per-context serialization so a
// navigation never interleaves with an in-flight element query on the
// same tab, and deadline/cancellation plumbing shared by both.
//
// No teacher module runs a concurrency kernel of its own (the browser
// automation server drives everything off direct goroutines per MCP
// call), so this package is grounded on the wider pack's idiomatic use
// of golang.org/x/sync/semaphore and golang.org/x/time/rate instead of
// a specific teacher file.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"scrapcore/internal/config"
)

// CanceledError is returned when an operation's context is cancelled
// before it completes.
type CanceledError struct{ Op string }

func (e *CanceledError) Error() string { return fmt.Sprintf("%s: canceled", e.Op) }

// TimeoutError is returned when an operation's deadline elapses.
type TimeoutError struct{ Op string }

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s: timeout", e.Op) }

// Kernel provides backpressure, per-key serialization, and
// deadline-bound execution for session and selector operations.
type Kernel struct {
	sessionSem    *semaphore.Weighted
	maxSessions   int64
	limiter       *rate.Limiter
	createTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a refcounted mutex so RunSerialized can garbage-collect
// locks for keys (contexts) that are no longer in use.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New builds a Kernel from scheduler configuration. A zero or negative
// RateLimitPerSecond disables admission pacing.
func New(cfg config.SchedulerConfig) *Kernel {
	max := int64(cfg.MaxConcurrentSessions)
	if max <= 0 {
		max = 50
	}
	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(max)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}
	return &Kernel{
		sessionSem:    semaphore.NewWeighted(max),
		maxSessions:   max,
		limiter:       limiter,
		createTimeout: cfg.CreateSessionTimeoutDuration(),
		locks:         make(map[string]*keyLock),
	}
}

// AcquireSession blocks until a session admission slot is free or the
// configured create_session timeout elapses, whichever comes first.
// The returned release func must be called exactly once.
func (k *Kernel) AcquireSession(ctx context.Context) (release func(), err error) {
	ctx, cancel := context.WithTimeout(ctx, k.createTimeout)
	defer cancel()

	if k.limiter != nil {
		if err := k.limiter.Wait(ctx); err != nil {
			return nil, k.classify("acquire_session", err)
		}
	}

	if err := k.sessionSem.Acquire(ctx, 1); err != nil {
		return nil, k.classify("acquire_session", err)
	}
	return func() { k.sessionSem.Release(1) }, nil
}

// AvailableSessionSlots reports the configured session-admission
// ceiling (maxSessions). It does not count slots currently held, so it
// does not reflect saturation.
func (k *Kernel) AvailableSessionSlots() int64 {
	// semaphore.Weighted exposes no direct "available" accessor;
	// TryAcquire(0) always succeeds, so approximate by attempting to
	// acquire the full weight non-blockingly and releasing immediately
	// is unsafe under contention. Conservatively report the configured
	// ceiling; callers needing exact saturation should prefer
	// AcquireSession's blocking/timeout behavior over polling.
	return k.maxSessions
}

// RunSerialized runs fn holding the per-key lock identified by key
// (typically a tab context id), bounded by timeout. Different keys run
// fully in parallel; the same key is never entered twice concurrently —
// including across a timeout/cancellation: the key's lock stays held
// until fn itself returns, even though RunSerialized returns to its
// caller as soon as the deadline fires, so a second call on the same key
// queues behind the still-running first one instead of racing it.
func (k *Kernel) RunSerialized(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	lock := k.acquireKeyLock(key)
	lock.mu.Lock()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	done := make(chan error, 1)
	go func() {
		err := fn(runCtx)
		done <- err
		if cancel != nil {
			cancel()
		}
		lock.mu.Unlock()
		k.releaseKeyLock(key, lock)
	}()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		// fn may have finished just before runCtx was cancelled.
		select {
		case err := <-done:
			return err
		default:
		}
		if ctx.Err() != nil {
			return &CanceledError{Op: key}
		}
		return &TimeoutError{Op: key}
	}
}

func (k *Kernel) acquireKeyLock(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *Kernel) releaseKeyLock(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs <= 0 {
		delete(k.locks, key)
	}
}

func (k *Kernel) classify(op string, err error) error {
	if err == context.DeadlineExceeded {
		return &TimeoutError{Op: op}
	}
	return &CanceledError{Op: op}
}
