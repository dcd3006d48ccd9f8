// Package lease provides the single-writer discipline for catalog sync runs.
// A run acquires a Lease before reading the store snapshot and releases it
// after its last batch. KeepAlive renews it while batches run, and writers
// check Valid inside every write transaction.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrLeaseHeld = errors.New("lease held by another run")
	ErrLeaseLost = errors.New("lease lost")
)

type Lease interface {
	Name() string
	Owner() string
	// Valid returns ErrLeaseLost once the lease expired or was released.
	Valid(ctx context.Context) error
	// Deadline is the last known expiry. For a shared lease it is a local
	// estimate that never runs later than the server's.
	Deadline() time.Time
	// Renew extends the lease by its original ttl, or returns ErrLeaseLost
	// when another owner holds it.
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// LocalLocker hands out in-process leases. It is used when no Redis is
// configured, i.e. a single process owns the store.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]*localLease
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]*localLease{}, now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[name]; ok && now.Before(cur.expires) {
		return nil, ErrLeaseHeld
	}
	ls := &localLease{locker: l, name: name, owner: uuid.NewString(), ttl: ttl, expires: now.Add(ttl)}
	l.held[name] = ls
	return ls, nil
}

type localLease struct {
	locker  *LocalLocker
	name    string
	owner   string
	ttl     time.Duration
	expires time.Time
}

func (ls *localLease) Name() string  { return ls.name }
func (ls *localLease) Owner() string { return ls.owner }

func (ls *localLease) Valid(_ context.Context) error {
	ls.locker.mu.Lock()
	defer ls.locker.mu.Unlock()
	cur, ok := ls.locker.held[ls.name]
	if !ok || cur != ls || !ls.locker.now().Before(ls.expires) {
		return ErrLeaseLost
	}
	return nil
}

func (ls *localLease) Deadline() time.Time {
	ls.locker.mu.Lock()
	defer ls.locker.mu.Unlock()
	return ls.expires
}

func (ls *localLease) Renew(_ context.Context) error {
	ls.locker.mu.Lock()
	defer ls.locker.mu.Unlock()
	now := ls.locker.now()
	cur, ok := ls.locker.held[ls.name]
	if !ok || cur != ls || !now.Before(ls.expires) {
		return ErrLeaseLost
	}
	ls.expires = now.Add(ls.ttl)
	return nil
}

func (ls *localLease) Release(_ context.Context) error {
	ls.locker.mu.Lock()
	defer ls.locker.mu.Unlock()
	if cur, ok := ls.locker.held[ls.name]; ok && cur == ls {
		delete(ls.locker.held, ls.name)
	}
	return nil
}

// KeepAlive renews l every third of its remaining time until the returned
// stop func is called. The returned context is cancelled with cause
// ErrLeaseLost once a renewal is refused or the deadline passes without a
// successful renewal, so writes bound to it cannot outlive the lease.
func KeepAlive(parent context.Context, l Lease) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	stop := func() { cancel(context.Canceled) }

	interval := time.Until(l.Deadline()) / 3
	if interval <= 0 {
		cancel(ErrLeaseLost)
		return ctx, stop
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			expiry := time.NewTimer(time.Until(l.Deadline()))
			select {
			case <-ctx.Done():
				expiry.Stop()
				return
			case <-expiry.C:
				cancel(ErrLeaseLost)
				return
			case <-ticker.C:
				expiry.Stop()
				// Transient errors are retried on the next tick; the expiry
				// timer still bounds the lease.
				if err := l.Renew(ctx); errors.Is(err, ErrLeaseLost) {
					cancel(ErrLeaseLost)
					return
				}
			}
		}
	}()
	return ctx, stop
}

// Lost reports whether ctx, as returned by KeepAlive, ended because the lease
// was lost.
func Lost(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrLeaseLost)
}
