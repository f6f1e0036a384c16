package locks

import (
	"context"
	"sync"
)

type localKey struct {
	lockType LockType
	key      int32
}

// Local is an in-process Locker. Two ids sharing a derived key share a lock,
// matching the advisory lock behaviour.
type Local struct {
	mu    sync.Mutex
	slots map[localKey]chan struct{}
}

// NewLocal returns an empty in-process locker.
func NewLocal() *Local { return &Local{slots: make(map[localKey]chan struct{})} }

func (l *Local) slot(lockType LockType, id string) (chan struct{}, error) {
	key, err := Key(id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := localKey{lockType: lockType, key: key}
	ch, ok := l.slots[k]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[k] = ch
	}
	return ch, nil
}

func releaser(ch chan struct{}) Release {
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }
}

// Lock implements Locker.
func (l *Local) Lock(ctx context.Context, lockType LockType, id string) (Release, error) {
	ch, err := l.slot(lockType, id)
	if err != nil {
		return nil, err
	}
	select {
	case ch <- struct{}{}:
		return releaser(ch), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock implements Locker.
func (l *Local) TryLock(_ context.Context, lockType LockType, id string) (Release, bool, error) {
	ch, err := l.slot(lockType, id)
	if err != nil {
		return nil, false, err
	}
	select {
	case ch <- struct{}{}:
		return releaser(ch), true, nil
	default:
		return nil, false, nil
	}
}
