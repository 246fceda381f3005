package storage

import (
	"context"
	"sync"
)

// KeyedMutex is an in-process OwnerLocker. Locks are reference counted so
// idle owners do not accumulate.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// LockOwner implements OwnerLocker.
func (k *KeyedMutex) LockOwner(ctx context.Context, ownerID string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[ownerID]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[ownerID] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(ownerID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(ownerID, l)
		})
	}, nil
}

func (k *KeyedMutex) release(ownerID string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, ownerID)
	}
}
