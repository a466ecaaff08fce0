/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package registration

import (
	"context"
	"sync"
)

// KeyedMutex is a set of mutexes addressed by string keys.
// A mutex lives only while somebody holds it or waits for it.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem     chan struct{}
	waiters int
}

// NewKeyedMutex creates a new KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock locks the mutex for the key and returns the function that unlocks it.
func (km *KeyedMutex) Lock(key string) (unlock func()) {
	unlock, _ = km.LockContext(context.Background(), key)
	return unlock
}

// LockContext locks the mutex for the key and returns the function that unlocks it.
// If ctx is done before the mutex is acquired, ctx.Err() is returned and the mutex is not held.
func (km *KeyedMutex) LockContext(ctx context.Context, key string) (unlock func(), err error) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		km.locks[key] = l
	}
	l.waiters++
	km.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		km.release(key, l)
		return nil, ctx.Err()
	}
	return func() {
		<-l.sem
		km.release(key, l)
	}, nil
}

func (km *KeyedMutex) release(key string, l *keyedLock) {
	km.mu.Lock()
	l.waiters--
	if l.waiters == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()
}

// Len returns the number of keys that are currently locked or awaited.
func (km *KeyedMutex) Len() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
