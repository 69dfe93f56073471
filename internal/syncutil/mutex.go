// Package syncutil provides locking primitives the standard sync package lacks.
package syncutil

import (
	"context"
	"sync"
)

// Mutex is a channel-backed mutex. Unlike sync.Mutex, a waiter can give up
// when its context is cancelled, and TryLock hands back an unlock func so
// the holder cannot release a lock it never took.
type Mutex struct {
	ch chan struct{}
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	m := &Mutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// TryLock acquires the mutex without waiting. ok is false if it is held.
func (m *Mutex) TryLock() (unlock func(), ok bool) {
	select {
	case <-m.ch:
		return m.unlocker(), true
	default:
		return nil, false
	}
}

// LockContext waits for the mutex or for ctx to be done.
func (m *Mutex) LockContext(ctx context.Context) (func(), error) {
	select {
	case <-m.ch:
		return m.unlocker(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Locked reports whether the mutex is currently held.
func (m *Mutex) Locked() bool {
	return len(m.ch) == 0
}

func (m *Mutex) unlocker() func() {
	var once sync.Once
	return func() {
		once.Do(func() { m.ch <- struct{}{} })
	}
}
