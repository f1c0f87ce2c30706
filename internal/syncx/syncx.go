// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package syncx contains generic synchronization primitives.
package syncx

import "sync"

// Protected holds a value of type T guarded by a mutex. The zero value holds
// the zero T and is ready to use.
type Protected[T any] struct {
	mu  sync.RWMutex
	val T
}

// Protect returns a Protected holding val.
func Protect[T any](val T) *Protected[T] { return &Protected[T]{val: val} }

// Load returns the held value.
func (p *Protected[T]) Load() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.val
}

// Swap replaces the held value and returns the previous one.
func (p *Protected[T]) Swap(val T) (old T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, p.val = p.val, val
	return old
}

// Update calls f with a pointer to the held value under the write lock.
// The pointer must not be retained after f returns.
func (p *Protected[T]) Update(f func(*T)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(&p.val)
}

// Lazy is a value computed on first use.
type Lazy[T any] struct {
	once sync.Once
	val  T
}

// Get returns the value, calling f to compute it on the first call.
func (l *Lazy[T]) Get(f func() T) T {
	l.once.Do(func() { l.val = f() })
	return l.val
}
