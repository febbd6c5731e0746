// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pool provides a generation-checked arena allocator.
//
// Search trees allocate and release millions of short-lived nodes per
// planning call. Arena keeps released slots on a free list for O(1)
// reuse and hands out Handles instead of pointers. Every slot carries a
// generation counter that is bumped on release, so a Handle that
// outlives its allocation fails lookup with ErrStaleHandle instead of
// silently aliasing whatever reused the slot.
//
// Slots are stored in fixed-size chunks. Growing the arena never moves
// existing slots, so a pointer returned by Get stays valid until the
// slot is freed.
package pool

import (
	"errors"
	"fmt"
)

const defaultChunkSize = 1024

var (
	// ErrStaleHandle is returned when a Handle does not refer to a live slot.
	ErrStaleHandle = errors.New("pool: stale or invalid handle")

	// ErrExhausted is returned when the arena has reached its slot limit.
	ErrExhausted = errors.New("pool: arena exhausted")
)

// Handle identifies one allocation in an Arena.
//
// The zero Handle is never issued and is always invalid.
type Handle struct {
	index uint32
	gen   uint32
}

// Valid reports whether h could refer to an allocation. It does not
// check liveness; use Arena.Get for that.
func (h Handle) Valid() bool {
	return h.gen != 0
}

// String implements fmt.Stringer.
func (h Handle) String() string {
	if !h.Valid() {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%d@%d)", h.index, h.gen)
}

type slot[T any] struct {
	val  T
	gen  uint32
	used bool
}

// Arena is a free-list allocator for values of type T.
//
// Thread Safety: Not safe for concurrent use.
type Arena[T any] struct {
	chunks    [][]slot[T]
	chunkSize int
	limit     int
	free      []uint32
	next      uint32
	live      int
	reset     func(*T)
}

// Option configures an Arena.
type Option[T any] func(*Arena[T])

// WithChunkSize sets how many slots are added each time the arena grows.
func WithChunkSize[T any](n int) Option[T] {
	return func(a *Arena[T]) {
		if n > 0 {
			a.chunkSize = n
		}
	}
}

// WithLimit caps the number of slots the arena will ever create.
// Zero means unlimited.
func WithLimit[T any](n int) Option[T] {
	return func(a *Arena[T]) {
		a.limit = n
	}
}

// WithReset installs a hook that clears a value when its slot is freed.
//
// The default hook assigns the zero value. A custom hook can keep slice
// capacity around for the next allocation.
func WithReset[T any](fn func(*T)) Option[T] {
	return func(a *Arena[T]) {
		a.reset = fn
	}
}

// New creates an empty arena.
func New[T any](opts ...Option[T]) *Arena[T] {
	a := &Arena[T]{chunkSize: defaultChunkSize}
	for _, opt := range opts {
		opt(a)
	}
	if a.reset == nil {
		a.reset = func(v *T) {
			var zero T
			*v = zero
		}
	}
	return a
}

// Alloc reserves a slot and returns its handle and a pointer to its value.
// A reused slot has already been cleared by the reset hook.
//
// Outputs:
//   - Handle: Identifies the allocation until Free.
//   - *T: Stable pointer to the value, valid until Free.
//   - error: ErrExhausted when the slot limit is reached.
func (a *Arena[T]) Alloc() (Handle, *T, error) {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		if a.limit > 0 && int(a.next) >= a.limit {
			return Handle{}, nil, ErrExhausted
		}
		idx = a.next
		a.next++
		if int(idx)/a.chunkSize >= len(a.chunks) {
			a.chunks = append(a.chunks, make([]slot[T], a.chunkSize))
		}
	}

	s := a.slot(idx)
	s.used = true
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	a.live++
	return Handle{index: idx, gen: s.gen}, &s.val, nil
}

// Get returns the value for h, or ErrStaleHandle if h is not live.
func (a *Arena[T]) Get(h Handle) (*T, error) {
	s, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	return &s.val, nil
}

// MustGet is Get for callers that treat a stale handle as a programming
// error. It panics with an error wrapping ErrStaleHandle.
func (a *Arena[T]) MustGet(h Handle) *T {
	v, err := a.Get(h)
	if err != nil {
		panic(fmt.Errorf("lookup %s: %w", h, err))
	}
	return v
}

// Free releases the slot for h. Freeing the same handle twice returns
// ErrStaleHandle and leaves the arena untouched.
func (a *Arena[T]) Free(h Handle) error {
	s, err := a.lookup(h)
	if err != nil {
		return fmt.Errorf("free %s: %w", h, err)
	}
	a.reset(&s.val)
	s.used = false
	s.gen++
	a.free = append(a.free, h.index)
	a.live--
	return nil
}

// Live returns the number of outstanding allocations.
func (a *Arena[T]) Live() int {
	return a.live
}

// Cap returns the number of slots created so far.
func (a *Arena[T]) Cap() int {
	return int(a.next)
}

func (a *Arena[T]) slot(idx uint32) *slot[T] {
	return &a.chunks[int(idx)/a.chunkSize][int(idx)%a.chunkSize]
}

func (a *Arena[T]) lookup(h Handle) (*slot[T], error) {
	if !h.Valid() || h.index >= a.next {
		return nil, ErrStaleHandle
	}
	s := a.slot(h.index)
	if !s.used || s.gen != h.gen {
		return nil, ErrStaleHandle
	}
	return s, nil
}
