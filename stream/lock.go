// Package stream implements the per-endpoint multiplexed, reconnecting
// transport: Stream owns N SubStreams, routes outgoing requests to
// out-queues, tracks in-flight handlers in an in-queue keyed by SID,
// and recovers from partial failure (spec §4.7).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import "sync"

// Lock is the cooperating stream mutex of spec §4.7.1. A plain
// sync.Mutex deadlocks here because a disconnect path run from the
// Poller goroutine must be able to tell "someone else is already
// tearing this sub-stream down" and bail instead of blocking on a
// lock that thread itself will never release until the teardown it's
// waiting on completes.
type Lock struct {
	mu       sync.Mutex
	recurse  sync.Mutex // guards holder/depth
	holder   int64       // goroutine-ish caller tag, 0 = unheld
	depth    int
	closing  map[int]bool // subStream index -> close in progress
	pending  func()        // callback registered by a bailing caller
}

func NewLock() *Lock {
	return &Lock{closing: make(map[int]bool)}
}

// The tag argument gives recursive-lock semantics without runtime
// goroutine ids: callers that want recursion pass the same stable tag
// (e.g. the one nextStreamTag hands each Stream) to Lock/Unlock.

// Lock acquires the mutex unconditionally, recursive for the same tag.
func (l *Lock) Lock(tag int64) {
	l.recurse.Lock()
	if l.holder == tag && l.depth > 0 {
		l.depth++
		l.recurse.Unlock()
		return
	}
	l.recurse.Unlock()

	l.mu.Lock()
	l.recurse.Lock()
	l.holder = tag
	l.depth = 1
	l.recurse.Unlock()
}

func (l *Lock) Unlock(tag int64) {
	l.recurse.Lock()
	defer l.recurse.Unlock()
	if l.holder != tag {
		return
	}
	l.depth--
	if l.depth > 0 {
		return
	}
	l.holder = 0
	cb := l.pending
	l.pending = nil
	l.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// LockSubStream is the cooperating acquire: if subStream is already
// being torn down, it returns immediately with isClosing=true instead
// of blocking, so a caller on the Poller thread can short-circuit
// rather than wait on the very teardown it would otherwise deadlock
// against.
func (l *Lock) LockSubStream(tag int64, subStream int) (isClosing bool) {
	l.recurse.Lock()
	if l.closing[subStream] {
		l.recurse.Unlock()
		return true
	}
	l.recurse.Unlock()
	l.Lock(tag)
	return false
}

// LockCallback registers cb to run once by whichever thread ultimately
// releases the lock. If another caller already has a callback pending,
// this caller bails with isClosing=true rather than stack two
// callbacks or block.
func (l *Lock) LockCallback(cb func()) (isClosing bool) {
	l.recurse.Lock()
	if l.pending != nil {
		l.recurse.Unlock()
		return true
	}
	l.pending = cb
	l.recurse.Unlock()
	return false
}

// AddClosing / RemoveClosing mark a sub-stream index as mid-teardown,
// consulted by LockSubStream.
func (l *Lock) AddClosing(subStream int) {
	l.recurse.Lock()
	l.closing[subStream] = true
	l.recurse.Unlock()
}

func (l *Lock) RemoveClosing(subStream int) {
	l.recurse.Lock()
	delete(l.closing, subStream)
	l.recurse.Unlock()
}
