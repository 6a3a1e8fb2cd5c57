// Package xtask provides the two background-work primitives the
// protocol layer runs on: TaskManager, a registered-callback ticker
// for delayed/periodic housekeeping, and JobManager, a bounded worker
// pool for one-shot async operations (spec §4.5).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package xtask

import (
	"container/heap"
	"sync"
	"time"
)

// TaskFunc runs once at its scheduled time. A non-zero returned
// duration reschedules it that far in the future again; zero or
// negative retires the task.
type TaskFunc func() time.Duration

type task struct {
	name    string
	fn      TaskFunc
	when    time.Time
	index   int
	retired bool
}

// TaskManager is a single goroutine driving a min-heap of scheduled
// tasks, the same registered-callback idiom as the teacher's
// housekeeper: callers Register a name once and the manager owns
// rescheduling from then on, rather than the caller re-arming a timer
// itself.
type TaskManager struct {
	mu      sync.Mutex
	byName  map[string]*task
	heap    taskHeap
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

func NewTaskManager() *TaskManager {
	return &TaskManager{
		byName: make(map[string]*task),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Register schedules fn to run after delay, then again after whatever
// delay it returns, until it returns <= 0. Re-registering an existing
// name replaces it.
func (m *TaskManager) Register(name string, delay time.Duration, fn TaskFunc) {
	t := &task{name: name, fn: fn, when: time.Now().Add(delay)}
	m.mu.Lock()
	if old, ok := m.byName[name]; ok {
		old.retired = true
		if old.index >= 0 {
			heap.Remove(&m.heap, old.index)
		}
	}
	m.byName[name] = t
	heap.Push(&m.heap, t)
	m.mu.Unlock()
	m.poke()
}

func (m *TaskManager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byName[name]
	if !ok {
		return
	}
	t.retired = true
	delete(m.byName, name)
	if t.index >= 0 {
		heap.Remove(&m.heap, t.index)
	}
}

func (m *TaskManager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run drives the heap until Stop is called; intended to run in its own
// goroutine for the lifetime of the owning Stream/PostMaster.
func (m *TaskManager) Run() {
	defer close(m.doneCh)
	for {
		m.mu.Lock()
		m.started = true
		var d time.Duration
		if len(m.heap) == 0 {
			d = time.Hour
		} else {
			d = time.Until(m.heap[0].when)
			if d < 0 {
				d = 0
			}
		}
		m.mu.Unlock()

		timer := time.NewTimer(d)
		select {
		case <-timer.C:
			m.fireDue()
		case <-m.wake:
			timer.Stop()
		case <-m.stopCh:
			timer.Stop()
			return
		}
	}
}

func (m *TaskManager) fireDue() {
	now := time.Now()
	for {
		m.mu.Lock()
		if len(m.heap) == 0 || m.heap[0].when.After(now) {
			m.mu.Unlock()
			return
		}
		t := heap.Pop(&m.heap).(*task)
		m.mu.Unlock()

		if t.retired {
			continue
		}
		next := t.fn()
		if next <= 0 {
			m.mu.Lock()
			delete(m.byName, t.name)
			m.mu.Unlock()
			continue
		}
		t.when = time.Now().Add(next)
		t.retired = false
		m.mu.Lock()
		heap.Push(&m.heap, t)
		m.mu.Unlock()
	}
}

func (m *TaskManager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *TaskManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.heap)
}

type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
