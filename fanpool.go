// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co, chowyu08, muXxer

package mqtt

import (
	"sync"

	xh "github.com/cespare/xxhash/v2"
)

// FanPool runs tasks on a fixed number of columns, each drained by a single
// goroutine. Tasks enqueued with the same key always land in the same
// column, so the storage calls of one session run in submission order while
// different sessions proceed concurrently.
type FanPool struct {
	mu      sync.RWMutex
	columns []chan func()
	wg      sync.WaitGroup
	closed  bool
}

// NewFanPool returns a pool of n columns, each queueing up to depth tasks
// before Enqueue blocks.
func NewFanPool(n, depth uint64) *FanPool {
	if n == 0 {
		n = 1
	}

	p := &FanPool{
		columns: make([]chan func(), n),
	}

	for i := range p.columns {
		p.columns[i] = make(chan func(), depth)
		p.wg.Add(1)
		go p.drain(p.columns[i])
	}

	return p
}

// drain runs the tasks of one column until it is closed.
func (p *FanPool) drain(column chan func()) {
	defer p.wg.Done()
	for task := range column {
		task()
	}
}

// column returns the index of the column serving key.
func (p *FanPool) column(key string) int {
	return int(xh.Sum64String(key) % uint64(len(p.columns)))
}

// Enqueue adds task to the column for key, blocking while that column is
// full. It returns false if the pool is closed and the task will never run.
func (p *FanPool) Enqueue(key string, task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	p.columns[p.column(key)] <- task
	return true
}

// Size returns the number of columns, or 0 once the pool is closed.
func (p *FanPool) Size() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0
	}
	return uint64(len(p.columns))
}

// Close stops the pool accepting tasks. Tasks already queued still run.
func (p *FanPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	for _, column := range p.columns {
		close(column)
	}
}

// Wait blocks until every column has drained after Close.
func (p *FanPool) Wait() {
	p.wg.Wait()
}
