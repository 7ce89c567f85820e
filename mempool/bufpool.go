// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package mempool pools the buffers packets are encoded into before they are
// handed to a client's writer.
package mempool

import (
	"bytes"
	"sync"
)

// Pool hands out reusable encoding buffers. Buffers which have grown beyond
// max are dropped instead of being returned, so that one large packet does
// not pin its memory for the life of the process. A max of 0 or less keeps
// every buffer.
type Pool struct {
	pool sync.Pool
	max  int
}

// New returns a buffer pool which keeps buffers up to max bytes.
func New(max int) *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
		max: max,
	}
}

// Get takes an empty buffer from the pool.
func (p *Pool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put resets x and returns it to the pool, unless it is nil or over the limit.
func (p *Pool) Put(x *bytes.Buffer) {
	if x == nil || (p.max > 0 && x.Cap() > p.max) {
		return
	}

	x.Reset()
	p.pool.Put(x)
}
