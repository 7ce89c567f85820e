// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mochi-mqtt/session/hooks/storage"
	"github.com/mochi-mqtt/session/system"
)

// persistence runs storage hook calls away from the client loops. Calls for
// the same client run in order on one fan pool column, and their results are
// handed back to the client's loop. A circuit breaker stops a failing store
// from being hammered by every session.
type persistence struct {
	hooks   *Hooks
	pool    *FanPool
	breaker *gobreaker.CircuitBreaker
	info    *system.Info
	log     *slog.Logger
}

func newPersistence(hooks *Hooks, opts *Options, info *system.Info, log *slog.Logger) *persistence {
	return &persistence{
		hooks: hooks,
		info:  info,
		log:   log,
		pool:  NewFanPool(uint64(opts.PersistenceWorkers), uint64(opts.PersistenceQueueSize)),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "persistence",
			MaxRequests: 1,
			Timeout:     time.Duration(opts.PersistenceBreakerTimeout) * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(opts.PersistenceBreakerThreshold)
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, storage.ErrNotFound)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				var open int64
				if to != gobreaker.StateClosed {
					open = 1
				}
				atomic.StoreInt64(&info.BreakerOpen, open)
				log.Warn("persistence circuit breaker state changed",
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
}

// execute runs fn through the circuit breaker on the calling goroutine.
func (p *persistence) execute(fn func() error) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		atomic.AddInt64(&p.info.PersistenceFailures, 1)
	}
	return err
}

// enqueue queues fn on the column for key, tracking it as pending until it has run.
func (p *persistence) enqueue(key string, fn func()) bool {
	atomic.AddInt64(&p.info.PersistencePending, 1)
	ok := p.pool.Enqueue(key, func() {
		defer atomic.AddInt64(&p.info.PersistencePending, -1)
		fn()
	})
	if !ok {
		atomic.AddInt64(&p.info.PersistencePending, -1)
	}
	return ok
}

// provides returns true if any storage hook implements method b.
func (p *persistence) provides(b byte) bool {
	return p.hooks.Provides(b)
}

// run executes fn off the loop of cl and then runs cb with its result on
// the loop of cl. Errors reaching cb are persistence session errors. If no
// hook provides method b, cb runs at once with a nil error.
func (p *persistence) run(cl *Client, b byte, op string, fn func() error, cb func(error)) {
	if !p.provides(b) {
		cb(nil)
		return
	}

	ok := p.enqueue(cl.ID, func() {
		err := newSessionError(KindPersistence, op, p.execute(fn))
		cl.post(func() { cb(err) })
	})

	if !ok {
		cl.post(func() { cb(newSessionError(KindPersistence, op, ErrServerShuttingDown)) })
	}
}

// background executes fn off any loop, keyed by key, logging failures.
func (p *persistence) background(b byte, key, op string, fn func() error) {
	if !p.provides(b) {
		return
	}

	p.enqueue(key, func() {
		if err := p.execute(fn); err != nil {
			p.log.Error("persistence failed", "op", op, "key", key, "error", err)
		}
	})
}

// close waits for queued storage calls to finish.
func (p *persistence) close() {
	p.pool.Close()
	p.pool.Wait()
}
