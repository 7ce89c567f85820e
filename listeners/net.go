// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: Jeroen Rinzema

package listeners

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"log/slog"
)

// ErrListenerNotBound indicates a stream listener was served before it had a socket.
var ErrListenerNotBound = errors.New("listener has no bound socket")

// Net accepts stream connections from a net.Listener and hands each one to
// the server as a new session. TCP and UnixSock embed it and only differ in
// how the socket is bound.
type Net struct {
	mu       sync.Mutex
	listener net.Listener // bound socket; nil until Init for TCP and UnixSock
	id       string       // the internal id of the listener
	network  string       // the network name reported as the protocol
	address  string       // the configured address, used until the socket is bound
	log      *slog.Logger
	sessions int64  // the number of connections handed to the server
	end      uint32 // ensure the close methods are only called once
}

// NewNet returns a listener serving sessions from an already bound net.Listener.
func NewNet(id string, listener net.Listener) *Net {
	return &Net{
		id:       id,
		listener: listener,
		network:  listener.Addr().Network(),
		address:  listener.Addr().String(),
	}
}

// ID returns the id of the listener.
func (l *Net) ID() string {
	return l.id
}

// Address returns the bound address of the listener, or the configured
// address if it has not been bound yet.
func (l *Net) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return l.address
}

// Protocol returns the network of the listener.
func (l *Net) Protocol() string {
	return l.network
}

// Init sets the logger. The socket must already be bound.
func (l *Net) Init(log *slog.Logger) error {
	l.log = log
	if l.listener == nil {
		return ErrListenerNotBound
	}
	return nil
}

// Sessions returns the number of connections accepted and handed to the server.
func (l *Net) Sessions() int64 {
	return atomic.LoadInt64(&l.sessions)
}

// Serve accepts connections until the listener is closed, establishing a
// session for each in its own goroutine.
func (l *Net) Serve(establish EstablishFn) {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return
	}

	for {
		if atomic.LoadUint32(&l.end) == 1 {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			return
		}

		if atomic.LoadUint32(&l.end) == 1 {
			_ = conn.Close()
			return
		}

		atomic.AddInt64(&l.sessions, 1)
		go l.establish(establish, conn)
	}
}

// establish runs a session to completion, logging the reason it ended abnormally.
func (l *Net) establish(establish EstablishFn, conn net.Conn) {
	if err := establish(l.id, conn); err != nil && l.log != nil {
		l.log.Warn("session ended", "error", err, "remote", conn.RemoteAddr().String())
	}
}

// Close stops accepting, closes the sessions established by this listener
// and releases the socket.
func (l *Net) Close(closeClients CloseFn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		closeClients(l.id)
	}

	if l.listener != nil {
		_ = l.listener.Close()
	}
}
