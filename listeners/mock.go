// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"errors"
	"net"
	"sync"

	"log/slog"
)

var (
	// ErrMockListen is returned by Init when ErrListen is set.
	ErrMockListen = errors.New("listen failure")

	// ErrListenerClosed is returned when dialling a listener which has been closed.
	ErrListenerClosed = errors.New("listener closed")
)

// MockEstablisher accepts a connection and returns immediately.
func MockEstablisher(id string, c net.Conn) error {
	return nil
}

// MockCloser ignores the close request.
func MockCloser(id string) {}

// MockListener is an in-memory listener. Dial connects a client over
// net.Pipe, handing the server end to the serving establish callback.
type MockListener struct {
	mu        sync.RWMutex
	id        string        // the id of the listener
	address   string        // the address reported by the listener
	conns     chan net.Conn // server ends of dialled pipes awaiting Serve
	done      chan struct{} // closed when the listener is closed
	once      sync.Once
	serving   bool
	listening bool
	closed    bool
	ErrListen bool // fail Init
}

// NewMockListener returns a new instance of MockListener.
func NewMockListener(id, address string) *MockListener {
	return &MockListener{
		id:      id,
		address: address,
		conns:   make(chan net.Conn),
		done:    make(chan struct{}),
	}
}

// Init marks the listener as listening, or fails if ErrListen is set.
func (l *MockListener) Init(log *slog.Logger) error {
	if l.ErrListen {
		return ErrMockListen
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.listening = true
	return nil
}

// Serve establishes a session for every dialled connection until the listener is closed.
func (l *MockListener) Serve(establish EstablishFn) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.serving = true
	l.mu.Unlock()

	for {
		select {
		case <-l.done:
			return
		case c := <-l.conns:
			go func() {
				_ = establish(l.id, c)
			}()
		}
	}
}

// Dial returns the client end of a new in-memory connection, once the
// serving loop has taken the server end.
func (l *MockListener) Dial() (net.Conn, error) {
	client, server := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.done:
		_ = client.Close()
		_ = server.Close()
		return nil, ErrListenerClosed
	}
}

// ID returns the id of the mock listener.
func (l *MockListener) ID() string {
	return l.id
}

// Address returns the address of the listener.
func (l *MockListener) Address() string {
	return l.address
}

// Protocol returns the protocol of the listener.
func (l *MockListener) Protocol() string {
	return TypeMock
}

// Close stops serving and closes the sessions established by the listener.
func (l *MockListener) Close(closer CloseFn) {
	l.once.Do(func() {
		l.mu.Lock()
		l.serving = false
		l.closed = true
		l.mu.Unlock()
		closer(l.id)
		close(l.done)
	})
}

// IsServing indicates whether the mock listener is serving.
func (l *MockListener) IsServing() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.serving
}

// IsListening indicates whether the mock listener is listening.
func (l *MockListener) IsListening() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listening
}
