// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"errors"
	"fmt"
)

var (
	ErrListenerIDExists    = errors.New("listener id already exists")               // a listener with the same id already exists
	ErrConnectionClosed    = errors.New("connection not open")                      // connection is closed
	ErrConnectTimeout      = errors.New("connect packet not received in time")      // no CONNECT within the connect deadline
	ErrKeepaliveTimeout    = errors.New("keepalive timeout")                        // no traffic within the keepalive window
	ErrRejectPacket        = errors.New("packet rejected")                          // a hook rejected an inbound packet
	ErrPendingClientWrites = errors.New("maximum pending client writes exceeded")   // the session mailbox is full
	ErrQuotaExceeded       = errors.New("no free packet identifiers")               // every packet id is in flight
	ErrIllegalTransition   = errors.New("illegal delivery state transition")        // a qos packet was moved to an unreachable state
	ErrInvalidRequest      = errors.New("unsupported subscription request")         // subscribe/unsubscribe called with an unknown shape
	ErrSessionTakenOver    = errors.New("session taken over by a newer connection") // a CONNECT with the same identifier arrived
	ErrServerShuttingDown  = errors.New("server is shutting down")                  // the server is closing all sessions
	ErrStorageUnavailable  = errors.New("persistence circuit breaker is open")      // storage calls are being refused
)

// ErrorKind classifies the failures which end a session.
type ErrorKind byte

const (
	KindUnknown     ErrorKind = iota
	KindProtocol              // malformed or illegal packets
	KindTransport             // the connection failed while reading or writing
	KindTimeout               // connect or keepalive deadline expired
	KindPersistence           // a storage operation failed
)

// String returns a readable name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// SessionError is an error which ended a session, along with its kind and
// the operation which produced it.
type SessionError struct {
	Err  error
	Op   string
	Kind ErrorKind
}

// Error returns the readable form of the error.
func (e *SessionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

func newSessionError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}

	var se *SessionError
	if errors.As(err, &se) {
		return err
	}

	return &SessionError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a session error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
