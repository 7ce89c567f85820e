// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrInvalidMessage indicates a websocket frame which was not binary.
var ErrInvalidMessage = errors.New("message type not binary")

// Websocket accepts MQTT sessions over websocket connections, presenting each
// as a stream of packet bytes. A packet may span several binary frames.
type Websocket struct { // [MQTT-4.2.0-1]
	sync.RWMutex
	id        string
	address   string
	config    Config
	listen    *http.Server
	log       *slog.Logger
	establish EstablishFn
	upgrader  *websocket.Upgrader
	sessions  int64  // sessions accepted since the listener started
	end       uint32 // ensure the close methods are only called once
}

// NewWebsocket returns a websocket listener which will bind to config.Address.
func NewWebsocket(config Config) *Websocket {
	return &Websocket{
		id:      config.ID,
		address: config.Address,
		config:  config,
		upgrader: &websocket.Upgrader{
			Subprotocols: []string{"mqtt", "mqttv3.1"},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (l *Websocket) ID() string {
	return l.id
}

func (l *Websocket) Address() string {
	return l.address
}

func (l *Websocket) Protocol() string {
	if l.config.TLSConfig != nil {
		return "wss"
	}

	return "ws"
}

// Sessions returns the number of sessions the listener has accepted.
func (l *Websocket) Sessions() int64 {
	return atomic.LoadInt64(&l.sessions)
}

// Init prepares the http server which upgrades incoming connections.
func (l *Websocket) Init(log *slog.Logger) error {
	l.log = log

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handler)
	l.listen = &http.Server{
		Addr:         l.address,
		Handler:      mux,
		TLSConfig:    l.config.TLSConfig,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return nil
}

// handler upgrades a request and runs the session over it until it ends.
func (l *Websocket) handler(w http.ResponseWriter, r *http.Request) {
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered the request
		return
	}

	conn := &wsConn{Conn: c.UnderlyingConn(), c: c}
	defer conn.Close()

	atomic.AddInt64(&l.sessions, 1)
	if err := l.establish(l.id, conn); err != nil {
		l.log.Warn("session ended", "error", err, "listener", l.id, "remote", r.RemoteAddr)
	}
}

// Serve blocks serving websocket upgrades until the listener is closed.
func (l *Websocket) Serve(establish EstablishFn) {
	l.establish = establish

	var err error
	if l.listen.TLSConfig != nil {
		err = l.listen.ListenAndServeTLS("", "")
	} else {
		err = l.listen.ListenAndServe()
	}

	if err != nil && atomic.LoadUint32(&l.end) == 0 {
		l.log.Error("failed to serve.", "error", err, "listener", l.id)
	}
}

// Close stops accepting upgrades and closes the sessions of the listener.
func (l *Websocket) Close(closeClients CloseFn) {
	l.Lock()
	defer l.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.listen.Shutdown(ctx)
	}

	closeClients(l.id)
}

// wsConn presents the binary frames of a websocket connection as a byte
// stream satisfying net.Conn.
type wsConn struct {
	net.Conn
	c      *websocket.Conn
	r      io.Reader // the frame being read, or nil between frames
	wmu    sync.Mutex
	closed sync.Once
}

// nextFrame moves the reader to the next binary frame.
func (ws *wsConn) nextFrame() error {
	op, r, err := ws.c.NextReader()
	if err != nil {
		return err
	}

	if op != websocket.BinaryMessage {
		return ErrInvalidMessage
	}

	ws.r = r
	return nil
}

// Read fills p from the current frame, stopping early at the end of it.
func (ws *wsConn) Read(p []byte) (int, error) {
	if ws.r == nil {
		if err := ws.nextFrame(); err != nil {
			return 0, err
		}
	}

	n := 0
	for n < len(p) {
		k, err := ws.r.Read(p[n:])
		n += k
		if err == nil {
			continue
		}

		// the rest of a broken frame is dropped along with a finished one
		ws.r = nil
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		return n, err
	}

	return n, nil
}

// Write sends p as a single binary frame.
func (ws *wsConn) Write(p []byte) (int, error) {
	ws.wmu.Lock()
	defer ws.wmu.Unlock()

	if err := ws.c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Close sends a close frame, if the peer is still there, and closes the
// underlying connection.
func (ws *wsConn) Close() error {
	var err error
	ws.closed.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = ws.Conn.Close()
	})
	return err
}
