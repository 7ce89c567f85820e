// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestNewWebsocket(t *testing.T) {
	l := NewWebsocket(basicConfig)
	require.Equal(t, "t1", l.ID())
	require.Equal(t, testAddr, l.Address())
	require.Equal(t, "ws", l.Protocol())
	require.Equal(t, "wss", NewWebsocket(tlsConfig).Protocol())
	require.Equal(t, int64(0), l.Sessions())
}

func TestWebsocketInit(t *testing.T) {
	l := NewWebsocket(basicConfig)
	require.Nil(t, l.listen)
	err := l.Init(logger)
	require.NoError(t, err)
	require.NotNil(t, l.listen)
}

func TestWebsocketServeAndClose(t *testing.T) {
	l := NewWebsocket(basicConfig)
	_ = l.Init(logger)

	o := make(chan bool)
	go func(o chan bool) {
		l.Serve(MockEstablisher)
		o <- true
	}(o)

	time.Sleep(time.Millisecond)

	var closed bool
	l.Close(func(id string) {
		closed = true
	})

	require.True(t, closed)
	<-o
}

func TestWebsocketUpgrade(t *testing.T) {
	l := NewWebsocket(basicConfig)
	_ = l.Init(logger)

	e := make(chan []byte)
	l.establish = func(id string, c net.Conn) error {
		b := make([]byte, 3)
		_, err := io.ReadFull(c, b)
		e <- b
		return err
	}

	s := httptest.NewServer(http.HandlerFunc(l.handler))
	defer s.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	// a packet may span websocket frames
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0xc0}))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0x00, 0xe0}))
	require.Equal(t, []byte{0xc0, 0x00, 0xe0}, <-e)
}

func TestWebsocketRejectsTextFrames(t *testing.T) {
	l := NewWebsocket(basicConfig)
	_ = l.Init(logger)

	e := make(chan error)
	l.establish = func(id string, c net.Conn) error {
		_, err := c.Read(make([]byte, 8))
		e <- err
		return err
	}

	s := httptest.NewServer(http.HandlerFunc(l.handler))
	defer s.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.ErrorIs(t, <-e, ErrInvalidMessage)
}

func TestWebsocketConnWrite(t *testing.T) {
	l := NewWebsocket(basicConfig)
	_ = l.Init(logger)

	l.establish = func(id string, c net.Conn) error {
		if n, err := c.Write([]byte{0xd0, 0x00}); err != nil || n != 2 {
			return io.ErrShortWrite
		}
		return nil
	}

	s := httptest.NewServer(http.HandlerFunc(l.handler))
	defer s.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	op, b, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, op)
	require.Equal(t, []byte{0xd0, 0x00}, b)
}

func TestWebsocketSubprotocolAndSessions(t *testing.T) {
	l := NewWebsocket(basicConfig)
	_ = l.Init(logger)

	done := make(chan struct{})
	l.establish = func(id string, c net.Conn) error {
		close(done)
		return nil
	}

	s := httptest.NewServer(http.HandlerFunc(l.handler))
	defer s.Close()

	d := websocket.Dialer{Subprotocols: []string{"mqtt"}}
	ws, _, err := d.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Equal(t, "mqtt", ws.Subprotocol())

	<-done
	require.Equal(t, int64(1), l.Sessions())

	// the server closes the connection with a close frame when the session ends
	_, _, err = ws.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestWebsocketConnCloseOnce(t *testing.T) {
	l := NewWebsocket(basicConfig)
	_ = l.Init(logger)

	e := make(chan error, 2)
	l.establish = func(id string, c net.Conn) error {
		e <- c.Close()
		e <- c.Close()
		return nil
	}

	s := httptest.NewServer(http.HandlerFunc(l.handler))
	defer s.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, <-e)
	require.NoError(t, <-e)
}
