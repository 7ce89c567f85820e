// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: jason@zgwit.com

package listeners

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newUnixSock(t *testing.T) *UnixSock {
	return NewUnixSock(Config{ID: "t1", Address: filepath.Join(t.TempDir(), "mqtt.sock")})
}

func TestNewUnixSock(t *testing.T) {
	l := newUnixSock(t)
	require.Equal(t, "t1", l.ID())
	require.Equal(t, "unix", l.Protocol())
	require.Equal(t, l.address, l.Address())
}

func TestUnixSockInitReplacesStaleSocket(t *testing.T) {
	l := newUnixSock(t)
	require.NoError(t, l.Init(logger))
	l.Close(MockCloser)

	l2 := NewUnixSock(Config{ID: "t2", Address: l.address})
	require.NoError(t, l2.Init(logger))
	l2.Close(MockCloser)
}

func TestUnixSockInitFailure(t *testing.T) {
	l := NewUnixSock(Config{ID: "t1", Address: filepath.Join(t.TempDir(), "missing", "mqtt.sock")})
	require.Error(t, l.Init(logger))
}

func TestUnixSockServe(t *testing.T) {
	l := newUnixSock(t)
	require.NoError(t, l.Init(logger))

	o := make(chan bool)
	established := make(chan string)
	go func() {
		l.Serve(func(id string, c net.Conn) error {
			established <- id
			return c.Close()
		})
		o <- true
	}()

	c, err := net.Dial("unix", l.Address())
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, "t1", <-established)

	var closed bool
	l.Close(func(id string) {
		closed = true
	})
	require.True(t, closed)
	<-o
}
