// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: jason@zgwit.com

package listeners

import (
	"net"
	"os"

	"log/slog"
)

// UnixSock serves sessions over a unix domain socket.
type UnixSock struct {
	Net
}

// NewUnixSock returns a listener which binds the socket path given as the
// config address on Init.
func NewUnixSock(config Config) *UnixSock {
	return &UnixSock{
		Net: Net{
			id:      config.ID,
			network: TypeUnix,
			address: config.Address,
		},
	}
}

// Init removes any stale socket file left by a previous process and binds a new one.
func (l *UnixSock) Init(log *slog.Logger) error {
	_ = os.Remove(l.address)
	ln, err := net.Listen("unix", l.address)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	return l.Net.Init(log)
}
