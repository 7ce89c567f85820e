// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"crypto/tls"
	"net"

	"log/slog"
)

// TCP serves sessions over plain or TLS wrapped TCP.
type TCP struct { // [MQTT-4.2.0-1]
	Net
	config Config
}

// NewTCP returns a TCP listener which binds to the config address on Init.
func NewTCP(config Config) *TCP {
	return &TCP{
		Net: Net{
			id:      config.ID,
			network: TypeTCP,
			address: config.Address,
		},
		config: config,
	}
}

// Init binds the socket, using TLS when the config carries a tls.Config.
func (l *TCP) Init(log *slog.Logger) error {
	var ln net.Listener
	var err error
	if l.config.TLSConfig != nil {
		ln, err = tls.Listen("tcp", l.address, l.config.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", l.address)
	}
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	return l.Net.Init(log)
}
