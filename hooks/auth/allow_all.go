// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

import (
	"bytes"

	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/packets"
)

// AllowHook admits every connecting client and grants every publish,
// subscription and forward. It is meant for development brokers only.
type AllowHook struct {
	mqtt.HookBase
}

func (h *AllowHook) ID() string {
	return "allow-all-auth"
}

func (h *AllowHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnAuthorizeForward,
	}, []byte{b})
}

// Init warns that no access control is in force.
func (h *AllowHook) Init(config any) error {
	if config != nil {
		return mqtt.ErrInvalidConfigType
	}

	h.Log.Warn("all clients are allowed to connect, publish and subscribe")
	return nil
}

func (h *AllowHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	return true
}

func (h *AllowHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	return true
}

func (h *AllowHook) OnAuthorizeForward(cl *mqtt.Client, env mqtt.Envelope) (mqtt.Envelope, bool) {
	return env, true
}
