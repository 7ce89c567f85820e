// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

import (
	"bytes"

	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/packets"
)

// Options contains the configuration/rules data for the auth ledger.
type Options struct {
	Data   []byte
	Ledger *Ledger
}

// Hook is an authentication hook which implements an auth ledger. The ledger
// is consulted when a client connects, when it publishes or subscribes, and
// again when a message is about to be forwarded to it.
type Hook struct {
	mqtt.HookBase
	config *Options
	ledger *Ledger
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "auth-ledger"
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnAuthorizeForward,
	}, []byte{b})
}

// Init configures the hook with the auth ledger to be used for checking.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqtt.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)

	var err error
	if h.config.Ledger != nil {
		h.ledger = h.config.Ledger
	} else if len(h.config.Data) > 0 {
		h.ledger = new(Ledger)
		err = h.ledger.Unmarshal(h.config.Data)
	}
	if err != nil {
		return err
	}

	if h.ledger == nil {
		h.ledger = &Ledger{
			Auth: AuthRules{},
			ACL:  ACLRules{},
		}
	}

	h.Log.Info("loaded auth rules",
		"users", len(h.ledger.Users),
		"authentication", len(h.ledger.Auth),
		"acl", len(h.ledger.ACL))

	return nil
}

// OnConnectAuthenticate returns true if the connecting client has rules which provide access
// in the auth ledger.
func (h *Hook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	id := IdentityOf(cl)
	if id.Username == "" {
		id.Username = string(pk.Connect.Username)
	}

	if n, ok := h.ledger.AuthOk(id, pk.Connect.Password); ok {
		h.Log.Debug("client authenticated", "client", id.Client, "rule", n)
		return true
	}

	h.Log.Info("client failed authentication check",
		"client", id.Client,
		"username", id.Username,
		"remote", id.Remote)

	return false
}

// OnACLCheck returns true if the connecting client has matching read or write access to subscribe
// or publish to a given topic.
func (h *Hook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if _, ok := h.ledger.ACLOk(IdentityOf(cl), topic, write); ok {
		return true
	}

	h.Log.Debug("client failed allowed ACL check",
		"client", cl.ID,
		"username", string(cl.Properties.Username),
		"topic", topic)

	return false
}

// OnAuthorizeForward withholds a message from a client which no longer has
// read access to its topic, such as when the ledger was updated after the
// client subscribed.
func (h *Hook) OnAuthorizeForward(cl *mqtt.Client, env mqtt.Envelope) (mqtt.Envelope, bool) {
	if _, ok := h.ledger.ACLOk(IdentityOf(cl), env.Topic, false); ok {
		return env, true
	}

	h.Log.Debug("message withheld from client",
		"client", cl.ID,
		"topic", env.Topic)

	return env, false
}
