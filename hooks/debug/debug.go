// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package debug

import (
	"bytes"
	"log/slog"
	"strings"

	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/packets"
)

// Options contains configuration settings for the debug output.
type Options struct {
	ShowPacketData bool `yaml:"show_packet_data" json:"show_packet_data"` // include decoded packet data (default false)
	ShowPings      bool `yaml:"show_pings" json:"show_pings"`             // show ping requests and responses (default false)
	ShowPasswords  bool `yaml:"show_passwords" json:"show_passwords"`     // show connecting user passwords (default false)
}

// Hook is a debugging hook which logs additional low-level information from the server.
type Hook struct {
	mqtt.HookBase
	config *Options
	Log    *slog.Logger
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "debug"
}

// Provides indicates that this hook provides every event method. Storage
// methods are left to storage hooks.
func (h *Hook) Provides(b byte) bool {
	return !bytes.Contains(mqtt.StorageMethods, []byte{b})
}

// Init is called when the hook is initialized.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqtt.ErrInvalidConfigType
	}

	if o, _ := config.(*Options); o == nil {
		config = new(Options)
	}

	h.config = config.(*Options)

	return nil
}

// SetOpts is called when the hook receives inheritable server parameters.
func (h *Hook) SetOpts(l *slog.Logger, opts *mqtt.HookOptions) {
	h.Log = l
	h.Log.Debug("", "method", "SetOpts")
}

// Stop is called when the hook is stopped.
func (h *Hook) Stop() error {
	h.Log.Debug("", "method", "Stop")
	return nil
}

// OnStarted is called when the server starts.
func (h *Hook) OnStarted() {
	h.Log.Debug("", "method", "OnStarted")
}

// OnStopped is called when the server stops.
func (h *Hook) OnStopped() {
	h.Log.Debug("", "method", "OnStopped")
}

// OnConnect is called when a new client connects.
func (h *Hook) OnConnect(cl *mqtt.Client, pk packets.Packet) error {
	h.Log.Debug("", "method", "OnConnect", "client", cl.ID, "remote", cl.Net.Remote, "listener", cl.Net.Listener)
	return nil
}

// OnSessionEstablished is called when a client has been accepted.
func (h *Hook) OnSessionEstablished(cl *mqtt.Client, pk packets.Packet) {
	h.Log.Debug("", "method", "OnSessionEstablished", "client", cl.ID, "clean", cl.Properties.Clean)
}

// OnDisconnect is called when a session closes.
func (h *Hook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.Log.Debug("", "method", "OnDisconnect", "client", cl.ID, "expire", expire, "error", err)
}

// OnClientError is called when a connected client fails.
func (h *Hook) OnClientError(cl *mqtt.Client, err error) {
	h.Log.Debug("", "method", "OnClientError", "client", cl.ID, "error", err)
}

// OnConnectionError is called when a connection fails before a session is established.
func (h *Hook) OnConnectionError(cl *mqtt.Client, err error) {
	h.Log.Debug("", "method", "OnConnectionError", "remote", cl.Net.Remote, "error", err)
}

// OnPacketRead is called when a new packet is received from a client.
func (h *Hook) OnPacketRead(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if (pk.FixedHeader.Type == packets.Pingresp || pk.FixedHeader.Type == packets.Pingreq) && !h.config.ShowPings {
		return pk, nil
	}

	h.Log.Debug(strings.ToUpper(packets.Names[pk.FixedHeader.Type])+" << "+cl.ID, h.packetMeta(pk)...)
	return pk, nil
}

// OnPacketSent is called when a packet is sent to a client.
func (h *Hook) OnPacketSent(cl *mqtt.Client, pk packets.Packet, b []byte) {
	if (pk.FixedHeader.Type == packets.Pingresp || pk.FixedHeader.Type == packets.Pingreq) && !h.config.ShowPings {
		return
	}

	h.Log.Debug(strings.ToUpper(packets.Names[pk.FixedHeader.Type])+" >> "+cl.ID, h.packetMeta(pk)...)
}

// OnSubscribed is called when a client subscribes to one or more filters.
func (h *Hook) OnSubscribed(cl *mqtt.Client, pk packets.Packet, reasonCodes []byte) {
	h.Log.Debug("", "method", "OnSubscribed", "client", cl.ID, "filters", pk.Filters, "codes", reasonCodes)
}

// OnUnsubscribed is called when a client unsubscribes from one or more filters.
func (h *Hook) OnUnsubscribed(cl *mqtt.Client, pk packets.Packet) {
	h.Log.Debug("", "method", "OnUnsubscribed", "client", cl.ID, "filters", pk.Filters)
}

// OnPublished is called when a client has published a message.
func (h *Hook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	h.Log.Debug("", "method", "OnPublished", "client", cl.ID, "topic", pk.TopicName)
}

// OnPublishDropped is called when a message could not be delivered to a client.
func (h *Hook) OnPublishDropped(cl *mqtt.Client, pk packets.Packet) {
	h.Log.Debug("", "method", "OnPublishDropped", "client", cl.ID, "topic", pk.TopicName)
}

// OnQosPublish is called when a publish packet with Qos > 1 is issued to a subscriber.
func (h *Hook) OnQosPublish(cl *mqtt.Client, pk packets.Packet) {
	h.Log.Debug("", "method", "OnQosPublish", "client", cl.ID, "packet_id", pk.PacketID)
}

// OnQosComplete is called when the Qos flow for a message has been completed.
func (h *Hook) OnQosComplete(cl *mqtt.Client, pk packets.Packet) {
	h.Log.Debug("", "method", "OnQosComplete", "client", cl.ID, "packet_id", pk.PacketID)
}

// OnQosDropped is called the Qos flow for a message expires.
func (h *Hook) OnQosDropped(cl *mqtt.Client, pk packets.Packet) {
	h.Log.Debug("", "method", "OnQosDropped", "client", cl.ID, "packet_id", pk.PacketID)
}

// OnWillSent is called when a will message has been published for a client.
func (h *Hook) OnWillSent(cl *mqtt.Client, pk packets.Packet) {
	h.Log.Debug("", "method", "OnWillSent", "client", cl.ID, "topic", pk.TopicName)
}

// packetMeta adds additional type-specific metadata to the debug logs.
func (h *Hook) packetMeta(pk packets.Packet) []any {
	m := []any{}
	switch pk.FixedHeader.Type {
	case packets.Connect:
		m = append(m,
			"id", pk.Connect.ClientIdentifier,
			"clean", pk.Connect.Clean,
			"keepalive", pk.Connect.Keepalive,
			"version", pk.ProtocolVersion,
			"username", string(pk.Connect.Username))
		if h.config.ShowPasswords {
			m = append(m, "password", string(pk.Connect.Password))
		}
		if pk.Connect.WillFlag {
			m = append(m,
				"will_topic", pk.Connect.WillTopic,
				"will_payload", string(pk.Connect.WillPayload))
		}
	case packets.Publish:
		m = append(m,
			"topic", pk.TopicName,
			"payload", string(pk.Payload),
			"qos", pk.FixedHeader.Qos,
			"id", pk.PacketID)
	case packets.Connack, packets.Disconnect, packets.Puback, packets.Pubrec,
		packets.Pubrel, packets.Pubcomp, packets.Unsuback:
		m = append(m, "id", pk.PacketID)
	case packets.Subscribe, packets.Unsubscribe:
		m = append(m, "id", pk.PacketID, "filters", pk.Filters)
	case packets.Suback:
		m = append(m, "id", pk.PacketID, "codes", pk.ReturnCodes)
	}

	if h.config.ShowPacketData {
		m = append(m, "packet", pk)
	}

	return m
}
