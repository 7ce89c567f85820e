// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"time"

	"github.com/mochi-mqtt/session/hooks/storage"
	"github.com/mochi-mqtt/session/packets"
)

// Message is an application message submitted for publication. BrokerID and
// BrokerCounter are kept if set, which happens when a message is relayed from
// another broker.
type Message struct {
	Payload       []byte
	Topic         string
	BrokerID      string
	BrokerCounter uint64
	Qos           byte
	Retain        bool
}

// Envelope wraps a message with its delivery metadata. An envelope is
// treated as immutable once built; deliveries which need a different qos or
// packet id derive a copy.
type Envelope struct {
	Payload       []byte
	Topic         string
	BrokerID      string // the broker the message originated on
	Origin        string // the id of the publishing client, if any
	BrokerCounter uint64 // strictly increasing per broker
	Created       int64  // unix nanoseconds
	MessageID     uint16 // the packet id used for a delivery, 0 until assigned
	Qos           byte
	Retain        bool
	Dup           bool
	Relayed       bool // the message was stamped by another broker
}

// newEnvelope builds an envelope for m, keeping an existing origin broker
// and counter or stamping this server's id and its next counter value. Only
// envelopes stamped by another broker are relayed.
func (s *Server) newEnvelope(m Message, origin string) Envelope {
	env := Envelope{
		Topic:         m.Topic,
		Payload:       append([]byte{}, m.Payload...),
		Qos:           m.Qos,
		Retain:        m.Retain,
		BrokerID:      m.BrokerID,
		BrokerCounter: m.BrokerCounter,
		Origin:        origin,
		Created:       time.Now().UnixNano(),
	}

	env.Relayed = env.BrokerID != "" && env.BrokerID != s.ID
	if env.BrokerID == "" {
		env.BrokerID = s.ID
	}

	if env.BrokerCounter == 0 {
		env.BrokerCounter = s.nextCounter()
	}

	return env
}

// restamp returns a copy of env as a new local message of this server, as
// used when a retained message is replayed to a new subscription.
func (s *Server) restamp(env Envelope) Envelope {
	env.BrokerID = s.ID
	env.BrokerCounter = s.nextCounter()
	env.Relayed = false
	env.MessageID = 0
	return env
}

// withQos returns a copy of the envelope with a different qos.
func (e Envelope) withQos(qos byte) Envelope {
	e.Qos = qos
	return e
}

// withRetain returns a copy of the envelope with a different retain flag.
func (e Envelope) withRetain(retain bool) Envelope {
	e.Retain = retain
	return e
}

// withMessageID returns a copy of the envelope bound to a packet id.
func (e Envelope) withMessageID(id uint16) Envelope {
	e.MessageID = id
	return e
}

// Key returns the persistence correlation key of the envelope.
func (e Envelope) Key() string {
	return storage.CorrelationKey(e.BrokerID, e.BrokerCounter)
}

// Packet returns the publish packet for the envelope.
func (e Envelope) Packet() packets.Packet {
	return packets.Packet{
		FixedHeader: packets.FixedHeader{
			Type:   packets.Publish,
			Qos:    e.Qos,
			Retain: e.Retain,
			Dup:    e.Dup,
		},
		TopicName: e.Topic,
		Payload:   e.Payload,
		PacketID:  e.MessageID,
		Origin:    e.Origin,
		Created:   e.Created / int64(time.Second),
	}
}

// StorageMessage returns the storable form of the envelope.
func (e Envelope) StorageMessage() storage.Message {
	return storage.Message{
		ID:            e.Key(),
		TopicName:     e.Topic,
		Payload:       e.Payload,
		Origin:        e.Origin,
		BrokerID:      e.BrokerID,
		BrokerCounter: e.BrokerCounter,
		Created:       e.Created,
		PacketID:      e.MessageID,
		Qos:           e.Qos,
		Retain:        e.Retain,
	}
}

// envelopeFromStorage rebuilds an envelope from its stored form.
func envelopeFromStorage(m storage.Message) Envelope {
	return Envelope{
		Topic:         m.TopicName,
		Payload:       m.Payload,
		Origin:        m.Origin,
		BrokerID:      m.BrokerID,
		BrokerCounter: m.BrokerCounter,
		Created:       m.Created,
		MessageID:     m.PacketID,
		Qos:           m.Qos,
		Retain:        m.Retain,
	}
}

// messageFromPacket returns the application message carried by a publish packet.
func messageFromPacket(pk packets.Packet) Message {
	return Message{
		Topic:   pk.TopicName,
		Payload: pk.Payload,
		Qos:     pk.FixedHeader.Qos,
		Retain:  pk.FixedHeader.Retain,
	}
}
