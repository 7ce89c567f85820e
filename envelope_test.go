// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/session/packets"
)

func TestNewEnvelopeStampsBroker(t *testing.T) {
	s := newServer(t, &Options{BrokerID: "b1"})
	payload := []byte("hello")

	a := s.newEnvelope(Message{Topic: "a/b", Payload: payload, Qos: 1, Retain: true}, "c1")
	b := s.newEnvelope(Message{Topic: "a/b"}, "")

	require.Equal(t, "b1", a.BrokerID)
	require.Equal(t, "c1", a.Origin)
	require.Equal(t, a.BrokerCounter+1, b.BrokerCounter)
	require.NotZero(t, a.Created)
	require.Equal(t, byte(1), a.Qos)
	require.True(t, a.Retain)
	require.Zero(t, a.MessageID)

	payload[0] = 'j'
	require.Equal(t, []byte("hello"), a.Payload)
}

func TestNewEnvelopeKeepsRelayedBroker(t *testing.T) {
	s := newServer(t, &Options{BrokerID: "b1"})
	env := s.newEnvelope(Message{Topic: "a/b", BrokerID: "b2", BrokerCounter: 40}, "")

	require.Equal(t, "b2", env.BrokerID)
	require.Equal(t, uint64(40), env.BrokerCounter)
	require.Equal(t, "b2:40", env.Key())
}

func TestEnvelopeDerivedCopies(t *testing.T) {
	env := Envelope{Topic: "a", Qos: 2}

	require.Equal(t, byte(1), env.withQos(1).Qos)
	require.True(t, env.withRetain(true).Retain)
	require.Equal(t, uint16(7), env.withMessageID(7).MessageID)

	require.Equal(t, byte(2), env.Qos)
	require.False(t, env.Retain)
	require.Zero(t, env.MessageID)
}

func TestEnvelopePacket(t *testing.T) {
	env := Envelope{
		Topic:     "a/b",
		Payload:   []byte("x"),
		Origin:    "c1",
		Qos:       1,
		Retain:    true,
		Dup:       true,
		MessageID: 9,
	}

	pk := env.Packet()
	require.Equal(t, packets.Publish, pk.FixedHeader.Type)
	require.Equal(t, byte(1), pk.FixedHeader.Qos)
	require.True(t, pk.FixedHeader.Retain)
	require.True(t, pk.FixedHeader.Dup)
	require.Equal(t, "a/b", pk.TopicName)
	require.Equal(t, uint16(9), pk.PacketID)
	require.Equal(t, "c1", pk.Origin)
}

func TestEnvelopeStorageRoundTrip(t *testing.T) {
	env := Envelope{
		Topic:         "a/b",
		Payload:       []byte("x"),
		Origin:        "c1",
		BrokerID:      "b1",
		BrokerCounter: 3,
		Created:       12345,
		MessageID:     9,
		Qos:           2,
		Retain:        true,
	}

	m := env.StorageMessage()
	require.Equal(t, "b1:3", m.ID)
	require.Equal(t, uint16(9), m.PacketID)
	require.Equal(t, env, envelopeFromStorage(m))
}

func TestMessageFromPacket(t *testing.T) {
	pk := publishPacket("a/b", "x", 1, 4)
	pk.FixedHeader.Retain = true

	m := messageFromPacket(pk)
	require.Equal(t, Message{Topic: "a/b", Payload: []byte("x"), Qos: 1, Retain: true}, m)
}
