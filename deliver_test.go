// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/session/packets"
)

func TestGrantedQos(t *testing.T) {
	s := newServer(t, nil)
	cl := newClient(nil, s, "t1")
	cl.Subscriptions.Add("a/b", packets.Subscription{Filter: "a/b", Qos: 0})
	cl.Subscriptions.Add("a/+", packets.Subscription{Filter: "a/+", Qos: 1})
	cl.Subscriptions.Add("#", packets.Subscription{Filter: "#", Qos: 2})

	// an exact match wins over a wider filter
	require.Equal(t, byte(0), cl.grantedQos(Envelope{Topic: "a/b", Qos: 2}))

	// otherwise the highest matching qos applies
	require.Equal(t, byte(2), cl.grantedQos(Envelope{Topic: "a/c", Qos: 2}))
	require.Equal(t, byte(1), cl.grantedQos(Envelope{Topic: "a/c", Qos: 1}))

	cl.Subscriptions.Delete("#")
	require.Equal(t, byte(1), cl.grantedQos(Envelope{Topic: "a/c", Qos: 2}))

	// without any match the envelope keeps its qos
	require.Equal(t, byte(2), cl.grantedQos(Envelope{Topic: "x", Qos: 2}))
}

func TestMinQos(t *testing.T) {
	require.Equal(t, byte(0), minQos(0, 2))
	require.Equal(t, byte(1), minQos(2, 1))
	require.Equal(t, byte(2), minQos(2, 2))
}

func TestDeliverQosFailsWithoutPacketIDs(t *testing.T) {
	s := newServer(t, &Options{
		Capabilities: &Capabilities{MaximumInflight: 1, MaximumQos: 2},
	})
	cl, tc := connected(t, s, "c1", true)

	first := make(chan error, 1)
	second := make(chan error, 1)
	env := s.newEnvelope(Message{Topic: "a", Qos: 1}, "")
	cl.post(func() {
		cl.deliverQos(env, func(err error) { first <- err })
	})

	tc.readType(packets.Publish)
	require.NoError(t, waitDone(t, first))

	next := s.newEnvelope(Message{Topic: "a", Qos: 1}, "")
	cl.post(func() {
		cl.deliverQos(next, func(err error) { second <- err })
	})
	require.ErrorIs(t, waitDone(t, second), ErrQuotaExceeded)
}

func TestDeliverPersistsBeforeWrite(t *testing.T) {
	h := newStoreHook()
	s := newServer(t, nil, h)
	cl, tc := connected(t, s, "p1", false)

	done := make(chan error, 1)
	env := s.newEnvelope(Message{Topic: "a", Payload: []byte("x"), Qos: 1}, "")
	cl.post(func() {
		cl.deliverQos(env, func(err error) { done <- err })
	})

	pk := tc.readType(packets.Publish)
	require.NoError(t, waitDone(t, done))

	msgs, err := h.OutgoingStream("p1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, pk.PacketID, msgs[0].PacketID)
	require.Equal(t, env.Key(), msgs[0].ID)
}

func TestDeliverRetainedNotPersisted(t *testing.T) {
	h := newStoreHook()
	s := newServer(t, nil, h)
	cl, tc := connected(t, s, "p1", false)

	done := make(chan error, 1)
	env := s.newEnvelope(Message{Topic: "a", Payload: []byte("x"), Qos: 1, Retain: true}, "")
	cl.post(func() {
		cl.deliverQos(env, func(err error) { done <- err })
	})

	pk := tc.readType(packets.Publish)
	require.True(t, pk.FixedHeader.Retain)
	require.NoError(t, waitDone(t, done))

	msgs, err := h.OutgoingStream("p1")
	require.NoError(t, err)
	require.Empty(t, msgs)
}
