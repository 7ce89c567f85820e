// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/session/packets"
)

func TestDeliveryStateString(t *testing.T) {
	require.Equal(t, "pending", DeliveryPending.String())
	require.Equal(t, "persisted", DeliveryPersisted.String())
	require.Equal(t, "written", DeliveryWritten.String())
	require.Equal(t, "released", DeliveryReleased.String())
	require.Equal(t, "complete", DeliveryComplete.String())
	require.Equal(t, "failed", DeliveryFailed.String())
}

func TestNewQosPacket(t *testing.T) {
	s := newServer(t, nil)
	cl := newClient(nil, s, "t1")

	q, err := newQosPacket(cl, Envelope{Topic: "a", Qos: 1}, nil)
	require.NoError(t, err)
	require.NotZero(t, q.MessageID)
	require.Equal(t, DeliveryPending, q.State())
	require.Equal(t, q.MessageID, q.Packet().PacketID)
}

func TestQosPacketTransitions(t *testing.T) {
	tt := []struct {
		desc string
		path []DeliveryState
		ok   bool
	}{
		{"qos 1 persisted", []DeliveryState{DeliveryPersisted, DeliveryWritten, DeliveryComplete}, true},
		{"qos 2", []DeliveryState{DeliveryWritten, DeliveryReleased, DeliveryComplete}, true},
		{"qos 2 pubrec resent", []DeliveryState{DeliveryWritten, DeliveryReleased, DeliveryReleased, DeliveryComplete}, true},
		{"ack before written", []DeliveryState{DeliveryComplete}, true},
		{"pubrec before written", []DeliveryState{DeliveryPersisted, DeliveryReleased}, true},
		{"failed", []DeliveryState{DeliveryWritten, DeliveryFailed}, true},
		{"complete is final", []DeliveryState{DeliveryComplete, DeliveryWritten}, false},
		{"failed is final", []DeliveryState{DeliveryFailed, DeliveryComplete}, false},
		{"never back to pending", []DeliveryState{DeliveryWritten, DeliveryPending}, false},
		{"released not rewritten", []DeliveryState{DeliveryReleased, DeliveryWritten}, false},
	}

	for _, tx := range tt {
		t.Run(tx.desc, func(t *testing.T) {
			q := &QosPacket{state: DeliveryPending}
			var err error
			for _, to := range tx.path {
				if err = q.transition(to); err != nil {
					break
				}
			}

			if tx.ok {
				require.NoError(t, err)
				require.Equal(t, tx.path[len(tx.path)-1], q.State())
				return
			}

			require.ErrorIs(t, err, ErrIllegalTransition)
		})
	}
}

func TestQosPacketPubrel(t *testing.T) {
	q := &QosPacket{Envelope: Envelope{MessageID: 12}}
	pk := q.pubrel()
	require.Equal(t, packets.Pubrel, pk.FixedHeader.Type)
	require.Equal(t, byte(1), pk.FixedHeader.Qos)
	require.Equal(t, uint16(12), pk.PacketID)
}
