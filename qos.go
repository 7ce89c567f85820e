// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"fmt"

	"github.com/mochi-mqtt/session/packets"
)

// DeliveryState is the position of an outbound qos 1 or 2 message in its
// acknowledgement flow.
type DeliveryState byte

const (
	DeliveryPending   DeliveryState = iota // created, not yet written
	DeliveryPersisted                      // recorded in storage
	DeliveryWritten                        // publish written, awaiting puback or pubrec
	DeliveryReleased                       // pubrec received and pubrel written, awaiting pubcomp
	DeliveryComplete                       // acknowledged by the client
	DeliveryFailed                         // abandoned
)

var deliveryStateNames = map[DeliveryState]string{
	DeliveryPending:   "pending",
	DeliveryPersisted: "persisted",
	DeliveryWritten:   "written",
	DeliveryReleased:  "released",
	DeliveryComplete:  "complete",
	DeliveryFailed:    "failed",
}

// String returns the name of the state.
func (s DeliveryState) String() string {
	return deliveryStateNames[s]
}

// deliveryTransitions lists the legal moves out of each state. A client may
// acknowledge a publish before the writer has reported it written, so the
// acknowledgement states are reachable from pending and persisted too.
var deliveryTransitions = map[DeliveryState][]DeliveryState{
	DeliveryPending:   {DeliveryPersisted, DeliveryWritten, DeliveryReleased, DeliveryComplete, DeliveryFailed},
	DeliveryPersisted: {DeliveryWritten, DeliveryReleased, DeliveryComplete, DeliveryFailed},
	DeliveryWritten:   {DeliveryComplete, DeliveryReleased, DeliveryWritten, DeliveryFailed},
	DeliveryReleased:  {DeliveryComplete, DeliveryReleased, DeliveryFailed},
}

// QosPacket is an outbound message with qos 1 or 2 bound to the client it is
// delivered to, the packet id it was assigned, and the callback to run once
// the write was issued.
type QosPacket struct {
	Envelope
	client *Client
	done   func(error)
	state  DeliveryState
}

// newQosPacket binds env to cl with a fresh packet id.
func newQosPacket(cl *Client, env Envelope, done func(error)) (*QosPacket, error) {
	id, err := cl.nextMessageID()
	if err != nil {
		return nil, err
	}

	env.MessageID = id
	return &QosPacket{
		Envelope: env,
		client:   cl,
		done:     done,
		state:    DeliveryPending,
	}, nil
}

// State returns the current delivery state.
func (q *QosPacket) State() DeliveryState {
	return q.state
}

// transition moves the packet to a new state if the move is legal.
func (q *QosPacket) transition(to DeliveryState) error {
	for _, s := range deliveryTransitions[q.state] {
		if s == to {
			q.state = to
			return nil
		}
	}

	return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, q.state, to)
}

// Packet returns the publish packet for the delivery.
func (q *QosPacket) Packet() packets.Packet {
	return q.Envelope.Packet()
}

// pubrel returns the release packet for a qos 2 delivery.
func (q *QosPacket) pubrel() packets.Packet {
	return packets.Packet{
		FixedHeader: packets.FixedHeader{
			Type: packets.Pubrel,
			Qos:  1,
		},
		PacketID: q.MessageID,
	}
}
