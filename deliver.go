// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"sync/atomic"
)

// authorizeForward applies the duplicate filter, when dedupe is set, and then
// the forward authorization hooks. The duplicate counter is recorded even
// when the hooks then refuse the envelope.
func (cl *Client) authorizeForward(env Envelope, dedupe bool) (Envelope, bool) {
	if dedupe && !cl.duplicates.ShouldForward(env) {
		atomic.AddInt64(&cl.server.Info.DuplicatesSuppressed, 1)
		return env, false
	}

	fwd, ok := cl.ops.hooks.OnAuthorizeForward(cl, env)
	if !ok {
		atomic.AddInt64(&cl.server.Info.ForwardsVetoed, 1)
	}
	return fwd, ok
}

// deliverQos0 writes env to the client at qos 0. The write is posted to the
// loop rather than made inline so that fan-out never recurses per recipient.
func (cl *Client) deliverQos0(env Envelope, done func(error)) {
	fwd, ok := cl.authorizeForward(env, true)
	if !ok {
		cl.post(func() { callback(done, nil) })
		return
	}

	cl.post(func() {
		if cl.hold(fwd, true, done) {
			return
		}

		out := fwd.withQos(0)
		out.MessageID = 0
		cl.WritePacket(out.Packet(), done)
	})
}

// deliverQosN writes env to the client at the lower of its qos and the qos
// the client subscribed with. For a persistent session the delivery is
// recorded in storage before it is written, unless the message is retained.
func (cl *Client) deliverQosN(env Envelope, done func(error)) {
	if env.Qos == 0 {
		cl.deliver0(env, done)
		return
	}

	cl.forwardQos(env, true, done)
}

// redeliverQos resends a message queued in storage for the session. Queued
// messages were accepted by the filter when first delivered, so it is not
// applied again.
func (cl *Client) redeliverQos(env Envelope, done func(error)) {
	if env.Qos == 0 {
		cl.deliver0(env, done)
		return
	}

	cl.forwardQos(env, false, done)
}

func (cl *Client) forwardQos(env Envelope, dedupe bool, done func(error)) {
	fwd, ok := cl.authorizeForward(env, dedupe)
	if !ok {
		// only a delivery which was given a packet id can be found again;
		// an unassigned queued message stays for the next session.
		if !cl.Properties.Clean && cl.ID != "" && env.MessageID > 0 {
			cl.server.persist.run(cl, OutgoingClearMessageID, "outgoing clear", func() error {
				return cl.ops.hooks.OutgoingClearMessageID(cl.ID, env.MessageID)
			}, func(err error) {
				callback(done, err)
			})
			return
		}

		cl.post(func() { callback(done, nil) })
		return
	}

	cl.post(func() {
		if !cl.hold(fwd, false, done) {
			cl.sendQos(fwd, done)
		}
	})
}

// sendQos writes an authorized envelope at the qos granted to the client.
func (cl *Client) sendQos(fwd Envelope, done func(error)) {
	qos := cl.grantedQos(fwd)
	if qos == 0 {
		out := fwd.withQos(0)
		out.MessageID = 0
		cl.WritePacket(out.Packet(), done)
		return
	}

	q, err := newQosPacket(cl, fwd.withQos(qos), done)
	if err != nil {
		cl.ops.hooks.OnQosDropped(cl, fwd.Packet())
		callback(done, err)
		return
	}

	cl.Inflight.Set(q)
	atomic.AddInt64(&cl.server.Info.Inflight, 1)

	if cl.Properties.Clean || q.Retain {
		cl.writeQos(q)
		return
	}

	sm := q.StorageMessage()
	cl.server.persist.run(cl, OutgoingUpdate, "outgoing update", func() error {
		return cl.ops.hooks.OutgoingUpdate(cl.ID, sm)
	}, func(err error) {
		if err != nil {
			cl.failQos(q, err)
			cl.onError(err)
			return
		}

		_ = q.transition(DeliveryPersisted)
		cl.writeQos(q)
	})
}

// heldDelivery is an authorized envelope waiting for the session to connect.
type heldDelivery struct {
	env  Envelope
	qos0 bool
	done func(error)
}

// hold keeps an authorized envelope which reached the session before its
// CONNACK was sent, returning false if the session is already connected.
func (cl *Client) hold(fwd Envelope, qos0 bool, done func(error)) bool {
	if cl.State() != StateAwaitingConnect {
		return false
	}

	cl.held = append(cl.held, heldDelivery{env: fwd, qos0: qos0, done: done})
	return true
}

// flushHeld writes the deliveries held while the session was connecting.
func (cl *Client) flushHeld() {
	held := cl.held
	cl.held = nil
	for _, d := range held {
		if d.qos0 {
			out := d.env.withQos(0)
			out.MessageID = 0
			cl.WritePacket(out.Packet(), d.done)
			continue
		}
		cl.sendQos(d.env, d.done)
	}
}

// dropHeld abandons the held deliveries of a session which closed before it
// connected. Those above qos 0 are queued for a persistent session.
func (cl *Client) dropHeld() {
	held := cl.held
	cl.held = nil
	for _, d := range held {
		if !d.qos0 && !cl.Properties.Clean && cl.ID != "" {
			if qos := cl.grantedQos(d.env); qos > 0 {
				id, m := cl.ID, d.env.withQos(qos).withMessageID(0).StorageMessage()
				cl.server.persist.background(OutgoingEnqueue, id, "outgoing enqueue", func() error {
					return cl.ops.hooks.OutgoingEnqueue(id, m)
				})
			}
		}
		callback(d.done, nil)
	}
}

// grantedQos returns the qos env should be written at: never above the qos
// of the client's subscription. An exact filter match wins; otherwise the
// highest qos among matching filters is used.
func (cl *Client) grantedQos(env Envelope) byte {
	if sub, ok := cl.Subscriptions.Get(env.Topic); ok {
		return minQos(env.Qos, sub.Qos)
	}

	var granted byte
	var matched bool
	for filter, sub := range cl.Subscriptions.GetAll() {
		if MatchFilter(filter, env.Topic) {
			matched = true
			if sub.Qos > granted {
				granted = sub.Qos
			}
		}
	}

	if !matched {
		return env.Qos
	}

	return minQos(env.Qos, granted)
}

// writeQos writes a qos 1 or 2 publish and completes the delivery once the
// write has been issued.
func (cl *Client) writeQos(q *QosPacket) {
	pk := q.Packet()
	cl.ops.hooks.OnQosPublish(cl, pk)
	cl.WritePacket(pk, func(err error) {
		if err != nil {
			cl.failQos(q, err)
			return
		}

		_ = q.transition(DeliveryWritten)
		callback(q.done, nil)
	})
}

// failQos abandons an inflight delivery.
func (cl *Client) failQos(q *QosPacket, err error) {
	_ = q.transition(DeliveryFailed)
	if cl.Inflight.Delete(q.MessageID) {
		atomic.AddInt64(&cl.server.Info.Inflight, -1)
	}
	cl.ops.hooks.OnQosDropped(cl, q.Packet())
	callback(q.done, err)
}

// completeQos finishes an acknowledged delivery and removes it from storage.
func (cl *Client) completeQos(id uint16) {
	q, ok := cl.Inflight.Get(id)
	if !ok {
		return
	}

	_ = q.transition(DeliveryComplete)
	if cl.Inflight.Delete(id) {
		atomic.AddInt64(&cl.server.Info.Inflight, -1)
	}
	cl.ops.hooks.OnQosComplete(cl, q.Packet())

	if !cl.Properties.Clean {
		cl.server.persist.background(OutgoingClearMessageID, cl.ID, "outgoing clear", func() error {
			return cl.ops.hooks.OutgoingClearMessageID(cl.ID, id)
		})
	}
}

// minQos returns the lower of two qos values.
func minQos(a, b byte) byte {
	if a < b {
		return a
	}
	return b
}
