// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"errors"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/mochi-mqtt/session/hooks/storage"
	"github.com/mochi-mqtt/session/packets"
)

// PacketHandler processes the packets and subscription requests of a
// session. Every method runs on the client loop and must eventually call
// done exactly once, on the client loop.
type PacketHandler interface {
	Handle(cl *Client, pk packets.Packet, done func(error))
	Subscribe(cl *Client, req SubscribeRequest, done func(error))
	Unsubscribe(cl *Client, req UnsubscribeRequest, done func(error))
}

// protocolHandler is the default PacketHandler, implementing MQTT 3.1 and
// 3.1.1 on top of the server.
type protocolHandler struct {
	s *Server
}

// Handle processes a packet received from the client.
func (h *protocolHandler) Handle(cl *Client, pk packets.Packet, done func(error)) {
	if cl.State() == StateAwaitingConnect && pk.FixedHeader.Type != packets.Connect {
		done(packets.ErrProtocolViolationRequireFirstConnect) // [MQTT-3.1.0-1]
		return
	}

	switch pk.FixedHeader.Type {
	case packets.Connect:
		h.connect(cl, pk, done)
	case packets.Publish:
		h.publish(cl, pk, done)
	case packets.Puback:
		h.puback(cl, pk, done)
	case packets.Pubrec:
		h.pubrec(cl, pk, done)
	case packets.Pubrel:
		h.pubrel(cl, pk, done)
	case packets.Pubcomp:
		h.puback(cl, pk, done)
	case packets.Subscribe:
		h.subscribePacket(cl, pk, done)
	case packets.Unsubscribe:
		h.unsubscribePacket(cl, pk, done)
	case packets.Pingreq:
		h.pingreq(cl, pk, done)
	case packets.Disconnect:
		h.disconnect(cl, pk, done)
	default:
		done(packets.ErrProtocolViolationUnexpectedPacket)
	}
}

// connack writes a CONNACK with the given code.
func (h *protocolHandler) connack(cl *Client, code packets.Code, present bool, done func(error)) {
	cl.WritePacket(packets.Packet{
		FixedHeader: packets.FixedHeader{
			Type: packets.Connack,
		},
		SessionPresent: present,
		ReturnCode:     code.Code,
	}, done)
}

// refuse answers a CONNECT with a failure code and closes the session once
// the CONNACK has been flushed.
func (h *protocolHandler) refuse(cl *Client, code packets.Code, done func(error)) {
	h.connack(cl, code, false, nil)
	cl.ops.hooks.OnConnectionError(cl, code)
	cl.close(code, nil)
	done(nil)
}

// connect processes a CONNECT packet: the client is identified and
// authenticated, any older session with the same id is taken over, the
// session state is restored or cleared, and the CONNACK is sent.
func (h *protocolHandler) connect(cl *Client, pk packets.Packet, done func(error)) {
	if cl.State() != StateAwaitingConnect {
		done(packets.ErrProtocolViolationSecondConnect) // [MQTT-3.1.0-2]
		return
	}

	code := pk.ConnectValidate()
	switch code {
	case packets.CodeSuccess:
	case packets.ErrUnsupportedProtocolVersion, packets.ErrClientIdentifierNotValid:
		h.refuse(cl, code, done) // [MQTT-3.1.2-2]
		return
	default:
		done(code)
		return
	}

	if atomic.LoadInt64(&h.s.Info.ClientsConnected) >= h.s.Options.Capabilities.MaximumClients {
		h.refuse(cl, packets.ErrServerUnavailable, done)
		return
	}

	cl.Properties.ProtocolVersion = pk.ProtocolVersion
	cl.Properties.Username = pk.Connect.Username
	cl.Properties.Clean = pk.Connect.Clean
	cl.Properties.Keepalive = pk.Connect.Keepalive
	cl.ingest.parser.SetProtocolVersion(pk.ProtocolVersion)

	id := pk.Connect.ClientIdentifier
	if id == "" {
		if !pk.Connect.Clean {
			h.refuse(cl, packets.ErrClientIdentifierNotValid, done) // [MQTT-3.1.3-8]
			return
		}
		id = xid.New().String() // [MQTT-3.1.3-6] [MQTT-3.1.3-7]
	}

	cl.ID = id
	cl.log = cl.log.With("client", id)

	if pk.Connect.WillFlag {
		cl.pendingWill = &Will{
			Topic:   pk.Connect.WillTopic,
			Payload: pk.Connect.WillPayload,
			Qos:     pk.Connect.WillQos,
			Retain:  pk.Connect.WillRetain,
		}
	}

	if err := cl.ops.hooks.OnConnect(cl, pk); err != nil {
		var c packets.Code
		if !errors.As(err, &c) {
			c = packets.ErrServerUnavailable
		}
		h.refuse(cl, c, done)
		return
	}

	if !cl.ops.hooks.OnConnectAuthenticate(cl, pk) { // [MQTT-3.1.4-2]
		h.refuse(cl, packets.ErrBadUsernameOrPassword, done)
		return
	}

	// the will only becomes live once the client is authenticated.
	cl.will, cl.pendingWill = cl.pendingWill, nil

	h.s.takeover(cl, func() {
		if cl.State() != StateAwaitingConnect {
			done(nil)
			return
		}

		h.restore(cl, func(present bool, err error) {
			if err != nil {
				done(err)
				return
			}

			// the session may have been closed while storage was busy.
			if cl.State() != StateAwaitingConnect {
				done(nil)
				return
			}

			h.storeWill(cl, func(err error) {
				if err != nil {
					done(err)
					return
				}

				if cl.State() != StateAwaitingConnect {
					done(nil)
					return
				}

				h.establish(cl, pk, present)
				done(nil)
			})
		})
	})
}

// restore clears the stored state of a clean session, or brings back the
// subscriptions of a persistent one.
func (h *protocolHandler) restore(cl *Client, done func(present bool, err error)) {
	offline := h.s.offline.release(cl.ID)

	if cl.Properties.Clean {
		id := cl.ID
		h.s.persist.run(cl, ClearSession, "clear session", func() error {
			return cl.ops.hooks.ClearSession(id)
		}, func(err error) {
			done(false, err)
		})
		return
	}

	// the released filters go live before storage is read, so that nothing
	// published in between misses the session.
	h.resubscribe(cl, offline)

	var stored []storage.Subscription
	id := cl.ID
	h.s.persist.run(cl, ClientSubscriptions, "client subscriptions", func() error {
		var err error
		stored, err = cl.ops.hooks.ClientSubscriptions(id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}, func(err error) {
		if err != nil {
			done(false, err)
			return
		}

		for _, sub := range stored {
			offline[sub.Filter] = packets.Subscription{Filter: sub.Filter, Qos: sub.Qos}
		}

		if cl.State() == StateAwaitingConnect {
			h.resubscribe(cl, offline)
		}

		done(len(offline) > 0, nil)
	})
}

// resubscribe adds restored subscriptions to the session and the topics index.
func (h *protocolHandler) resubscribe(cl *Client, subs map[string]packets.Subscription) {
	for filter, sub := range subs {
		cl.Subscriptions.Add(filter, sub)
		if h.s.Topics.Subscribe(cl.ID, sub) {
			atomic.AddInt64(&h.s.Info.Subscriptions, 1)
		}
	}
}

// storeWill records the will, so that it survives a broker crash.
func (h *protocolHandler) storeWill(cl *Client, done func(error)) {
	if cl.will == nil {
		done(nil)
		return
	}

	w := storage.Will{
		Client:   cl.ID,
		BrokerID: h.s.ID,
		Topic:    cl.will.Topic,
		Payload:  cl.will.Payload,
		Qos:      cl.will.Qos,
		Retain:   cl.will.Retain,
	}

	h.s.persist.run(cl, PutWill, "put will", func() error {
		return cl.ops.hooks.PutWill(w)
	}, done)
}

// establish sends the CONNACK and moves the session to connected, then
// handles the packets which arrived behind the CONNECT and resends any
// queued messages.
func (h *protocolHandler) establish(cl *Client, pk packets.Packet, present bool) {
	if !cl.setState(StateConnected) {
		return
	}

	cl.ops.hooks.OnSessionEstablished(cl, pk)
	h.connack(cl, packets.CodeSuccess, present, nil) // [MQTT-3.2.0-1]

	if cl.connectTimer != nil {
		cl.connectTimer.Stop()
	}
	cl.armKeepalive()

	n := atomic.AddInt64(&h.s.Info.ClientsConnected, 1)
	if n > atomic.LoadInt64(&h.s.Info.ClientsMaximum) {
		atomic.StoreInt64(&h.s.Info.ClientsMaximum, n)
	}

	cl.log.Debug("client connected", "clean", cl.Properties.Clean, "present", present)
	cl.ingest.onConnected()

	// the stored queue is read before held deliveries are recorded in it.
	if !cl.Properties.Clean {
		h.redeliver(cl)
	}
	cl.flushHeld()
}

// redeliver resends the messages queued for a persistent session.
func (h *protocolHandler) redeliver(cl *Client) {
	var queued []storage.Message
	id := cl.ID
	h.s.persist.run(cl, OutgoingStream, "outgoing stream", func() error {
		var err error
		queued, err = cl.ops.hooks.OutgoingStream(id)
		return err
	}, func(err error) {
		if err != nil {
			cl.onError(err)
			return
		}

		for _, m := range queued {
			env := envelopeFromStorage(m)
			if m.Released {
				h.rerelease(cl, env)
				continue
			}

			env.Dup = m.PacketID > 0 // [MQTT-3.3.1-1]
			cl.redeliverQos(env, nil)
		}
	})
}

// rerelease resends the PUBREL of a qos 2 message whose PUBREC had arrived
// before the session ended.
func (h *protocolHandler) rerelease(cl *Client, env Envelope) {
	q := &QosPacket{
		Envelope: env,
		client:   cl,
		state:    DeliveryReleased,
	}
	cl.Inflight.Set(q)
	atomic.AddInt64(&h.s.Info.Inflight, 1)
	cl.WritePacket(q.pubrel(), nil)
}

// ack writes an acknowledgement packet of type t.
func (h *protocolHandler) ack(cl *Client, t byte, id uint16, done func(error)) {
	pk := packets.Packet{
		FixedHeader: packets.FixedHeader{
			Type: t,
		},
		PacketID: id,
	}
	if t == packets.Pubrel {
		pk.FixedHeader.Qos = 1
	}
	cl.WritePacket(pk, done)
}

// acknowledge answers a publish which was not routed, so that the client
// does not resend it.
func (h *protocolHandler) acknowledge(cl *Client, pk packets.Packet) {
	switch pk.FixedHeader.Qos {
	case 1:
		h.ack(cl, packets.Puback, pk.PacketID, nil)
	case 2:
		h.ack(cl, packets.Pubrec, pk.PacketID, nil)
		cl.incoming[pk.PacketID] = Envelope{} // nothing is published on pubrel
	}
}

// publish processes a PUBLISH packet from the client.
func (h *protocolHandler) publish(cl *Client, pk packets.Packet, done func(error)) {
	if code := pk.PublishValidate(); code != packets.CodeSuccess {
		done(code)
		return
	}

	if pk.FixedHeader.Qos > h.s.Options.Capabilities.MaximumQos {
		done(packets.ErrProtocolViolationQosOutOfRange)
		return
	}

	atomic.AddInt64(&h.s.Info.MessagesReceived, 1)
	pk.Origin = cl.ID

	if !IsValidFilter(pk.TopicName, true) {
		cl.log.Debug("publish to invalid topic dropped", "topic", pk.TopicName)
		h.acknowledge(cl, pk)
		done(nil)
		return
	}

	if cl.limiter != nil && !cl.limiter.Allow() {
		atomic.AddInt64(&h.s.Info.MessagesDropped, 1)
		cl.ops.hooks.OnPublishDropped(cl, pk)
		h.acknowledge(cl, pk)
		done(nil)
		return
	}

	pkx, err := cl.ops.hooks.OnPublish(cl, pk)
	if err != nil {
		h.acknowledge(cl, pk)
		done(nil)
		return
	}

	if !h.s.authorizePublish(cl, pkx.TopicName) {
		h.acknowledge(cl, pk)
		done(nil)
		return
	}

	env := h.s.newEnvelope(messageFromPacket(pkx), cl.ID)
	switch pkx.FixedHeader.Qos {
	case 0:
		h.s.publish(env, cl, func(err error) {
			cl.ops.hooks.OnPublished(cl, pkx)
			done(err)
		})
	case 1:
		h.s.publish(env, cl, func(err error) {
			if err != nil {
				done(err)
				return
			}
			cl.ops.hooks.OnPublished(cl, pkx)
			h.ack(cl, packets.Puback, pkx.PacketID, nil)
			done(nil)
		})
	case 2:
		h.receiveQos2(cl, pkx, env, done)
	}
}

// receiveQos2 stores a qos 2 message until its PUBREL arrives, then sends
// the PUBREC. The message is routed on PUBREL.
func (h *protocolHandler) receiveQos2(cl *Client, pk packets.Packet, env Envelope, done func(error)) {
	env = env.withMessageID(pk.PacketID)
	if cl.Properties.Clean || !h.s.persist.provides(IncomingStore) {
		cl.incoming[pk.PacketID] = env
		h.ack(cl, packets.Pubrec, pk.PacketID, nil)
		done(nil)
		return
	}

	id, sm := cl.ID, env.StorageMessage()
	h.s.persist.run(cl, IncomingStore, "incoming store", func() error {
		return cl.ops.hooks.IncomingStore(id, sm)
	}, func(err error) {
		if err != nil {
			done(err)
			return
		}
		h.ack(cl, packets.Pubrec, pk.PacketID, nil)
		done(nil)
	})
}

// pubrel routes a stored qos 2 message and completes the exchange.
func (h *protocolHandler) pubrel(cl *Client, pk packets.Packet, done func(error)) {
	finish := func(env Envelope, found bool) {
		if !found || env.Topic == "" {
			h.ack(cl, packets.Pubcomp, pk.PacketID, nil) // [MQTT-4.3.3-1]
			done(nil)
			return
		}

		h.s.publish(env, cl, func(err error) {
			if err != nil {
				done(err)
				return
			}
			cl.ops.hooks.OnPublished(cl, env.Packet())
			h.ack(cl, packets.Pubcomp, pk.PacketID, nil)
			done(nil)
		})
	}

	if env, ok := cl.incoming[pk.PacketID]; ok {
		delete(cl.incoming, pk.PacketID)
		finish(env, true)
		return
	}

	var m storage.Message
	id := cl.ID
	h.s.persist.run(cl, IncomingTake, "incoming take", func() error {
		var err error
		m, err = cl.ops.hooks.IncomingTake(id, pk.PacketID)
		if errors.Is(err, storage.ErrNotFound) {
			m = storage.Message{}
			return nil
		}
		return err
	}, func(err error) {
		if err != nil {
			done(err)
			return
		}
		finish(envelopeFromStorage(m), m.TopicName != "")
	})
}

// puback completes a qos 1 delivery on PUBACK, or a qos 2 delivery on PUBCOMP.
func (h *protocolHandler) puback(cl *Client, pk packets.Packet, done func(error)) {
	cl.completeQos(pk.PacketID)
	done(nil)
}

// pubrec records that a qos 2 delivery was received and sends the PUBREL.
func (h *protocolHandler) pubrec(cl *Client, pk packets.Packet, done func(error)) {
	q, ok := cl.Inflight.Get(pk.PacketID)
	if !ok {
		h.ack(cl, packets.Pubrel, pk.PacketID, nil) // [MQTT-4.3.3-1]
		done(nil)
		return
	}

	if err := q.transition(DeliveryReleased); err != nil {
		done(err)
		return
	}

	if cl.Properties.Clean {
		cl.WritePacket(q.pubrel(), nil)
		done(nil)
		return
	}

	sm := q.StorageMessage()
	sm.Released = true
	id := cl.ID
	h.s.persist.run(cl, OutgoingUpdate, "outgoing update", func() error {
		return cl.ops.hooks.OutgoingUpdate(id, sm)
	}, func(err error) {
		if err != nil {
			done(err)
			return
		}
		cl.WritePacket(q.pubrel(), nil)
		done(nil)
	})
}

// subscribePacket processes a SUBSCRIBE packet.
func (h *protocolHandler) subscribePacket(cl *Client, pk packets.Packet, done func(error)) {
	if code := pk.SubscribeValidate(); code != packets.CodeSuccess {
		done(code)
		return
	}

	h.Subscribe(cl, SubscribeRequest{Subscriptions: pk.Filters, PacketID: pk.PacketID}, done)
}

// Subscribe adds subscriptions to the session, answering with a SUBACK if the
// request came from a packet, and then sends any matching retained messages.
func (h *protocolHandler) Subscribe(cl *Client, req SubscribeRequest, done func(error)) {
	pk := cl.ops.hooks.OnSubscribe(cl, packets.Packet{
		FixedHeader: packets.FixedHeader{
			Type: packets.Subscribe,
			Qos:  1,
		},
		PacketID: req.PacketID,
		Filters:  req.Subscriptions,
	})

	codes := make([]byte, len(pk.Filters))
	accepted := make([]packets.Subscription, 0, len(pk.Filters))
	stored := make([]storage.Subscription, 0, len(pk.Filters))
	for i, sub := range pk.Filters {
		if !IsValidFilter(sub.Filter, false) || sub.Qos > 2 || !h.s.authorizeSubscribe(cl, sub.Filter) {
			codes[i] = packets.CodeSubackFail.Code // [MQTT-3.9.3-2]
			continue
		}

		sub.Qos = minQos(sub.Qos, h.s.Options.Capabilities.MaximumQos)
		cl.Subscriptions.Add(sub.Filter, sub)
		if h.s.Topics.Subscribe(cl.ID, sub) {
			atomic.AddInt64(&h.s.Info.Subscriptions, 1)
		}

		codes[i] = sub.Qos // [MQTT-3.9.3-1]
		accepted = append(accepted, sub)
		stored = append(stored, storage.Subscription{
			Client: cl.ID,
			Filter: sub.Filter,
			Qos:    sub.Qos,
		})
	}

	finish := func(err error) {
		if err != nil {
			done(err)
			return
		}

		if req.PacketID > 0 {
			cl.WritePacket(packets.Packet{
				FixedHeader: packets.FixedHeader{
					Type: packets.Suback,
				},
				PacketID:    req.PacketID,
				ReturnCodes: codes,
			}, nil)
		}
		cl.ops.hooks.OnSubscribed(cl, pk, codes)

		for _, sub := range accepted {
			h.sendRetained(cl, sub)
		}

		done(nil)
	}

	if cl.Properties.Clean || len(stored) == 0 {
		finish(nil)
		return
	}

	id := cl.ID
	h.s.persist.run(cl, AddSubscriptions, "add subscriptions", func() error {
		return cl.ops.hooks.AddSubscriptions(id, stored)
	}, finish)
}

// sendRetained delivers the retained messages matching a new subscription.
func (h *protocolHandler) sendRetained(cl *Client, sub packets.Subscription) {
	for _, env := range h.s.Topics.Messages(sub.Filter) {
		env = h.s.restamp(env)
		env.Retain = true // [MQTT-3.3.1-8]
		cl.deliverQos(env, nil)
	}
}

// unsubscribePacket processes an UNSUBSCRIBE packet.
func (h *protocolHandler) unsubscribePacket(cl *Client, pk packets.Packet, done func(error)) {
	if code := pk.UnsubscribeValidate(); code != packets.CodeSuccess {
		done(code)
		return
	}

	h.Unsubscribe(cl, UnsubscribeRequest{Filters: filtersOf(pk.Filters), PacketID: pk.PacketID}, done)
}

// Unsubscribe removes filters from the session. When the session is being
// closed the stored subscriptions are kept and nothing is written.
func (h *protocolHandler) Unsubscribe(cl *Client, req UnsubscribeRequest, done func(error)) {
	pk := packets.Packet{
		FixedHeader: packets.FixedHeader{
			Type: packets.Unsubscribe,
			Qos:  1,
		},
		PacketID: req.PacketID,
		Filters:  make(packets.Subscriptions, len(req.Filters)),
	}
	for i, f := range req.Filters {
		pk.Filters[i] = packets.Subscription{Filter: f}
	}

	if !req.Close {
		pk = cl.ops.hooks.OnUnsubscribe(cl, pk)
	}

	filters := filtersOf(pk.Filters)
	for _, filter := range filters {
		cl.Subscriptions.Delete(filter)
		if h.s.Topics.Unsubscribe(filter, cl.ID) {
			atomic.AddInt64(&h.s.Info.Subscriptions, -1)
		}
	}

	if req.Close {
		done(nil)
		return
	}

	finish := func(err error) {
		if err != nil {
			done(err)
			return
		}

		if req.PacketID > 0 {
			h.ack(cl, packets.Unsuback, req.PacketID, nil) // [MQTT-3.10.4-4]
		}
		cl.ops.hooks.OnUnsubscribed(cl, pk)
		done(nil)
	}

	if cl.Properties.Clean {
		finish(nil)
		return
	}

	id := cl.ID
	h.s.persist.run(cl, RemoveSubscriptions, "remove subscriptions", func() error {
		return cl.ops.hooks.RemoveSubscriptions(id, filters)
	}, finish)
}

// pingreq answers a PINGREQ.
func (h *protocolHandler) pingreq(cl *Client, _ packets.Packet, done func(error)) {
	cl.WritePacket(packets.Packet{
		FixedHeader: packets.FixedHeader{
			Type: packets.Pingresp,
		},
	}, nil) // [MQTT-3.12.4-1]
	cl.ops.hooks.OnPing(cl)
	done(nil)
}

// disconnect processes a DISCONNECT: the will is discarded and the session
// closed.
func (h *protocolHandler) disconnect(cl *Client, _ packets.Packet, done func(error)) {
	cl.cleanDisconnect = true // [MQTT-3.14.4-3]
	cl.close(nil, nil)
	done(nil)
}
