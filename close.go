// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"sync/atomic"

	"github.com/jinzhu/copier"

	"github.com/mochi-mqtt/session/packets"
)

// onError is the single entry point for failures which end the session. It
// reports the first error to the hooks and closes the session; later errors
// are ignored.
func (cl *Client) onError(err error) {
	if cl.errored || cl.State() == StateClosed {
		return
	}

	cl.errored = true
	cl.errorsAttached = false

	if cl.ID == "" {
		cl.log.Debug("connection error", "error", err, "kind", KindOf(err))
		cl.ops.hooks.OnConnectionError(cl, err)
	} else {
		cl.log.Debug("client error", "error", err, "kind", KindOf(err))
		cl.ops.hooks.OnClientError(cl, err)
	}

	cl.close(err, nil)
}

// close tears the session down. It runs once; later calls only wait for
// the first to complete. err is the reason the session ended, if any.
func (cl *Client) close(err error, done func(error)) {
	if done != nil {
		cl.closeWaiters = append(cl.closeWaiters, done)
	}

	state := cl.State()
	if state == StateClosed {
		cl.notifyClosed()
		return
	}

	if state == StateClosing {
		return
	}

	cl.closeErr = err
	cl.setState(StateClosing)
	wasConnected := state == StateConnected
	cl.dropHeld()
	subs := cl.Subscriptions.GetAll()

	teardown := func(error) {
		cl.ingest.detach()
		cl.stopTimers()
		cl.eosAttached = false
		cl.finishWill(func() {
			cl.deregister(wasConnected, subs)
			cl.emitDrain()
			cl.terminate()
			cl.notifyClosed()
			cl.closeMailbox()
		})
	}

	// a session restored but never connected is already in the topics index.
	if len(subs) > 0 {
		filters := make([]string, 0, len(subs))
		for filter := range subs {
			filters = append(filters, filter)
		}
		cl.handler.Unsubscribe(cl, UnsubscribeRequest{Filters: filters, Close: true}, teardown)
		return
	}

	teardown(nil)
}

// finishWill publishes the will unless the client disconnected cleanly, then
// deletes any stored will whatever happened. The will is cleared before
// anything else so it can never be sent twice.
func (cl *Client) finishWill(next func()) {
	will := cl.will
	cl.will = nil
	cl.pendingWill = nil

	deleteWill := func() {
		if !cl.registered {
			next()
			return
		}

		id, broker := cl.ID, cl.server.ID
		cl.server.persist.run(cl, DelWill, "delete will", func() error {
			return cl.ops.hooks.DelWill(broker, id)
		}, func(err error) {
			if err != nil {
				cl.log.Warn("failed to delete will", "error", err)
			}
			next()
		})
	}

	if will == nil || cl.cleanDisconnect {
		deleteWill()
		return
	}

	var w Will
	if err := copier.CopyWithOption(&w, will, copier.Option{DeepCopy: true}); err != nil {
		cl.log.Error("failed to copy will", "error", err)
		deleteWill()
		return
	}

	w = cl.ops.hooks.OnWill(cl, w)
	if !cl.server.authorizePublish(cl, w.Topic) {
		cl.log.Debug("will not authorized", "topic", w.Topic)
		deleteWill()
		return
	}

	env := cl.server.newEnvelope(Message{
		Topic:   w.Topic,
		Payload: w.Payload,
		Qos:     w.Qos,
		Retain:  w.Retain,
	}, cl.ID)

	cl.server.publish(env, cl, func(err error) {
		if err != nil {
			cl.log.Warn("failed to publish will", "error", err)
		} else {
			atomic.AddInt64(&cl.server.Info.WillsSent, 1)
			cl.ops.hooks.OnWillSent(cl, env.Packet())
		}
		deleteWill()
	})
}

// deregister marks the session closed and removes it from the broker. The
// subscriptions of a persistent session are kept for offline delivery.
func (cl *Client) deregister(wasConnected bool, subs map[string]packets.Subscription) {
	cl.setState(StateClosed)
	if wasConnected {
		atomic.AddInt64(&cl.server.Info.ClientsConnected, -1)
	}

	if !cl.registered {
		cl.server.detach(cl)
		return
	}

	removed := cl.server.Clients.Delete(cl.ID, cl)
	if removed && !cl.Properties.Clean && len(subs) > 0 {
		cl.server.offline.adopt(cl.ID, subs)
	}

	cl.server.detach(cl)
	cl.ops.hooks.OnDisconnect(cl, cl.closeErr, cl.Properties.Clean)
	cl.log.Debug("client disconnected", "error", cl.closeErr)
}

// notifyClosed completes every waiting close call.
func (cl *Client) notifyClosed() {
	select {
	case <-cl.closed:
	default:
		close(cl.closed)
	}

	waiters := cl.closeWaiters
	cl.closeWaiters = nil
	for _, done := range waiters {
		done(nil)
	}
}
