// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"sync"

	"github.com/mochi-mqtt/session/packets"
)

// offlineIndex holds the subscriptions of persistent sessions which are not
// connected, so that messages can be queued for them in storage.
type offlineIndex struct {
	topics  *TopicsIndex
	clients map[string]map[string]packets.Subscription // filters keyed on client id
	sync.Mutex
}

func newOfflineIndex() *offlineIndex {
	return &offlineIndex{
		topics:  NewTopicsIndex(),
		clients: map[string]map[string]packets.Subscription{},
	}
}

// adopt records subs for a disconnected client, adding to any it already had.
func (o *offlineIndex) adopt(client string, subs map[string]packets.Subscription) {
	o.Lock()
	defer o.Unlock()

	filters, ok := o.clients[client]
	if !ok {
		filters = map[string]packets.Subscription{}
		o.clients[client] = filters
	}

	for filter, sub := range subs {
		filters[filter] = sub
		o.topics.Subscribe(client, sub)
	}
}

// release removes and returns the subscriptions of a client which is
// connecting again. The returned map is never nil.
func (o *offlineIndex) release(client string) map[string]packets.Subscription {
	o.Lock()
	defer o.Unlock()

	filters, ok := o.clients[client]
	if !ok {
		return map[string]packets.Subscription{}
	}

	delete(o.clients, client)
	for filter := range filters {
		o.topics.Unsubscribe(filter, client)
	}

	return filters
}

// Subscribers returns the disconnected clients with filters matching topic.
func (o *offlineIndex) Subscribers(topic string) Subscribers {
	return o.topics.Subscribers(topic)
}

// Len returns the number of disconnected clients with subscriptions.
func (o *offlineIndex) Len() int {
	o.Lock()
	defer o.Unlock()
	return len(o.clients)
}
