// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"fmt"

	"github.com/mochi-mqtt/session/packets"
)

// SubscribeRequest asks for one or more subscriptions to be added to a
// session. A PacketID above 0 means the request came from a SUBSCRIBE packet
// and is answered with a SUBACK.
type SubscribeRequest struct {
	Subscriptions []packets.Subscription
	PacketID      uint16
}

// UnsubscribeRequest asks for one or more filters to be removed from a
// session. Close is set when the session itself is being torn down, in which
// case persisted subscriptions are left alone and nothing is written.
type UnsubscribeRequest struct {
	Filters  []string
	PacketID uint16
	Close    bool
}

// normalizeSubscribe builds a SubscribeRequest from any accepted shape.
func normalizeSubscribe(v any) (SubscribeRequest, error) {
	switch r := v.(type) {
	case packets.Subscription:
		return SubscribeRequest{Subscriptions: []packets.Subscription{r}}, nil
	case []packets.Subscription:
		return SubscribeRequest{Subscriptions: r}, nil
	case packets.Subscriptions:
		return SubscribeRequest{Subscriptions: r}, nil
	case SubscribeRequest:
		return r, nil
	case *SubscribeRequest:
		if r == nil {
			break
		}
		return *r, nil
	}

	return SubscribeRequest{}, fmt.Errorf("%w: %T", ErrInvalidRequest, v)
}

// normalizeUnsubscribe builds an UnsubscribeRequest from any accepted shape.
func normalizeUnsubscribe(v any) (UnsubscribeRequest, error) {
	switch r := v.(type) {
	case string:
		return UnsubscribeRequest{Filters: []string{r}}, nil
	case []string:
		return UnsubscribeRequest{Filters: r}, nil
	case packets.Subscription:
		return UnsubscribeRequest{Filters: []string{r.Filter}}, nil
	case []packets.Subscription:
		return UnsubscribeRequest{Filters: filtersOf(r)}, nil
	case UnsubscribeRequest:
		return r, nil
	case *UnsubscribeRequest:
		if r == nil {
			break
		}
		return *r, nil
	}

	return UnsubscribeRequest{}, fmt.Errorf("%w: %T", ErrInvalidRequest, v)
}

func filtersOf(subs []packets.Subscription) []string {
	filters := make([]string, len(subs))
	for i, sub := range subs {
		filters[i] = sub.Filter
	}
	return filters
}
