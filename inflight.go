// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 J. Blake / mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"sort"
	"sync"
)

// Inflight is a map of outbound qos packets awaiting acknowledgement, keyed on packet id.
type Inflight struct {
	sync.RWMutex
	internal map[uint16]*QosPacket // internal contains the inflight packets
}

// NewInflights returns a new instance of an Inflight packets map.
func NewInflights() *Inflight {
	return &Inflight{
		internal: map[uint16]*QosPacket{},
	}
}

// Set adds or updates an inflight packet by packet id. Returns true if the
// packet id was not already in flight.
func (i *Inflight) Set(q *QosPacket) bool {
	i.Lock()
	defer i.Unlock()

	_, ok := i.internal[q.MessageID]
	i.internal[q.MessageID] = q
	return !ok
}

// Get returns an inflight packet by packet id.
func (i *Inflight) Get(id uint16) (*QosPacket, bool) {
	i.RLock()
	defer i.RUnlock()

	q, ok := i.internal[id]
	return q, ok
}

// Has returns true if the packet id is in flight.
func (i *Inflight) Has(id uint16) bool {
	i.RLock()
	defer i.RUnlock()

	_, ok := i.internal[id]
	return ok
}

// Len returns the size of the inflight messages map.
func (i *Inflight) Len() int {
	i.RLock()
	defer i.RUnlock()
	return len(i.internal)
}

// GetAll returns all the inflight messages, oldest first.
func (i *Inflight) GetAll() []*QosPacket {
	i.RLock()
	defer i.RUnlock()

	m := make([]*QosPacket, 0, len(i.internal))
	for _, v := range i.internal {
		m = append(m, v)
	}

	sort.Slice(m, func(i, j int) bool {
		if m[i].Created != m[j].Created {
			return m[i].Created < m[j].Created
		}
		return m[i].BrokerCounter < m[j].BrokerCounter
	})

	return m
}

// Delete removes an in-flight message from the map. Returns true if the message existed.
func (i *Inflight) Delete(id uint16) bool {
	i.Lock()
	defer i.Unlock()

	_, ok := i.internal[id]
	delete(i.internal, id)

	return ok
}
