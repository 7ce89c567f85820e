// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"sync"
)

// Clients contains a map of the clients known by the broker.
type Clients struct {
	internal map[string]*Client // clients known by the broker, keyed on client id.
	sync.RWMutex
}

// NewClients returns an instance of Clients.
func NewClients() *Clients {
	return &Clients{
		internal: make(map[string]*Client),
	}
}

// Add adds a new client to the clients map, keyed on client id. Any client
// previously registered under the same id is returned.
func (cl *Clients) Add(val *Client) (*Client, bool) {
	cl.Lock()
	defer cl.Unlock()
	old, ok := cl.internal[val.ID]
	cl.internal[val.ID] = val
	return old, ok && old != val
}

// GetAll returns all the clients.
func (cl *Clients) GetAll() map[string]*Client {
	cl.RLock()
	defer cl.RUnlock()
	m := map[string]*Client{}
	for k, v := range cl.internal {
		m[k] = v
	}
	return m
}

// Get returns the value of a client if it exists.
func (cl *Clients) Get(id string) (*Client, bool) {
	cl.RLock()
	defer cl.RUnlock()
	val, ok := cl.internal[id]
	return val, ok
}

// Len returns the length of the clients map.
func (cl *Clients) Len() int {
	cl.RLock()
	defer cl.RUnlock()
	val := len(cl.internal)
	return val
}

// Delete removes the client registered under id, but only if it is still
// val. A session which was taken over does not remove its successor.
func (cl *Clients) Delete(id string, val *Client) bool {
	cl.Lock()
	defer cl.Unlock()
	if existing, ok := cl.internal[id]; ok && existing == val {
		delete(cl.internal, id)
		return true
	}
	return false
}

// GetByListener returns clients matching a listener id.
func (cl *Clients) GetByListener(id string) []*Client {
	cl.RLock()
	defer cl.RUnlock()
	clients := make([]*Client, 0, len(cl.internal))
	for _, v := range cl.internal {
		if v.Net.Listener == id && v.State() < StateClosing {
			clients = append(clients, v)
		}
	}
	return clients
}
