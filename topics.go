// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 J. Blake / mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"strings"
	"sync"

	"github.com/mochi-mqtt/session/packets"
)

var (
	SysPrefix = "$SYS" // the prefix indicating a system info topic
)

// Subscriptions is a map of subscriptions keyed on client.
type Subscriptions struct {
	internal map[string]packets.Subscription
	sync.RWMutex
}

// NewSubscriptions returns a new instance of Subscriptions.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		internal: map[string]packets.Subscription{},
	}
}

// Add adds a new subscription for a client. ID can be a filter in the
// case this map is client state, or a client id if particle state.
func (s *Subscriptions) Add(id string, val packets.Subscription) {
	s.Lock()
	defer s.Unlock()
	s.internal[id] = val
}

// GetAll returns all subscriptions.
func (s *Subscriptions) GetAll() map[string]packets.Subscription {
	s.RLock()
	defer s.RUnlock()
	m := map[string]packets.Subscription{}
	for k, v := range s.internal {
		m[k] = v
	}
	return m
}

// Get returns a subscriptions for a specific client or filter id.
func (s *Subscriptions) Get(id string) (val packets.Subscription, ok bool) {
	s.RLock()
	defer s.RUnlock()
	val, ok = s.internal[id]
	return val, ok
}

// Len returns the number of subscriptions.
func (s *Subscriptions) Len() int {
	s.RLock()
	defer s.RUnlock()
	val := len(s.internal)
	return val
}

// Delete removes a subscription by client or filter id.
func (s *Subscriptions) Delete(id string) {
	s.Lock()
	defer s.Unlock()
	delete(s.internal, id)
}

// Subscribers is a map of the clients matching a topic and the highest qos
// granted to each across their matching filters.
type Subscribers map[string]packets.Subscription

// add records sub for client, keeping the highest qos seen.
func (s Subscribers) add(client string, sub packets.Subscription) {
	if existing, ok := s[client]; ok && existing.Qos >= sub.Qos {
		return
	}
	s[client] = sub
}

// RetainedMessages is a map of retained envelopes keyed on topic.
type RetainedMessages struct {
	internal map[string]Envelope
	sync.RWMutex
}

// NewRetainedMessages returns a new instance of RetainedMessages.
func NewRetainedMessages() *RetainedMessages {
	return &RetainedMessages{
		internal: map[string]Envelope{},
	}
}

// Add sets the retained message for a topic.
func (r *RetainedMessages) Add(topic string, env Envelope) {
	r.Lock()
	defer r.Unlock()
	r.internal[topic] = env
}

// Get returns the retained message for a topic.
func (r *RetainedMessages) Get(topic string) (Envelope, bool) {
	r.RLock()
	defer r.RUnlock()
	env, ok := r.internal[topic]
	return env, ok
}

// Delete removes the retained message for a topic.
func (r *RetainedMessages) Delete(topic string) {
	r.Lock()
	defer r.Unlock()
	delete(r.internal, topic)
}

// Len returns the number of retained messages.
func (r *RetainedMessages) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.internal)
}

// TopicsIndex is a prefix/trie tree containing topic subscribers and retained messages.
type TopicsIndex struct {
	Retained *RetainedMessages
	root     *particle // a leaf containing a message and more leaves.
}

// NewTopicsIndex returns a pointer to a new instance of Index.
func NewTopicsIndex() *TopicsIndex {
	return &TopicsIndex{
		Retained: NewRetainedMessages(),
		root: &particle{
			particles:     newParticles(),
			subscriptions: NewSubscriptions(),
		},
	}
}

// Subscribe adds a new subscription for a client to a topic filter, returning
// true if the subscription was new. Subscribing again to the same filter
// replaces the qos.
func (x *TopicsIndex) Subscribe(client string, subscription packets.Subscription) bool {
	x.root.Lock()
	defer x.root.Unlock()

	n := x.set(subscription.Filter)
	_, existed := n.subscriptions.Get(client)
	n.subscriptions.Add(client, subscription)

	return !existed
}

// Unsubscribe removes a subscription filter for a client, returning true if the
// subscription existed.
func (x *TopicsIndex) Unsubscribe(filter, client string) bool {
	x.root.Lock()
	defer x.root.Unlock()

	particle := x.seek(filter)
	if particle == nil {
		return false
	}

	_, existed := particle.subscriptions.Get(client)
	particle.subscriptions.Delete(client)
	x.trim(particle)

	return existed
}

// RetainMessage saves an envelope to the end of a topic address. Returns
// 1 if a retained message was added, and -1 if the retained message was removed.
// 0 is returned if sequential empty payloads are received.
func (x *TopicsIndex) RetainMessage(env Envelope) int64 {
	x.root.Lock()
	defer x.root.Unlock()

	n := x.set(env.Topic)
	n.Lock()
	defer n.Unlock()
	if len(env.Payload) > 0 {
		n.retainPath = env.Topic
		x.Retained.Add(env.Topic, env)
		return 1
	}

	var out int64
	if existing, ok := x.Retained.Get(env.Topic); ok && len(existing.Payload) > 0 {
		out = -1
	}

	n.retainPath = ""
	x.Retained.Delete(env.Topic) // [MQTT-3.3.1-10] [MQTT-3.3.1-11]
	x.trim(n)

	return out
}

// set creates a topic address in the index and returns the final particle.
func (x *TopicsIndex) set(topic string) *particle {
	var key string
	var hasNext = true
	n := x.root
	for d := 0; hasNext; d++ {
		key, hasNext = isolateParticle(topic, d)
		p := n.particles.get(key)
		if p == nil {
			p = newParticle(key, n)
			n.particles.add(p)
		}
		n = p
	}

	return n
}

// seek finds the particle at the end of a topic filter.
func (x *TopicsIndex) seek(filter string) *particle {
	var key string
	var hasNext = true
	n := x.root
	for d := 0; hasNext; d++ {
		key, hasNext = isolateParticle(filter, d)
		n = n.particles.get(key)
		if n == nil {
			return nil
		}
	}

	return n
}

// trim removes empty filter particles from the index.
func (x *TopicsIndex) trim(n *particle) {
	for n.parent != nil && n.retainPath == "" && n.particles.len()+n.subscriptions.Len() == 0 {
		key := n.key
		n = n.parent
		n.particles.delete(key)
	}
}

// Messages returns a slice of any retained messages which match a filter.
func (x *TopicsIndex) Messages(filter string) []Envelope {
	return x.scanMessages(filter, 0, nil, []Envelope{})
}

// scanMessages returns all retained messages on topics matching a given filter.
func (x *TopicsIndex) scanMessages(filter string, d int, n *particle, envs []Envelope) []Envelope {
	if n == nil {
		n = x.root
	}

	if len(filter) == 0 || x.Retained.Len() == 0 {
		return envs
	}

	if !strings.ContainsRune(filter, '#') && !strings.ContainsRune(filter, '+') {
		if env, ok := x.Retained.Get(filter); ok {
			envs = append(envs, env)
		}
		return envs
	}

	key, hasNext := isolateParticle(filter, d)
	if key == "+" || key == "#" {
		for _, adjacent := range n.particles.getAll() {
			if d == 0 && strings.HasPrefix(adjacent.key, "$") {
				continue // [MQTT-4.7.2-1]
			}

			if (!hasNext || endsInHash(filter, d)) && adjacent.retainPath != "" {
				if env, ok := x.Retained.Get(adjacent.retainPath); ok {
					envs = append(envs, env)
				}
			}

			if hasNext || key == "#" {
				envs = x.scanMessages(filter, d+1, adjacent, envs)
			}
		}
		return envs
	}

	if particle := n.particles.get(key); particle != nil {
		if hasNext {
			if endsInHash(filter, d) && particle.retainPath != "" {
				if env, ok := x.Retained.Get(particle.retainPath); ok {
					envs = append(envs, env) // a/# also matches a
				}
			}
			return x.scanMessages(filter, d+1, particle, envs)
		}

		if env, ok := x.Retained.Get(particle.retainPath); ok {
			envs = append(envs, env)
		}
	}

	return envs
}

// endsInHash returns true if the particle after depth d of filter is a final #.
func endsInHash(filter string, d int) bool {
	next, more := isolateParticle(filter, d+1)
	return next == "#" && !more
}

// Subscribers returns a map of clients who are subscribed to filters matching
// the topic, with the highest qos of each.
func (x *TopicsIndex) Subscribers(topic string) Subscribers {
	return x.scanSubscribers(topic, 0, nil, Subscribers{})
}

// scanSubscribers returns a list of client subscriptions matching an indexed topic address.
func (x *TopicsIndex) scanSubscribers(topic string, d int, n *particle, subs Subscribers) Subscribers {
	if n == nil {
		n = x.root
	}

	if len(topic) == 0 {
		return subs
	}

	key, hasNext := isolateParticle(topic, d)
	for _, partKey := range []string{key, "+", "#"} {
		if particle := n.particles.get(partKey); particle != nil { // [MQTT-3.3.2-3]
			if partKey == "#" || !hasNext {
				x.gatherSubscriptions(topic, particle, subs)
			}

			if wild := particle.particles.get("#"); wild != nil && partKey != "#" && !hasNext {
				x.gatherSubscriptions(topic, wild, subs) // also match any subs where filter/# is filter as per 4.7.1.2
			}

			if hasNext && partKey != "#" {
				x.scanSubscribers(topic, d+1, particle, subs)
			}
		}
	}

	return subs
}

// gatherSubscriptions collects any matching subscriptions, keeping the highest qos.
func (x *TopicsIndex) gatherSubscriptions(topic string, particle *particle, subs Subscribers) {
	for client, sub := range particle.subscriptions.GetAll() {
		if len(sub.Filter) > 0 && topic[0] == '$' && (sub.Filter[0] == '+' || sub.Filter[0] == '#') { // don't match $ topics with top level wildcards [MQTT-4.7.2-1]
			continue
		}

		subs.add(client, sub)
	}
}

// isolateParticle extracts a particle between d / and d+1 / without allocations.
func isolateParticle(filter string, d int) (particle string, hasNext bool) {
	var next, end int
	for i := 0; end > -1 && i <= d; i++ {
		end = strings.IndexRune(filter, '/')

		switch {
		case d > -1 && i == d && end > -1:
			hasNext = true
			particle = filter[next:end]
		case end > -1:
			hasNext = false
			filter = filter[end+1:]
		default:
			hasNext = false
			particle = filter[next:]
		}
	}

	return
}

// IsValidFilter returns true if the filter is valid. Topic names used for
// publishing may not contain wildcards or address the system prefix.
func IsValidFilter(filter string, forPublish bool) bool {
	if len(filter) == 0 {
		return false // [MQTT-4.7.3-1]
	}

	if strings.ContainsRune(filter, 0) {
		return false // [MQTT-4.7.3-2]
	}

	if forPublish {
		if len(filter) >= len(SysPrefix) && strings.EqualFold(filter[0:len(SysPrefix)], SysPrefix) {
			// 4.7.2 Non-normative - The Server SHOULD prevent Clients from using such Topic Names [$SYS] to exchange messages with other Clients.
			return false
		}

		if strings.ContainsRune(filter, '+') || strings.ContainsRune(filter, '#') {
			return false // [MQTT-3.3.2-2]
		}

		return true
	}

	wildhash := strings.IndexRune(filter, '#')
	if wildhash >= 0 && wildhash != len(filter)-1 { // [MQTT-4.7.1-2]
		return false
	}

	for d := 0; ; d++ {
		p, hasNext := isolateParticle(filter, d)
		if len(p) > 1 && (strings.ContainsRune(p, '+') || strings.ContainsRune(p, '#')) {
			return false // [MQTT-4.7.1-3]
		}
		if !hasNext {
			break
		}
	}

	return true
}

// MatchFilter returns true if topic is matched by filter.
func MatchFilter(filter, topic string) bool {
	if len(topic) > 0 && topic[0] == '$' && len(filter) > 0 && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	for d := 0; ; d++ {
		f, fNext := isolateParticle(filter, d)
		if f == "#" {
			return true
		}

		t, tNext := isolateParticle(topic, d)
		if f != "+" && f != t {
			return false
		}

		if !fNext || !tNext {
			if fNext && !tNext {
				// a/# matches a
				next, more := isolateParticle(filter, d+1)
				return next == "#" && !more
			}
			return fNext == tNext
		}
	}
}

// particle is a child node on the tree.
type particle struct {
	key           string         // the key of the particle
	parent        *particle      // a pointer to the parent of the particle
	particles     particles      // a map of child particles
	subscriptions *Subscriptions // a map of subscriptions made by clients to this ending address
	retainPath    string         // path of a retained message
	sync.Mutex                   // mutex for when making changes to the particle
}

// newParticle returns a pointer to a new instance of particle.
func newParticle(key string, parent *particle) *particle {
	return &particle{
		key:           key,
		parent:        parent,
		particles:     newParticles(),
		subscriptions: NewSubscriptions(),
	}
}

// particles is a concurrency safe map of particles.
type particles struct {
	internal map[string]*particle
	sync.RWMutex
}

// newParticles returns a map of particles.
func newParticles() particles {
	return particles{
		internal: map[string]*particle{},
	}
}

// add adds a new particle.
func (p *particles) add(val *particle) {
	p.Lock()
	p.internal[val.key] = val
	p.Unlock()
}

// getAll returns all particles.
func (p *particles) getAll() map[string]*particle {
	p.RLock()
	defer p.RUnlock()
	m := map[string]*particle{}
	for k, v := range p.internal {
		m[k] = v
	}
	return m
}

// get returns a particle by id (key).
func (p *particles) get(id string) *particle {
	p.RLock()
	defer p.RUnlock()
	return p.internal[id]
}

// len returns the number of particles.
func (p *particles) len() int {
	p.RLock()
	defer p.RUnlock()
	val := len(p.internal)
	return val
}

// delete removes a particle.
func (p *particles) delete(id string) {
	p.Lock()
	defer p.Unlock()
	delete(p.internal, id)
}
