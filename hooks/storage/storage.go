// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package storage

import (
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	SubscriptionKey = "SUB" // unique key to denote Subscriptions in a store
	RetainedKey     = "RET" // unique key to denote retained messages in a store
	OutgoingKey     = "OUT" // unique key to denote queued outgoing messages in a store
	IncomingKey     = "INC" // unique key to denote received qos 2 messages awaiting release
	WillKey         = "WIL" // unique key to denote will messages in a store

	retainedGroup = "all"
)

var (
	// ErrDBFileNotOpen indicates that the file database (e.g. bolt/badger) wasn't open for reading.
	ErrDBFileNotOpen = errors.New("db file not open")

	// ErrNotFound indicates a key does not exist in the store.
	ErrNotFound = errors.New("key not found")
)

// Serializable is an interface for objects that can be serialized and deserialized.
type Serializable interface {
	UnmarshalBinary([]byte) error
	MarshalBinary() (data []byte, err error)
}

// KV is the minimal key/value surface a storage backend provides. Keys always
// have the form kind/group/name, where group and name are path escaped.
type KV interface {
	Set(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Iterate(prefix string, fn func(key string, value []byte) error) error
}

// Writer is the write half of a KV.
type Writer interface {
	Set(key string, value []byte) error
	Delete(key string) error
}

// Batcher is implemented by backends which can apply several writes
// atomically. The writes made through w are applied only if fn returns nil.
type Batcher interface {
	Batch(fn func(w Writer) error) error
}

// Key builds a store key from its kind, group and name.
func Key(kind, group, name string) string {
	return kind + "/" + url.PathEscape(group) + "/" + url.PathEscape(name)
}

// Prefix returns the key prefix for every entry of a kind within a group.
// An empty group selects the entire kind.
func Prefix(kind, group string) string {
	if group == "" {
		return kind + "/"
	}
	return kind + "/" + url.PathEscape(group) + "/"
}

// SplitKey breaks a key into its kind, group and name.
func SplitKey(key string) (kind, group, name string, ok bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}

	group, err := url.PathUnescape(parts[1])
	if err != nil {
		return "", "", "", false
	}

	name, err = url.PathUnescape(parts[2])
	if err != nil {
		return "", "", "", false
	}

	return parts[0], group, name, true
}

// Subscription is a storable representation of an mqtt subscription.
type Subscription struct {
	T      string `json:"t"`
	Client string `json:"client"`
	Filter string `json:"filter"`
	Qos    byte   `json:"qos"`
}

// MarshalBinary encodes the values into a json string.
func (d Subscription) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *Subscription) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// Message is a storable representation of a publish message, used for
// queued outgoing messages, received qos 2 messages and retained messages.
type Message struct {
	Payload       []byte `json:"payload"`
	T             string `json:"t"`
	ID            string `json:"id"`             // the correlation key of the message, broker id and counter
	Client        string `json:"client"`         // the client the message is queued for
	TopicName     string `json:"topic_name"`     // the topic the message was published to
	Origin        string `json:"origin"`         // the id of the client who published the message
	BrokerID      string `json:"broker_id"`      // the broker the message originated on
	BrokerCounter uint64 `json:"broker_counter"` // the per-broker sequence number of the message
	Created       int64  `json:"created"`        // the time the message was created in unix nanoseconds
	PacketID      uint16 `json:"packet_id"`      // the packet id assigned for delivery, if any
	Qos           byte   `json:"qos"`
	Retain        bool   `json:"retain"`
	Released      bool   `json:"released"` // a pubrec was received and a pubrel sent
}

// MarshalBinary encodes the values into a json string.
func (d Message) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *Message) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// CorrelationKey returns the key identifying a message across brokers.
func CorrelationKey(brokerID string, counter uint64) string {
	return brokerID + ":" + strconv.FormatUint(counter, 10)
}

// Will is a storable representation of a client will message.
type Will struct {
	Payload  []byte `json:"payload"`
	T        string `json:"t"`
	Client   string `json:"client"`
	BrokerID string `json:"broker_id"`
	Topic    string `json:"topic"`
	Qos      byte   `json:"qos"`
	Retain   bool   `json:"retain"`
}

// MarshalBinary encodes the values into a json string.
func (d Will) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *Will) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// Store implements the session persistence operations on top of a KV backend.
// Storage hooks embed a *Store to provide the storage hook methods.
type Store struct {
	kv KV
}

// NewStore returns a Store which reads and writes through kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) put(key string, v Serializable) error {
	if s == nil || s.kv == nil {
		return ErrDBFileNotOpen
	}

	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}

	return s.kv.Set(key, data)
}

func (s *Store) get(key string, v Serializable) error {
	if s == nil || s.kv == nil {
		return ErrDBFileNotOpen
	}

	data, err := s.kv.Get(key)
	if err != nil {
		return err
	}

	return v.UnmarshalBinary(data)
}

func (s *Store) del(key string) error {
	if s == nil || s.kv == nil {
		return ErrDBFileNotOpen
	}

	return s.kv.Delete(key)
}

// write runs fn against a single batch when the backend supports them, or
// directly against the backend otherwise.
func (s *Store) write(fn func(w Writer) error) error {
	if s == nil || s.kv == nil {
		return ErrDBFileNotOpen
	}

	if b, ok := s.kv.(Batcher); ok {
		return b.Batch(fn)
	}

	return fn(s.kv)
}

// keys returns the keys under prefix.
func (s *Store) keys(prefix string) ([]string, error) {
	var keys []string
	err := s.iterate(prefix, func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	return keys, err
}

func deleteKeys(w Writer, keys []string) error {
	for _, key := range keys {
		if err := w.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) iterate(prefix string, fn func(key string, value []byte) error) error {
	if s == nil || s.kv == nil {
		return ErrDBFileNotOpen
	}

	return s.kv.Iterate(prefix, fn)
}

// OutgoingEnqueue queues a message for later delivery to a client.
func (s *Store) OutgoingEnqueue(client string, m Message) error {
	m.T = OutgoingKey
	m.Client = client
	m.ID = CorrelationKey(m.BrokerID, m.BrokerCounter)
	return s.put(Key(OutgoingKey, client, m.ID), &m)
}

// OutgoingUpdate inserts or replaces a queued message, recording the packet
// id it was assigned for delivery.
func (s *Store) OutgoingUpdate(client string, m Message) error {
	return s.OutgoingEnqueue(client, m)
}

// OutgoingClearMessageID removes the queued message which was delivered
// with the given packet id. Removing an unknown id is not an error.
func (s *Store) OutgoingClearMessageID(client string, packetID uint16) error {
	var found []string
	err := s.iterate(Prefix(OutgoingKey, client), func(key string, value []byte) error {
		var m Message
		if err := m.UnmarshalBinary(value); err != nil {
			return err
		}

		if m.PacketID == packetID {
			found = append(found, key)
		}
		return nil
	})
	if err != nil || len(found) == 0 {
		return err
	}

	return s.write(func(w Writer) error {
		return deleteKeys(w, found)
	})
}

// OutgoingStream returns the queued messages for a client in the order they
// were created.
func (s *Store) OutgoingStream(client string) ([]Message, error) {
	var v []Message
	err := s.iterate(Prefix(OutgoingKey, client), func(_ string, value []byte) error {
		var m Message
		if err := m.UnmarshalBinary(value); err != nil {
			return err
		}
		v = append(v, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortMessages(v)
	return v, nil
}

// IncomingStore records a received qos 2 message until it is released.
func (s *Store) IncomingStore(client string, m Message) error {
	m.T = IncomingKey
	m.Client = client
	return s.put(Key(IncomingKey, client, strconv.Itoa(int(m.PacketID))), &m)
}

// IncomingTake removes and returns a received qos 2 message.
func (s *Store) IncomingTake(client string, packetID uint16) (Message, error) {
	var m Message
	key := Key(IncomingKey, client, strconv.Itoa(int(packetID)))
	if err := s.get(key, &m); err != nil {
		return m, err
	}

	return m, s.del(key)
}

// PutWill stores the will message of a connected client.
func (s *Store) PutWill(w Will) error {
	w.T = WillKey
	return s.put(Key(WillKey, w.BrokerID, w.Client), &w)
}

// DelWill deletes a stored will message. Deleting an unknown will is not an error.
func (s *Store) DelWill(brokerID, client string) error {
	return s.del(Key(WillKey, brokerID, client))
}

// StoredWills returns all stored will messages of a broker.
func (s *Store) StoredWills(brokerID string) ([]Will, error) {
	var v []Will
	err := s.iterate(Prefix(WillKey, brokerID), func(_ string, value []byte) error {
		var w Will
		if err := w.UnmarshalBinary(value); err != nil {
			return err
		}
		v = append(v, w)
		return nil
	})
	return v, err
}

// AddSubscriptions stores subscriptions for a client, replacing any with the same filter.
func (s *Store) AddSubscriptions(client string, subs []Subscription) error {
	return s.write(func(w Writer) error {
		for _, sub := range subs {
			sub.T = SubscriptionKey
			sub.Client = client
			data, err := sub.MarshalBinary()
			if err != nil {
				return err
			}

			if err := w.Set(Key(SubscriptionKey, client, sub.Filter), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveSubscriptions deletes the stored subscriptions of a client for the given filters.
func (s *Store) RemoveSubscriptions(client string, filters []string) error {
	keys := make([]string, len(filters))
	for i, filter := range filters {
		keys[i] = Key(SubscriptionKey, client, filter)
	}

	return s.write(func(w Writer) error {
		return deleteKeys(w, keys)
	})
}

// ClientSubscriptions returns the stored subscriptions of a client.
func (s *Store) ClientSubscriptions(client string) ([]Subscription, error) {
	return s.subscriptions(Prefix(SubscriptionKey, client))
}

// StoredSubscriptions returns the stored subscriptions of every client.
func (s *Store) StoredSubscriptions() ([]Subscription, error) {
	return s.subscriptions(Prefix(SubscriptionKey, ""))
}

func (s *Store) subscriptions(prefix string) ([]Subscription, error) {
	var v []Subscription
	err := s.iterate(prefix, func(_ string, value []byte) error {
		var sub Subscription
		if err := sub.UnmarshalBinary(value); err != nil {
			return err
		}
		v = append(v, sub)
		return nil
	})
	return v, err
}

// ClearSession deletes the stored subscriptions, queued messages and
// unreleased qos 2 messages of a client, in one batch where the backend
// allows.
func (s *Store) ClearSession(client string) error {
	var keys []string
	for _, kind := range []string{SubscriptionKey, OutgoingKey, IncomingKey} {
		k, err := s.keys(Prefix(kind, client))
		if err != nil {
			return err
		}
		keys = append(keys, k...)
	}

	if len(keys) == 0 {
		return nil
	}

	return s.write(func(w Writer) error {
		return deleteKeys(w, keys)
	})
}

// StoreRetained stores a retained message, or deletes the retained message
// for the topic if the payload is empty.
func (s *Store) StoreRetained(m Message) error {
	key := Key(RetainedKey, retainedGroup, m.TopicName)
	if len(m.Payload) == 0 {
		return s.del(key)
	}

	m.T = RetainedKey
	return s.put(key, &m)
}

// StoredRetainedMessages returns all stored retained messages.
func (s *Store) StoredRetainedMessages() ([]Message, error) {
	var v []Message
	err := s.iterate(Prefix(RetainedKey, retainedGroup), func(_ string, value []byte) error {
		var m Message
		if err := m.UnmarshalBinary(value); err != nil {
			return err
		}
		v = append(v, m)
		return nil
	})
	return v, err
}

func sortMessages(v []Message) {
	sort.SliceStable(v, func(i, j int) bool {
		if v[i].Created != v[j].Created {
			return v[i].Created < v[j].Created
		}
		return v[i].BrokerCounter < v[j].BrokerCounter
	})
}
