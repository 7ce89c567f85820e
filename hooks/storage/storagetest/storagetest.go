// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package storagetest provides a conformance suite shared by the storage
// backends, so that each KV adapter is held to the same behaviour.
package storagetest

import (
	"errors"
	"testing"

	"github.com/mochi-mqtt/session/hooks/storage"
	"github.com/stretchr/testify/require"
)

// KV checks the raw key/value behaviour of a backend. The backend must be empty.
func KV(t *testing.T, kv storage.KV) {
	t.Helper()

	_, err := kv.Get("SUB/none/none")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, kv.Set("SUB/a/1", []byte("one")))
	require.NoError(t, kv.Set("SUB/a/2", []byte("two")))
	require.NoError(t, kv.Set("SUB/ab/1", []byte("other")))
	require.NoError(t, kv.Set("RET/all/x", []byte("retained")))

	v, err := kv.Get("SUB/a/1")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), v)

	require.NoError(t, kv.Set("SUB/a/1", []byte("uno")))
	v, err = kv.Get("SUB/a/1")
	require.NoError(t, err)
	require.Equal(t, []byte("uno"), v)

	var keys []string
	err = kv.Iterate("SUB/a/", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"SUB/a/1", "SUB/a/2"}, keys)

	keys = keys[:0]
	require.NoError(t, kv.Iterate("SUB/", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	}))
	require.ElementsMatch(t, []string{"SUB/a/1", "SUB/a/2", "SUB/ab/1"}, keys)

	stop := errors.New("stop")
	calls := 0
	err = kv.Iterate("SUB/", func(string, []byte) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)

	require.NoError(t, kv.Delete("SUB/a/1"))
	require.NoError(t, kv.Delete("SUB/a/1"))
	_, err = kv.Get("SUB/a/1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// Store runs the session persistence operations against a store backed by
// an empty backend.
func Store(t *testing.T, s *storage.Store) {
	t.Helper()

	require.NoError(t, s.AddSubscriptions("zen", []storage.Subscription{
		{Filter: "a/b/c", Qos: 1},
		{Filter: "d/+/#", Qos: 2},
	}))
	require.NoError(t, s.AddSubscriptions("other", []storage.Subscription{{Filter: "x"}}))

	subs, err := s.ClientSubscriptions("zen")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	all, err := s.StoredSubscriptions()
	require.NoError(t, err)
	require.Len(t, all, 3)

	require.NoError(t, s.RemoveSubscriptions("zen", []string{"a/b/c"}))
	subs, err = s.ClientSubscriptions("zen")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "d/+/#", subs[0].Filter)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.OutgoingEnqueue("zen", storage.Message{
			TopicName:     "a/b/c",
			Payload:       []byte("hello"),
			BrokerID:      "b1",
			BrokerCounter: i,
			Created:       int64(10 - i),
			Qos:           1,
		}))
	}

	stream, err := s.OutgoingStream("zen")
	require.NoError(t, err)
	require.Len(t, stream, 3)
	require.Equal(t, uint64(3), stream[0].BrokerCounter)

	stream[0].PacketID = 7
	require.NoError(t, s.OutgoingUpdate("zen", stream[0]))
	require.NoError(t, s.OutgoingClearMessageID("zen", 7))
	require.NoError(t, s.OutgoingClearMessageID("zen", 99))

	stream, err = s.OutgoingStream("zen")
	require.NoError(t, err)
	require.Len(t, stream, 2)

	require.NoError(t, s.IncomingStore("zen", storage.Message{TopicName: "q/2", PacketID: 4, Qos: 2}))
	m, err := s.IncomingTake("zen", 4)
	require.NoError(t, err)
	require.Equal(t, "q/2", m.TopicName)
	_, err = s.IncomingTake("zen", 4)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.PutWill(storage.Will{Client: "zen", BrokerID: "b1", Topic: "will", Payload: []byte("bye")}))
	wills, err := s.StoredWills("b1")
	require.NoError(t, err)
	require.Len(t, wills, 1)
	require.Equal(t, "will", wills[0].Topic)
	require.NoError(t, s.DelWill("b1", "zen"))
	wills, err = s.StoredWills("b1")
	require.NoError(t, err)
	require.Empty(t, wills)

	require.NoError(t, s.StoreRetained(storage.Message{TopicName: "r/1", Payload: []byte("r")}))
	require.NoError(t, s.StoreRetained(storage.Message{TopicName: "r/2", Payload: []byte("r")}))
	require.NoError(t, s.StoreRetained(storage.Message{TopicName: "r/1"}))
	retained, err := s.StoredRetainedMessages()
	require.NoError(t, err)
	require.Len(t, retained, 1)
	require.Equal(t, "r/2", retained[0].TopicName)

	require.NoError(t, s.ClearSession("zen"))
	subs, err = s.ClientSubscriptions("zen")
	require.NoError(t, err)
	require.Empty(t, subs)
	stream, err = s.OutgoingStream("zen")
	require.NoError(t, err)
	require.Empty(t, stream)

	subs, err = s.ClientSubscriptions("other")
	require.NoError(t, err)
	require.Len(t, subs, 1)
}

// Batch checks that a backend applies the writes of a batch only when the
// batch succeeds. The backend must be empty.
func Batch(t *testing.T, kv storage.KV) {
	t.Helper()

	b, ok := kv.(storage.Batcher)
	require.True(t, ok, "backend does not batch writes")

	require.NoError(t, kv.Set("OUT/zen/1", []byte("queued")))

	fail := errors.New("abandon")
	err := b.Batch(func(w storage.Writer) error {
		require.NoError(t, w.Set("SUB/zen/a", []byte("a")))
		require.NoError(t, w.Delete("OUT/zen/1"))
		return fail
	})
	require.ErrorIs(t, err, fail)

	_, err = kv.Get("SUB/zen/a")
	require.ErrorIs(t, err, storage.ErrNotFound)
	v, err := kv.Get("OUT/zen/1")
	require.NoError(t, err)
	require.Equal(t, []byte("queued"), v)

	err = b.Batch(func(w storage.Writer) error {
		if err := w.Set("SUB/zen/a", []byte("a")); err != nil {
			return err
		}
		if err := w.Set("SUB/zen/b", []byte("b")); err != nil {
			return err
		}
		return w.Delete("OUT/zen/1")
	})
	require.NoError(t, err)

	v, err = kv.Get("SUB/zen/b")
	require.NoError(t, err)
	require.Equal(t, []byte("b"), v)
	_, err = kv.Get("OUT/zen/1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
