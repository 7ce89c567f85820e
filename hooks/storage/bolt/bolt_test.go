// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package bolt

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/hooks/storage"
	"github.com/mochi-mqtt/session/hooks/storage/storagetest"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

func newHook(t *testing.T) *Hook {
	t.Helper()
	h := new(Hook)
	h.SetOpts(logger, nil)
	require.NoError(t, h.Init(&Options{Path: filepath.Join(t.TempDir(), "test.bolt")}))
	t.Cleanup(func() {
		require.NoError(t, h.Stop())
	})
	return h
}

func TestID(t *testing.T) {
	h := new(Hook)
	require.Equal(t, "bolt-db", h.ID())
}

func TestProvides(t *testing.T) {
	h := new(Hook)
	require.True(t, h.Provides(mqtt.OutgoingEnqueue))
	require.True(t, h.Provides(mqtt.StoredWills))
	require.False(t, h.Provides(mqtt.OnACLCheck))
}

func TestInitBadConfig(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	require.ErrorIs(t, h.Init(map[string]any{}), mqtt.ErrInvalidConfigType)
}

func TestInitDefaultBucket(t *testing.T) {
	h := newHook(t)
	require.Equal(t, defaultBucket, h.config.Bucket)
	require.Equal(t, defaultTimeout, h.config.Options.Timeout)
}

func TestKV(t *testing.T) {
	h := newHook(t)
	storagetest.KV(t, &kv{db: h.db, bucket: []byte(h.config.Bucket), log: logger})
}

func TestStore(t *testing.T) {
	h := newHook(t)
	storagetest.Store(t, h.Store)
}

func TestMissingBucket(t *testing.T) {
	h := newHook(t)
	require.NoError(t, h.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket([]byte(h.config.Bucket))
	}))

	_, err := h.ClientSubscriptions("zen")
	require.ErrorIs(t, err, ErrBucketNotFound)
	require.ErrorIs(t, h.PutWill(storage.Will{Client: "zen"}), ErrBucketNotFound)
}

func TestStopTwice(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	require.NoError(t, h.Init(&Options{Path: filepath.Join(t.TempDir(), "x.bolt")}))
	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
}

func TestBatch(t *testing.T) {
	h := newHook(t)
	storagetest.Batch(t, &kv{db: h.db, bucket: []byte(h.config.Bucket), log: logger})
}

func TestBatchMissingBucket(t *testing.T) {
	h := newHook(t)
	require.NoError(t, h.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket([]byte(h.config.Bucket))
	}))

	err := h.AddSubscriptions("zen", []storage.Subscription{{Filter: "a"}})
	require.ErrorIs(t, err, ErrBucketNotFound)
}
