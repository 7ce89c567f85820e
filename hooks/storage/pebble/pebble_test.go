// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: werbenhu

package pebble

import (
	"log/slog"
	"os"
	"testing"

	pebbledb "github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/hooks/storage/storagetest"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

func newHook(t *testing.T, mode string) *Hook {
	t.Helper()
	h := new(Hook)
	h.SetOpts(logger, nil)
	require.NoError(t, h.Init(&Options{
		Path:    "mem",
		Mode:    mode,
		Options: &pebbledb.Options{FS: vfs.NewMem()},
	}))
	t.Cleanup(func() {
		require.NoError(t, h.Stop())
	})
	return h
}

func TestPrefixEnd(t *testing.T) {
	require.Equal(t, []byte("SUB0"), prefixEnd([]byte("SUB/")))
	require.Equal(t, []byte{0x02}, prefixEnd([]byte{0x01, 0xff}))
	require.Nil(t, prefixEnd([]byte{0xff, 0xff}))
	require.Nil(t, prefixEnd(nil))

	p := []byte("OUT/")
	prefixEnd(p)
	require.Equal(t, []byte("OUT/"), p)
}

func TestID(t *testing.T) {
	h := new(Hook)
	require.Equal(t, "pebble-db", h.ID())
}

func TestProvides(t *testing.T) {
	h := new(Hook)
	require.True(t, h.Provides(mqtt.ClearSession))
	require.True(t, h.Provides(mqtt.StoreRetained))
	require.False(t, h.Provides(mqtt.OnSubscribe))
}

func TestInitBadConfig(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	require.ErrorIs(t, h.Init(map[string]any{}), mqtt.ErrInvalidConfigType)
}

func TestWriteOptions(t *testing.T) {
	require.Equal(t, pebbledb.NoSync, (&Options{}).writeOptions())
	require.Equal(t, pebbledb.NoSync, (&Options{Mode: NoSync}).writeOptions())
	require.Equal(t, pebbledb.Sync, (&Options{Mode: "sync"}).writeOptions())
}

func TestInitDefaults(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	path := t.TempDir()
	require.NoError(t, h.Init(&Options{Path: path}))
	require.NotNil(t, h.config.Options)
	require.NotNil(t, h.Store)
	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
}

func TestKV(t *testing.T) {
	h := newHook(t, NoSync)
	storagetest.KV(t, &kv{db: h.db, mode: pebbledb.NoSync, log: logger})
}

func TestBatch(t *testing.T) {
	h := newHook(t, NoSync)
	storagetest.Batch(t, &kv{db: h.db, mode: pebbledb.NoSync, log: logger})
}

func TestStore(t *testing.T) {
	h := newHook(t, Sync)
	storagetest.Store(t, h.Store)
}
