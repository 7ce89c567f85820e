// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package badger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/hooks/storage/storagetest"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

func newHook(t *testing.T) *Hook {
	t.Helper()
	h := new(Hook)
	h.SetOpts(logger, nil)

	opts := badgerdb.DefaultOptions("").WithInMemory(true)
	require.NoError(t, h.Init(&Options{Options: &opts}))
	t.Cleanup(func() {
		require.NoError(t, h.Stop())
	})
	return h
}

func TestID(t *testing.T) {
	h := new(Hook)
	require.Equal(t, "badger-db", h.ID())
}

func TestProvides(t *testing.T) {
	h := new(Hook)
	for _, b := range mqtt.StorageMethods {
		require.True(t, h.Provides(b))
	}
	require.False(t, h.Provides(mqtt.OnConnect))
	require.False(t, h.Provides(mqtt.OnPublish))
}

func TestInitBadConfig(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	require.ErrorIs(t, h.Init(map[string]any{}), mqtt.ErrInvalidConfigType)
}

func TestInitDefaults(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	path := t.TempDir()
	require.NoError(t, h.Init(&Options{Path: path, GcDiscardRatio: 2}))
	defer h.Stop()

	require.Equal(t, path, h.config.Path)
	require.Equal(t, int64(defaultGcInterval), h.config.GcInterval)
	require.Equal(t, defaultGcDiscardRatio, h.config.GcDiscardRatio)
	require.NotNil(t, h.Store)
}

func TestStopUninitialised(t *testing.T) {
	h := new(Hook)
	require.NoError(t, h.Stop())
}

func TestStopTwice(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	opts := badgerdb.DefaultOptions("").WithInMemory(true)
	require.NoError(t, h.Init(&Options{Options: &opts, GcInterval: 1}))

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
}

func TestInitOpenFailure(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	// badger cannot open a directory over a regular file
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	require.Error(t, h.Init(&Options{Path: path}))
	require.Nil(t, h.Store)
}

func TestBadgerLogger(t *testing.T) {
	l := &badgerLogger{log: logger}
	require.Equal(t, "opened value log 3", tidy("Opened value log %d\n", []any{3}))
	l.Errorf("x %d", 1)
	l.Warningf("x %d", 1)
	l.Infof("x %d", 1)
	l.Debugf("x %d", 1)
}

func TestKV(t *testing.T) {
	h := newHook(t)
	storagetest.KV(t, &kv{db: h.db})
}

func TestStore(t *testing.T) {
	h := newHook(t)
	storagetest.Store(t, h.Store)
}

func TestBatch(t *testing.T) {
	h := newHook(t)
	storagetest.Batch(t, &kv{db: h.db})
}
