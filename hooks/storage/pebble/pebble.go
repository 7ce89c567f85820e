// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: werbenhu

package pebble

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	pebbledb "github.com/cockroachdb/pebble"
	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/hooks/storage"
)

const defaultDbFile = ".pebble"

// Write modes. Sync waits for each write to reach disk.
const (
	NoSync = "NoSync"
	Sync   = "Sync"
)

// Options configures the pebble hook.
type Options struct {
	Options *pebbledb.Options `yaml:"-" json:"-"`
	Mode    string            `yaml:"mode" json:"mode"`
	Path    string            `yaml:"path" json:"path"`
}

// writeOptions returns the pebble write options for the configured mode.
func (o *Options) writeOptions() *pebbledb.WriteOptions {
	if strings.EqualFold(o.Mode, Sync) {
		return pebbledb.Sync
	}
	return pebbledb.NoSync
}

// Hook persists sessions in a pebble LSM directory.
type Hook struct {
	mqtt.HookBase
	*storage.Store
	config *Options
	db     *pebbledb.DB
}

func (h *Hook) ID() string {
	return "pebble-db"
}

func (h *Hook) Provides(b byte) bool {
	return bytes.Contains(mqtt.StorageMethods, []byte{b})
}

// Init opens the database.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqtt.ErrInvalidConfigType
	}

	h.config, _ = config.(*Options)
	if h.config == nil {
		h.config = new(Options)
	}

	if h.config.Path == "" {
		h.config.Path = defaultDbFile
	}

	if h.config.Options == nil {
		h.config.Options = new(pebbledb.Options)
	}

	db, err := pebbledb.Open(h.config.Path, h.config.Options)
	if err != nil {
		return fmt.Errorf("open pebble at %s: %w", h.config.Path, err)
	}

	h.db = db
	h.Store = storage.NewStore(&kv{db: db, mode: h.config.writeOptions(), log: h.Log})
	return nil
}

// Stop flushes and closes the database.
func (h *Hook) Stop() error {
	if h.db == nil {
		return nil
	}

	err := h.db.Close()
	h.db = nil
	return err
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

type kv struct {
	db   *pebbledb.DB
	mode *pebbledb.WriteOptions
	log  *slog.Logger
}

func (k *kv) Set(key string, value []byte) error {
	if err := k.db.Set([]byte(key), value, k.mode); err != nil {
		k.log.Error("failed to update data", "error", err, "key", key)
		return err
	}
	return nil
}

func (k *kv) Delete(key string) error {
	if err := k.db.Delete([]byte(key), k.mode); err != nil {
		k.log.Error("failed to delete data", "error", err, "key", key)
		return err
	}
	return nil
}

func (k *kv) Get(key string) ([]byte, error) {
	value, closer, err := k.db.Get([]byte(key))
	if errors.Is(err, pebbledb.ErrNotFound) {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	defer closer.Close()

	return bytes.Clone(value), nil
}

func (k *kv) Iterate(prefix string, fn func(key string, value []byte) error) error {
	iter, err := k.db.NewIter(&pebbledb.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for ok := iter.First(); ok; ok = iter.Next() {
		if err := fn(string(iter.Key()), bytes.Clone(iter.Value())); err != nil {
			return err
		}
	}

	return iter.Error()
}

// batch stages writes in a pebble batch.
type batch struct {
	b *pebbledb.Batch
}

func (b batch) Set(key string, value []byte) error {
	return b.b.Set([]byte(key), value, nil)
}

func (b batch) Delete(key string) error {
	return b.b.Delete([]byte(key), nil)
}

// Batch commits the writes of fn in a single pebble batch.
func (k *kv) Batch(fn func(w storage.Writer) error) error {
	b := k.db.NewBatch()
	defer b.Close()

	if err := fn(batch{b: b}); err != nil {
		return err
	}

	if err := b.Commit(k.mode); err != nil {
		k.log.Error("failed to commit batch", "error", err, "writes", b.Count())
		return err
	}
	return nil
}
