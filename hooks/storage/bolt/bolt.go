// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, werbenhu

// Package bolt persists sessions in a single bbolt file. Every write is a
// transaction fsynced to disk, so it suits small brokers which value
// durability over write throughput.
package bolt

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/hooks/storage"
	"go.etcd.io/bbolt"
)

// ErrBucketNotFound indicates the session bucket is missing from the file.
var ErrBucketNotFound = errors.New("bucket not found")

const (
	defaultDbFile  = ".bolt"
	defaultTimeout = 250 * time.Millisecond // wait for the file lock
	defaultBucket  = "sessions"
)

// Options configures the bolt hook. All keys are kept in one bucket.
type Options struct {
	Options *bbolt.Options `yaml:"-" json:"-"`
	Bucket  string         `yaml:"bucket" json:"bucket"`
	Path    string         `yaml:"path" json:"path"`
}

// Hook persists sessions in a bbolt file.
type Hook struct {
	mqtt.HookBase
	*storage.Store
	config *Options
	db     *bbolt.DB
}

func (h *Hook) ID() string {
	return "bolt-db"
}

func (h *Hook) Provides(b byte) bool {
	return bytes.Contains(mqtt.StorageMethods, []byte{b})
}

// Init opens the file, creating the bucket if needed.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqtt.ErrInvalidConfigType
	}

	h.config, _ = config.(*Options)
	if h.config == nil {
		h.config = new(Options)
	}

	if h.config.Options == nil {
		h.config.Options = &bbolt.Options{Timeout: defaultTimeout}
	}

	if h.config.Path == "" {
		h.config.Path = defaultDbFile
	}

	if h.config.Bucket == "" {
		h.config.Bucket = defaultBucket
	}

	db, err := bbolt.Open(h.config.Path, 0o600, h.config.Options)
	if err != nil {
		return fmt.Errorf("open bolt at %s: %w", h.config.Path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(h.config.Bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return err
	}
	h.db = db

	h.Store = storage.NewStore(&kv{
		db:     h.db,
		bucket: []byte(h.config.Bucket),
		log:    h.Log,
	})

	return nil
}

// Stop closes the boltdb instance.
func (h *Hook) Stop() error {
	if h.db == nil {
		return nil
	}

	err := h.db.Close()
	h.db = nil
	return err
}

// kv adapts a single boltdb bucket to the storage KV interface.
type kv struct {
	db     *bbolt.DB
	bucket []byte
	log    *slog.Logger
}

// view runs fn against the bucket in a read transaction.
func (k *kv) view(fn func(b *bbolt.Bucket) error) error {
	return k.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(k.bucket)
		if b == nil {
			return ErrBucketNotFound
		}
		return fn(b)
	})
}

// update runs fn against the bucket in a write transaction, logging failures.
func (k *kv) update(what string, fn func(b *bbolt.Bucket) error) error {
	err := k.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(k.bucket)
		if b == nil {
			return ErrBucketNotFound
		}
		return fn(b)
	})
	if err != nil {
		k.log.Error("failed to update data", "error", err, "write", what)
	}
	return err
}

func (k *kv) Set(key string, value []byte) error {
	return k.update(key, func(b *bbolt.Bucket) error {
		return b.Put([]byte(key), value)
	})
}

func (k *kv) Delete(key string) error {
	return k.update(key, func(b *bbolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}

// Get copies the value out, as bolt values are only valid for the life of
// the transaction.
func (k *kv) Get(key string) (value []byte, err error) {
	err = k.view(func(b *bbolt.Bucket) error {
		v := b.Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		value = bytes.Clone(v)
		return nil
	})
	return value, err
}

func (k *kv) Iterate(prefix string, fn func(key string, value []byte) error) error {
	p := []byte(prefix)
	return k.view(func(b *bbolt.Bucket) error {
		c := b.Cursor()
		for key, v := c.Seek(p); key != nil && bytes.HasPrefix(key, p); key, v = c.Next() {
			if err := fn(string(key), bytes.Clone(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// bucketWriter writes to a bucket within an open transaction.
type bucketWriter struct {
	b *bbolt.Bucket
}

func (w bucketWriter) Set(key string, value []byte) error {
	return w.b.Put([]byte(key), value)
}

func (w bucketWriter) Delete(key string) error {
	return w.b.Delete([]byte(key))
}

// Batch applies the writes of fn in one bolt transaction, which is rolled
// back if fn fails.
func (k *kv) Batch(fn func(w storage.Writer) error) error {
	return k.update("batch", func(b *bbolt.Bucket) error {
		return fn(bucketWriter{b: b})
	})
}
