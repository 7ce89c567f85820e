// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, gsagula, werbenhu

package badger

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/hooks/storage"
)

const (
	defaultDbFile         = ".badger"
	defaultGcInterval     = 5 * 60
	defaultGcDiscardRatio = 0.5
)

// Options configures the badger hook. Options, when set, is passed to
// badger as is and Path is ignored.
type Options struct {
	Options *badgerdb.Options `yaml:"-" json:"-"`
	Path    string            `yaml:"path" json:"path"`

	// GcDiscardRatio is the share of a value log file which must be stale
	// before it is rewritten. Lower values reclaim more space for more work.
	GcDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio"`
	GcInterval     int64   `yaml:"gc_interval" json:"gc_interval"` // seconds between collections
}

// Hook persists sessions in a BadgerDB directory.
type Hook struct {
	mqtt.HookBase
	*storage.Store
	config *Options
	db     *badgerdb.DB
	stop   chan struct{} // closed to end the value log gc loop
	gc     sync.WaitGroup
}

func (h *Hook) ID() string {
	return "badger-db"
}

func (h *Hook) Provides(b byte) bool {
	return bytes.Contains(mqtt.StorageMethods, []byte{b})
}

// applyDefaults fills the unset or out of range options.
func (o *Options) applyDefaults() {
	if o.Path == "" {
		o.Path = defaultDbFile
	}

	if o.GcInterval <= 0 {
		o.GcInterval = defaultGcInterval
	}

	// the discard ratio must lie strictly between 0 and 1
	if o.GcDiscardRatio <= 0 || o.GcDiscardRatio >= 1 {
		o.GcDiscardRatio = defaultGcDiscardRatio
	}

	if o.Options == nil {
		bo := badgerdb.DefaultOptions(o.Path)
		o.Options = &bo
	}
}

// Init opens the database and starts reclaiming value log space in the
// background.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqtt.ErrInvalidConfigType
	}

	h.config, _ = config.(*Options)
	if h.config == nil {
		h.config = new(Options)
	}
	h.config.applyDefaults()
	h.config.Options.Logger = &badgerLogger{log: h.Log}

	db, err := badgerdb.Open(*h.config.Options)
	if err != nil {
		return fmt.Errorf("open badger at %s: %w", h.config.Path, err)
	}

	h.db = db
	h.Store = storage.NewStore(&kv{db: db})
	h.stop = make(chan struct{})
	h.gc.Add(1)
	go h.gcLoop(time.Duration(h.config.GcInterval) * time.Second)

	return nil
}

// gcLoop rewrites value log files until badger reports nothing left to
// reclaim, once per interval.
// See https://dgraph.io/docs/badger/get-started/#garbage-collection
func (h *Hook) gcLoop(interval time.Duration) {
	defer h.gc.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			for h.db.RunValueLogGC(h.config.GcDiscardRatio) == nil {
			}
		}
	}
}

// Stop ends garbage collection and closes the database.
func (h *Hook) Stop() error {
	if h.db == nil {
		return nil
	}

	close(h.stop)
	h.gc.Wait()

	err := h.db.Close()
	h.db = nil
	return err
}

// badgerLogger sends badger's own log lines to the hook logger.
type badgerLogger struct {
	log *slog.Logger
}

func tidy(m string, v []any) string {
	return fmt.Sprintf(strings.ToLower(strings.TrimSpace(m)), v...)
}

func (l *badgerLogger) Errorf(m string, v ...any)   { l.log.Error(tidy(m, v)) }
func (l *badgerLogger) Warningf(m string, v ...any) { l.log.Warn(tidy(m, v)) }
func (l *badgerLogger) Infof(m string, v ...any)    { l.log.Info(tidy(m, v)) }
func (l *badgerLogger) Debugf(m string, v ...any)   { l.log.Debug(tidy(m, v)) }

// kv adapts a badger database to the storage KV interface.
type kv struct {
	db *badgerdb.DB
}

func (k *kv) Set(key string, value []byte) error {
	return k.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (k *kv) Get(key string) (value []byte, err error) {
	err = k.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	return value, err
}

func (k *kv) Delete(key string) error {
	return k.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (k *kv) Iterate(prefix string, fn func(key string, value []byte) error) error {
	return k.db.View(func(txn *badgerdb.Txn) error {
		iterator := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer iterator.Close()

		p := []byte(prefix)
		for iterator.Seek(p); iterator.ValidForPrefix(p); iterator.Next() {
			item := iterator.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if err := fn(string(item.KeyCopy(nil)), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// txnWriter writes within an open badger transaction.
type txnWriter struct {
	txn *badgerdb.Txn
}

func (w txnWriter) Set(key string, value []byte) error {
	return w.txn.Set([]byte(key), value)
}

func (w txnWriter) Delete(key string) error {
	return w.txn.Delete([]byte(key))
}

// Batch applies the writes of fn in one badger transaction, which is
// discarded if fn fails.
func (k *kv) Batch(fn func(w storage.Writer) error) error {
	return k.db.Update(func(txn *badgerdb.Txn) error {
		return fn(txnWriter{txn: txn})
	})
}
