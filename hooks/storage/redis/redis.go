// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/hooks/storage"

	redis "github.com/go-redis/redis/v8"
)

// defaultAddr is the default address to the redis service.
const defaultAddr = "localhost:6379"

// defaultHPrefix is a prefix to better identify hsets created by mochi mqtt.
const defaultHPrefix = "mochi-"

// Options contains configuration settings for the redis instance. Options
// takes precedence over the individual connection fields when set.
type Options struct {
	Address  string `yaml:"address" json:"address"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	Database int    `yaml:"database" json:"database"`
	HPrefix  string `yaml:"h_prefix" json:"h_prefix"`
	Options  *redis.Options
}

// Hook is a persistent storage hook based using Redis as a backend.
// Each kind of record is kept in its own hash set.
type Hook struct {
	mqtt.HookBase
	*storage.Store
	config *Options        // options for connecting to the Redis instance.
	db     *redis.Client   // the Redis instance
	ctx    context.Context // a context for the connection
}

// ID returns the id of the hook.
func (h *Hook) ID() string {
	return "redis-db"
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains(mqtt.StorageMethods, []byte{b})
}

// Init initializes and connects to the redis service.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqtt.ErrInvalidConfigType
	}

	h.ctx = context.Background()

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)
	if h.config.HPrefix == "" {
		h.config.HPrefix = defaultHPrefix
	}

	if h.config.Options == nil {
		h.config.Options = &redis.Options{
			Addr:     h.config.Address,
			Username: h.config.Username,
			Password: h.config.Password,
			DB:       h.config.Database,
		}
	}

	if h.config.Options.Addr == "" {
		h.config.Options.Addr = defaultAddr
	}

	h.Log.Info("connecting to redis service",
		"address", h.config.Options.Addr,
		"username", h.config.Options.Username,
		"password-len", len(h.config.Options.Password),
		"db", h.config.Options.DB)

	h.db = redis.NewClient(h.config.Options)
	_, err := h.db.Ping(h.ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping service: %w", err)
	}

	h.Store = storage.NewStore(&kv{
		db:     h.db,
		ctx:    h.ctx,
		prefix: h.config.HPrefix,
	})

	h.Log.Info("connected to redis service")

	return nil
}

// Stop closes the redis connection.
func (h *Hook) Stop() error {
	if h.db == nil {
		return nil
	}

	h.Log.Info("disconnecting from redis service")
	return h.db.Close()
}

// kv adapts redis hash sets to the storage KV interface. The kind segment of
// a key selects the hash set, and the full key is the field.
type kv struct {
	db     *redis.Client
	ctx    context.Context
	prefix string
}

// hKey returns the hash set key holding entries of the given storage key or prefix.
func (k *kv) hKey(key string) string {
	kind, _, _ := strings.Cut(key, "/")
	return k.prefix + kind
}

func (k *kv) Set(key string, value []byte) error {
	return k.db.HSet(k.ctx, k.hKey(key), key, value).Err()
}

func (k *kv) Get(key string) ([]byte, error) {
	v, err := k.db.HGet(k.ctx, k.hKey(key), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	return v, err
}

func (k *kv) Delete(key string) error {
	return k.db.HDel(k.ctx, k.hKey(key), key).Err()
}

func (k *kv) Iterate(prefix string, fn func(key string, value []byte) error) error {
	rows, err := k.db.HGetAll(k.ctx, k.hKey(prefix)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	keys := make([]string, 0, len(rows))
	for key := range rows {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := fn(key, []byte(rows[key])); err != nil {
			return err
		}
	}

	return nil
}

// pipeWriter queues writes on a MULTI/EXEC pipeline.
type pipeWriter struct {
	k    *kv
	pipe redis.Pipeliner
}

func (w pipeWriter) Set(key string, value []byte) error {
	w.pipe.HSet(w.k.ctx, w.k.hKey(key), key, value)
	return nil
}

func (w pipeWriter) Delete(key string) error {
	w.pipe.HDel(w.k.ctx, w.k.hKey(key), key)
	return nil
}

// Batch sends the writes of fn as a single redis transaction. Nothing is
// sent if fn fails.
func (k *kv) Batch(fn func(w storage.Writer) error) error {
	_, err := k.db.TxPipelined(k.ctx, func(pipe redis.Pipeliner) error {
		return fn(pipeWriter{k: k, pipe: pipe})
	})
	return err
}
