// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package memory provides a storage hook which keeps sessions in process
// memory. It survives client reconnects but not server restarts.
package memory

import (
	"bytes"

	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/hooks/storage"
)

// Options contains configuration settings for the memory store.
type Options struct{}

// Hook is a storage hook backed by an in-memory key/value map.
type Hook struct {
	mqtt.HookBase
	*storage.Store
	kv *storage.MemoryKV
}

// ID returns the id of the hook.
func (h *Hook) ID() string {
	return "memory-db"
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains(mqtt.StorageMethods, []byte{b})
}

// Init creates the empty store.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqtt.ErrInvalidConfigType
	}

	h.kv = storage.NewMemoryKV()
	h.Store = storage.NewStore(h.kv)
	return nil
}

// Len returns the number of records held.
func (h *Hook) Len() int {
	if h.kv == nil {
		return 0
	}
	return h.kv.Len()
}
