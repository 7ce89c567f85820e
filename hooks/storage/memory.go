// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryKV is a KV held entirely in process memory.
type MemoryKV struct {
	sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		data: map[string][]byte{},
	}
}

// Set stores a copy of value under key.
func (m *MemoryKV) Set(key string, value []byte) error {
	m.Lock()
	defer m.Unlock()
	m.data[key] = append([]byte{}, value...)
	return nil
}

// Get returns the value stored under key.
func (m *MemoryKV) Get(key string) ([]byte, error) {
	m.RLock()
	defer m.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Delete removes key.
func (m *MemoryKV) Delete(key string) error {
	m.Lock()
	defer m.Unlock()
	delete(m.data, key)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryKV) Len() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.data)
}

// Iterate calls fn for every key with the given prefix in key order.
func (m *MemoryKV) Iterate(prefix string, fn func(key string, value []byte) error) error {
	m.RLock()
	keys := make([]string, 0, len(m.data))
	values := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
			values[k] = v
		}
	}
	m.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, values[k]); err != nil {
			return err
		}
	}

	return nil
}

// memoryOp is a staged write.
type memoryOp struct {
	key   string
	value []byte
	del   bool
}

type memoryBatch struct {
	ops []memoryOp
}

func (b *memoryBatch) Set(key string, value []byte) error {
	b.ops = append(b.ops, memoryOp{key: key, value: append([]byte{}, value...)})
	return nil
}

func (b *memoryBatch) Delete(key string) error {
	b.ops = append(b.ops, memoryOp{key: key, del: true})
	return nil
}

// Batch stages the writes of fn and applies them together if it succeeds.
func (m *MemoryKV) Batch(fn func(w Writer) error) error {
	b := new(memoryBatch)
	if err := fn(b); err != nil {
		return err
	}

	m.Lock()
	defer m.Unlock()
	for _, op := range b.ops {
		if op.del {
			delete(m.data, op.key)
			continue
		}
		m.data[op.key] = op.value
	}

	return nil
}
