// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/session/hooks/auth"
	"github.com/mochi-mqtt/session/hooks/debug"
	"github.com/mochi-mqtt/session/hooks/storage/badger"
	"github.com/mochi-mqtt/session/hooks/storage/bolt"
	"github.com/mochi-mqtt/session/hooks/storage/memory"
	"github.com/mochi-mqtt/session/hooks/storage/pebble"
	"github.com/mochi-mqtt/session/hooks/storage/redis"
	"github.com/mochi-mqtt/session/listeners"

	mqtt "github.com/mochi-mqtt/session"
)

var (
	yamlBytes = []byte(`
listeners:
  - type: "tcp"
    id: "file-tcp1"
    address: ":1883"
hooks:
  auth:
    allow_all: true
options:
  broker_id: "broker-1"
  client_net_read_buffer_size: 4096
  connect_timeout: 10
  persistence_workers: 4
  capabilities:
    maximum_client_writes_pending: 64
    maximum_qos: 1
`)

	jsonBytes = []byte(`{
   "listeners": [
      {
         "type": "tcp",
         "id": "file-tcp1",
         "address": ":1883"
      }
   ],
   "hooks": {
      "auth": {
         "allow_all": true
      }
   },
   "options": {
      "broker_id": "broker-1",
      "client_net_read_buffer_size": 4096,
      "connect_timeout": 10,
      "persistence_workers": 4,
      "capabilities": {
         "maximum_client_writes_pending": 64,
         "maximum_qos": 1
      }
   }
}
`)

	parsedOptions = mqtt.Options{
		Listeners: []listeners.Config{
			{
				Type:    listeners.TypeTCP,
				ID:      "file-tcp1",
				Address: ":1883",
			},
		},
		Hooks: []mqtt.HookLoadConfig{
			{
				Hook: new(auth.AllowHook),
			},
		},
		BrokerID:                "broker-1",
		ClientNetReadBufferSize: 4096,
		ConnectTimeout:          10,
		PersistenceWorkers:      4,
		Capabilities: &mqtt.Capabilities{
			MaximumClientWritesPending: 64,
			MaximumQos:                 1,
		},
	}
)

func TestFromBytesEmpty(t *testing.T) {
	o, err := FromBytes([]byte{})
	require.NoError(t, err)
	require.Nil(t, o)
}

func TestFromBytesYAML(t *testing.T) {
	o, err := FromBytes(yamlBytes)
	require.NoError(t, err)
	require.Equal(t, parsedOptions, *o)
}

func TestFromBytesYAMLError(t *testing.T) {
	_, err := FromBytes(append(yamlBytes, 'a'))
	require.Error(t, err)
}

func TestFromBytesJSON(t *testing.T) {
	o, err := FromBytes(jsonBytes)
	require.NoError(t, err)
	require.Equal(t, parsedOptions, *o)
}

func TestFromBytesJSONError(t *testing.T) {
	_, err := FromBytes(append(jsonBytes, 'a'))
	require.Error(t, err)
}

func TestFromBytesStorageAndDebug(t *testing.T) {
	o, err := FromBytes([]byte(`
hooks:
  storage:
    redis:
      address: "localhost:6379"
      h_prefix: "sessions-"
  debug:
    show_pings: true
`))
	require.NoError(t, err)
	require.Len(t, o.Hooks, 2)

	require.IsType(t, new(redis.Hook), o.Hooks[0].Hook)
	ro := o.Hooks[0].Config.(*redis.Options)
	require.Equal(t, "localhost:6379", ro.Address)
	require.Equal(t, "sessions-", ro.HPrefix)

	require.IsType(t, new(debug.Hook), o.Hooks[1].Hook)
	require.True(t, o.Hooks[1].Config.(*debug.Options).ShowPings)
}

func TestToHooksAuthAllowAll(t *testing.T) {
	hc := HookConfigs{
		Auth: &HookAuthConfig{
			AllowAll: true,
		},
	}

	th := hc.toHooksAuth()
	expect := []mqtt.HookLoadConfig{
		{Hook: new(auth.AllowHook)},
	}
	require.Equal(t, expect, th)
}

func TestToHooksAuthAllowLedger(t *testing.T) {
	hc := HookConfigs{
		Auth: &HookAuthConfig{
			Ledger: auth.Ledger{
				Auth: auth.AuthRules{
					{Username: "peach", Password: "password1", Allow: true},
				},
			},
		},
	}

	th := hc.toHooksAuth()
	expect := []mqtt.HookLoadConfig{
		{
			Hook: new(auth.Hook),
			Config: &auth.Options{
				Ledger: &auth.Ledger{ // avoid copying sync.Locker
					Auth: auth.AuthRules{
						{Username: "peach", Password: "password1", Allow: true},
					},
				},
			},
		},
	}
	require.Equal(t, expect, th)
}

func TestToHooksStorage(t *testing.T) {
	tt := []struct {
		desc    string
		storage *HookStorageConfig
		hook    mqtt.Hook
	}{
		{"memory", &HookStorageConfig{Memory: &memory.Options{}}, new(memory.Hook)},
		{"badger", &HookStorageConfig{Badger: &badger.Options{Path: "badger"}}, new(badger.Hook)},
		{"bolt", &HookStorageConfig{Bolt: &bolt.Options{Path: "bolt"}}, new(bolt.Hook)},
		{"pebble", &HookStorageConfig{Pebble: &pebble.Options{Path: "pebble"}}, new(pebble.Hook)},
		{"redis", &HookStorageConfig{Redis: &redis.Options{Username: "test"}}, new(redis.Hook)},
	}

	for _, tx := range tt {
		t.Run(tx.desc, func(t *testing.T) {
			th := HookConfigs{Storage: tx.storage}.toHooksStorage()
			require.Len(t, th, 1)
			require.IsType(t, tx.hook, th[0].Hook)
			require.NotNil(t, th[0].Config)
		})
	}
}

func TestToHooksStorageFirstOnly(t *testing.T) {
	hc := HookConfigs{
		Storage: &HookStorageConfig{
			Memory: &memory.Options{},
			Bolt:   &bolt.Options{Path: "bolt"},
		},
	}

	th := hc.toHooksStorage()
	require.Len(t, th, 1)
	require.IsType(t, new(memory.Hook), th[0].Hook)

	require.Nil(t, HookConfigs{Storage: &HookStorageConfig{}}.toHooksStorage())
}

func TestFromBytesListenerValidation(t *testing.T) {
	tt := []struct {
		desc string
		conf string
		err  error
	}{
		{
			desc: "missing id",
			conf: `{"listeners":[{"type":"tcp","address":":1883"}]}`,
			err:  ErrListenerIDRequired,
		},
		{
			desc: "duplicate id",
			conf: `{"listeners":[{"type":"tcp","id":"t1"},{"type":"ws","id":"t1"}]}`,
			err:  ErrListenerIDDuplicate,
		},
		{
			desc: "unknown type",
			conf: `{"listeners":[{"type":"quic","id":"q1"}]}`,
			err:  ErrListenerType,
		},
	}

	for _, tx := range tt {
		t.Run(tx.desc, func(t *testing.T) {
			_, err := FromBytes([]byte(tx.conf))
			require.ErrorIs(t, err, tx.err)
		})
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, yamlBytes, 0o600))

	o, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, parsedOptions, *o)
}

func TestFromFileErrors(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listeners":[{"type":"tcp"}]}`), 0o600))
	_, err = FromFile(path)
	require.ErrorIs(t, err, ErrListenerIDRequired)
	require.Contains(t, err.Error(), path)
}
