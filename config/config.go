// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mochi-mqtt/session/hooks/auth"
	"github.com/mochi-mqtt/session/hooks/debug"
	"github.com/mochi-mqtt/session/hooks/storage/badger"
	"github.com/mochi-mqtt/session/hooks/storage/bolt"
	"github.com/mochi-mqtt/session/hooks/storage/memory"
	"github.com/mochi-mqtt/session/hooks/storage/pebble"
	"github.com/mochi-mqtt/session/hooks/storage/redis"
	"github.com/mochi-mqtt/session/listeners"
	"gopkg.in/yaml.v3"

	mqtt "github.com/mochi-mqtt/session"
)

var (
	ErrListenerIDRequired  = errors.New("listener id is required")
	ErrListenerIDDuplicate = errors.New("listener id is used more than once")
	ErrListenerType        = errors.New("unknown listener type")
)

// config defines the structure of configuration data to be parsed from a config source.
type config struct {
	Options     mqtt.Options
	Listeners   []listeners.Config `yaml:"listeners" json:"listeners"`
	HookConfigs HookConfigs        `yaml:"hooks" json:"hooks"`
}

// HookConfigs contains configurations to enable individual hooks.
type HookConfigs struct {
	Auth    *HookAuthConfig    `yaml:"auth" json:"auth"`
	Storage *HookStorageConfig `yaml:"storage" json:"storage"`
	Debug   *debug.Options     `yaml:"debug" json:"debug"`
}

// HookAuthConfig contains configurations for the auth hook.
type HookAuthConfig struct {
	Ledger   auth.Ledger `yaml:"ledger" json:"ledger"`
	AllowAll bool        `yaml:"allow_all" json:"allow_all"`
}

// HookStorageConfig contains configurations for the different storage hooks.
// Only the first configured backend is loaded, as a session may be persisted
// in a single place.
type HookStorageConfig struct {
	Memory *memory.Options `yaml:"memory" json:"memory"`
	Badger *badger.Options `yaml:"badger" json:"badger"`
	Bolt   *bolt.Options   `yaml:"bolt" json:"bolt"`
	Pebble *pebble.Options `yaml:"pebble" json:"pebble"`
	Redis  *redis.Options  `yaml:"redis" json:"redis"`
}

// ToHooks converts Hook file configurations into Hooks to be added to the server.
func (hc HookConfigs) ToHooks() []mqtt.HookLoadConfig {
	var hlc []mqtt.HookLoadConfig

	if hc.Auth != nil {
		hlc = append(hlc, hc.toHooksAuth()...)
	}

	if hc.Storage != nil {
		hlc = append(hlc, hc.toHooksStorage()...)
	}

	if hc.Debug != nil {
		hlc = append(hlc, mqtt.HookLoadConfig{
			Hook:   new(debug.Hook),
			Config: hc.Debug,
		})
	}

	return hlc
}

// toHooksAuth converts auth hook configurations into auth hooks.
func (hc HookConfigs) toHooksAuth() []mqtt.HookLoadConfig {
	var hlc []mqtt.HookLoadConfig
	if hc.Auth.AllowAll {
		hlc = append(hlc, mqtt.HookLoadConfig{
			Hook: new(auth.AllowHook),
		})
	} else {
		hlc = append(hlc, mqtt.HookLoadConfig{
			Hook: new(auth.Hook),
			Config: &auth.Options{
				Ledger: &auth.Ledger{ // avoid copying sync.Locker
					Users: hc.Auth.Ledger.Users,
					Auth:  hc.Auth.Ledger.Auth,
					ACL:   hc.Auth.Ledger.ACL,
				},
			},
		})
	}
	return hlc
}

// toHooksStorage converts the storage hook configuration into a storage hook.
func (hc HookConfigs) toHooksStorage() []mqtt.HookLoadConfig {
	switch {
	case hc.Storage.Memory != nil:
		return []mqtt.HookLoadConfig{{Hook: new(memory.Hook), Config: hc.Storage.Memory}}
	case hc.Storage.Badger != nil:
		return []mqtt.HookLoadConfig{{Hook: new(badger.Hook), Config: hc.Storage.Badger}}
	case hc.Storage.Bolt != nil:
		return []mqtt.HookLoadConfig{{Hook: new(bolt.Hook), Config: hc.Storage.Bolt}}
	case hc.Storage.Redis != nil:
		return []mqtt.HookLoadConfig{{Hook: new(redis.Hook), Config: hc.Storage.Redis}}
	case hc.Storage.Pebble != nil:
		return []mqtt.HookLoadConfig{{Hook: new(pebble.Hook), Config: hc.Storage.Pebble}}
	}
	return nil
}

// validate checks that the configured listeners can all be attached to a
// server.
func (c *config) validate() error {
	seen := make(map[string]struct{}, len(c.Listeners))
	for _, l := range c.Listeners {
		if l.ID == "" {
			return ErrListenerIDRequired
		}

		if _, ok := seen[l.ID]; ok {
			return fmt.Errorf("%w: %s", ErrListenerIDDuplicate, l.ID)
		}
		seen[l.ID] = struct{}{}

		switch l.Type {
		case listeners.TypeTCP, listeners.TypeWS, listeners.TypeUnix,
			listeners.TypeHealthCheck, listeners.TypeSysInfo, listeners.TypeMock:
		default:
			return fmt.Errorf("%w %q for listener %s", ErrListenerType, l.Type, l.ID)
		}
	}

	return nil
}

// FromFile reads server options from a JSON or YAML file.
func FromFile(path string) (*mqtt.Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	o, err := FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return o, nil
}

// FromBytes unmarshals a byte slice of JSON or YAML config data into a valid server options value.
// Any hooks configurations are converted into Hooks using the toHooks methods in this package.
func FromBytes(b []byte) (*mqtt.Options, error) {
	c := new(config)
	o := mqtt.Options{}

	if len(b) == 0 {
		return nil, nil
	}

	if b[0] == '{' {
		err := json.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	} else {
		err := yaml.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	o = c.Options
	o.Hooks = c.HookConfigs.ToHooks()
	o.Listeners = c.Listeners

	return &o, nil
}
