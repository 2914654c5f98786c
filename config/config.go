// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package config builds dissector options from YAML or JSON configuration data.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mochi-mqtt/dissector"
	"github.com/mochi-mqtt/dissector/hooks/debug"
	"github.com/mochi-mqtt/dissector/hooks/metrics"
	"github.com/mochi-mqtt/dissector/hooks/storage/badger"
	"github.com/mochi-mqtt/dissector/hooks/storage/bolt"
	"github.com/mochi-mqtt/dissector/hooks/storage/pebble"
	"github.com/mochi-mqtt/dissector/hooks/storage/redis"
	"github.com/mochi-mqtt/dissector/listeners"
)

// config defines the structure of configuration data to be parsed from a config source.
type config struct {
	Options     dissector.Options
	Listeners   []listeners.Config `yaml:"listeners" json:"listeners"`
	HookConfigs HookConfigs        `yaml:"hooks" json:"hooks"`
}

// HookConfigs contains configurations to enable individual hooks.
type HookConfigs struct {
	Storage *HookStorageConfig `yaml:"storage" json:"storage"`
	Debug   *debug.Options     `yaml:"debug" json:"debug"`
	Metrics *metrics.Options   `yaml:"metrics" json:"metrics"`
}

// HookStorageConfig contains configurations for the different storage hooks.
type HookStorageConfig struct {
	Badger *badger.Options `yaml:"badger" json:"badger"`
	Bolt   *bolt.Options   `yaml:"bolt" json:"bolt"`
	Pebble *pebble.Options `yaml:"pebble" json:"pebble"`
	Redis  *redis.Options  `yaml:"redis" json:"redis"`
}

// ToHooks converts Hook file configurations into Hooks to be added to the dissector.
func (hc HookConfigs) ToHooks() []dissector.HookLoadConfig {
	var hlc []dissector.HookLoadConfig

	if hc.Storage != nil {
		hlc = append(hlc, hc.toHooksStorage()...)
	}

	if hc.Metrics != nil {
		hlc = append(hlc, dissector.HookLoadConfig{
			Hook:   new(metrics.Hook),
			Config: hc.Metrics,
		})
	}

	if hc.Debug != nil {
		hlc = append(hlc, dissector.HookLoadConfig{
			Hook:   new(debug.Hook),
			Config: hc.Debug,
		})
	}

	return hlc
}

// toHooksStorage converts storage hook configurations into storage hooks.
func (hc HookConfigs) toHooksStorage() []dissector.HookLoadConfig {
	var hlc []dissector.HookLoadConfig
	if hc.Storage.Badger != nil {
		hlc = append(hlc, dissector.HookLoadConfig{
			Hook:   new(badger.Hook),
			Config: hc.Storage.Badger,
		})
	}

	if hc.Storage.Bolt != nil {
		hlc = append(hlc, dissector.HookLoadConfig{
			Hook:   new(bolt.Hook),
			Config: hc.Storage.Bolt,
		})
	}

	if hc.Storage.Redis != nil {
		hlc = append(hlc, dissector.HookLoadConfig{
			Hook:   new(redis.Hook),
			Config: hc.Storage.Redis,
		})
	}

	if hc.Storage.Pebble != nil {
		hlc = append(hlc, dissector.HookLoadConfig{
			Hook:   new(pebble.Hook),
			Config: hc.Storage.Pebble,
		})
	}
	return hlc
}

// FromBytes unmarshals a byte slice of JSON or YAML config data into a valid dissector options value.
// Any hooks configurations are converted into Hooks using the toHooks methods in this package.
func FromBytes(b []byte) (*dissector.Options, error) {
	c := new(config)

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

	o := c.Options
	o.Hooks = c.HookConfigs.ToHooks()
	o.Listeners = c.Listeners

	return &o, nil
}

// FromFile reads and unmarshals a JSON or YAML config file.
func FromFile(path string) (*dissector.Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return FromBytes(b)
}
