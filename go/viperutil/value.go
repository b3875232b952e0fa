// Copyright 2026 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package viperutil

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options configure a value registered with Configure.
type Options[T any] struct {
	// Default is used when no flag, environment variable or config file
	// sets the value.
	Default T
	// FlagName is the pflag bound by BindFlags. Empty means no flag.
	FlagName string
	// EnvVars are checked, in order, before the config file.
	EnvVars []string
	// GetFunc overrides how the value is read from viper. Types without a
	// viper getter are decoded with mapstructure.
	GetFunc func(v *viper.Viper) func(key string) T
}

// Registerable is the untyped part of a Value, used by BindFlags.
type Registerable interface {
	Key() string
	Flag(fs *pflag.FlagSet) (*pflag.Flag, error)
	bind(flag *pflag.Flag) error
}

// Value is a typed handle to a key in a Registry.
type Value[T any] interface {
	Registerable
	Default() T
	Get() T
	Set(v T)
}

type staticValue[T any] struct {
	reg      *Registry
	key      string
	flagName string
	def      T
	get      func(key string) T
}

var _ Value[string] = (*staticValue[string])(nil)

// Configure registers key in reg and returns a handle to it. The default
// and environment bindings take effect immediately; flags take effect once
// passed to BindFlags.
func Configure[T any](reg *Registry, key string, opts Options[T]) Value[T] {
	reg.v.SetDefault(key, opts.Default)
	if len(opts.EnvVars) > 0 {
		vars := append([]string{key}, opts.EnvVars...)
		if err := reg.v.BindEnv(vars...); err != nil {
			slog.Warn("failed to bind environment variables", "key", key, "err", err)
		}
	}

	getFunc := opts.GetFunc
	if getFunc == nil {
		getFunc = defaultGetFunc[T]
	}
	return &staticValue[T]{
		reg:      reg,
		key:      key,
		flagName: opts.FlagName,
		def:      opts.Default,
		get:      getFunc(reg.v),
	}
}

func (val *staticValue[T]) Key() string { return val.key }
func (val *staticValue[T]) Default() T  { return val.def }
func (val *staticValue[T]) Get() T      { return val.get(val.key) }

// Set overrides the value. It takes precedence over every other source.
func (val *staticValue[T]) Set(v T) {
	val.reg.v.Set(val.key, v)
}

func (val *staticValue[T]) Flag(fs *pflag.FlagSet) (*pflag.Flag, error) {
	if val.flagName == "" {
		return nil, nil
	}
	flag := fs.Lookup(val.flagName)
	if flag == nil {
		return nil, fmt.Errorf("flag %s for key %s is not defined", val.flagName, val.key)
	}
	return flag, nil
}

func (val *staticValue[T]) bind(flag *pflag.Flag) error {
	return val.reg.v.BindPFlag(val.key, flag)
}

// BindFlags binds each value to its flag in fs. Values without a flag name
// are skipped. A missing flag is a programming error and panics.
func BindFlags(fs *pflag.FlagSet, values ...Registerable) {
	for _, val := range values {
		flag, err := val.Flag(fs)
		switch {
		case err != nil:
			panic(fmt.Errorf("failed to load flag for %s: %w", val.Key(), err))
		case flag == nil:
			continue
		}
		if err := val.bind(flag); err != nil {
			panic(fmt.Errorf("failed to bind flag %s to %s: %w", flag.Name, val.Key(), err))
		}
	}
}

func defaultGetFunc[T any](v *viper.Viper) func(key string) T {
	var zero T
	var get any
	switch any(zero).(type) {
	case string:
		get = v.GetString
	case bool:
		get = v.GetBool
	case int:
		get = v.GetInt
	case int64:
		get = v.GetInt64
	case float64:
		get = v.GetFloat64
	case time.Duration:
		get = v.GetDuration
	case []string:
		get = v.GetStringSlice
	}
	if f, ok := get.(func(string) T); ok {
		return f
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	return func(key string) T {
		var out T
		if err := v.UnmarshalKey(key, &out, hook); err != nil {
			slog.Warn(fmt.Sprintf("failed to unmarshal %s: %s; using zero value", key, err.Error()))
			return zero
		}
		return out
	}
}
