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
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Registry holds the viper instance backing a set of configuration values.
// Each command creates its own, so tests and sub-commands never share state
// through a global viper.
//
// Values never change after LoadConfig is called; lensqld has no live
// config reload.
type Registry struct {
	v *viper.Viper
}

// NewRegistry creates a new isolated configuration registry.
//
// Example usage:
//
//	reg := viperutil.NewRegistry()
//	maxAge := viperutil.Configure(reg, "max-connection-age", viperutil.Options[time.Duration]{
//	    Default:  time.Hour,
//	    FlagName: "max-connection-age",
//	})
func NewRegistry() *Registry {
	return &Registry{v: viper.New()}
}

// SetFs makes config files load from fs instead of the OS filesystem.
func (reg *Registry) SetFs(fs afero.Fs) {
	reg.v.SetFs(fs)
}

// ConfigFileUsed returns the config file that was loaded, if any.
func (reg *Registry) ConfigFileUsed() string {
	return reg.v.ConfigFileUsed()
}

// AllSettings returns every resolved value, keyed by name.
func (reg *Registry) AllSettings() map[string]any {
	return reg.v.AllSettings()
}

// Combined returns a copy of the registry's settings as a standalone viper,
// for debug handlers that should not be able to modify the live values.
func (reg *Registry) Combined() *viper.Viper {
	v := viper.New()
	_ = v.MergeConfigMap(reg.v.AllSettings())
	v.SetConfigFile(reg.v.ConfigFileUsed())
	return v
}
