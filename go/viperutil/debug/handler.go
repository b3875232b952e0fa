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

package debug

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/lensql/lensql/go/viperutil"
)

// redacted keys are replaced in the output.
var redacted = []string{"password", "secret", "token"}

type configData struct {
	CommandLineFlags map[string]string `json:"command_line_flags" yaml:"command_line_flags"`
	Config           map[string]any    `json:"config" yaml:"config"`
	ConfigFile       string            `json:"config_file,omitempty" yaml:"config_file,omitempty"`
}

// HandlerFunc returns an http.HandlerFunc that renders the resolved config
// registry for debugging purposes. fs lists the flags whose explicitly set
// values are shown.
//
// Example requests:
//   - GET /debug/config
//   - GET /debug/config?format=yaml
func HandlerFunc(reg *viperutil.Registry, fs *pflag.FlagSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := reg.Combined()
		data := configData{
			CommandLineFlags: make(map[string]string),
			Config:           make(map[string]any),
			ConfigFile:       v.ConfigFileUsed(),
		}
		if fs != nil {
			fs.VisitAll(func(flag *pflag.Flag) {
				if flag.Changed {
					data.CommandLineFlags[flag.Name] = redact(flag.Name, flag.Value.String())
				}
			})
		}
		for _, k := range v.AllKeys() {
			value := v.Get(k)
			if value == nil {
				continue
			}
			data.Config[k] = redactAny(k, value)
		}

		switch format := strings.ToLower(r.URL.Query().Get("format")); format {
		case "", "json":
			w.Header().Set("Content-Type", "application/json")
			encoder := json.NewEncoder(w)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(data); err != nil {
				http.Error(w, fmt.Sprintf("failed to encode JSON: %v", err), http.StatusInternalServerError)
			}
		case "yaml":
			out, err := yaml.Marshal(data)
			if err != nil {
				http.Error(w, fmt.Sprintf("failed to encode YAML: %v", err), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(out)
		default:
			http.Error(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
		}
	}
}

func isSecret(key string) bool {
	key = strings.ToLower(key)
	for _, s := range redacted {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func redact(key, value string) string {
	if isSecret(key) {
		return "****"
	}
	return value
}

func redactAny(key string, value any) any {
	if isSecret(key) {
		return "****"
	}
	return value
}
