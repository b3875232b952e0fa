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

package sqltypes

// Payload is the wire form of a Result.
type Payload struct {
	Success bool     `json:"success" yaml:"success"`
	Builtin bool     `json:"builtin" yaml:"builtin"`
	Query   string   `json:"query" yaml:"query"`
	Type    string   `json:"type" yaml:"type"`
	Data    string   `json:"data" yaml:"data"`
	ID      string   `json:"id" yaml:"id"`
	Notices []string `json:"notices" yaml:"notices"`
}

// Payload converts r for transport. Errors travel with type "message", so a
// client tells them apart by Success.
func (r *Result) Payload(builtin bool) Payload {
	typ := KindMessage.String()
	if r.Kind == KindDataset {
		typ = KindDataset.String()
	}
	notices := r.Notices
	if notices == nil {
		notices = []string{}
	}
	return Payload{
		Success: r.Success,
		Builtin: builtin,
		Query:   r.Query,
		Type:    typ,
		Data:    r.Render(),
		ID:      r.ID,
		Notices: notices,
	}
}
