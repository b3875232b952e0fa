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

package executor

import (
	"fmt"
	"strings"

	"github.com/lensql/lensql/go/mterrors"
)

// Builtin is one of the fixed introspection queries a user can run without
// writing SQL.
type Builtin int

const (
	ListSchemas Builtin = iota + 1
	ListTables
	ListAllTables
	ListConstraints
	ShowSearchPath
)

// Builtins lists every builtin in display order.
var Builtins = []Builtin{ListSchemas, ListTables, ListAllTables, ListConstraints, ShowSearchPath}

const listSchemasSQL = `SELECT n.nspname AS schema_name,
       pg_catalog.pg_get_userbyid(n.nspowner) AS owner
FROM pg_catalog.pg_namespace n
WHERE n.nspname !~ '^pg_'
  AND n.nspname <> 'information_schema'
ORDER BY n.nspname`

const listTablesSQL = `SELECT t.table_schema, t.table_name, t.table_type
FROM information_schema.tables t
WHERE t.table_schema = ANY (pg_catalog.current_schemas(false))
ORDER BY t.table_schema, t.table_name`

const listAllTablesSQL = `SELECT t.table_schema, t.table_name, t.table_type
FROM information_schema.tables t
WHERE t.table_schema !~ '^pg_'
  AND t.table_schema <> 'information_schema'
ORDER BY t.table_schema, t.table_name`

const listConstraintsSQL = `SELECT n.nspname AS table_schema,
       c.relname AS table_name,
       con.conname AS constraint_name,
       CASE con.contype
           WHEN 'p' THEN 'PRIMARY KEY'
           WHEN 'f' THEN 'FOREIGN KEY'
           WHEN 'u' THEN 'UNIQUE'
           WHEN 'c' THEN 'CHECK'
           WHEN 'x' THEN 'EXCLUDE'
           ELSE con.contype::text
       END AS constraint_type,
       pg_catalog.pg_get_constraintdef(con.oid) AS definition
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname !~ '^pg_'
  AND n.nspname <> 'information_schema'
ORDER BY 1, 2, 3`

const showSearchPathSQL = `SHOW search_path`

var builtinInfo = map[Builtin]struct {
	name string
	slug string
	sql  string
}{
	ListSchemas:     {"LIST_SCHEMAS", "list-schemas", listSchemasSQL},
	ListTables:      {"LIST_TABLES", "list-tables", listTablesSQL},
	ListAllTables:   {"LIST_ALL_TABLES", "list-all-tables", listAllTablesSQL},
	ListConstraints: {"LIST_CONSTRAINTS", "list-constraints", listConstraintsSQL},
	ShowSearchPath:  {"SHOW_SEARCH_PATH", "show-search-path", showSearchPathSQL},
}

// String returns the builtin's name, which is also the Query of its result.
func (b Builtin) String() string {
	if info, ok := builtinInfo[b]; ok {
		return info.name
	}
	return fmt.Sprintf("Builtin(%d)", int(b))
}

// Slug returns the URL form of the name, e.g. "list-schemas".
func (b Builtin) Slug() string {
	return builtinInfo[b].slug
}

// SQL returns the statement the builtin runs.
func (b Builtin) SQL() string {
	return builtinInfo[b].sql
}

// Valid reports whether b is a known builtin.
func (b Builtin) Valid() bool {
	_, ok := builtinInfo[b]
	return ok
}

// ParseBuiltin accepts either the slug or the name of a builtin.
func ParseBuiltin(s string) (Builtin, error) {
	for _, b := range Builtins {
		info := builtinInfo[b]
		if s == info.slug || strings.EqualFold(s, info.name) {
			return b, nil
		}
	}
	return 0, mterrors.LS01004(s)
}
