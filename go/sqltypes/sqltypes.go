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

// Package sqltypes holds the per-statement results produced by a batch.
// Values preserve the NULL vs empty string distinction; the NULL marker only
// appears once a result is rendered.
package sqltypes

import "fmt"

// Value represents a nullable column value in its text representation.
// nil means NULL, []byte{} means empty string.
type Value []byte

// IsNull returns true if the value is NULL.
func (v Value) IsNull() bool {
	return v == nil
}

// Kind tags the variant held by a Result.
type Kind int

const (
	// KindDataset is a statement that returned rows.
	KindDataset Kind = iota + 1
	// KindMessage is a statement that completed without rows.
	KindMessage
	// KindError is a statement that failed.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindDataset:
		return "dataset"
	case KindMessage:
		return "message"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Dataset is the row set returned by a statement.
type Dataset struct {
	Columns []string
	Rows    [][]Value
}

// Shape returns the number of rows and columns.
func (d *Dataset) Shape() (rows, cols int) {
	return len(d.Rows), len(d.Columns)
}

// Message is the outcome of a statement that returned no rows, such as
// "INSERT 1" or "CREATE".
type Message struct {
	Text string
}

// Error is a classified statement failure.
type Error struct {
	// Name is the PostgreSQL condition name, e.g. "division_by_zero".
	Name        string
	Description string
	Trace       []string
	// Code is the SQLSTATE, if the server produced the error.
	Code string
}

func (e *Error) String() string {
	return e.Name + ": " + e.Description
}

// Result is the outcome of one statement. Exactly one of Dataset, Message
// and Error is set, as selected by Kind.
type Result struct {
	Kind Kind
	// Query is the statement text, or the builtin name for builtin queries.
	Query   string
	Success bool
	// Notices are the server notices raised while the statement ran.
	Notices []string
	// ID is assigned by the audit recorder after the result is produced.
	ID string

	Dataset *Dataset
	Message *Message
	Error   *Error
}

// NewDataset returns a successful row-returning result.
func NewDataset(query string, ds *Dataset, notices []string) *Result {
	return &Result{Kind: KindDataset, Query: query, Success: true, Notices: notices, Dataset: ds}
}

// NewMessage returns a successful result without rows.
func NewMessage(query, text string, notices []string) *Result {
	return &Result{Kind: KindMessage, Query: query, Success: true, Notices: notices, Message: &Message{Text: text}}
}

// NewError returns a failed result.
func NewError(query string, e *Error, notices []string) *Result {
	return &Result{Kind: KindError, Query: query, Success: false, Notices: notices, Error: e}
}
