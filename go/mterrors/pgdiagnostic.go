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

package mterrors

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PgDiagnostic represents a PostgreSQL diagnostic message (error or notice).
// PostgreSQL uses the same wire format for both ErrorResponse ('E') and
// NoticeResponse ('N'), differentiated by the MessageType field.
type PgDiagnostic struct {
	// MessageType is the PostgreSQL protocol message type byte.
	// 'E' for ErrorResponse, 'N' for NoticeResponse.
	MessageType byte
	Severity    string
	Code        string
	Message     string
	Detail      string
	Hint        string
	Position    int32
	Where       string
	Schema      string
	Table       string
	Column      string
	DataType    string
	Constraint  string
}

// NewPgDiagnostic converts a driver error response.
func NewPgDiagnostic(pgErr *pgconn.PgError) *PgDiagnostic {
	return fromPgError('E', pgErr)
}

// NewPgNotice converts a driver notice response.
func NewPgNotice(n *pgconn.Notice) *PgDiagnostic {
	return fromPgError('N', (*pgconn.PgError)(n))
}

func fromPgError(msgType byte, e *pgconn.PgError) *PgDiagnostic {
	return &PgDiagnostic{
		MessageType: msgType,
		Severity:    e.Severity,
		Code:        e.Code,
		Message:     e.Message,
		Detail:      e.Detail,
		Hint:        e.Hint,
		Position:    e.Position,
		Where:       e.Where,
		Schema:      e.SchemaName,
		Table:       e.TableName,
		Column:      e.ColumnName,
		DataType:    e.DataTypeName,
		Constraint:  e.ConstraintName,
	}
}

// IsError returns true if this diagnostic represents an error.
func (d *PgDiagnostic) IsError() bool {
	return d.MessageType == 'E'
}

// IsNotice returns true if this diagnostic represents a notice.
func (d *PgDiagnostic) IsNotice() bool {
	return d.MessageType == 'N'
}

// SQLSTATE returns the PostgreSQL SQLSTATE error code.
func (d *PgDiagnostic) SQLSTATE() string {
	return d.Code
}

// SQLSTATEClass returns the first 2 characters of the SQLSTATE code, or ""
// if the code is too short.
func (d *PgDiagnostic) SQLSTATEClass() string {
	if len(d.Code) < 2 {
		return ""
	}
	return d.Code[:2]
}

// IsFatal returns true for FATAL and PANIC severities. After either of those
// the server has terminated the session.
func (d *PgDiagnostic) IsFatal() bool {
	return d.Severity == "FATAL" || d.Severity == "PANIC"
}

// ConditionName returns the PostgreSQL condition name of the diagnostic's
// SQLSTATE. See [ConditionName].
func (d *PgDiagnostic) ConditionName() string {
	return ConditionName(d.Code)
}

// Error returns the PostgreSQL-native format: "SEVERITY: message".
func (d *PgDiagnostic) Error() string {
	if d == nil {
		return "ERROR: unknown error"
	}
	return d.Severity + ": " + d.Message
}

// FullError returns the error with SQLSTATE code for debugging purposes.
func (d *PgDiagnostic) FullError() string {
	if d == nil {
		return "ERROR: unknown error (SQLSTATE 00000)"
	}
	return d.Severity + ": " + d.Message + " (SQLSTATE " + d.Code + ")"
}

// TraceLines returns the diagnostic's secondary lines the way psql prints
// them: continuation lines of the primary message, then DETAIL, HINT and
// CONTEXT.
func (d *PgDiagnostic) TraceLines() []string {
	var lines []string
	if _, rest, ok := strings.Cut(d.Message, "\n"); ok {
		lines = append(lines, splitLines(rest)...)
	}
	if d.Detail != "" {
		lines = append(lines, prefixLines("DETAIL:  ", d.Detail)...)
	}
	if d.Hint != "" {
		lines = append(lines, prefixLines("HINT:  ", d.Hint)...)
	}
	if d.Where != "" {
		lines = append(lines, prefixLines("CONTEXT:  ", d.Where)...)
	}
	return lines
}

// ConditionName maps a SQLSTATE to its PostgreSQL condition name, such as
// "division_by_zero" for 22012. Unknown codes fall back to the name of their
// class, and then to the raw code.
func ConditionName(sqlstate string) string {
	if sqlstate == "" {
		return "unknown_error"
	}
	code := pq.ErrorCode(sqlstate)
	if name := code.Name(); name != "" {
		return name
	}
	if len(sqlstate) >= 2 {
		if name := code.Class().Name(); name != "" {
			return name
		}
	}
	return sqlstate
}

// Names used for statement failures that did not come from the server.
const (
	ConnectionFailure = "connection_failure"
	DriverError       = "driver_error"
	SessionClosedName = "session_closed"
	SessionBusy       = "session_busy"
	QueryCanceled     = "query_canceled"
)

// StatementError is the classified form of a failed statement.
type StatementError struct {
	// Name is the condition name, e.g. "unique_violation".
	Name string
	// Description is the first line of the primary message.
	Description string
	// Trace holds the remaining message lines and DETAIL/HINT/CONTEXT.
	Trace []string
	// Code is the SQLSTATE, empty for errors raised outside the server.
	Code string
}

// Classify converts an execution error into a StatementError. connGone tells
// whether the native connection is closed after the failure.
func Classify(err error, connGone bool) StatementError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		d := NewPgDiagnostic(pgErr)
		first, _, _ := strings.Cut(d.Message, "\n")
		return StatementError{
			Name:        d.ConditionName(),
			Description: first,
			Trace:       d.TraceLines(),
			Code:        d.Code,
		}
	}

	lines := splitLines(err.Error())
	se := StatementError{Name: DriverError}
	if len(lines) > 0 {
		se.Description = lines[0]
		se.Trace = lines[1:]
	}
	switch {
	case errors.Is(err, ErrSessionClosed):
		se.Name = SessionClosedName
	case connGone:
		se.Name = ConnectionFailure
	}
	return se
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func prefixLines(prefix, s string) []string {
	lines := splitLines(s)
	if len(lines) > 0 {
		lines[0] = prefix + lines[0]
	}
	return lines
}
