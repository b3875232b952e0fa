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
	"fmt"
	"strings"
)

// Sentinels for errors.Is checks at the edges. Every LensqlError built from
// the catalog below matches exactly one of them.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrNoSession      = errors.New("no session")
	ErrSessionClosed  = errors.New("session closed")
	ErrUnknownBuiltin = errors.New("unknown builtin query")
	ErrEviction       = errors.New("eviction failed")
)

// Errors added to the list of variables below must be added to the Errors
// slice a little below in this same file.

var (
	// LS01001 Authentication Error
	LS01001 = errorWithSentinel("LS01001", Unauthenticated, ErrAuthentication, "cannot open a database session for %q", "The database rejected the credentials or could not be reached. Check the username, password and the configured database host.")

	// LS01002 No Session
	LS01002 = errorWithSentinel("LS01002", FailedPrecondition, ErrNoSession, "user %q does not have a connection to the database", "The user has no live session. It was never opened, was closed by logout, or expired after being idle. Log in again.")

	// LS01003 Session Closed
	LS01003 = errorWithSentinel("LS01003", FailedPrecondition, ErrSessionClosed, "session for %q is closed", "The session handle was closed while it was still in use.")

	// LS01004 Unknown Builtin
	LS01004 = errorWithSentinel("LS01004", NotFound, ErrUnknownBuiltin, "unknown builtin query %q", "Only the fixed introspection queries can be run as builtins.")

	// LS02001 Eviction Error
	LS02001 = errorWithSentinel("LS02001", Internal, ErrEviction, "failed to close expired session for %q", "Closing the native connection of an idle session failed. The session was still removed.")

	// Errors is a list of errors that must match all the variables
	// defined above to enable auto-documentation of error codes.
	Errors = []func(args ...any) *LensqlError{
		LS01001,
		LS01002,
		LS01003,
		LS01004,
		LS02001,
	}
)

// LensqlError is a catalogued error with a stable ID.
type LensqlError struct {
	Err         error
	Description string
	ID          string

	sentinel error
	cause    error
}

func (o *LensqlError) Error() string {
	if o.cause == nil {
		return o.Err.Error()
	}
	return o.Err.Error() + ": " + o.cause.Error()
}

// Cause returns the underlying error that triggered this one, if any.
func (o *LensqlError) Cause() error {
	return o.cause
}

// Unwrap exposes the sentinel and the cause so errors.Is works for both.
func (o *LensqlError) Unwrap() []error {
	errs := []error{o.Err, o.sentinel}
	if o.cause != nil {
		errs = append(errs, o.cause)
	}
	return errs
}

// WithCause returns a copy of o that wraps cause.
func (o *LensqlError) WithCause(cause error) *LensqlError {
	c := *o
	c.cause = cause
	return &c
}

var _ error = (*LensqlError)(nil)

func errorWithSentinel(id string, code Code, sentinel error, short, long string) func(args ...any) *LensqlError {
	return func(args ...any) *LensqlError {
		s := short
		if len(args) != 0 {
			s = fmt.Sprintf(s, args...)
		}

		return &LensqlError{
			Err:         New(code, id+": "+s),
			Description: long,
			ID:          id,
			sentinel:    sentinel,
		}
	}
}

// IsError reports whether err's message carries the given error ID.
func IsError(err error, id string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), id)
}
