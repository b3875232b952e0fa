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

// Package mterrors defines the coded errors returned by lensql and the
// classification of PostgreSQL diagnostics into statement errors.
package mterrors

import (
	"errors"
	"fmt"
)

// Code is the broad category of a lensql error. Transports map it onto their
// own status codes (see the HTTP server).
type Code int

const (
	// Unknown is used for errors that were not created by this package.
	Unknown Code = iota
	// Unauthenticated means the database rejected the supplied credentials
	// or could not be reached while opening a session.
	Unauthenticated
	// FailedPrecondition means the caller must do something first, such as
	// open a session.
	FailedPrecondition
	// NotFound means the requested named entity does not exist.
	NotFound
	// Internal is used for bugs and unexpected states.
	Internal
)

func (c Code) String() string {
	switch c {
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case FailedPrecondition:
		return "FAILED_PRECONDITION"
	case NotFound:
		return "NOT_FOUND"
	case Internal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

type codedError struct {
	code Code
	msg  string
	err  error
}

func (e *codedError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

// New returns an error carrying the given code.
func New(code Code, msg string) error {
	return &codedError{code: code, msg: msg}
}

// Errorf is New with formatting.
func Errorf(code Code, format string, args ...any) error {
	return &codedError{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with msg while keeping err's code.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &codedError{code: CodeOf(err), msg: msg, err: err}
}

// CodeOf returns the code of the outermost coded error in err's chain, or
// Unknown if there is none.
func CodeOf(err error) Code {
	if err == nil {
		return Unknown
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	var le *LensqlError
	if errors.As(err, &le) {
		return CodeOf(le.Err)
	}
	return Unknown
}
