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

// Package server exposes the query service over HTTP.
//
// Callers are identified by a header set by the authenticating proxy in
// front of lensqld; this package trusts it as is.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/lensql/lensql/go/mterrors"
	"github.com/lensql/lensql/go/queryservice"
)

// DefaultIdentityHeader carries the authenticated user name.
const DefaultIdentityHeader = "X-Authenticated-User"

// maxBodyBytes bounds request bodies, scripts included.
const maxBodyBytes = 1 << 20

// HandleFunc registers a handler for a ServeMux pattern.
type HandleFunc func(pattern string, handler func(http.ResponseWriter, *http.Request))

// Server holds the HTTP handlers.
type Server struct {
	logger         *slog.Logger
	svc            *queryservice.Service
	identityHeader string
}

// NewServer creates a Server. An empty identityHeader means
// DefaultIdentityHeader.
func NewServer(logger *slog.Logger, svc *queryservice.Service, identityHeader string) *Server {
	if identityHeader == "" {
		identityHeader = DefaultIdentityHeader
	}
	return &Server{
		logger:         logger,
		svc:            svc,
		identityHeader: identityHeader,
	}
}

// RegisterHandlers registers every endpoint with handle.
func (s *Server) RegisterHandlers(handle HandleFunc) {
	handle("POST /login", s.handleLogin)
	handle("POST /logout", s.handleLogout)
	handle("POST /run", s.handleRun)
	handle("POST /builtin/{name}", s.handleBuiltin)
	handle("GET /healthz", s.handleHealthz)
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	ID      string `json:"id,omitempty"`
}

func writeJSON(w http.ResponseWriter, httpCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, httpCode int, code mterrors.Code, message string) {
	writeJSON(w, httpCode, ErrorResponse{
		Error: message,
		Code:  code.String(),
	})
}

// writeServiceError writes an error returned by the query service.
func writeServiceError(w http.ResponseWriter, err error) {
	code := mterrors.CodeOf(err)
	resp := ErrorResponse{
		Error: err.Error(),
		Code:  code.String(),
	}
	var le *mterrors.LensqlError
	if errors.As(err, &le) {
		resp.ID = le.ID
	}
	writeJSON(w, codeToHTTP(code), resp)
}

// codeToHTTP converts error codes to HTTP status codes.
func codeToHTTP(code mterrors.Code) int {
	switch code {
	case mterrors.Unauthenticated:
		return http.StatusUnauthorized
	case mterrors.FailedPrecondition:
		// The client must log in again.
		return http.StatusConflict
	case mterrors.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// identity returns the caller, writing a 401 if the header is missing.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(s.identityHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, mterrors.Unauthenticated, "missing "+s.identityHeader+" header")
		return "", false
	}
	return id, true
}
