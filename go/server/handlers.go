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

package server

import (
	"encoding/json"
	"net/http"

	"github.com/lensql/lensql/go/dbconn"
	"github.com/lensql/lensql/go/executor"
	"github.com/lensql/lensql/go/mterrors"
	"github.com/lensql/lensql/go/queryservice"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type runRequest struct {
	Query      string `json:"query"`
	ExerciseID int    `json:"exercise_id"`
}

type builtinRequest struct {
	ExerciseID int `json:"exercise_id"`
}

type okResponse struct {
	Success  bool   `json:"success"`
	Identity string `json:"identity,omitempty"`
	// Reused is set when login returned the session the user already had.
	Reused bool `json:"reused,omitempty"`
}

// handleLogin handles POST /login. It opens the user's session; the user
// name doubles as the database name. A user who already has a live session
// gets it back without the password being checked again, and the response
// says so with "reused": true. Identity is established upstream by the
// gateway that sets the identity header, so /login only provisions the
// database connection.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, mterrors.Unknown, "invalid request body: "+err.Error())
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, mterrors.Unknown, "username required")
		return
	}

	creds := dbconn.Credentials{User: req.Username, Password: req.Password}
	_, reused, err := s.svc.OpenSession(r.Context(), req.Username, creds)
	if err != nil {
		s.logger.InfoContext(r.Context(), "login failed", "identity", req.Username, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true, Identity: req.Username, Reused: reused})
}

// handleLogout handles POST /logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	if err := s.svc.Logout(r.Context(), identity); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true, Identity: identity})
}

// handleRun handles POST /run. Results are streamed one JSON object per
// line, each flushed as soon as its statement completes.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, mterrors.Unknown, "invalid request body: "+err.Error())
		return
	}

	results, err := s.svc.Execute(r.Context(), identity, req.Query, queryservice.WithExerciseID(req.ExerciseID))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	for res := range results {
		if err := enc.Encode(res.Payload(false)); err != nil {
			// The client went away; stop running the batch.
			s.logger.InfoContext(r.Context(), "stopped streaming results", "identity", identity, "error", err)
			return
		}
		_ = rc.Flush()
	}
}

// handleBuiltin handles POST /builtin/{name}.
func (s *Server) handleBuiltin(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	b, err := executor.ParseBuiltin(r.PathValue("name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var req builtinRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, mterrors.Unknown, "invalid request body: "+err.Error())
		return
	}

	res, err := s.svc.RunBuiltin(r.Context(), identity, b, queryservice.WithExerciseID(req.ExerciseID))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Payload(true))
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse{Success: true})
}
