package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ha1tch/friendgraph/pkg/apperrors"
	"github.com/ha1tch/friendgraph/pkg/models"
	"github.com/ha1tch/friendgraph/pkg/record"
)

const maxBodySize = 1 << 20

// handleGetUsers lists the people with a given name, or everyone when the
// user parameter is absent
func (s *Server) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var people []models.Person
	var err error
	if q.Has("user") {
		people, err = s.directory.Named(r.Context(), q.Get("user"))
	} else {
		people, err = s.directory.People(r.Context(), "")
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, people)
}

// handleAddUser creates a person from the request body
func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var person models.Person
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&person); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Invalid JSON")
		return
	}

	uid, err := s.directory.Add(r.Context(), &person)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeText(w, http.StatusOK, uid)
}

// handleGetUID resolves a name to an identifier
func (s *Server) handleGetUID(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("user")
	if name == "" {
		s.fail(w, r, apperrors.MissingParameter("user"))
		return
	}

	uid, err := s.directory.UID(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeText(w, http.StatusOK, uid)
}

// handleAddFriend appends a friend reference
func (s *Server) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uid, friend := q.Get("uid"), q.Get("friend")
	if uid == "" {
		s.fail(w, r, apperrors.MissingParameter("uid"))
		return
	}
	if friend == "" {
		s.fail(w, r, apperrors.MissingParameter("friend"))
		return
	}

	result, err := s.directory.AddFriend(r.Context(), uid, friend)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeText(w, http.StatusOK, result)
}

// handleUpdateUser merge-patches a person from query parameters
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uid := q.Get("uid")
	if uid == "" {
		s.fail(w, r, apperrors.MissingParameter("uid"))
		return
	}

	person, err := s.directory.Update(r.Context(), uid, record.ParsePatch(q))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, person)
}

// fail maps an error to its status and writes it
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("path", r.URL.Path).
			Str("kind", string(apperrors.KindOf(err))).
			Msg("Request failed")
	}
	s.writeError(w, r, status, apperrors.Message(err))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

// writeError answers with the JSON envelope when the client asks for
// JSON and with a plain text line otherwise
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if !wantsJSON(r) {
		s.writeText(w, status, "Error: "+message)
		return
	}

	s.writeJSON(w, status, models.ErrorResponse{
		Error: struct {
			Message string `json:"message"`
			Status  int    `json:"status"`
		}{
			Message: message,
			Status:  status,
		},
	})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
