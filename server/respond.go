package server

import (
	"encoding/json"
	"net/http"

	"github.com/colinzhu/jmeter-web-runner-sub000/errors"
)

// errorResponse is the JSON body for all error replies
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON serializes v with the given status code
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("Failed to encode response", "error", err)
	}
}

// writeError maps sentinel error categories onto HTTP status codes:
// not-found 404, invalid-state 409, invalid-request 400, anything else
// an opaque 500 with the detail kept in the server log.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsNotFoundError(err):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.IsInvalidStateError(err):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.IsInvalidRequestError(err):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.log.Errorw("Request failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
