package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/colinzhu/jmeter-web-runner-sub000/errors"
)

// maxUploadSize limits test plan uploads to 50MB
const maxUploadSize = 50 << 20

// createExecutionRequest is the body of POST /api/executions
type createExecutionRequest struct {
	PlanID string `json:"plan_id"`
}

// clearHistoryResponse is the body of DELETE /api/executions
type clearHistoryResponse struct {
	Removed int `json:"removed"`
}

// handleExecutions routes the collection endpoint.
//
//	POST   /api/executions - Submit an execution for an uploaded plan
//	GET    /api/executions - List all executions, any status
//	DELETE /api/executions - Clear terminal execution history
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleExecutionCreate(w, r)
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.sched.List())
	case http.MethodDelete:
		if !s.allowSubmission(w) {
			return
		}
		removed := s.sched.ClearHistory()
		s.writeJSON(w, http.StatusOK, clearHistoryResponse{Removed: removed})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleExecutionCreate(w http.ResponseWriter, r *http.Request) {
	if !s.allowSubmission(w) {
		return
	}

	var req createExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrInvalidRequest, "malformed JSON body"))
		return
	}
	if req.PlanID == "" {
		s.writeError(w, errors.Wrap(errors.ErrInvalidRequest, "plan_id is required"))
		return
	}

	exec, err := s.sched.Create(req.PlanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, exec)
}

// handleExecutionByID routes the item endpoint.
//
//	GET    /api/executions/{id} - Fetch one execution
//	DELETE /api/executions/{id} - Cancel a queued or running execution
func (s *Server) handleExecutionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/executions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "execution id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		exec, err := s.sched.Get(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, exec)

	case http.MethodDelete:
		if !s.allowSubmission(w) {
			return
		}
		exec, err := s.sched.Cancel(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, exec)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePlans routes the test plan collection endpoint.
//
//	POST /api/plans - Upload a test plan (multipart form, field "file")
//	GET  /api/plans - List uploaded plans
func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePlanUpload(w, r)
	case http.MethodGet:
		plans, err := s.plans.List()
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, plans)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePlanUpload(w http.ResponseWriter, r *http.Request) {
	if !s.allowSubmission(w) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "file too large (max 50MB)", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, errors.Wrap(errors.ErrInvalidRequest, "missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	plan, err := s.plans.Save(header.Filename, file)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, plan)
}

// handlePlanByID serves GET /api/plans/{id}
func (s *Server) handlePlanByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/plans/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "plan id required", http.StatusBadRequest)
		return
	}

	plan, err := s.plans.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

// handleStatus serves GET /api/status with queue load and host metrics
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sched.SystemMetrics())
}
