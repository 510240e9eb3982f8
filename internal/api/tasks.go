package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"creative-review-engine/internal/auth"
	"creative-review-engine/internal/models"
	"creative-review-engine/internal/tasks"
)

type createTaskRequest struct {
	TaskType     models.TaskType    `json:"task_type"`
	PrincipalID  string             `json:"principal_id"`
	AdapterName  string             `json:"adapter_name"`
	Priority     models.Priority    `json:"priority"`
	Context      models.TaskContext `json:"context"`
	DueInSeconds int                `json:"due_in_seconds"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decode(w, r, &req) {
		return
	}
	principal := req.PrincipalID
	if principal == "" {
		principal = auth.PrincipalID(r.Context())
	}
	t, err := s.deps.Tasks.Create(r.Context(), tasks.CreateInput{
		TenantID:    auth.TenantID(r.Context()),
		TaskType:    req.TaskType,
		PrincipalID: principal,
		AdapterName: req.AdapterName,
		Priority:    req.Priority,
		Context:     req.Context,
		DueIn:       time.Duration(req.DueInSeconds) * time.Second,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleListTasks serves list_pending. Query params: principal_id,
// task_type, priority, status (comma separated), include_overdue, limit.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := tasks.Filter{
		TenantID:    auth.TenantID(r.Context()),
		PrincipalID: q.Get("principal_id"),
		TaskType:    models.TaskType(q.Get("task_type")),
		Priority:    models.Priority(q.Get("priority")),
	}
	for _, st := range strings.Split(q.Get("status"), ",") {
		if st = strings.TrimSpace(st); st != "" {
			f.Statuses = append(f.Statuses, models.TaskStatus(st))
		}
	}
	if v := q.Get("include_overdue"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "include_overdue must be a boolean"})
			return
		}
		f.IncludeOverdue = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = n
	}

	list, err := s.deps.Tasks.ListPending(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]taskView, len(list))
	now := time.Now()
	for i, t := range list {
		out[i] = viewOf(t, now)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out, "count": len(out)})
}

// taskView adds the derived effective status to listings.
type taskView struct {
	models.ReviewTask
	EffectiveStatus models.TaskStatus `json:"effective_status"`
}

func viewOf(t models.ReviewTask, now time.Time) taskView {
	return taskView{ReviewTask: t, EffectiveStatus: t.EffectiveStatus(now)}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Tasks.Get(r.Context(), auth.TenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(t, time.Now()))
}

type assignRequest struct {
	AssignedTo string `json:"assigned_to"`
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := s.deps.Tasks.Assign(r.Context(), auth.TenantID(r.Context()), chi.URLParam(r, "id"), req.AssignedTo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Tasks.Start(r.Context(), auth.TenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type closeRequest struct {
	Resolution       models.Resolution `json:"resolution"`
	ResolutionDetail string            `json:"resolution_detail"`
	ResolvedBy       string            `json:"resolved_by"`
}

func (r closeRequest) resolver(fallback string) string {
	if r.ResolvedBy != "" {
		return r.ResolvedBy
	}
	return fallback
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := s.deps.Tasks.Complete(r.Context(), auth.TenantID(r.Context()), chi.URLParam(r, "id"),
		req.Resolution, req.ResolutionDetail, req.resolver(auth.PrincipalID(r.Context())))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleFailTask(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := s.deps.Tasks.Fail(r.Context(), auth.TenantID(r.Context()), chi.URLParam(r, "id"),
		req.ResolutionDetail, req.resolver(auth.PrincipalID(r.Context())))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type verifyRequest struct {
	ExpectedOutcome map[string]any `json:"expected_outcome"`
}

func (s *Server) handleVerifyTask(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	res, err := s.deps.Verifier.Verify(r.Context(), auth.TenantID(r.Context()), chi.URLParam(r, "id"), req.ExpectedOutcome)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type markCompleteRequest struct {
	Override    bool   `json:"override"`
	CompletedBy string `json:"completed_by"`
}

func (s *Server) handleMarkComplete(w http.ResponseWriter, r *http.Request) {
	var req markCompleteRequest
	if !decode(w, r, &req) {
		return
	}
	by := req.CompletedBy
	if by == "" {
		by = auth.PrincipalID(r.Context())
	}
	res, t, err := s.deps.Verifier.MarkTaskComplete(r.Context(), auth.TenantID(r.Context()), chi.URLParam(r, "id"), req.Override, by)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusConflict && res.ExpectedState != nil {
			writeJSON(w, code, map[string]any{"error": err.Error(), "verification": res})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": t, "verification": res})
}
