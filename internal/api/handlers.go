package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentmesh/orchestrator/engine"
	"github.com/agentmesh/orchestrator/internal/config"
	"github.com/agentmesh/orchestrator/internal/memory"
	"github.com/agentmesh/orchestrator/internal/taskstore"
	"github.com/agentmesh/orchestrator/internal/validator"
	"github.com/agentmesh/orchestrator/pkg/types"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	engine    *engine.Engine
	validator *validator.Validator
	events    *memory.Broadcast
	config    *config.Config
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *engine.Engine, v *validator.Validator, events *memory.Broadcast, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		engine:    eng,
		validator: v,
		events:    events,
		config:    cfg,
		logger:    logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ready",
	})
}

// --- Task Management ---

// CreateTask handles POST /api/v1/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if h.validator != nil {
		if result := h.validator.ValidateTaskJSON(body); !result.Valid {
			h.respondValidation(w, r, result)
			return
		}
	}

	var task types.WorkflowTask
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&task); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	created, err := h.engine.CreateTask(ctx, &task)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, created)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	task, err := h.engine.GetTask(id)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, task)
}

// GetTaskStatus handles GET /api/v1/tasks/{id}/status
func (h *Handlers) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	report, err := h.engine.GetTaskStatus(id)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, report)
}

// ListTasks handles GET /api/v1/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := taskstore.Filter{
		WorkflowID: q.Get("workflow_id"),
		Search:     q.Get("search"),
	}
	for _, s := range splitParam(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, types.TaskStatus(s))
	}
	filter.Agents = splitParam(q.Get("agent"))
	filter.Tags = splitParam(q.Get("tag"))
	if v := q.Get("priority_min"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.PriorityMin = &n
		}
	}
	if v := q.Get("priority_max"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.PriorityMax = &n
		}
	}
	if v := q.Get("created_after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.CreatedAfter = &t
		}
	}
	if v := q.Get("created_before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.CreatedBefore = &t
		}
	}
	if v := q.Get("due_before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.DueBefore = &t
		}
	}

	order := taskstore.Sort{
		Field:      taskstore.SortField(q.Get("sort")),
		Descending: q.Get("order") == "desc",
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	page := h.engine.ListTasks(filter, order, limit, offset)
	h.respondJSON(w, http.StatusOK, page)
}

// UpdateTask handles PATCH /api/v1/tasks/{id}
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var patch engine.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	updated, err := h.engine.UpdateTask(ctx, id, patch)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, updated)
}

// DeleteTask handles DELETE /api/v1/tasks/{id}
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if err := h.engine.DeleteTask(ctx, id); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CancelTask handles POST /api/v1/tasks/{id}/cancel
// The optional body carries {reason, rollback, cascade, force}; rollback
// defaults to true. ?cascade=true is honored for body-less callers.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	opts := engine.CancelOptions{Rollback: true}
	var body struct {
		Reason   string `json:"reason"`
		Rollback *bool  `json:"rollback"`
		Cascade  bool   `json:"cascade"`
		Force    bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	opts.Reason = body.Reason
	opts.Cascade = body.Cascade || r.URL.Query().Get("cascade") == "true"
	opts.Force = body.Force
	if body.Rollback != nil {
		opts.Rollback = *body.Rollback
	}

	report, err := h.engine.CancelTask(ctx, id, opts)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, report)
}

// --- Dependency Graph ---

// GetGraph handles GET /api/v1/graph
func (h *Handlers) GetGraph(w http.ResponseWriter, r *http.Request) {
	nodes, edges := h.engine.DependencyGraph()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"edges": edges,
	})
}

// --- Resources ---

// GetResource handles GET /api/v1/resources/{id}
func (h *Handlers) GetResource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.respondJSON(w, http.StatusOK, h.engine.ResourceStatus(id))
}

// --- Workflow Management ---

// CreateWorkflow handles POST /api/v1/workflows
func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if h.validator != nil {
		if result := h.validator.ValidateWorkflowJSON(body); !result.Valid {
			h.respondValidation(w, r, result)
			return
		}
	}

	var wf types.Workflow
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&wf); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	created, err := h.engine.CreateWorkflow(ctx, &wf)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, created)
}

// GetWorkflow handles GET /api/v1/workflows/{id}
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	wf, err := h.engine.GetWorkflow(id)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, wf)
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": h.engine.ListWorkflows(),
	})
}

// ExecuteWorkflow handles POST /api/v1/workflows/{id}/execute
// With ?wait=true the handler blocks until the workflow finishes or the
// client disconnects; otherwise execution starts in the background.
func (h *Handlers) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if r.URL.Query().Get("wait") == "true" {
		result, err := h.engine.ExecuteWorkflow(ctx, id)
		if err != nil {
			if errors.Is(err, ctx.Err()) {
				return
			}
			h.respondDomainError(w, r, err)
			return
		}
		h.respondJSON(w, http.StatusOK, result)
		return
	}

	if err := h.engine.StartWorkflow(ctx, id); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": id,
		"status":      "running",
		"sse_url":     "/api/v1/events",
	})
}

// --- Helper Methods ---

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondValidation(w http.ResponseWriter, r *http.Request, result *validator.ValidationResult) {
	details := map[string]interface{}{"errors": result.Errors}
	writeErrorResponse(w, r, http.StatusBadRequest, ErrCodeBadRequest, "payload failed schema validation", details)
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	h.logger.Error(message, "error", err, "status", status)
	var details map[string]interface{}
	if err != nil {
		details = map[string]interface{}{"details": err.Error()}
	}
	writeErrorResponse(w, r, status, HTTPStatusToErrorCode(status), message, details)
}

// respondDomainError maps engine errors to HTTP statuses.
func (h *Handlers) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var (
		valErr  *types.ValidationError
		cycErr  *types.CyclicDependencyError
		depErr  *types.DependentsExistError
		termErr *types.AlreadyTerminalError
	)
	switch {
	case errors.Is(err, types.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.As(err, &valErr):
		status, message = http.StatusBadRequest, "validation failed"
	case errors.As(err, &cycErr):
		status, message = http.StatusBadRequest, "dependency cycle"
	case errors.As(err, &depErr):
		status, message = http.StatusConflict, "dependents exist"
	case errors.As(err, &termErr):
		status, message = http.StatusConflict, "task already terminal"
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeErrorResponse(w, r, status, HTTPStatusToErrorCode(status), message,
		map[string]interface{}{"details": err.Error()})
}
