// Package http exposes the REST API for task submission, approvals, and
// operator visibility.
package http

import (
	"net/http"

	"github.com/taskfabric/taskfabric/internal/adapter/ws"
	"github.com/taskfabric/taskfabric/internal/domain/approval"
	"github.com/taskfabric/taskfabric/internal/domain/task"
	"github.com/taskfabric/taskfabric/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Router *service.RouterService
	Pool   *service.PoolService
	Hub    *ws.Hub
}

// NewHandlers creates the handler set.
func NewHandlers(router *service.RouterService, pool *service.PoolService, hub *ws.Hub) *Handlers {
	return &Handlers{Router: router, Pool: pool, Hub: hub}
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

type submitResponse struct {
	TaskID string `json:"task_id"`
}

// SubmitTask accepts a new task and returns its assigned ID.
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}

	id, err := h.Router.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: id})
}

// GetTask returns the current status view of a task.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	v, err := h.Router.GetStatus(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// CancelTask aborts a pending, queued, executing, or suspended task.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	if err := h.Router.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

type batchRequest struct {
	Tasks []task.CreateRequest `json:"tasks"`
}

type batchResponse struct {
	Results []task.StatusView `json:"results"`
}

// ExecuteBatch submits a set of tasks and blocks until all reach a
// terminal status.
func (h *Handlers) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[batchRequest](w, r)
	if !ok {
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, "tasks is required")
		return
	}

	views, err := h.Router.ExecuteBatch(r.Context(), req.Tasks)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: views})
}

// ---------------------------------------------------------------------------
// Approvals
// ---------------------------------------------------------------------------

type approvalsResponse struct {
	Approvals []approval.Request `json:"approvals"`
}

// ListApprovals returns all outstanding approval requests.
func (h *Handlers) ListApprovals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, approvalsResponse{Approvals: h.Router.ListPendingApprovals()})
}

type resolveRequest struct {
	Approved bool `json:"approved"`
}

// ResolveApproval delivers a human decision for a suspended task.
func (h *Handlers) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[resolveRequest](w, r)
	if !ok {
		return
	}

	if err := h.Router.Resolve(r.Context(), id, req.Approved); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"approved": req.Approved})
}

// ---------------------------------------------------------------------------
// Pool
// ---------------------------------------------------------------------------

// GetPoolStatus returns the operator-facing pool snapshot.
func (h *Handlers) GetPoolStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Pool.Status())
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
