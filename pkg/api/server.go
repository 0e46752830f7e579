// Package api exposes the scheduler over HTTP. It is a thin translation
// layer: every handler maps a request onto one scheduler or cluster
// operation and one of the sentinel errors onto a status code.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/SandrickPro/packsched/pkg/cluster"
	"github.com/SandrickPro/packsched/pkg/models"
	"github.com/SandrickPro/packsched/pkg/scheduler"
	"github.com/SandrickPro/packsched/pkg/store"
)

// Handler serves the scheduler API.
type Handler struct {
	sched   *scheduler.Scheduler
	cluster *cluster.State
	archive store.Archive
	log     *logrus.Entry
}

// NewHandler creates the API handler. The archive may be nil; decision
// endpoints then return empty results.
func NewHandler(s *scheduler.Scheduler, cs *cluster.State, archive store.Archive) *Handler {
	return &Handler{
		sched:   s,
		cluster: cs,
		archive: archive,
		log:     logrus.WithField("component", "api"),
	}
}

// RegisterRoutes attaches all API routes to the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/jobs", h.SubmitJob).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.CancelJob).Methods("DELETE")
	r.HandleFunc("/jobs/{id}/start", h.StartJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/complete", h.CompleteJob).Methods("POST")
	r.HandleFunc("/decisions", h.ListDecisions).Methods("GET")

	r.HandleFunc("/nodes", h.RegisterNode).Methods("POST")
	r.HandleFunc("/nodes", h.ListNodes).Methods("GET")
	r.HandleFunc("/nodes/{id}", h.GetNode).Methods("GET")
	r.HandleFunc("/nodes/{id}", h.RemoveNode).Methods("DELETE")
	r.HandleFunc("/nodes/{id}/heartbeat", h.NodeHeartbeat).Methods("POST")
	r.HandleFunc("/nodes/{id}/drain", h.DrainNode).Methods("POST")

	r.HandleFunc("/dispatch", h.Dispatch).Methods("POST")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// SubmitJob admits a new job into the queue.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req models.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &models.Job{
		Name:         req.Name,
		Request:      req.Request,
		Priority:     priority,
		NodeSelector: req.NodeSelector,
		Preferences:  req.Preferences,
	}
	id, err := h.sched.Submit(job)
	if err != nil {
		h.writeSchedulerError(w, err)
		return
	}

	created, err := h.sched.GetJob(id)
	if err != nil {
		h.writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListJobs lists jobs, optionally filtered with ?status=.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, h.sched.ListJobs(status))
}

// GetJob returns one job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.sched.GetJob(mux.Vars(r)["id"])
	if err != nil {
		h.writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob cancels a pending or scheduled job.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.sched.Cancel(id); err != nil {
		h.writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "canceled"})
}

// StartJob marks a scheduled job as running. Called by whatever executes the
// job when it actually begins.
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.sched.Start(id); err != nil {
		h.writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "running"})
}

type completeRequest struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CompleteJob records a running job's outcome and frees its capacity.
func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.sched.Complete(id, req.Success, req.Error); err != nil {
		h.writeSchedulerError(w, err)
		return
	}
	job, err := h.sched.GetJob(id)
	if err != nil {
		h.writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListDecisions returns recent placement decisions from the archive.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusOK, []*models.SchedulingDecision{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	decisions, err := h.archive.ListDecisions(limit)
	if err != nil {
		h.log.WithError(err).Error("list decisions")
		writeError(w, http.StatusInternalServerError, "archive query failed")
		return
	}
	if decisions == nil {
		decisions = []*models.SchedulingDecision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

// RegisterNode adds a node to the cluster.
func (h *Handler) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var reg models.NodeRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if reg.Name == "" {
		writeError(w, http.StatusBadRequest, "node name is required")
		return
	}

	node := &models.Node{
		Name:        reg.Name,
		Total:       reg.Total,
		Labels:      reg.Labels,
		Healthy:     true,
		Schedulable: true,
	}
	id, err := h.cluster.AddNode(node)
	if err != nil {
		h.writeClusterError(w, err)
		return
	}
	h.log.WithFields(logrus.Fields{"node": id, "name": reg.Name}).Info("node registered")

	created, err := h.cluster.GetNode(id)
	if err != nil {
		h.writeClusterError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListNodes returns every registered node.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cluster.ListNodes())
}

// GetNode returns one node.
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.cluster.GetNode(mux.Vars(r)["id"])
	if err != nil {
		h.writeClusterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// RemoveNode cordons a node so it receives no further placements.
func (h *Handler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.cluster.RemoveNode(id); err != nil {
		h.writeClusterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "removed"})
}

// NodeHeartbeat records a heartbeat from a node.
func (h *Handler) NodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.cluster.Heartbeat(id); err != nil {
		h.writeClusterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "ok"})
}

// DrainNode cordons or uncordons a node depending on ?undo=.
func (h *Handler) DrainNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	undo := r.URL.Query().Get("undo") == "true"
	if err := h.cluster.SetSchedulable(id, undo); err != nil {
		h.writeClusterError(w, err)
		return
	}
	state := "drained"
	if undo {
		state = "schedulable"
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": state})
}

// Dispatch runs one dispatch cycle. Useful for event-driven callers that
// prefer to trigger placement themselves instead of waiting for the ticker.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	decision, err := h.sched.DispatchOnce()
	if err != nil {
		h.writeSchedulerError(w, err)
		return
	}
	if decision == nil {
		writeJSON(w, http.StatusOK, map[string]any{"placed": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"placed": true, "decision": decision})
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) writeSchedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrDuplicateJob),
		errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.WithError(err).Error("scheduler operation")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeClusterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cluster.ErrNodeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cluster.ErrDuplicateNode):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.WithError(err).Error("cluster operation")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
