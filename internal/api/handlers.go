package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"bizagents/internal/audit"
	"bizagents/internal/domain/workflow_run"
	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

const maxBodyBytes = 1 << 20

// WorkflowSubmitter runs a workflow synchronously
type WorkflowSubmitter interface {
	Submit(ctx context.Context, def orchestration.WorkflowDefinition) (*orchestration.WorkflowResult, error)
}

// RunReader reads recorded workflow runs
type RunReader interface {
	Get(ctx context.Context, id uuid.UUID) (*workflow_run.Run, error)
	ListRecent(ctx context.Context, workflow string, limit int) ([]*workflow_run.Run, error)
}

// AgentDirectory lists registered agents
type AgentDirectory interface {
	ListAgents() []string
	Describe(name string) (orchestration.Descriptor, bool)
}

// AuditArchive answers audit queries from long-term storage
type AuditArchive interface {
	Query(ctx context.Context, f audit.Filter, limit int) ([]audit.Entry, error)
}

// Handlers serves the /api/v1 routes
type Handlers struct {
	engine  WorkflowSubmitter
	runs    RunReader
	agents  AgentDirectory
	audit   *audit.Log
	archive AuditArchive // optional
	log     *logger.Logger
}

// NewHandlers creates the handlers; archive may be nil
func NewHandlers(engine WorkflowSubmitter, runs RunReader, agents AgentDirectory, auditLog *audit.Log, archive AuditArchive) *Handlers {
	return &Handlers{
		engine:  engine,
		runs:    runs,
		agents:  agents,
		audit:   auditLog,
		archive: archive,
		log:     logger.Component("api"),
	}
}

// Register mounts the routes on mux
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/workflows", h.submitWorkflow)
	mux.HandleFunc("GET /api/v1/workflows", h.listWorkflows)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.getWorkflow)
	mux.HandleFunc("GET /api/v1/agents", h.listAgents)
	mux.HandleFunc("GET /api/v1/audit", h.queryAudit)
}

// WorkflowResponse is a workflow result plus a readable duration
type WorkflowResponse struct {
	*orchestration.WorkflowResult
	Took string `json:"took"`
}

func (h *Handlers) submitWorkflow(w http.ResponseWriter, r *http.Request) {
	var def orchestration.WorkflowDefinition
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrapf(errors.ErrInvalidInput, "decode workflow: %v", err))
		return
	}

	result, err := h.engine.Submit(r.Context(), def)
	if err != nil {
		h.log.Warnw("Workflow submission failed", "workflow", def.Name, "error", err)
		body := map[string]any{"error": err.Error()}
		if result != nil {
			body["result"] = result
		}
		writeJSON(w, statusFor(err), body)
		return
	}

	writeJSON(w, http.StatusOK, WorkflowResponse{WorkflowResult: result, Took: result.Duration().String()})
}

func (h *Handlers) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrapf(errors.ErrInvalidInput, "run id: %v", err))
		return
	}

	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handlers) listWorkflows(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	runs, err := h.runs.ListRecent(r.Context(), r.URL.Query().Get("workflow"), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (h *Handlers) listAgents(w http.ResponseWriter, r *http.Request) {
	names := h.agents.ListAgents()
	out := make([]orchestration.Descriptor, 0, len(names))
	for _, name := range names {
		if d, ok := h.agents.Describe(name); ok {
			out = append(out, d)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

// AuditEntryView adds a relative age to an entry
type AuditEntryView struct {
	audit.Entry
	Age string `json:"age"`
}

func (h *Handlers) queryAudit(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var entries []audit.Entry
	source := r.URL.Query().Get("source")
	switch source {
	case "", "memory":
		source = "memory"
		entries = h.audit.Entries(f)
		if len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
	case "archive":
		if h.archive == nil {
			writeError(w, http.StatusNotFound, errors.Wrap(errors.ErrNotFound, "audit archive is not configured"))
			return
		}
		entries, err = h.archive.Query(r.Context(), f, limit)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, errors.Wrapf(errors.ErrInvalidInput, "unknown source %q", source))
		return
	}

	now := time.Now()
	views := make([]AuditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, AuditEntryView{Entry: e, Age: humanize.RelTime(e.Timestamp, now, "ago", "from now")})
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "entries": views, "count": len(views)})
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{Subject: q.Get("subject"), Workflow: q.Get("workflow")}

	if raw := q.Get("run_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, errors.Wrapf(errors.ErrInvalidInput, "run_id: %v", err)
		}
		f.RunID = id
	}

	if raw := q.Get("kind"); raw != "" {
		for k := range strings.SplitSeq(raw, ",") {
			kind := audit.Kind(strings.TrimSpace(k))
			if !kind.Valid() {
				return f, errors.Wrapf(errors.ErrInvalidInput, "unknown audit kind %q", kind)
			}
			if !slices.Contains(f.Kinds, kind) {
				f.Kinds = append(f.Kinds, kind)
			}
		}
	}

	for key, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.Wrapf(errors.ErrInvalidInput, "%s: %v", key, err)
		}
		*dst = t
	}
	return f, nil
}

func intParam(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.Wrapf(errors.ErrInvalidInput, "%s must be a positive integer", key)
	}
	return n, nil
}

// statusFor maps engine and storage errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrCycleDetected),
		errors.Is(err, errors.ErrConstructionFailed):
		return http.StatusFailedDependency
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
