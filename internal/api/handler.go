package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/commission/internal/domain"
	"github.com/opensource-finance/commission/internal/metrics"
	"github.com/opensource-finance/commission/internal/onboarding"
	"github.com/opensource-finance/commission/internal/risk"
	"github.com/opensource-finance/commission/internal/workflow"
)

// Deps are the services behind the HTTP surface. Cache, Risk and Audit may be nil.
type Deps struct {
	Workflow *workflow.Service
	Tracker  *onboarding.Tracker
	Metrics  *metrics.Service
	Risk     *risk.Manager
	Repo     domain.Repository
	Cache    domain.Cache
	Audit    domain.AuditSink
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	workflow *workflow.Service
	tracker  *onboarding.Tracker
	metrics  *metrics.Service
	risk     *risk.Manager
	repo     domain.Repository
	cache    domain.Cache
	audit    domain.AuditSink
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		workflow: d.Workflow,
		tracker:  d.Tracker,
		metrics:  d.Metrics,
		risk:     d.Risk,
		repo:     d.Repo,
		cache:    d.Cache,
		audit:    d.Audit,
		version:  d.Version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			slog.Warn("repository ping failed", "error", err)
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			slog.Warn("cache ping failed", "error", err)
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.workflow == nil || h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

func statusFor(kind string) int {
	switch kind {
	case "ValidationError", "MissingReason":
		return http.StatusBadRequest
	case "InvalidTransition":
		return http.StatusConflict
	case "Forbidden":
		return http.StatusForbidden
	case "NotFound":
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeError maps a core error onto its status code and error kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.ErrorKind(err)
	status := statusFor(kind)

	resp := errorResponse{Error: err.Error(), Kind: kind}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		resp.Error = "internal server error"
	}

	writeJSON(w, status, resp)
}

// decode reads a JSON body. Malformed input is a validation error.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Invalid("", "invalid JSON request body: %v", err)
	}
	return nil
}

// requireSelf keeps representatives to their own records.
func requireSelf(actor domain.Actor, userID string) error {
	if actor.Role == domain.RoleSales && userID != actor.ID {
		return fmt.Errorf("%w: representatives may only access their own records", domain.ErrForbidden)
	}
	return nil
}

func require(actor domain.Actor, res domain.Resource, c domain.Capability) error {
	if !domain.RolePermissions(actor.Role).Allows(res, c) {
		return fmt.Errorf("%w: role %q lacks access to %s", domain.ErrForbidden, actor.Role, res)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
