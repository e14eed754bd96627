package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/commission/internal/domain"
)

// OnboardingUpdateRequest is the request body for POST /onboarding/progress/update.
type OnboardingUpdateRequest struct {
	UserID string `json:"userId"`
	Task   string `json:"task"`
}

// GetProgress handles GET /onboarding/progress/{userId}.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	userID := chi.URLParam(r, "userId")
	if err := requireSelf(actor, userID); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.tracker.GetProgress(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateProgress handles POST /onboarding/progress/update.
func (h *Handler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())

	var req OnboardingUpdateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = actor.ID
	}
	if err := require(actor, domain.ResourceOnboarding, domain.CapWrite); err != nil {
		writeError(w, r, err)
		return
	}
	if err := requireSelf(actor, userID); err != nil {
		writeError(w, r, err)
		return
	}
	task, err := domain.ParseTask(req.Task)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.tracker.RecordEvent(r.Context(), userID, task)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListNotifications handles GET /notifications/{userId}.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	userID := chi.URLParam(r, "userId")
	if err := requireSelf(actor, userID); err != nil {
		writeError(w, r, err)
		return
	}

	notes, err := h.repo.ListNotifications(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if notes == nil {
		notes = []*domain.Notification{}
	}
	writeJSON(w, http.StatusOK, notes)
}

// ListAudit handles GET /audit. Only approvers see the full trail.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if err := require(ActorFrom(r.Context()), domain.ResourceDeals, domain.CapApprove); err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	entries, err := h.repo.ListAuditEntries(r.Context(), q.Get("entityType"), q.Get("entityId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListRiskRules handles GET /risk/rules.
func (h *Handler) ListRiskRules(w http.ResponseWriter, r *http.Request) {
	if err := require(ActorFrom(r.Context()), domain.ResourceRiskRules, domain.CapRead); err != nil {
		writeError(w, r, err)
		return
	}

	rules, err := h.risk.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rules == nil {
		rules = []*domain.RiskRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// SaveRiskRule handles POST /risk/rules. The rule is compiled and loaded
// before the response is written.
func (h *Handler) SaveRiskRule(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	if err := require(actor, domain.ResourceRiskRules, domain.CapWrite); err != nil {
		writeError(w, r, err)
		return
	}

	var rule domain.RiskRule
	if err := decode(r, &rule); err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := h.risk.Save(r.Context(), &rule)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("risk rule saved", "rule_id", saved.ID, "actor_id", actor.ID)
	if h.audit != nil {
		err := h.audit.Record(r.Context(), domain.AuditEntry{
			ID:         uuid.New().String(),
			ActorID:    actor.ID,
			Action:     "risk_rule.saved",
			EntityType: domain.EntityRiskRule,
			EntityID:   saved.ID,
			Details:    map[string]any{"expression": saved.Expression, "enabled": saved.Enabled},
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			slog.Warn("failed to record audit entry", "rule_id", saved.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, saved)
}

// ReloadRiskRules handles POST /risk/rules/reload.
func (h *Handler) ReloadRiskRules(w http.ResponseWriter, r *http.Request) {
	if err := require(ActorFrom(r.Context()), domain.ResourceRiskRules, domain.CapWrite); err != nil {
		writeError(w, r, err)
		return
	}

	count, err := h.risk.Reload(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "risk rules reloaded",
		"count":   count,
	})
}
