package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/commission/internal/domain"
	"github.com/opensource-finance/commission/internal/lifecycle"
	"github.com/opensource-finance/commission/internal/workflow"
)

// CreateDealRequest is the request body for POST /deals.
type CreateDealRequest struct {
	DealName          string          `json:"dealName"`
	OrganizationName  string          `json:"organizationName"`
	ClientName        string          `json:"clientName"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	DealType          string          `json:"dealType"`
	Priority          string          `json:"priority"`
	AssignedUserID    string          `json:"assignedUserId"`
	PolicyID          string          `json:"policyId"`
	ExpectedCloseDate *time.Time      `json:"expectedCloseDate,omitempty"`
}

// UpdateDealRequest is the request body for PUT /deals/{id}. Absent fields are unchanged.
type UpdateDealRequest struct {
	DealName          *string          `json:"dealName"`
	OrganizationName  *string          `json:"organizationName"`
	ClientName        *string          `json:"clientName"`
	Currency          *string          `json:"currency"`
	Priority          *string          `json:"priority"`
	ExpectedCloseDate *time.Time       `json:"expectedCloseDate"`
	Amount            *decimal.Decimal `json:"amount"`
	DealType          *string          `json:"dealType"`
	PolicyID          *string          `json:"policyId"`
}

// TransitionRequest is the request body for PATCH /deals/{id}/status.
type TransitionRequest struct {
	Status     string `json:"status"`
	Comment    string `json:"comment,omitempty"`
	Reason     string `json:"reason,omitempty"`
	AssigneeID string `json:"assigneeId,omitempty"`
}

// ListDeals handles GET /deals.
func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.DealFilter{UserID: q.Get("userId")}

	if s := q.Get("status"); s != "" {
		status, err := domain.ParseStatus(s)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Status = status
	}
	if s := q.Get("priority"); s != "" {
		prio, err := domain.ParsePriority(s)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Priority = prio
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, r, domain.Invalid("since", "must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = since.UTC()
	}

	deals, err := h.workflow.ListDeals(r.Context(), ActorFrom(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if deals == nil {
		deals = []*domain.Deal{}
	}
	writeJSON(w, http.StatusOK, deals)
}

// CreateDeal handles POST /deals.
func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req CreateDealRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := workflow.CreateDealInput{
		DealName:          req.DealName,
		OrganizationName:  req.OrganizationName,
		ClientName:        req.ClientName,
		Amount:            req.Amount,
		Currency:          req.Currency,
		AssignedUserID:    req.AssignedUserID,
		PolicyID:          req.PolicyID,
		ExpectedCloseDate: req.ExpectedCloseDate,
	}
	if req.DealType != "" {
		dt, err := domain.ParseDealType(req.DealType)
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.DealType = dt
	}
	if req.Priority != "" {
		prio, err := domain.ParsePriority(req.Priority)
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.Priority = prio
	}

	deal, err := h.workflow.CreateDeal(r.Context(), ActorFrom(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, deal)
}

// GetDeal handles GET /deals/{id}.
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := h.workflow.GetDeal(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

// UpdateDeal handles PUT /deals/{id}.
func (h *Handler) UpdateDeal(w http.ResponseWriter, r *http.Request) {
	var req UpdateDealRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := workflow.UpdateDealInput{
		DealName:          req.DealName,
		OrganizationName:  req.OrganizationName,
		ClientName:        req.ClientName,
		Currency:          req.Currency,
		ExpectedCloseDate: req.ExpectedCloseDate,
		Amount:            req.Amount,
		PolicyID:          req.PolicyID,
	}
	if req.Priority != nil {
		prio, err := domain.ParsePriority(*req.Priority)
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.Priority = &prio
	}
	if req.DealType != nil {
		dt, err := domain.ParseDealType(*req.DealType)
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.DealType = &dt
	}

	deal, err := h.workflow.UpdateDeal(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

// TransitionDeal handles PATCH /deals/{id}/status.
func (h *Handler) TransitionDeal(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	target, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	deal, err := h.workflow.Transition(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), workflow.TransitionInput{
		Target: target,
		Payload: lifecycle.Payload{
			Comment:    req.Comment,
			Reason:     req.Reason,
			AssigneeID: req.AssigneeID,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

// DealAudit handles GET /deals/{id}/audit.
func (h *Handler) DealAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.workflow.DealAudit(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// DealSummary handles GET /deals/summary.
func (h *Handler) DealSummary(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	userID := r.URL.Query().Get("userId")
	if actor.Role == domain.RoleSales && userID == "" {
		userID = actor.ID
	}
	if err := requireSelf(actor, userID); err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := h.metrics.Summary(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
