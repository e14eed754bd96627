package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/commission/internal/bus"
	"github.com/opensource-finance/commission/internal/cache"
	"github.com/opensource-finance/commission/internal/commission"
	"github.com/opensource-finance/commission/internal/domain"
	"github.com/opensource-finance/commission/internal/events"
	"github.com/opensource-finance/commission/internal/metrics"
	"github.com/opensource-finance/commission/internal/onboarding"
	"github.com/opensource-finance/commission/internal/repository"
	"github.com/opensource-finance/commission/internal/risk"
	"github.com/opensource-finance/commission/internal/worker"
	"github.com/opensource-finance/commission/internal/workflow"
)

const (
	adminID = "admin-1"
	salesID = "sales-1"
)

// createTestServer wires the full community stack over a temp database.
func createTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	cfg := domain.DefaultConfig()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	c := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(100)
	publisher := events.NewPublisher(eventBus)

	w := worker.NewWorker(eventBus, repo)
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(func() {
		w.Stop()
		eventBus.Close()
		repo.Close()
	})

	engine, err := risk.NewEngine(cfg.Risk.MaxWorkers)
	if err != nil {
		t.Fatalf("failed to create risk engine: %v", err)
	}
	manager := risk.NewManager(engine, repo)
	if err := manager.Bootstrap(ctx); err != nil {
		t.Fatalf("failed to bootstrap risk rules: %v", err)
	}
	stats := metrics.NewService(repo)
	tracker := onboarding.NewTracker(repo, c, eventBus, publisher, time.Minute)

	svc := workflow.NewService(workflow.Deps{
		Repo:       repo,
		Cache:      c,
		Calculator: commission.New(cfg.Commission),
		Tracker:    tracker,
		Risk:       risk.NewAssessor(engine, stats, cfg.Risk),
		Audit:      publisher,
		Notify:     publisher,
		Events:     publisher,
	})

	return NewServer(cfg.Server, Deps{
		Workflow: svc,
		Tracker:  tracker,
		Metrics:  stats,
		Risk:     manager,
		Repo:     repo,
		Cache:    c,
		Audit:    publisher,
		Version:  "test-v1",
	})
}

func do(t *testing.T, s *Server, method, path, actorID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actorID != "" {
		req.Header.Set(ActorIDHeader, actorID)
		req.Header.Set(ActorRoleHeader, role)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func asAdmin(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	return do(t, s, method, path, adminID, "ADMIN", body)
}

func asSales(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	return do(t, s, method, path, salesID, "SALES", body)
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func expectKind(t *testing.T, rr *httptest.ResponseRecorder, status int, kind string) errorResponse {
	t.Helper()
	expectStatus(t, rr, status)
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if resp.Kind != kind {
		t.Errorf("expected kind %s, got %s (%s)", kind, resp.Kind, resp.Error)
	}
	return resp
}

func decodeDeal(t *testing.T, rr *httptest.ResponseRecorder) domain.Deal {
	t.Helper()
	var d domain.Deal
	if err := json.Unmarshal(rr.Body.Bytes(), &d); err != nil {
		t.Fatalf("failed to decode deal: %v", err)
	}
	return d
}

// submittedDeal creates a deal assigned to salesID and walks it to SUBMITTED.
func submittedDeal(t *testing.T, s *Server, amount, policyID string) domain.Deal {
	t.Helper()
	rr := asAdmin(t, s, http.MethodPost, "/deals", CreateDealRequest{
		DealName:       "Acme renewal",
		Amount:         decimal.RequireFromString(amount),
		Currency:       "$",
		DealType:       "new business",
		AssignedUserID: salesID,
		PolicyID:       policyID,
	})
	expectStatus(t, rr, http.StatusCreated)
	d := decodeDeal(t, rr)

	for _, status := range []string{"in-progress", "Pending"} {
		rr = asSales(t, s, http.MethodPatch, "/deals/"+d.ID+"/status", TransitionRequest{Status: status})
		expectStatus(t, rr, http.StatusOK)
	}
	d = decodeDeal(t, rr)
	if d.Status != domain.StatusSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", d.Status)
	}
	return d
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", "", "", nil)
		expectStatus(t, rr, http.StatusOK)

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" || resp["version"] != "test-v1" {
			t.Errorf("unexpected health response %v", resp)
		}
	})

	t.Run("Ready", func(t *testing.T) {
		expectStatus(t, do(t, server, http.MethodGet, "/ready", "", "", nil), http.StatusOK)
	})

	t.Run("TraceHeaders", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", "", "", nil)
		if rr.Header().Get(RequestIDHeader) == "" || rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected request and trace id headers")
		}
	})
}

func TestActorMiddleware(t *testing.T) {
	server := createTestServer(t)

	t.Run("MissingActor", func(t *testing.T) {
		expectKind(t, do(t, server, http.MethodGet, "/deals", "", "", nil), http.StatusUnauthorized, "Unauthorized")
	})

	t.Run("UnknownRole", func(t *testing.T) {
		resp := expectKind(t, do(t, server, http.MethodGet, "/deals", "x", "GUEST", nil), http.StatusBadRequest, "ValidationError")
		if resp.Field != "role" {
			t.Errorf("expected field role, got %q", resp.Field)
		}
	})

	t.Run("RoleSynonym", func(t *testing.T) {
		expectStatus(t, do(t, server, http.MethodGet, "/deals", "x", "sales_rep", nil), http.StatusOK)
	})
}

func TestDealEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreateValidation", func(t *testing.T) {
		rr := asSales(t, server, http.MethodPost, "/deals", CreateDealRequest{DealName: "x", DealType: "RENEWAL"})
		resp := expectKind(t, rr, http.StatusBadRequest, "ValidationError")
		if resp.Field != "amount" {
			t.Errorf("expected field amount, got %q", resp.Field)
		}
	})

	t.Run("MalformedAmount", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/deals", bytes.NewBufferString(`{"dealName":"x","amount":"lots"}`))
		req.Header.Set(ActorIDHeader, salesID)
		req.Header.Set(ActorRoleHeader, "SALES")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		expectKind(t, rr, http.StatusBadRequest, "ValidationError")
	})

	t.Run("CreateDraftAndList", func(t *testing.T) {
		rr := asSales(t, server, http.MethodPost, "/deals", CreateDealRequest{
			DealName: "Small", Amount: decimal.NewFromInt(100), DealType: "upsell",
		})
		expectStatus(t, rr, http.StatusCreated)
		d := decodeDeal(t, rr)
		if d.Status != domain.StatusDraft || d.DealType != domain.DealTypeUpsell {
			t.Errorf("unexpected deal %+v", d)
		}

		rr = asSales(t, server, http.MethodGet, "/deals?status=draft", nil)
		expectStatus(t, rr, http.StatusOK)
		var list []domain.Deal
		json.Unmarshal(rr.Body.Bytes(), &list)
		if len(list) != 1 || list[0].ID != d.ID {
			t.Errorf("expected the draft in the list, got %d deals", len(list))
		}
	})

	t.Run("BadFilter", func(t *testing.T) {
		expectKind(t, asSales(t, server, http.MethodGet, "/deals?status=WON", nil), http.StatusBadRequest, "ValidationError")
	})

	t.Run("NotFound", func(t *testing.T) {
		expectKind(t, asAdmin(t, server, http.MethodGet, "/deals/missing", nil), http.StatusNotFound, "NotFound")
	})

	t.Run("Update", func(t *testing.T) {
		d := submittedDeal(t, server, "1000", "")
		name := "Acme expansion"
		prio := "high"
		rr := asSales(t, server, http.MethodPut, "/deals/"+d.ID, UpdateDealRequest{DealName: &name, Priority: &prio})
		expectStatus(t, rr, http.StatusOK)
		got := decodeDeal(t, rr)
		if got.DealName != name || got.Priority != domain.PriorityHigh {
			t.Errorf("unexpected deal %+v", got)
		}

		amount := decimal.NewFromInt(5)
		rr = asSales(t, server, http.MethodPut, "/deals/"+d.ID, UpdateDealRequest{Amount: &amount})
		expectKind(t, rr, http.StatusBadRequest, "ValidationError")
	})
}

func TestApprovalFlow(t *testing.T) {
	server := createTestServer(t)

	var policy domain.IncentivePolicy
	t.Run("SalesCannotWritePolicy", func(t *testing.T) {
		rr := asSales(t, server, http.MethodPost, "/policy", PolicyRequest{Title: "x", CommissionRate: decimal.NewFromInt(1)})
		expectKind(t, rr, http.StatusForbidden, "Forbidden")
	})

	t.Run("InvertedBounds", func(t *testing.T) {
		lo, hi := decimal.NewFromInt(10), decimal.NewFromInt(5)
		rr := asAdmin(t, server, http.MethodPost, "/policy", PolicyRequest{
			Title: "bad", CommissionRate: decimal.NewFromInt(5), MinDealAmount: &lo, MaxDealAmount: &hi,
		})
		resp := expectKind(t, rr, http.StatusBadRequest, "ValidationError")
		if resp.Field != "minDealAmount" {
			t.Errorf("expected field minDealAmount, got %q", resp.Field)
		}
	})

	t.Run("CreatePolicy", func(t *testing.T) {
		threshold, bonus := decimal.NewFromInt(500000), decimal.NewFromInt(10000)
		rr := asAdmin(t, server, http.MethodPost, "/policy", PolicyRequest{
			Type:           "INCENTIVE",
			Title:          "Enterprise",
			CommissionRate: decimal.NewFromInt(10),
			BonusThreshold: &threshold,
			BonusAmount:    &bonus,
		})
		expectStatus(t, rr, http.StatusOK)
		json.Unmarshal(rr.Body.Bytes(), &policy)
		if policy.ID == "" || !policy.Active {
			t.Fatalf("unexpected policy %+v", policy)
		}

		rr = asSales(t, server, http.MethodGet, "/policy?type=INCENTIVE&active=true", nil)
		expectStatus(t, rr, http.StatusOK)
		var list []domain.IncentivePolicy
		json.Unmarshal(rr.Body.Bytes(), &list)
		if len(list) != 1 {
			t.Errorf("expected 1 policy, got %d", len(list))
		}
	})

	t.Run("ApproveAboveBonusThresholdIsGold", func(t *testing.T) {
		d := submittedDeal(t, server, "600000", policy.ID)

		rr := asAdmin(t, server, http.MethodPatch, "/deals/"+d.ID+"/status", TransitionRequest{Status: "APPROVED", Comment: "great"})
		expectStatus(t, rr, http.StatusOK)
		got := decodeDeal(t, rr)
		if !got.Incentive.Equal(decimal.NewFromInt(70000)) || got.Tier != "Gold" {
			t.Errorf("expected 70000/Gold, got %s/%s", got.Incentive, got.Tier)
		}

		rr = asAdmin(t, server, http.MethodPatch, "/deals/"+d.ID+"/status", TransitionRequest{Status: "APPROVED"})
		expectKind(t, rr, http.StatusConflict, "InvalidTransition")

		rr = asSales(t, server, http.MethodGet, "/deals/"+d.ID+"/audit", nil)
		expectStatus(t, rr, http.StatusOK)
	})

	t.Run("SalesDraftToApprovedIsInvalid", func(t *testing.T) {
		rr := asSales(t, server, http.MethodPost, "/deals", CreateDealRequest{
			DealName: "Direct", Amount: decimal.NewFromInt(10), DealType: "RENEWAL",
		})
		expectStatus(t, rr, http.StatusCreated)
		d := decodeDeal(t, rr)

		rr = asSales(t, server, http.MethodPatch, "/deals/"+d.ID+"/status", TransitionRequest{Status: "APPROVED"})
		expectKind(t, rr, http.StatusConflict, "InvalidTransition")
	})

	t.Run("RejectWithoutReasonKeepsSubmitted", func(t *testing.T) {
		d := submittedDeal(t, server, "1000", "")

		rr := asAdmin(t, server, http.MethodPatch, "/deals/"+d.ID+"/status", TransitionRequest{Status: "REJECTED"})
		expectKind(t, rr, http.StatusBadRequest, "MissingReason")

		rr = asAdmin(t, server, http.MethodGet, "/deals/"+d.ID, nil)
		if got := decodeDeal(t, rr); got.Status != domain.StatusSubmitted {
			t.Errorf("deal must remain SUBMITTED, got %s", got.Status)
		}
	})

	t.Run("SalesCannotApprove", func(t *testing.T) {
		d := submittedDeal(t, server, "1000", "")
		rr := asSales(t, server, http.MethodPatch, "/deals/"+d.ID+"/status", TransitionRequest{Status: "APPROVED"})
		expectKind(t, rr, http.StatusForbidden, "Forbidden")
	})

	t.Run("Summary", func(t *testing.T) {
		rr := asSales(t, server, http.MethodGet, "/deals/summary", nil)
		expectStatus(t, rr, http.StatusOK)
		var summary metrics.Summary
		json.Unmarshal(rr.Body.Bytes(), &summary)
		if summary.Total == 0 || !summary.TotalIncentive.Equal(decimal.NewFromInt(70000)) {
			t.Errorf("unexpected summary %+v", summary)
		}

		expectKind(t, asSales(t, server, http.MethodGet, "/deals/summary?userId=sales-2", nil), http.StatusForbidden, "Forbidden")
	})

	t.Run("NotificationsPersisted", func(t *testing.T) {
		deadline := time.Now().Add(2 * time.Second)
		for {
			rr := asSales(t, server, http.MethodGet, "/notifications/"+salesID, nil)
			expectStatus(t, rr, http.StatusOK)
			var notes []domain.Notification
			json.Unmarshal(rr.Body.Bytes(), &notes)

			var approved int
			for _, n := range notes {
				if n.Type == domain.NotificationDealApproved {
					approved++
				}
			}
			if approved == 1 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("expected one approval notification, got %d", approved)
			}
			time.Sleep(10 * time.Millisecond)
		}

		expectKind(t, asSales(t, server, http.MethodGet, "/notifications/sales-2", nil), http.StatusForbidden, "Forbidden")
	})

	t.Run("AuditQuery", func(t *testing.T) {
		expectKind(t, asSales(t, server, http.MethodGet, "/audit", nil), http.StatusForbidden, "Forbidden")

		deadline := time.Now().Add(2 * time.Second)
		for {
			rr := asAdmin(t, server, http.MethodGet, "/audit?entityType=policy", nil)
			expectStatus(t, rr, http.StatusOK)
			var entries []domain.AuditEntry
			json.Unmarshal(rr.Body.Bytes(), &entries)
			if len(entries) == 1 && entries[0].EntityID == policy.ID {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("expected the policy audit entry, got %d entries", len(entries))
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
}

func TestSimulationEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("RateParams", func(t *testing.T) {
		threshold, bonus := decimal.NewFromInt(500000), decimal.NewFromInt(10000)
		rr := asSales(t, server, http.MethodPost, "/simulation/preview", SimulationRequest{
			Amount: decimal.NewFromInt(500000),
			RateParams: &workflow.RateParams{
				CommissionRate: decimal.NewFromInt(10),
				BonusThreshold: &threshold,
				BonusAmount:    &bonus,
			},
		})
		expectStatus(t, rr, http.StatusOK)
		var res commission.Result
		json.Unmarshal(rr.Body.Bytes(), &res)
		if !res.Incentive.Equal(decimal.NewFromInt(50000)) || res.Tier != "Silver" {
			t.Errorf("expected 50000/Silver at the threshold, got %s/%s", res.Incentive, res.Tier)
		}
	})

	t.Run("UnknownPolicy", func(t *testing.T) {
		rr := asSales(t, server, http.MethodPost, "/simulation/preview", SimulationRequest{Amount: decimal.NewFromInt(1), PolicyID: "nope"})
		expectKind(t, rr, http.StatusNotFound, "NotFound")
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		rr := asSales(t, server, http.MethodPost, "/simulation/preview", SimulationRequest{Amount: decimal.NewFromInt(-1)})
		expectKind(t, rr, http.StatusBadRequest, "ValidationError")
	})
}

func TestOnboardingEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("UnknownUserIsZero", func(t *testing.T) {
		rr := asSales(t, server, http.MethodGet, "/onboarding/progress/"+salesID, nil)
		expectStatus(t, rr, http.StatusOK)
		var p domain.OnboardingProgress
		json.Unmarshal(rr.Body.Bytes(), &p)
		if p.UserID != salesID || p.CompletedCount != 0 {
			t.Errorf("unexpected progress %+v", p)
		}
	})

	t.Run("RecordTask", func(t *testing.T) {
		rr := asSales(t, server, http.MethodPost, "/onboarding/progress/update", OnboardingUpdateRequest{Task: "first_target"})
		expectStatus(t, rr, http.StatusOK)
		var p domain.OnboardingProgress
		json.Unmarshal(rr.Body.Bytes(), &p)
		if !p.FirstTarget || p.CompletedCount != 1 || p.CompletionPercentage != 25 {
			t.Errorf("unexpected progress %+v", p)
		}
	})

	t.Run("UnknownTask", func(t *testing.T) {
		rr := asSales(t, server, http.MethodPost, "/onboarding/progress/update", OnboardingUpdateRequest{Task: "firstLunch"})
		expectKind(t, rr, http.StatusBadRequest, "ValidationError")
	})

	t.Run("OtherUserForbidden", func(t *testing.T) {
		rr := asSales(t, server, http.MethodPost, "/onboarding/progress/update", OnboardingUpdateRequest{UserID: "sales-2", Task: "firstDeal"})
		expectKind(t, rr, http.StatusForbidden, "Forbidden")
		expectKind(t, asSales(t, server, http.MethodGet, "/onboarding/progress/sales-2", nil), http.StatusForbidden, "Forbidden")
	})

	t.Run("AdminMayRecordForOthers", func(t *testing.T) {
		rr := asAdmin(t, server, http.MethodPost, "/onboarding/progress/update", OnboardingUpdateRequest{UserID: "sales-2", Task: "firstInvite"})
		expectStatus(t, rr, http.StatusOK)
	})
}

func TestRiskRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("DefaultsSeeded", func(t *testing.T) {
		rr := asSales(t, server, http.MethodGet, "/risk/rules", nil)
		expectStatus(t, rr, http.StatusOK)
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != len(risk.DefaultRules()) {
			t.Errorf("expected %d seeded rules, got %d", len(risk.DefaultRules()), resp.Count)
		}
	})

	t.Run("SalesCannotWrite", func(t *testing.T) {
		rr := asSales(t, server, http.MethodPost, "/risk/rules", domain.RiskRule{ID: "x", Expression: "true", Weight: 1})
		expectKind(t, rr, http.StatusForbidden, "Forbidden")
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		rr := asAdmin(t, server, http.MethodPost, "/risk/rules", domain.RiskRule{ID: "bad", Expression: "amount >", Weight: 1, Enabled: true})
		resp := expectKind(t, rr, http.StatusBadRequest, "ValidationError")
		if resp.Field != "expression" {
			t.Errorf("expected field expression, got %q", resp.Field)
		}
	})

	t.Run("SaveAndReload", func(t *testing.T) {
		rr := asAdmin(t, server, http.MethodPost, "/risk/rules", domain.RiskRule{
			ID: "eur-deals", Name: "EUR deals", Expression: `currency == "EUR"`, Weight: 1, Enabled: true,
		})
		expectStatus(t, rr, http.StatusCreated)

		rr = asAdmin(t, server, http.MethodPost, "/risk/rules/reload", nil)
		expectStatus(t, rr, http.StatusOK)
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != len(risk.DefaultRules())+1 {
			t.Errorf("expected %d loaded rules, got %d", len(risk.DefaultRules())+1, resp.Count)
		}
	})
}
