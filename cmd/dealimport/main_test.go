package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestReadDeals(t *testing.T) {
	input := `DealName,Amount,DealType,AssignedUserId,ExpectedCloseDate
Acme,500000,NEW_BUSINESS,sales-1,2026-03-31
Globex,lots,RENEWAL,,
Initech,1200.50,upsell,,not-a-date
Umbrella,10,renewal,,
`
	rows, skipped, err := readDeals(strings.NewReader(input), 0)
	if err != nil {
		t.Fatalf("readDeals failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if len(skipped) != 2 {
		t.Errorf("expected 2 skipped rows, got %v", skipped)
	}

	first := rows[0]
	if first.DealName != "Acme" || !first.Amount.Equal(decimal.NewFromInt(500000)) || first.AssignedUserID != "sales-1" {
		t.Errorf("unexpected first row %+v", first)
	}
	if first.ExpectedCloseDate == nil || first.ExpectedCloseDate.Month() != 3 {
		t.Errorf("expected close date to be parsed, got %v", first.ExpectedCloseDate)
	}
	if rows[1].Line != 5 {
		t.Errorf("expected line 5, got %d", rows[1].Line)
	}

	t.Run("Limit", func(t *testing.T) {
		rows, _, err := readDeals(strings.NewReader(input), 1)
		if err != nil || len(rows) != 1 {
			t.Errorf("expected 1 row, got %d (%v)", len(rows), err)
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		if _, _, err := readDeals(strings.NewReader("dealName,amount\nx,1\n"), 0); err == nil {
			t.Error("expected an error for a missing dealType column")
		}
	})
}

func TestRunImport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Actor-ID") != "bot" || r.Header.Get("X-Actor-Role") != "ADMIN" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var row DealRow
		json.NewDecoder(r.Body).Decode(&row)
		w.Header().Set("Content-Type", "application/json")
		if row.DealType == "BOGUS" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(errorBody{Error: "bad deal type", Kind: "ValidationError", Field: "dealType"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(createdDeal{ID: "d", Status: "DRAFT", RiskLevel: "LOW"})
	}))
	defer srv.Close()

	rows := []DealRow{
		{Line: 2, DealName: "a", Amount: decimal.NewFromInt(100), DealType: "RENEWAL"},
		{Line: 3, DealName: "b", Amount: decimal.NewFromInt(50), DealType: "RENEWAL"},
		{Line: 4, DealName: "c", Amount: decimal.NewFromInt(1), DealType: "BOGUS"},
	}
	report := newReport()
	runImport(rows, srv.URL, "bot", "ADMIN", 2, false, report)

	if report.Processed.Load() != 3 || report.Failed.Load() != 1 {
		t.Errorf("expected 3 processed and 1 failed, got %d/%d", report.Processed.Load(), report.Failed.Load())
	}
	if report.ByStatus["DRAFT"] != 2 || report.FailedKinds["ValidationError"] != 1 {
		t.Errorf("unexpected breakdown %v %v", report.ByStatus, report.FailedKinds)
	}
	if !report.TotalAmount.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected total 150, got %s", report.TotalAmount)
	}
}
