package verify

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func goodInvoice() models.Invoice {
	return models.Invoice{
		SupplierName:  "Acme Foods Ltd",
		InvoiceNumber: "ACM-99120",
		InvoiceDate:   time.Date(2024, 4, 12, 0, 0, 0, 0, time.UTC),
		Total:         dec("43.00"),
		LineItems: []models.LineItem{
			{Description: "Chicken Breast", Quantity: 2, UnitPrice: dec("12.50"), TotalPrice: dec("25.00"), Confidence: 0.85},
			{Description: "Olive Oil", Quantity: 3, UnitPrice: dec("6.00"), TotalPrice: dec("18.00"), Confidence: 0.85},
		},
	}
}

func TestVerifyCleanInvoice(t *testing.T) {
	t.Parallel()

	v := NewVerifier()
	inv, conf := v.VerifyAndScore(goodInvoice())

	if inv.Status != models.StatusProcessed {
		t.Errorf("status = %s, want %s", inv.Status, models.StatusProcessed)
	}
	if conf < reviewConfidenceFloor {
		t.Errorf("confidence = %v, want >= %v", conf, reviewConfidenceFloor)
	}
	if inv.Confidence != conf {
		t.Errorf("invoice confidence %v != returned %v", inv.Confidence, conf)
	}
}

func TestVerifyHardGate(t *testing.T) {
	t.Parallel()

	v := NewVerifier()
	inv := models.Invoice{
		SupplierName:  "Acme Foods Ltd",
		InvoiceNumber: "ACM-99121",
		InvoiceDate:   time.Date(2024, 4, 12, 0, 0, 0, 0, time.UTC),
		Total:         dec("200.00"),
		LineItems: []models.LineItem{
			{Description: "Flour 16kg", Quantity: 2, UnitPrice: dec("25.00"), TotalPrice: dec("50.00"), Confidence: 0.9},
		},
	}

	out, conf := v.VerifyAndScore(inv)
	if out.Status != models.StatusNeedsReview {
		t.Errorf("status = %s, want needs_review", out.Status)
	}
	if conf > gateConfidenceCap {
		t.Errorf("confidence = %v, want <= %v", conf, gateConfidenceCap)
	}

	res := v.Check(inv)
	if want := 0.75; res.MismatchPct != want {
		t.Errorf("mismatch_pct = %v, want %v", res.MismatchPct, want)
	}
	if len(res.Findings) == 0 || res.Findings[0].Code != "total_mismatch" {
		t.Errorf("expected total_mismatch finding, got %+v", res.Findings)
	}
}

func TestVerifyZeroItems(t *testing.T) {
	t.Parallel()

	v := NewVerifier()
	inv := models.Invoice{
		SupplierName: "Acme Foods Ltd",
		Total:        dec("100.00"),
	}
	out, conf := v.VerifyAndScore(inv)
	if out.Status != models.StatusNeedsReview {
		t.Errorf("status = %s, want needs_review", out.Status)
	}
	if conf > gateConfidenceCap {
		t.Errorf("confidence = %v, want <= %v", conf, gateConfidenceCap)
	}
	res := v.Check(inv)
	if res.MismatchPct != 1.0 {
		t.Errorf("mismatch_pct = %v, want 1.0 for itemless invoice", res.MismatchPct)
	}
}

func TestVerifyMonotonicInMismatch(t *testing.T) {
	t.Parallel()

	v := NewVerifier()
	base := goodInvoice()

	// Widen the gap between stated total and summed lines step by step;
	// confidence must never increase.
	prev := 2.0
	for _, total := range []string{"43.00", "45.00", "47.00", "60.00", "120.00"} {
		inv := base
		inv.Total = dec(total)
		_, conf := v.VerifyAndScore(inv)
		if conf > prev {
			t.Fatalf("confidence rose from %v to %v at total %s", prev, conf, total)
		}
		prev = conf
	}
}

func TestVerifyMissingHeaderPenalties(t *testing.T) {
	t.Parallel()

	v := NewVerifier()
	full := goodInvoice()
	stripped := goodInvoice()
	stripped.SupplierName = ""
	stripped.InvoiceNumber = ""
	stripped.InvoiceDate = time.Time{}

	_, fullConf := v.VerifyAndScore(full)
	_, strippedConf := v.VerifyAndScore(stripped)

	if strippedConf >= fullConf {
		t.Errorf("stripped invoice confidence %v should be below full %v", strippedConf, fullConf)
	}
	res := v.Check(stripped)
	if len(res.Findings) != 3 {
		t.Errorf("expected 3 missing-field findings, got %+v", res.Findings)
	}
}
