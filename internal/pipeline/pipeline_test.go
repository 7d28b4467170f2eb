package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/paperledger/invoice-recon-service/internal/models"
	"github.com/paperledger/invoice-recon-service/internal/ocr"
)

type fakeRecognizer struct {
	result *ocr.Result
	err    error
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ []byte) (*ocr.Result, error) {
	return f.result, f.err
}

type fakeStructurer struct {
	inv *models.Invoice
	dn  *models.DeliveryNote
	err error
}

func (f *fakeStructurer) StructureInvoice(_ context.Context, _ string) (*models.Invoice, float64, error) {
	return f.inv, 0.1, f.err
}

func (f *fakeStructurer) StructureDeliveryNote(_ context.Context, _ string) (*models.DeliveryNote, float64, error) {
	return f.dn, 0.1, f.err
}

func invoiceScan() *ocr.Result {
	return &ocr.Result{
		Text: "Fresh Farms Ltd\nInvoice No: INV-2041\n3 Beef Mince £4.20 £12.60\nTotal £12.60",
		Lines: []models.OCRLine{
			{Text: "Fresh Farms Ltd", Page: 1},
			{Text: "Invoice No: INV-2041", Page: 1},
			{Text: "3 Beef Mince £4.20 £12.60", Page: 1},
		},
	}
}

func TestProcessInvoiceDegradesWhenAIFails(t *testing.T) {
	t.Parallel()
	p := New(&fakeRecognizer{result: invoiceScan()}, &fakeStructurer{err: errors.New("provider down")})

	inv, result, err := p.ProcessInvoice(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("ProcessInvoice: %v", err)
	}
	if len(inv.LineItems) == 0 {
		t.Fatal("expected rule-based line items after ai failure")
	}
	if inv.LineItems[0].Description != "Beef Mince" {
		t.Errorf("description = %q", inv.LineItems[0].Description)
	}
	if inv.InvoiceNumber != "INV-2041" {
		t.Errorf("invoice number = %q, want recovered from raw text", inv.InvoiceNumber)
	}
	if result == nil || inv.Status == "" {
		t.Error("verification did not run")
	}
}

func TestProcessInvoicePrefersAIItems(t *testing.T) {
	t.Parallel()
	aiInv := &models.Invoice{
		SupplierName:  "Fresh Farms Ltd",
		InvoiceNumber: "INV-2041",
		Total:         decimal.NewFromFloat(12.60),
		LineItems: []models.LineItem{
			{Description: "Beef Mince", Quantity: 3, UnitPrice: decimal.NewFromFloat(4.20), TotalPrice: decimal.NewFromFloat(12.60), Confidence: 0.9},
		},
	}
	p := New(&fakeRecognizer{result: invoiceScan()}, &fakeStructurer{inv: aiInv})

	inv, result, err := p.ProcessInvoice(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("ProcessInvoice: %v", err)
	}
	if len(inv.LineItems) != 1 || inv.LineItems[0].Description != "Beef Mince" {
		t.Errorf("line items = %+v", inv.LineItems)
	}
	if result.MismatchPct > 0.01 {
		t.Errorf("mismatch = %v, want consistent totals", result.MismatchPct)
	}
	if inv.Status != models.StatusProcessed {
		t.Errorf("status = %s", inv.Status)
	}
}

func TestProcessInvoicePropagatesOCRError(t *testing.T) {
	t.Parallel()
	p := New(&fakeRecognizer{err: errors.New("tesseract missing")}, nil)
	if _, _, err := p.ProcessInvoice(context.Background(), []byte("img")); err == nil {
		t.Fatal("expected error")
	}
}

func TestProcessDeliveryNote(t *testing.T) {
	t.Parallel()
	scan := &ocr.Result{
		Text: "Fresh Farms Ltd\nDelivery for Friday\n8 Tomatoes",
		Lines: []models.OCRLine{
			{Text: "Fresh Farms Ltd", Page: 1},
			{Text: "8 Tomatoes", Page: 1},
		},
	}
	dn := &models.DeliveryNote{
		SupplierName: "Fresh Farms Ltd TERMS: Net 30",
		NoteNumber:   "DN-88",
		LineItems:    []models.LineItem{{Description: "Tomatoes", Quantity: 8, Confidence: 0.9}},
	}
	p := New(&fakeRecognizer{result: scan}, &fakeStructurer{dn: dn})

	got, err := p.ProcessDeliveryNote(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("ProcessDeliveryNote: %v", err)
	}
	if got.SupplierName != "Fresh Farms Ltd" {
		t.Errorf("supplier = %q, want trailing terms stripped", got.SupplierName)
	}
	if len(got.LineItems) != 1 || got.LineItems[0].Quantity != 8 {
		t.Errorf("line items = %+v", got.LineItems)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status = %s", got.Status)
	}
}
