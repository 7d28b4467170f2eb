package repair

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRepairLineItems(t *testing.T) {
	t.Parallel()

	r := NewRepairer()

	tests := []struct {
		name      string
		in        models.LineItem
		wantQty   float64
		wantTotal string
		wantFlags []models.SourceFlag
	}{
		{
			name:      "derive quantity from total and unit price",
			in:        models.LineItem{Description: "Flour 16kg", Quantity: 0, UnitPrice: dec("60"), TotalPrice: dec("120")},
			wantQty:   2.0,
			wantTotal: "120",
		},
		{
			name:      "compute total from quantity and unit price",
			in:        models.LineItem{Description: "Beef Mince", Quantity: 3, UnitPrice: dec("4.20")},
			wantQty:   3,
			wantTotal: "12.60",
		},
		{
			name:      "default missing quantity to one",
			in:        models.LineItem{Description: "Delivery charge", Quantity: 0, UnitPrice: dec("75")},
			wantQty:   1.0,
			wantTotal: "75",
			wantFlags: []models.SourceFlag{models.FlagQtyDefaulted},
		},
		{
			name:      "wrong quantity corrected by derivation",
			in:        models.LineItem{Description: "Salmon", Quantity: 7, UnitPrice: dec("8.50"), TotalPrice: dec("34.00")},
			wantQty:   4,
			wantTotal: "34.00",
		},
		{
			name:      "nothing to repair",
			in:        models.LineItem{Description: "Olive Oil", Quantity: 3, UnitPrice: dec("6.00"), TotalPrice: dec("18.00")},
			wantQty:   3,
			wantTotal: "18.00",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := r.RepairLineItems([]models.LineItem{tc.in})[0]
			if got.Quantity != tc.wantQty {
				t.Errorf("quantity = %v, want %v", got.Quantity, tc.wantQty)
			}
			if !got.TotalPrice.Equal(dec(tc.wantTotal)) {
				t.Errorf("total = %s, want %s", got.TotalPrice, tc.wantTotal)
			}
			for _, f := range tc.wantFlags {
				if !got.HasFlag(f) {
					t.Errorf("missing flag %s", f)
				}
			}
		})
	}
}

func TestRepairIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRepairer()
	inv := models.Invoice{
		SupplierName:  "Acme Foods Ltd TERMS: Net 30",
		InvoiceNumber: "",
		LineItems: []models.LineItem{
			{Description: "Flour 16kg", Quantity: 0, UnitPrice: dec("60"), TotalPrice: dec("120")},
			{Description: "Delivery charge", UnitPrice: dec("75")},
			{Description: "Beef Mince", Quantity: 3, UnitPrice: dec("4.20")},
		},
	}
	raw := "ACME FOODS LTD\nInvoice No: ACM-99120\nDue Date: 30 days"

	once := r.Repair(inv, raw)
	twice := r.Repair(once, raw)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("repair is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestRepairKeepsExistingInvoiceNumber(t *testing.T) {
	t.Parallel()

	r := NewRepairer()
	inv := models.Invoice{InvoiceNumber: "KEEP-001"}
	got := r.Repair(inv, "Invoice No: OTHER-999")
	if got.InvoiceNumber != "KEEP-001" {
		t.Errorf("invoice number = %q, want KEEP-001", got.InvoiceNumber)
	}
}

func TestRecoverInvoiceNumber(t *testing.T) {
	t.Parallel()

	r := NewRepairer()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "labelled with noise before it",
			raw:  "Invoice Date: 12/04/2024\nInvoice No: ACM-99120\n",
			want: "ACM-99120",
		},
		{
			name: "inv prefix",
			raw:  "Ref INV-88231\nsome body text",
			want: "88231",
		},
		{
			name: "vat invoice",
			raw:  "VAT Invoice 2024/118 issued under standard terms",
			want: "2024/118",
		},
		{
			name: "digit run fallback",
			raw:  "DOCUMENT 884120\nno labels here",
			want: "884120",
		},
		{
			name: "nothing recoverable",
			raw:  "hand written note, no numbers beyond 12",
			want: "",
		},
		{
			name: "empty text",
			raw:  "",
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := r.RecoverInvoiceNumber(tc.raw)
			if got != tc.want {
				t.Errorf("RecoverInvoiceNumber(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestCleanSupplierName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Acme Foods Ltd TERMS: Net 30", "Acme Foods Ltd"},
		{"BRAKES CATERING EQUIPMENT LTD & PAYMENT TERMS", "BRAKES CATERING EQUIPMENT LTD"},
		{"Fresh Produce Co VAT Registration GB 123 4567 89", "Fresh Produce Co"},
		{"Harbour Fish Due Date: 14 days", "Harbour Fish"},
		{"Acme Catering Terms Ltd", "Acme Catering Ltd"},
		{"Plain Supplier Name", "Plain Supplier Name"},
		{"  Trailing Dots Ltd.  ", "Trailing Dots Ltd"},
		{"", ""},
	}

	for _, tc := range tests {
		if got := CleanSupplierName(tc.in); got != tc.want {
			t.Errorf("CleanSupplierName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
