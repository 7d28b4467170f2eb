package verify

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

// Finding is a single verification issue, surfaced to the caller as data
// rather than an error.
type Finding struct {
	Field    string  `json:"field"`
	Code     string  `json:"code"`
	Expected float64 `json:"expected,omitempty"`
	Actual   float64 `json:"actual,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// Result is the outcome of verifying one invoice.
type Result struct {
	Status       models.DocumentStatus `json:"status"`
	Confidence   float64               `json:"confidence"`
	MismatchPct  float64               `json:"mismatch_pct"`
	SumLineTotal decimal.Decimal       `json:"sum_line_total"`
	Findings     []Finding             `json:"findings"`
}

const (
	// gateThreshold is the hard validation gate: above this mismatch
	// between summed lines and the stated total the invoice is routed
	// to review with capped confidence. The system does not guess
	// which side is right.
	gateThreshold = 0.10

	// gateConfidenceCap is the trust ceiling once the gate fires.
	gateConfidenceCap = 0.5

	// reviewConfidenceFloor routes low-trust invoices to review even
	// when the totals agree.
	reviewConfidenceFloor = 0.6

	missingFieldPenalty = 0.05
)

// Verifier scores an extracted invoice and decides whether it can be
// trusted or needs a human. Stateless; safe for concurrent use.
type Verifier struct {
	log *logrus.Entry
}

// NewVerifier creates a verifier.
func NewVerifier() *Verifier {
	return &Verifier{log: logrus.WithField("component", "verify")}
}

// VerifyAndScore checks invoice arithmetic, sets status and confidence
// on a copy of the invoice and returns it with the final confidence. It
// never fails: a broken invoice comes back as needs_review, not as an
// error.
func (v *Verifier) VerifyAndScore(inv models.Invoice) (models.Invoice, float64) {
	res := v.Check(inv)
	inv.Status = res.Status
	inv.Confidence = res.Confidence
	return inv, res.Confidence
}

// Check computes the full verification result without touching the
// invoice.
func (v *Verifier) Check(inv models.Invoice) *Result {
	res := &Result{Findings: []Finding{}}

	sum := decimal.Zero
	for _, item := range inv.LineItems {
		sum = sum.Add(item.TotalPrice)
	}
	res.SumLineTotal = sum
	res.MismatchPct = mismatchPct(sum, inv.Total)

	if len(inv.LineItems) == 0 {
		// Should not happen given the extractor's salvage guarantee,
		// but an itemless invoice is unverifiable.
		res.MismatchPct = 1.0
		res.Findings = append(res.Findings, Finding{
			Field:   "line_items",
			Code:    "no_line_items",
			Message: "invoice has no line items",
		})
	} else if res.MismatchPct > gateThreshold {
		stated, _ := inv.Total.Float64()
		summed, _ := sum.Float64()
		res.Findings = append(res.Findings, Finding{
			Field:    "total",
			Code:     "total_mismatch",
			Expected: round2(summed),
			Actual:   round2(stated),
			Message:  "sum of line totals diverges from stated total",
		})
	}

	res.Confidence = v.score(inv, res)

	if res.MismatchPct > gateThreshold {
		res.Status = models.StatusNeedsReview
		if res.Confidence > gateConfidenceCap {
			res.Confidence = gateConfidenceCap
		}
		v.log.WithFields(logrus.Fields{
			"invoice_number": inv.InvoiceNumber,
			"mismatch_pct":   res.MismatchPct,
		}).Warn("validation gate triggered")
	} else if res.Confidence < reviewConfidenceFloor {
		res.Status = models.StatusNeedsReview
	} else {
		res.Status = models.StatusProcessed
	}

	return res
}

// score aggregates per-item confidences, scaled down by the mismatch and
// by missing header fields. Monotonic in mismatch_pct by construction.
func (v *Verifier) score(inv models.Invoice, res *Result) float64 {
	var meanItemConf float64
	if n := len(inv.LineItems); n > 0 {
		for _, item := range inv.LineItems {
			meanItemConf += item.Confidence
		}
		meanItemConf /= float64(n)
	}

	mismatch := res.MismatchPct
	if mismatch > 1 {
		mismatch = 1
	}
	conf := meanItemConf * (1 - mismatch)

	if inv.SupplierName == "" {
		conf -= missingFieldPenalty
		res.Findings = append(res.Findings, Finding{
			Field: "supplier_name", Code: "missing_supplier",
			Message: "supplier name not extracted",
		})
	}
	if inv.InvoiceNumber == "" {
		conf -= missingFieldPenalty
		res.Findings = append(res.Findings, Finding{
			Field: "invoice_number", Code: "missing_invoice_number",
			Message: "invoice number not extracted",
		})
	}
	if inv.InvoiceDate.IsZero() {
		conf -= missingFieldPenalty
		res.Findings = append(res.Findings, Finding{
			Field: "invoice_date", Code: "missing_invoice_date",
			Message: "invoice date not extracted",
		})
	}

	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// mismatchPct is |sum - total| / max(total, 1).
func mismatchPct(sum, total decimal.Decimal) float64 {
	denom := total
	if denom.LessThan(decimal.NewFromInt(1)) {
		denom = decimal.NewFromInt(1)
	}
	pct, _ := sum.Sub(total).Abs().Div(denom).Float64()
	return pct
}

// round2 rounds to 2 decimal places
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
