package services

import (
	"math"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field    string  `json:"field"`
	Code     string  `json:"code"`
	Expected float64 `json:"expected,omitempty"`
	Actual   float64 `json:"actual,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// ValidationWarning represents a non-critical issue
type ValidationWarning struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ComputedValues holds calculated/expected values
type ComputedValues struct {
	LineItemSum   float64 `json:"line_item_sum"`
	ExpectedVAT   float64 `json:"expected_vat"`
	ExpectedTotal float64 `json:"expected_total"`
	ImpliedRate   float64 `json:"implied_rate"`
}

// ValidationResult is the response from validation
type ValidationResult struct {
	Valid       bool                `json:"valid"`
	NeedsReview bool                `json:"needs_review"`
	Errors      []ValidationError   `json:"errors"`
	Warnings    []ValidationWarning `json:"warnings"`
	Computed    ComputedValues      `json:"computed"`
}

// UK VAT rates: standard, reduced (domestic fuel), zero (most food).
// Food suppliers mostly invoice at zero rate, so a zero VAT figure on
// a grocery invoice is normal, not suspicious.
var ukVATRates = []float64{0.20, 0.05, 0}

// VATValidator cross-checks the financial fields of a parsed invoice
// against UK VAT arithmetic. It never mutates the invoice or its
// status; the verifier owns status transitions.
type VATValidator struct {
	tolerance float64 // relative tolerance (0.05 = 5%)
}

// NewVATValidator creates a validator with the default 5% tolerance
func NewVATValidator() *VATValidator {
	return &VATValidator{tolerance: 0.05}
}

// Validate performs all cross-validations on an invoice
func (v *VATValidator) Validate(inv *models.Invoice) *ValidationResult {
	result := &ValidationResult{
		Valid:       true,
		NeedsReview: false,
		Errors:      []ValidationError{},
		Warnings:    []ValidationWarning{},
	}

	subtotal := toFloat(inv.Subtotal)
	vat := toFloat(inv.VAT)
	total := toFloat(inv.Total)

	lineSum := 0.0
	for i := range inv.LineItems {
		lineSum += toFloat(inv.LineItems[i].TotalPrice)
	}

	impliedRate := 0.0
	if subtotal > 0 {
		impliedRate = vat / subtotal
	}

	result.Computed = ComputedValues{
		LineItemSum:   round2(lineSum),
		ExpectedVAT:   round2(subtotal * nearestRate(impliedRate)),
		ExpectedTotal: round2(subtotal + vat),
		ImpliedRate:   round2(impliedRate),
	}

	v.validateTotal(result, subtotal, vat, total)
	v.validateRate(result, subtotal, vat, impliedRate)
	v.validateLineSum(result, subtotal, lineSum)
	v.validateInvoiceNumber(inv, result)
	v.validateDate(inv, result)

	result.Valid = len(result.Errors) == 0
	result.NeedsReview = len(result.Warnings) > 0

	return result
}

// validateTotal checks total matches subtotal plus VAT
func (v *VATValidator) validateTotal(result *ValidationResult, subtotal, vat, total float64) {
	if total <= 0 {
		return
	}

	expected := subtotal + vat
	diff := math.Abs(total - expected)
	toleranceAmount := total * v.tolerance

	if expected > 0 && diff > toleranceAmount {
		result.Errors = append(result.Errors, ValidationError{
			Field:    "total",
			Code:     "total_mismatch",
			Expected: round2(expected),
			Actual:   round2(total),
			Message:  "total does not match subtotal plus VAT",
		})
	}
}

// validateRate checks the implied VAT rate is a recognised UK rate
func (v *VATValidator) validateRate(result *ValidationResult, subtotal, vat, impliedRate float64) {
	if subtotal <= 0 || vat <= 0 {
		return
	}

	rate := nearestRate(impliedRate)
	if math.Abs(impliedRate-rate) > v.tolerance*math.Max(rate, 0.01) && math.Abs(impliedRate-rate) > 0.01 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "vat",
			Code:    "vat_rate_unusual",
			Message: "implied VAT rate matches no UK rate (0%, 5%, 20%)",
		})
	}
}

// validateLineSum checks line items add up to the subtotal
func (v *VATValidator) validateLineSum(result *ValidationResult, subtotal, lineSum float64) {
	if subtotal <= 0 || lineSum <= 0 {
		return
	}

	diff := math.Abs(lineSum - subtotal)
	if diff > subtotal*v.tolerance {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "line_items",
			Code:    "line_sum_mismatch",
			Message: "line items do not add up to the subtotal",
		})
	}
}

var invoiceNumberPattern = regexp.MustCompile(`^[A-Za-z]{0,8}[-/]?[0-9]{2,12}$`)

// validateInvoiceNumber warns on reference formats no UK supplier uses
func (v *VATValidator) validateInvoiceNumber(inv *models.Invoice, result *ValidationResult) {
	if inv.InvoiceNumber == "" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "invoice_number",
			Code:    "invoice_number_missing",
			Message: "no invoice number was recovered",
		})
		return
	}
	if !invoiceNumberPattern.MatchString(inv.InvoiceNumber) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "invoice_number",
			Code:    "invoice_number_odd_format",
			Message: "invoice number has an unusual format: " + inv.InvoiceNumber,
		})
	}
}

// validateDate flags dates the OCR almost certainly misread
func (v *VATValidator) validateDate(inv *models.Invoice, result *ValidationResult) {
	if inv.InvoiceDate.IsZero() {
		return
	}
	now := time.Now()
	if inv.InvoiceDate.After(now.AddDate(0, 0, 7)) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "invoice_date",
			Code:    "date_in_future",
			Message: "invoice date is in the future",
		})
	}
	if inv.InvoiceDate.Before(now.AddDate(-3, 0, 0)) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "invoice_date",
			Code:    "date_too_old",
			Message: "invoice date is more than three years old",
		})
	}
}

// nearestRate returns the recognised UK VAT rate closest to the
// implied one.
func nearestRate(implied float64) float64 {
	best := ukVATRates[0]
	for _, r := range ukVATRates {
		if math.Abs(implied-r) < math.Abs(implied-best) {
			best = r
		}
	}
	return best
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// round2 rounds to 2 decimal places
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
