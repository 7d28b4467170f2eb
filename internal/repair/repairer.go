package repair

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

// Repairer applies deterministic post-extraction fixes to an invoice:
// broken quantities and totals, missing invoice numbers, supplier names
// with trailing boilerplate. Repairs are idempotent and never fail; on
// anything suspicious the original value is kept and a warning logged.
type Repairer struct {
	log *logrus.Entry
}

// NewRepairer creates a repairer.
func NewRepairer() *Repairer {
	return &Repairer{log: logrus.WithField("component", "repair")}
}

// Repair returns a repaired copy of the invoice. The input is not
// mutated.
func (r *Repairer) Repair(inv models.Invoice, rawText string) models.Invoice {
	inv.LineItems = r.RepairLineItems(inv.LineItems)
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		inv.InvoiceNumber = r.RecoverInvoiceNumber(rawText)
	}
	inv.SupplierName = CleanSupplierName(inv.SupplierName)
	return inv
}

// RepairLineItems fixes zero or missing quantities and totals. Order
// matters and is derive-first, default-last:
//
//  1. total and unit price present: quantity = round(total/unit, 2)
//  2. quantity and unit price present, total missing: total = round(qty*unit, 2)
//  3. quantity still <= 0: default to 1 and recompute the total
//
// Returns a new slice; the input items are untouched.
func (r *Repairer) RepairLineItems(items []models.LineItem) []models.LineItem {
	if len(items) == 0 {
		return items
	}
	out := make([]models.LineItem, len(items))
	for i, item := range items {
		out[i] = r.repairItem(item)
	}
	return out
}

func (r *Repairer) repairItem(item models.LineItem) models.LineItem {
	log := r.log.WithField("description", item.Description)

	switch {
	case item.TotalPrice.IsPositive() && item.UnitPrice.IsPositive():
		derived, _ := item.TotalPrice.Div(item.UnitPrice).Round(2).Float64()
		if derived > 0 && derived != item.Quantity {
			log.WithFields(logrus.Fields{
				"before": item.Quantity,
				"after":  derived,
			}).Info("derived quantity from total/unit price")
			item.Quantity = derived
		}
	case item.Quantity > 0 && item.UnitPrice.IsPositive() && !item.TotalPrice.IsPositive():
		total := item.UnitPrice.Mul(decimal.NewFromFloat(item.Quantity)).Round(2)
		log.WithFields(logrus.Fields{
			"before": item.TotalPrice,
			"after":  total,
		}).Info("computed total from quantity*unit price")
		item.TotalPrice = total
	}

	if item.Quantity <= 0 {
		log.WithFields(logrus.Fields{
			"before": item.Quantity,
			"after":  1.0,
		}).Info("defaulted missing quantity to 1")
		item.Quantity = 1.0
		item.AddFlag(models.FlagQtyDefaulted)
		if item.UnitPrice.IsPositive() {
			item.TotalPrice = item.UnitPrice.Round(2)
		}
	}

	return item
}

// RecoverInvoiceNumber searches raw OCR text with the pattern ladder and
// returns the first plausible capture, or "" when nothing matches.
func (r *Repairer) RecoverInvoiceNumber(rawText string) string {
	if rawText == "" {
		return ""
	}
	for _, p := range invoiceNumberPatterns {
		text := rawText
		if p.Name == "digit-run" && len(text) > numberScanLimit {
			text = text[:numberScanLimit]
		}
		for _, m := range p.Re.FindAllStringSubmatch(text, 8) {
			candidate := strings.TrimRight(strings.TrimSpace(m[1]), ".,:;")
			if candidate == "" || invoiceNumberStopWords[strings.ToLower(candidate)] {
				continue
			}
			r.log.WithFields(logrus.Fields{
				"pattern": p.Name,
				"number":  candidate,
			}).Info("recovered invoice number from raw text")
			return candidate
		}
	}
	return ""
}

// CleanSupplierName strips trailing boilerplate from a supplier header
// line: the name is cut at the earliest split keyword, and a legal
// suffix is re-appended if the cut removed it. Pure and deterministic.
func CleanSupplierName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return trimmed
	}

	upper := strings.ToUpper(trimmed)
	cut := -1
	for _, kw := range supplierSplitKeywords {
		if idx := strings.Index(upper, kw); idx > 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut < 0 {
		return strings.TrimRight(trimmed, " .,;:-&")
	}

	prefix := strings.TrimRight(trimmed[:cut], " .,;:-&")
	removed := trimmed[cut:]

	// Re-append a legal suffix the cut swallowed, so "Acme Catering
	// Terms Ltd" keeps its Ltd.
	if !hasLegalSuffix(prefix) {
		for _, suffix := range legalSuffixes {
			if containsWord(removed, suffix) {
				prefix += " " + suffix
				break
			}
		}
	}
	return prefix
}

func hasLegalSuffix(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(upper, strings.ToUpper(suffix)) {
			return true
		}
	}
	return false
}

func containsWord(text, word string) bool {
	for _, f := range strings.Fields(strings.ToUpper(text)) {
		if strings.Trim(f, ".,;:") == strings.ToUpper(word) {
			return true
		}
	}
	return false
}
