package repair

import "regexp"

// numberPattern is one entry in the invoice-number recovery ladder.
// Patterns run in order against the raw OCR text; the first capture
// wins. The ladder recovers, never invents: no match means no number.
type numberPattern struct {
	Name string
	Re   *regexp.Regexp
}

var invoiceNumberPatterns = []numberPattern{
	{"vat-invoice", regexp.MustCompile(`(?i)VAT\s+Invoice\s+([A-Za-z0-9\-/]+)`)},
	{"labelled", regexp.MustCompile(`(?i)Invoice\s*(?:No|Number|#)?\s*[:.]?\s*([A-Z0-9-]{3,})`)},
	{"inv-prefix", regexp.MustCompile(`(?i)\bINV[-\s]?([A-Z0-9-]{3,})\b`)},
	{"alpha-run", regexp.MustCompile(`(?i)Invoice\s*([A-Z]{2,}\d{4,})`)},
	{"digit-run", regexp.MustCompile(`\b(\d{5,})\b`)},
}

// invoiceNumberStopWords rejects label words the looser patterns can
// capture when the number itself is missing ("Invoice Date" -> "DATE").
var invoiceNumberStopWords = map[string]bool{
	"date":   true,
	"number": true,
	"total":  true,
	"no":     true,
}

// numberScanLimit bounds how much raw text the digit-run fallback sees;
// long documents bury unrelated digit runs (phone numbers, totals pages)
// past the header.
const numberScanLimit = 2000

// supplierSplitKeywords mark where a supplier header line stops being a
// name and starts being boilerplate. Matched case-insensitively; the
// earliest hit wins.
var supplierSplitKeywords = []string{
	"TERMS",
	"PAYMENT",
	"DUE DATE",
	"VAT REGISTRATION",
}

// legalSuffixes are re-appended when a split cuts them off the name.
var legalSuffixes = []string{"Limited", "Ltd"}
