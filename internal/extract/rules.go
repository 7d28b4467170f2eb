package extract

import "strings"

// noiseRule drops OCR lines that belong to document chrome (registration
// footers, contact blocks, bank details). These lines must never become
// line items no matter how numeric they look, so the blocklist is checked
// before any numeric parse.
type noiseRule struct {
	Name     string
	Contains string // lowercase substring
}

var noiseRules = []noiseRule{
	{"vat-registration", "vat registration"},
	{"address", "address:"},
	{"telephone", "tel:"},
	{"email", "email:"},
	{"bank", "bank:"},
	{"sort-code", "sort code:"},
	{"company-number", "company no"},
}

// headerWords identify a column header row ("QTY DESCRIPTION UNIT PRICE
// TOTAL"). Header rows are structural, not items.
var headerWords = map[string]bool{
	"qty":         true,
	"quantity":    true,
	"description": true,
	"item":        true,
	"code":        true,
	"unit":        true,
	"price":       true,
	"total":       true,
	"amount":      true,
	"vat":         true,
	"net":         true,
}

// deliveryNoteMarker flags a page that belongs to a different logical
// document embedded in the same file.
const deliveryNoteMarker = "delivery note"

// IsNoise reports whether a raw line matches the chrome blocklist.
func IsNoise(line string) bool {
	lower := strings.ToLower(line)
	for _, rule := range noiseRules {
		if strings.Contains(lower, rule.Contains) {
			return true
		}
	}
	return false
}

// isHeaderRow reports whether every word of the line is a known column
// header word. Requires at least two words so a lone "Total" amount line
// is not swallowed.
func isHeaderRow(line string) bool {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) < 2 {
		return false
	}
	for _, f := range fields {
		if !headerWords[strings.Trim(f, ".:")] {
			return false
		}
	}
	return true
}

// isDeliveryNotePage reports whether the joined page text carries the
// delivery-note marker.
func isDeliveryNotePage(pageText string) bool {
	return strings.Contains(strings.ToLower(pageText), deliveryNoteMarker)
}
