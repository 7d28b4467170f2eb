package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// priceTokenRe matches a money token: optional currency symbol, digits
// with optional thousands separators, exactly two decimal digits.
var priceTokenRe = regexp.MustCompile(`^[£$€]?\d{1,3}(?:,\d{3})*\.\d{2}$`)

var (
	priceFloor   = decimal.Zero
	priceCeiling = decimal.NewFromInt(10000)
)

// ParsePrice parses a single price token from the tail of a line.
// Tokens outside (0, 10000) are rejected as implausible: below the floor
// they are OCR artifacts, above the ceiling they are almost always a
// merged reference number.
func ParsePrice(tok string) (decimal.Decimal, bool) {
	tok = strings.TrimSpace(tok)
	if !priceTokenRe.MatchString(tok) {
		return decimal.Zero, false
	}
	cleaned := strings.TrimLeft(tok, "£$€")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	if !d.GreaterThan(priceFloor) || !d.LessThan(priceCeiling) {
		return decimal.Zero, false
	}
	return d, true
}

// tailPrices reads up to max trailing price tokens from a line, returned
// in reading order. Scanning stops at the first non-price token so a
// product code earlier in the line is never mistaken for money.
func tailPrices(fields []string, max int) []decimal.Decimal {
	var rev []decimal.Decimal
	for i := len(fields) - 1; i >= 0 && len(rev) < max; i-- {
		p, ok := ParsePrice(fields[i])
		if !ok {
			break
		}
		rev = append(rev, p)
	}
	// reverse into reading order
	out := make([]decimal.Decimal, len(rev))
	for i, p := range rev {
		out[len(rev)-1-i] = p
	}
	return out
}

// parseQuantity parses a bare quantity token (integer or decimal, no
// currency symbol).
func parseQuantity(tok string) (float64, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" || strings.ContainsAny(tok, "£$€,") {
		return 0, false
	}
	q, err := strconv.ParseFloat(tok, 64)
	if err != nil || q <= 0 {
		return 0, false
	}
	return q, true
}

// digitDensity is the fraction of a line's characters that are digits,
// used to rank salvage candidates.
func digitDensity(line string) float64 {
	if line == "" {
		return 0
	}
	digits := 0
	for _, r := range line {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return float64(digits) / float64(len(line))
}
