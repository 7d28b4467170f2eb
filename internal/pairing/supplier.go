package pairing

import (
	"strings"
	"unicode"
)

// Trailing legal-form tokens carry no identity: "Acme Ltd" and "Acme
// Limited" are the same supplier on paper.
var supplierLegalTokens = map[string]bool{
	"ltd":          true,
	"limited":      true,
	"plc":          true,
	"llc":          true,
	"inc":          true,
	"co":           true,
	"company":      true,
	"incorporated": true,
}

// CanonicalSupplier reduces a supplier name to a comparison key:
// lowercase, punctuation stripped, trailing legal-form tokens removed.
func CanonicalSupplier(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	tokens := strings.Fields(b.String())
	for len(tokens) > 1 && supplierLegalTokens[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// canonical resolves a supplier name through the alias table after
// normalization. Aliases map canonical spellings seen on scans to the
// canonical name the business knows the supplier by.
func (e *Engine) canonical(name string) string {
	key := CanonicalSupplier(name)
	if target, ok := e.aliases[key]; ok {
		return target
	}
	return key
}

// sameSupplier reports whether two names resolve to the same supplier.
// Empty names never match anything.
func (e *Engine) sameSupplier(a, b string) bool {
	ca, cb := e.canonical(a), e.canonical(b)
	return ca != "" && ca == cb
}
