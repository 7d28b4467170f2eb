package reconcile

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sirupsen/logrus"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

const (
	// MatchThreshold is the minimum normalized description similarity
	// for two rows to be considered the same product.
	MatchThreshold = 0.6

	// Severity ratios over |difference| / max(invoice_qty, 1).
	criticalRatio = 0.5
	warningRatio  = 0.1

	// quantityEpsilon below which two quantities count as equal.
	quantityEpsilon = 0.01
)

// stopWords are pack and unit words stripped before similarity, so
// "Tomatoes Cherry 250g pack" still matches "Tomatoes Cherry".
var stopWords = map[string]bool{
	"case": true, "box": true, "pack": true, "bottle": true,
	"each": true, "kg": true, "g": true, "l": true, "ml": true,
	"x": true, "of": true, "per": true,
}

// Reconciler compares matched invoice and delivery-note line items and
// reports quantity discrepancies. Stateless; safe for concurrent use.
type Reconciler struct {
	log *logrus.Entry
}

// NewReconciler creates a reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{log: logrus.WithField("component", "reconcile")}
}

// Reconcile matches items pairwise by best fuzzy description similarity
// (one-to-one, each row consumed at most once) and returns a quantity
// match score in [0,1] plus severity-tagged discrepancies. Absence of
// data is not evidence of mismatch: two empty lists score 1.0.
func (r *Reconciler) Reconcile(invoiceItems, dnItems []models.LineItem) (float64, []models.Discrepancy) {
	if len(invoiceItems) == 0 && len(dnItems) == 0 {
		return 1.0, []models.Discrepancy{{
			Severity: models.SeverityInfo,
			Message:  "no line items on either document",
		}}
	}

	pairs := matchPairs(invoiceItems, dnItems)

	var discrepancies []models.Discrepancy
	matchedInv := make(map[int]bool)
	matchedDN := make(map[int]bool)
	var simSum float64

	for _, p := range pairs {
		matchedInv[p.inv] = true
		matchedDN[p.dn] = true

		invItem := invoiceItems[p.inv]
		dnItem := dnItems[p.dn]
		diff := invItem.Quantity - dnItem.Quantity
		ratio := math.Abs(diff) / math.Max(invItem.Quantity, 1)
		simSum += 1 - math.Min(1, ratio)

		if math.Abs(diff) <= quantityEpsilon {
			continue
		}
		discrepancies = append(discrepancies, models.Discrepancy{
			Description: invItem.Description,
			InvoiceQty:  invItem.Quantity,
			DeliveryQty: dnItem.Quantity,
			Difference:  diff,
			Severity:    severityFor(ratio),
			Message: fmt.Sprintf("invoiced %.2f, delivered %.2f",
				invItem.Quantity, dnItem.Quantity),
		})
	}

	for i, item := range invoiceItems {
		if !matchedInv[i] {
			discrepancies = append(discrepancies, models.Discrepancy{
				Description: item.Description,
				InvoiceQty:  item.Quantity,
				Severity:    models.SeverityInfo,
				Message:     "no match on delivery note",
			})
		}
	}
	for i, item := range dnItems {
		if !matchedDN[i] {
			discrepancies = append(discrepancies, models.Discrepancy{
				Description: item.Description,
				DeliveryQty: item.Quantity,
				Severity:    models.SeverityInfo,
				Message:     "no match on invoice",
			})
		}
	}

	denom := float64(len(invoiceItems))
	if len(dnItems) > len(invoiceItems) {
		denom = float64(len(dnItems))
	}
	score := simSum / denom

	r.log.WithFields(logrus.Fields{
		"matched":       len(pairs),
		"discrepancies": len(discrepancies),
		"score":         score,
	}).Debug("reconciled line items")
	return score, discrepancies
}

type pair struct {
	inv, dn int
	sim     float64
}

// matchPairs runs one-to-one greedy matching over all candidate pairs,
// best similarity first.
func matchPairs(invoiceItems, dnItems []models.LineItem) []pair {
	var candidates []pair
	for i, invItem := range invoiceItems {
		for j, dnItem := range dnItems {
			sim := DescriptionSimilarity(invItem.Description, dnItem.Description)
			if sim >= MatchThreshold {
				candidates = append(candidates, pair{inv: i, dn: j, sim: sim})
			}
		}
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].sim > candidates[b].sim })

	usedInv := make(map[int]bool)
	usedDN := make(map[int]bool)
	var pairs []pair
	for _, c := range candidates {
		if usedInv[c.inv] || usedDN[c.dn] {
			continue
		}
		usedInv[c.inv] = true
		usedDN[c.dn] = true
		pairs = append(pairs, c)
	}
	return pairs
}

// DescriptionSimilarity is a normalized [0,1] similarity between two
// product descriptions: the better of edit-distance similarity and token
// overlap, computed over stop-word-stripped text.
func DescriptionSimilarity(a, b string) float64 {
	na, nb := normalizeDescription(a), normalizeDescription(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	dist := levenshtein.ComputeDistance(na, nb)
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	editSim := 1 - float64(dist)/float64(maxLen)

	overlap := tokenOverlap(na, nb)
	return math.Max(editSim, overlap)
}

func normalizeDescription(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	var kept []string
	for _, f := range strings.Fields(b.String()) {
		// pack sizes ("250g", "5kg", "12") describe packaging, not the
		// product
		if stopWords[f] || (f[0] >= '0' && f[0] <= '9') {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// tokenOverlap is the Jaccard index over word sets.
func tokenOverlap(a, b string) float64 {
	setA := make(map[string]bool)
	for _, f := range strings.Fields(a) {
		setA[f] = true
	}
	setB := make(map[string]bool)
	for _, f := range strings.Fields(b) {
		setB[f] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func severityFor(ratio float64) models.Severity {
	switch {
	case ratio > criticalRatio:
		return models.SeverityCritical
	case ratio > warningRatio:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}
