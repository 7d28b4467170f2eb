package extract

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

const (
	salvageConfidence = 0.2
	backfillPenalty   = 0.95
)

// backfillCeiling guards against a computed total produced by a mangled
// quantity or price: anything above it is discarded rather than stored.
var backfillCeiling = decimal.NewFromInt(100000)

// Method names reported in Result.Method.
const (
	MethodTable     = "table"
	MethodLineRegex = "line_regex"
	MethodMixed     = "mixed"
	MethodSalvage   = "salvage"
	MethodNone      = "none"
)

// Result carries the extracted items and which cascade phase produced
// them.
type Result struct {
	Items  []models.LineItem
	Method string
}

// Extractor turns raw per-line OCR output into candidate line items
// through an ordered cascade of strategies: structured table recovery,
// strict line patterns, then a guaranteed salvage row. It is stateless
// and safe to share across goroutines.
type Extractor struct {
	log *logrus.Entry
}

// New creates a line-item extractor.
func New() *Extractor {
	return &Extractor{log: logrus.WithField("component", "extract")}
}

// Extract runs the cascade and returns the candidate items. It never
// fails: when no structure is found it salvages the most number-dense
// line so downstream verification and reconciliation always have at
// least one anchor row to reason about.
func (e *Extractor) Extract(rawLines []models.OCRLine) []models.LineItem {
	return e.ExtractResult(rawLines).Items
}

// ExtractResult is Extract plus the name of the phase that produced the
// output.
func (e *Extractor) ExtractResult(rawLines []models.OCRLine) Result {
	guarded := e.pageGuardedLines(rawLines)
	candidates := dropNoise(guarded)
	if len(candidates) == 0 {
		// The noise filter is a heuristic; when it consumes the whole
		// document the salvage guarantee still applies, over the
		// unfiltered lines. Only the page guard is final.
		if item, ok := salvage(guarded); ok {
			e.log.WithField("description", item.Description).
				Warn("noise filter consumed all lines, salvaging from unfiltered input")
			return Result{Items: []models.LineItem{item}, Method: MethodSalvage}
		}
		e.log.Warn("no usable lines after page guard")
		return Result{Method: MethodNone}
	}

	tableItems, consumed := tablePhase(candidates)

	var lineItems []models.LineItem
	for i, ln := range candidates {
		if consumed[i] {
			continue
		}
		if item, ok := parseItemLine(ln); ok {
			lineItems = append(lineItems, item)
		}
	}

	items := append(tableItems, lineItems...)
	method := chooseMethod(len(tableItems), len(lineItems))

	if len(items) == 0 {
		if item, ok := salvage(candidates); ok {
			e.log.WithField("description", item.Description).
				Warn("no items extracted, salvaging most number-dense line")
			return Result{Items: []models.LineItem{item}, Method: MethodSalvage}
		}
		return Result{Method: MethodNone}
	}

	for i := range items {
		backfillTotal(&items[i])
	}

	e.log.WithFields(logrus.Fields{
		"items":  len(items),
		"method": method,
	}).Debug("extraction complete")
	return Result{Items: items, Method: method}
}

// pageGuardedLines applies the multi-page guard. A page whose text
// contains "Delivery Note" belongs to a different logical document
// embedded in the same file and contributes nothing.
func (e *Extractor) pageGuardedLines(rawLines []models.OCRLine) []models.OCRLine {
	byPage := make(map[int][]models.OCRLine)
	var pageOrder []int
	for _, ln := range rawLines {
		if _, seen := byPage[ln.Page]; !seen {
			pageOrder = append(pageOrder, ln.Page)
		}
		byPage[ln.Page] = append(byPage[ln.Page], ln)
	}

	var out []models.OCRLine
	for _, page := range pageOrder {
		lines := byPage[page]
		var joined strings.Builder
		for _, ln := range lines {
			joined.WriteString(ln.Text)
			joined.WriteByte('\n')
		}
		if isDeliveryNotePage(joined.String()) {
			e.log.WithField("page", page).Info("skipping embedded delivery note page")
			continue
		}
		out = append(out, lines...)
	}
	return out
}

// dropNoise strips lines matching the noise blocklist.
func dropNoise(lines []models.OCRLine) []models.OCRLine {
	var out []models.OCRLine
	for _, ln := range lines {
		if IsNoise(ln.Text) {
			continue
		}
		out = append(out, ln)
	}
	return out
}

// backfillTotal computes a missing row total from quantity and unit
// price. Backfilled values get a small confidence penalty: the number is
// arithmetic, not something read off the page.
func backfillTotal(item *models.LineItem) {
	if !item.TotalPrice.Equal(decimal.Zero) {
		return
	}
	if item.Quantity <= 0 || !item.UnitPrice.IsPositive() {
		return
	}
	total := item.UnitPrice.Mul(decimal.NewFromFloat(item.Quantity)).Round(2)
	if total.GreaterThan(backfillCeiling) {
		return
	}
	item.TotalPrice = total
	item.Confidence *= backfillPenalty
	item.AddFlag(models.FlagBackfilled)
}

// salvage synthesizes a single item from the most number-dense remaining
// line.
func salvage(lines []models.OCRLine) (models.LineItem, bool) {
	bestIdx := -1
	bestDensity := 0.0
	for i, ln := range lines {
		if strings.TrimSpace(ln.Text) == "" {
			continue
		}
		d := digitDensity(ln.Text)
		if bestIdx < 0 || d > bestDensity {
			bestIdx = i
			bestDensity = d
		}
	}
	if bestIdx < 0 {
		return models.LineItem{}, false
	}
	ln := lines[bestIdx]
	item := models.LineItem{
		Description: strings.TrimSpace(ln.Text),
		Quantity:    1,
		Confidence:  salvageConfidence,
		BBox:        ln.BBox,
		Page:        ln.Page,
	}
	if prices := tailPrices(strings.Fields(ln.Text), 1); len(prices) == 1 {
		item.TotalPrice = prices[0]
	}
	item.AddFlag(models.FlagSalvaged)
	return item, true
}

func chooseMethod(tableCount, lineCount int) string {
	switch {
	case tableCount > 0 && lineCount > 0:
		return MethodMixed
	case tableCount > 0:
		return MethodTable
	case lineCount > 0:
		return MethodLineRegex
	default:
		return MethodNone
	}
}
