package extract

import (
	"regexp"
	"strings"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

// Patterns for the strict line-regex phase, tried in order. Each expects
// a quantity at the head, a description, and one or two price tokens at
// the tail.
var (
	// "2 Chicken Breast 5kg 12.50 25.00"
	qtyDescTwoPrices = regexp.MustCompile(`^\s*(\d{1,5}(?:\.\d{1,3})?)\s+(.{3,}?)\s+([£$€]?[\d,]+\.\d{2})\s+([£$€]?[\d,]+\.\d{2})\s*$`)
	// "2 Chicken Breast 5kg 25.00"
	qtyDescOnePrice = regexp.MustCompile(`^\s*(\d{1,5}(?:\.\d{1,3})?)\s+(.{3,}?)\s+([£$€]?[\d,]+\.\d{2})\s*$`)
	// "Chicken Breast 2 x £12.50"
	descQtyTimesPrice = regexp.MustCompile(`^\s*(.{3,}?)\s+(\d{1,5})\s*[xX]\s*([£$€]?[\d,]+\.\d{2})\s*$`)
)

// quantityCap is the sanity ceiling for a parsed quantity. Values above
// it are OCR merge artifacts (an order code read as a count); the item is
// kept with quantity 1 and tagged rather than dropped, so no row is
// silently lost.
const quantityCap = 999

const (
	lineConfidenceTwoPrices = 0.7
	lineConfidenceOnePrice  = 0.6
)

// parseItemLine applies the strict line patterns to one raw text line.
func parseItemLine(line models.OCRLine) (models.LineItem, bool) {
	text := strings.TrimSpace(line.Text)
	if text == "" || isHeaderRow(text) {
		return models.LineItem{}, false
	}

	if m := qtyDescTwoPrices.FindStringSubmatch(text); m != nil {
		unit, okU := ParsePrice(m[3])
		total, okT := ParsePrice(m[4])
		if okU || okT {
			item := models.LineItem{
				Description: strings.TrimSpace(m[2]),
				Confidence:  lineConfidenceTwoPrices,
				BBox:        line.BBox,
				Page:        line.Page,
			}
			if okU {
				item.UnitPrice = unit
			}
			if okT {
				item.TotalPrice = total
			}
			applyQuantity(&item, m[1])
			item.AddFlag(models.FlagExtracted)
			return item, true
		}
	}

	if m := descQtyTimesPrice.FindStringSubmatch(text); m != nil {
		if unit, ok := ParsePrice(m[3]); ok {
			item := models.LineItem{
				Description: strings.TrimSpace(m[1]),
				UnitPrice:   unit,
				Confidence:  lineConfidenceTwoPrices,
				BBox:        line.BBox,
				Page:        line.Page,
			}
			applyQuantity(&item, m[2])
			item.AddFlag(models.FlagExtracted)
			return item, true
		}
	}

	if m := qtyDescOnePrice.FindStringSubmatch(text); m != nil {
		if total, ok := ParsePrice(m[3]); ok {
			item := models.LineItem{
				Description: strings.TrimSpace(m[2]),
				TotalPrice:  total,
				Confidence:  lineConfidenceOnePrice,
				BBox:        line.BBox,
				Page:        line.Page,
			}
			applyQuantity(&item, m[1])
			item.AddFlag(models.FlagExtracted)
			return item, true
		}
	}

	return models.LineItem{}, false
}

// applyQuantity parses and sanity-checks the quantity token, capping
// implausible values to 1 with the qty_capped tag.
func applyQuantity(item *models.LineItem, tok string) {
	q, ok := parseQuantity(tok)
	if !ok {
		return
	}
	if q > quantityCap {
		item.Quantity = 1
		item.AddFlag(models.FlagQtyCapped)
		return
	}
	item.Quantity = q
}
