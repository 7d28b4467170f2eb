package extract

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

const (
	// Cells within this vertical distance share a visual row.
	rowTolerance = 15.0
	// Cells whose left edges fall within this distance share a column band.
	bandTolerance = 25.0

	minTableRows  = 3
	minTableBands = 3

	// A candidate table is accepted only if at least half its rows
	// yield a usable item.
	tableValidityRatio = 0.5

	tableConfidence = 0.85
)

type tableCell struct {
	text string
	x    float64
	y    float64
	src  int // index into the source line slice
	bbox *models.BBox
	page int
}

// column roles inferred from band content
type bandRole int

const (
	roleUnknown bandRole = iota
	roleQuantity
	roleDescription
	roleUnitPrice
	roleTotalPrice
)

type band struct {
	x     float64
	role  bandRole
	cells int
}

// tablePhase recovers a structured item table from positioned line
// fragments: fragments are clustered into visual rows by y, then into
// column bands by x, and bands are assigned roles by content (numeric
// bands near the right edge are prices, a lone small-integer band is the
// quantity, the textiest band is the description). Returns the extracted
// items and the set of consumed source indices; returns nil when no
// credible table structure exists so the caller can fall through to the
// next phase.
func tablePhase(lines []models.OCRLine) ([]models.LineItem, map[int]bool) {
	cells := collectCells(lines)
	if len(cells) == 0 {
		return nil, nil
	}

	rows := clusterRows(cells)
	multi := 0
	for _, r := range rows {
		if len(r) >= 2 {
			multi++
		}
	}
	if multi < minTableRows {
		return nil, nil
	}

	bands := clusterBands(cells)
	if len(bands) < minTableBands {
		return nil, nil
	}
	assignRoles(bands, cells)

	var items []models.LineItem
	consumed := make(map[int]bool)
	candidates := 0
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		candidates++
		item, ok := buildRowItem(row, bands)
		if !ok {
			continue
		}
		items = append(items, item)
		for _, c := range row {
			consumed[c.src] = true
		}
	}

	if candidates == 0 || float64(len(items))/float64(candidates) < tableValidityRatio {
		return nil, nil
	}
	return items, consumed
}

func collectCells(lines []models.OCRLine) []tableCell {
	var cells []tableCell
	for i, ln := range lines {
		if ln.BBox == nil || strings.TrimSpace(ln.Text) == "" {
			continue
		}
		cells = append(cells, tableCell{
			text: strings.TrimSpace(ln.Text),
			x:    ln.BBox.X,
			y:    ln.BBox.Y + ln.BBox.H/2,
			src:  i,
			bbox: ln.BBox,
			page: ln.Page,
		})
	}
	return cells
}

// clusterRows groups cells into visual rows, top to bottom, each row
// sorted left to right.
func clusterRows(cells []tableCell) [][]tableCell {
	sorted := make([]tableCell, len(cells))
	copy(sorted, cells)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].y < sorted[j].y })

	var rows [][]tableCell
	for _, c := range sorted {
		placed := false
		if len(rows) > 0 {
			last := rows[len(rows)-1]
			if c.y-last[0].y <= rowTolerance {
				rows[len(rows)-1] = append(last, c)
				placed = true
			}
		}
		if !placed {
			rows = append(rows, []tableCell{c})
		}
	}
	for _, r := range rows {
		sort.Slice(r, func(i, j int) bool { return r[i].x < r[j].x })
	}
	return rows
}

// clusterBands groups cell left edges into column bands, left to right.
func clusterBands(cells []tableCell) []*band {
	xs := make([]float64, 0, len(cells))
	for _, c := range cells {
		xs = append(xs, c.x)
	}
	sort.Float64s(xs)

	var bands []*band
	for _, x := range xs {
		if len(bands) > 0 && x-bands[len(bands)-1].x <= bandTolerance {
			b := bands[len(bands)-1]
			b.cells++
			continue
		}
		bands = append(bands, &band{x: x, cells: 1})
	}
	return bands
}

// assignRoles infers what each column band holds. Price bands are those
// where at least half the cells parse as money; the rightmost is the row
// total and the one to its left the unit price. A non-price band whose
// cells are mostly small numbers is the quantity. The band with the most
// text becomes the description.
func assignRoles(bands []*band, cells []tableCell) {
	type stats struct {
		total    int
		prices   int
		smallInt int
		textLen  int
	}
	byBand := make([]stats, len(bands))
	for _, c := range cells {
		bi := bandIndex(bands, c.x)
		if bi < 0 {
			continue
		}
		s := &byBand[bi]
		s.total++
		if _, ok := ParsePrice(c.text); ok {
			s.prices++
		} else if q, ok := parseQuantity(c.text); ok && q < 1000 {
			s.smallInt++
		} else {
			s.textLen += len(c.text)
		}
	}

	// price bands, right to left
	priceSeen := 0
	for i := len(bands) - 1; i >= 0; i-- {
		s := byBand[i]
		if s.total > 0 && float64(s.prices)/float64(s.total) >= 0.5 {
			if priceSeen == 0 {
				bands[i].role = roleTotalPrice
			} else if priceSeen == 1 {
				bands[i].role = roleUnitPrice
			}
			priceSeen++
		}
	}

	// leftmost small-integer band becomes the quantity
	for i, b := range bands {
		s := byBand[i]
		if b.role == roleUnknown && s.total > 0 && float64(s.smallInt)/float64(s.total) >= 0.5 {
			b.role = roleQuantity
			break
		}
	}

	// textiest remaining band is the description
	bestText, bestIdx := 0, -1
	for i, b := range bands {
		if b.role == roleUnknown && byBand[i].textLen > bestText {
			bestText = byBand[i].textLen
			bestIdx = i
		}
	}
	if bestIdx >= 0 {
		bands[bestIdx].role = roleDescription
	}
}

func bandIndex(bands []*band, x float64) int {
	for i, b := range bands {
		if x >= b.x-bandTolerance && x <= b.x+bandTolerance {
			return i
		}
	}
	return -1
}

// buildRowItem assembles a line item from one table row. A row counts as
// an item only if it has a description and at least one parsed number.
func buildRowItem(row []tableCell, bands []*band) (models.LineItem, bool) {
	var item models.LineItem
	var haveNumber bool
	for _, c := range row {
		bi := bandIndex(bands, c.x)
		if bi < 0 {
			continue
		}
		switch bands[bi].role {
		case roleQuantity:
			if _, ok := parseQuantity(c.text); ok {
				applyQuantity(&item, c.text)
				haveNumber = true
			}
		case roleDescription:
			if item.Description == "" {
				item.Description = c.text
				item.BBox = c.bbox
				item.Page = c.page
			} else {
				item.Description += " " + c.text
			}
		case roleUnitPrice:
			if p, ok := ParsePrice(c.text); ok {
				item.UnitPrice = p
				haveNumber = true
			}
		case roleTotalPrice:
			if p, ok := ParsePrice(c.text); ok {
				item.TotalPrice = p
				haveNumber = true
			}
		}
	}

	if item.Description == "" || !haveNumber || isHeaderRow(item.Description) {
		return models.LineItem{}, false
	}
	if item.UnitPrice.Equal(decimal.Zero) && item.TotalPrice.Equal(decimal.Zero) && item.Quantity == 0 {
		return models.LineItem{}, false
	}
	item.Confidence = tableConfidence
	item.AddFlag(models.FlagExtracted)
	return item, true
}
