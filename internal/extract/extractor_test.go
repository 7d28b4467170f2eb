package extract

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

func textLines(page int, texts ...string) []models.OCRLine {
	lines := make([]models.OCRLine, 0, len(texts))
	for _, t := range texts {
		lines = append(lines, models.OCRLine{Text: t, Page: page})
	}
	return lines
}

func TestExtractLineRegex(t *testing.T) {
	t.Parallel()

	e := New()
	items := e.Extract(textLines(1,
		"INVOICE INV-2024-001",
		"QTY DESCRIPTION UNIT PRICE TOTAL",
		"2 Chicken Breast 5kg 12.50 25.00",
		"10 Tomatoes Cherry 1.50 15.00",
		"Thank you for your business",
	))

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %+v", len(items), items)
	}
	first := items[0]
	if first.Description != "Chicken Breast 5kg" {
		t.Errorf("description = %q", first.Description)
	}
	if first.Quantity != 2 {
		t.Errorf("quantity = %v, want 2", first.Quantity)
	}
	if !first.UnitPrice.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("unit price = %s, want 12.50", first.UnitPrice)
	}
	if !first.TotalPrice.Equal(decimal.RequireFromString("25.00")) {
		t.Errorf("total price = %s, want 25.00", first.TotalPrice)
	}
	if !first.HasFlag(models.FlagExtracted) {
		t.Error("expected extracted flag")
	}
}

func TestExtractQuantityCap(t *testing.T) {
	t.Parallel()

	e := New()
	items := e.Extract(textLines(1, "1500 Widgets Grade A 2.00 3000.00"))
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Quantity != 1 {
		t.Errorf("quantity = %v, want capped 1", items[0].Quantity)
	}
	if !items[0].HasFlag(models.FlagQtyCapped) {
		t.Error("expected qty_capped flag")
	}
}

func TestExtractNoiseBlocklist(t *testing.T) {
	t.Parallel()

	e := New()
	result := e.ExtractResult(textLines(1,
		"3 Olive Oil 1L 6.00 18.00",
		"VAT Registration 123 456 789",
		"Sort Code: 20-00-00 Account 12345678",
		"Company No 09876543",
	))
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item, got %d: %+v", len(result.Items), result.Items)
	}
	if result.Items[0].Description != "Olive Oil 1L" {
		t.Errorf("description = %q", result.Items[0].Description)
	}
}

func TestExtractMultiPageGuard(t *testing.T) {
	t.Parallel()

	e := New()
	lines := textLines(1, "2 Chicken Breast 5kg 12.50 25.00")
	lines = append(lines, textLines(2,
		"DELIVERY NOTE DN-4411",
		"4 Chicken Breast 5kg 12.50 50.00",
		"8 Tomatoes Cherry 1.50 12.00",
	)...)

	items := e.Extract(lines)
	if len(items) != 1 {
		t.Fatalf("embedded delivery note page must contribute zero items, got %d", len(items))
	}
	if items[0].Page != 1 {
		t.Errorf("item from page %d, want 1", items[0].Page)
	}
}

func TestExtractSalvageGuarantee(t *testing.T) {
	t.Parallel()

	e := New()
	result := e.ExtractResult(textLines(1,
		"completely unstructured scribble",
		"ref 88812 pallet 4417 misc",
		"thanks",
	))
	if len(result.Items) != 1 {
		t.Fatalf("salvage must yield exactly one item, got %d", len(result.Items))
	}
	item := result.Items[0]
	if item.Quantity != 1 {
		t.Errorf("salvaged quantity = %v, want 1", item.Quantity)
	}
	if item.Confidence != salvageConfidence {
		t.Errorf("salvaged confidence = %v, want %v", item.Confidence, salvageConfidence)
	}
	if !item.HasFlag(models.FlagSalvaged) {
		t.Error("expected salvaged flag")
	}
	if item.Description != "ref 88812 pallet 4417 misc" {
		t.Errorf("salvage picked %q, want the most number-dense line", item.Description)
	}
	if result.Method != MethodSalvage {
		t.Errorf("method = %q, want %q", result.Method, MethodSalvage)
	}
}

func TestExtractSalvageAllNoise(t *testing.T) {
	t.Parallel()

	e := New()
	result := e.ExtractResult(textLines(1,
		"Tel: 0113 496 0000",
		"Sort Code: 20-00-00 Account 12345678",
	))
	if len(result.Items) != 1 {
		t.Fatalf("non-empty input must salvage even when every line is noise, got %d items", len(result.Items))
	}
	item := result.Items[0]
	if result.Method != MethodSalvage {
		t.Errorf("method = %q, want %q", result.Method, MethodSalvage)
	}
	if !item.HasFlag(models.FlagSalvaged) {
		t.Error("expected salvaged flag")
	}
	if item.Quantity != 1 {
		t.Errorf("salvaged quantity = %v, want 1", item.Quantity)
	}
	if item.Description != "Tel: 0113 496 0000" {
		t.Errorf("salvage picked %q, want the most number-dense line", item.Description)
	}
}

func TestExtractBackfill(t *testing.T) {
	t.Parallel()

	e := New()
	items := e.Extract(textLines(1, "Beef Mince 3 x £4.20"))
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	item := items[0]
	if !item.HasFlag(models.FlagBackfilled) {
		t.Fatal("expected backfilled flag")
	}
	want := item.UnitPrice.Mul(decimal.NewFromFloat(item.Quantity)).Round(2)
	if !item.TotalPrice.Equal(want) {
		t.Errorf("backfilled total = %s, want %s", item.TotalPrice, want)
	}
	wantConf := lineConfidenceTwoPrices * backfillPenalty
	if item.Confidence != wantConf {
		t.Errorf("confidence = %v, want %v", item.Confidence, wantConf)
	}
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"12.50", "12.50", true},
		{"£12.50", "12.50", true},
		{"$45.99", "45.99", true},
		{"€5.00", "5.00", true},
		{"1,234.50", "1234.50", true},
		{"£9,999.99", "9999.99", true},
		{"12.5", "", false},     // one decimal digit
		{"12", "", false},       // no decimals
		{"0.00", "", false},     // outside (0, 10000)
		{"10000.00", "", false}, // outside (0, 10000)
		{"12000.00", "", false},
		{"ABC12", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := ParsePrice(tc.in)
		if ok != tc.ok {
			t.Errorf("ParsePrice(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("ParsePrice(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestTablePhase(t *testing.T) {
	t.Parallel()

	bbox := func(x, y float64) *models.BBox {
		return &models.BBox{X: x, Y: y, W: 60, H: 10}
	}
	cell := func(text string, x, y float64) models.OCRLine {
		return models.OCRLine{Text: text, BBox: bbox(x, y), Page: 1}
	}

	lines := []models.OCRLine{
		cell("QTY", 10, 80), cell("DESCRIPTION", 100, 80), cell("PRICE", 400, 80), cell("TOTAL", 500, 80),
		cell("2", 10, 110), cell("Chicken Breast", 100, 110), cell("10.00", 400, 110), cell("20.00", 500, 110),
		cell("4", 10, 140), cell("Salmon Fillet", 100, 140), cell("8.50", 400, 140), cell("34.00", 500, 140),
		cell("3", 10, 170), cell("Olive Oil 1L", 100, 170), cell("6.00", 400, 170), cell("18.00", 500, 170),
	}

	e := New()
	result := e.ExtractResult(lines)
	if result.Method != MethodTable {
		t.Fatalf("method = %q, want %q (items: %+v)", result.Method, MethodTable, result.Items)
	}
	if len(result.Items) != 3 {
		t.Fatalf("expected 3 items, got %d: %+v", len(result.Items), result.Items)
	}

	second := result.Items[1]
	if second.Description != "Salmon Fillet" {
		t.Errorf("description = %q", second.Description)
	}
	if second.Quantity != 4 {
		t.Errorf("quantity = %v, want 4", second.Quantity)
	}
	if !second.UnitPrice.Equal(decimal.RequireFromString("8.50")) {
		t.Errorf("unit price = %s", second.UnitPrice)
	}
	if !second.TotalPrice.Equal(decimal.RequireFromString("34.00")) {
		t.Errorf("total price = %s", second.TotalPrice)
	}
	if second.Confidence != tableConfidence {
		t.Errorf("confidence = %v, want %v", second.Confidence, tableConfidence)
	}
}

func TestTablePhaseQuantityCap(t *testing.T) {
	t.Parallel()

	bbox := func(x, y float64) *models.BBox {
		return &models.BBox{X: x, Y: y, W: 60, H: 10}
	}
	cell := func(text string, x, y float64) models.OCRLine {
		return models.OCRLine{Text: text, BBox: bbox(x, y), Page: 1}
	}

	// third row carries an order code merged into the quantity column
	lines := []models.OCRLine{
		cell("QTY", 10, 80), cell("DESCRIPTION", 100, 80), cell("PRICE", 400, 80), cell("TOTAL", 500, 80),
		cell("2", 10, 110), cell("Chicken Breast", 100, 110), cell("10.00", 400, 110), cell("20.00", 500, 110),
		cell("4", 10, 140), cell("Salmon Fillet", 100, 140), cell("8.50", 400, 140), cell("34.00", 500, 140),
		cell("60481", 10, 170), cell("Olive Oil 1L", 100, 170), cell("6.00", 400, 170), cell("18.00", 500, 170),
	}

	e := New()
	result := e.ExtractResult(lines)
	if result.Method != MethodTable {
		t.Fatalf("method = %q, want %q (items: %+v)", result.Method, MethodTable, result.Items)
	}
	if len(result.Items) != 3 {
		t.Fatalf("expected 3 items, got %d: %+v", len(result.Items), result.Items)
	}

	capped := result.Items[2]
	if capped.Description != "Olive Oil 1L" {
		t.Fatalf("description = %q", capped.Description)
	}
	if capped.Quantity != 1 {
		t.Errorf("quantity = %v, want capped 1", capped.Quantity)
	}
	if !capped.HasFlag(models.FlagQtyCapped) {
		t.Error("expected qty_capped flag")
	}
	if result.Items[0].Quantity != 2 || result.Items[1].Quantity != 4 {
		t.Errorf("plausible quantities must pass through uncapped: %+v", result.Items[:2])
	}
}

func TestIsNoise(t *testing.T) {
	t.Parallel()

	noisy := []string{
		"VAT Registration No 123 4567 89",
		"Address: 1 High Street, Leeds",
		"Tel: 0113 496 0000",
		"Email: accounts@supplier.co.uk",
		"Bank: Barclays",
		"Sort Code: 20-00-00",
		"Company No 01234567",
	}
	for _, line := range noisy {
		if !IsNoise(line) {
			t.Errorf("IsNoise(%q) = false, want true", line)
		}
	}
	if IsNoise("2 Chicken Breast 12.50 25.00") {
		t.Error("item line wrongly classified as noise")
	}
}
