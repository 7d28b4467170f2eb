package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DocumentStatus is the lifecycle status of a parsed document.
// Transitions happen only through the verifier.
type DocumentStatus string

const (
	StatusPending     DocumentStatus = "pending"
	StatusNeedsReview DocumentStatus = "needs_review"
	StatusProcessed   DocumentStatus = "processed"
)

// SourceFlag records how a line-item value was produced, so downstream
// consumers can tell a read value from a computed or synthesized one.
type SourceFlag string

const (
	FlagExtracted    SourceFlag = "extracted"
	FlagBackfilled   SourceFlag = "backfilled"
	FlagSalvaged     SourceFlag = "salvaged"
	FlagQtyCapped    SourceFlag = "qty_capped"
	FlagQtyDefaulted SourceFlag = "qty_defaulted"
)

// BBox is a text bounding box in page pixel coordinates.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// OCRLine is one detected text line from the OCR collaborator.
type OCRLine struct {
	Text       string  `json:"text"`
	BBox       *BBox   `json:"bbox,omitempty"`
	Page       int     `json:"page"`
	Confidence float64 `json:"confidence,omitempty"`
}

// LineItem is a single invoice or delivery-note row. Money fields use
// decimal to avoid float drift in totals; quantities stay float64 because
// suppliers invoice fractional weights (2.5 kg).
type LineItem struct {
	Description string          `json:"description"`
	Quantity    float64         `json:"quantity"`
	Unit        string          `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Confidence  float64         `json:"confidence"`
	SourceFlags []SourceFlag    `json:"source_flags,omitempty"`
	BBox        *BBox           `json:"bbox,omitempty"`
	Page        int             `json:"page,omitempty"`
}

// HasFlag reports whether the item carries the given source flag.
func (li *LineItem) HasFlag(f SourceFlag) bool {
	for _, have := range li.SourceFlags {
		if have == f {
			return true
		}
	}
	return false
}

// AddFlag appends a source flag if not already present.
func (li *LineItem) AddFlag(f SourceFlag) {
	if !li.HasFlag(f) {
		li.SourceFlags = append(li.SourceFlags, f)
	}
}

// Invoice is the parsed supplier invoice.
type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	SupplierName  string          `json:"supplier_name"`
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	VAT           decimal.Decimal `json:"vat"`
	Total         decimal.Decimal `json:"total"`
	LineItems     []LineItem      `json:"line_items"`
	Confidence    float64         `json:"confidence"`
	Status        DocumentStatus  `json:"status"`

	// Provenance
	ScanPath    string    `json:"scan_path,omitempty"`
	RawText     string    `json:"raw_text,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// DeliveryNote is the parsed delivery note. Same shape as Invoice minus
// the financial totals; line items carry quantities and units only.
type DeliveryNote struct {
	ID           uuid.UUID      `json:"id"`
	SupplierName string         `json:"supplier_name"`
	NoteNumber   string         `json:"note_number"`
	NoteDate     time.Time      `json:"note_date"`
	LineItems    []LineItem     `json:"line_items"`
	Confidence   float64        `json:"confidence"`
	Status       DocumentStatus `json:"status"`

	ScanPath    string    `json:"scan_path,omitempty"`
	RawText     string    `json:"raw_text,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}
