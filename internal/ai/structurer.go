package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

// Structurer turns raw OCR text into structured document data through
// a language model. It is an optional assist on top of the rule-based
// extractor; callers must tolerate it failing.
type Structurer struct {
	provider Provider
	log      *logrus.Entry
}

// NewStructurer creates a structurer over the given provider.
func NewStructurer(provider Provider) *Structurer {
	return &Structurer{
		provider: provider,
		log:      logrus.WithField("component", "ai"),
	}
}

// StructureInvoice extracts invoice fields and line items from OCR
// text. The returned duration is the provider call time in seconds.
func (s *Structurer) StructureInvoice(ctx context.Context, ocrText string) (*models.Invoice, float64, error) {
	start := time.Now()

	response, err := s.provider.Complete(ctx, buildInvoicePrompt(ocrText))
	if err != nil {
		return nil, 0, fmt.Errorf("ai structuring failed: %w", err)
	}
	duration := time.Since(start).Seconds()

	s.log.WithFields(logrus.Fields{
		"provider":        s.provider.Name(),
		"response_length": len(response),
		"duration_s":      duration,
	}).Debug("provider response received")

	inv, err := parseInvoiceResponse(response, ocrText)
	if err != nil {
		return nil, duration, fmt.Errorf("failed to parse ai response: %w", err)
	}
	return inv, duration, nil
}

// StructureDeliveryNote extracts delivery-note fields from OCR text.
func (s *Structurer) StructureDeliveryNote(ctx context.Context, ocrText string) (*models.DeliveryNote, float64, error) {
	start := time.Now()

	response, err := s.provider.Complete(ctx, buildDeliveryNotePrompt(ocrText))
	if err != nil {
		return nil, 0, fmt.Errorf("ai structuring failed: %w", err)
	}
	duration := time.Since(start).Seconds()

	dn, err := parseDeliveryNoteResponse(response, ocrText)
	if err != nil {
		return nil, duration, fmt.Errorf("failed to parse ai response: %w", err)
	}
	return dn, duration, nil
}

func buildInvoicePrompt(ocrText string) string {
	return fmt.Sprintf(`You are an expert at reading UK supplier invoices from noisy OCR text. Extract the structured data below.

## READING RULES
1. OCR merges and splits tokens. "Tomatoes5.00" means description "Tomatoes" and price 5.00. Split merged tokens before extracting.
2. IGNORE boilerplate lines: VAT Registration, Address:, Tel:, Email:, Bank:, Sort Code:, Company No. They are never line items.
3. If a page is headed "Delivery Note", its lines belong to a different document. Skip that page entirely.
4. Line items usually read: quantity, description, unit price, line total. The rightmost price on a row is the line total.
5. Prices use pounds with two decimals, sometimes with thousands commas: 1,234.56.
6. NEVER invent values. Use null for text you cannot read and 0 for absent amounts.
7. Quantities above 999 are almost always OCR noise from merged digits.

## OUTPUT

Return ONLY valid JSON, no markdown, no commentary:
{
  "supplier_name": "company issuing the invoice",
  "invoice_number": "invoice reference",
  "invoice_date": "YYYY-MM-DD",
  "subtotal": number (0 if absent),
  "vat": number (0 if absent),
  "total": number (0 if absent, NEVER null),
  "line_items": [{"description": "...", "quantity": 1, "unit": "kg or null", "unit_price": 4.20, "total_price": 12.60}]
}

Invoice text:
%s`, ocrText)
}

func buildDeliveryNotePrompt(ocrText string) string {
	return fmt.Sprintf(`You are an expert at reading UK supplier delivery notes from noisy OCR text. Extract the structured data below.

## READING RULES
1. OCR merges and splits tokens; split merged description/number tokens before extracting.
2. IGNORE boilerplate lines: VAT Registration, Address:, Tel:, Email:, Bank:, Sort Code:, Company No.
3. Delivery notes list quantities delivered. Prices are usually absent; use 0 when a row has none.
4. NEVER invent values. Use null for text you cannot read.

## OUTPUT

Return ONLY valid JSON, no markdown, no commentary:
{
  "supplier_name": "company issuing the note",
  "note_number": "delivery note reference",
  "note_date": "YYYY-MM-DD",
  "line_items": [{"description": "...", "quantity": 1, "unit": "kg or null", "unit_price": 0, "total_price": 0}]
}

Delivery note text:
%s`, ocrText)
}

// rawLineItem is the provider's line-item shape. Numbers arrive as
// floats, strings with thousands commas, or json numbers depending on
// the model, so everything numeric is interface{}.
type rawLineItem struct {
	Description string      `json:"description"`
	Quantity    interface{} `json:"quantity"`
	Unit        string      `json:"unit"`
	UnitPrice   interface{} `json:"unit_price"`
	TotalPrice  interface{} `json:"total_price"`
}

func parseInvoiceResponse(response, ocrText string) (*models.Invoice, error) {
	cleaned := extractJSON(response)

	var raw struct {
		SupplierName  string        `json:"supplier_name"`
		InvoiceNumber string        `json:"invoice_number"`
		InvoiceDate   string        `json:"invoice_date"`
		Subtotal      interface{}   `json:"subtotal"`
		VAT           interface{}   `json:"vat"`
		Total         interface{}   `json:"total"`
		LineItems     []rawLineItem `json:"line_items"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("json parse error: %w", err)
	}

	inv := &models.Invoice{
		SupplierName:  strings.TrimSpace(raw.SupplierName),
		InvoiceNumber: strings.TrimSpace(raw.InvoiceNumber),
		InvoiceDate:   parseDate(raw.InvoiceDate),
		Subtotal:      parseDecimal(raw.Subtotal),
		VAT:           parseDecimal(raw.VAT),
		Total:         parseDecimal(raw.Total),
		LineItems:     convertLineItems(raw.LineItems),
		RawText:       ocrText,
		Status:        models.StatusPending,
		ProcessedAt:   time.Now(),
	}
	return inv, nil
}

func parseDeliveryNoteResponse(response, ocrText string) (*models.DeliveryNote, error) {
	cleaned := extractJSON(response)

	var raw struct {
		SupplierName string        `json:"supplier_name"`
		NoteNumber   string        `json:"note_number"`
		NoteDate     string        `json:"note_date"`
		LineItems    []rawLineItem `json:"line_items"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("json parse error: %w", err)
	}

	dn := &models.DeliveryNote{
		SupplierName: strings.TrimSpace(raw.SupplierName),
		NoteNumber:   strings.TrimSpace(raw.NoteNumber),
		NoteDate:     parseDate(raw.NoteDate),
		LineItems:    convertLineItems(raw.LineItems),
		RawText:      ocrText,
		Status:       models.StatusPending,
		ProcessedAt:  time.Now(),
	}
	return dn, nil
}

func convertLineItems(raw []rawLineItem) []models.LineItem {
	items := make([]models.LineItem, 0, len(raw))
	for _, r := range raw {
		desc := strings.TrimSpace(r.Description)
		if desc == "" {
			continue
		}
		qty, _ := parseDecimal(r.Quantity).Float64()
		if qty <= 0 {
			qty = 1
		}
		items = append(items, models.LineItem{
			Description: desc,
			Quantity:    qty,
			Unit:        strings.TrimSpace(r.Unit),
			UnitPrice:   parseDecimal(r.UnitPrice),
			TotalPrice:  parseDecimal(r.TotalPrice),
			Confidence:  0.9,
			SourceFlags: []models.SourceFlag{models.FlagExtracted},
		})
	}
	return items
}

// extractJSON strips markdown code fences and any prose around the
// outermost JSON object. Models wrap responses despite the prompt.
func extractJSON(response string) string {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}
	return cleaned
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	formats := []string{
		"2006-01-02",
		"02/01/2006",
		"02-01-2006",
		"2006/01/02",
		"2 January 2006",
		"02 Jan 2006",
		"2006-01-02T15:04:05Z07:00",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseDecimal handles flexible number parsing from interface{}.
// Supports numbers, strings, and strings with thousands commas
// ("3,965.34").
func parseDecimal(v interface{}) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case string:
		if val == "" {
			return decimal.Zero
		}
		cleaned := strings.ReplaceAll(val, ",", "")
		cleaned = strings.TrimPrefix(cleaned, "£")
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero
		}
		return d
	case json.Number:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}
