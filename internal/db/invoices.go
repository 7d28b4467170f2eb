package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

// SaveInvoice inserts a processed invoice. Line items are stored as a
// JSONB column; they are read and written as a unit, never queried
// row by row.
func SaveInvoice(ctx context.Context, inv *models.Invoice) error {
	if Pool == nil {
		return ErrNoDatabase
	}
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("encoding line items: %w", err)
	}

	query := `
		INSERT INTO invoices (
			supplier_name, invoice_number, invoice_date,
			subtotal, vat, total, line_items,
			confidence, status, scan_path, raw_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, processed_at
	`

	return Pool.QueryRow(ctx, query,
		inv.SupplierName, inv.InvoiceNumber, nullableTime(inv.InvoiceDate),
		inv.Subtotal, inv.VAT, inv.Total, items,
		inv.Confidence, string(inv.Status), inv.ScanPath, inv.RawText,
	).Scan(&inv.ID, &inv.ProcessedAt)
}

const invoiceColumns = `
	id, COALESCE(supplier_name, ''), COALESCE(invoice_number, ''),
	COALESCE(invoice_date, '0001-01-01'::timestamptz),
	COALESCE(subtotal, 0), COALESCE(vat, 0), COALESCE(total, 0),
	COALESCE(line_items, '[]'::jsonb),
	COALESCE(confidence, 0), COALESCE(status, 'pending'),
	COALESCE(scan_path, ''), processed_at
`

// GetInvoices lists the most recent invoices, optionally filtered by
// status.
func GetInvoices(ctx context.Context, status models.DocumentStatus, limit int) ([]models.Invoice, error) {
	if Pool == nil {
		return nil, ErrNoDatabase
	}
	query := "SELECT " + invoiceColumns + " FROM invoices"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, string(status))
	}
	query += fmt.Sprintf(" ORDER BY processed_at DESC LIMIT %d", limit)

	rows, err := Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// GetInvoiceByID retrieves a single invoice.
func GetInvoiceByID(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	if Pool == nil {
		return nil, ErrNoDatabase
	}
	row := Pool.QueryRow(ctx, "SELECT "+invoiceColumns+", COALESCE(raw_text, '') FROM invoices WHERE id = $1", invoiceID)

	var inv models.Invoice
	var itemsJSON []byte
	var status string
	err := row.Scan(
		&inv.ID, &inv.SupplierName, &inv.InvoiceNumber, &inv.InvoiceDate,
		&inv.Subtotal, &inv.VAT, &inv.Total, &itemsJSON,
		&inv.Confidence, &status, &inv.ScanPath, &inv.ProcessedAt,
		&inv.RawText,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inv.Status = models.DocumentStatus(status)
	if err := json.Unmarshal(itemsJSON, &inv.LineItems); err != nil {
		return nil, fmt.Errorf("decoding line items: %w", err)
	}
	return &inv, nil
}

// UpdateInvoice updates invoice fields. Allowed keys are column names;
// line_items values are JSON-encoded automatically.
func UpdateInvoice(ctx context.Context, invoiceID string, updates map[string]interface{}) error {
	if Pool == nil {
		return ErrNoDatabase
	}
	sets := []string{}
	args := []interface{}{}
	i := 1
	for key, value := range updates {
		if key == "line_items" {
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encoding line items: %w", err)
			}
			value = encoded
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", key, i))
		args = append(args, value)
		i++
	}
	args = append(args, invoiceID)

	query := fmt.Sprintf("UPDATE invoices SET %s WHERE id = $%d", strings.Join(sets, ", "), i)
	_, err := Pool.Exec(ctx, query, args...)
	return err
}

// DeleteInvoice removes an invoice
func DeleteInvoice(ctx context.Context, invoiceID string) error {
	if Pool == nil {
		return ErrNoDatabase
	}
	_, err := Pool.Exec(ctx, "DELETE FROM invoices WHERE id = $1", invoiceID)
	return err
}

// MonthlyStats summarizes the current month's intake.
type MonthlyStats struct {
	Month          string          `json:"month"`
	TotalInvoices  int             `json:"total_invoices"`
	NeedsReview    int             `json:"needs_review"`
	PairedInvoices int             `json:"paired_invoices"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	AvgConfidence  float64         `json:"avg_confidence"`
}

// GetMonthlyStats returns intake statistics for the current month.
func GetMonthlyStats(ctx context.Context) (*MonthlyStats, error) {
	if Pool == nil {
		return nil, ErrNoDatabase
	}
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'needs_review'),
			COUNT(*) FILTER (WHERE EXISTS (
				SELECT 1 FROM doc_pairs p
				WHERE p.invoice_id = invoices.id AND p.closed_at IS NULL
			)),
			COALESCE(SUM(total), 0),
			COALESCE(AVG(confidence), 0)
		FROM invoices
		WHERE DATE_TRUNC('month', processed_at) = DATE_TRUNC('month', CURRENT_DATE)
	`

	stats := &MonthlyStats{Month: time.Now().Format("2006-01")}
	err := Pool.QueryRow(ctx, query).Scan(
		&stats.TotalInvoices,
		&stats.NeedsReview,
		&stats.PairedInvoices,
		&stats.TotalAmount,
		&stats.AvgConfidence,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var inv models.Invoice
	var itemsJSON []byte
	var status string
	err := row.Scan(
		&inv.ID, &inv.SupplierName, &inv.InvoiceNumber, &inv.InvoiceDate,
		&inv.Subtotal, &inv.VAT, &inv.Total, &itemsJSON,
		&inv.Confidence, &status, &inv.ScanPath, &inv.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = models.DocumentStatus(status)
	if err := json.Unmarshal(itemsJSON, &inv.LineItems); err != nil {
		return nil, fmt.Errorf("decoding line items: %w", err)
	}
	return &inv, nil
}

// nullableTime maps the zero time to NULL so unparsed dates do not
// persist as year one.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
