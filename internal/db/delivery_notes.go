package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

// SaveDeliveryNote inserts a processed delivery note.
func SaveDeliveryNote(ctx context.Context, dn *models.DeliveryNote) error {
	if Pool == nil {
		return ErrNoDatabase
	}
	items, err := json.Marshal(dn.LineItems)
	if err != nil {
		return fmt.Errorf("encoding line items: %w", err)
	}

	query := `
		INSERT INTO delivery_notes (
			supplier_name, note_number, note_date, line_items,
			confidence, status, scan_path, raw_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, processed_at
	`

	return Pool.QueryRow(ctx, query,
		dn.SupplierName, dn.NoteNumber, nullableTime(dn.NoteDate), items,
		dn.Confidence, string(dn.Status), dn.ScanPath, dn.RawText,
	).Scan(&dn.ID, &dn.ProcessedAt)
}

const deliveryNoteColumns = `
	id, COALESCE(supplier_name, ''), COALESCE(note_number, ''),
	COALESCE(note_date, '0001-01-01'::timestamptz),
	COALESCE(line_items, '[]'::jsonb),
	COALESCE(confidence, 0), COALESCE(status, 'pending'),
	COALESCE(scan_path, ''), processed_at
`

// GetDeliveryNotes lists the most recent delivery notes.
func GetDeliveryNotes(ctx context.Context, limit int) ([]models.DeliveryNote, error) {
	if Pool == nil {
		return nil, ErrNoDatabase
	}
	query := fmt.Sprintf("SELECT %s FROM delivery_notes ORDER BY processed_at DESC LIMIT %d",
		deliveryNoteColumns, limit)

	rows, err := Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []models.DeliveryNote
	for rows.Next() {
		dn, err := scanDeliveryNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *dn)
	}
	return notes, rows.Err()
}

// GetDeliveryNoteByID retrieves a single delivery note.
func GetDeliveryNoteByID(ctx context.Context, noteID string) (*models.DeliveryNote, error) {
	if Pool == nil {
		return nil, ErrNoDatabase
	}
	row := Pool.QueryRow(ctx, "SELECT "+deliveryNoteColumns+" FROM delivery_notes WHERE id = $1", noteID)
	dn, err := scanDeliveryNote(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dn, nil
}

// UnpairedDeliveryNotesBetween lists delivery notes without an active
// pair whose note date falls in [from, to]. Feeds pairing candidate
// generation.
func UnpairedDeliveryNotesBetween(ctx context.Context, from, to time.Time) ([]models.DeliveryNote, error) {
	if Pool == nil {
		return nil, ErrNoDatabase
	}
	query := `
		SELECT ` + deliveryNoteColumns + `
		FROM delivery_notes dn
		WHERE dn.note_date BETWEEN $1 AND $2
		  AND NOT EXISTS (
			SELECT 1 FROM doc_pairs p
			WHERE p.delivery_note_id = dn.id AND p.closed_at IS NULL
		  )
		ORDER BY dn.note_date
	`

	rows, err := Pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []models.DeliveryNote
	for rows.Next() {
		dn, err := scanDeliveryNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *dn)
	}
	return notes, rows.Err()
}

// DeleteDeliveryNote removes a delivery note
func DeleteDeliveryNote(ctx context.Context, noteID string) error {
	_, err := Pool.Exec(ctx, "DELETE FROM delivery_notes WHERE id = $1", noteID)
	return err
}

func scanDeliveryNote(row rowScanner) (*models.DeliveryNote, error) {
	var dn models.DeliveryNote
	var itemsJSON []byte
	var status string
	err := row.Scan(
		&dn.ID, &dn.SupplierName, &dn.NoteNumber, &dn.NoteDate,
		&itemsJSON, &dn.Confidence, &status, &dn.ScanPath, &dn.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	dn.Status = models.DocumentStatus(status)
	if err := json.Unmarshal(itemsJSON, &dn.LineItems); err != nil {
		return nil, fmt.Errorf("decoding line items: %w", err)
	}
	return &dn, nil
}
