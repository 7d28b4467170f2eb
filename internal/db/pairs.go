package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paperledger/invoice-recon-service/internal/models"
	"github.com/paperledger/invoice-recon-service/internal/pairing"
)

// PairStore implements pairing.Store on the shared pool.
type PairStore struct{}

var _ pairing.Store = PairStore{}

// NewPairStore returns the database-backed pairing store.
func NewPairStore() PairStore { return PairStore{} }

const pairColumns = "id, invoice_id, delivery_note_id, state, confidence, created_at, closed_at"

// ActivePairForInvoice returns the invoice's open pair, or nil.
func (PairStore) ActivePairForInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Pair, error) {
	return queryActivePair(ctx, "invoice_id", invoiceID)
}

// ActivePairForDeliveryNote returns the delivery note's open pair, or nil.
func (PairStore) ActivePairForDeliveryNote(ctx context.Context, deliveryNoteID uuid.UUID) (*models.Pair, error) {
	return queryActivePair(ctx, "delivery_note_id", deliveryNoteID)
}

func queryActivePair(ctx context.Context, column string, id uuid.UUID) (*models.Pair, error) {
	if Pool == nil {
		return nil, ErrNoDatabase
	}
	query := fmt.Sprintf("SELECT %s FROM doc_pairs WHERE %s = $1 AND closed_at IS NULL", pairColumns, column)
	p, err := scanPair(Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// CreatePair inserts the pair after locking out concurrent claims on
// either document. The check and the insert share one transaction, so
// at most one active pair can exist per invoice and per delivery note.
func (PairStore) CreatePair(ctx context.Context, p *models.Pair) error {
	if Pool == nil {
		return ErrNoDatabase
	}
	tx, err := Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting pair transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var invoiceID, deliveryNoteID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT invoice_id, delivery_note_id FROM doc_pairs
		WHERE (invoice_id = $1 OR delivery_note_id = $2) AND closed_at IS NULL
		LIMIT 1
		FOR UPDATE
	`, p.InvoiceID, p.DeliveryNoteID).Scan(&invoiceID, &deliveryNoteID)
	switch {
	case err == nil:
		if deliveryNoteID == p.DeliveryNoteID {
			return &pairing.ConflictError{
				InvoiceID:            p.InvoiceID,
				DeliveryNoteID:       p.DeliveryNoteID,
				ConflictingInvoiceID: invoiceID,
			}
		}
		return &pairing.ConflictError{
			InvoiceID:                 p.InvoiceID,
			DeliveryNoteID:            p.DeliveryNoteID,
			ConflictingDeliveryNoteID: deliveryNoteID,
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("checking existing pairs: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO doc_pairs (id, invoice_id, delivery_note_id, state, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.InvoiceID, p.DeliveryNoteID, string(p.State), p.Confidence, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting pair: %w", err)
	}
	return tx.Commit(ctx)
}

// UpdatePairState promotes an active pair.
func (PairStore) UpdatePairState(ctx context.Context, pairID uuid.UUID, state models.PairState) error {
	if Pool == nil {
		return ErrNoDatabase
	}
	tag, err := Pool.Exec(ctx,
		"UPDATE doc_pairs SET state = $1 WHERE id = $2 AND closed_at IS NULL",
		string(state), pairID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pair %s not found or already closed", pairID)
	}
	return nil
}

// ClosePair ends an active pair; the row stays for history.
func (PairStore) ClosePair(ctx context.Context, pairID uuid.UUID, closedAt time.Time) error {
	if Pool == nil {
		return ErrNoDatabase
	}
	tag, err := Pool.Exec(ctx,
		"UPDATE doc_pairs SET closed_at = $1 WHERE id = $2 AND closed_at IS NULL",
		closedAt, pairID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pair %s not found or already closed", pairID)
	}
	return nil
}

// AppendEvent writes one audit record. There is no update or delete
// path for pairing_events anywhere in this package.
func (PairStore) AppendEvent(ctx context.Context, ev *models.PairingEvent) error {
	if Pool == nil {
		return ErrNoDatabase
	}
	features, err := json.Marshal(ev.Features)
	if err != nil {
		return fmt.Errorf("encoding features: %w", err)
	}
	_, err = Pool.Exec(ctx, `
		INSERT INTO pairing_events (
			id, invoice_id, delivery_note_id, action, actor_type,
			confidence, features, previous_delivery_note_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ev.ID, ev.InvoiceID, ev.DeliveryNoteID, string(ev.Action), string(ev.ActorType),
		ev.Confidence, features, ev.PreviousDeliveryNoteID, ev.CreatedAt)
	return err
}

// UnpairedDeliveryNotes lists claimable delivery notes in the window.
func (PairStore) UnpairedDeliveryNotes(ctx context.Context, from, to time.Time) ([]models.DeliveryNote, error) {
	return UnpairedDeliveryNotesBetween(ctx, from, to)
}

// StatsForSupplier returns delivery-rhythm stats, or nil without
// history.
func (PairStore) StatsForSupplier(ctx context.Context, supplier string) (*models.SupplierStats, error) {
	return GetSupplierStats(ctx, supplier)
}

// GetPairEvents returns the audit trail for an invoice, oldest first.
func GetPairEvents(ctx context.Context, invoiceID uuid.UUID) ([]models.PairingEvent, error) {
	if Pool == nil {
		return nil, ErrNoDatabase
	}
	rows, err := Pool.Query(ctx, `
		SELECT id, invoice_id, delivery_note_id, action, actor_type,
		       confidence, features, previous_delivery_note_id, created_at
		FROM pairing_events
		WHERE invoice_id = $1
		ORDER BY created_at
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.PairingEvent
	for rows.Next() {
		var ev models.PairingEvent
		var action, actor string
		var features []byte
		err := rows.Scan(&ev.ID, &ev.InvoiceID, &ev.DeliveryNoteID, &action, &actor,
			&ev.Confidence, &features, &ev.PreviousDeliveryNoteID, &ev.CreatedAt)
		if err != nil {
			return nil, err
		}
		ev.Action = models.PairingAction(action)
		ev.ActorType = models.ActorType(actor)
		if err := json.Unmarshal(features, &ev.Features); err != nil {
			return nil, fmt.Errorf("decoding features: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanPair(row rowScanner) (*models.Pair, error) {
	var p models.Pair
	var state string
	err := row.Scan(&p.ID, &p.InvoiceID, &p.DeliveryNoteID, &state, &p.Confidence, &p.CreatedAt, &p.ClosedAt)
	if err != nil {
		return nil, err
	}
	p.State = models.PairState(state)
	return &p, nil
}
