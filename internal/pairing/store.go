package pairing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

// Store is the persistence boundary for pairing state. The database
// implementation lives in internal/db; tests use an in-memory store.
//
// CreatePair performs the exclusivity check and the insert in a single
// transaction, so two concurrent attempts to claim the same delivery
// note cannot both succeed. Callers never check-then-act themselves.
type Store interface {
	// ActivePairForInvoice returns the invoice's open pair, or nil
	// when the invoice is unpaired.
	ActivePairForInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Pair, error)

	// ActivePairForDeliveryNote returns the delivery note's open
	// pair, or nil when it is unclaimed.
	ActivePairForDeliveryNote(ctx context.Context, deliveryNoteID uuid.UUID) (*models.Pair, error)

	// CreatePair inserts the pair if neither document is already in
	// an active pair. On contention it returns *ConflictError and
	// leaves existing pairs untouched.
	CreatePair(ctx context.Context, p *models.Pair) error

	// UpdatePairState promotes an existing active pair, e.g.
	// auto_paired to manual_paired on user confirmation.
	UpdatePairState(ctx context.Context, pairID uuid.UUID, state models.PairState) error

	// ClosePair ends an active pair. The row stays for history;
	// only ClosedAt is set.
	ClosePair(ctx context.Context, pairID uuid.UUID, closedAt time.Time) error

	// AppendEvent writes one audit record. Events are append-only.
	AppendEvent(ctx context.Context, ev *models.PairingEvent) error

	// UnpairedDeliveryNotes lists delivery notes without an active
	// pair whose note date falls in [from, to].
	UnpairedDeliveryNotes(ctx context.Context, from, to time.Time) ([]models.DeliveryNote, error)

	// StatsForSupplier returns delivery-rhythm stats for a supplier,
	// or nil when no history exists.
	StatsForSupplier(ctx context.Context, supplier string) (*models.SupplierStats, error)
}

// ConflictError reports that a pairing attempt lost to an existing
// active pair. Exactly one of the Conflicting fields identifies the
// document already holding the link.
type ConflictError struct {
	InvoiceID      uuid.UUID
	DeliveryNoteID uuid.UUID

	// ConflictingInvoiceID is set when the delivery note is already
	// paired to another invoice.
	ConflictingInvoiceID uuid.UUID

	// ConflictingDeliveryNoteID is set when the invoice is already
	// paired to another delivery note.
	ConflictingDeliveryNoteID uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.ConflictingInvoiceID != uuid.Nil {
		return fmt.Sprintf("delivery note %s is already paired to invoice %s",
			e.DeliveryNoteID, e.ConflictingInvoiceID)
	}
	return fmt.Sprintf("invoice %s is already paired to delivery note %s",
		e.InvoiceID, e.ConflictingDeliveryNoteID)
}
