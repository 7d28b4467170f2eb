package pairing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/paperledger/invoice-recon-service/internal/models"
	"github.com/paperledger/invoice-recon-service/internal/reconcile"
)

// Confidence weights. Supplier identity dominates; a date or amount
// coincidence across suppliers must never pair documents on its own.
const (
	supplierWeight   = 0.5
	dateWeightMax    = 0.3
	amountWeight     = 0.2
	amountTolerance  = 0.05
	offRhythmPenalty = 0.5
)

// Engine matches invoices to delivery notes. Candidate generation,
// scoring and the lifecycle transitions all run through here; ordering
// guarantees live in the Store.
type Engine struct {
	store   Store
	rec     *reconcile.Reconciler
	cfg     models.PairingConfig
	aliases map[string]string
	log     *logrus.Entry
}

// NewEngine creates a pairing engine with the given thresholds.
func NewEngine(store Store, cfg models.PairingConfig) *Engine {
	return &Engine{
		store:   store,
		rec:     reconcile.NewReconciler(),
		cfg:     cfg.WithDefaults(),
		aliases: map[string]string{},
		log:     logrus.WithField("component", "pairing"),
	}
}

// WithAliases installs a supplier alias table. Keys and values are
// canonicalized on insert so callers can pass display names.
func (e *Engine) WithAliases(aliases map[string]string) *Engine {
	for k, v := range aliases {
		e.aliases[CanonicalSupplier(k)] = CanonicalSupplier(v)
	}
	return e
}

// ComputeFeatures scores one invoice/delivery-note candidate. The
// feature vector is persisted on audit events so every confidence
// remains explainable after the fact.
func (e *Engine) ComputeFeatures(ctx context.Context, inv *models.Invoice, dn *models.DeliveryNote) models.PairFeatures {
	f := models.PairFeatures{
		SupplierMatch: e.sameSupplier(inv.SupplierName, dn.SupplierName),
	}

	days := math.Abs(inv.InvoiceDate.Sub(dn.NoteDate).Hours()) / 24
	window := float64(e.cfg.DateWindowDays)
	if days <= window {
		f.DateProximity = dateWeightMax * (1 - days/window)
	}
	if f.DateProximity > 0 {
		stats, err := e.store.StatsForSupplier(ctx, e.canonical(dn.SupplierName))
		if err != nil {
			e.log.WithError(err).Warn("supplier stats lookup failed, skipping rhythm check")
		} else if !stats.DeliversOn(dn.NoteDate.Weekday()) {
			f.DateProximity *= offRhythmPenalty
		}
	}

	if rel, ok := amountRelDiff(inv.Total, deliveryNoteTotal(dn)); ok && rel <= amountTolerance {
		f.AmountSimilarity = amountWeight
	}
	return f
}

// Confidence collapses a feature vector into the pairing score.
func Confidence(f models.PairFeatures) float64 {
	c := f.DateProximity + f.AmountSimilarity
	if f.SupplierMatch {
		c += supplierWeight
	}
	return math.Min(1, c)
}

// Suggest ranks candidate delivery notes for an invoice. Candidates
// share a supplier and fall inside the date window; results come back
// sorted by confidence, best first, with anything below the suggestion
// threshold dropped. Suggestions are recomputed on demand and never
// persisted.
func (e *Engine) Suggest(ctx context.Context, inv *models.Invoice) ([]models.PairingSuggestion, error) {
	window := time.Duration(e.cfg.DateWindowDays) * 24 * time.Hour
	notes, err := e.store.UnpairedDeliveryNotes(ctx, inv.InvoiceDate.Add(-window), inv.InvoiceDate.Add(window))
	if err != nil {
		return nil, fmt.Errorf("listing unpaired delivery notes: %w", err)
	}

	var out []models.PairingSuggestion
	for i := range notes {
		dn := &notes[i]
		if !e.sameSupplier(inv.SupplierName, dn.SupplierName) {
			continue
		}
		f := e.ComputeFeatures(ctx, inv, dn)
		conf := Confidence(f)
		if conf < e.cfg.SuggestionThreshold {
			continue
		}
		score, discrepancies := e.rec.Reconcile(inv.LineItems, dn.LineItems)
		out = append(out, models.PairingSuggestion{
			DeliveryNoteID:     dn.ID,
			Confidence:         conf,
			QuantityMatchScore: score,
			QuantityWarnings:   discrepancies,
			Features:           f,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

// AutoPair runs the automatic flow for a freshly processed invoice.
// The best candidate at or above the auto-pair threshold is paired
// immediately; a weaker best candidate is surfaced for review with a
// suggest event on the audit trail. Either way the full suggestion
// list is returned for the API response.
func (e *Engine) AutoPair(ctx context.Context, inv *models.Invoice) (*models.Pair, []models.PairingSuggestion, error) {
	suggestions, err := e.Suggest(ctx, inv)
	if err != nil {
		return nil, nil, err
	}
	if len(suggestions) == 0 {
		return nil, nil, nil
	}

	best := suggestions[0]
	if best.Confidence < e.cfg.AutoPairThreshold {
		ev := e.newEvent(inv.ID, best.DeliveryNoteID, models.ActionSuggest, models.ActorSystem, best.Confidence, best.Features)
		if err := e.store.AppendEvent(ctx, ev); err != nil {
			return nil, nil, fmt.Errorf("recording suggestion: %w", err)
		}
		return nil, suggestions, nil
	}

	p := &models.Pair{
		ID:             uuid.New(),
		InvoiceID:      inv.ID,
		DeliveryNoteID: best.DeliveryNoteID,
		State:          models.PairAutoPaired,
		Confidence:     best.Confidence,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.CreatePair(ctx, p); err != nil {
		return nil, suggestions, fmt.Errorf("creating auto pair: %w", err)
	}
	ev := e.newEvent(inv.ID, best.DeliveryNoteID, models.ActionConfirm, models.ActorSystem, best.Confidence, best.Features)
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return nil, nil, fmt.Errorf("recording auto pair: %w", err)
	}
	e.log.WithFields(logrus.Fields{
		"invoice_id":       inv.ID,
		"delivery_note_id": best.DeliveryNoteID,
		"confidence":       best.Confidence,
	}).Info("auto-paired invoice")
	return p, suggestions, nil
}

// Confirm records a user's decision to pair the invoice with the
// delivery note. If the invoice already holds an auto pair with the
// same note, that pair is promoted in place; otherwise a new manual
// pair is created. A delivery note held by a different invoice makes
// the call fail with *ConflictError and changes nothing.
func (e *Engine) Confirm(ctx context.Context, inv *models.Invoice, dn *models.DeliveryNote) (*models.Pair, error) {
	f := e.ComputeFeatures(ctx, inv, dn)
	conf := Confidence(f)

	existing, err := e.store.ActivePairForInvoice(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("looking up invoice pair: %w", err)
	}
	if existing != nil {
		if existing.DeliveryNoteID != dn.ID {
			return nil, &ConflictError{
				InvoiceID:                 inv.ID,
				DeliveryNoteID:            dn.ID,
				ConflictingDeliveryNoteID: existing.DeliveryNoteID,
			}
		}
		if err := e.store.UpdatePairState(ctx, existing.ID, models.PairManualPaired); err != nil {
			return nil, fmt.Errorf("promoting pair: %w", err)
		}
		existing.State = models.PairManualPaired
		ev := e.newEvent(inv.ID, dn.ID, models.ActionConfirm, models.ActorUser, conf, f)
		if err := e.store.AppendEvent(ctx, ev); err != nil {
			return nil, fmt.Errorf("recording confirmation: %w", err)
		}
		return existing, nil
	}

	p := &models.Pair{
		ID:             uuid.New(),
		InvoiceID:      inv.ID,
		DeliveryNoteID: dn.ID,
		State:          models.PairManualPaired,
		Confidence:     conf,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.CreatePair(ctx, p); err != nil {
		return nil, err
	}
	ev := e.newEvent(inv.ID, dn.ID, models.ActionConfirm, models.ActorUser, conf, f)
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("recording confirmation: %w", err)
	}
	return p, nil
}

// Reject dismisses the invoice's current pairing with the given
// delivery note. Only the invoice's own pair can be rejected.
func (e *Engine) Reject(ctx context.Context, invoiceID, deliveryNoteID uuid.UUID) error {
	p, err := e.store.ActivePairForInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("looking up invoice pair: %w", err)
	}
	if p == nil || p.DeliveryNoteID != deliveryNoteID {
		return fmt.Errorf("invoice %s has no active pair with delivery note %s", invoiceID, deliveryNoteID)
	}
	if err := e.store.ClosePair(ctx, p.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("closing pair: %w", err)
	}
	ev := e.newEvent(invoiceID, deliveryNoteID, models.ActionReject, models.ActorUser, p.Confidence, models.PairFeatures{})
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("recording rejection: %w", err)
	}
	return nil
}

// Unpair removes the invoice's active pairing, returning both
// documents to the unpaired pool.
func (e *Engine) Unpair(ctx context.Context, invoiceID uuid.UUID) error {
	p, err := e.store.ActivePairForInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("looking up invoice pair: %w", err)
	}
	if p == nil {
		return fmt.Errorf("invoice %s is not paired", invoiceID)
	}
	if err := e.store.ClosePair(ctx, p.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("closing pair: %w", err)
	}
	ev := e.newEvent(invoiceID, p.DeliveryNoteID, models.ActionUnpair, models.ActorUser, p.Confidence, models.PairFeatures{})
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("recording unpair: %w", err)
	}
	return nil
}

// Reassign moves an invoice from its current delivery note to another.
// The old pair closes first; the new manual pair then goes through the
// same conflict check as any other create, so a target note held by a
// different invoice rejects the reassignment.
func (e *Engine) Reassign(ctx context.Context, inv *models.Invoice, dn *models.DeliveryNote) (*models.Pair, error) {
	old, err := e.store.ActivePairForInvoice(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("looking up invoice pair: %w", err)
	}
	if old == nil {
		return nil, fmt.Errorf("invoice %s is not paired", inv.ID)
	}
	if old.DeliveryNoteID == dn.ID {
		return old, nil
	}

	target, err := e.store.ActivePairForDeliveryNote(ctx, dn.ID)
	if err != nil {
		return nil, fmt.Errorf("looking up delivery note pair: %w", err)
	}
	if target != nil {
		return nil, &ConflictError{
			InvoiceID:            inv.ID,
			DeliveryNoteID:       dn.ID,
			ConflictingInvoiceID: target.InvoiceID,
		}
	}

	if err := e.store.ClosePair(ctx, old.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("closing previous pair: %w", err)
	}

	f := e.ComputeFeatures(ctx, inv, dn)
	conf := Confidence(f)
	p := &models.Pair{
		ID:             uuid.New(),
		InvoiceID:      inv.ID,
		DeliveryNoteID: dn.ID,
		State:          models.PairManualPaired,
		Confidence:     conf,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.CreatePair(ctx, p); err != nil {
		return nil, err
	}
	prev := old.DeliveryNoteID
	ev := e.newEvent(inv.ID, dn.ID, models.ActionReassign, models.ActorUser, conf, f)
	ev.PreviousDeliveryNoteID = &prev
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("recording reassignment: %w", err)
	}
	return p, nil
}

func (e *Engine) newEvent(invoiceID, deliveryNoteID uuid.UUID, action models.PairingAction, actor models.ActorType, conf float64, f models.PairFeatures) *models.PairingEvent {
	return &models.PairingEvent{
		ID:             uuid.New(),
		InvoiceID:      invoiceID,
		DeliveryNoteID: deliveryNoteID,
		Action:         action,
		ActorType:      actor,
		Confidence:     conf,
		Features:       f,
		CreatedAt:      time.Now().UTC(),
	}
}

// deliveryNoteTotal sums the priced rows of a delivery note. Many
// delivery notes carry no prices at all; those return zero and the
// amount feature stays out of the score.
func deliveryNoteTotal(dn *models.DeliveryNote) decimal.Decimal {
	total := decimal.Zero
	for i := range dn.LineItems {
		total = total.Add(dn.LineItems[i].TotalPrice)
	}
	return total
}

// amountRelDiff returns |a-b| relative to a. ok is false when either
// side is missing, which keeps an unpriced note from scoring as a
// perfect amount match against a zero-total invoice.
func amountRelDiff(a, b decimal.Decimal) (float64, bool) {
	if a.IsZero() || b.IsZero() {
		return 0, false
	}
	diff, _ := a.Sub(b).Abs().Div(a.Abs()).Float64()
	return diff, true
}
