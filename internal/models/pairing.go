package models

import (
	"time"

	"github.com/google/uuid"
)

// PairState is the pairing lifecycle of an invoice/delivery-note link.
type PairState string

const (
	PairUnpaired     PairState = "unpaired"
	PairSuggested    PairState = "suggested"
	PairAutoPaired   PairState = "auto_paired"
	PairManualPaired PairState = "manual_paired"
)

// PairingAction identifies a state transition for the audit trail.
type PairingAction string

const (
	ActionSuggest  PairingAction = "suggest"
	ActionConfirm  PairingAction = "confirm"
	ActionReject   PairingAction = "reject"
	ActionUnpair   PairingAction = "unpair"
	ActionReassign PairingAction = "reassign"
)

// ActorType records who drove a transition.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorUser   ActorType = "user"
)

// PairFeatures is the named feature vector behind a pairing confidence.
// The weights applied to it are a documented heuristic, not a model; the
// vector is stored on every audit event so scores stay explainable.
type PairFeatures struct {
	SupplierMatch    bool    `json:"supplier_match"`
	DateProximity    float64 `json:"date_proximity"`
	AmountSimilarity float64 `json:"amount_similarity"`
}

// Severity buckets a quantity discrepancy by size relative to the
// invoiced quantity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Discrepancy is one quantity mismatch between an invoice row and a
// delivery-note row.
type Discrepancy struct {
	Description string   `json:"description"`
	InvoiceQty  float64  `json:"invoice_qty"`
	DeliveryQty float64  `json:"delivery_qty"`
	Difference  float64  `json:"difference"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message,omitempty"`
}

// PairingSuggestion is an ephemeral candidate match, recomputed on
// demand and never persisted directly.
type PairingSuggestion struct {
	DeliveryNoteID     uuid.UUID     `json:"delivery_note_id"`
	Confidence         float64       `json:"confidence"`
	QuantityMatchScore float64       `json:"quantity_match_score"`
	QuantityWarnings   []Discrepancy `json:"quantity_warnings"`
	Features           PairFeatures  `json:"features"`
}

// Pair is a persisted invoice/delivery-note link. A pair is active while
// ClosedAt is nil; at most one active pair may exist per invoice and per
// delivery note.
type Pair struct {
	ID             uuid.UUID  `json:"id"`
	InvoiceID      uuid.UUID  `json:"invoice_id"`
	DeliveryNoteID uuid.UUID  `json:"delivery_note_id"`
	State          PairState  `json:"state"`
	Confidence     float64    `json:"confidence"`
	CreatedAt      time.Time  `json:"created_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// Active reports whether the pair currently links its documents.
func (p *Pair) Active() bool {
	return p.ClosedAt == nil
}

// PairingEvent is an append-only audit record written on every pairing
// transition. Events are never mutated or deleted.
type PairingEvent struct {
	ID             uuid.UUID     `json:"id"`
	InvoiceID      uuid.UUID     `json:"invoice_id"`
	DeliveryNoteID uuid.UUID     `json:"delivery_note_id"`
	Action         PairingAction `json:"action"`
	ActorType      ActorType     `json:"actor_type"`
	Confidence     float64       `json:"confidence"`
	Features       PairFeatures  `json:"features"`

	// Set on reassign: the delivery note the invoice was linked to
	// before the transition.
	PreviousDeliveryNoteID *uuid.UUID `json:"previous_delivery_note_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SupplierStats summarizes a supplier's historical delivery rhythm.
// Recomputed from persisted delivery notes; read-only input to pairing.
type SupplierStats struct {
	Supplier        string         `json:"supplier"`
	TypicalWeekdays []time.Weekday `json:"typical_weekdays"`
	AvgDaysBetween  float64        `json:"avg_days_between"`
	StdDaysBetween  float64        `json:"std_days_between"`
	SampleSize      int            `json:"sample_size"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// DeliversOn reports whether the supplier historically delivers on the
// given weekday. An empty history matches every weekday.
func (s *SupplierStats) DeliversOn(day time.Weekday) bool {
	if s == nil || len(s.TypicalWeekdays) == 0 {
		return true
	}
	for _, d := range s.TypicalWeekdays {
		if d == day {
			return true
		}
	}
	return false
}
