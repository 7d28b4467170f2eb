package pairing

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

// memStore is an in-memory Store for engine tests. CreatePair holds the
// lock across the conflict check and the insert, mirroring the
// single-transaction guarantee of the database store.
type memStore struct {
	mu     sync.Mutex
	pairs  map[uuid.UUID]*models.Pair
	events []models.PairingEvent
	notes  []models.DeliveryNote
	stats  map[string]*models.SupplierStats
}

func newMemStore() *memStore {
	return &memStore{
		pairs: map[uuid.UUID]*models.Pair{},
		stats: map[string]*models.SupplierStats{},
	}
}

func (s *memStore) ActivePairForInvoice(_ context.Context, invoiceID uuid.UUID) (*models.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pairs {
		if p.InvoiceID == invoiceID && p.Active() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ActivePairForDeliveryNote(_ context.Context, dnID uuid.UUID) (*models.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pairs {
		if p.DeliveryNoteID == dnID && p.Active() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreatePair(_ context.Context, p *models.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.pairs {
		if !have.Active() {
			continue
		}
		if have.DeliveryNoteID == p.DeliveryNoteID {
			return &ConflictError{
				InvoiceID:            p.InvoiceID,
				DeliveryNoteID:       p.DeliveryNoteID,
				ConflictingInvoiceID: have.InvoiceID,
			}
		}
		if have.InvoiceID == p.InvoiceID {
			return &ConflictError{
				InvoiceID:                 p.InvoiceID,
				DeliveryNoteID:            p.DeliveryNoteID,
				ConflictingDeliveryNoteID: have.DeliveryNoteID,
			}
		}
	}
	cp := *p
	s.pairs[p.ID] = &cp
	return nil
}

func (s *memStore) UpdatePairState(_ context.Context, pairID uuid.UUID, state models.PairState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[pairID]
	if !ok {
		return errors.New("pair not found")
	}
	p.State = state
	return nil
}

func (s *memStore) ClosePair(_ context.Context, pairID uuid.UUID, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[pairID]
	if !ok {
		return errors.New("pair not found")
	}
	p.ClosedAt = &closedAt
	return nil
}

func (s *memStore) AppendEvent(_ context.Context, ev *models.PairingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

func (s *memStore) UnpairedDeliveryNotes(_ context.Context, from, to time.Time) ([]models.DeliveryNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeliveryNote
	for _, n := range s.notes {
		if n.NoteDate.Before(from) || n.NoteDate.After(to) {
			continue
		}
		claimed := false
		for _, p := range s.pairs {
			if p.DeliveryNoteID == n.ID && p.Active() {
				claimed = true
				break
			}
		}
		if !claimed {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memStore) StatsForSupplier(_ context.Context, supplier string) (*models.SupplierStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[supplier], nil
}

func (s *memStore) lastEvent(t *testing.T) models.PairingEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		t.Fatal("no pairing events recorded")
	}
	return s.events[len(s.events)-1]
}

var baseDate = time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

func testInvoice(supplier string, date time.Time, total float64) *models.Invoice {
	return &models.Invoice{
		ID:           uuid.New(),
		SupplierName: supplier,
		InvoiceDate:  date,
		Total:        decimal.NewFromFloat(total),
		LineItems: []models.LineItem{
			{Description: "Tomatoes", Quantity: 10, TotalPrice: decimal.NewFromFloat(total)},
		},
	}
}

func testNote(supplier string, date time.Time, total float64) models.DeliveryNote {
	item := models.LineItem{Description: "Tomatoes", Quantity: 10}
	if total > 0 {
		item.TotalPrice = decimal.NewFromFloat(total)
	}
	return models.DeliveryNote{
		ID:           uuid.New(),
		SupplierName: supplier,
		NoteDate:     date,
		LineItems:    []models.LineItem{item},
	}
}

func TestAutoPairHighConfidence(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	note := testNote("Fresh Farms Ltd", baseDate, 120)
	store.notes = []models.DeliveryNote{note}
	eng := NewEngine(store, models.PairingConfig{})

	inv := testInvoice("Fresh Farms Ltd", baseDate, 120)
	pair, suggestions, err := eng.AutoPair(context.Background(), inv)
	if err != nil {
		t.Fatalf("AutoPair: %v", err)
	}
	if pair == nil {
		t.Fatal("expected an auto pair")
	}
	if pair.State != models.PairAutoPaired {
		t.Errorf("state = %s, want %s", pair.State, models.PairAutoPaired)
	}
	if pair.DeliveryNoteID != note.ID {
		t.Errorf("paired to %s, want %s", pair.DeliveryNoteID, note.ID)
	}
	if math.Abs(pair.Confidence-1.0) > 1e-9 {
		t.Errorf("confidence = %v, want 1.0", pair.Confidence)
	}
	if len(suggestions) != 1 {
		t.Errorf("suggestions = %d, want 1", len(suggestions))
	}

	ev := store.lastEvent(t)
	if ev.Action != models.ActionConfirm || ev.ActorType != models.ActorSystem {
		t.Errorf("event = %s/%s, want confirm/system", ev.Action, ev.ActorType)
	}
}

func TestAutoPairFallsBackToSuggestion(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	// two days off and no prices on the note: 0.5 + 0.1 = 0.6
	note := testNote("Fresh Farms Ltd", baseDate.AddDate(0, 0, 2), 0)
	store.notes = []models.DeliveryNote{note}
	eng := NewEngine(store, models.PairingConfig{})

	inv := testInvoice("Fresh Farms Ltd", baseDate, 120)
	pair, suggestions, err := eng.AutoPair(context.Background(), inv)
	if err != nil {
		t.Fatalf("AutoPair: %v", err)
	}
	if pair != nil {
		t.Fatalf("unexpected auto pair at confidence %v", pair.Confidence)
	}
	if len(suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(suggestions))
	}
	if math.Abs(suggestions[0].Confidence-0.6) > 1e-9 {
		t.Errorf("confidence = %v, want 0.6", suggestions[0].Confidence)
	}

	ev := store.lastEvent(t)
	if ev.Action != models.ActionSuggest || ev.ActorType != models.ActorSystem {
		t.Errorf("event = %s/%s, want suggest/system", ev.Action, ev.ActorType)
	}
}

func TestConfirmConflictLeavesExistingPairUntouched(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	eng := NewEngine(store, models.PairingConfig{})

	invA := testInvoice("Fresh Farms Ltd", baseDate, 120)
	invB := testInvoice("Fresh Farms Ltd", baseDate, 120)
	note := testNote("Fresh Farms Ltd", baseDate, 120)
	store.notes = []models.DeliveryNote{note}

	if _, _, err := eng.AutoPair(context.Background(), invA); err != nil {
		t.Fatalf("AutoPair: %v", err)
	}

	_, err := eng.Confirm(context.Background(), invB, &models.DeliveryNote{
		ID:           note.ID,
		SupplierName: note.SupplierName,
		NoteDate:     note.NoteDate,
		LineItems:    note.LineItems,
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Confirm error = %v, want ConflictError", err)
	}
	if conflict.ConflictingInvoiceID != invA.ID {
		t.Errorf("conflicting invoice = %s, want %s", conflict.ConflictingInvoiceID, invA.ID)
	}

	p, err := store.ActivePairForDeliveryNote(context.Background(), note.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.InvoiceID != invA.ID || p.State != models.PairAutoPaired {
		t.Errorf("original pair disturbed: %+v", p)
	}
}

func TestSuggestFiltersCandidates(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	inWindow := testNote("ACME LIMITED", baseDate.AddDate(0, 0, 1), 0)
	outOfWindow := testNote("Acme Ltd", baseDate.AddDate(0, 0, 5), 0)
	otherSupplier := testNote("Borough Bakery", baseDate, 0)
	store.notes = []models.DeliveryNote{inWindow, outOfWindow, otherSupplier}
	eng := NewEngine(store, models.PairingConfig{})

	inv := testInvoice("Acme Ltd", baseDate, 80)
	suggestions, err := eng.Suggest(context.Background(), inv)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(suggestions))
	}
	if suggestions[0].DeliveryNoteID != inWindow.ID {
		t.Errorf("suggested %s, want %s", suggestions[0].DeliveryNoteID, inWindow.ID)
	}
	// one day off, no prices: 0.5 + 0.2
	if math.Abs(suggestions[0].Confidence-0.7) > 1e-9 {
		t.Errorf("confidence = %v, want 0.7", suggestions[0].Confidence)
	}
}

func TestConfidenceWeights(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		f    models.PairFeatures
		want float64
	}{
		{"all features", models.PairFeatures{SupplierMatch: true, DateProximity: 0.3, AmountSimilarity: 0.2}, 1.0},
		{"supplier only", models.PairFeatures{SupplierMatch: true}, 0.5},
		{"no supplier", models.PairFeatures{DateProximity: 0.3, AmountSimilarity: 0.2}, 0.5},
		{"supplier and amount", models.PairFeatures{SupplierMatch: true, AmountSimilarity: 0.2}, 0.7},
	}
	for _, tc := range tests {
		if got := Confidence(tc.f); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: Confidence = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOffRhythmDeliveryDampensDateScore(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.stats["fresh farms"] = &models.SupplierStats{
		Supplier:        "fresh farms",
		TypicalWeekdays: []time.Weekday{time.Monday},
		SampleSize:      12,
	}
	eng := NewEngine(store, models.PairingConfig{})

	inv := testInvoice("Fresh Farms Ltd", baseDate, 120)
	note := testNote("Fresh Farms Ltd", baseDate, 0) // a Tuesday
	f := eng.ComputeFeatures(context.Background(), inv, &note)
	if math.Abs(f.DateProximity-0.15) > 1e-9 {
		t.Errorf("date proximity = %v, want 0.15", f.DateProximity)
	}
}

func TestReassignAndUnpair(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	eng := NewEngine(store, models.PairingConfig{})
	ctx := context.Background()

	inv := testInvoice("Fresh Farms Ltd", baseDate, 120)
	first := testNote("Fresh Farms Ltd", baseDate, 120)
	second := testNote("Fresh Farms Ltd", baseDate.AddDate(0, 0, 1), 120)

	if _, err := eng.Confirm(ctx, inv, &first); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	pair, err := eng.Reassign(ctx, inv, &second)
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if pair.DeliveryNoteID != second.ID || pair.State != models.PairManualPaired {
		t.Errorf("reassigned pair = %+v", pair)
	}
	if p, _ := store.ActivePairForDeliveryNote(ctx, first.ID); p != nil {
		t.Errorf("first pair still active: %+v", p)
	}
	ev := store.lastEvent(t)
	if ev.Action != models.ActionReassign {
		t.Errorf("event action = %s, want reassign", ev.Action)
	}
	if ev.PreviousDeliveryNoteID == nil || *ev.PreviousDeliveryNoteID != first.ID {
		t.Errorf("previous delivery note = %v, want %s", ev.PreviousDeliveryNoteID, first.ID)
	}

	if err := eng.Unpair(ctx, inv.ID); err != nil {
		t.Fatalf("Unpair: %v", err)
	}
	if p, _ := store.ActivePairForInvoice(ctx, inv.ID); p != nil {
		t.Errorf("invoice still paired: %+v", p)
	}
	if ev := store.lastEvent(t); ev.Action != models.ActionUnpair {
		t.Errorf("event action = %s, want unpair", ev.Action)
	}
}

func TestCanonicalSupplier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"Fresh Farms Ltd", "fresh farms"},
		{"FRESH FARMS LIMITED", "fresh farms"},
		{"Acme Foods Co.", "acme foods"},
		{"Ltd", "ltd"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := CanonicalSupplier(tc.in); got != tc.want {
			t.Errorf("CanonicalSupplier(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
