package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/paperledger/invoice-recon-service/internal/db"
	"github.com/paperledger/invoice-recon-service/internal/models"
	"github.com/paperledger/invoice-recon-service/internal/pairing"
)

type pairRequest struct {
	DeliveryNoteID string `json:"delivery_note_id"`
}

// GetSuggestions returns ranked pairing candidates for an invoice.
// Suggestions are recomputed on each call, never persisted.
func (h *Handler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	invoice, ok := h.loadInvoice(w, r)
	if !ok {
		return
	}

	suggestions, err := h.engine.Suggest(ctx, invoice)
	if err != nil {
		h.sendStoreError(w, err, "failed to compute suggestions")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     true,
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

// ConfirmPair manually pairs an invoice with a delivery note
func (h *Handler) ConfirmPair(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	invoice, note, ok := h.loadPairTargets(w, r)
	if !ok {
		return
	}

	pair, err := h.engine.Confirm(ctx, invoice, note)
	if err != nil {
		h.sendPairingError(w, err, "failed to confirm pair")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"pair":    pair,
	})
}

// RejectPair rejects an invoice's active pairing with a delivery note
func (h *Handler) RejectPair(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	invoiceID, ok := h.parseInvoiceID(w, r)
	if !ok {
		return
	}

	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	noteID, err := uuid.Parse(req.DeliveryNoteID)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid delivery_note_id")
		return
	}

	if err := h.engine.Reject(ctx, invoiceID, noteID); err != nil {
		h.sendPairingError(w, err, "failed to reject pair")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "pair rejected",
	})
}

// UnpairInvoice removes an invoice's active pair
func (h *Handler) UnpairInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	invoiceID, ok := h.parseInvoiceID(w, r)
	if !ok {
		return
	}

	if err := h.engine.Unpair(ctx, invoiceID); err != nil {
		h.sendPairingError(w, err, "failed to unpair invoice")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "invoice unpaired",
	})
}

// ReassignPair moves an invoice's pairing to a different delivery note
func (h *Handler) ReassignPair(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	invoice, note, ok := h.loadPairTargets(w, r)
	if !ok {
		return
	}

	pair, err := h.engine.Reassign(ctx, invoice, note)
	if err != nil {
		h.sendPairingError(w, err, "failed to reassign pair")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"pair":    pair,
	})
}

// GetPairEvents returns the pairing audit trail for an invoice
func (h *Handler) GetPairEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	invoiceID, ok := h.parseInvoiceID(w, r)
	if !ok {
		return
	}

	events, err := db.GetPairEvents(ctx, invoiceID)
	if err != nil {
		h.sendStoreError(w, err, "failed to get pairing events")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"events":  events,
		"count":   len(events),
	})
}

func (h *Handler) parseInvoiceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	invoiceID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid invoice id")
		return uuid.Nil, false
	}
	return invoiceID, true
}

func (h *Handler) loadInvoice(w http.ResponseWriter, r *http.Request) (*models.Invoice, bool) {
	invoice, err := db.GetInvoiceByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendStoreError(w, err, "failed to get invoice")
		return nil, false
	}
	if invoice == nil {
		h.sendError(w, http.StatusNotFound, "invoice not found")
		return nil, false
	}
	return invoice, true
}

// loadPairTargets resolves the invoice from the URL and the delivery
// note from the request body. Writes its own error response on failure.
func (h *Handler) loadPairTargets(w http.ResponseWriter, r *http.Request) (*models.Invoice, *models.DeliveryNote, bool) {
	invoice, ok := h.loadInvoice(w, r)
	if !ok {
		return nil, nil, false
	}

	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, false
	}

	note, err := db.GetDeliveryNoteByID(r.Context(), req.DeliveryNoteID)
	if err != nil {
		h.sendStoreError(w, err, "failed to get delivery note")
		return nil, nil, false
	}
	if note == nil {
		h.sendError(w, http.StatusNotFound, "delivery note not found")
		return nil, nil, false
	}
	return invoice, note, true
}

// sendPairingError maps pairing failures to responses. Exclusivity
// conflicts become 409 with the conflicting document IDs in the body.
func (h *Handler) sendPairingError(w http.ResponseWriter, err error, message string) {
	var conflict *pairing.ConflictError
	if errors.As(err, &conflict) {
		body := map[string]interface{}{
			"error":            conflict.Error(),
			"invoice_id":       conflict.InvoiceID,
			"delivery_note_id": conflict.DeliveryNoteID,
		}
		if conflict.ConflictingInvoiceID != uuid.Nil {
			body["conflicting_invoice_id"] = conflict.ConflictingInvoiceID
		}
		if conflict.ConflictingDeliveryNoteID != uuid.Nil {
			body["conflicting_delivery_note_id"] = conflict.ConflictingDeliveryNoteID
		}
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(body)
		return
	}
	h.sendStoreError(w, err, message)
}
