package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/paperledger/invoice-recon-service/internal/auth"
	"github.com/paperledger/invoice-recon-service/internal/db"
	"github.com/paperledger/invoice-recon-service/internal/models"
	"github.com/paperledger/invoice-recon-service/internal/pairing"
	"github.com/paperledger/invoice-recon-service/internal/pipeline"
	"github.com/paperledger/invoice-recon-service/internal/services"
	"github.com/paperledger/invoice-recon-service/internal/storage"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB
	Version       = "1.0.0"
)

// Handler handles HTTP requests for document processing and pairing
type Handler struct {
	config   *models.Config
	pipeline *pipeline.Pipeline
	engine   *pairing.Engine
	log      *logrus.Entry
}

// NewHandler creates a new API handler
func NewHandler(config *models.Config, pl *pipeline.Pipeline, engine *pairing.Engine) *Handler {
	return &Handler{
		config:   config,
		pipeline: pl,
		engine:   engine,
		log:      logrus.WithField("component", "api"),
	}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Document intake
	router.HandleFunc("/api/process-invoice", h.ProcessInvoice).Methods("POST")
	router.HandleFunc("/api/process-delivery-note", h.ProcessDeliveryNote).Methods("POST")

	// Invoice CRUD
	router.HandleFunc("/api/invoices", h.GetInvoices).Methods("GET")
	router.HandleFunc("/api/invoice/{id}", h.GetInvoice).Methods("GET")
	router.HandleFunc("/api/invoice/{id}", h.UpdateInvoice).Methods("PUT")
	router.HandleFunc("/api/invoice/{id}", h.DeleteInvoice).Methods("DELETE")

	// Delivery notes
	router.HandleFunc("/api/delivery-notes", h.GetDeliveryNotes).Methods("GET")
	router.HandleFunc("/api/delivery-note/{id}", h.GetDeliveryNote).Methods("GET")

	// Pairing
	router.HandleFunc("/api/invoice/{id}/suggestions", h.GetSuggestions).Methods("GET")
	router.HandleFunc("/api/invoice/{id}/pair", h.ConfirmPair).Methods("POST")
	router.HandleFunc("/api/invoice/{id}/reject", h.RejectPair).Methods("POST")
	router.HandleFunc("/api/invoice/{id}/unpair", h.UnpairInvoice).Methods("POST")
	router.HandleFunc("/api/invoice/{id}/reassign", h.ReassignPair).Methods("POST")
	router.HandleFunc("/api/invoice/{id}/events", h.GetPairEvents).Methods("GET")

	// Statistics
	router.HandleFunc("/api/stats", h.GetStats).Methods("GET")

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Timestamp   string            `json:"timestamp"`
	Uptime      string            `json:"uptime"`
	Memory      MemoryStats       `json:"memory"`
	Tesseract   ServiceStatus     `json:"tesseract"`
	ImageMagick ServiceStatus     `json:"imageMagick"`
	Database    ServiceStatus     `json:"database"`
	Storage     ServiceStatus     `json:"storage"`
	AI          map[string]string `json:"ai"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health endpoint - enhanced for monitoring
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	tesseractStatus := h.checkTesseract()
	imageMagickStatus := h.checkImageMagick()
	databaseStatus := h.checkDatabase()
	storageStatus := h.checkStorage()

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Tesseract:   tesseractStatus,
		ImageMagick: imageMagickStatus,
		Database:    databaseStatus,
		Storage:     storageStatus,
		AI: map[string]string{
			"defaultProvider": h.config.AI.DefaultProvider,
			"ocrEngine":       h.config.OCR.Engine,
		},
	}

	// Without OCR tooling the service cannot process anything
	if !tesseractStatus.Available || !imageMagickStatus.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// checkTesseract verifies Tesseract OCR is available
func (h *Handler) checkTesseract() ServiceStatus {
	return checkCommand("tesseract", "--version")
}

// checkImageMagick verifies ImageMagick is available
func (h *Handler) checkImageMagick() ServiceStatus {
	return checkCommand("convert", "-version")
}

func checkCommand(name string, arg string) ServiceStatus {
	output, err := exec.Command(name, arg).CombinedOutput()
	if err != nil {
		return ServiceStatus{
			Available: false,
			Error:     name + " not found or not executable",
		}
	}
	version := "unknown"
	if lines := strings.Split(string(output), "\n"); len(lines) > 0 {
		version = strings.TrimSpace(lines[0])
	}
	return ServiceStatus{Available: true, Version: version}
}

// checkDatabase verifies PostgreSQL connection
func (h *Handler) checkDatabase() ServiceStatus {
	if db.Pool == nil {
		return ServiceStatus{
			Available: false,
			Error:     "database pool not initialized",
		}
	}
	return ServiceStatus{Available: true, Version: "PostgreSQL"}
}

// checkStorage verifies MinIO connection
func (h *Handler) checkStorage() ServiceStatus {
	if storage.Client == nil {
		return ServiceStatus{
			Available: false,
			Error:     "storage client not initialized",
		}
	}
	return ServiceStatus{Available: true, Version: "MinIO S3"}
}

// ProcessInvoice runs a scanned invoice through the pipeline, archives
// the scan, persists the result and attempts automatic pairing.
func (h *Handler) ProcessInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	start := time.Now()

	if _, err := auth.GetClaimsFromContext(ctx); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized: "+err.Error())
		return
	}

	imageData, contentType, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	invoice, verification, err := h.pipeline.ProcessInvoice(ctx, imageData)
	if err != nil {
		h.sendError(w, http.StatusUnprocessableEntity, fmt.Sprintf("processing failed: %v", err))
		return
	}

	invoice.ScanPath = h.archiveScan(ctx, invoice.SupplierName, imageData, contentType)
	vatCheck := services.NewVATValidator().Validate(invoice)

	saved := false
	var pair *models.Pair
	var suggestions []models.PairingSuggestion
	if err := db.SaveInvoice(ctx, invoice); err != nil {
		h.log.WithError(err).Warn("failed to save invoice")
	} else {
		saved = true
		pair, suggestions, err = h.engine.AutoPair(ctx, invoice)
		if err != nil {
			h.log.WithError(err).Warn("automatic pairing failed")
		}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":        true,
		"invoice":        invoice,
		"verification":   verification,
		"vat_check":      vatCheck,
		"pair":           pair,
		"suggestions":    suggestions,
		"saved_to_db":    saved,
		"total_duration": time.Since(start).Seconds(),
	})
}

// ProcessDeliveryNote runs a scanned delivery note through the
// pipeline and refreshes the supplier's delivery-rhythm stats.
func (h *Handler) ProcessDeliveryNote(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	start := time.Now()

	if _, err := auth.GetClaimsFromContext(ctx); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized: "+err.Error())
		return
	}

	imageData, contentType, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	note, err := h.pipeline.ProcessDeliveryNote(ctx, imageData)
	if err != nil {
		h.sendError(w, http.StatusUnprocessableEntity, fmt.Sprintf("processing failed: %v", err))
		return
	}

	note.ScanPath = h.archiveScan(ctx, note.SupplierName, imageData, contentType)

	saved := false
	if err := db.SaveDeliveryNote(ctx, note); err != nil {
		h.log.WithError(err).Warn("failed to save delivery note")
	} else {
		saved = true
		supplier := note.SupplierName
		go func() {
			ctx2, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if _, err := db.RecomputeSupplierStats(ctx2, supplier); err != nil {
				h.log.WithError(err).Warn("supplier stats recompute failed")
			}
		}()
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":        true,
		"delivery_note":  note,
		"saved_to_db":    saved,
		"total_duration": time.Since(start).Seconds(),
	})
}

// readUpload parses the multipart form and returns the file bytes.
// Writes its own error response on failure.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "file too large or invalid form data")
		return nil, "", false
	}

	// accept both "file" and "image" field names
	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "no file provided (use 'file' or 'image' field)")
			return nil, "", false
		}
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to read file")
		return nil, "", false
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return imageData, contentType, true
}

// archiveScan uploads the original scan. Archiving is best effort;
// a storage outage must not block document intake.
func (h *Handler) archiveScan(ctx context.Context, supplierName string, imageData []byte, contentType string) string {
	if storage.Client == nil {
		return ""
	}
	scanPath, err := storage.UploadScan(ctx, supplierName, bytes.NewReader(imageData), int64(len(imageData)), contentType)
	if err != nil {
		h.log.WithError(err).Warn("failed to archive scan")
		return ""
	}
	return scanPath
}

// GetInvoices returns recent invoices, optionally filtered by status
func (h *Handler) GetInvoices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	status := models.DocumentStatus(r.URL.Query().Get("status"))

	invoices, err := db.GetInvoices(ctx, status, 100)
	if err != nil {
		h.sendStoreError(w, err, "failed to get invoices")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"invoices": invoices,
		"count":    len(invoices),
	})
}

// GetInvoice returns a single invoice with a presigned scan URL
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	invoice, err := db.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		h.sendStoreError(w, err, "failed to get invoice")
		return
	}
	if invoice == nil {
		h.sendError(w, http.StatusNotFound, "invoice not found")
		return
	}

	if invoice.ScanPath != "" && storage.Client != nil {
		if presignedURL, err := storage.GetPresignedURL(ctx, invoice.ScanPath); err == nil {
			invoice.ScanPath = presignedURL
		}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"invoice": invoice,
	})
}

// UpdateInvoice updates reviewer-editable invoice fields
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	allowed := map[string]bool{
		"status":         true,
		"supplier_name":  true,
		"invoice_number": true,
		"invoice_date":   true,
		"subtotal":       true,
		"vat":            true,
		"total":          true,
		"line_items":     true,
	}
	filtered := make(map[string]interface{})
	for k, v := range updates {
		if allowed[k] {
			filtered[k] = v
		}
	}
	if len(filtered) == 0 {
		h.sendError(w, http.StatusBadRequest, "no valid fields to update")
		return
	}

	if err := db.UpdateInvoice(ctx, invoiceID, filtered); err != nil {
		h.sendStoreError(w, err, "failed to update invoice")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "invoice updated",
	})
}

// DeleteInvoice removes an invoice and its archived scan
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	invoiceID := mux.Vars(r)["id"]

	if storage.Client != nil {
		invoice, err := db.GetInvoiceByID(ctx, invoiceID)
		if err == nil && invoice != nil && invoice.ScanPath != "" {
			_ = storage.DeleteScan(ctx, invoice.ScanPath)
		}
	}

	if err := db.DeleteInvoice(ctx, invoiceID); err != nil {
		h.sendStoreError(w, err, "failed to delete invoice")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "invoice deleted",
	})
}

// GetDeliveryNotes returns recent delivery notes
func (h *Handler) GetDeliveryNotes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	notes, err := db.GetDeliveryNotes(r.Context(), 100)
	if err != nil {
		h.sendStoreError(w, err, "failed to get delivery notes")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":        true,
		"delivery_notes": notes,
		"count":          len(notes),
	})
}

// GetDeliveryNote returns a single delivery note
func (h *Handler) GetDeliveryNote(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	note, err := db.GetDeliveryNoteByID(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.sendStoreError(w, err, "failed to get delivery note")
		return
	}
	if note == nil {
		h.sendError(w, http.StatusNotFound, "delivery note not found")
		return
	}

	if note.ScanPath != "" && storage.Client != nil {
		if presignedURL, err := storage.GetPresignedURL(ctx, note.ScanPath); err == nil {
			note.ScanPath = presignedURL
		}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":       true,
		"delivery_note": note,
	})
}

// GetStats returns monthly intake statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if db.Pool == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	stats, err := db.GetMonthlyStats(r.Context())
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"stats":   stats,
	})
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// sendStoreError maps store failures to responses, distinguishing a
// missing database from a query failure.
func (h *Handler) sendStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, db.ErrNoDatabase) {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}
	h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", message, err))
}
