package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/paperledger/invoice-recon-service/api"
	"github.com/paperledger/invoice-recon-service/internal/ai"
	"github.com/paperledger/invoice-recon-service/internal/auth"
	"github.com/paperledger/invoice-recon-service/internal/db"
	"github.com/paperledger/invoice-recon-service/internal/models"
	"github.com/paperledger/invoice-recon-service/internal/ocr"
	"github.com/paperledger/invoice-recon-service/internal/pairing"
	"github.com/paperledger/invoice-recon-service/internal/pipeline"
	"github.com/paperledger/invoice-recon-service/internal/storage"
)

func main() {
	// Load configuration
	config, err := loadConfig("config.yaml")
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if level, err := logrus.ParseLevel(config.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	// Initialize JWT
	if err := auth.Init(); err != nil {
		logrus.Fatalf("Failed to initialize auth: %v", err)
	}
	logrus.Info("JWT authentication initialized")

	// Initialize database connection pool
	if err := db.Init(); err != nil {
		logrus.Warnf("Database not available: %v", err)
		logrus.Info("Running in process-only mode (no persistence, no pairing)")
	} else {
		defer db.Close()
		logrus.Info("Database connection pool initialized")
	}

	// Initialize MinIO storage
	if err := storage.Init(); err != nil {
		logrus.Warnf("MinIO storage not available: %v", err)
		logrus.Info("Scans will not be archived")
	} else {
		logrus.Info("MinIO storage initialized")
	}

	// The structurer is an assist; without a provider the pipeline
	// still runs on the rule-based extractor alone.
	var structurer pipeline.Structurer
	if provider, err := ai.NewProvider(config.AI); err != nil {
		logrus.Warnf("AI provider not available: %v", err)
	} else {
		structurer = ai.NewStructurer(ai.WithResilience(provider, config.AI))
	}

	pl := pipeline.New(ocr.NewEngine(config.OCR), structurer)
	engine := pairing.NewEngine(db.NewPairStore(), config.Pairing)

	// Create API handler
	handler := api.NewHandler(config, pl, engine)
	router := handler.SetupRoutes()

	// Add login endpoint
	router.HandleFunc("/api/login", auth.LoginHandler).Methods("POST")

	// Wrap router with JWT middleware (skips /health and /api/login)
	protectedRouter := auth.JWTMiddleware(router)

	// Start server
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	logrus.Infof("Starting Invoice Reconciliation Service v%s on %s", api.Version, addr)
	logrus.Infof("OCR Engine: %s", config.OCR.Engine)
	logrus.Infof("Default AI Provider: %s", config.AI.DefaultProvider)
	logrus.Infof("Database: %v", db.Pool != nil)
	logrus.Infof("Storage: %v", storage.Client != nil)
	logrus.Info("Endpoints:")
	logrus.Infof("  POST http://%s/api/login                     - Authenticate", addr)
	logrus.Infof("  POST http://%s/api/process-invoice           - Process invoice (requires JWT)", addr)
	logrus.Infof("  POST http://%s/api/process-delivery-note     - Process delivery note (requires JWT)", addr)
	logrus.Infof("  GET  http://%s/api/invoices                  - List invoices (requires JWT)", addr)
	logrus.Infof("  GET  http://%s/api/invoice/{id}              - Get single invoice (requires JWT)", addr)
	logrus.Infof("  GET  http://%s/api/invoice/{id}/suggestions  - Pairing suggestions (requires JWT)", addr)
	logrus.Infof("  POST http://%s/api/invoice/{id}/pair         - Confirm pairing (requires JWT)", addr)
	logrus.Infof("  GET  http://%s/api/invoice/{id}/events       - Pairing audit trail (requires JWT)", addr)
	logrus.Infof("  GET  http://%s/api/delivery-notes            - List delivery notes (requires JWT)", addr)
	logrus.Infof("  GET  http://%s/api/stats                     - Monthly stats (requires JWT)", addr)
	logrus.Infof("  GET  http://%s/health                        - Health check", addr)

	if err := http.ListenAndServe(addr, protectedRouter); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}

func loadConfig(path string) (*models.Config, error) {
	// Read config file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var config models.Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables if present
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &config.Port)
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.AI.OpenAI.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.AI.Gemini.APIKey = apiKey
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.AI.Ollama.BaseURL = baseURL
	}
	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		config.AI.DefaultProvider = provider
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.AI.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.AI.OpenAI.Model = model
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.AI.Gemini.Model = model
	}

	return &config, nil
}
