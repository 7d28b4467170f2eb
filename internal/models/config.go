package models

// Config represents the service configuration
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	// OCR config
	OCR OCRConfig `yaml:"ocr"`

	// AI config
	AI AIConfig `yaml:"ai"`

	// Pairing thresholds
	Pairing PairingConfig `yaml:"pairing"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// OCRConfig represents OCR-specific configuration
type OCRConfig struct {
	Engine   string `yaml:"engine"`   // "tesseract"
	Language string `yaml:"language"` // OCR language (default: "eng")
}

// AIConfig represents AI provider configuration
type AIConfig struct {
	// OpenAI
	OpenAI OpenAIConfig `yaml:"openai"`

	// Gemini
	Gemini GeminiConfig `yaml:"gemini"`

	// Ollama (local)
	Ollama OllamaConfig `yaml:"ollama"`

	// Default provider
	DefaultProvider string `yaml:"default_provider"` // "openai", "gemini", "ollama"

	// Call resilience
	TimeoutSeconds  int `yaml:"timeout_seconds"`  // per-attempt timeout (default 60)
	MaxRetries      int `yaml:"max_retries"`      // attempts before giving up (default 3)
	BreakerFailures int `yaml:"breaker_failures"` // consecutive failures that open the breaker (default 5)
}

// OpenAIConfig for OpenAI/Azure OpenAI
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`              // Default: "gpt-4"
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // Default: "gemini-pro"
}

// OllamaConfig for local Ollama
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"` // Default: "http://localhost:11434"
	Model   string `yaml:"model"`    // e.g., "mistral", "llama2"
}

// PairingConfig holds the pairing engine thresholds. Defaults match the
// documented heuristic weighting.
type PairingConfig struct {
	AutoPairThreshold   float64 `yaml:"auto_pair_threshold"`  // default 0.85
	SuggestionThreshold float64 `yaml:"suggestion_threshold"` // default 0.55
	DateWindowDays      int     `yaml:"date_window_days"`     // default 3
}

// WithDefaults fills unset pairing thresholds.
func (c PairingConfig) WithDefaults() PairingConfig {
	if c.AutoPairThreshold <= 0 {
		c.AutoPairThreshold = 0.85
	}
	if c.SuggestionThreshold <= 0 {
		c.SuggestionThreshold = 0.55
	}
	if c.DateWindowDays <= 0 {
		c.DateWindowDays = 3
	}
	return c
}
