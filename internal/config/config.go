package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toricodesthings/compound-association-service/internal/types"
)

type Config struct {
	// Fleet
	Workers       int    `yaml:"workers"`
	OutputFormat  string `yaml:"output_format"`
	OutputDir     string `yaml:"output_dir"`
	WorkspaceRoot string `yaml:"workspace_root"`
	KeepWorkspace bool   `yaml:"keep_workspace"`
	LedgerPath    string `yaml:"ledger_path"`

	// Association table constants
	ActivityType string `yaml:"activity_type"`
	ActivityUnit string `yaml:"activity_unit"`

	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`

	// Name-to-structure
	OPSINBaseURL   string        `yaml:"opsin_base_url"`
	OPSINRateEvery time.Duration `yaml:"opsin_rate_every"`
	OPSINRateBurst int           `yaml:"opsin_rate_burst"`
	OPSINTimeout   time.Duration `yaml:"opsin_timeout"`

	// Compound-name service; empty means the local extractor.
	ChemNERURL     string        `yaml:"chemner_url"`
	ChemNERTimeout time.Duration `yaml:"chemner_timeout"`

	// Secrets
	InternalSharedSecret string `yaml:"-"`
	MistralAPIKey        string `yaml:"-"`
	OpenRouterAPIKey     string `yaml:"-"`

	// OCR
	MistralAPIURL    string `yaml:"mistral_api_url"`
	DefaultOCRModel  string `yaml:"ocr_model"`
	MaxOCRConcurrent int64  `yaml:"max_ocr_concurrent"`

	// Structure recognition
	OpenRouterAPIURL         string        `yaml:"openrouter_api_url"`
	RecognitionModel         string        `yaml:"recognition_model"`
	RecognitionTimeout       time.Duration `yaml:"recognition_timeout"`
	MaxRecognitionConcurrent int64         `yaml:"max_recognition_concurrent"`

	// Poppler / extraction timeouts
	PDFInfoTimeout      time.Duration `yaml:"pdfinfo_timeout"`
	PDFToTextTimeout    time.Duration `yaml:"pdftotext_timeout"`
	PDFToTextAllTimeout time.Duration `yaml:"pdftotext_all_timeout"`

	// Segmentation
	SegmenterBinary  string        `yaml:"segmenter_binary"`
	SegmenterTimeout time.Duration `yaml:"segmenter_timeout"`
	SegmentsRoot     string        `yaml:"segments_root"`

	// Hybrid text extraction
	MinWordsPerPage int    `yaml:"min_words_per_page"`
	MaxPageWorkers  int    `yaml:"max_page_workers"`
	PageSeparator   string `yaml:"page_separator"`

	// Legacy office conversion
	LibreOfficeBinary  string        `yaml:"libreoffice_binary"`
	LibreOfficeTimeout time.Duration `yaml:"libreoffice_timeout"`

	// Server
	Port                  string        `yaml:"port"`
	InboxDir              string        `yaml:"inbox_dir"`
	MaxJSONBodyBytes      int64         `yaml:"max_json_body_bytes"`
	MaxFileBytes          int64         `yaml:"max_file_bytes"`
	MaxConcurrentRequests int64         `yaml:"max_concurrent_requests"`
	DownloadTimeout       time.Duration `yaml:"download_timeout"`
	AllowPrivateDownloads bool          `yaml:"allow_private_downloads"`
	RateLimitEvery        time.Duration `yaml:"rate_limit_every"`
	RateLimitBurst        int           `yaml:"rate_limit_burst"`
	CleanupInterval       time.Duration `yaml:"cleanup_interval"`
	ReadHeaderTimeout     time.Duration `yaml:"read_header_timeout"`
	ReadTimeout           time.Duration `yaml:"read_timeout"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	IdleTimeout           time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes        int           `yaml:"max_header_bytes"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Load() Config {
	return Config{
		Workers:       envInt("WORKERS", 1),
		OutputFormat:  envStr("OUTPUT_FORMAT", string(types.FormatDefault)),
		OutputDir:     envStr("OUTPUT_DIR", "."),
		WorkspaceRoot: envStr("WORKSPACE_ROOT", ""),
		KeepWorkspace: envBool("KEEP_WORKSPACE", false),
		LedgerPath:    envStr("LEDGER_PATH", ""),

		ActivityType: envStr("ACTIVITY_TYPE", "IC50"),
		ActivityUnit: envStr("ACTIVITY_UNIT", "nM"),

		CollaboratorTimeout: envDur("COLLABORATOR_TIMEOUT", 60*time.Second),

		OPSINBaseURL:   envStr("OPSIN_BASE_URL", "https://opsin.ch.cam.ac.uk/opsin"),
		OPSINRateEvery: envDur("OPSIN_RATE_EVERY", 200*time.Millisecond),
		OPSINRateBurst: envInt("OPSIN_RATE_BURST", 5),
		OPSINTimeout:   envDur("OPSIN_TIMEOUT", 15*time.Second),

		ChemNERURL:     envStr("CHEMNER_URL", ""),
		ChemNERTimeout: envDur("CHEMNER_TIMEOUT", 30*time.Second),

		InternalSharedSecret: envStr("INTERNAL_SHARED_SECRET", ""),
		MistralAPIKey:        envStr("MISTRAL_API_KEY", ""),
		OpenRouterAPIKey:     envStr("OPENROUTER_API_KEY", ""),

		MistralAPIURL:    envStr("MISTRAL_API_URL", "https://api.mistral.ai/v1/ocr"),
		DefaultOCRModel:  envStr("DEFAULT_OCR_MODEL", "mistral-ocr-latest"),
		MaxOCRConcurrent: int64(envInt("MAX_OCR_CONCURRENT", 3)),

		OpenRouterAPIURL:         envStr("OPENROUTER_API_URL", "https://openrouter.ai/api/v1/chat/completions"),
		RecognitionModel:         envStr("RECOGNITION_MODEL", "google/gemma-3-27b-it"),
		RecognitionTimeout:       envDur("RECOGNITION_TIMEOUT", 60*time.Second),
		MaxRecognitionConcurrent: int64(envInt("MAX_RECOGNITION_CONCURRENT", 4)),

		PDFInfoTimeout:      envDur("PDFINFO_TIMEOUT", 5*time.Second),
		PDFToTextTimeout:    envDur("PDFTOTEXT_TIMEOUT", 10*time.Second),
		PDFToTextAllTimeout: envDur("PDFTOTEXT_ALL_TIMEOUT", 30*time.Second),

		SegmenterBinary:  envStr("SEGMENTER_BINARY", ""),
		SegmenterTimeout: envDur("SEGMENTER_TIMEOUT", 10*time.Minute),
		SegmentsRoot:     envStr("SEGMENTS_ROOT", ""),

		MinWordsPerPage: envInt("MIN_WORDS_PER_PAGE", 20),
		MaxPageWorkers:  envInt("MAX_PAGE_WORKERS", 8),
		PageSeparator:   envStr("PAGE_SEPARATOR", "\n"),

		LibreOfficeBinary:  envStr("LIBREOFFICE_BINARY", "soffice"),
		LibreOfficeTimeout: envDur("LIBREOFFICE_TIMEOUT", 60*time.Second),

		Port:                  envStr("PORT", "8080"),
		InboxDir:              envStr("INBOX_DIR", ""),
		MaxJSONBodyBytes:      int64(envInt("MAX_JSON_BODY_BYTES", 2<<20)),
		MaxFileBytes:          int64(envInt("MAX_FILE_BYTES", int(200<<20))),
		MaxConcurrentRequests: int64(envInt("MAX_CONCURRENT_REQUESTS", 15)),
		DownloadTimeout:       envDur("DOWNLOAD_TIMEOUT", 25*time.Second),
		AllowPrivateDownloads: envBool("ALLOW_PRIVATE_DOWNLOAD_URLS", false),
		RateLimitEvery:        envDur("RATE_LIMIT_EVERY", 600*time.Millisecond),
		RateLimitBurst:        envInt("RATE_LIMIT_BURST", 20),
		CleanupInterval:       envDur("CLEANUP_INTERVAL", 5*time.Minute),
		ReadHeaderTimeout:     envDur("READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:           envDur("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:          envDur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:           envDur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:        envInt("MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:       envDur("SHUTDOWN_TIMEOUT", 30*time.Second),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "console"),
	}
}

// LoadFile overlays the YAML file at path onto the environment values. Keys
// absent from the file keep their environment or default value. Secrets are
// never read from the file.
func LoadFile(path string) (Config, error) {
	cfg := Load()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Format returns the parsed output format.
func (c Config) Format() (types.OutputFormat, error) {
	return types.ParseOutputFormat(c.OutputFormat)
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := c.Format(); err != nil {
		return err
	}
	if c.OPSINRateEvery <= 0 || c.OPSINRateBurst <= 0 {
		return fmt.Errorf("OPSIN rate limit must be positive")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output dir is required")
	}
	return nil
}

// ValidateServer adds the checks only the HTTP service needs.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(c.InternalSharedSecret)) < 32 {
		return fmt.Errorf("INTERNAL_SHARED_SECRET must be at least 32 characters")
	}
	if c.RateLimitEvery <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("server rate limit must be positive")
	}
	return nil
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
