package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Blob      BlobConfig      `yaml:"blob" mapstructure:"blob"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	FastPath  FastPathConfig  `yaml:"fastpath" mapstructure:"fastpath"`
	Scorer    ScorerConfig    `yaml:"scorer" mapstructure:"scorer"`
	Escalate  EscalateConfig  `yaml:"escalate" mapstructure:"escalate"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// WorkerConfig configures the claim-and-process loops.
type WorkerConfig struct {
	ID               string `yaml:"id" mapstructure:"id"`
	Count            int    `yaml:"count" mapstructure:"count"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	StaleLockSecs    int    `yaml:"stale_lock_secs" mapstructure:"stale_lock_secs"`
	ExtractorVersion string `yaml:"extractor_version" mapstructure:"extractor_version"`
}

// PollInterval returns the poll interval as a duration.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSecs) * time.Second
}

// StaleLockTimeout returns the stale-lock window as a duration.
func (w WorkerConfig) StaleLockTimeout() time.Duration {
	return time.Duration(w.StaleLockSecs) * time.Second
}

// BlobConfig configures the document store client.
type BlobConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Key         string  `yaml:"key" mapstructure:"key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// OCRConfig configures per-page PDF text extraction and the optical
// escalation heuristic.
type OCRConfig struct {
	Mode           string `yaml:"mode" mapstructure:"mode"` // "smart" or "full"
	PdfToTextPath  string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	PdfInfoPath    string `yaml:"pdfinfo_path" mapstructure:"pdfinfo_path"`
	MistralKey     string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel   string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
	MaxPagesPerDoc int    `yaml:"max_pages_per_doc" mapstructure:"max_pages_per_doc"`
	MinDirectChars int    `yaml:"min_direct_chars" mapstructure:"min_direct_chars"`
	EarlyPages     int    `yaml:"early_pages" mapstructure:"early_pages"`
	LatePages      int    `yaml:"late_pages" mapstructure:"late_pages"`
}

// AnthropicConfig configures the reasoning service.
type AnthropicConfig struct {
	Key             string  `yaml:"key" mapstructure:"key"`
	Model           string  `yaml:"model" mapstructure:"model"`
	MaxTokens       int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxAttempts     int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerMin  float64 `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	MaxCharsPerPage int     `yaml:"max_chars_per_page" mapstructure:"max_chars_per_page"`
}

// Timeout returns the per-attempt timeout as a duration.
func (a AnthropicConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// FastPathConfig holds the fast-path acceptance gate. The thresholds are
// empirically chosen defaults, not hard invariants.
type FastPathConfig struct {
	MinDocScore   float64 `yaml:"min_doc_score" mapstructure:"min_doc_score"`
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
}

// ScorerConfig configures document scoring.
type ScorerConfig struct {
	KeywordsPath string `yaml:"keywords_path" mapstructure:"keywords_path"`
	TopK         int    `yaml:"top_k" mapstructure:"top_k"`
}

// EscalateConfig configures follow-up job creation.
type EscalateConfig struct {
	MaxDocuments int `yaml:"max_documents" mapstructure:"max_documents"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TAKEOFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("worker.id", defaultWorkerID())
	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.poll_interval_secs", 5)
	v.SetDefault("worker.stale_lock_secs", 900)
	v.SetDefault("worker.extractor_version", "takeoff-v2")
	v.SetDefault("blob.timeout_secs", 60)
	v.SetDefault("blob.rate_per_sec", 5)
	v.SetDefault("ocr.mode", "smart")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.pdfinfo_path", "pdfinfo")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("ocr.max_pages_per_doc", 60)
	v.SetDefault("ocr.min_direct_chars", 30)
	v.SetDefault("ocr.early_pages", 15)
	v.SetDefault("ocr.late_pages", 9)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.max_attempts", 4)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("anthropic.requests_per_min", 30)
	v.SetDefault("anthropic.max_chars_per_page", 6000)
	v.SetDefault("fastpath.min_doc_score", 80)
	v.SetDefault("fastpath.min_confidence", 0.85)
	v.SetDefault("scorer.top_k", 5)
	v.SetDefault("escalate.max_documents", 12)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// defaultWorkerID builds a worker identity from hostname and pid so two
// workers on the same host never share a lock id.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
