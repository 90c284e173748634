// Package config loads leadflow configuration from YAML with environment
// overrides for secrets and the dry-run switch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all leadflow configuration.
type Config struct {
	// Campaign pipeline settings
	Campaign CampaignConfig `yaml:"campaign"`

	// LLM configuration (content generation and embeddings)
	LLM LLMConfig `yaml:"llm"`

	// Outbound mail transport
	SMTP SMTPConfig `yaml:"smtp"`

	// Inbound reply mailbox
	IMAP IMAPConfig `yaml:"imap"`

	// Dispatch gate (rate limit, retry, dry run)
	Dispatch DispatchConfig `yaml:"dispatch"`

	// On-disk layout
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CampaignConfig configures pipeline behavior.
type CampaignConfig struct {
	// Feedback loop bound and the confidence needed to skip it
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MaxFeedbackLoops    int     `yaml:"max_feedback_loops"`

	// Bounded worker pools for generation and sending
	ContentWorkers  int `yaml:"content_workers"`
	OutreachWorkers int `yaml:"outreach_workers"`

	// How many past campaigns the analysis stage looks back over
	AnalysisWindow int `yaml:"analysis_window"`
}

// LLMConfig configures the Gemini client.
type LLMConfig struct {
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float64 `yaml:"temperature"`
	Timeout        string  `yaml:"timeout"`
}

// SMTPConfig configures the outbound transport.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// IMAPConfig configures the reply mailbox.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"`
	Lookback string `yaml:"lookback"`
}

// DispatchConfig configures the send gate.
type DispatchConfig struct {
	DryRun        bool   `yaml:"dry_run"`
	RatePerMinute int    `yaml:"rate_per_minute"`
	MaxAttempts   int    `yaml:"max_attempts"`
	RetryBase     string `yaml:"retry_base"`
	RetryMax      string `yaml:"retry_max"`
}

// StorageConfig configures where state lives on disk.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Campaign: CampaignConfig{
			ConfidenceThreshold: 0.7,
			MaxFeedbackLoops:    2,
			ContentWorkers:      4,
			OutreachWorkers:     4,
			AnalysisWindow:      5,
		},

		LLM: LLMConfig{
			Model:          "gemini-2.5-flash",
			EmbeddingModel: "gemini-embedding-001",
			Temperature:    0.7,
			Timeout:        "120s",
		},

		SMTP: SMTPConfig{
			Port: 587,
		},

		IMAP: IMAPConfig{
			Port:     993,
			Mailbox:  "INBOX",
			Lookback: "720h",
		},

		Dispatch: DispatchConfig{
			DryRun:        true,
			RatePerMinute: 12,
			MaxAttempts:   3,
			RetryBase:     "1s",
			RetryMax:      "30s",
		},

		Storage: StorageConfig{
			DataDir: "data",
		},

		Logging: LoggingConfig{
			Level: "info",
			Dir:   "data/logs",
		},
	}
}

// Load loads configuration from a YAML file. A missing file is not an
// error; defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. Secrets come
// from the environment in deployment; the YAML file carries the rest.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if pw := os.Getenv("SMTP_PASSWORD"); pw != "" {
		c.SMTP.Password = pw
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		c.SMTP.Username = user
		if c.SMTP.From == "" {
			c.SMTP.From = user
		}
	}
	if pw := os.Getenv("IMAP_PASSWORD"); pw != "" {
		c.IMAP.Password = pw
	}

	// DRY_RUN_MODE wins over the config file in either direction, so an
	// operator can force a live run off without editing YAML.
	if v := os.Getenv("DRY_RUN_MODE"); v != "" {
		c.Dispatch.DryRun = isTruthy(v)
	}

	if dir := os.Getenv("LEADFLOW_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// LLMTimeout returns the LLM request timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// RetryBase returns the base delay of the dispatch backoff schedule.
func (c *Config) RetryBase() time.Duration {
	d, err := time.ParseDuration(c.Dispatch.RetryBase)
	if err != nil {
		return time.Second
	}
	return d
}

// RetryMax returns the backoff ceiling.
func (c *Config) RetryMax() time.Duration {
	d, err := time.ParseDuration(c.Dispatch.RetryMax)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// IMAPLookback returns how far back the reply sync searches the mailbox.
func (c *Config) IMAPLookback() time.Duration {
	d, err := time.ParseDuration(c.IMAP.Lookback)
	if err != nil {
		return 30 * 24 * time.Hour
	}
	return d
}

// CampaignsDir returns the campaign state directory.
func (c *Config) CampaignsDir() string {
	return filepath.Join(c.Storage.DataDir, "campaigns")
}

// MemoryPath returns the append-only memory log file.
func (c *Config) MemoryPath() string {
	return filepath.Join(c.Storage.DataDir, "memory", "entries.jsonl")
}

// UploadsDir returns the dataset uploads directory.
func (c *Config) UploadsDir() string {
	return filepath.Join(c.Storage.DataDir, "uploads")
}

// EngagementDB returns the engagement tracker database path.
func (c *Config) EngagementDB() string {
	return filepath.Join(c.Storage.DataDir, "engagement.db")
}

// Validate validates the configuration. SMTP settings are only required
// for live runs; a dry run never opens a connection.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY)")
	}
	if c.Campaign.ConfidenceThreshold < 0 || c.Campaign.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.Campaign.ConfidenceThreshold)
	}
	if c.Campaign.MaxFeedbackLoops < 0 {
		return fmt.Errorf("max_feedback_loops must be >= 0, got %d", c.Campaign.MaxFeedbackLoops)
	}
	if c.Campaign.ContentWorkers < 1 || c.Campaign.OutreachWorkers < 1 {
		return fmt.Errorf("worker counts must be >= 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.Dispatch.MaxAttempts)
	}
	if c.Dispatch.RatePerMinute < 1 {
		return fmt.Errorf("rate_per_minute must be >= 1, got %d", c.Dispatch.RatePerMinute)
	}

	if !c.Dispatch.DryRun {
		switch {
		case c.SMTP.Host == "":
			return fmt.Errorf("smtp host required for live runs")
		case c.SMTP.Username == "" || c.SMTP.Password == "":
			return fmt.Errorf("smtp credentials required for live runs")
		case c.SMTP.From == "":
			return fmt.Errorf("smtp from address required for live runs")
		}
	}

	return nil
}
