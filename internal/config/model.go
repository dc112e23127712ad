package config

// Config is the full service configuration.
type Config struct {
	LogLevel        string          `hcl:"log_level,optional"`
	LogFormat       string          `hcl:"log_format,optional"`
	HealthcheckPort int             `hcl:"healthcheck_port,optional"`
	Concurrency     int             `hcl:"concurrency,optional"`
	StageTimeoutSec int             `hcl:"stage_timeout_seconds,optional"`
	PauseForReview  bool            `hcl:"pause_for_inspection,optional"`
	MockMode        bool            `hcl:"mock_mode,optional"`
	Database        *DatabaseConfig `hcl:"database,block"`
	Blob            *BlobConfig     `hcl:"blob,block"`
	LLM             *LLMConfig      `hcl:"llm,block"`
}

// DatabaseConfig configures the Postgres asset and checkpoint stores.
type DatabaseConfig struct {
	URL string `hcl:"url"`
}

// BlobConfig configures the S3 document fetcher.
type BlobConfig struct {
	Bucket        string `hcl:"bucket"`
	Region        string `hcl:"region,optional"`
	PresignTTLSec int    `hcl:"presign_ttl_seconds,optional"`
}

// LLMConfig configures the extraction model.
type LLMConfig struct {
	Provider string `hcl:"provider,optional"`
	Model    string `hcl:"model,optional"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Concurrency:     4,
		StageTimeoutSec: 0,
		MockMode:        false,
	}
}

// Normalize fills zero values with defaults after loading.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Blob != nil && c.Blob.PresignTTLSec <= 0 {
		c.Blob.PresignTTLSec = 900
	}
	if c.LLM != nil && c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
}
