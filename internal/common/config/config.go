// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Pipeline      PipelineConfig          `mapstructure:"pipeline"`
	Scheduler     SchedulerConfig         `mapstructure:"scheduler"`
	Sources       SourcesConfig           `mapstructure:"sources"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int    `mapstructure:"write_timeout"` // milliseconds
}

// PipelineConfig holds the ingestion pipeline knobs. All of these are read once
// at startup.
type PipelineConfig struct {
	MaxResults        int  `mapstructure:"max_results"`
	AdapterTimeout    int  `mapstructure:"adapter_timeout"` // milliseconds
	StaticTTL         int  `mapstructure:"static_ttl"`      // milliseconds
	APITTL            int  `mapstructure:"api_ttl"`         // milliseconds
	ExtractedTTL      int  `mapstructure:"extracted_ttl"`   // milliseconds
	SchedulerEnabled  bool `mapstructure:"scheduler_enabled"`
	ExtractionEnabled bool `mapstructure:"extraction_enabled"`
	ErrorSampleLimit  int  `mapstructure:"error_sample_limit"`
}

type SchedulerConfig struct {
	Tick       int                  `mapstructure:"tick"`        // milliseconds
	JobTimeout int                  `mapstructure:"job_timeout"` // milliseconds
	Jobs       map[string]JobConfig `mapstructure:"jobs"`
}

// JobConfig describes one named refresh job.
type JobConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Interval int      `mapstructure:"interval"` // milliseconds
	Sources  []string `mapstructure:"sources"`
}

type SourcesConfig struct {
	Static    StaticSourceConfig    `mapstructure:"static"`
	API       APISourceConfig       `mapstructure:"api"`
	Extracted ExtractedSourceConfig `mapstructure:"extracted"`
}

type StaticSourceConfig struct {
	Path        string `mapstructure:"path"`
	UsePostgres bool   `mapstructure:"use_postgres"`
}

type APISourceConfig struct {
	Providers []ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig describes one live data provider. Kind is "http" or
// "elasticsearch".
type ProviderConfig struct {
	Name          string  `mapstructure:"name"`
	Kind          string  `mapstructure:"kind"`
	URL           string  `mapstructure:"url"`
	RecordsPath   string  `mapstructure:"records_path"`
	Index         string  `mapstructure:"index"`
	APIKey        string  `mapstructure:"api_key"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type ExtractedSourceConfig struct {
	Targets []ExtractionTargetConfig `mapstructure:"targets"`
}

type ExtractionTargetConfig struct {
	Name         string            `mapstructure:"name"`
	URL          string            `mapstructure:"url"`
	ItemSelector string            `mapstructure:"item_selector"`
	Fields       map[string]string `mapstructure:"fields"`
	Defaults     map[string]string `mapstructure:"defaults"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

// RedisConfig is optional; an empty Address keeps the cache memory-only.
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// WorkerConfig holds the core settings applicable to every Zeebe worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// NotificationConfig holds job-failure alert settings.
type NotificationConfig struct {
	AWS struct {
		Enabled     bool     `mapstructure:"enabled"`
		Region      string   `mapstructure:"region"`
		SNSTopicARN string   `mapstructure:"sns_topic_arn"`
		SESFrom     string   `mapstructure:"ses_from"`
		SESTo       []string `mapstructure:"ses_to"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
