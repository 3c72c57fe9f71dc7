// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loan-catalog/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	SourceStatic    = models.SourceStatic
	SourceAPI       = models.SourceAPI
	SourceExtracted = models.SourceExtracted
	SourceAll       = models.SourceAll
)

func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// environment overlay is optional
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// booleans that default to true cannot be recovered in applyDefaults
	v.SetDefault("pipeline.scheduler_enabled", true)
	v.SetDefault("pipeline.extraction_enabled", false)
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			// unset variables expand to "" so optional backends stay off
			v.Set(key, os.ExpandEnv(strVal))
		}
	}
}

// overrideEmptyConfig fills secrets that are conventionally supplied through
// plain environment variables rather than the config tree.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Database.Redis.Password == "" {
		if val := os.Getenv("REDIS_PASSWORD"); val != "" {
			cfg.Database.Redis.Password = val
		}
	}
	for i := range cfg.Sources.API.Providers {
		p := &cfg.Sources.API.Providers[i]
		if p.APIKey != "" {
			continue
		}
		envKey := "PROVIDER_" + strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(p.Name)) + "_API_KEY"
		if val := os.Getenv(envKey); val != "" {
			p.APIKey = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "loan-catalog"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60000
	}

	if cfg.Pipeline.MaxResults == 0 {
		cfg.Pipeline.MaxResults = 100
	}
	if cfg.Pipeline.AdapterTimeout == 0 {
		cfg.Pipeline.AdapterTimeout = 15000
	}
	if cfg.Pipeline.StaticTTL == 0 {
		cfg.Pipeline.StaticTTL = int((24 * time.Hour).Milliseconds())
	}
	if cfg.Pipeline.APITTL == 0 {
		cfg.Pipeline.APITTL = int(time.Hour.Milliseconds())
	}
	if cfg.Pipeline.ExtractedTTL == 0 {
		cfg.Pipeline.ExtractedTTL = int((24 * time.Hour).Milliseconds())
	}
	if cfg.Pipeline.ErrorSampleLimit == 0 {
		cfg.Pipeline.ErrorSampleLimit = 50
	}

	if cfg.Scheduler.Tick == 0 {
		cfg.Scheduler.Tick = 1000
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 120000
	}
	if len(cfg.Scheduler.Jobs) == 0 {
		cfg.Scheduler.Jobs = map[string]JobConfig{
			"dailyRefresh": {
				Enabled:  true,
				Interval: int((24 * time.Hour).Milliseconds()),
				Sources:  []string{SourceStatic, SourceAPI, SourceExtracted},
			},
			"apiRefresh": {
				Enabled:  true,
				Interval: int(time.Hour.Milliseconds()),
				Sources:  []string{SourceAPI},
			},
		}
	}

	for i := range cfg.Sources.API.Providers {
		p := &cfg.Sources.API.Providers[i]
		if p.Kind == "" {
			p.Kind = "http"
		}
		if p.RatePerSecond == 0 {
			p.RatePerSecond = 2
		}
		if p.Burst == 0 {
			p.Burst = 4
		}
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 2
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Redis.KeyPrefix == "" {
		cfg.Database.Redis.KeyPrefix = "loans:"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 5
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}
	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Pipeline.MaxResults < 0 {
		return fmt.Errorf("pipeline.max_results must be positive")
	}
	if cfg.Pipeline.AdapterTimeout < 0 {
		return fmt.Errorf("pipeline.adapter_timeout must be positive")
	}

	for name, job := range cfg.Scheduler.Jobs {
		if job.Enabled && job.Interval <= 0 {
			return fmt.Errorf("scheduler.jobs.%s.interval is required", name)
		}
		for _, src := range job.Sources {
			if !IsKnownSource(src) {
				return fmt.Errorf("scheduler.jobs.%s: unknown source %q", name, src)
			}
		}
	}

	for i, p := range cfg.Sources.API.Providers {
		if p.Name == "" {
			return fmt.Errorf("sources.api.providers[%d].name is required", i)
		}
		switch p.Kind {
		case "http":
			if p.URL == "" {
				return fmt.Errorf("sources.api.providers[%d].url is required", i)
			}
		case "elasticsearch":
			if p.Index == "" {
				return fmt.Errorf("sources.api.providers[%d].index is required", i)
			}
		default:
			return fmt.Errorf("sources.api.providers[%d]: unsupported kind %q", i, p.Kind)
		}
	}

	if cfg.Pipeline.ExtractionEnabled {
		for i, t := range cfg.Sources.Extracted.Targets {
			if t.URL == "" || t.ItemSelector == "" {
				return fmt.Errorf("sources.extracted.targets[%d] needs url and item_selector", i)
			}
		}
	}

	if cfg.Sources.Static.UsePostgres && cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required when sources.static.use_postgres is set")
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	return nil
}

// IsKnownSource reports whether name is one of the pipeline's source names
// or "all".
func IsKnownSource(name string) bool {
	switch name {
	case SourceStatic, SourceAPI, SourceExtracted, SourceAll:
		return true
	}
	return false
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
