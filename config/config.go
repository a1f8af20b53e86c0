package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/withobsrvr/postgres-to-es/resilience"
)

// Config represents the sync service configuration
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Source        SourceConfig        `yaml:"source"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	ETL           ETLConfig           `yaml:"etl"`
	Retry         RetryConfig         `yaml:"retry"`
}

// ServiceConfig contains service-level configuration
type ServiceConfig struct {
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	HealthPort int    `yaml:"health_port"`
}

// SourceConfig holds PostgreSQL connection settings
type SourceConfig struct {
	Driver           string `yaml:"driver"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Database         string `yaml:"database"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	PasswordSecretID string `yaml:"password_secret_id"`
	SSLMode          string `yaml:"sslmode"`
	Schema           string `yaml:"schema"`
}

// ElasticsearchConfig contains target cluster settings
type ElasticsearchConfig struct {
	URL               string `yaml:"url"`
	SchemaPath        string `yaml:"schema_path"`
	BulkMaxActions    int    `yaml:"bulk_max_actions"`
	VersionConstraint string `yaml:"version_constraint"`
	Sniff             bool   `yaml:"sniff"`
}

// CheckpointConfig selects where sync state is persisted
type CheckpointConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Key    string `yaml:"s3_key"`
	S3Region string `yaml:"s3_region"`
}

// ETLConfig contains scan tunables
type ETLConfig struct {
	ChunkSize int           `yaml:"chunk_size"`
	ScanDelay time.Duration `yaml:"scan_delay"`
}

// RetryConfig configures reconnect and publish backoff
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Factor       float64       `yaml:"factor"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

const (
	DriverPgx = "pgx"
	DriverPQ  = "pq"

	BackendFile = "file"
	BackendS3   = "s3"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML file, then applies defaults and
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyDefaults()
	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "postgres-to-es"
	}
	if c.Service.Version == "" {
		c.Service.Version = "dev"
	}
	if c.Source.Driver == "" {
		c.Source.Driver = DriverPgx
	}
	if c.Source.Host == "" {
		c.Source.Host = "localhost"
	}
	if c.Source.Port == 0 {
		c.Source.Port = 5432
	}
	if c.Source.Database == "" {
		c.Source.Database = "movies_database"
	}
	if c.Source.User == "" {
		c.Source.User = "app"
	}
	if c.Source.SSLMode == "" {
		c.Source.SSLMode = "disable"
	}
	if c.Source.Schema == "" {
		c.Source.Schema = "content"
	}
	if c.Elasticsearch.URL == "" {
		c.Elasticsearch.URL = "http://localhost:9200"
	}
	if c.Elasticsearch.SchemaPath == "" {
		c.Elasticsearch.SchemaPath = "./assets"
	}
	if c.Elasticsearch.BulkMaxActions == 0 {
		c.Elasticsearch.BulkMaxActions = 500
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = BackendFile
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "state.json"
	}
	if c.Checkpoint.S3Key == "" {
		c.Checkpoint.S3Key = "postgres-to-es/state.json"
	}
	if c.ETL.ChunkSize == 0 {
		c.ETL.ChunkSize = 25
	}
	if c.ETL.ScanDelay == 0 {
		c.ETL.ScanDelay = 30 * time.Second
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = 100 * time.Millisecond
	}
	if c.Retry.Factor == 0 {
		c.Retry.Factor = 2
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 10 * time.Second
	}
}

// envOverrides maps each setting to the variables that can override it,
// first match wins.
var envOverrides = []struct {
	names []string
	apply func(c *Config, v string) error
}{
	{[]string{"POSTGRES_DRIVER"}, func(c *Config, v string) error { c.Source.Driver = v; return nil }},
	{[]string{"POSTGRES_HOST", "DB_HOST"}, func(c *Config, v string) error { c.Source.Host = v; return nil }},
	{[]string{"POSTGRES_PORT", "DB_PORT"}, func(c *Config, v string) error { return setInt(&c.Source.Port, v) }},
	{[]string{"POSTGRES_DB", "DB_NAME"}, func(c *Config, v string) error { c.Source.Database = v; return nil }},
	{[]string{"POSTGRES_USER", "DB_USER"}, func(c *Config, v string) error { c.Source.User = v; return nil }},
	{[]string{"POSTGRES_PASSWORD", "DB_PASSWORD"}, func(c *Config, v string) error { c.Source.Password = v; return nil }},
	{[]string{"POSTGRES_PASSWORD_SECRET_ID"}, func(c *Config, v string) error { c.Source.PasswordSecretID = v; return nil }},
	{[]string{"ELASTICSEARCH_URL"}, func(c *Config, v string) error { c.Elasticsearch.URL = v; return nil }},
	{[]string{"ES_SCHEMA_PATH"}, func(c *Config, v string) error { c.Elasticsearch.SchemaPath = v; return nil }},
	{[]string{"CHUNK_SIZE", "LIMIT"}, func(c *Config, v string) error { return setInt(&c.ETL.ChunkSize, v) }},
	{[]string{"SCAN_DELAY", "ETL_SLEEP"}, func(c *Config, v string) error { return setSeconds(&c.ETL.ScanDelay, v) }},
	{[]string{"CHECKPOINT_PATH"}, func(c *Config, v string) error { c.Checkpoint.Path = v; return nil }},
	{[]string{"HEALTH_PORT"}, func(c *Config, v string) error { return setInt(&c.Service.HealthPort, v) }},
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		for _, name := range o.names {
			v, ok := lookup(name)
			if !ok || v == "" {
				continue
			}
			if err := o.apply(c, v); err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			break
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

// setSeconds accepts a Go duration ("45s") or a bare number of seconds.
func setSeconds(dst *time.Duration, v string) error {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(n * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []error
	switch c.Source.Driver {
	case DriverPgx, DriverPQ:
	default:
		errs = append(errs, fmt.Errorf("source.driver must be %q or %q, got %q", DriverPgx, DriverPQ, c.Source.Driver))
	}
	if c.Source.Port <= 0 || c.Source.Port > 65535 {
		errs = append(errs, fmt.Errorf("source.port out of range: %d", c.Source.Port))
	}
	if c.Elasticsearch.BulkMaxActions < 0 {
		errs = append(errs, errors.New("elasticsearch.bulk_max_actions must not be negative"))
	}
	if c.ETL.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("etl.chunk_size must be positive, got %d", c.ETL.ChunkSize))
	}
	if c.ETL.ScanDelay < 0 {
		errs = append(errs, errors.New("etl.scan_delay must not be negative"))
	}
	switch c.Checkpoint.Backend {
	case BackendFile:
		if c.Checkpoint.Path == "" {
			errs = append(errs, errors.New("checkpoint.path is required for the file backend"))
		}
	case BackendS3:
		if c.Checkpoint.S3Bucket == "" {
			errs = append(errs, errors.New("checkpoint.s3_bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend must be %q or %q, got %q", BackendFile, BackendS3, c.Checkpoint.Backend))
	}
	if c.Retry.InitialDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.initial_delay must not be negative, got %v", c.Retry.InitialDelay))
	}
	if c.Retry.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.max_delay must not be negative, got %v", c.Retry.MaxDelay))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.Factor < 1 {
		errs = append(errs, fmt.Errorf("retry.factor must be at least 1, got %v", c.Retry.Factor))
	}
	if c.Service.HealthPort < 0 || c.Service.HealthPort > 65535 {
		errs = append(errs, fmt.Errorf("service.health_port out of range: %d", c.Service.HealthPort))
	}
	return errors.Join(errs...)
}

// ConnectionString builds a PostgreSQL keyword/value connection string
func (s *SourceConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		s.Host, s.Port, s.Database, s.User, quoteValue(s.Password), s.SSLMode,
	)
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Backoff converts the retry section into a resilience policy.
func (r RetryConfig) Backoff() resilience.Backoff {
	return resilience.Backoff{
		InitialDelay:  r.InitialDelay,
		MaxDelay:      r.MaxDelay,
		BackoffFactor: r.Factor,
		MaxAttempts:   r.MaxAttempts,
	}
}
