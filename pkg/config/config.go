package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Billing       BillingConfig       `yaml:"billing"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Storefront    StorefrontConfig    `yaml:"storefront"`
	Notify        NotifyConfig        `yaml:"notify"`
	Report        ReportConfig        `yaml:"report"`
	Observability ObservabilityConfig `yaml:"observability"`
	Server        ServerConfig        `yaml:"server"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	PrimaryURL          string        `yaml:"primary_url" validate:"required"`
	ReplicaURLs         []string      `yaml:"replica_urls"`
	MaxConns            int           `yaml:"max_conns" validate:"min=1"`
	MinConns            int           `yaml:"min_conns" validate:"min=0,ltefield=MaxConns"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxLifetime         time.Duration `yaml:"max_lifetime"`
	MaxIdleTime         time.Duration `yaml:"max_idle_time"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	// Migrate creates missing tables at startup
	Migrate       bool          `yaml:"migrate"`
	CardCacheSize int           `yaml:"card_cache_size" validate:"min=0"`
	CardCacheTTL  time.Duration `yaml:"card_cache_ttl"`
}

// RedisConfig holds Redis settings. Redis is optional; without it there is no
// run lock and the gateway limit is per process.
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db" validate:"min=0"`
	MaxRetries int    `yaml:"max_retries" validate:"min=0"`
	PoolSize   int    `yaml:"pool_size" validate:"min=1"`
}

// Enabled reports whether a Redis server is configured
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// BillingConfig holds the run policy
type BillingConfig struct {
	MaxFailuresAllowed int           `yaml:"max_failures_allowed" validate:"min=1"`
	ChargeDelay        time.Duration `yaml:"charge_delay"`
	// Schedule is a standard five-field cron expression
	Schedule    string        `yaml:"schedule" validate:"required"`
	Timezone    string        `yaml:"timezone" validate:"required"`
	LockEnabled bool          `yaml:"lock_enabled"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	// PaymentPlanCategories are product categories sold as payment plans
	PaymentPlanCategories []int64 `yaml:"payment_plan_categories"`
}

// Location returns the time zone billing dates are computed in
func (c BillingConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// GatewayConfig selects and configures the payment gateway
type GatewayConfig struct {
	Provider string        `yaml:"provider" validate:"oneof=stripe rest"`
	Timeout  time.Duration `yaml:"timeout"`

	StripeAPIKey     string `yaml:"stripe_api_key" validate:"required_if=Provider stripe"`
	StripeBaseURL    string `yaml:"stripe_base_url" validate:"omitempty,url"`
	StripeMaxRetries int64  `yaml:"stripe_max_retries" validate:"min=0"`

	RESTBaseURL      string   `yaml:"rest_base_url" validate:"required_if=Provider rest"`
	RESTClientID     string   `yaml:"rest_client_id"`
	RESTClientSecret string   `yaml:"rest_client_secret"`
	RESTTokenURL     string   `yaml:"rest_token_url" validate:"omitempty,url"`
	RESTScopes       []string `yaml:"rest_scopes"`

	// RatePerSecond and Burst bound charges from this process
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gt=0"`
	Burst         int     `yaml:"burst" validate:"min=1"`
	// SharedRequests per SharedWindow bound charges across processes through Redis
	SharedRequests  int           `yaml:"shared_requests" validate:"min=0"`
	SharedWindow    time.Duration `yaml:"shared_window"`
	MaxThrottleWait time.Duration `yaml:"max_throttle_wait"`
}

// StorefrontConfig holds the storefront API settings
type StorefrontConfig struct {
	BaseURL      string        `yaml:"base_url" validate:"required,url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	TokenURL     string        `yaml:"token_url" validate:"omitempty,url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// NotifyConfig selects notification channels
type NotifyConfig struct {
	Channels []string      `yaml:"channels" validate:"dive,oneof=log webhook nats"`
	Timeout  time.Duration `yaml:"timeout"`

	WebhookURL         string        `yaml:"webhook_url" validate:"omitempty,url"`
	WebhookSecret      string        `yaml:"webhook_secret"`
	WebhookTimeout     time.Duration `yaml:"webhook_timeout"`
	WebhookAsync       bool          `yaml:"webhook_async"`
	WebhookMaxAttempts int           `yaml:"webhook_max_attempts" validate:"min=0"`

	NATSURL           string `yaml:"nats_url"`
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"`
}

// Has reports whether channel is enabled
func (c NotifyConfig) Has(channel string) bool {
	for _, ch := range c.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// ReportConfig holds run report archive settings
type ReportConfig struct {
	S3Enabled      bool   `yaml:"s3_enabled"`
	S3Bucket       string `yaml:"s3_bucket" validate:"required_if=S3Enabled true"`
	S3Region       string `yaml:"s3_region"`
	S3Prefix       string `yaml:"s3_prefix"`
	S3Endpoint     string `yaml:"s3_endpoint" validate:"omitempty,url"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
	S3CreateBucket bool   `yaml:"s3_create_bucket"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint" validate:"required_if=OTelEnabled true"`
	OTelServiceName    string  `yaml:"otel_service_name" validate:"required_if=OTelEnabled true"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio" validate:"min=0,max=1"`
}

// ServerConfig holds the health and metrics HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HealthPort      string        `yaml:"health_port" validate:"required,numeric"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address of the health server
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.HealthPort
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxConns:            10,
			MinConns:            2,
			Timeout:             5 * time.Second,
			MaxLifetime:         30 * time.Minute,
			MaxIdleTime:         5 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
			CardCacheSize:       1000,
			CardCacheTTL:        5 * time.Minute,
		},
		Redis: RedisConfig{
			MaxRetries: 3,
			PoolSize:   10,
		},
		Billing: BillingConfig{
			MaxFailuresAllowed: 3,
			ChargeDelay:        2 * time.Second,
			Schedule:           "0 6 * * *",
			Timezone:           "UTC",
			LockEnabled:        true,
			LockTTL:            2 * time.Hour,
		},
		Gateway: GatewayConfig{
			Provider:         "stripe",
			Timeout:          30 * time.Second,
			StripeMaxRetries: 2,
			RatePerSecond:    5,
			Burst:            1,
			SharedRequests:   25,
			SharedWindow:     time.Second,
			MaxThrottleWait:  30 * time.Second,
		},
		Storefront: StorefrontConfig{
			Timeout: 15 * time.Second,
		},
		Notify: NotifyConfig{
			Channels:           []string{"log"},
			Timeout:            15 * time.Second,
			WebhookTimeout:     10 * time.Second,
			WebhookAsync:       true,
			WebhookMaxAttempts: 4,
			NATSURL:            "nats://127.0.0.1:4222",
			NATSSubjectPrefix:  "rebill.notifications",
		},
		Report: ReportConfig{
			S3Region:       "us-east-1",
			S3Prefix:       "billing-runs",
			S3CreateBucket: false,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "text",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "rebill",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			HealthPort:      "9090",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// LoadConfig loads .env files, then the YAML file at path or, when path is
// empty, the one named by REBILL_CONFIG_FILE, then environment variables.
// Each source overrides the previous one.
func LoadConfig(path string) (*Config, error) {
	LoadDotEnv()
	if path == "" {
		path = os.Getenv("REBILL_CONFIG_FILE")
	}
	return Load(path)
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// decodeYAML overlays data on cfg, rejecting unknown keys
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
