package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides cfg with REBILL_* environment variables
func applyEnv(cfg *Config) {
	db := &cfg.Database
	db.PrimaryURL = getEnv("REBILL_DATABASE_URL", db.PrimaryURL)
	db.ReplicaURLs = getEnvList("REBILL_DATABASE_REPLICA_URLS", db.ReplicaURLs)
	db.MaxConns = getEnvInt("REBILL_DATABASE_MAX_CONNS", db.MaxConns)
	db.MinConns = getEnvInt("REBILL_DATABASE_MIN_CONNS", db.MinConns)
	db.Timeout = getEnvDuration("REBILL_DATABASE_TIMEOUT", db.Timeout)
	db.MaxLifetime = getEnvDuration("REBILL_DATABASE_MAX_LIFETIME", db.MaxLifetime)
	db.MaxIdleTime = getEnvDuration("REBILL_DATABASE_MAX_IDLE_TIME", db.MaxIdleTime)
	db.HealthCheckInterval = getEnvDuration("REBILL_DATABASE_HEALTH_INTERVAL", db.HealthCheckInterval)
	db.Migrate = getEnvBool("REBILL_DATABASE_MIGRATE", db.Migrate)
	db.CardCacheSize = getEnvInt("REBILL_CARD_CACHE_SIZE", db.CardCacheSize)
	db.CardCacheTTL = getEnvDuration("REBILL_CARD_CACHE_TTL", db.CardCacheTTL)

	r := &cfg.Redis
	r.URL = getEnv("REBILL_REDIS_URL", r.URL)
	r.Password = getEnv("REBILL_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("REBILL_REDIS_DB", r.DB)
	r.MaxRetries = getEnvInt("REBILL_REDIS_MAX_RETRIES", r.MaxRetries)
	r.PoolSize = getEnvInt("REBILL_REDIS_POOL_SIZE", r.PoolSize)

	b := &cfg.Billing
	b.MaxFailuresAllowed = getEnvInt("REBILL_MAX_FAILURES_ALLOWED", b.MaxFailuresAllowed)
	b.ChargeDelay = getEnvDuration("REBILL_CHARGE_DELAY", b.ChargeDelay)
	b.Schedule = getEnv("REBILL_SCHEDULE", b.Schedule)
	b.Timezone = getEnv("REBILL_TIMEZONE", b.Timezone)
	b.LockEnabled = getEnvBool("REBILL_LOCK_ENABLED", b.LockEnabled)
	b.LockTTL = getEnvDuration("REBILL_LOCK_TTL", b.LockTTL)
	b.PaymentPlanCategories = getEnvInt64List("REBILL_PAYMENT_PLAN_CATEGORIES", b.PaymentPlanCategories)

	g := &cfg.Gateway
	g.Provider = getEnv("REBILL_GATEWAY_PROVIDER", g.Provider)
	g.Timeout = getEnvDuration("REBILL_GATEWAY_TIMEOUT", g.Timeout)
	g.StripeAPIKey = getEnv("REBILL_STRIPE_API_KEY", g.StripeAPIKey)
	g.StripeBaseURL = getEnv("REBILL_STRIPE_BASE_URL", g.StripeBaseURL)
	g.StripeMaxRetries = getEnvInt64("REBILL_STRIPE_MAX_RETRIES", g.StripeMaxRetries)
	g.RESTBaseURL = getEnv("REBILL_GATEWAY_URL", g.RESTBaseURL)
	g.RESTClientID = getEnv("REBILL_GATEWAY_CLIENT_ID", g.RESTClientID)
	g.RESTClientSecret = getEnv("REBILL_GATEWAY_CLIENT_SECRET", g.RESTClientSecret)
	g.RESTTokenURL = getEnv("REBILL_GATEWAY_TOKEN_URL", g.RESTTokenURL)
	g.RESTScopes = getEnvList("REBILL_GATEWAY_SCOPES", g.RESTScopes)
	g.RatePerSecond = getEnvFloat("REBILL_GATEWAY_RATE", g.RatePerSecond)
	g.Burst = getEnvInt("REBILL_GATEWAY_BURST", g.Burst)
	g.SharedRequests = getEnvInt("REBILL_GATEWAY_SHARED_REQUESTS", g.SharedRequests)
	g.SharedWindow = getEnvDuration("REBILL_GATEWAY_SHARED_WINDOW", g.SharedWindow)
	g.MaxThrottleWait = getEnvDuration("REBILL_GATEWAY_MAX_THROTTLE_WAIT", g.MaxThrottleWait)

	s := &cfg.Storefront
	s.BaseURL = getEnv("REBILL_STOREFRONT_URL", s.BaseURL)
	s.ClientID = getEnv("REBILL_STOREFRONT_CLIENT_ID", s.ClientID)
	s.ClientSecret = getEnv("REBILL_STOREFRONT_CLIENT_SECRET", s.ClientSecret)
	s.TokenURL = getEnv("REBILL_STOREFRONT_TOKEN_URL", s.TokenURL)
	s.Timeout = getEnvDuration("REBILL_STOREFRONT_TIMEOUT", s.Timeout)

	n := &cfg.Notify
	n.Channels = getEnvList("REBILL_NOTIFY_CHANNELS", n.Channels)
	n.Timeout = getEnvDuration("REBILL_NOTIFY_TIMEOUT", n.Timeout)
	n.WebhookURL = getEnv("REBILL_WEBHOOK_URL", n.WebhookURL)
	n.WebhookSecret = getEnv("REBILL_WEBHOOK_SECRET", n.WebhookSecret)
	n.WebhookTimeout = getEnvDuration("REBILL_WEBHOOK_TIMEOUT", n.WebhookTimeout)
	n.WebhookAsync = getEnvBool("REBILL_WEBHOOK_ASYNC", n.WebhookAsync)
	n.WebhookMaxAttempts = getEnvInt("REBILL_WEBHOOK_MAX_ATTEMPTS", n.WebhookMaxAttempts)
	n.NATSURL = getEnv("REBILL_NATS_URL", n.NATSURL)
	n.NATSSubjectPrefix = getEnv("REBILL_NATS_SUBJECT_PREFIX", n.NATSSubjectPrefix)

	rp := &cfg.Report
	rp.S3Enabled = getEnvBool("REBILL_S3_ENABLED", rp.S3Enabled)
	rp.S3Bucket = getEnv("REBILL_S3_BUCKET", rp.S3Bucket)
	rp.S3Region = getEnv("REBILL_S3_REGION", rp.S3Region)
	rp.S3Prefix = getEnv("REBILL_S3_PREFIX", rp.S3Prefix)
	rp.S3Endpoint = getEnv("REBILL_S3_ENDPOINT", rp.S3Endpoint)
	rp.S3AccessKey = getEnv("REBILL_S3_ACCESS_KEY", rp.S3AccessKey)
	rp.S3SecretKey = getEnv("REBILL_S3_SECRET_KEY", rp.S3SecretKey)
	rp.S3UsePathStyle = getEnvBool("REBILL_S3_USE_PATH_STYLE", rp.S3UsePathStyle)
	rp.S3CreateBucket = getEnvBool("REBILL_S3_CREATE_BUCKET", rp.S3CreateBucket)

	o := &cfg.Observability
	o.LogLevel = getEnv("REBILL_LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("REBILL_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("REBILL_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("REBILL_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("REBILL_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("REBILL_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("REBILL_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("REBILL_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("REBILL_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)

	sv := &cfg.Server
	sv.Host = getEnv("REBILL_HOST", sv.Host)
	sv.HealthPort = getEnv("REBILL_HEALTH_PORT", sv.HealthPort)
	sv.ReadTimeout = getEnvDuration("REBILL_READ_TIMEOUT", sv.ReadTimeout)
	sv.WriteTimeout = getEnvDuration("REBILL_WRITE_TIMEOUT", sv.WriteTimeout)
	sv.ShutdownTimeout = getEnvDuration("REBILL_SHUTDOWN_TIMEOUT", sv.ShutdownTimeout)
}

// getEnv returns an environment variable or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvInt64List parses a comma separated list of integers. A list with any
// malformed entry is ignored as a whole.
func getEnvInt64List(key string, defaultValue []int64) []int64 {
	items := getEnvList(key, nil)
	if items == nil {
		return defaultValue
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		n, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}
