// Package config loads rebill configuration from defaults, an optional YAML
// file and environment variables.
//
// # Sources
//
// Later sources override earlier ones:
//
//  1. Default values
//  2. The YAML file named by REBILL_CONFIG_FILE
//  3. .env.local and .env in the working directory (never overriding the process environment)
//  4. REBILL_* environment variables
//
// # Common Variables
//
// Database and Redis:
//
//	REBILL_DATABASE_URL="postgres://localhost/rebill"
//	REBILL_DATABASE_REPLICA_URLS="postgres://replica1/rebill,postgres://replica2/rebill"
//	REBILL_REDIS_URL="redis://localhost:6379"
//
// Billing policy:
//
//	REBILL_MAX_FAILURES_ALLOWED="3"
//	REBILL_CHARGE_DELAY="2s"
//	REBILL_SCHEDULE="0 6 * * *"
//	REBILL_TIMEZONE="UTC"
//	REBILL_PAYMENT_PLAN_CATEGORIES="12,40"
//
// Gateway:
//
//	REBILL_GATEWAY_PROVIDER="stripe"  # stripe, rest
//	REBILL_STRIPE_API_KEY="sk_live_..."
//	REBILL_GATEWAY_URL="https://gateway.example.com"
//	REBILL_GATEWAY_RATE="5"
//
// Notifications and reports:
//
//	REBILL_NOTIFY_CHANNELS="log,webhook"  # log, webhook, nats
//	REBILL_WEBHOOK_URL="https://hooks.example.com/rebill"
//	REBILL_S3_ENABLED="true"
//	REBILL_S3_BUCKET="rebill-reports"
//
// # Usage
//
//	cfg, err := config.LoadConfig(*configFlag)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	loc, _ := cfg.Billing.Location()
//
// Invalid numbers and durations in the environment are ignored in favor of the
// previous value; Validate reports structural problems.
package config
