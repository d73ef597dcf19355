package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = validator.New()

// Validate checks struct constraints and the cross-field rules tags cannot express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	var errs []error
	if _, err := c.Billing.Location(); err != nil {
		errs = append(errs, fmt.Errorf("invalid billing timezone %q: %w", c.Billing.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.Billing.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid billing schedule %q: %w", c.Billing.Schedule, err))
	}
	if c.Billing.ChargeDelay < 0 {
		errs = append(errs, errors.New("charge delay must not be negative"))
	}
	if c.Billing.LockEnabled && c.Billing.LockTTL <= 0 {
		errs = append(errs, errors.New("lock TTL must be positive when the run lock is enabled"))
	}
	if c.Gateway.SharedRequests > 0 && c.Gateway.SharedWindow <= 0 {
		errs = append(errs, errors.New("shared gateway window must be positive"))
	}
	if c.Notify.Has("webhook") && c.Notify.WebhookURL == "" {
		errs = append(errs, errors.New("webhook URL is required when the webhook channel is enabled"))
	}
	if c.Notify.Has("nats") && c.Notify.NATSURL == "" {
		errs = append(errs, errors.New("NATS URL is required when the nats channel is enabled"))
	}
	if (c.Storefront.ClientID == "") != (c.Storefront.ClientSecret == "") {
		errs = append(errs, errors.New("storefront client id and secret must be set together"))
	}
	return errors.Join(errs...)
}
