// Package gateway provides billing.PaymentGateway implementations and the
// wrappers that every production gateway is composed with.
//
// # Gateways
//
//   - StripeGateway confirms an off-session PaymentIntent against a saved
//     payment method.
//   - RESTGateway charges a vaulted card through a JSON API authenticated with
//     OAuth2 client credentials.
//
// Both send the occurrence's idempotency key so that a retried request never
// collects twice for the same billing date. A card decline is reported as an
// unsuccessful ChargeResult; transport and server failures are returned as errors.
//
// # Wrappers
//
// Throttled spaces charges with a local token bucket and an optional window
// shared through Redis, so several rebill processes stay under one provider
// limit together. Instrumented adds a trace span and charge metrics:
//
//	var gw billing.PaymentGateway = gateway.NewStripeGateway(cfg, logger)
//	gw = gateway.NewThrottled(gw, rate.NewLimiter(5, 1), window, "stripe", logger)
//	gw = gateway.NewInstrumented(gw, "stripe", metrics, logger)
package gateway
