// Package notify delivers customer notifications raised by the billing engine.
//
// # Notifiers
//
// All notifiers implement billing.Notifier:
//
//   - WebhookNotifier posts a signed JSON event to an HTTP endpoint and retries
//     transient failures with exponential backoff
//   - NATSNotifier publishes the event on rebill.notifications.<kind>
//   - LogNotifier writes the event to the process log
//   - Multi fans one notification out to several notifiers
//
// # Webhook Signature
//
// Every webhook carries X-Rebill-Signature: sha256=<hex HMAC of the body>.
// Receivers check it with VerifySignature:
//
//	sig := r.Header.Get(notify.SignatureHeader)
//	if !notify.VerifySignature(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// # Retry Policy
//
// Exponential backoff: 1s, 2s, 4s, capped at 30s, four attempts in total.
// Client errors other than 429 are not retried.
//
// # Related Packages
//
//   - pkg/async: background delivery
//   - pkg/httputil: HTTP transport
package notify
