// Package storefront is the HTTP client for the e-commerce storefront that owns
// orders, licenses, prices and group discounts.
//
// Client implements billing.OrderService, billing.PricingService and
// billing.GroupPricingManager against the storefront's JSON API:
//
//	POST   /v1/orders                         record the order for a processed occurrence
//	POST   /v1/licenses                       extend a license to the next charge date
//	DELETE /v1/subscriptions/{order_line_id}  clean up a subscription whose order line is gone
//	POST   /v1/pricing/quote                  recompute the price of an occurrence
//	POST   /v1/group-pricing                  create group pricing after a renewal
//	POST   /v1/group-pricing/cancellations    schedule group pricing cancellation after failures
//
// Requests authenticate with OAuth2 client credentials when a client id is configured.
package storefront
