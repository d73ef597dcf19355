// Package billing runs recurring card-on-file charges for subscription products.
//
// # Overview
//
// Each stored subscription occurrence ("slot") is charged once when it falls due.
// The Engine decides what happens to a single due occurrence and returns an Outcome;
// the Runner walks the due set for a day, paces calls toward the payment gateway
// and aggregates the outcomes into a RunResult for reporting.
//
// # Outcomes
//
//   - success: the card was charged (or the recomputed total was zero) and the next
//     occurrence was scheduled unless the subscription has no schedule or is finished
//   - failure: the charge was declined; a retry is scheduled for tomorrow until the
//     failure streak reaches RunContext.MaxFailuresAllowed, then a final notice is sent
//   - skipped_by_flag: the merchant skipped this cycle; a zero-amount order keeps the
//     license valid and the next cycle is scheduled from today
//   - skipped_no_card: no usable card exists; nothing is charged or moved
//   - errored: the occurrence could not be processed this run (bad schedule, pricing
//     or card lookup failure); it is left untouched for the next run
//
// Store errors are not contained: they abort the run and the partial result is
// returned together with the error.
//
// # Intended billing date
//
// Every occurrence carries the date its charge conceptually covers. When the stored
// attribute is missing it is approximated by moving the scheduled date back one day
// per prior consecutive failure. This matches how retries are scheduled (one day
// apart) but drifts when retries were not processed daily.
//
// # Usage Example
//
//	engine := billing.NewEngine(billing.Dependencies{
//		Store:    store,
//		Gateway:  gw,
//		Orders:   shop,
//		Pricing:  shop,
//		Cards:    cards,
//		Groups:   shop,
//		Notifier: notifier,
//		Logger:   logger,
//	})
//	runner := billing.NewRunner(store, engine, billing.FixedDelay(2*time.Second), sink, logger)
//	result, err := runner.Run(ctx, billing.NewRunContext(time.Now(), 3))
//
// # Related Packages
//
//   - pkg/cycle: date arithmetic and card expiry
//   - pkg/storage/postgres: Store and CardDirectory implementations
//   - pkg/gateway: PaymentGateway implementations
//   - pkg/storefront: order, license, pricing and group pricing collaborators
package billing
