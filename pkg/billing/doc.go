// Package billing holds the seat-accounting domain: subscription records,
// seat math, pricing and proration estimates, the access decision table and
// the mapping from Stripe lifecycle statuses onto local plan state.
//
// Everything in this package is pure. Persistence, Stripe calls and HTTP live
// under internal/billingcp.
package billing
