// Package pointledger provides the point ledger and subscription engine of
// a web-novel platform.
//
// Like the rest of the module it is a library: embed it in your service and
// hand it a store, an event bus and a logger. It provides:
//
//   - A per-user point balance that never drops below zero or rises above
//     MaxBalance, with an append-only transaction history
//   - Purchase, use, refund and grant operations that publish typed domain
//     events only after they commit
//   - Monthly BASIC and PREMIUM subscriptions paid in points
//   - Suspension when a renewal cannot be paid, and reactivation as soon
//     as the user tops up
//   - Hourly renewal and daily expiry sweeps that can be aborted and resumed
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/pointledger"
//	    "github.com/xraph/pointledger/store/memory"
//	)
//
//	l := pointledger.New(memory.New())
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
//	tx, err := l.ChargePoints(ctx, pointledger.PurchaseRequest{
//	    UserID: "user-1",
//	    Amount: 50_000,
//	})
//
//	res, err := l.ActivateSubscription(ctx, "user-1", plan.Premium, true)
//	if err == nil && res.Outcome == pointledger.OutcomeInsufficientFunds {
//	    // tell the user how many points are missing
//	}
//
// # Events
//
// Every successful mutation is followed by one or more events from the
// event package. Delivery is at least once, so handlers must be
// idempotent. The engine itself subscribes to PointsAdded: a top-up that
// covers the monthly cost of a suspended subscription reactivates it.
//
// # Stores
//
// store/memory, store/postgres, store/sqlite, store/mongo and
// store/pgxstore implement store.Store. Each applies a transaction and its
// balance change atomically and keeps at most one live (ACTIVE or
// SUSPENDED) subscription per user.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41  // Transaction ID
//	sub_01h2xcejqtf2nbrexx3vqjhp41  // Subscription ID
//	evt_01h455vb4pex5vsknk084sn02q  // Event ID
package pointledger
