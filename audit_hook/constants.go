package audithook

// Action constants for audit events.
const (
	// Point actions
	ActionPointsPurchased = "points.purchased"
	ActionPointsUsed      = "points.used"
	ActionPointsRefunded  = "points.refunded"
	ActionPointsRejected  = "points.rejected"

	// Subscription actions
	ActionSubscriptionActivated   = "subscription.activated"
	ActionSubscriptionRenewed     = "subscription.renewed"
	ActionSubscriptionSuspended   = "subscription.suspended"
	ActionSubscriptionReactivated = "subscription.reactivated"
	ActionSubscriptionCanceled    = "subscription.canceled"
	ActionSubscriptionExpired     = "subscription.expired"

	// Delivery actions
	ActionEventDeadLettered = "event.dead_lettered"
)

// Resource constants for audit events.
const (
	ResourceAccount      = "account"
	ResourceSubscription = "subscription"
	ResourceEvent        = "event"
)

// Category constants for audit events.
const (
	CategoryLedger       = "ledger"
	CategorySubscription = "subscription"
	CategoryDelivery     = "delivery"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
