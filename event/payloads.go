package event

import (
	"time"

	"github.com/xraph/pointledger/types"
)

type PointsPurchased struct {
	UserID         string       `json:"userId"`
	Amount         types.Points `json:"amount"`
	PaymentID      string       `json:"paymentId"`
	CurrentBalance types.Points `json:"currentBalance"`
}

// PointsAdded is emitted for every credit. Reason is "purchase" for
// purchases and the caller-supplied reason for refunds and grants.
type PointsAdded struct {
	UserID         string       `json:"userId"`
	Amount         types.Points `json:"amount"`
	Reason         string       `json:"reason"`
	CurrentBalance types.Points `json:"currentBalance"`
}

type PointsUsed struct {
	UserID         string       `json:"userId"`
	Amount         types.Points `json:"amount"`
	BookID         string       `json:"bookId,omitempty"`
	Description    string       `json:"description,omitempty"`
	CurrentBalance types.Points `json:"currentBalance"`
}

type PointsInsufficient struct {
	UserID         string       `json:"userId"`
	RequiredAmount types.Points `json:"requiredAmount"`
	CurrentBalance types.Points `json:"currentBalance"`
}

type SubscriptionActivated struct {
	SubscriptionID string    `json:"subscriptionId"`
	UserID         string    `json:"userId"`
	Plan           string    `json:"plan"`
	EndDate        time.Time `json:"endDate"`
}

type SubscriptionCanceled struct {
	SubscriptionID string `json:"subscriptionId"`
	UserID         string `json:"userId"`
	Reason         string `json:"reason"`
}

type SubscriptionSuspended struct {
	SubscriptionID string `json:"subscriptionId"`
	UserID         string `json:"userId"`
	Reason         string `json:"reason"`
	AttemptCount   int    `json:"attemptCount"`
}

type SubscriptionRenewed struct {
	SubscriptionID string    `json:"subscriptionId"`
	UserID         string    `json:"userId"`
	Plan           string    `json:"plan"`
	EndDate        time.Time `json:"endDate"`
}

type SubscriptionExpired struct {
	SubscriptionID string    `json:"subscriptionId"`
	UserID         string    `json:"userId"`
	EndDate        time.Time `json:"endDate"`
}
