package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/pointledger/account"
	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/plan"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:pointledger_accounts"`

	UserID    string    `grove:"user_id,pk" bson:"_id"`
	Balance   int64     `grove:"balance"    bson:"balance"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func fromAccountModel(m *accountModel) *account.Account {
	return &account.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		UserID:  m.UserID,
		Balance: types.Points(m.Balance),
	}
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:pointledger_transactions"`

	ID               string    `grove:"id,pk"             bson:"_id"`
	UserID           string    `grove:"user_id"           bson:"user_id"`
	Kind             string    `grove:"kind"              bson:"kind"`
	Amount           int64     `grove:"amount"            bson:"amount"`
	Description      string    `grove:"description"       bson:"description"`
	Reference        string    `grove:"reference"         bson:"reference,omitempty"`
	ResultingBalance int64     `grove:"resulting_balance" bson:"resulting_balance"`
	CreatedAt        time.Time `grove:"created_at"        bson:"created_at"`
}

func toTransactionModel(t *transaction.Transaction) *transactionModel {
	return &transactionModel{
		ID:               t.ID.String(),
		UserID:           t.UserID,
		Kind:             string(t.Kind),
		Amount:           t.Amount.Int64(),
		Description:      t.Description,
		Reference:        t.Reference,
		ResultingBalance: t.ResultingBalance.Int64(),
		CreatedAt:        t.CreatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &transaction.Transaction{
		ID:               txID,
		UserID:           m.UserID,
		Kind:             transaction.Kind(m.Kind),
		Amount:           types.Points(m.Amount),
		Description:      m.Description,
		Reference:        m.Reference,
		ResultingBalance: types.Points(m.ResultingBalance),
		CreatedAt:        m.CreatedAt,
	}, nil
}

// ==================== Subscription models ====================

// subscriptionModel carries a derived Live flag so that a partial unique
// index can enforce one live subscription per user.
type subscriptionModel struct {
	grove.BaseModel `grove:"table:pointledger_subscriptions"`

	ID              string     `grove:"id,pk"             bson:"_id"`
	UserID          string     `grove:"user_id"           bson:"user_id"`
	PlanType        string     `grove:"plan_type"         bson:"plan_type"`
	Status          string     `grove:"status"            bson:"status"`
	Live            bool       `grove:"live"              bson:"live"`
	MonthlyCost     int64      `grove:"monthly_cost"      bson:"monthly_cost"`
	StartDate       time.Time  `grove:"start_date"        bson:"start_date"`
	EndDate         time.Time  `grove:"end_date"          bson:"end_date"`
	NextBillingDate time.Time  `grove:"next_billing_date" bson:"next_billing_date"`
	AutoRenewal     bool       `grove:"auto_renewal"      bson:"auto_renewal"`
	FailedAttempts  int        `grove:"failed_attempts"   bson:"failed_attempts"`
	CancelReason    string     `grove:"cancel_reason"     bson:"cancel_reason,omitempty"`
	CanceledAt      *time.Time `grove:"canceled_at"       bson:"canceled_at,omitempty"`
	Version         int64      `grove:"version"           bson:"version"`
	CreatedAt       time.Time  `grove:"created_at"        bson:"created_at"`
	UpdatedAt       time.Time  `grove:"updated_at"        bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:              s.ID.String(),
		UserID:          s.UserID,
		PlanType:        string(s.Plan),
		Status:          string(s.Status),
		Live:            s.Status.IsLive(),
		MonthlyCost:     s.MonthlyCost.Int64(),
		StartDate:       s.StartDate,
		EndDate:         s.EndDate,
		NextBillingDate: s.NextBillingDate,
		AutoRenewal:     s.AutoRenewal,
		FailedAttempts:  s.FailedAttempts,
		CancelReason:    s.CancelReason,
		CanceledAt:      s.CanceledAt,
		Version:         s.Version,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription id %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              subID,
		UserID:          m.UserID,
		Plan:            plan.Type(m.PlanType),
		Status:          subscription.Status(m.Status),
		MonthlyCost:     types.Points(m.MonthlyCost),
		StartDate:       m.StartDate,
		EndDate:         m.EndDate,
		NextBillingDate: m.NextBillingDate,
		AutoRenewal:     m.AutoRenewal,
		FailedAttempts:  m.FailedAttempts,
		CancelReason:    m.CancelReason,
		CanceledAt:      m.CanceledAt,
		Version:         m.Version,
	}, nil
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}
