package sqlite

import (
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

	UserID    string    `grove:"user_id,pk"`
	Balance   int64     `grove:"balance"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
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

	ID               string    `grove:"id,pk"`
	UserID           string    `grove:"user_id"`
	Kind             string    `grove:"kind"`
	Amount           int64     `grove:"amount"`
	Description      string    `grove:"description"`
	Reference        string    `grove:"reference"`
	ResultingBalance int64     `grove:"resulting_balance"`
	CreatedAt        time.Time `grove:"created_at"`
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

type subscriptionModel struct {
	grove.BaseModel `grove:"table:pointledger_subscriptions"`

	ID              string     `grove:"id,pk"`
	UserID          string     `grove:"user_id"`
	PlanType        string     `grove:"plan_type"`
	Status          string     `grove:"status"`
	MonthlyCost     int64      `grove:"monthly_cost"`
	StartDate       time.Time  `grove:"start_date"`
	EndDate         time.Time  `grove:"end_date"`
	NextBillingDate time.Time  `grove:"next_billing_date"`
	AutoRenewal     bool       `grove:"auto_renewal"`
	FailedAttempts  int        `grove:"failed_attempts"`
	CancelReason    string     `grove:"cancel_reason"`
	CanceledAt      *time.Time `grove:"canceled_at"`
	Version         int64      `grove:"version"`
	CreatedAt       time.Time  `grove:"created_at"`
	UpdatedAt       time.Time  `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:              s.ID.String(),
		UserID:          s.UserID,
		PlanType:        string(s.Plan),
		Status:          string(s.Status),
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
		return nil, err
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
