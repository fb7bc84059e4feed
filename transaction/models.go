// Package transaction defines the immutable ledger entries recorded for
// every balance change.
package transaction

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/types"
)

// Kind is the closed set of ledger mutations.
type Kind string

const (
	KindPurchase Kind = "PURCHASE"
	KindUse      Kind = "USE"
	KindRefund   Kind = "REFUND"
)

// ParseKind parses s case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("transaction: unknown kind %q", s)
	}
	return k, nil
}

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindPurchase, KindUse, KindRefund:
		return true
	}
	return false
}

// IsCredit reports whether k increases the balance.
func (k Kind) IsCredit() bool {
	return k == KindPurchase || k == KindRefund
}

// Delta returns the signed balance change for amount.
func (k Kind) Delta(amount types.Points) types.Points {
	if k.IsCredit() {
		return amount
	}
	return -amount
}

// Transaction is an append-only ledger entry. It is created exactly once per
// successful mutation and never updated.
type Transaction struct {
	ID               id.TransactionID `json:"transactionId"`
	UserID           string           `json:"userId"`
	Kind             Kind             `json:"kind"`
	Amount           types.Points     `json:"amount"`
	Description      string           `json:"description"`
	Reference        string           `json:"reference,omitempty"`
	ResultingBalance types.Points     `json:"resultingBalance"`
	CreatedAt        time.Time        `json:"timestamp"`
}

// Apply computes the balance that results from applying t to balance.
// It returns false when the result would leave [0, types.MaxBalance].
func (t *Transaction) Apply(balance types.Points) (types.Points, bool) {
	if t.Kind.IsCredit() {
		return balance.Credit(t.Amount)
	}
	return balance.Debit(t.Amount)
}
