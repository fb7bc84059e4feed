// Package account defines the per-user point balance owned by the ledger.
package account

import "github.com/xraph/pointledger/types"

// Account is the ledger owner for one user. Balance is always within
// [0, types.MaxBalance].
type Account struct {
	types.Entity
	UserID  string       `json:"userId"`
	Balance types.Points `json:"balance"`
}

// New returns a zero-balance account for userID.
func New(userID string) *Account {
	return &Account{
		Entity: types.NewEntity(),
		UserID: userID,
	}
}
