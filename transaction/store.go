package transaction

import "context"

type Store interface {
	ApplyTransaction(ctx context.Context, t *Transaction) (*Transaction, error)
	ListTransactions(ctx context.Context, userID string, opts ListOpts) ([]*Transaction, error)
}

type ListOpts struct {
	Kind   Kind
	Limit  int
	Offset int
}
