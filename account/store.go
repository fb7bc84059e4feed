package account

import "context"

type Store interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	EnsureAccount(ctx context.Context, userID string) (*Account, error)
}
