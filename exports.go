package pointledger

import "github.com/xraph/pointledger/types"

// Re-export common types for convenience so users don't have to import types package.

// Points is re-exported from types package.
type Points = types.Points

// Entity is re-exported from types package.
type Entity = types.Entity

// MaxBalance is the upper bound of every account balance.
const MaxBalance = types.MaxBalance

// Re-export helpers
var (
	Sum       = types.Sum
	NewEntity = types.NewEntity
)
