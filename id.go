package pointledger

import "github.com/xraph/pointledger/id"

// ID is the primary identifier type for all pointledger entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
