// Package types holds the value types shared by accounts, transactions and
// subscriptions.
package types

import "time"

// Entity carries row timestamps. Both are kept in UTC.
type Entity struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewEntity stamps both timestamps with the current time.
func NewEntity() Entity { return EntityAt(time.Now()) }

// EntityAt stamps both timestamps with at.
func EntityAt(at time.Time) Entity {
	at = at.UTC()
	return Entity{CreatedAt: at, UpdatedAt: at}
}

// Touch marks the entity as modified now.
func (e *Entity) Touch() { e.TouchAt(time.Now()) }

// TouchAt marks the entity as modified at at. UpdatedAt never moves
// backwards.
func (e *Entity) TouchAt(at time.Time) {
	if at = at.UTC(); at.After(e.UpdatedAt) {
		e.UpdatedAt = at
	}
}
