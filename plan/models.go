// Package plan holds the reading-plan price table used to bill subscriptions.
package plan

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xraph/pointledger/types"
)

// Type is the closed set of subscription plans.
type Type string

const (
	Basic   Type = "BASIC"
	Premium Type = "PREMIUM"
)

// ParseType parses s case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case Basic, Premium:
		return t, nil
	}
	return "", fmt.Errorf("plan: unknown plan type %q", s)
}

// Plan describes one subscription tier.
type Plan struct {
	Type        Type         `json:"planType"`
	Name        string       `json:"name"`
	MonthlyCost types.Points `json:"monthlyCost"`
}

// Catalog maps plan types to plans. It is safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	plans map[Type]Plan
}

// DefaultCatalog returns the built-in price table.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Plan{Type: Basic, Name: "Basic", MonthlyCost: 9_900},
		Plan{Type: Premium, Name: "Premium", MonthlyCost: 29_900},
	)
}

// NewCatalog builds a catalog from plans. Later entries replace earlier
// ones with the same type.
func NewCatalog(plans ...Plan) *Catalog {
	c := &Catalog{plans: make(map[Type]Plan, len(plans))}
	for _, p := range plans {
		c.plans[p.Type] = p
	}
	return c
}

// Set adds or replaces a plan.
func (c *Catalog) Set(p Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[p.Type] = p
}

// Get returns the plan for t.
func (c *Catalog) Get(t Type) (Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[t]
	return p, ok
}

// Price returns the monthly cost of t.
func (c *Catalog) Price(t Type) (types.Points, error) {
	p, ok := c.Get(t)
	if !ok {
		return 0, fmt.Errorf("plan: no price for %q", t)
	}
	return p.MonthlyCost, nil
}

// List returns all plans ordered by price.
func (c *Catalog) List() []Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonthlyCost < out[j].MonthlyCost })
	return out
}
