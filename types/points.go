package types

import (
	"strconv"
	"strings"
)

// MaxBalance is the upper bound of any account balance.
const MaxBalance Points = 1_000_000

// Points is an integral amount of platform points. Balances, transaction
// amounts and plan prices are all expressed in Points.
type Points int64

// Credit returns p+amount and reports whether the result stays within
// MaxBalance. Non-positive amounts and overflow leave p unchanged.
func (p Points) Credit(amount Points) (Points, bool) {
	if amount <= 0 || amount > MaxBalance-p {
		return p, false
	}
	return p + amount, true
}

// Debit returns p-amount and reports whether the result stays non-negative.
// Non-positive amounts and underflow leave p unchanged.
func (p Points) Debit(amount Points) (Points, bool) {
	if amount <= 0 || amount > p {
		return p, false
	}
	return p - amount, true
}

// IsPositive returns true if p is greater than zero.
func (p Points) IsPositive() bool { return p > 0 }

// InRange reports whether p is within [lo, hi].
func (p Points) InRange(lo, hi Points) bool { return p >= lo && p <= hi }

// Int64 returns p as a plain integer.
func (p Points) Int64() int64 { return int64(p) }

// String renders p with thousands separators, e.g. "29,900".
func (p Points) String() string {
	s := strconv.FormatInt(int64(p), 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}

	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Sum adds the given amounts.
func Sum(values ...Points) Points {
	var total Points
	for _, v := range values {
		total += v
	}
	return total
}
