package types

import "testing"

func TestPointsCredit(t *testing.T) {
	tests := []struct {
		name    string
		balance Points
		amount  Points
		want    Points
		ok      bool
	}{
		{"Empty account", 0, 50_000, 50_000, true},
		{"Exactly at cap", 900_000, 100_000, MaxBalance, true},
		{"One over cap", 900_001, 100_000, 900_001, false},
		{"Full account", MaxBalance, 1, MaxBalance, false},
		{"Zero amount", 100, 0, 100, false},
		{"Negative amount", 100, -5, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.balance.Credit(tt.amount)
			if ok != tt.ok {
				t.Errorf("ok: got %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("balance: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPointsDebit(t *testing.T) {
	tests := []struct {
		name    string
		balance Points
		amount  Points
		want    Points
		ok      bool
	}{
		{"Sufficient", 50_000, 29_900, 20_100, true},
		{"Exact", 29_900, 29_900, 0, true},
		{"Insufficient", 20_100, 29_900, 20_100, false},
		{"Empty", 0, 1, 0, false},
		{"Zero amount", 100, 0, 100, false},
		{"Negative amount", 100, -5, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.balance.Debit(tt.amount)
			if ok != tt.ok {
				t.Errorf("ok: got %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("balance: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPointsString(t *testing.T) {
	tests := []struct {
		points   Points
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{5_200, "5,200"},
		{29_900, "29,900"},
		{1_000_000, "1,000,000"},
		{-35_100, "-35,100"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.points.String(); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPointsInRange(t *testing.T) {
	if !Points(10).InRange(10, 100_000) {
		t.Error("lower bound should be inclusive")
	}
	if !Points(100_000).InRange(10, 100_000) {
		t.Error("upper bound should be inclusive")
	}
	if Points(9).InRange(10, 100_000) {
		t.Error("9 should be out of range")
	}
}

func TestSum(t *testing.T) {
	if got := Sum(50_000, 15_000, -29_900, -29_900); got != 5_200 {
		t.Errorf("got %d, want 5200", got)
	}
	if got := Sum(); got != 0 {
		t.Errorf("empty sum: got %d", got)
	}
}
