package types

import (
	"testing"
	"time"
)

func TestEntityAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("KST", 9*60*60))
	e := EntityAt(at)

	if !e.CreatedAt.Equal(at) || !e.UpdatedAt.Equal(at) {
		t.Fatalf("expected both stamps at %v, got %v / %v", at, e.CreatedAt, e.UpdatedAt)
	}
	if e.CreatedAt.Location() != time.UTC {
		t.Errorf("expected UTC, got %v", e.CreatedAt.Location())
	}
}

func TestTouchAtNeverMovesBackwards(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e := EntityAt(at)

	e.TouchAt(at.Add(-time.Hour))
	if !e.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt moved backwards to %v", e.UpdatedAt)
	}

	e.TouchAt(at.Add(time.Hour))
	if !e.UpdatedAt.Equal(at.Add(time.Hour)) {
		t.Errorf("expected %v, got %v", at.Add(time.Hour), e.UpdatedAt)
	}
	if !e.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt changed to %v", e.CreatedAt)
	}
}
