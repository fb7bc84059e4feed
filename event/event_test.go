package event_test

import (
	"strings"
	"testing"
	"time"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/types"
)

func TestNewAndDecode(t *testing.T) {
	e, err := event.New(event.TypePointsInsufficient, "user-1", event.PointsInsufficient{
		UserID:         "user-1",
		RequiredAmount: 29_900,
		CurrentBalance: 20_100,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !strings.HasPrefix(e.ID.String(), "evt_") {
		t.Errorf("expected evt_ prefix, got %q", e.ID.String())
	}
	if e.AggregateID != "user-1" {
		t.Errorf("aggregate: got %q", e.AggregateID)
	}

	if !strings.Contains(string(e.Payload), `"requiredAmount":29900`) {
		t.Errorf("payload not camelCase: %s", e.Payload)
	}

	p, err := event.Decode[event.PointsInsufficient](e)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.RequiredAmount != types.Points(29_900) || p.CurrentBalance != types.Points(20_100) {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestEnvelopeWire(t *testing.T) {
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	e, err := event.New(event.TypeSubscriptionActivated, "user-2", event.SubscriptionActivated{
		SubscriptionID: "sub_x",
		UserID:         "user-2",
		Plan:           "PREMIUM",
		EndDate:        end,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := event.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID.String() != e.ID.String() || got.Type != e.Type {
		t.Errorf("envelope mismatch: %+v vs %+v", got, e)
	}

	p, err := event.Decode[event.SubscriptionActivated](got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !p.EndDate.Equal(end) || p.Plan != "PREMIUM" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestUnmarshalUnknownType(t *testing.T) {
	if _, err := event.Unmarshal([]byte(`{"type":"Nope","payload":{}}`)); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestParseType(t *testing.T) {
	for _, typ := range event.Types() {
		got, err := event.ParseType(strings.ToLower(string(typ)))
		if err != nil {
			t.Fatalf("ParseType(%q): %v", typ, err)
		}
		if got != typ {
			t.Errorf("got %q, want %q", got, typ)
		}
	}
	if _, err := event.ParseType("PointsStolen"); err == nil {
		t.Error("expected error")
	}
}
