// Package event defines the domain events emitted by the point ledger and
// the subscription engine. Every event travels as an Event envelope with a
// JSON payload whose schema is fixed by its Type.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/pointledger/id"
)

// Type tags an event and selects its payload schema.
type Type string

const (
	TypePointsPurchased       Type = "PointsPurchased"
	TypePointsAdded           Type = "PointsAdded"
	TypePointsUsed            Type = "PointsUsed"
	TypePointsInsufficient    Type = "PointsInsufficient"
	TypeSubscriptionActivated Type = "SubscriptionActivated"
	TypeSubscriptionCanceled  Type = "SubscriptionCanceled"
	TypeSubscriptionSuspended Type = "SubscriptionSuspended"
	TypeSubscriptionRenewed   Type = "SubscriptionRenewed"
	TypeSubscriptionExpired   Type = "SubscriptionExpired"
)

var allTypes = []Type{
	TypePointsPurchased,
	TypePointsAdded,
	TypePointsUsed,
	TypePointsInsufficient,
	TypeSubscriptionActivated,
	TypeSubscriptionCanceled,
	TypeSubscriptionSuspended,
	TypeSubscriptionRenewed,
	TypeSubscriptionExpired,
}

// Types returns every known event type.
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// IsValid reports whether t is a known event type.
func (t Type) IsValid() bool {
	for _, k := range allTypes {
		if k == t {
			return true
		}
	}
	return false
}

// ParseType matches s against the known types, ignoring case.
func ParseType(s string) (Type, error) {
	for _, k := range allTypes {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("event: unknown type %q", s)
}

// Event is the envelope carried by every transport.
type Event struct {
	ID          id.EventID      `json:"eventId"`
	Type        Type            `json:"type"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// New builds an envelope around payload. AggregateID is the user or
// subscription the event belongs to; transports use it to keep ordering.
func New(t Type, aggregateID string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s payload: %w", t, err)
	}
	return &Event{
		ID:          id.NewEventID(),
		Type:        t,
		AggregateID: aggregateID,
		Payload:     raw,
		OccurredAt:  time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload of e into T.
func Decode[T any](e *Event) (T, error) {
	var out T
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return out, fmt.Errorf("event: decode %s %s: %w", e.Type, e.ID, err)
	}
	return out, nil
}

// Marshal encodes the whole envelope for the wire.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an envelope previously produced by Marshal.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("event: unmarshal envelope: %w", err)
	}
	if !e.Type.IsValid() {
		return &e, fmt.Errorf("event: unknown type %q", e.Type)
	}
	return &e, nil
}
