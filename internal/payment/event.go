package payment

import (
	"encoding/json"
	"fmt"
)

// Event is the envelope of a provider webhook. Data is kept raw; only the
// fields needed to acknowledge and log the event are decoded.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Charge is the subset of a charge.success payload that is logged.
type Charge struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("decode webhook event: %w", err)
	}
	if ev.Event == "" {
		return Event{}, fmt.Errorf("decode webhook event: missing event name")
	}
	return ev, nil
}

// Charge decodes Data as a charge payload.
func (e Event) Charge() (Charge, error) {
	var c Charge
	if err := json.Unmarshal(e.Data, &c); err != nil {
		return Charge{}, fmt.Errorf("decode charge: %w", err)
	}
	return c, nil
}
