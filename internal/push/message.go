package push

import (
	"encoding/json"
	"fmt"

	"github.com/spec-kit/helpdesk/internal/events"
)

// Message is one frame of the push stream.
type Message struct {
	EventType events.EventType `json:"eventType"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	// Recipient, when set, is the only subject the hub delivers the frame to.
	Recipient string           `json:"-"`
}

// FromEvent converts a domain event into its wire frame. The payload carries the
// concern id alongside the event payload so clients can log what changed.
func FromEvent(e events.Event) (Message, error) {
	body := struct {
		ID        string `json:"id"`
		ConcernID string `json:"concernId,omitempty"`
		Data      any    `json:"data,omitempty"`
	}{ID: e.ID, ConcernID: e.ConcernID, Data: e.Payload}

	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("encode push payload: %w", err)
	}
	return Message{EventType: e.Type, Payload: raw, Recipient: e.RecipientID}, nil
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode push message: %w", err)
	}
	if m.EventType == "" {
		return Message{}, fmt.Errorf("decode push message: missing eventType")
	}
	return m, nil
}
