// Package protocol defines the wire format for the cart backend's realtime
// and pairing channels. This package is importable by other kiosk tooling.
package protocol

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Message types pushed over the realtime channel.
const (
	TypeCartUpdated           = "cart-updated"
	TypeItemRead              = "item-read"
	TypeWeightIncreased       = "weight increased"
	TypeWeightDecreased       = "weight decreased"
	TypePaymentResult         = "payment-result"
	TypeConnectionEstablished = "connection-established"
)

// connectionGreeting is the raw acknowledgment frame the backend sends right
// after the socket opens. It carries no "type" field and is remapped to
// TypeConnectionEstablished during decode.
const connectionGreeting = "Web socket connection established"

// Message is a single frame from the realtime channel.
// Unknown types decode successfully; consumers must treat them as no-ops.
type Message struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Greeting string          `json:"Message,omitempty"`
}

// Decode parses a raw frame into a Message. The backend's greeting frame is
// recognized and remapped rather than passed through raw. Malformed JSON
// returns an error; the caller logs and drops the frame.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, err
	}
	if msg.Greeting == connectionGreeting {
		msg.Type = TypeConnectionEstablished
	}
	return msg, nil
}

// WeightDirection returns "increased" or "decreased" for weight-fault
// messages, or "" for anything else.
func (m Message) WeightDirection() string {
	switch m.Type {
	case TypeWeightIncreased:
		return "increased"
	case TypeWeightDecreased:
		return "decreased"
	}
	return ""
}

// Barcode extracts the scanned barcode from an item-read message.
// The backend has sent both {"barcode": 123} objects and bare numbers.
func (m Message) Barcode() (int64, bool) {
	if m.Type != TypeItemRead || len(m.Data) == 0 {
		return 0, false
	}

	var obj struct {
		Barcode int64 `json:"barcode"`
	}
	if err := json.Unmarshal(m.Data, &obj); err == nil && obj.Barcode != 0 {
		return obj.Barcode, true
	}

	var n int64
	if err := json.Unmarshal(m.Data, &n); err == nil && n != 0 {
		return n, true
	}

	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n, true
		}
	}

	return 0, false
}

// PaymentSuccess reports the outcome of a payment-result message.
// An absent or unparseable payload counts as success; the backend only
// pushes the frame once the payment finished.
func (m Message) PaymentSuccess() bool {
	if m.Type != TypePaymentResult {
		return false
	}
	if len(m.Data) == 0 {
		return true
	}

	var b bool
	if err := json.Unmarshal(m.Data, &b); err == nil {
		return b
	}

	var obj struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(m.Data, &obj); err == nil {
		return obj.Success
	}
	return true
}
