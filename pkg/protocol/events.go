package protocol

import "encoding/json"

// Event types on the one-shot pairing push channel (SSE).
const (
	EventSessionStarted = "session-started"
)

// PushEvent is a single event from the pairing push channel. Only
// session-started events are meaningful; anything else is ignored.
type PushEvent struct {
	EventType string `json:"event_type"`
	SessionID int64  `json:"session_id"`
	Token     string `json:"token"`
}

// DecodePushEvent parses the data payload of an SSE event.
func DecodePushEvent(data []byte) (PushEvent, error) {
	var ev PushEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return PushEvent{}, err
	}
	return ev, nil
}
