// Package wire defines the gateway/client message framing described in
// spec.md §4.1 and §6: a self-describing JSON record with an event type,
// an event id, a session id, and a typed payload.
package wire

import "encoding/json"

// Frame is the wire-level record exchanged between gateway and client.
type Frame struct {
	EventType   string          `json:"eventType"`
	EventID     string          `json:"eventId"`
	SessionID   string          `json:"sessionId"`
	RequestType string          `json:"requestType,omitempty"` // error frames only
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload and returns a Frame carrying it.
func NewFrame(eventType, eventID, sessionID string, payload interface{}) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		EventType: eventType,
		EventID:   eventID,
		SessionID: sessionID,
		Payload:   raw,
	}, nil
}

// NewErrorFrame builds the error-variant frame described in spec.md §4.1:
// it echoes the original eventId/sessionId, carries the original eventType
// in requestType, and its own eventType is <domain>.error.
func NewErrorFrame(domain, originalEventType, eventID, sessionID, message string) Frame {
	raw, _ := json.Marshal(ErrorPayload{Message: message})
	return Frame{
		EventType:   domain + ".error",
		EventID:     eventID,
		SessionID:   sessionID,
		RequestType: originalEventType,
		Payload:     raw,
	}
}

// ErrorPayload is the payload of every error frame. It must never expose
// stack traces or upstream provider names (spec.md §7).
type ErrorPayload struct {
	Message string `json:"message"`
}

// Decode unmarshals f.Payload into v.
func (f Frame) Decode(v interface{}) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}
