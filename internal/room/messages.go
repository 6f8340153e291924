package room

// Server -> client message types
const (
	MessageTypeState  = "state"
	MessageTypeAck    = "ack"
	MessageTypeError  = "error"
	MessageTypeAction = "action"
)

// ClientMessage is a frame received from a client.
type ClientMessage struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	RequestID string         `json:"requestId,omitempty"`
}

// ServerMessage is a frame sent to clients.
type ServerMessage struct {
	Type           string `json:"type"`
	Payload        any    `json:"payload,omitempty"`
	SourceClientID string `json:"sourceClientId,omitempty"`
	RequestID      string `json:"requestId,omitempty"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// actionPayload adds the action type to a copy of the client payload. A
// client-supplied actionType field is kept as sent.
func actionPayload(actionType string, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+1)
	out["actionType"] = actionType
	for k, v := range payload {
		out[k] = v
	}
	return out
}
