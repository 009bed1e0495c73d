package messages

import "encoding/json"

// ClientMessage represents a message from the frontend client
type ClientMessage struct {
	Type    string          `json:"type"` // "control", "prompt", "history"
	Payload json.RawMessage `json:"payload"`
}

// ControlPayload contains session control commands
type ControlPayload struct {
	Action string `json:"action"` // "start", "stop", "ping"
}

// PromptPayload contains a one-shot text generation request
type PromptPayload struct {
	Prompt       string `json:"prompt"`
	WebGrounding bool   `json:"webGrounding,omitempty"`
}

// HistoryRequestPayload asks for the stored transcript of a session
type HistoryRequestPayload struct {
	SessionID string `json:"sessionId"`
}
