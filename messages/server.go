package messages

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeSessionFailed  = "SESSION_FAILED"
	ErrCodeMicDenied      = "MIC_DENIED"
	ErrCodeCredential     = "CREDENTIAL_ERROR"
	ErrCodeNetwork        = "NETWORK_ERROR"
	ErrCodePromptFailed   = "PROMPT_FAILED"
	ErrCodeBufferFull     = "BUFFER_FULL"
)

// Message types
const (
	TypeStatus       = "status"
	TypeTranscript   = "transcript"
	TypeError        = "error"
	TypePromptResult = "prompt_result"
	TypeHistory      = "history"
)

// ServerMessage represents a message sent to the frontend client
type ServerMessage struct {
	Type      string      `json:"type"` // "status", "transcript", "error", "prompt_result", "history"
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload"`
}

// StatusPayload contains session status updates
type StatusPayload struct {
	Status  string `json:"status"` // "starting", "listening", "turn_complete", "interrupted", "stopped"
	Message string `json:"message,omitempty"`
}

// TranscriptPayload contains one committed transcript entry
type TranscriptPayload struct {
	Speaker string `json:"speaker"` // "user" or "model"
	Text    string `json:"text"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SourceLinkPayload is one grounding source attached to a prompt result
type SourceLinkPayload struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// PromptResultPayload contains a one-shot text generation result
type PromptResultPayload struct {
	Text        string              `json:"text"`
	SourceLinks []SourceLinkPayload `json:"sourceLinks,omitempty"`
}

// HistoryPayload contains the stored transcript of a past session
type HistoryPayload struct {
	SessionID string              `json:"sessionId"`
	Entries   []TranscriptPayload `json:"entries"`
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewTranscriptMessage creates a transcript entry message
func NewTranscriptMessage(sessionID, speaker, text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeTranscript,
		SessionID: sessionID,
		Payload: TranscriptPayload{
			Speaker: speaker,
			Text:    text,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// NewPromptResultMessage creates a prompt result message
func NewPromptResultMessage(text string, links []SourceLinkPayload) *ServerMessage {
	return &ServerMessage{
		Type: TypePromptResult,
		Payload: PromptResultPayload{
			Text:        text,
			SourceLinks: links,
		},
	}
}

// NewHistoryMessage creates a stored transcript message
func NewHistoryMessage(sessionID string, entries []TranscriptPayload) *ServerMessage {
	return &ServerMessage{
		Type: TypeHistory,
		Payload: HistoryPayload{
			SessionID: sessionID,
			Entries:   entries,
		},
	}
}
