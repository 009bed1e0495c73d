package gemini

import "google.golang.org/genai"

// ServerMessage is one inbound message from the live session, flattened
// into independent optional fields. Any combination may be set on a single
// message; consumers handle each field on its own.
type ServerMessage struct {
	Audio            []byte // raw 16-bit PCM at 24kHz, nil if absent
	InputTranscript  string // incremental transcript of the user's speech
	OutputTranscript string // incremental transcript of the model's speech
	TurnComplete     bool
	Interrupted      bool
	ToolCall         bool // accepted and ignored; no feature here invokes tools
}

// translateServerMessage maps an SDK message onto ServerMessage. Parts of
// the model turn may split audio across several inline blobs; they are
// concatenated in order.
func translateServerMessage(resp *genai.LiveServerMessage) ServerMessage {
	var msg ServerMessage

	if resp.ToolCall != nil && len(resp.ToolCall.FunctionCalls) > 0 {
		msg.ToolCall = true
	}

	sc := resp.ServerContent
	if sc == nil {
		return msg
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				msg.Audio = append(msg.Audio, part.InlineData.Data...)
			}
		}
	}
	if sc.InputTranscription != nil {
		msg.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		msg.OutputTranscript = sc.OutputTranscription.Text
	}
	msg.TurnComplete = sc.TurnComplete
	msg.Interrupted = sc.Interrupted

	return msg
}
