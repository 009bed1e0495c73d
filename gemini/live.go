package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/calliope-voice/calliope/audio"
)

// DefaultLiveModel is the native-audio live model.
const DefaultLiveModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"

// LiveConfig carries the recognized session options.
type LiveConfig struct {
	Model               string
	Voice               string
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool
}

// Live owns one duplex connection to the Gemini Live API. Callbacks fire
// in arrival order from a single receive goroutine, never concurrently
// for the same session.
type Live struct {
	client  *genai.Client
	session *genai.Session

	OnOpen    func()
	OnMessage func(ServerMessage)
	OnError   func(err error)
	OnClose   func(clean bool, code string)

	mu     sync.RWMutex
	opened bool
	closed bool
}

// NewLive creates the client. A missing key fails immediately with a
// CredentialError so no connection is ever attempted without one.
func NewLive(ctx context.Context, apiKey string) (*Live, error) {
	if apiKey == "" {
		return nil, &CredentialError{}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Live{client: client}, nil
}

// Connect opens the live session. Transcription streams are enabled by
// the presence of their config, not a flag; absence disables them.
func (l *Live) Connect(ctx context.Context, cfg LiveConfig) error {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("live connection is closed")
	}
	if l.opened {
		l.mu.Unlock()
		return fmt.Errorf("live connection already open")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultLiveModel
	}

	connectConfig := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
	}
	if cfg.SystemInstruction != "" {
		connectConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{
				{Text: cfg.SystemInstruction},
			},
		}
	}
	if cfg.Voice != "" {
		connectConfig.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: cfg.Voice,
				},
			},
		}
	}
	if cfg.InputTranscription {
		connectConfig.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		connectConfig.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}

	session, err := l.client.Live.Connect(ctx, model, connectConfig)
	if err != nil {
		l.mu.Unlock()
		return classifyConnectError(err)
	}

	l.session = session
	l.opened = true
	l.mu.Unlock()

	log.Printf("✅ Connected to Gemini Live (%s)", model)
	l.emitOpen()
	return nil
}

// emitOpen fires OnOpen with no lock held, so the handler may use the
// connection (Send, SendText) immediately.
func (l *Live) emitOpen() {
	if l.OnOpen != nil {
		l.OnOpen()
	}
}

// StartReceiving begins the inbound message loop. Cancelling ctx ends
// the loop at the next message boundary and reports a clean close.
func (l *Live) StartReceiving(ctx context.Context) {
	go func() {
		for {
			if ctx.Err() != nil {
				l.emitClose(true, "context canceled")
				return
			}

			l.mu.RLock()
			if l.closed || l.session == nil {
				l.mu.RUnlock()
				l.emitClose(true, "client closed")
				return
			}
			session := l.session
			l.mu.RUnlock()

			// Receive blocks until a message arrives or the stream ends.
			resp, err := session.Receive()
			if err != nil {
				l.handleReceiveError(err)
				return
			}

			if l.OnMessage != nil {
				l.OnMessage(translateServerMessage(resp))
			}
		}
	}()
}

func (l *Live) handleReceiveError(err error) {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()

	if closed {
		// Local teardown raced the receive loop; not a remote failure.
		l.emitClose(true, "client closed")
		return
	}

	if isCleanClose(err) {
		l.emitClose(true, err.Error())
		return
	}

	log.Printf("❌ Gemini receive error: %v", err)
	if l.OnError != nil {
		l.OnError(err)
	}
	l.emitClose(false, err.Error())
}

func (l *Live) emitClose(clean bool, code string) {
	if l.OnClose != nil {
		l.OnClose(clean, code)
	}
}

func isCleanClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "close 1000") || strings.Contains(msg, "normal closure")
}

// Send forwards one encoded frame. Fire-and-forget: before open or after
// close the frame is silently dropped, never surfaced as an error.
func (l *Live) Send(blob audio.Blob) error {
	l.mu.RLock()
	session := l.session
	ready := l.opened && !l.closed
	l.mu.RUnlock()

	if !ready || session == nil {
		log.Printf("⚠️ Dropping audio frame: live session not open")
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return fmt.Errorf("invalid base64 frame: %w", err)
	}

	err = session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: blob.MimeType,
			Data:     data,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// SendText sends a text turn over the live session (used by the smoke
// harness; the voice path never calls this).
func (l *Live) SendText(text string) error {
	l.mu.RLock()
	session := l.session
	ready := l.opened && !l.closed
	l.mu.RUnlock()

	if !ready || session == nil {
		return fmt.Errorf("live session is closed or not connected")
	}

	turnComplete := true
	err := session.SendClientContent(genai.LiveSendClientContentParameters{
		Turns: []*genai.Content{
			{
				Role:  "user",
				Parts: []*genai.Part{{Text: text}},
			},
		},
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	return nil
}

// Close terminates the connection. Idempotent.
func (l *Live) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.session != nil {
		return l.session.Close()
	}
	return nil
}
