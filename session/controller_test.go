package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calliope-voice/calliope/audio"
	"github.com/calliope-voice/calliope/config"
	"github.com/calliope-voice/calliope/gemini"
)

type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	sendDelay  time.Duration
	connects   int
	closes     int
	sent       int
	onMessage  func(gemini.ServerMessage)
	onError    func(error)
	onClose    func(clean bool, code string)
}

func (t *fakeTransport) Connect(ctx context.Context, cfg gemini.LiveConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return t.connectErr
}

func (t *fakeTransport) StartReceiving(ctx context.Context) {}

func (t *fakeTransport) Send(blob audio.Blob) error {
	t.mu.Lock()
	delay := t.sendDelay
	t.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent++
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

type fakeMic struct {
	mu         sync.Mutex
	acquireErr error
	beginHook  func()
	begun      int
	stops      int
	onFrame    func([]float32)
}

func (m *fakeMic) Acquire(onFrame func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return m.acquireErr
	}
	m.onFrame = onFrame
	return nil
}

func (m *fakeMic) Begin() error {
	m.mu.Lock()
	hook := m.beginHook
	m.begun++
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (m *fakeMic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *fakeMic) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

type fakeSpeaker struct {
	mu      sync.Mutex
	played  int
	flushes int
	closes  int
}

func (s *fakeSpeaker) Play(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played++
}

func (s *fakeSpeaker) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *fakeSpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSpeaker) playCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

func (s *fakeSpeaker) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) byKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type testRig struct {
	controller *Controller
	transport  *fakeTransport
	mic        *fakeMic
	speaker    *fakeSpeaker
	recorder   *eventRecorder
	dials      int
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		transport: &fakeTransport{},
		mic:       &fakeMic{},
		speaker:   &fakeSpeaker{},
		recorder:  &eventRecorder{},
	}
	cfg := &config.Config{
		GeminiAPIKey:        "test-key",
		LiveModel:           "models/test",
		Voice:               "Zephyr",
		InputTranscription:  true,
		OutputTranscription: true,
	}
	c := NewController(cfg, nil, rig.recorder.record)
	c.dial = func(ctx context.Context, apiKey string, onMessage func(gemini.ServerMessage), onError func(error), onClose func(clean bool, code string)) (liveTransport, error) {
		rig.dials++
		rig.transport.onMessage = onMessage
		rig.transport.onError = onError
		rig.transport.onClose = onClose
		return rig.transport, nil
	}
	c.openMic = func() (microphone, error) { return rig.mic, nil }
	c.openSpeaker = func() (playbackDevice, error) { return rig.speaker, nil }
	rig.controller = c
	return rig
}

func TestControllerStartStop(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.controller.Start(t.Context()))
	assert.Equal(t, StateActive, rig.controller.State())
	assert.NotEmpty(t, rig.controller.SessionID())

	require.NoError(t, rig.controller.Stop())
	assert.Equal(t, StateIdle, rig.controller.State())
	assert.Equal(t, 1, rig.transport.closeCount())
	assert.Equal(t, 1, rig.mic.stopCount())
	assert.Equal(t, 1, rig.speaker.closeCount())
}

func TestControllerStartWhileActive(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.controller.Start(t.Context()))
	err := rig.controller.Start(t.Context())
	assert.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, rig.controller.Stop())
}

func TestControllerStopWhileIdle(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.controller.Stop())
	assert.Equal(t, StateIdle, rig.controller.State())
	assert.Equal(t, 0, rig.transport.closeCount())
}

func TestControllerDoubleStopReleasesOnce(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.controller.Start(t.Context()))
	require.NoError(t, rig.controller.Stop())
	require.NoError(t, rig.controller.Stop())

	assert.Equal(t, 1, rig.transport.closeCount())
	assert.Equal(t, 1, rig.mic.stopCount())
	assert.Equal(t, 1, rig.speaker.closeCount())
}

func TestControllerMicDenialSkipsTransport(t *testing.T) {
	rig := newTestRig(t)
	rig.mic.acquireErr = audio.ErrPermissionDenied

	err := rig.controller.Start(t.Context())
	require.ErrorIs(t, err, audio.ErrPermissionDenied)
	assert.Equal(t, StateIdle, rig.controller.State())
	assert.Equal(t, 0, rig.dials, "transport must not be dialed when the microphone is denied")
}

func TestControllerConnectFailureCleansUp(t *testing.T) {
	rig := newTestRig(t)
	rig.transport.connectErr = &gemini.NetworkError{Err: context.DeadlineExceeded}

	err := rig.controller.Start(t.Context())
	require.Error(t, err)
	var netErr *gemini.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, StateIdle, rig.controller.State())
	assert.Equal(t, 1, rig.mic.stopCount())
	assert.Equal(t, 1, rig.speaker.closeCount())
}

func TestControllerForwardsCaptureFrames(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.controller.Start(t.Context()))
	defer rig.controller.Stop()

	frame := make([]float32, audio.FrameSize)
	rig.mic.onFrame(frame)
	rig.mic.onFrame(frame)

	require.Eventually(t, func() bool {
		return rig.transport.sentCount() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestControllerPlaysModelAudio(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.controller.Start(t.Context()))
	defer rig.controller.Stop()

	rig.transport.onMessage(gemini.ServerMessage{Audio: make([]byte, 4800)})

	require.Eventually(t, func() bool {
		return rig.speaker.playCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestControllerTurnCompleteFlushesTranscript(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.controller.Start(t.Context()))
	defer rig.controller.Stop()

	rig.transport.onMessage(gemini.ServerMessage{InputTranscript: "turn on "})
	rig.transport.onMessage(gemini.ServerMessage{InputTranscript: "the lights"})
	rig.transport.onMessage(gemini.ServerMessage{OutputTranscript: "Done."})
	rig.transport.onMessage(gemini.ServerMessage{TurnComplete: true})

	require.Eventually(t, func() bool {
		return len(rig.recorder.byKind(EventTranscript)) == 2
	}, time.Second, 5*time.Millisecond)

	entries := rig.controller.TranscriptEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, SpeakerUser, entries[0].Speaker)
	assert.Equal(t, "turn on the lights", entries[0].Text)
	assert.Equal(t, SpeakerModel, entries[1].Speaker)
	assert.Equal(t, "Done.", entries[1].Text)
}

func TestControllerUncleanCloseStopsWithError(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.controller.Start(t.Context()))

	rig.transport.onClose(false, "abnormal closure")

	require.Eventually(t, func() bool {
		return rig.controller.State() == StateIdle
	}, time.Second, 5*time.Millisecond)

	errs := rig.recorder.byKind(EventError)
	require.Len(t, errs, 1)
	var sessErr *SessionError
	assert.ErrorAs(t, errs[0].Err, &sessErr)
	assert.Equal(t, 1, rig.transport.closeCount())
}

func TestControllerMalformedAudioKeepsSessionAlive(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.controller.Start(t.Context()))
	defer rig.controller.Stop()

	rig.transport.onMessage(gemini.ServerMessage{Audio: make([]byte, 3)})
	rig.transport.onMessage(gemini.ServerMessage{Audio: make([]byte, 4800)})

	require.Eventually(t, func() bool {
		return rig.speaker.playCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, rig.controller.State())
}

func TestControllerTransportFailureDuringStart(t *testing.T) {
	rig := newTestRig(t)
	// Server rejects the setup message right after connect: the error and
	// unclean close land while Start is still bringing the mic up.
	rig.mic.beginHook = func() {
		rig.transport.onError(errors.New("setup rejected"))
		rig.transport.onClose(false, "abnormal closure")
	}

	require.NoError(t, rig.controller.Start(t.Context()))

	require.Eventually(t, func() bool {
		return rig.controller.State() == StateIdle
	}, time.Second, 5*time.Millisecond)
	require.Len(t, rig.recorder.byKind(EventError), 1)
	assert.Equal(t, 1, rig.transport.closeCount())
	assert.Equal(t, 1, rig.mic.stopCount())
	assert.Equal(t, 1, rig.speaker.closeCount())
}

func TestControllerStopKeepsQueuedTranscript(t *testing.T) {
	rig := newTestRig(t)
	rig.transport.sendDelay = 100 * time.Millisecond
	require.NoError(t, rig.controller.Start(t.Context()))

	// A slow frame send occupies the actor; the delta queued behind it
	// must still reach the transcript before the stop-path flush.
	rig.mic.onFrame(make([]float32, audio.FrameSize))
	rig.transport.onMessage(gemini.ServerMessage{InputTranscript: "hello"})

	require.NoError(t, rig.controller.Stop())

	entries := rig.controller.TranscriptEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, SpeakerUser, entries[0].Speaker)
	assert.Equal(t, "hello", entries[0].Text)
}

func TestControllerIgnoresToolCalls(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.controller.Start(t.Context()))
	defer rig.controller.Stop()

	rig.transport.onMessage(gemini.ServerMessage{ToolCall: true})

	// A frame posted afterwards proves the tool call has been consumed.
	rig.mic.onFrame(make([]float32, audio.FrameSize))
	require.Eventually(t, func() bool {
		return rig.transport.sentCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, StateActive, rig.controller.State())
	assert.Empty(t, rig.recorder.byKind(EventError))
	assert.Equal(t, 0, rig.speaker.playCount())
	assert.Empty(t, rig.controller.TranscriptEntries())
}

func TestControllerStopFlushesPendingTranscript(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.controller.Start(t.Context()))

	rig.transport.onMessage(gemini.ServerMessage{InputTranscript: "hello"})
	require.Eventually(t, func() bool {
		c := rig.controller
		c.mu.Lock()
		transcript := c.transcript
		c.mu.Unlock()
		return transcript.Pending()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, rig.controller.Stop())

	entries := rig.controller.TranscriptEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Text)
}
