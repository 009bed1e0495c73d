package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/calliope-voice/calliope/audio"
	"github.com/calliope-voice/calliope/config"
	"github.com/calliope-voice/calliope/gemini"
)

// ErrSessionActive is returned by Start when a session is already running.
var ErrSessionActive = errors.New("a live session is already running")

// SessionError is the single user-visible failure of a live session.
type SessionError struct {
	Reason string
	Err    error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("session failed: %s", e.Reason)
}

func (e *SessionError) Unwrap() error { return e.Err }

// State is the single source of truth for the session lifecycle.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// EventKind tags a controller notification.
type EventKind string

const (
	EventStatus     EventKind = "status"
	EventTranscript EventKind = "transcript"
	EventError      EventKind = "error"
)

// Event is a notification pushed to the UI layer.
type Event struct {
	Kind    EventKind
	Status  string // for EventStatus: starting, listening, turn_complete, interrupted, stopped
	Message string
	Err     error            // for EventError
	Entry   *TranscriptEntry // for EventTranscript
}

// eventQueueSize bounds the session event queue; one entry per capture
// frame or inbound message, so 256 covers many seconds of backlog.
const eventQueueSize = 256

// liveTransport is the controller's view of the duplex connection.
type liveTransport interface {
	Connect(ctx context.Context, cfg gemini.LiveConfig) error
	StartReceiving(ctx context.Context)
	Send(blob audio.Blob) error
	Close() error
}

// microphone is the controller's view of the capture pipeline.
type microphone interface {
	Acquire(onFrame func([]float32)) error
	Begin() error
	Stop()
}

// playbackDevice is a schedulable sink that can be disposed.
type playbackDevice interface {
	audio.Sink
	Close() error
}

// sessionEvent is one item on the session's inbound queue. The capture
// frame callback and the transport message callback race against each
// other; both post here and a single goroutine consumes, so all session
// state is mutated from one place.
type sessionEvent struct {
	frame  []float32
	msg    *gemini.ServerMessage
	err    error
	closed bool
	clean  bool
	code   string
}

type teardownStep struct {
	name string
	run  func() error
}

// Controller orchestrates start and stop across the capture pipeline,
// the transport, the playback scheduler, and the transcript. It is the
// sole owner of every session-scoped resource: at most one live session
// exists, and teardown releases each resource exactly once.
type Controller struct {
	cfg     *config.Config
	history *History
	notify  func(Event)

	// factory seams; replaced in tests
	dial        func(ctx context.Context, apiKey string, onMessage func(gemini.ServerMessage), onError func(error), onClose func(clean bool, code string)) (liveTransport, error)
	openMic     func() (microphone, error)
	openSpeaker func() (playbackDevice, error)
	newClock    func() audio.Clock

	// op serializes start/stop sequences: only one may be in flight.
	op sync.Mutex

	mu         sync.Mutex
	state      State
	sessionID  string
	transcript *Transcript
	queue      chan sessionEvent
	done       chan struct{}
	exited     chan struct{}
	teardown   []teardownStep
}

// NewController creates an idle controller. notify may be nil.
func NewController(cfg *config.Config, history *History, notify func(Event)) *Controller {
	return &Controller{
		cfg:     cfg,
		history: history,
		notify:  notify,
		dial: func(ctx context.Context, apiKey string, onMessage func(gemini.ServerMessage), onError func(error), onClose func(clean bool, code string)) (liveTransport, error) {
			live, err := gemini.NewLive(ctx, apiKey)
			if err != nil {
				return nil, err
			}
			live.OnMessage = onMessage
			live.OnError = onError
			live.OnClose = onClose
			return live, nil
		},
		openMic: func() (microphone, error) {
			return audio.NewCapture()
		},
		openSpeaker: func() (playbackDevice, error) {
			return audio.NewSpeaker()
		},
		newClock: audio.NewSystemClock,
	}
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the current (or most recent) session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// TranscriptEntries returns the transcript log of the current or most
// recent session.
func (c *Controller) TranscriptEntries() []TranscriptEntry {
	c.mu.Lock()
	transcript := c.transcript
	c.mu.Unlock()
	if transcript == nil {
		return nil
	}
	return transcript.Entries()
}

// Start brings a session up: microphone first (permission point, no
// transport attempt on denial), then the transport, then streaming.
// Valid only from Idle.
func (c *Controller) Start(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.state = StateStarting
	c.mu.Unlock()

	sessionID := uuid.New().String()
	c.emit(Event{Kind: EventStatus, Status: "starting"})

	mic, err := c.openMic()
	if err != nil {
		c.setState(StateIdle)
		return err
	}
	if err := mic.Acquire(func(frame []float32) {
		c.post(sessionEvent{frame: frame})
	}); err != nil {
		mic.Stop()
		c.setState(StateIdle)
		return err
	}

	speaker, err := c.openSpeaker()
	if err != nil {
		mic.Stop()
		c.setState(StateIdle)
		return err
	}
	scheduler := audio.NewScheduler(c.newClock(), speaker, audio.OutputSampleRate)
	transcript := NewTranscript()

	onMessage := func(msg gemini.ServerMessage) { c.post(sessionEvent{msg: &msg}) }
	onError := func(err error) { c.post(sessionEvent{err: err}) }
	onClose := func(clean bool, code string) { c.post(sessionEvent{closed: true, clean: clean, code: code}) }

	transport, err := c.dial(ctx, c.cfg.GeminiAPIKey, onMessage, onError, onClose)
	if err != nil {
		_ = speaker.Close()
		mic.Stop()
		c.setState(StateIdle)
		return err
	}
	if err := transport.Connect(ctx, gemini.LiveConfig{
		Model:               c.cfg.LiveModel,
		Voice:               c.cfg.Voice,
		SystemInstruction:   c.cfg.SystemInstruction,
		InputTranscription:  c.cfg.InputTranscription,
		OutputTranscription: c.cfg.OutputTranscription,
	}); err != nil {
		_ = transport.Close()
		_ = speaker.Close()
		mic.Stop()
		c.setState(StateIdle)
		return err
	}

	queue := make(chan sessionEvent, eventQueueSize)
	done := make(chan struct{})
	exited := make(chan struct{})

	c.mu.Lock()
	c.sessionID = sessionID
	c.transcript = transcript
	c.queue = queue
	c.done = done
	c.exited = exited
	// Ownership list: teardown runs these in order, each at most once,
	// each swallowing its own error so cleanup is never short-circuited.
	c.teardown = []teardownStep{
		{name: "transport", run: transport.Close},
		{name: "microphone", run: func() error { mic.Stop(); return nil }},
		{name: "playback", run: func() error {
			scheduler.Interrupt()
			return speaker.Close()
		}},
		{name: "transcript", run: func() error {
			c.flushTurn(transcript, sessionID)
			return nil
		}},
	}
	c.mu.Unlock()

	go c.run(queue, done, exited, transport, scheduler, transcript, sessionID)
	transport.StartReceiving(ctx)

	if err := mic.Begin(); err != nil {
		c.finishStop()
		return err
	}

	c.setState(StateActive)
	log.Printf("🎤 [%s] Live session active", shortID(sessionID))
	c.emit(Event{Kind: EventStatus, Status: "listening"})
	return nil
}

// Stop tears the session down. Valid from any state; calling it while
// Idle, twice, or from inside a callback is a safe no-op on top of the
// first teardown.
func (c *Controller) Stop() error {
	c.op.Lock()
	defer c.op.Unlock()
	c.finishStop()
	return nil
}

// finishStop runs the ownership list and returns the controller to Idle.
// Caller must hold op.
func (c *Controller) finishStop() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	steps := c.teardown
	c.teardown = nil
	done := c.done
	exited := c.exited
	sessionID := c.sessionID
	c.queue = nil
	c.done = nil
	c.exited = nil
	c.mu.Unlock()

	// Signal the actor and wait for it to drain the backlog before any
	// resource goes away: transcript deltas still sitting in the queue
	// must reach the buffers ahead of the flush step below.
	if done != nil {
		close(done)
		<-exited
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			log.Printf("⚠️ [%s] Teardown step %q failed: %v", shortID(sessionID), step.name, err)
		}
	}

	c.setState(StateIdle)
	log.Printf("🔌 [%s] Live session stopped", shortID(sessionID))
	c.emit(Event{Kind: EventStatus, Status: "stopped"})
}

// run is the session actor: the only goroutine that touches the
// scheduler, the transcript buffers, and the outbound frame path, so the
// two callback sources may interleave arbitrarily without locks around
// session state. When teardown begins it drains everything already
// queued before exiting, so buffered transcript deltas reach the flush.
func (c *Controller) run(queue chan sessionEvent, done, exited chan struct{}, transport liveTransport, scheduler *audio.Scheduler, transcript *Transcript, sessionID string) {
	defer close(exited)
	failed := false
	for {
		select {
		case <-done:
			for {
				select {
				case ev := <-queue:
					c.handleEvent(ev, &failed, transport, scheduler, transcript, sessionID)
				default:
					return
				}
			}
		case ev := <-queue:
			c.handleEvent(ev, &failed, transport, scheduler, transcript, sessionID)
		}
	}
}

// handleEvent runs on the actor goroutine only. Terminal transport
// events initiate teardown asynchronously: finishStop waits for this
// goroutine, so stopping inline here would deadlock. failed is
// actor-local and deduplicates the error surfaced for one session; a
// terminal event arriving during Starting is held by the op mutex until
// Start finishes, then tears the session down.
func (c *Controller) handleEvent(ev sessionEvent, failed *bool, transport liveTransport, scheduler *audio.Scheduler, transcript *Transcript, sessionID string) {
	switch {
	case ev.frame != nil:
		if err := transport.Send(audio.EncodeFrame(ev.frame)); err != nil {
			log.Printf("❌ [%s] Failed to send audio frame: %v", shortID(sessionID), err)
		}

	case ev.msg != nil:
		c.handleServerMessage(*ev.msg, scheduler, transcript, sessionID)

	case ev.err != nil:
		if *failed || c.stopBegun() {
			return
		}
		*failed = true
		c.emit(Event{Kind: EventError, Err: &SessionError{Reason: "transport error", Err: ev.err}})
		go func() { _ = c.Stop() }()

	case ev.closed:
		if *failed || c.stopBegun() {
			return
		}
		*failed = true
		if !ev.clean {
			c.emit(Event{Kind: EventError, Err: &SessionError{Reason: "connection closed unexpectedly (" + ev.code + ")"}})
		}
		go func() { _ = c.Stop() }()
	}
}

// stopBegun reports whether teardown is already under way, in which case
// terminal transport events carry no new information.
func (c *Controller) stopBegun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateStopping || c.state == StateIdle
}

// handleServerMessage fans one inbound message out to the scheduler and
// the transcript. Fields are independent: any combination may be set.
func (c *Controller) handleServerMessage(msg gemini.ServerMessage, scheduler *audio.Scheduler, transcript *Transcript, sessionID string) {
	if msg.ToolCall {
		// No feature here invokes tools; accepted and ignored.
		log.Printf("🔧 [%s] Ignoring tool call from model", shortID(sessionID))
	}

	if len(msg.Audio) > 0 {
		if _, err := scheduler.Schedule(msg.Audio); err != nil {
			// Malformed chunk: drop it, keep the session alive.
			log.Printf("⚠️ [%s] Dropping audio chunk: %v", shortID(sessionID), err)
		}
	}
	if msg.InputTranscript != "" {
		transcript.AppendInput(msg.InputTranscript)
	}
	if msg.OutputTranscript != "" {
		transcript.AppendOutput(msg.OutputTranscript)
	}
	if msg.Interrupted {
		scheduler.Interrupt()
		c.emit(Event{Kind: EventStatus, Status: "interrupted"})
	}
	if msg.TurnComplete {
		c.flushTurn(transcript, sessionID)
		c.emit(Event{Kind: EventStatus, Status: "turn_complete"})
	}
}

// flushTurn commits both per-turn buffers to the log, the notifier, and
// the history store.
func (c *Controller) flushTurn(transcript *Transcript, sessionID string) {
	for _, entry := range transcript.FlushTurn() {
		e := entry
		c.emit(Event{Kind: EventTranscript, Entry: &e})
		c.history.RecordEntry(context.Background(), sessionID, entry)
	}
}

// post places an event on the session queue. After teardown, or if the
// queue is saturated, the event is dropped.
func (c *Controller) post(ev sessionEvent) {
	c.mu.Lock()
	queue := c.queue
	done := c.done
	c.mu.Unlock()
	if queue == nil {
		return
	}
	select {
	case queue <- ev:
	case <-done:
	default:
		log.Printf("⚠️ Session event queue full, dropping event")
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) emit(ev Event) {
	if c.notify != nil {
		c.notify(ev)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
