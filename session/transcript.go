package session

import (
	"strings"
	"sync"
)

// Speaker identifies one side of the conversation.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// TranscriptEntry is one completed turn. Immutable once appended.
type TranscriptEntry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Transcript accumulates incremental transcript fragments per speaker and
// flushes completed turns into an ordered log. Fragments are cumulative
// and order-sensitive: they are concatenated in arrival order, never
// replaced. Partial fragments live only in the per-turn buffers; the log
// grows by whole trimmed entries.
type Transcript struct {
	mu       sync.Mutex
	userBuf  strings.Builder
	modelBuf strings.Builder
	entries  []TranscriptEntry
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// AppendInput adds a fragment of the user's current turn.
func (t *Transcript) AppendInput(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userBuf.WriteString(text)
}

// AppendOutput adds a fragment of the model's current turn.
func (t *Transcript) AppendOutput(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modelBuf.WriteString(text)
}

// FlushTurn closes the current turn: each non-empty buffer is trimmed,
// appended to the log, and cleared. Returns the entries appended, user
// before model. Called both on a clean turn boundary and on forced stop
// so no speech is silently lost.
func (t *Transcript) FlushTurn() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var flushed []TranscriptEntry
	if text := strings.TrimSpace(t.userBuf.String()); text != "" {
		flushed = append(flushed, TranscriptEntry{Speaker: SpeakerUser, Text: text})
	}
	t.userBuf.Reset()
	if text := strings.TrimSpace(t.modelBuf.String()); text != "" {
		flushed = append(flushed, TranscriptEntry{Speaker: SpeakerModel, Text: text})
	}
	t.modelBuf.Reset()

	t.entries = append(t.entries, flushed...)
	return flushed
}

// Entries returns a copy of the ordered log.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Pending reports whether either per-turn buffer holds unflushed text.
func (t *Transcript) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userBuf.Len() > 0 || t.modelBuf.Len() > 0
}
