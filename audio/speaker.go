package audio

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// speakerBufferBytes is ~100ms at 24kHz mono s16le. Smaller means lower
// latency at the cost of glitch risk.
const speakerBufferBytes = 4800

// Speaker plays scheduled PCM through the system output device. It
// implements Sink: audio handed to Play is appended to one continuous
// stream that the oto player pulls from, so consecutive chunks are
// played back-to-back with no silence between them.
type Speaker struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	player  *oto.Player
	playing bool
	closed  bool
}

// NewSpeaker opens the output device at the model's output rate.
func NewSpeaker() (*Speaker, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   OutputSampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   speakerBufferBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("open output device: %w", err)
	}
	<-ready

	s := &Speaker{otoCtx: otoCtx}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Play appends PCM to the output stream. The player is created lazily on
// the first chunk so an idle session holds no audio pipeline open.
func (s *Speaker) Play(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
}

// Read feeds the oto player. Blocks until data arrives or the speaker
// closes; on close it returns silence so oto drains gracefully.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards all queued audio and tears down the current player so
// nothing scheduled before an interruption stays audible. The next Play
// starts a fresh player.
func (s *Speaker) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	if s.player == nil || !s.playing {
		s.mu.Unlock()
		return
	}
	player := s.player
	s.player = nil
	s.playing = false
	s.mu.Unlock()

	player.Pause()
	player.Close()
}

// Close releases the output pipeline. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = s.buf[:0]
	player := s.player
	s.player = nil
	s.playing = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
	return nil
}
