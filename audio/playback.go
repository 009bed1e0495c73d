package audio

import (
	"sync"
	"time"
)

// Clock reports the current position on the output timeline.
type Clock interface {
	Now() time.Duration
}

// Sink consumes scheduled PCM in timeline order. Play appends to the
// gapless output stream; Flush discards everything not yet audible.
type Sink interface {
	Play(pcm []byte)
	Flush()
}

type systemClock struct {
	epoch time.Time
}

func (c *systemClock) Now() time.Duration {
	return time.Since(c.epoch)
}

// NewSystemClock returns a Clock anchored at the moment of creation.
func NewSystemClock() Clock {
	return &systemClock{epoch: time.Now()}
}

// Source is one scheduled unit of decoded audio.
type Source struct {
	id       uint64
	Start    time.Duration
	Duration time.Duration
}

// End is the timeline position at which the source finishes naturally.
func (s *Source) End() time.Duration {
	return s.Start + s.Duration
}

// Scheduler places inbound audio chunks back-to-back on the output
// timeline. A monotonically non-decreasing cursor guarantees no gaps and
// no overlaps; Interrupt cuts everything off at the current instant.
type Scheduler struct {
	clock Clock
	sink  Sink
	rate  int

	mu   sync.Mutex
	next time.Duration
	live map[uint64]*Source
	seq  uint64
}

// NewScheduler creates a scheduler for single-channel PCM at sampleRate.
func NewScheduler(clock Clock, sink Sink, sampleRate int) *Scheduler {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	return &Scheduler{
		clock: clock,
		sink:  sink,
		rate:  sampleRate,
		live:  make(map[uint64]*Source),
	}
}

// Schedule decodes one inbound chunk and schedules it to play immediately
// after all previously scheduled audio. Returns the tracked source, or a
// DecodeError for a malformed payload (the chunk is dropped, nothing else
// changes).
func (s *Scheduler) Schedule(payload []byte) (*Source, error) {
	samples, err := DecodeMono(payload)
	if err != nil {
		return nil, err
	}
	d := time.Duration(len(samples)) * time.Second / time.Duration(s.rate)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.pruneLocked(now)

	start := s.next
	if now > start {
		// Playback fell behind (first chunk, or a long pause): play now
		// instead of in the past.
		start = now
	}

	s.seq++
	src := &Source{id: s.seq, Start: start, Duration: d}
	s.live[src.id] = src
	s.next = start + d

	s.sink.Play(payload)
	return src, nil
}

// Interrupt stops every live source immediately, clears the set, and
// resets the cursor so the next reply starts without delay.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	s.live = make(map[uint64]*Source)
	s.next = s.clock.Now()
	s.mu.Unlock()

	s.sink.Flush()
}

// LiveCount reports how many sources are scheduled or playing.
func (s *Scheduler) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.clock.Now())
	return len(s.live)
}

func (s *Scheduler) pruneLocked(now time.Duration) {
	for id, src := range s.live {
		if src.End() <= now {
			delete(s.live, id)
		}
	}
}
