package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// ErrPermissionDenied is returned when the capture device cannot be
// acquired. Device-level failures are indistinguishable from permission
// refusal at this layer, so every acquisition failure maps here.
var ErrPermissionDenied = errors.New("microphone access denied")

// Capture owns the microphone and slices its stream into fixed-size
// float32 frames, delivered in capture order, each exactly once.
//
// Lifecycle: NewCapture initializes the backend, Acquire opens the device
// (the permission point), Begin starts the stream, Stop releases
// everything. Stop is idempotent and safe at any point in the lifecycle.
type Capture struct {
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	onFrame  func([]float32)

	// pending accumulates device-callback samples until a whole frame is
	// available. Only touched from the device callback, which miniaudio
	// invokes sequentially.
	pending []float32

	mu      sync.Mutex
	stopped bool
}

// NewCapture initializes the audio backend. The device itself is not
// opened until Acquire.
func NewCapture() (*Capture, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	malgoCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio backend: %w", err)
	}
	return &Capture{
		malgoCtx: malgoCtx,
		pending:  make([]float32, 0, FrameSize),
	}, nil
}

// Acquire opens the microphone without starting the stream. Acquisition
// failure maps to ErrPermissionDenied.
func (c *Capture) Acquire(onFrame func([]float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return fmt.Errorf("capture already stopped")
	}
	if c.device != nil {
		return fmt.Errorf("capture device already acquired")
	}
	c.onFrame = onFrame

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = InputSampleRate
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.onData(input)
		},
	}

	device, err := malgo.InitDevice(c.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("open capture device: %w (%v)", ErrPermissionDenied, err)
	}
	c.device = device
	return nil
}

// Begin starts streaming frames to the hook passed to Acquire.
func (c *Capture) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.device == nil {
		return fmt.Errorf("capture device not acquired")
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("start capture device: %w (%v)", ErrPermissionDenied, err)
	}
	return nil
}

// onData converts the raw f32le callback payload and emits whole frames.
func (c *Capture) onData(input []byte) {
	for off := 0; off+4 <= len(input); off += 4 {
		bits := binary.LittleEndian.Uint32(input[off : off+4])
		c.pending = append(c.pending, math.Float32frombits(bits))
	}
	for len(c.pending) >= FrameSize {
		frame := make([]float32, FrameSize)
		copy(frame, c.pending[:FrameSize])
		c.pending = c.pending[FrameSize:]
		if c.onFrame != nil {
			c.onFrame(frame)
		}
	}
}

// Stop releases the device and the audio backend. Idempotent: a second
// call, or a call without a prior Acquire, is a no-op.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.malgoCtx != nil {
		_ = c.malgoCtx.Uninit()
		c.malgoCtx.Free()
		c.malgoCtx = nil
	}
}
