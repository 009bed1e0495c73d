package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

const (
	// InputSampleRate is the microphone capture rate expected by the model.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of model-synthesized audio.
	OutputSampleRate = 24000
	// FrameSize is the number of samples in one capture frame.
	FrameSize = 4096

	// InputMimeType tags outbound frames with their sample format and rate.
	InputMimeType = "audio/pcm;rate=16000"
)

// Blob is an encoded audio frame ready to be sent over the wire.
type Blob struct {
	Data     string // base64-encoded little-endian 16-bit PCM
	MimeType string
}

// DecodeError reports a payload whose length does not divide into whole samples.
type DecodeError struct {
	Length   int
	Channels int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio: %d bytes is not a multiple of %d (16-bit samples, %d channel(s))",
		e.Length, 2*e.Channels, e.Channels)
}

// EncodeFrame converts a float32 frame in [-1, 1] into a base64 PCM blob.
// Samples are scaled by 32768 and truncated to int16. Values at or beyond
// full scale clip to the int16 limits; that loss is accepted behavior for
// live capture, not a defect.
func EncodeFrame(frame []float32) Blob {
	raw := make([]byte, len(frame)*2)
	for i, v := range frame {
		scaled := int32(v * 32768)
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(int16(scaled)))
	}
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(raw),
		MimeType: InputMimeType,
	}
}

// Decode reverses EncodeFrame for an interleaved 16-bit PCM payload,
// returning one sample slice per channel.
func Decode(data []byte, channels int) ([][]float32, error) {
	if channels < 1 {
		channels = 1
	}
	if len(data)%(2*channels) != 0 {
		return nil, &DecodeError{Length: len(data), Channels: channels}
	}

	perChannel := len(data) / (2 * channels)
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, perChannel)
	}
	for i := 0; i < perChannel; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(data[off : off+2]))
			out[ch][i] = float32(s) / 32768
		}
	}
	return out, nil
}

// DecodeMono decodes a single-channel payload, the format of model output.
func DecodeMono(data []byte) ([]float32, error) {
	chans, err := Decode(data, 1)
	if err != nil {
		return nil, err
	}
	return chans[0], nil
}
