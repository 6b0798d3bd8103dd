// Package pcm decodes raw narration bytes into playable sample buffers.
package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrDecode indicates the input bytes could not be decoded. Callers treat it
// as "no narration available" rather than a fatal condition.
var ErrDecode = errors.New("pcm: decode failed")

// Narration audio as delivered by the asset producer: signed 16-bit
// little-endian mono at 24 kHz.
const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1

	bytesPerSample = 2
)

// Buffer holds decoded audio as mono float samples. A Buffer is owned
// exclusively by the playback engine for the lifetime of one playback and is
// replaced wholesale on each play.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Decode converts raw signed 16-bit little-endian PCM into a Buffer. An odd
// trailing byte is discarded. Empty input or nonsensical format parameters
// yield an error wrapping ErrDecode.
func Decode(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrDecode, sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrDecode, channels)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	// Truncate-to-even: a stray trailing byte is not a whole sample.
	data = data[:len(data)-len(data)%bytesPerSample]

	samples := make([]float32, len(data)/bytesPerSample)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:]))
		samples[i] = float32(s) / 32768.0
	}

	return &Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// Silence returns a silent buffer of the given duration.
func Silence(d time.Duration, sampleRate, channels int) *Buffer {
	frames := int(d.Seconds() * float64(sampleRate))
	return &Buffer{
		Samples:    make([]float32, frames*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Duration returns the playback time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// Bytes serializes the samples as 32-bit little-endian floats, the format the
// output device consumes.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, 4*len(b.Samples))
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(s))
	}
	return out
}
