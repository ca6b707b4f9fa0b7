// Package audio implements the post-processing chain: sample buffers, the WAV
// codec, the ordered DSP stages and the final container encode.
package audio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/book-expert/narrator/internal/core"
)

const (
	pcm16Bytes = 2
	pcm16Max   = 32767.0
	pcm16Scale = 32768.0
)

// Buffer holds interleaved samples in [-1, 1].
type Buffer struct {
	Samples    []float64
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (one sample per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}

	return len(b.Samples) / b.Channels
}

// Duration reports the playback length.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}

	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Clone returns a deep copy, so stages never alias their input.
func (b Buffer) Clone() Buffer {
	samples := make([]float64, len(b.Samples))
	copy(samples, b.Samples)

	return Buffer{Samples: samples, SampleRate: b.SampleRate, Channels: b.Channels}
}

// FromRaw decodes PCM16LE engine output.
func FromRaw(raw core.RawAudio) Buffer {
	count := len(raw.PCM) / pcm16Bytes
	samples := make([]float64, count)

	for i := range samples {
		value := int16(binary.LittleEndian.Uint16(raw.PCM[i*pcm16Bytes:]))
		samples[i] = float64(value) / pcm16Scale
	}

	return Buffer{Samples: samples, SampleRate: raw.SampleRate, Channels: max(raw.Channels, 1)}
}

// FromChunk wraps a post-processed chunk.
func FromChunk(chunk core.AudioChunk) Buffer {
	return Buffer{Samples: chunk.Samples, SampleRate: chunk.SampleRate, Channels: chunk.Channels}
}

// Chunk converts the buffer into an AudioChunk with the given index.
func (b Buffer) Chunk(index int) core.AudioChunk {
	return core.AudioChunk{
		Index:      index,
		Samples:    b.Samples,
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
		Duration:   b.Duration(),
	}
}

// PCM16 encodes the samples as clipped PCM16LE.
func (b Buffer) PCM16() []byte {
	out := make([]byte, len(b.Samples)*pcm16Bytes)

	for i, sample := range b.Samples {
		clipped := math.Max(-1, math.Min(1, sample))
		binary.LittleEndian.PutUint16(out[i*pcm16Bytes:], uint16(int16(math.Round(clipped*pcm16Max))))
	}

	return out
}

// Silence returns a buffer of zeros lasting d.
func Silence(d time.Duration, sampleRate, channels int) Buffer {
	frames := int(d.Seconds() * float64(sampleRate))

	return Buffer{
		Samples:    make([]float64, max(frames, 0)*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Concat appends buffers that share a sample rate and channel count.
func Concat(sampleRate, channels int, parts ...Buffer) Buffer {
	total := 0
	for _, part := range parts {
		total += len(part.Samples)
	}

	samples := make([]float64, 0, total)
	for _, part := range parts {
		samples = append(samples, part.Samples...)
	}

	return Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}
}
