// Package core defines the domain types and interfaces shared by the narration pipeline.
package core

import (
	"context"
	"time"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Capability describes how an engine produces audio.
type Capability int

const (
	// CapabilityLocal engines run on this machine and never fail transiently.
	CapabilityLocal Capability = iota
	// CapabilityNetworked engines call a remote service and may consume paid quota.
	CapabilityNetworked
)

func (c Capability) String() string {
	if c == CapabilityNetworked {
		return "networked"
	}

	return "local"
}

// RateLimitPolicy bounds how hard an engine may be driven.
// A zero MaxConcurrent means the engine imposes no limit of its own.
type RateLimitPolicy struct {
	MaxConcurrent int
	MinInterval   time.Duration
}

// Engine is the uniform synthesis contract every backend implements.
// Implementations must be safe for concurrent use.
type Engine interface {
	ID() string
	Capability() Capability
	Synthesize(ctx context.Context, text string, profile VoiceProfile) (RawAudio, error)
	Supports(profile VoiceProfile) bool
	RateLimit() RateLimitPolicy
}

// RawAudio is the unprocessed output of an engine: interleaved PCM16LE samples.
type RawAudio struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

const bytesPerSample = 2

// Duration reports the playback length of the audio.
func (r RawAudio) Duration() time.Duration {
	if r.SampleRate <= 0 || r.Channels <= 0 {
		return 0
	}

	frames := len(r.PCM) / (bytesPerSample * r.Channels)

	return time.Duration(frames) * time.Second / time.Duration(r.SampleRate)
}

// BlockKind classifies an extracted block of text.
type BlockKind int

const (
	// BlockParagraph is ordinary running text.
	BlockParagraph BlockKind = iota
	// BlockHeading is a title or section heading.
	BlockHeading
	// BlockListItem is one entry of a bulleted or numbered list.
	BlockListItem
)

// Block is an ordered unit produced by document extraction.
type Block struct {
	Text string
	Kind BlockKind
}

// Emphasis tags a segment that contained emphasized text.
type Emphasis string

const (
	EmphasisNone     Emphasis = ""
	EmphasisModerate Emphasis = "moderate"
	EmphasisStrong   Emphasis = "strong"
)

// TextSegment is the unit scheduled as one synthesis request.
type TextSegment struct {
	Index       int
	Content     string
	PauseBefore time.Duration
	PauseAfter  time.Duration
	Emphasis    Emphasis
}

// VoiceProfile is a named bundle of engine, voice and prosody settings.
type VoiceProfile struct {
	Name     string            `yaml:"name"`
	Version  int               `yaml:"version"`
	Engine   string            `yaml:"engine"`
	Voice    string            `yaml:"voice"`
	Language string            `yaml:"language"`
	Style    string            `yaml:"style"`
	Rate     float64           `yaml:"rate"`
	Pitch    float64           `yaml:"pitch"`
	Volume   float64           `yaml:"volume"`
	Params   map[string]string `yaml:"params"`
}

// Fingerprint identifies a synthesis request; equal fingerprints yield interchangeable audio.
type Fingerprint string

// AudioChunk is one synthesized and post-processed segment.
// Samples are interleaved and normalized to [-1, 1].
type AudioChunk struct {
	Index      int
	Samples    []float64
	SampleRate int
	Channels   int
	Duration   time.Duration
}
