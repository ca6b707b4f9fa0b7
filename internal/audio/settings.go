package audio

import (
	"errors"
	"fmt"
	"time"
)

// Format is an output container.
type Format string

// Supported output formats. WAV and PCM are encoded natively; the rest go through ffmpeg.
const (
	FormatWAV  Format = "wav"
	FormatPCM  Format = "pcm"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
	FormatM4A  Format = "m4a"
	FormatAAC  Format = "aac"
)

// Limits for settings validation.
const (
	MaxSampleRate      = 192000
	MaxChannels        = 8
	MaxVolume          = 10.0
	MaxFilterFrequency = 20000
	MinTargetDBFS      = -60.0
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d"
	errFmtVolumeRange     = "%w: volume must be between 0.0 and %.1f"
	errFmtFadeNegative    = "%w: fades must be non-negative"
	errFmtHighPassRange   = "%w: high pass filter must be between 0 and %d Hz"
	errFmtLowPassRange    = "%w: low pass filter must be between 0 and %d Hz"
	errFmtUnitRange       = "%w: %s must be between 0.0 and 1.0"
	errFmtTargetRange     = "%w: target must be between %.0f and 0 dBFS"
	errFmtRatio           = "%w: compression ratio must be 0 (off) or >= 1"
	errFmtFormat          = "%w: unsupported output format %q"
)

// ErrInvalidSettings is returned when post-processing settings are out of bounds.
var ErrInvalidSettings = errors.New("invalid audio settings")

// NoiseReduction configures the noise gate stage.
type NoiseReduction struct {
	Enabled    bool
	Strength   float64
	HighPassHz int
}

// Normalization configures loudness normalization.
type Normalization struct {
	Enabled    bool
	TargetDBFS float64
}

// Effects configures the effects stage. A zero value for any effect disables it.
type Effects struct {
	Enabled                bool
	Reverb                 float64
	Echo                   float64
	EchoDelay              time.Duration
	CompressionRatio       float64
	CompressionThresholdDB float64
	FadeIn                 time.Duration
	FadeOut                time.Duration
	Volume                 float64
	LowPassHz              int
}

// Output selects the final sample rate, channel count and container.
type Output struct {
	Format     Format
	SampleRate int
	Channels   int
}

// Settings configures the whole chain.
type Settings struct {
	NoiseReduction NoiseReduction
	Normalization  Normalization
	Effects        Effects
	Output         Output
}

// IsSupported reports whether f can be produced by an Encoder.
func (f Format) IsSupported() bool {
	switch f {
	case FormatWAV, FormatPCM, FormatMP3, FormatFLAC, FormatOGG, FormatM4A, FormatAAC:
		return true
	default:
		return false
	}
}

// Validate checks that every setting is within reasonable bounds.
func (s *Settings) Validate() error {
	outputErr := s.validateOutput()
	if outputErr != nil {
		return outputErr
	}

	effectErr := s.validateEffects()
	if effectErr != nil {
		return effectErr
	}

	if s.NoiseReduction.Strength < 0 || s.NoiseReduction.Strength > 1 {
		return fmt.Errorf(errFmtUnitRange, ErrInvalidSettings, "noise reduction strength")
	}

	if s.NoiseReduction.HighPassHz < 0 || s.NoiseReduction.HighPassHz > MaxFilterFrequency {
		return fmt.Errorf(errFmtHighPassRange, ErrInvalidSettings, MaxFilterFrequency)
	}

	if s.Normalization.TargetDBFS > 0 || s.Normalization.TargetDBFS < MinTargetDBFS {
		return fmt.Errorf(errFmtTargetRange, ErrInvalidSettings, MinTargetDBFS)
	}

	return nil
}

func (s *Settings) validateOutput() error {
	if s.Output.SampleRate <= 0 || s.Output.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidSettings, MaxSampleRate)
	}

	if s.Output.Channels <= 0 || s.Output.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidSettings, MaxChannels)
	}

	if !s.Output.Format.IsSupported() {
		return fmt.Errorf(errFmtFormat, ErrInvalidSettings, s.Output.Format)
	}

	return nil
}

func (s *Settings) validateEffects() error {
	effects := s.Effects

	if effects.Volume < 0 || effects.Volume > MaxVolume {
		return fmt.Errorf(errFmtVolumeRange, ErrInvalidSettings, MaxVolume)
	}

	if effects.FadeIn < 0 || effects.FadeOut < 0 || effects.EchoDelay < 0 {
		return fmt.Errorf(errFmtFadeNegative, ErrInvalidSettings)
	}

	if effects.LowPassHz < 0 || effects.LowPassHz > MaxFilterFrequency {
		return fmt.Errorf(errFmtLowPassRange, ErrInvalidSettings, MaxFilterFrequency)
	}

	if effects.Reverb < 0 || effects.Reverb > 1 {
		return fmt.Errorf(errFmtUnitRange, ErrInvalidSettings, "reverb")
	}

	if effects.Echo < 0 || effects.Echo > 1 {
		return fmt.Errorf(errFmtUnitRange, ErrInvalidSettings, "echo")
	}

	if effects.CompressionRatio != 0 && effects.CompressionRatio < 1 {
		return fmt.Errorf(errFmtRatio, ErrInvalidSettings)
	}

	return nil
}
