package audio

import (
	"context"
	"fmt"

	"github.com/book-expert/narrator/internal/core"
)

// Stage names, in chain order.
const (
	StageNoiseReduction = "noise_reduction"
	StageNormalization  = "normalization"
	StageEffects        = "effects"
	StageConversion     = "conversion"
)

// Stage is one pure samples-to-samples transform. A disabled stage returns a
// copy of its input.
type Stage interface {
	Name() string
	Enabled() bool
	Apply(buf Buffer) Buffer
}

type stageFunc struct {
	apply   func(Buffer) Buffer
	name    string
	enabled bool
}

func (s stageFunc) Name() string  { return s.name }
func (s stageFunc) Enabled() bool { return s.enabled }

func (s stageFunc) Apply(buf Buffer) Buffer {
	if !s.enabled {
		return buf.Clone()
	}

	return s.apply(buf)
}

// Chain runs the fixed-order post-processing stages and the final encode.
type Chain struct {
	encoder  *Encoder
	stages   []Stage
	settings Settings
}

// NewChain validates settings and builds the four stages in their fixed order:
// noise reduction, normalization, effects, then resampling and channel conversion.
func NewChain(settings Settings, encoder *Encoder) (*Chain, error) {
	err := settings.Validate()
	if err != nil {
		return nil, err
	}

	noise := settings.NoiseReduction
	norm := settings.Normalization
	effects := settings.Effects
	output := settings.Output

	stages := []Stage{
		stageFunc{name: StageNoiseReduction, enabled: noise.Enabled, apply: func(buf Buffer) Buffer {
			return ReduceNoise(buf, noise.Strength, noise.HighPassHz)
		}},
		stageFunc{name: StageNormalization, enabled: norm.Enabled, apply: func(buf Buffer) Buffer {
			return Normalize(buf, norm.TargetDBFS)
		}},
		stageFunc{name: StageEffects, enabled: effects.Enabled, apply: func(buf Buffer) Buffer {
			return applyEffects(buf, effects)
		}},
		stageFunc{name: StageConversion, enabled: true, apply: func(buf Buffer) Buffer {
			return ConvertChannels(Resample(buf, output.SampleRate), output.Channels)
		}},
	}

	return &Chain{stages: stages, settings: settings, encoder: encoder}, nil
}

// applyEffects runs compression, echo, reverb, low-pass, fades and volume, then clips.
func applyEffects(buf Buffer, effects Effects) Buffer {
	out := Compress(buf, effects.CompressionThresholdDB, effects.CompressionRatio)
	out = Echo(out, effects.EchoDelay, effects.Echo)
	out = Reverb(out, effects.Reverb)
	out = LowPass(out, effects.LowPassHz)
	out = Fade(out, effects.FadeIn, effects.FadeOut)

	if effects.Volume > 0 && effects.Volume != 1 {
		out = Gain(out, effects.Volume)
	}

	return Clip(out)
}

// Stages returns the stages in execution order.
func (c *Chain) Stages() []Stage {
	return c.stages
}

// Settings returns the chain settings.
func (c *Chain) Settings() Settings {
	return c.settings
}

// Process decodes raw engine output and runs every stage in order.
func (c *Chain) Process(index int, raw core.RawAudio) core.AudioChunk {
	return c.Run(FromRaw(raw)).Chunk(index)
}

// Run applies the stages to a buffer.
func (c *Chain) Run(buf Buffer) Buffer {
	for _, stage := range c.stages {
		buf = stage.Apply(buf)
	}

	return buf
}

// Encode produces the final artifact bytes in the configured output format.
func (c *Chain) Encode(ctx context.Context, buf Buffer) ([]byte, error) {
	return c.EncodeAs(ctx, buf, c.settings.Output.Format)
}

// EncodeAs produces the final artifact bytes in format. An empty format means
// the configured one.
func (c *Chain) EncodeAs(ctx context.Context, buf Buffer, format Format) ([]byte, error) {
	if c.encoder == nil {
		return nil, fmt.Errorf("%w: no encoder configured", ErrInvalidSettings)
	}

	if format == "" {
		format = c.settings.Output.Format
	}

	return c.encoder.Encode(ctx, buf, format)
}

// OutputFormat is the configured container.
func (c *Chain) OutputFormat() Format {
	return c.settings.Output.Format
}

// OutputSampleRate is the rate every processed chunk is converted to.
func (c *Chain) OutputSampleRate() int {
	return c.settings.Output.SampleRate
}

// OutputChannels is the channel count every processed chunk is converted to.
func (c *Chain) OutputChannels() int {
	return c.settings.Output.Channels
}
