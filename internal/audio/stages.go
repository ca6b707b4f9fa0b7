package audio

import (
	"math"
	"slices"
	"time"
)

const (
	gateWindow        = 10 * time.Millisecond
	gateFloorQuantile = 0.1
	gateHeadroom      = 4.0
	peakCeilingDBFS   = -1.0
)

// Schroeder reverb tuning: four parallel combs followed by two allpass filters.
var (
	combDelays     = []time.Duration{29700 * time.Microsecond, 37100 * time.Microsecond, 41100 * time.Microsecond, 43700 * time.Microsecond}
	combFeedback   = []float64{0.805, 0.827, 0.783, 0.764}
	allpassDelays  = []time.Duration{5 * time.Millisecond, 1700 * time.Microsecond}
	allpassGain    = 0.7
	combNormalizer = 0.25
)

// DBFSToLinear converts decibels relative to full scale to a linear amplitude.
func DBFSToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// RMS returns the root mean square level of the samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += s * s
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the largest absolute sample value.
func Peak(samples []float64) float64 {
	var peak float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(s))
	}

	return peak
}

// ReduceNoise applies an optional high-pass filter and then a noise gate whose
// threshold sits above the estimated noise floor. Strength 1 silences gated
// windows; strength 0 leaves them untouched.
func ReduceNoise(buf Buffer, strength float64, highPassHz int) Buffer {
	out := buf.Clone()
	if highPassHz > 0 {
		out = HighPass(out, highPassHz)
	}

	window := int(gateWindow.Seconds()*float64(out.SampleRate)) * out.Channels
	if window <= 0 || len(out.Samples) < window {
		return out
	}

	levels := make([]float64, 0, len(out.Samples)/window+1)
	for start := 0; start < len(out.Samples); start += window {
		levels = append(levels, RMS(out.Samples[start:min(start+window, len(out.Samples))]))
	}

	sorted := slices.Clone(levels)
	slices.Sort(sorted)
	floor := sorted[int(float64(len(sorted)-1)*gateFloorQuantile)]
	threshold := floor * (1 + gateHeadroom*strength)
	closedGain := 1 - strength

	gains := make([]float64, len(levels))
	for i, level := range levels {
		gains[i] = 1
		if level <= threshold {
			gains[i] = closedGain
		}
	}

	// Interpolate between window gains to avoid clicks at gate transitions.
	for i := range out.Samples {
		position := float64(i)/float64(window) - 0.5
		left := max(int(math.Floor(position)), 0)
		right := min(left+1, len(gains)-1)
		frac := math.Max(0, math.Min(1, position-float64(left)))
		out.Samples[i] *= gains[left]*(1-frac) + gains[right]*frac
	}

	return out
}

// Normalize scales the buffer to the target RMS level while keeping peaks at
// or below -1 dBFS. Silent input is returned unchanged.
func Normalize(buf Buffer, targetDBFS float64) Buffer {
	out := buf.Clone()

	rms := RMS(out.Samples)
	if rms == 0 {
		return out
	}

	gain := DBFSToLinear(targetDBFS) / rms
	ceiling := DBFSToLinear(peakCeilingDBFS)

	if peak := Peak(out.Samples); peak*gain > ceiling {
		gain = ceiling / peak
	}

	for i := range out.Samples {
		out.Samples[i] *= gain
	}

	return out
}

// Compress attenuates the part of each sample above the threshold by ratio.
func Compress(buf Buffer, thresholdDB, ratio float64) Buffer {
	out := buf.Clone()
	if ratio <= 1 {
		return out
	}

	threshold := DBFSToLinear(thresholdDB)

	for i, s := range out.Samples {
		magnitude := math.Abs(s)
		if magnitude > threshold {
			out.Samples[i] = math.Copysign(threshold+(magnitude-threshold)/ratio, s)
		}
	}

	return out
}

// Echo mixes in a single delayed copy of the signal at the given decay.
func Echo(buf Buffer, delay time.Duration, decay float64) Buffer {
	out := buf.Clone()

	offset := int(delay.Seconds()*float64(buf.SampleRate)) * buf.Channels
	if offset <= 0 || decay <= 0 {
		return out
	}

	for i := offset; i < len(out.Samples); i++ {
		out.Samples[i] += decay * buf.Samples[i-offset]
	}

	return out
}

// Reverb applies a Schroeder reverberator per channel with the given wet mix.
func Reverb(buf Buffer, wet float64) Buffer {
	out := buf.Clone()
	if wet <= 0 {
		return out
	}

	for ch := range buf.Channels {
		dry := channel(buf, ch)
		processed := make([]float64, len(dry))

		for i, delay := range combDelays {
			comb := combFilter(dry, samplesFor(delay, buf.SampleRate), combFeedback[i])
			for n := range processed {
				processed[n] += comb[n] * combNormalizer
			}
		}

		for _, delay := range allpassDelays {
			processed = allpassFilter(processed, samplesFor(delay, buf.SampleRate), allpassGain)
		}

		for n := range dry {
			out.Samples[n*buf.Channels+ch] = (1-wet)*dry[n] + wet*processed[n]
		}
	}

	return out
}

// Fade applies linear fade-in and fade-out ramps.
func Fade(buf Buffer, fadeIn, fadeOut time.Duration) Buffer {
	out := buf.Clone()
	frames := out.Frames()

	inFrames := min(int(fadeIn.Seconds()*float64(out.SampleRate)), frames)
	outFrames := min(int(fadeOut.Seconds()*float64(out.SampleRate)), frames)

	for frame := range frames {
		gain := 1.0
		if frame < inFrames {
			gain = float64(frame) / float64(inFrames)
		}

		if remaining := frames - 1 - frame; remaining < outFrames {
			gain = math.Min(gain, float64(remaining)/float64(outFrames))
		}

		for ch := range out.Channels {
			out.Samples[frame*out.Channels+ch] *= gain
		}
	}

	return out
}

// Gain multiplies every sample by factor.
func Gain(buf Buffer, factor float64) Buffer {
	out := buf.Clone()
	for i := range out.Samples {
		out.Samples[i] *= factor
	}

	return out
}

// HighPass applies a one-pole high-pass filter at cutoffHz.
func HighPass(buf Buffer, cutoffHz int) Buffer {
	return onePole(buf, cutoffHz, true)
}

// LowPass applies a one-pole low-pass filter at cutoffHz.
func LowPass(buf Buffer, cutoffHz int) Buffer {
	return onePole(buf, cutoffHz, false)
}

func onePole(buf Buffer, cutoffHz int, highPass bool) Buffer {
	out := buf.Clone()
	if cutoffHz <= 0 || buf.SampleRate <= 0 {
		return out
	}

	rc := 1 / (2 * math.Pi * float64(cutoffHz))
	dt := 1 / float64(buf.SampleRate)

	for ch := range buf.Channels {
		var prevIn, prevOut float64

		for frame := range buf.Frames() {
			idx := frame*buf.Channels + ch
			in := buf.Samples[idx]

			var y float64
			if highPass {
				alpha := rc / (rc + dt)
				y = alpha * (prevOut + in - prevIn)
			} else {
				alpha := dt / (rc + dt)
				y = prevOut + alpha*(in-prevOut)
			}

			out.Samples[idx] = y
			prevIn, prevOut = in, y
		}
	}

	return out
}

// Clip limits every sample to [-1, 1].
func Clip(buf Buffer) Buffer {
	out := buf.Clone()
	for i, s := range out.Samples {
		out.Samples[i] = math.Max(-1, math.Min(1, s))
	}

	return out
}

// Resample converts the buffer to sampleRate using linear interpolation.
func Resample(buf Buffer, sampleRate int) Buffer {
	if sampleRate <= 0 || sampleRate == buf.SampleRate || buf.SampleRate <= 0 {
		return buf.Clone()
	}

	inFrames := buf.Frames()
	outFrames := int(math.Round(float64(inFrames) * float64(sampleRate) / float64(buf.SampleRate)))
	out := Buffer{Samples: make([]float64, outFrames*buf.Channels), SampleRate: sampleRate, Channels: buf.Channels}
	ratio := float64(buf.SampleRate) / float64(sampleRate)

	for frame := range outFrames {
		position := float64(frame) * ratio
		left := min(int(position), inFrames-1)
		right := min(left+1, inFrames-1)
		frac := position - float64(left)

		for ch := range buf.Channels {
			a := buf.Samples[left*buf.Channels+ch]
			b := buf.Samples[right*buf.Channels+ch]
			out.Samples[frame*buf.Channels+ch] = a + (b-a)*frac
		}
	}

	return out
}

// ConvertChannels mixes down to mono by averaging, or maps source channels
// round-robin onto more output channels.
func ConvertChannels(buf Buffer, channels int) Buffer {
	if channels <= 0 || channels == buf.Channels {
		return buf.Clone()
	}

	frames := buf.Frames()
	out := Buffer{Samples: make([]float64, frames*channels), SampleRate: buf.SampleRate, Channels: channels}

	for frame := range frames {
		source := buf.Samples[frame*buf.Channels : (frame+1)*buf.Channels]
		if channels == 1 {
			var sum float64
			for _, s := range source {
				sum += s
			}

			out.Samples[frame] = sum / float64(len(source))

			continue
		}

		for ch := range channels {
			out.Samples[frame*channels+ch] = source[ch%len(source)]
		}
	}

	return out
}

func channel(buf Buffer, ch int) []float64 {
	out := make([]float64, buf.Frames())
	for frame := range out {
		out[frame] = buf.Samples[frame*buf.Channels+ch]
	}

	return out
}

func samplesFor(d time.Duration, sampleRate int) int {
	return max(int(d.Seconds()*float64(sampleRate)), 1)
}

func combFilter(in []float64, delay int, feedback float64) []float64 {
	out := make([]float64, len(in))
	for n := range in {
		out[n] = in[n]
		if n >= delay {
			out[n] += feedback * out[n-delay]
		}
	}

	return out
}

func allpassFilter(in []float64, delay int, gain float64) []float64 {
	out := make([]float64, len(in))
	for n := range in {
		var delayedIn, delayedOut float64
		if n >= delay {
			delayedIn, delayedOut = in[n-delay], out[n-delay]
		}

		out[n] = -gain*in[n] + delayedIn + gain*delayedOut
	}

	return out
}
