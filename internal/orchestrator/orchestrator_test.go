package orchestrator_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/logger"
	"github.com/book-expert/narrator/internal/audio"
	"github.com/book-expert/narrator/internal/cache"
	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/engine"
	"github.com/book-expert/narrator/internal/objectstore"
	"github.com/book-expert/narrator/internal/orchestrator"
	"github.com/book-expert/narrator/internal/profiles"
	"github.com/book-expert/narrator/internal/scheduler"
)

const (
	testRate      = 8000
	chunkSamples  = 80
	primaryID     = "primary"
	fallbackID    = "fallback"
	testProfileID = "narrator"
)

// fakeEngine answers each call through respond and counts calls per text.
type fakeEngine struct {
	respond func(text string) (core.RawAudio, error)
	perText map[string]int
	id      string
	voices  []string
	delay   func(text string) time.Duration
	calls   atomic.Int32
	mu      sync.Mutex
	local   bool
}

func newFakeEngine(id string, respond func(text string) (core.RawAudio, error)) *fakeEngine {
	return &fakeEngine{id: id, respond: respond, perText: make(map[string]int)}
}

func (f *fakeEngine) ID() string                      { return f.id }
func (f *fakeEngine) RateLimit() core.RateLimitPolicy { return core.RateLimitPolicy{} }

func (f *fakeEngine) Capability() core.Capability {
	if f.local {
		return core.CapabilityLocal
	}

	return core.CapabilityNetworked
}

func (f *fakeEngine) Supports(profile core.VoiceProfile) bool {
	if len(f.voices) == 0 {
		return true
	}

	for _, voice := range f.voices {
		if voice == profile.Voice {
			return true
		}
	}

	return false
}

func (f *fakeEngine) Synthesize(ctx context.Context, text string, _ core.VoiceProfile) (core.RawAudio, error) {
	f.calls.Add(1)

	f.mu.Lock()
	f.perText[text]++
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(text)):
		case <-ctx.Done():
			return core.RawAudio{}, ctx.Err()
		}
	}

	return f.respond(text)
}

func (f *fakeEngine) callsFor(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.perText[text]
}

// tone renders "seg-N" as a constant run of amplitude (N+1)*1000.
func tone(text string) (core.RawAudio, error) {
	index, err := strconv.Atoi(strings.TrimPrefix(text, "seg-"))
	if err != nil {
		index = 0
	}

	pcm := make([]byte, chunkSamples*2)
	for i := range chunkSamples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16((index+1)*1000)))
	}

	return core.RawAudio{PCM: pcm, SampleRate: testRate, Channels: 1}, nil
}

func failWith(id string, kind error) func(string) (core.RawAudio, error) {
	return func(string) (core.RawAudio, error) {
		return core.RawAudio{}, core.NewEngineError(id, kind, errors.New("scripted failure"))
	}
}

func segments(n int) []core.TextSegment {
	out := make([]core.TextSegment, n)
	for i := range out {
		out[i] = core.TextSegment{Index: i, Content: fmt.Sprintf("seg-%d", i)}
	}

	return out
}

type harness struct {
	orch *orchestrator.Orchestrator
	dir  string
}

type harnessConfig struct {
	opts    orchestrator.Options
	store   core.ObjectStore
	engines []core.Engine
	workers int
	noCache bool
}

func newHarness(t *testing.T, cfg harnessConfig) harness {
	t.Helper()

	log, err := logger.New(t.TempDir(), "orchestrator-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	chain, err := audio.NewChain(audio.Settings{
		Effects: audio.Effects{Volume: 1},
		Output:  audio.Output{Format: audio.FormatWAV, SampleRate: testRate, Channels: 1},
	}, audio.NewEncoder(""))
	require.NoError(t, err)

	store, err := profiles.New(core.VoiceProfile{Name: testProfileID, Engine: primaryID, Voice: "alice"})
	require.NoError(t, err)

	workers := cfg.workers
	if workers == 0 {
		workers = 1
	}

	sched := scheduler.New(workers, nil, nil)
	t.Cleanup(sched.Close)

	var synthCache *cache.Cache

	if !cfg.noCache {
		blobs := cfg.store
		if blobs == nil {
			blobs, err = objectstore.NewFileStore(t.TempDir())
			require.NoError(t, err)
		}

		synthCache, err = cache.New(context.Background(), blobs, cache.NewMemoryIndex(), cache.Options{}, log)
		require.NoError(t, err)
	}

	opts := cfg.opts
	opts.BaseDelay = time.Millisecond
	opts.MaxDelay = time.Millisecond

	dir := t.TempDir()

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Engines:   engine.NewRegistry(cfg.engines...),
		Profiles:  store,
		Cache:     synthCache,
		Chain:     chain,
		Scheduler: sched,
		Sink:      orchestrator.FileSink{Dir: dir},
		Log:       log,
	}, opts)
	require.NoError(t, err)

	return harness{orch: orch, dir: dir}
}

func (h harness) run(t *testing.T, segs []core.TextSegment) (orchestrator.Result, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return h.orch.SynthesizeDocument(ctx, orchestrator.DocumentRequest{ID: "doc", ProfileName: testProfileID, Segments: segs})
}

// samplesOf decodes the artifact at path into PCM16 values.
func samplesOf(t *testing.T, path string) []int16 {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	raw, err := audio.DecodeWAV(data)
	require.NoError(t, err)

	out := make([]int16, len(raw.PCM)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw.PCM[i*2:]))
	}

	return out
}

// runs collapses samples into the sequence of distinct non-zero levels.
func runs(samples []int16) []int16 {
	var out []int16

	for _, sample := range samples {
		if sample == 0 {
			continue
		}

		if len(out) == 0 || out[len(out)-1] != sample {
			out = append(out, sample)
		}
	}

	return out
}

func TestSynthesizeDocument_AssemblesInOrder(t *testing.T) {
	t.Parallel()

	primary := newFakeEngine(primaryID, tone)
	// Later segments finish first.
	primary.delay = func(text string) time.Duration {
		switch text {
		case "seg-0":
			return 80 * time.Millisecond
		case "seg-1":
			return 40 * time.Millisecond
		default:
			return 0
		}
	}

	h := newHarness(t, harnessConfig{engines: []core.Engine{primary}, workers: 3})

	result, err := h.run(t, segments(3))
	require.NoError(t, err)

	assert.Equal(t, orchestrator.CompletenessFull, result.Completeness)
	assert.Empty(t, result.Failures)
	assert.Equal(t, []int16{1000, 2000, 3000}, runs(samplesOf(t, result.ArtifactPath)))
	assert.Equal(t, 3*chunkSamples*time.Second/testRate, result.AudioLength)
}

func TestSynthesizeDocument_Pauses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mode    string
		samples int
	}{
		{name: "sum", mode: orchestrator.PauseMergeSum, samples: 3*chunkSamples + 2*800},
		{name: "max", mode: orchestrator.PauseMergeMax, samples: 3*chunkSamples + 2*400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, harnessConfig{
				engines: []core.Engine{newFakeEngine(primaryID, tone)},
				opts:    orchestrator.Options{PauseMerge: tt.mode},
			})

			segs := segments(3)
			for i := range segs {
				segs[i].PauseBefore = 50 * time.Millisecond
				segs[i].PauseAfter = 50 * time.Millisecond
			}

			result, err := h.run(t, segs)
			require.NoError(t, err)

			samples := samplesOf(t, result.ArtifactPath)
			assert.Len(t, samples, tt.samples)
			assert.Equal(t, int16(1000), samples[0])
			assert.Equal(t, int16(3000), samples[len(samples)-1])
		})
	}
}

func TestSynthesizeDocument_FallbackAfterTransientRetries(t *testing.T) {
	t.Parallel()

	primary := newFakeEngine(primaryID, func(text string) (core.RawAudio, error) {
		if text == "seg-1" {
			return core.RawAudio{}, core.NewEngineError(primaryID, core.ErrTransient, errors.New("503"))
		}

		return tone(text)
	})
	fallback := newFakeEngine(fallbackID, tone)

	h := newHarness(t, harnessConfig{
		engines: []core.Engine{primary, fallback},
		opts:    orchestrator.Options{FallbackEngine: fallbackID, MaxAttempts: 2},
	})

	result, err := h.run(t, segments(3))
	require.NoError(t, err)

	assert.Equal(t, orchestrator.CompletenessFull, result.Completeness)
	assert.Equal(t, 2, primary.callsFor("seg-1"))
	assert.Equal(t, 1, fallback.callsFor("seg-1"))
	assert.Equal(t, int32(1), fallback.calls.Load())

	require.Len(t, result.Jobs, 3)
	job := result.Jobs[1]
	assert.Equal(t, "FailedFallback→Succeeded", job.Summary())
	assert.Equal(t, fallbackID, job.Engine)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "Succeeded", result.Jobs[0].Summary())

	var sawRetry bool

	for _, transition := range job.History {
		if transition.To == orchestrator.StateRetrying {
			sawRetry = true
		}
	}

	assert.True(t, sawRetry)
	assert.Equal(t, []int16{1000, 2000, 3000}, runs(samplesOf(t, result.ArtifactPath)))
}

func TestSynthesizeDocument_CacheHits(t *testing.T) {
	t.Parallel()

	primary := newFakeEngine(primaryID, tone)
	h := newHarness(t, harnessConfig{engines: []core.Engine{primary}})

	segs := []core.TextSegment{{Index: 0, Content: "seg-0"}, {Index: 1, Content: "seg-0"}}

	first, err := h.run(t, segs)
	require.NoError(t, err)
	assert.Equal(t, 1, first.CacheHits)
	assert.Equal(t, int32(1), primary.calls.Load())

	second, err := h.run(t, segs)
	require.NoError(t, err)
	assert.Equal(t, 2, second.CacheHits)
	assert.Equal(t, int32(1), primary.calls.Load())

	stats, ok := h.orch.CacheStats()
	require.True(t, ok)
	assert.Equal(t, 1, stats.EntryCount)
	assert.Equal(t, uint64(3), stats.Hits)
}

func TestSynthesizeDocument_OutputIndependentOfWorkersAndCache(t *testing.T) {
	t.Parallel()

	segs := segments(6)
	for i := range segs {
		segs[i].PauseAfter = time.Duration(i*10) * time.Millisecond
		segs[i].PauseBefore = 5 * time.Millisecond
	}

	// Uneven latency makes completion order differ from index order.
	jitter := func(text string) time.Duration {
		index, _ := strconv.Atoi(strings.TrimPrefix(text, "seg-"))

		return time.Duration((6-index)*5) * time.Millisecond
	}

	render := func(workers int) (uncached, cached []byte) {
		primary := newFakeEngine(primaryID, tone)
		primary.delay = jitter

		h := newHarness(t, harnessConfig{engines: []core.Engine{primary}, workers: workers})

		first, err := h.run(t, segs)
		require.NoError(t, err)
		assert.Zero(t, first.CacheHits)

		uncached, err = os.ReadFile(first.ArtifactPath)
		require.NoError(t, err)

		second, err := h.run(t, segs)
		require.NoError(t, err)
		assert.Equal(t, len(segs), second.CacheHits)

		cached, err = os.ReadFile(second.ArtifactPath)
		require.NoError(t, err)

		return uncached, cached
	}

	serial, serialCached := render(1)
	parallel, parallelCached := render(4)

	assert.Equal(t, serial, parallel)
	assert.Equal(t, serial, serialCached)
	assert.Equal(t, serial, parallelCached)
}

func TestSynthesizeDocument_ConcurrentSameFingerprint(t *testing.T) {
	t.Parallel()

	primary := newFakeEngine(primaryID, tone)
	primary.delay = func(string) time.Duration { return 200 * time.Millisecond }

	h := newHarness(t, harnessConfig{engines: []core.Engine{primary}, workers: 4})

	segs := make([]core.TextSegment, 4)
	for i := range segs {
		segs[i] = core.TextSegment{Index: i, Content: "seg-0"}
	}

	result, err := h.run(t, segs)
	require.NoError(t, err)

	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, orchestrator.CompletenessFull, result.Completeness)
}

func TestSynthesizeDocument_FailurePolicies(t *testing.T) {
	t.Parallel()

	failing := func(text string) (core.RawAudio, error) {
		if text == "seg-1" {
			return core.RawAudio{}, core.NewEngineError(primaryID, core.ErrRejected, errors.New("bad input"))
		}

		return tone(text)
	}

	t.Run("silence", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, harnessConfig{engines: []core.Engine{newFakeEngine(primaryID, failing)}})

		result, err := h.run(t, segments(3))
		require.NoError(t, err)

		assert.Equal(t, orchestrator.CompletenessPartial, result.Completeness)
		require.Len(t, result.Failures, 1)
		assert.Equal(t, 1, result.Failures[0].Index)
		require.ErrorIs(t, result.Failures[0].Err, orchestrator.ErrAllEnginesFailed)
		require.ErrorIs(t, result.Failures[0].Err, core.ErrRejected)
		assert.Equal(t, "FailedTerminal", result.Jobs[1].Summary())
		assert.Equal(t, []int16{1000, 3000}, runs(samplesOf(t, result.ArtifactPath)))
		// One word at 150 wpm.
		assert.Equal(t, 2*chunkSamples*time.Second/testRate+400*time.Millisecond, result.AudioLength)
	})

	t.Run("abort", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, harnessConfig{
			engines: []core.Engine{newFakeEngine(primaryID, failing)},
			opts:    orchestrator.Options{FailurePolicy: orchestrator.FailurePolicyAbort},
		})

		result, err := h.run(t, segments(3))
		require.ErrorIs(t, err, orchestrator.ErrDocumentAborted)
		assert.Empty(t, result.ArtifactPath)

		entries, readErr := os.ReadDir(h.dir)
		require.NoError(t, readErr)
		assert.Empty(t, entries)
	})

	t.Run("nothing synthesized", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, harnessConfig{engines: []core.Engine{newFakeEngine(primaryID, failWith(primaryID, core.ErrResource))}})

		result, err := h.run(t, segments(2))
		require.ErrorIs(t, err, orchestrator.ErrNothingSynthesized)
		assert.Equal(t, orchestrator.CompletenessNone, result.Completeness)
		assert.Len(t, result.Failures, 2)
	})
}

func TestSynthesizeDocument_SilenceKeepsSegmentIndex(t *testing.T) {
	t.Parallel()

	failing := func(text string) (core.RawAudio, error) {
		if text == "seg-1" {
			return core.RawAudio{}, core.NewEngineError(primaryID, core.ErrRejected, errors.New("bad input"))
		}

		return tone(text)
	}

	h := newHarness(t, harnessConfig{engines: []core.Engine{newFakeEngine(primaryID, failing)}})

	segs := segments(3)
	for i := range segs {
		segs[i].Index = 10 + i
		segs[i].PauseAfter = 50 * time.Millisecond
	}

	result, err := h.run(t, segs)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.CompletenessPartial, result.Completeness)
	assert.Equal(t, 11, result.Failures[0].Index)

	samples := samplesOf(t, result.ArtifactPath)
	// Two tones, one 400ms placeholder and two 50ms pauses at 8 kHz.
	require.Len(t, samples, 2*chunkSamples+3200+2*400)
	assert.Equal(t, int16(1000), samples[0])
	assert.Equal(t, int16(1000), samples[chunkSamples-1])
	assert.Zero(t, samples[chunkSamples])
	assert.Equal(t, int16(3000), samples[len(samples)-1])
}

func TestSynthesizeDocument_AuthIsFatal(t *testing.T) {
	t.Parallel()

	fallback := newFakeEngine(fallbackID, tone)
	h := newHarness(t, harnessConfig{
		engines: []core.Engine{newFakeEngine(primaryID, failWith(primaryID, core.ErrAuth)), fallback},
		opts:    orchestrator.Options{FallbackEngine: fallbackID},
	})

	_, err := h.run(t, segments(3))
	require.ErrorIs(t, err, core.ErrAuth)
	assert.Zero(t, fallback.calls.Load())
}

func TestSynthesizeDocument_QuotaIsFatal(t *testing.T) {
	t.Parallel()

	primary := newFakeEngine(primaryID, failWith(primaryID, core.ErrQuota))
	fallback := newFakeEngine(fallbackID, tone)

	h := newHarness(t, harnessConfig{
		engines: []core.Engine{primary, fallback},
		opts:    orchestrator.Options{FallbackEngine: fallbackID, QuotaCooldown: time.Hour},
	})

	result, err := h.run(t, segments(3))
	require.ErrorIs(t, err, core.ErrQuota)
	assert.Contains(t, err.Error(), primaryID)
	assert.Empty(t, result.ArtifactPath)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Zero(t, fallback.calls.Load())

	// The cooldown fails the next document without calling the engine.
	_, err = h.run(t, segments(3))
	require.ErrorIs(t, err, core.ErrQuota)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Zero(t, fallback.calls.Load())

	entries, readErr := os.ReadDir(h.dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestSynthesizeDocument_LocalEngineIsNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		respond func(string) (core.RawAudio, error)
		delay   time.Duration
		local   bool
		calls   int
		kind    error
	}{
		{
			name:    "local timeout",
			respond: tone,
			delay:   time.Second,
			local:   true,
			calls:   1,
			kind:    core.ErrResource,
		},
		{
			name:    "local empty audio",
			respond: func(string) (core.RawAudio, error) { return core.RawAudio{SampleRate: testRate, Channels: 1}, nil },
			local:   true,
			calls:   1,
			kind:    core.ErrResource,
		},
		{
			name:    "networked timeout",
			respond: tone,
			delay:   time.Second,
			calls:   3,
			kind:    core.ErrTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			primary := newFakeEngine(primaryID, tt.respond)
			primary.local = tt.local

			if tt.delay > 0 {
				primary.delay = func(string) time.Duration { return tt.delay }
			}

			h := newHarness(t, harnessConfig{
				engines: []core.Engine{primary},
				opts: orchestrator.Options{
					MaxAttempts:    3,
					EngineTimeouts: map[string]time.Duration{primaryID: 20 * time.Millisecond},
				},
			})

			result, err := h.run(t, segments(1))
			require.ErrorIs(t, err, orchestrator.ErrNothingSynthesized)
			assert.Equal(t, tt.calls, primary.callsFor("seg-0"))

			require.Len(t, result.Failures, 1)
			require.ErrorIs(t, result.Failures[0].Err, tt.kind)
		})
	}
}

func TestSynthesizeDocument_UnsupportedVoiceHasNoFallback(t *testing.T) {
	t.Parallel()

	primary := newFakeEngine(primaryID, tone)
	primary.voices = []string{"bob"}
	fallback := newFakeEngine(fallbackID, tone)

	h := newHarness(t, harnessConfig{
		engines: []core.Engine{primary, fallback},
		opts:    orchestrator.Options{FallbackEngine: fallbackID},
	})

	result, err := h.run(t, segments(2))
	require.ErrorIs(t, err, orchestrator.ErrNothingSynthesized)
	assert.Zero(t, primary.calls.Load())
	assert.Zero(t, fallback.calls.Load())

	for _, failure := range result.Failures {
		require.ErrorIs(t, failure.Err, core.ErrUnsupportedVoice)
	}
}

// brokenStore fails every operation.
type brokenStore struct{}

var errDisk = errors.New("disk on fire")

func (brokenStore) Download(context.Context, string) ([]byte, error) { return nil, errDisk }
func (brokenStore) Upload(context.Context, string, []byte) error     { return errDisk }
func (brokenStore) Delete(context.Context, string) error             { return errDisk }

func TestSynthesizeDocument_CacheFailureIsMiss(t *testing.T) {
	t.Parallel()

	primary := newFakeEngine(primaryID, tone)
	h := newHarness(t, harnessConfig{engines: []core.Engine{primary}, store: brokenStore{}})

	result, err := h.run(t, segments(2))
	require.NoError(t, err)
	assert.Equal(t, orchestrator.CompletenessFull, result.Completeness)
	assert.Equal(t, int32(2), primary.calls.Load())
}

func TestSynthesizeDocument_WithoutCache(t *testing.T) {
	t.Parallel()

	primary := newFakeEngine(primaryID, tone)
	h := newHarness(t, harnessConfig{engines: []core.Engine{primary}, noCache: true})

	segs := []core.TextSegment{{Index: 0, Content: "seg-0"}, {Index: 1, Content: "seg-0"}}

	result, err := h.run(t, segs)
	require.NoError(t, err)
	assert.Zero(t, result.CacheHits)
	assert.Equal(t, int32(2), primary.calls.Load())

	_, ok := h.orch.CacheStats()
	assert.False(t, ok)
}

func TestSynthesizeDocument_Errors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessConfig{engines: []core.Engine{newFakeEngine(primaryID, tone)}})

	_, err := h.run(t, nil)
	require.ErrorIs(t, err, orchestrator.ErrNoSegments)

	_, err = h.orch.SynthesizeDocument(context.Background(), orchestrator.DocumentRequest{ProfileName: "missing", Segments: segments(1)})
	require.ErrorIs(t, err, profiles.ErrProfileNotFound)
}

func TestNew_RejectsUnknownFallback(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "orchestrator-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	_, err = orchestrator.New(orchestrator.Dependencies{}, orchestrator.Options{})
	require.ErrorIs(t, err, orchestrator.ErrMissingDependency)

	chain, err := audio.NewChain(audio.Settings{Output: audio.Output{Format: audio.FormatWAV, SampleRate: testRate, Channels: 1}}, nil)
	require.NoError(t, err)

	store, err := profiles.New()
	require.NoError(t, err)

	sched := scheduler.New(1, nil, nil)
	defer sched.Close()

	_, err = orchestrator.New(orchestrator.Dependencies{
		Engines:   engine.NewRegistry(),
		Profiles:  store,
		Chain:     chain,
		Scheduler: sched,
		Sink:      orchestrator.FileSink{Dir: t.TempDir()},
		Log:       log,
	}, orchestrator.Options{FallbackEngine: "ghost"})
	require.ErrorIs(t, err, engine.ErrEngineUnknown)
}

func TestMergePause(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 700*time.Millisecond, orchestrator.MergePause(300*time.Millisecond, 400*time.Millisecond, orchestrator.PauseMergeSum))
	assert.Equal(t, 400*time.Millisecond, orchestrator.MergePause(300*time.Millisecond, 400*time.Millisecond, orchestrator.PauseMergeMax))
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	limit := time.Second

	assert.Equal(t, base, orchestrator.ExponentialBackoff(0, base, limit))
	assert.Equal(t, 200*time.Millisecond, orchestrator.ExponentialBackoff(1, base, limit))
	assert.Equal(t, 800*time.Millisecond, orchestrator.ExponentialBackoff(3, base, limit))
	assert.Equal(t, limit, orchestrator.ExponentialBackoff(4, base, limit))
	assert.Equal(t, limit, orchestrator.ExponentialBackoff(40, base, limit))
}

func TestAssemble_SortsByIndex(t *testing.T) {
	t.Parallel()

	chunk := func(index int, level float64) core.AudioChunk {
		return core.AudioChunk{Index: index, Samples: []float64{level, level}, SampleRate: 10, Channels: 1}
	}

	segs := []core.TextSegment{{Index: 0, PauseAfter: 100 * time.Millisecond}, {Index: 1}}

	out := orchestrator.Assemble([]core.AudioChunk{chunk(1, 0.5), chunk(0, 0.25)}, segs, orchestrator.PauseMergeSum, 10, 1)
	assert.Equal(t, []float64{0.25, 0.25, 0, 0.5, 0.5}, out.Samples)
}
