// Package orchestrator drives text segments through the cache, the engines and
// the post-processing chain, then assembles the document in segment order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/book-expert/logger"
	"github.com/book-expert/narrator/internal/audio"
	"github.com/book-expert/narrator/internal/cache"
	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/engine"
	"github.com/book-expert/narrator/internal/observability"
	"github.com/book-expert/narrator/internal/profiles"
	"github.com/book-expert/narrator/internal/scheduler"
)

// Failure policies for segments that end FailedTerminal.
const (
	FailurePolicySilence = "silence"
	FailurePolicyAbort   = "abort"
)

// Pause merge modes for the silence between two segments.
const (
	PauseMergeSum = "sum"
	PauseMergeMax = "max"
)

// Completeness of an assembled document.
const (
	CompletenessFull    = "full"
	CompletenessPartial = "partial"
	CompletenessNone    = "none"
)

// Errors surfaced to callers.
var (
	ErrNoSegments         = errors.New("document has no segments")
	ErrDocumentAborted    = errors.New("document aborted after segment failure")
	ErrAllEnginesFailed   = errors.New("all engines failed")
	ErrNothingSynthesized = errors.New("no segment could be synthesized")
	ErrMissingDependency  = errors.New("orchestrator dependency missing")
)

const (
	defaultMaxAttempts    = 3
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 10 * time.Second
	defaultQuotaCooldown  = 5 * time.Minute
	defaultEngineTimeout  = 2 * time.Minute
	defaultWordsPerMinute = 150
	maxSharedRetries      = 3
)

// Dependencies are the collaborators of an Orchestrator. Cache and Metrics may
// be nil.
type Dependencies struct {
	Engines   *engine.Registry
	Profiles  *profiles.Store
	Cache     *cache.Cache
	Chain     *audio.Chain
	Scheduler *scheduler.Scheduler
	Sink      ArtifactSink
	Metrics   *observability.Metrics
	Log       *logger.Logger
}

// Options tune retry, fallback and assembly.
type Options struct {
	// Now is the clock; nil means time.Now.
	Now            func() time.Time
	EngineTimeouts map[string]time.Duration
	FallbackEngine string
	FallbackVoice  string
	FailurePolicy  string
	PauseMerge     string
	MaxAttempts    int
	WordsPerMinute int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	QuotaCooldown  time.Duration
}

// DocumentRequest asks for one document to be synthesized. An empty ID gets a
// generated one; an empty OutputPath becomes "<ID>.<format>". Params override
// the profile's engine parameters for this document only.
type DocumentRequest struct {
	Params       map[string]string
	ID           string
	ProfileName  string
	OutputFormat audio.Format
	OutputPath   string
	Segments     []core.TextSegment
}

// SegmentFailure describes a segment that produced no audio.
type SegmentFailure struct {
	Err         error
	Fingerprint core.Fingerprint
	Engines     []string
	Index       int
}

// Result is the outcome of SynthesizeDocument.
type Result struct {
	DocumentID   string
	ArtifactPath string
	Completeness string
	Failures     []SegmentFailure
	Jobs         []Job
	Duration     time.Duration
	AudioLength  time.Duration
	CacheHits    int
}

// Orchestrator is safe for concurrent use by multiple documents.
type Orchestrator struct {
	deps      Dependencies
	cooldowns *cooldowns
	opts      Options
}

// New validates deps and fills option defaults.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Engines == nil:
		return nil, fmt.Errorf("%w: engines", ErrMissingDependency)
	case deps.Profiles == nil:
		return nil, fmt.Errorf("%w: profiles", ErrMissingDependency)
	case deps.Chain == nil:
		return nil, fmt.Errorf("%w: post-processing chain", ErrMissingDependency)
	case deps.Scheduler == nil:
		return nil, fmt.Errorf("%w: scheduler", ErrMissingDependency)
	case deps.Sink == nil:
		return nil, fmt.Errorf("%w: artifact sink", ErrMissingDependency)
	case deps.Log == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}

	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}

	if opts.QuotaCooldown <= 0 {
		opts.QuotaCooldown = defaultQuotaCooldown
	}

	if opts.WordsPerMinute <= 0 {
		opts.WordsPerMinute = defaultWordsPerMinute
	}

	if opts.FailurePolicy == "" {
		opts.FailurePolicy = FailurePolicySilence
	}

	if opts.PauseMerge == "" {
		opts.PauseMerge = PauseMergeSum
	}

	if opts.FallbackEngine != "" {
		_, err := deps.Engines.Get(opts.FallbackEngine)
		if err != nil {
			return nil, fmt.Errorf("fallback engine: %w", err)
		}
	}

	return &Orchestrator{deps: deps, opts: opts, cooldowns: newCooldowns()}, nil
}

// CacheStats reports cache occupancy. ok is false when caching is disabled.
func (o *Orchestrator) CacheStats() (cache.Stats, bool) {
	if o.deps.Cache == nil {
		return cache.Stats{}, false
	}

	return o.deps.Cache.Stats(), true
}

// segmentOutcome is what one segment task leaves behind.
type segmentOutcome struct {
	failure *SegmentFailure
	chunk   *core.AudioChunk
}

// SynthesizeDocument synthesizes every segment, assembles them in Index order
// and writes the encoded artifact. Segment failures are handled by the
// failure policy; authentication failures end the document.
func (o *Orchestrator) SynthesizeDocument(ctx context.Context, req DocumentRequest) (Result, error) {
	started := o.opts.Now()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	result := Result{DocumentID: req.ID, Completeness: CompletenessNone}

	if len(req.Segments) == 0 {
		return result, ErrNoSegments
	}

	profile, err := o.deps.Profiles.Get(req.ProfileName)
	if err != nil {
		return result, err
	}

	profile = withParams(profile, req.Params)

	primary, err := o.deps.Engines.Get(profile.Engine)
	if err != nil {
		return result, fmt.Errorf("profile %q: %w", profile.Name, err)
	}

	o.deps.Log.Info("Document %s: synthesizing %d segments with profile %s on %s",
		req.ID, len(req.Segments), profile.Name, primary.ID())

	docCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	records := make([]*jobRecord, len(req.Segments))
	outcomes := make([]segmentOutcome, len(req.Segments))
	tasks := make([]scheduler.Task, len(req.Segments))

	for i, segment := range req.Segments {
		records[i] = newJobRecord(segment, profile, primary.ID(), o.opts.Now)
		tasks[i] = scheduler.Task{Index: i, Run: func(taskCtx context.Context) error {
			chunk, failure, fatal := o.runSegment(taskCtx, req.ID, records[i], primary)
			outcomes[i] = segmentOutcome{chunk: chunk, failure: failure}

			if fatal != nil {
				cancel(fatal)

				return fatal
			}

			if failure != nil && o.opts.FailurePolicy == FailurePolicyAbort {
				cancel(fmt.Errorf("%w: segment %d: %w", ErrDocumentAborted, failure.Index, failure.Err))
			}

			return nil
		}}
	}

	for range o.deps.Scheduler.Submit(docCtx, req.ID, tasks) {
	}

	for _, record := range records {
		job := record.snapshot()
		result.Jobs = append(result.Jobs, job)

		if job.Cached {
			result.CacheHits++
		}

		o.deps.Metrics.SegmentFinished(job.State.String())
	}

	for _, outcome := range outcomes {
		if outcome.failure != nil {
			result.Failures = append(result.Failures, *outcome.failure)
		}
	}

	if cause := context.Cause(docCtx); cause != nil && docCtx.Err() != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		o.deps.Log.Error("Document %s stopped: %v", req.ID, cause)

		return result, cause
	}

	return o.finish(ctx, req, result, outcomes, started)
}

// finish applies the failure policy, assembles and writes the artifact.
func (o *Orchestrator) finish(ctx context.Context, req DocumentRequest, result Result, outcomes []segmentOutcome, started time.Time) (Result, error) {
	succeeded := 0

	for i := range outcomes {
		if outcomes[i].chunk != nil {
			succeeded++

			continue
		}

		segment := req.Segments[i]
		silence := audio.Silence(o.estimateDuration(segment.Content), o.deps.Chain.OutputSampleRate(), o.deps.Chain.OutputChannels()).Chunk(segment.Index)
		outcomes[i].chunk = &silence
	}

	if succeeded == 0 {
		o.deps.Log.Error("Document %s: no segment could be synthesized", req.ID)

		return result, ErrNothingSynthesized
	}

	result.Completeness = CompletenessFull
	if succeeded < len(outcomes) {
		result.Completeness = CompletenessPartial
	}

	chunks := make([]core.AudioChunk, len(outcomes))
	for i := range outcomes {
		chunks[i] = *outcomes[i].chunk
	}

	assembled := Assemble(chunks, req.Segments, o.opts.PauseMerge, o.deps.Chain.OutputSampleRate(), o.deps.Chain.OutputChannels())

	data, err := o.deps.Chain.EncodeAs(ctx, assembled, req.OutputFormat)
	if err != nil {
		return result, fmt.Errorf("encoding document %s: %w", req.ID, err)
	}

	format := req.OutputFormat
	if format == "" {
		format = o.deps.Chain.OutputFormat()
	}

	name := req.OutputPath
	if name == "" {
		name = fmt.Sprintf("%s.%s", req.ID, format)
	}

	location, err := o.deps.Sink.Write(ctx, name, data)
	if err != nil {
		return result, err
	}

	result.ArtifactPath = location
	result.AudioLength = assembled.Duration()
	result.Duration = o.opts.Now().Sub(started)

	o.deps.Metrics.DocumentFinished(result.Duration)
	o.deps.Log.Info("Document %s: wrote %s (%s, %d/%d segments, %d cache hits)",
		req.ID, location, result.Completeness, succeeded, len(outcomes), result.CacheHits)

	return result, nil
}

// estimateDuration sizes a silence placeholder from the word count.
func (o *Orchestrator) estimateDuration(content string) time.Duration {
	words := len(strings.Fields(content))

	return time.Duration(words) * time.Minute / time.Duration(o.opts.WordsPerMinute)
}

// runSegment moves one job through primary, retries and fallback. It returns
// the processed chunk, or a failure, or a fatal error that ends the document.
func (o *Orchestrator) runSegment(ctx context.Context, docID string, record *jobRecord, primary core.Engine) (*core.AudioChunk, *SegmentFailure, error) {
	job := record.snapshot()
	segment := job.Segment
	profile := withEmphasis(job.Profile, segment.Emphasis)
	attempted := []string{primary.ID()}

	var err error

	switch {
	case !primary.Supports(profile):
		err = core.NewEngineError(primary.ID(), core.ErrUnsupportedVoice, fmt.Errorf("voice %q", profile.Voice))
	case o.cooldowns.active(primary.ID(), o.opts.Now()):
		err = core.NewEngineError(primary.ID(), core.ErrQuota, errors.New("engine cooling down"))
	default:
		var raw core.RawAudio

		raw, err = o.synthesize(ctx, docID, record, primary, profile, o.opts.MaxAttempts)
		if err == nil {
			return o.succeed(record, primary.ID(), raw), nil, nil
		}
	}

	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	if isFatal(err) {
		record.transition(StateFailedTerminal, primary.ID(), err)

		return nil, nil, fmt.Errorf("segment %d: %w", segment.Index, err)
	}

	fallback, fallbackProfile, ok := o.fallbackFor(primary, profile, err)
	if !ok {
		return nil, o.fail(docID, record, primary.ID(), attempted, err), nil
	}

	o.deps.Metrics.Fallback(primary.ID())
	record.transition(StateFailedFallback, primary.ID(), err)
	o.deps.Log.Warn("Document %s segment %d: %s failed (%v), falling back to %s",
		docID, segment.Index, primary.ID(), err, fallback.ID())

	attempted = append(attempted, fallback.ID())

	raw, fallbackErr := o.synthesize(ctx, docID, record, fallback, fallbackProfile, 1)
	if fallbackErr == nil {
		return o.succeed(record, fallback.ID(), raw), nil, nil
	}

	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	if isFatal(fallbackErr) {
		record.transition(StateFailedTerminal, fallback.ID(), fallbackErr)

		return nil, nil, fmt.Errorf("segment %d: %w", segment.Index, fallbackErr)
	}

	return nil, o.fail(docID, record, fallback.ID(), attempted, errors.Join(err, fallbackErr)), nil
}

// isFatal reports failures that end the whole document: credentials or paid
// quota on an engine are exhausted and every later segment would fail the same way.
func isFatal(err error) bool {
	return errors.Is(err, core.ErrAuth) || errors.Is(err, core.ErrQuota)
}

// fallbackFor decides whether err on primary may be handed to the fallback engine.
func (o *Orchestrator) fallbackFor(primary core.Engine, profile core.VoiceProfile, err error) (core.Engine, core.VoiceProfile, bool) {
	if o.opts.FallbackEngine == "" || o.opts.FallbackEngine == primary.ID() || errors.Is(err, core.ErrUnsupportedVoice) {
		return nil, profile, false
	}

	fallback, lookupErr := o.deps.Engines.Get(o.opts.FallbackEngine)
	if lookupErr != nil {
		return nil, profile, false
	}

	fallbackProfile := profile
	fallbackProfile.Engine = fallback.ID()

	if o.opts.FallbackVoice != "" {
		fallbackProfile.Voice = o.opts.FallbackVoice
	}

	if !fallback.Supports(fallbackProfile) {
		return nil, profile, false
	}

	if o.cooldowns.active(fallback.ID(), o.opts.Now()) {
		return nil, profile, false
	}

	return fallback, fallbackProfile, true
}

func (o *Orchestrator) succeed(record *jobRecord, engineID string, raw core.RawAudio) *core.AudioChunk {
	record.transition(StateSucceeded, engineID, nil)

	chunk := o.deps.Chain.Process(record.snapshot().Segment.Index, raw)

	return &chunk
}

func (o *Orchestrator) fail(docID string, record *jobRecord, engineID string, attempted []string, err error) *SegmentFailure {
	record.transition(StateFailedTerminal, engineID, err)

	job := record.snapshot()
	o.deps.Log.Error("Document %s segment %d failed on %s: %v", docID, job.Segment.Index, strings.Join(attempted, ", "), err)

	return &SegmentFailure{
		Index:       job.Segment.Index,
		Fingerprint: job.Fingerprint,
		Engines:     attempted,
		Err:         fmt.Errorf("%w: %w", ErrAllEnginesFailed, err),
	}
}

// synthesize returns audio for the segment on eng, from the cache when
// possible. Concurrent requests for one fingerprint share a single engine
// call sequence of up to attempts tries.
func (o *Orchestrator) synthesize(ctx context.Context, docID string, record *jobRecord, eng core.Engine, profile core.VoiceProfile, attempts int) (core.RawAudio, error) {
	content := record.snapshot().Segment.Content
	fp := cache.Fingerprint(content, profile, eng.ID())

	raw, hit := o.lookup(ctx, fp)
	if hit {
		record.setCached(fp, true)
		record.transition(StateInFlight, eng.ID(), nil)

		return raw, nil
	}

	record.setCached(fp, false)

	call := func() (core.RawAudio, error) {
		return o.callWithRetry(ctx, docID, record, eng, profile, content, fp, attempts)
	}

	if o.deps.Cache == nil {
		return call()
	}

	for range maxSharedRetries {
		raw, shared, err := o.deps.Cache.Do(ctx, fp, call)
		if err == nil {
			if shared {
				record.transition(StateInFlight, eng.ID(), nil)
			}

			return raw, nil
		}

		// A shared call ended by another document's cancellation says nothing
		// about this one; run it again.
		if shared && ctx.Err() == nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			continue
		}

		return core.RawAudio{}, err
	}

	return call()
}

func (o *Orchestrator) lookup(ctx context.Context, fp core.Fingerprint) (core.RawAudio, bool) {
	if o.deps.Cache == nil {
		return core.RawAudio{}, false
	}

	_, raw, ok, err := o.deps.Cache.Get(ctx, fp)
	if err != nil {
		o.deps.Metrics.CacheLookup("error")
		o.deps.Log.Warn("Cache read failed for %s, treating as miss: %v", fp, err)

		return core.RawAudio{}, false
	}

	if !ok {
		o.deps.Metrics.CacheLookup("miss")

		return core.RawAudio{}, false
	}

	o.deps.Metrics.CacheLookup("hit")

	return *raw, true
}

// callWithRetry calls eng until success, a non-transient failure, or attempts
// run out. Successful audio is written to the cache before returning.
func (o *Orchestrator) callWithRetry(ctx context.Context, docID string, record *jobRecord, eng core.Engine, profile core.VoiceProfile, content string, fp core.Fingerprint, attempts int) (core.RawAudio, error) {
	for attempt := 0; ; attempt++ {
		record.transition(StateInFlight, eng.ID(), nil)

		raw, err := o.call(ctx, eng, content, profile)
		if err == nil {
			o.store(ctx, fp, raw, eng.ID())

			return raw, nil
		}

		if errors.Is(err, core.ErrQuota) {
			until := o.opts.Now().Add(o.opts.QuotaCooldown)
			o.cooldowns.start(eng.ID(), until)
			o.deps.Log.Warn("Engine %s quota exhausted, cooling down until %s", eng.ID(), until.Format(time.RFC3339))
		}

		if ctx.Err() != nil || !core.IsTransient(err) || attempt+1 >= attempts {
			return core.RawAudio{}, err
		}

		record.transition(StateRetrying, eng.ID(), err)
		o.deps.Metrics.Retry(eng.ID())

		delay := fullJitter(ExponentialBackoff(attempt, o.opts.BaseDelay, o.opts.MaxDelay))
		o.deps.Log.Warn("Document %s segment %d: %s attempt %d failed (%v), retrying in %s",
			docID, record.snapshot().Segment.Index, eng.ID(), attempt+1, err, delay)

		sleepErr := sleepContext(ctx, delay)
		if sleepErr != nil {
			return core.RawAudio{}, sleepErr
		}
	}
}

// call performs one engine request under the engine's limiter and hard timeout.
func (o *Orchestrator) call(ctx context.Context, eng core.Engine, content string, profile core.VoiceProfile) (core.RawAudio, error) {
	release, err := o.deps.Scheduler.Acquire(ctx, eng.ID())
	if err != nil {
		return core.RawAudio{}, err
	}
	defer release()

	timeout := defaultEngineTimeout
	if configured, ok := o.opts.EngineTimeouts[eng.ID()]; ok && configured > 0 {
		timeout = configured
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	raw, err := eng.Synthesize(callCtx, content, profile)

	// Local engines never fail transiently.
	kind := core.ErrTransient
	if eng.Capability() == core.CapabilityLocal {
		kind = core.ErrResource
	}

	if err == nil && len(raw.PCM) == 0 {
		err = core.NewEngineError(eng.ID(), kind, errors.New("engine returned no audio"))
	}

	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		var engineErr *core.EngineError
		if !errors.As(err, &engineErr) {
			err = core.NewEngineError(eng.ID(), kind, err)
		}
	}

	o.deps.Metrics.ObserveEngineCall(eng.ID(), time.Since(started), err)

	return raw, err
}

func (o *Orchestrator) store(ctx context.Context, fp core.Fingerprint, raw core.RawAudio, engineID string) {
	if o.deps.Cache == nil {
		return
	}

	err := o.deps.Cache.Put(ctx, fp, raw, engineID)
	if err != nil {
		o.deps.Log.Warn("Cache write failed for %s: %v", fp, err)
	}
}

func withParams(profile core.VoiceProfile, overrides map[string]string) core.VoiceProfile {
	if len(overrides) == 0 {
		return profile
	}

	params := make(map[string]string, len(profile.Params)+len(overrides))
	maps.Copy(params, profile.Params)
	maps.Copy(params, overrides)
	profile.Params = params

	return profile
}

// withEmphasis passes segment emphasis to the engine as a parameter, so
// emphasized and plain renditions of the same words cache separately.
func withEmphasis(profile core.VoiceProfile, emphasis core.Emphasis) core.VoiceProfile {
	if emphasis == core.EmphasisNone {
		return profile
	}

	params := make(map[string]string, len(profile.Params)+1)
	maps.Copy(params, profile.Params)

	params[engine.ParamEmphasis] = string(emphasis)
	profile.Params = params

	return profile
}
