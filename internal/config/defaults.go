package config

import (
	"fmt"
	"time"
)

// Default values applied when a field is left at its zero value.
const (
	defaultFailurePolicy    = FailurePolicySilence
	defaultPauseMerge       = PauseMergeMax
	defaultWordsPerMinute   = 160
	defaultMaxAttempts      = 3
	defaultBaseDelayMs      = 500
	defaultMaxDelayMs       = 8000
	defaultQuotaCooldownSec = 300
	defaultCacheBackend     = CacheBackendFile
	defaultCacheIndex       = CacheIndexSQLite
	defaultCacheMaxSizeMB   = 100
	defaultCacheMaxAgeDays  = 7
	defaultCacheCleanupMin  = 24 * 60
	defaultMaxChars         = 400
	defaultClausePauseMs    = 250
	defaultSentencePauseMs  = 500
	defaultParagraphPauseMs = 1000
	defaultTargetDBFS       = -20.0
	defaultNoiseStrength    = 0.5
	defaultOutputFormat     = "wav"
	defaultOutputRate       = 24000
	defaultOutputChannels   = 1
	defaultFFmpegPath       = "ffmpeg"
	defaultMaxWorkers       = 4
	defaultEngineTimeoutSec = 60
	defaultJobTimeoutSec    = 600
	defaultMetricsAddr      = ":9464"
	defaultMetricsNamespace = "narrator"
	defaultVolume           = 1.0
)

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Synthesis.FailurePolicy == "" {
		c.Synthesis.FailurePolicy = defaultFailurePolicy
	}

	if c.Synthesis.PauseMerge == "" {
		c.Synthesis.PauseMerge = defaultPauseMerge
	}

	if c.Synthesis.WordsPerMinute <= 0 {
		c.Synthesis.WordsPerMinute = defaultWordsPerMinute
	}

	c.applyRetryDefaults()
	c.applyCacheDefaults()
	c.applyChunkerDefaults()
	c.applyOutputDefaults()

	if c.PostProcess.Normalization.TargetDBFS == 0 {
		c.PostProcess.Normalization.TargetDBFS = defaultTargetDBFS
	}

	if c.PostProcess.NoiseReduction.Strength == 0 {
		c.PostProcess.NoiseReduction.Strength = defaultNoiseStrength
	}

	if c.PostProcess.Effects.Volume == 0 {
		c.PostProcess.Effects.Volume = defaultVolume
	}

	if c.Scheduler.MaxWorkers <= 0 {
		c.Scheduler.MaxWorkers = defaultMaxWorkers
	}

	if c.NATS.JobTimeoutSeconds <= 0 {
		c.NATS.JobTimeoutSeconds = defaultJobTimeoutSec
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = defaultMetricsAddr
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaultMetricsNamespace
	}

	for id, engine := range c.Engines {
		if engine.TimeoutSeconds <= 0 {
			engine.TimeoutSeconds = defaultEngineTimeoutSec
		}

		c.Engines[id] = engine
	}
}

func (c *Config) applyRetryDefaults() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaultMaxAttempts
	}

	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = defaultBaseDelayMs
	}

	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = defaultMaxDelayMs
	}

	if c.Retry.QuotaCooldownSeconds <= 0 {
		c.Retry.QuotaCooldownSeconds = defaultQuotaCooldownSec
	}
}

func (c *Config) applyCacheDefaults() {
	if c.Cache.Backend == "" {
		c.Cache.Backend = defaultCacheBackend
	}

	if c.Cache.Index == "" {
		c.Cache.Index = defaultCacheIndex
	}

	if c.Cache.MaxSizeMB <= 0 {
		c.Cache.MaxSizeMB = defaultCacheMaxSizeMB
	}

	if c.Cache.MaxAgeDays <= 0 {
		c.Cache.MaxAgeDays = defaultCacheMaxAgeDays
	}

	if c.Cache.CleanupIntervalMinutes <= 0 {
		c.Cache.CleanupIntervalMinutes = defaultCacheCleanupMin
	}
}

func (c *Config) applyChunkerDefaults() {
	if c.Chunker.MaxChars <= 0 {
		c.Chunker.MaxChars = defaultMaxChars
	}

	if c.Chunker.ClausePauseMs <= 0 {
		c.Chunker.ClausePauseMs = defaultClausePauseMs
	}

	if c.Chunker.SentencePauseMs <= 0 {
		c.Chunker.SentencePauseMs = defaultSentencePauseMs
	}

	if c.Chunker.ParagraphPauseMs <= 0 {
		c.Chunker.ParagraphPauseMs = defaultParagraphPauseMs
	}
}

func (c *Config) applyOutputDefaults() {
	if c.Output.Format == "" {
		c.Output.Format = defaultOutputFormat
	}

	if c.Output.SampleRate <= 0 {
		c.Output.SampleRate = defaultOutputRate
	}

	if c.Output.Channels <= 0 {
		c.Output.Channels = defaultOutputChannels
	}

	if c.Output.FFmpegPath == "" {
		c.Output.FFmpegPath = defaultFFmpegPath
	}
}

// Validate checks cross-field consistency after defaults have been applied.
func (c *Config) Validate() error {
	if len(c.Engines) == 0 {
		return ErrNoEngines
	}

	for id, engine := range c.Engines {
		if engine.Kind == "" {
			return fmt.Errorf("%w: engine %q", ErrEngineKindEmpty, id)
		}
	}

	if c.Synthesis.FallbackEngine != "" {
		if _, ok := c.Engines[c.Synthesis.FallbackEngine]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFallback, c.Synthesis.FallbackEngine)
		}
	}

	switch c.Synthesis.FailurePolicy {
	case FailurePolicySilence, FailurePolicyAbort:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFailurePolicy, c.Synthesis.FailurePolicy)
	}

	switch c.Synthesis.PauseMerge {
	case PauseMergeSum, PauseMergeMax:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPauseMerge, c.Synthesis.PauseMerge)
	}

	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		return fmt.Errorf("%w: max_delay_ms must be >= base_delay_ms", ErrInvalidRetry)
	}

	return c.validateCacheAndChunker()
}

func (c *Config) validateCacheAndChunker() error {
	switch c.Cache.Backend {
	case CacheBackendFile, CacheBackendNATS:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCacheBackend, c.Cache.Backend)
	}

	switch c.Cache.Index {
	case CacheIndexSQLite, CacheIndexMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCacheIndex, c.Cache.Index)
	}

	if c.Cache.Enabled && c.Cache.Backend == CacheBackendFile && c.Cache.Dir == "" {
		return fmt.Errorf("%w: dir is required for the file backend", ErrInvalidCache)
	}

	if c.Chunker.ClausePauseMs > c.Chunker.SentencePauseMs ||
		c.Chunker.SentencePauseMs > c.Chunker.ParagraphPauseMs {
		return fmt.Errorf("%w: pauses must satisfy clause <= sentence <= paragraph", ErrInvalidChunker)
	}

	return nil
}

// Millis converts a millisecond setting into a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Seconds converts a second setting into a duration.
func Seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
