// Package app assembles the narration pipeline from configuration. Both
// binaries build their collaborators through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/book-expert/narrator/internal/audio"
	"github.com/book-expert/narrator/internal/cache"
	"github.com/book-expert/narrator/internal/chunker"
	"github.com/book-expert/narrator/internal/config"
	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/engine"
	"github.com/book-expert/narrator/internal/fsutil"
	"github.com/book-expert/narrator/internal/objectstore"
	"github.com/book-expert/narrator/internal/observability"
	"github.com/book-expert/narrator/internal/orchestrator"
	"github.com/book-expert/narrator/internal/profiles"
	"github.com/book-expert/narrator/internal/scheduler"
)

// DefaultProfileName names the profile synthesized from configuration when
// synthesis.default_profile is unset.
const DefaultProfileName = "default"

const (
	bytesPerMB         = 1024 * 1024
	hoursPerDay        = 24
	cacheSubdir        = "blobs"
	defaultCacheBucket = "NARRATOR_CACHE"
)

// ErrNATSRequired is returned when the NATS cache backend has no JetStream.
var ErrNATSRequired = errors.New("nats cache backend requires a jetstream connection")

// Pipeline holds every collaborator of one running narrator.
type Pipeline struct {
	Config       *config.Config
	Engines      *engine.Registry
	Profiles     *profiles.Store
	Cache        *cache.Cache
	Chain        *audio.Chain
	Scheduler    *scheduler.Scheduler
	Chunker      *chunker.Chunker
	Metrics      *observability.Metrics
	Registry     *prometheus.Registry
	Orchestrator *orchestrator.Orchestrator
}

// Build constructs the pipeline. js is only needed for the NATS cache
// backend and may be nil otherwise.
func Build(ctx context.Context, cfg *config.Config, sink orchestrator.ArtifactSink, js nats.JetStreamContext, log *logger.Logger) (*Pipeline, error) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, registry)

	engines, err := engine.BuildRegistry(EngineOptions(cfg), log)
	if err != nil {
		return nil, err
	}

	profileStore, err := profiles.Load(cfg.Paths.ProfilesDir, DefaultProfile(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to load voice profiles: %w", err)
	}

	chain, err := audio.NewChain(ChainSettings(cfg), audio.NewEncoder(cfg.Output.FFmpegPath))
	if err != nil {
		return nil, err
	}

	policies := make(map[string]core.RateLimitPolicy)

	for _, id := range engines.IDs() {
		built, _ := engines.Get(id)
		policies[id] = built.RateLimit()
	}

	sched := scheduler.New(cfg.Scheduler.MaxWorkers, policies, metrics)

	synthCache, err := buildCache(ctx, cfg, js, metrics, log)
	if err != nil {
		sched.Close()

		return nil, err
	}

	deps := orchestrator.Dependencies{
		Engines:   engines,
		Profiles:  profileStore,
		Chain:     chain,
		Scheduler: sched,
		Sink:      sink,
		Cache:     synthCache,
		Metrics:   metrics,
		Log:       log,
	}

	orch, err := orchestrator.New(deps, OrchestratorOptions(cfg))
	if err != nil {
		sched.Close()

		return nil, err
	}

	log.Info("Pipeline ready: engines %v, %d workers, cache enabled: %t",
		engines.IDs(), sched.Workers(), synthCache != nil)

	return &Pipeline{
		Config:       cfg,
		Engines:      engines,
		Profiles:     profileStore,
		Cache:        synthCache,
		Chain:        chain,
		Scheduler:    sched,
		Chunker:      chunker.New(ChunkerOptions(cfg)),
		Metrics:      metrics,
		Registry:     registry,
		Orchestrator: orch,
	}, nil
}

// Close stops the scheduler and releases the cache index.
func (p *Pipeline) Close() error {
	p.Scheduler.Close()

	if p.Cache != nil {
		return p.Cache.Close()
	}

	return nil
}

// OpenCache opens the configured cache without building engines, for
// maintenance commands. It fails when caching is disabled.
func OpenCache(ctx context.Context, cfg *config.Config, js nats.JetStreamContext, log *logger.Logger) (*cache.Cache, error) {
	synthCache, err := buildCache(ctx, cfg, js, nil, log)
	if err != nil {
		return nil, err
	}

	if synthCache == nil {
		return nil, fmt.Errorf("%w: caching is disabled", config.ErrInvalidCache)
	}

	return synthCache, nil
}

func buildCache(ctx context.Context, cfg *config.Config, js nats.JetStreamContext, metrics *observability.Metrics, log *logger.Logger) (*cache.Cache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	dir := cfg.Cache.Dir
	if dir == "" {
		dir = fsutil.CacheDir()
	}

	var (
		store core.ObjectStore
		err   error
	)

	switch cfg.Cache.Backend {
	case config.CacheBackendNATS:
		if js == nil {
			return nil, ErrNATSRequired
		}

		bucket := cfg.NATS.CacheObjectStoreBucket
		if bucket == "" {
			bucket = defaultCacheBucket
		}

		store, err = objectstore.New(js, bucket)
	default:
		store, err = objectstore.NewFileStore(filepath.Join(dir, cacheSubdir))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	var index cache.Index

	if cfg.Cache.Index == config.CacheIndexMemory {
		index = cache.NewMemoryIndex()
	} else {
		ensureErr := fsutil.EnsureDir(dir)
		if ensureErr != nil {
			return nil, ensureErr
		}

		index, err = cache.NewSQLiteIndex(filepath.Join(dir, cache.IndexFileName))
		if err != nil {
			return nil, err
		}
	}

	synthCache, err := cache.New(ctx, store, index, cache.Options{
		MaxSizeBytes: int64(cfg.Cache.MaxSizeMB) * bytesPerMB,
		MaxAge:       time.Duration(cfg.Cache.MaxAgeDays) * hoursPerDay * time.Hour,
		OnEvict:      metrics.CacheEvicted,
	}, log)
	if err != nil {
		_ = index.Close()

		return nil, err
	}

	return synthCache, nil
}

// EngineOptions converts the engine sections into constructor options.
func EngineOptions(cfg *config.Config) []engine.Options {
	options := make([]engine.Options, 0, len(cfg.Engines))

	for _, id := range cfg.EngineIDs() {
		section := cfg.Engines[id]
		options = append(options, engine.Options{
			ID:            id,
			Kind:          section.Kind,
			URL:           section.URL,
			APIKeyEnv:     section.APIKeyEnv,
			Model:         section.Model,
			BinaryPath:    section.BinaryPath,
			ModelPath:     section.ModelPath,
			SnacModelPath: section.SnacModelPath,
			Voices:        section.Voices,
			SampleRate:    section.SampleRate,
			Timeout:       config.Seconds(section.TimeoutSeconds),
			MaxConcurrent: section.MaxConcurrent,
			MinInterval:   config.Millis(section.MinIntervalMs),
		})
	}

	return options
}

// DefaultProfile is the profile used when no profile file defines the
// configured default: the first engine that is not the fallback, with its
// first listed voice.
func DefaultProfile(cfg *config.Config) core.VoiceProfile {
	name := cfg.Synthesis.DefaultProfile
	if name == "" {
		name = DefaultProfileName
	}

	profile := core.VoiceProfile{Name: name, Version: 1, Rate: 1, Volume: 1}

	ids := cfg.EngineIDs()
	if len(ids) == 0 {
		return profile
	}

	profile.Engine = ids[0]

	for _, id := range ids {
		if id != cfg.Synthesis.FallbackEngine {
			profile.Engine = id

			break
		}
	}

	if voices := cfg.Engines[profile.Engine].Voices; len(voices) > 0 {
		profile.Voice = voices[0]
	}

	return profile
}

// ProfileName is the profile used when a request names none.
func ProfileName(cfg *config.Config) string {
	return DefaultProfile(cfg).Name
}

// ChainSettings converts the postprocess and output sections.
func ChainSettings(cfg *config.Config) audio.Settings {
	post := cfg.PostProcess

	return audio.Settings{
		NoiseReduction: audio.NoiseReduction{
			Enabled:    post.NoiseReduction.Enabled,
			Strength:   post.NoiseReduction.Strength,
			HighPassHz: post.NoiseReduction.HighPassHz,
		},
		Normalization: audio.Normalization{
			Enabled:    post.Normalization.Enabled,
			TargetDBFS: post.Normalization.TargetDBFS,
		},
		Effects: audio.Effects{
			Enabled:                post.Effects.Enabled,
			Reverb:                 post.Effects.Reverb,
			Echo:                   post.Effects.Echo,
			EchoDelay:              config.Millis(post.Effects.EchoDelayMs),
			CompressionRatio:       post.Effects.CompressionRatio,
			CompressionThresholdDB: post.Effects.CompressionThresholdDB,
			FadeIn:                 config.Millis(post.Effects.FadeInMs),
			FadeOut:                config.Millis(post.Effects.FadeOutMs),
			Volume:                 post.Effects.Volume,
			LowPassHz:              post.Effects.LowPassHz,
		},
		Output: audio.Output{
			Format:     audio.Format(cfg.Output.Format),
			SampleRate: cfg.Output.SampleRate,
			Channels:   cfg.Output.Channels,
		},
	}
}

// ChunkerOptions converts the chunker section.
func ChunkerOptions(cfg *config.Config) chunker.Options {
	return chunker.Options{
		MaxChars:       cfg.Chunker.MaxChars,
		ClausePause:    config.Millis(cfg.Chunker.ClausePauseMs),
		SentencePause:  config.Millis(cfg.Chunker.SentencePauseMs),
		ParagraphPause: config.Millis(cfg.Chunker.ParagraphPauseMs),
		Normalize:      cfg.Chunker.Normalize,
	}
}

// OrchestratorOptions converts the synthesis, retry and engine timeout settings.
func OrchestratorOptions(cfg *config.Config) orchestrator.Options {
	timeouts := make(map[string]time.Duration, len(cfg.Engines))
	for id, section := range cfg.Engines {
		timeouts[id] = config.Seconds(section.TimeoutSeconds)
	}

	return orchestrator.Options{
		EngineTimeouts: timeouts,
		FallbackEngine: cfg.Synthesis.FallbackEngine,
		FallbackVoice:  cfg.Synthesis.FallbackVoice,
		FailurePolicy:  cfg.Synthesis.FailurePolicy,
		PauseMerge:     cfg.Synthesis.PauseMerge,
		MaxAttempts:    cfg.Retry.MaxAttempts,
		WordsPerMinute: cfg.Synthesis.WordsPerMinute,
		BaseDelay:      config.Millis(cfg.Retry.BaseDelayMs),
		MaxDelay:       config.Millis(cfg.Retry.MaxDelayMs),
		QuotaCooldown:  config.Seconds(cfg.Retry.QuotaCooldownSeconds),
	}
}
