// Package config provides the configuration structure for the narrator.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Failure policies applied when every engine failed for a segment.
const (
	FailurePolicySilence = "silence"
	FailurePolicyAbort   = "abort"
)

// Pause merge modes for the silence inserted between two segments.
const (
	PauseMergeSum = "sum"
	PauseMergeMax = "max"
)

// Cache blob backends and index kinds.
const (
	CacheBackendFile = "file"
	CacheBackendNATS = "nats"
	CacheIndexSQLite = "sqlite"
	CacheIndexMemory = "memory"
)

// Configuration errors.
var (
	ErrNoEngines            = errors.New("at least one engine must be configured")
	ErrEngineKindEmpty      = errors.New("engine kind cannot be empty")
	ErrUnknownFallback      = errors.New("fallback engine is not configured")
	ErrUnknownFailurePolicy = errors.New("unknown failure policy")
	ErrUnknownPauseMerge    = errors.New("unknown pause merge mode")
	ErrUnknownCacheBackend  = errors.New("unknown cache backend")
	ErrUnknownCacheIndex    = errors.New("unknown cache index")
	ErrInvalidRetry         = errors.New("invalid retry settings")
	ErrInvalidChunker       = errors.New("invalid chunker settings")
	ErrInvalidCache         = errors.New("invalid cache settings")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	TTStreamName             string `toml:"tts_stream_name"`
	TTSConsumerName          string `toml:"tts_consumer_name"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	CacheObjectStoreBucket   string `toml:"cache_object_store_bucket"`
	JobTimeoutSeconds        int    `toml:"job_timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	ProfilesDir string `toml:"profiles_dir"`
	OutputDir   string `toml:"output_dir"`
}

// EngineConfig configures one engine instance. The map key in Config.Engines is its id.
type EngineConfig struct {
	Kind           string   `toml:"kind"`
	URL            string   `toml:"url"`
	APIKeyEnv      string   `toml:"api_key_env"`
	Model          string   `toml:"model"`
	BinaryPath     string   `toml:"binary_path"`
	ModelPath      string   `toml:"model_path"`
	SnacModelPath  string   `toml:"snac_model_path"`
	Voices         []string `toml:"voices"`
	SampleRate     int      `toml:"sample_rate"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	MaxConcurrent  int      `toml:"max_concurrent"`
	MinIntervalMs  int      `toml:"min_interval_ms"`
}

// SynthesisConfig controls profile selection, fallback and failure handling.
type SynthesisConfig struct {
	DefaultProfile string `toml:"default_profile"`
	FallbackEngine string `toml:"fallback_engine"`
	FallbackVoice  string `toml:"fallback_voice"`
	FailurePolicy  string `toml:"failure_policy"`
	PauseMerge     string `toml:"pause_merge"`
	WordsPerMinute int    `toml:"words_per_minute"`
}

// RetryConfig controls exponential backoff against transient engine failures.
type RetryConfig struct {
	MaxAttempts          int `toml:"max_attempts"`
	BaseDelayMs          int `toml:"base_delay_ms"`
	MaxDelayMs           int `toml:"max_delay_ms"`
	QuotaCooldownSeconds int `toml:"quota_cooldown_seconds"`
}

// CacheConfig bounds the fingerprint cache.
type CacheConfig struct {
	Enabled    bool   `toml:"enabled"`
	Dir        string `toml:"dir"`
	Backend    string `toml:"backend"`
	Index      string `toml:"index"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxAgeDays int    `toml:"max_age_days"`
	// CleanupIntervalMinutes spaces the service's periodic expiry sweep.
	CleanupIntervalMinutes int `toml:"cleanup_interval_minutes"`
}

// ChunkerConfig controls segment sizes and pause tiers.
type ChunkerConfig struct {
	MaxChars         int  `toml:"max_chars"`
	ClausePauseMs    int  `toml:"clause_pause_ms"`
	SentencePauseMs  int  `toml:"sentence_pause_ms"`
	ParagraphPauseMs int  `toml:"paragraph_pause_ms"`
	Normalize        bool `toml:"normalize"`
}

// NoiseReductionConfig toggles the noise gate stage.
type NoiseReductionConfig struct {
	Enabled    bool    `toml:"enabled"`
	Strength   float64 `toml:"strength"`
	HighPassHz int     `toml:"high_pass_hz"`
}

// NormalizationConfig toggles loudness normalization.
type NormalizationConfig struct {
	Enabled    bool    `toml:"enabled"`
	TargetDBFS float64 `toml:"target_dbfs"`
}

// EffectsConfig toggles the effects stage.
type EffectsConfig struct {
	Enabled                bool    `toml:"enabled"`
	Reverb                 float64 `toml:"reverb"`
	Echo                   float64 `toml:"echo"`
	EchoDelayMs            int     `toml:"echo_delay_ms"`
	CompressionRatio       float64 `toml:"compression_ratio"`
	CompressionThresholdDB float64 `toml:"compression_threshold_db"`
	FadeInMs               int     `toml:"fade_in_ms"`
	FadeOutMs              int     `toml:"fade_out_ms"`
	Volume                 float64 `toml:"volume"`
	LowPassHz              int     `toml:"low_pass_hz"`
}

// PostProcessConfig groups the ordered post-processing stages.
type PostProcessConfig struct {
	NoiseReduction NoiseReductionConfig `toml:"noise_reduction"`
	Normalization  NormalizationConfig  `toml:"normalization"`
	Effects        EffectsConfig        `toml:"effects"`
}

// OutputConfig selects the target format of the final artifact.
type OutputConfig struct {
	Format     string `toml:"format"`
	SampleRate int    `toml:"sample_rate"`
	Channels   int    `toml:"channels"`
	FFmpegPath string `toml:"ffmpeg_path"`
}

// SchedulerConfig sizes the worker pool.
type SchedulerConfig struct {
	MaxWorkers int `toml:"max_workers"`
}

// MetricsConfig controls the Prometheus listener of the service binary.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Namespace string `toml:"namespace"`
}

// Config is the root configuration structure.
type Config struct {
	NATS        NATSConfig              `toml:"nats"`
	Paths       PathsConfig             `toml:"paths"`
	Engines     map[string]EngineConfig `toml:"engines"`
	Synthesis   SynthesisConfig         `toml:"synthesis"`
	Retry       RetryConfig             `toml:"retry"`
	Cache       CacheConfig             `toml:"cache"`
	Chunker     ChunkerConfig           `toml:"chunker"`
	PostProcess PostProcessConfig       `toml:"postprocess"`
	Output      OutputConfig            `toml:"output"`
	Scheduler   SchedulerConfig         `toml:"scheduler"`
	Metrics     MetricsConfig           `toml:"metrics"`
}

// Load loads the configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile decodes a TOML file directly, bypassing project discovery.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return finalize(&cfg)
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// EngineIDs returns the configured engine ids in a stable order.
func (c *Config) EngineIDs() []string {
	ids := make([]string, 0, len(c.Engines))
	for id := range c.Engines {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
