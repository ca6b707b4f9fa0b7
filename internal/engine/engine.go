// Package engine adapts concrete text-to-speech backends to core.Engine.
//
// Each variant is selected by a configured kind at construction time: local
// subprocess (chatllm), local Wyoming server (piper), a self-hosted HTTP service,
// and the OpenAI and ElevenLabs cloud APIs.
package engine

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narrator/internal/core"
)

// Engine kinds accepted by Build.
const (
	KindChatLLM     = "chatllm"
	KindPiper       = "piper"
	KindHTTPService = "httpservice"
	KindOpenAI      = "openai"
	KindElevenLabs  = "elevenlabs"
)

// Construction errors.
var (
	ErrUnknownKind   = errors.New("unknown engine kind")
	ErrMissingAPIKey = errors.New("engine api key not set")
	ErrMissingURL    = errors.New("engine url not set")
	ErrEngineUnknown = errors.New("engine not registered")
	ErrEmptyText     = errors.New("text cannot be empty")
)

const defaultTimeout = 60 * time.Second

// ParamEmphasis is the profile parameter carrying segment emphasis
// ("moderate" or "strong"). Engines that cannot express it ignore it.
const ParamEmphasis = "emphasis"

// Options configures one engine instance.
type Options struct {
	ID            string
	Kind          string
	URL           string
	APIKeyEnv     string
	Model         string
	BinaryPath    string
	ModelPath     string
	SnacModelPath string
	Voices        []string
	SampleRate    int
	Timeout       time.Duration
	MaxConcurrent int
	MinInterval   time.Duration
}

// Kinds lists the supported engine kinds.
func Kinds() []string {
	return []string{KindChatLLM, KindElevenLabs, KindHTTPService, KindOpenAI, KindPiper}
}

// Build constructs the engine variant named by opts.Kind.
func Build(opts Options, log *logger.Logger) (core.Engine, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	switch opts.Kind {
	case KindChatLLM:
		return asEngine(NewChatLLM(opts, log))
	case KindPiper:
		return asEngine(NewPiper(opts))
	case KindHTTPService:
		return asEngine(NewHTTPService(opts))
	case KindOpenAI:
		return asEngine(NewOpenAI(opts))
	case KindElevenLabs:
		return asEngine(NewElevenLabs(opts))
	default:
		return nil, fmt.Errorf("%w: %q (engine %s)", ErrUnknownKind, opts.Kind, opts.ID)
	}
}

// asEngine keeps a failed constructor from producing a non-nil interface.
func asEngine[E core.Engine](e E, err error) (core.Engine, error) {
	if err != nil {
		return nil, err
	}

	return e, nil
}

func apiKey(opts Options) (string, error) {
	if opts.APIKeyEnv == "" {
		return "", fmt.Errorf("%w: engine %s has no api_key_env", ErrMissingAPIKey, opts.ID)
	}

	key := os.Getenv(opts.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrMissingAPIKey, opts.APIKeyEnv)
	}

	return key, nil
}

// base carries the identity, voice list and limits shared by every variant.
type base struct {
	id         string
	voices     []string
	policy     core.RateLimitPolicy
	capability core.Capability
}

func newBase(opts Options, capability core.Capability) base {
	return base{
		id:         opts.ID,
		voices:     slices.Clone(opts.Voices),
		capability: capability,
		policy: core.RateLimitPolicy{
			MaxConcurrent: opts.MaxConcurrent,
			MinInterval:   opts.MinInterval,
		},
	}
}

func (b base) ID() string                             { return b.id }
func (b base) Capability() core.Capability            { return b.capability }
func (b base) RateLimit() core.RateLimitPolicy        { return b.policy }
func (b base) fail(kind, err error) *core.EngineError { return core.NewEngineError(b.id, kind, err) }

// Supports reports whether the profile's voice is served by this engine. An
// engine without a configured voice list accepts any voice.
func (b base) Supports(profile core.VoiceProfile) bool {
	if len(b.voices) == 0 || profile.Voice == "" {
		return true
	}

	return slices.Contains(b.voices, profile.Voice)
}

func (b base) checkVoice(profile core.VoiceProfile) error {
	if !b.Supports(profile) {
		return b.fail(core.ErrUnsupportedVoice, fmt.Errorf("voice %q", profile.Voice))
	}

	return nil
}

// Registry holds the engines built for a process, keyed by id.
type Registry struct {
	engines map[string]core.Engine
}

// NewRegistry creates a registry from already constructed engines.
func NewRegistry(engines ...core.Engine) *Registry {
	registry := &Registry{engines: make(map[string]core.Engine, len(engines))}
	for _, e := range engines {
		registry.engines[e.ID()] = e
	}

	return registry
}

// BuildRegistry constructs every configured engine.
func BuildRegistry(options []Options, log *logger.Logger) (*Registry, error) {
	engines := make([]core.Engine, 0, len(options))

	for _, opts := range options {
		built, err := Build(opts, log)
		if err != nil {
			return nil, fmt.Errorf("failed to build engine %s: %w", opts.ID, err)
		}

		engines = append(engines, built)
	}

	return NewRegistry(engines...), nil
}

// Get returns the engine registered under id.
func (r *Registry) Get(id string) (core.Engine, error) {
	e, ok := r.engines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineUnknown, id)
	}

	return e, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
