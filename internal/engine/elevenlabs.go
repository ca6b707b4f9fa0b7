package engine

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/book-expert/narrator/internal/core"
)

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_multilingual_v2"
	elevenLabsDefaultRate  = 24000
)

var elevenLabsRates = []int{16000, 22050, 24000, 44100}

type elevenLabsVoiceSettings struct {
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty"`
	Style           *float64 `json:"style,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
}

type elevenLabsRequest struct {
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	LanguageCode  string                   `json:"language_code,omitempty"`
}

// ElevenLabs is a networked engine for the ElevenLabs text-to-speech API.
// Audio is requested as raw 16-bit PCM at the configured rate.
type ElevenLabs struct {
	apiKey     string
	baseURL    string
	model      string
	sampleRate int
	httpCaller
}

// NewElevenLabs creates an ElevenLabs engine. SampleRate must be one the API
// offers as PCM output; anything else falls back to 24 kHz.
func NewElevenLabs(opts Options) (*ElevenLabs, error) {
	key, err := apiKey(opts)
	if err != nil {
		return nil, err
	}

	baseURL := opts.URL
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	model := opts.Model
	if model == "" {
		model = elevenLabsDefaultModel
	}

	rate := elevenLabsDefaultRate

	for _, supported := range elevenLabsRates {
		if opts.SampleRate == supported {
			rate = supported
		}
	}

	return &ElevenLabs{
		apiKey:     key,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		sampleRate: rate,
		httpCaller: newHTTPCaller(newBase(opts, core.CapabilityNetworked), opts.Timeout),
	}, nil
}

// Synthesize converts text with the profile's voice id.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string, profile core.VoiceProfile) (core.RawAudio, error) {
	if text == "" {
		return core.RawAudio{}, e.fail(core.ErrRejected, ErrEmptyText)
	}

	if profile.Voice == "" {
		return core.RawAudio{}, e.fail(core.ErrUnsupportedVoice, fmt.Errorf("profile %q has no voice id", profile.Name))
	}

	voiceErr := e.checkVoice(profile)
	if voiceErr != nil {
		return core.RawAudio{}, voiceErr
	}

	req := elevenLabsRequest{
		Text:          text,
		ModelID:       e.model,
		LanguageCode:  profile.Language,
		VoiceSettings: voiceSettings(profile),
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d",
		e.baseURL, url.PathEscape(profile.Voice), e.sampleRate)

	data, _, err := e.postJSON(ctx, endpoint, map[string]string{"xi-api-key": e.apiKey}, req)
	if err != nil {
		return core.RawAudio{}, err
	}

	if len(data) == 0 {
		return core.RawAudio{}, e.fail(core.ErrTransient, errReceivedEmptyAudio)
	}

	// An odd trailing byte cannot be a sample.
	data = data[:len(data)&^1]

	return core.RawAudio{PCM: data, SampleRate: e.sampleRate, Channels: 1}, nil
}

func voiceSettings(profile core.VoiceProfile) *elevenLabsVoiceSettings {
	settings := &elevenLabsVoiceSettings{
		Stability:       floatParam(profile.Params, "stability"),
		SimilarityBoost: floatParam(profile.Params, "similarity_boost"),
		Style:           floatParam(profile.Params, "style"),
	}

	if profile.Rate > 0 {
		rate := profile.Rate
		settings.Speed = &rate
	}

	if *settings == (elevenLabsVoiceSettings{}) {
		return nil
	}

	return settings
}

func floatParam(params map[string]string, name string) *float64 {
	raw, ok := params[name]
	if !ok {
		return nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}

	return &value
}
