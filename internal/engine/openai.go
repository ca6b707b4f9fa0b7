package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/book-expert/narrator/internal/audio"
	"github.com/book-expert/narrator/internal/core"
)

const (
	openAIBaseURL      = "https://api.openai.com"
	openAISpeechPath   = "/v1/audio/speech"
	openAIDefaultModel = "tts-1"
	openAIDefaultVoice = "alloy"
	openAIMinSpeed     = 0.25
	openAIMaxSpeed     = 4.0
)

type openAISpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Instructions   string  `json:"instructions,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// OpenAI is a networked engine for the OpenAI speech endpoint. Audio is
// requested as WAV so no decoder beyond the local one is needed.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	httpCaller
}

// NewOpenAI creates an OpenAI engine. The api key is read from the
// environment variable named by opts.APIKeyEnv.
func NewOpenAI(opts Options) (*OpenAI, error) {
	key, err := apiKey(opts)
	if err != nil {
		return nil, err
	}

	baseURL := opts.URL
	if baseURL == "" {
		baseURL = openAIBaseURL
	}

	model := opts.Model
	if model == "" {
		model = openAIDefaultModel
	}

	return &OpenAI{
		apiKey:     key,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpCaller: newHTTPCaller(newBase(opts, core.CapabilityNetworked), opts.Timeout),
	}, nil
}

// Synthesize requests WAV speech for text.
func (o *OpenAI) Synthesize(ctx context.Context, text string, profile core.VoiceProfile) (core.RawAudio, error) {
	if text == "" {
		return core.RawAudio{}, o.fail(core.ErrRejected, ErrEmptyText)
	}

	voiceErr := o.checkVoice(profile)
	if voiceErr != nil {
		return core.RawAudio{}, voiceErr
	}

	req := openAISpeechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          profile.Voice,
		ResponseFormat: string(audio.FormatWAV),
		Instructions:   instructions(profile),
		Speed:          min(max(speed(profile), openAIMinSpeed), openAIMaxSpeed),
	}

	if req.Voice == "" {
		req.Voice = openAIDefaultVoice
	}

	headers := map[string]string{
		"Authorization": "Bearer " + o.apiKey,
		headerAccept:    contentTypeWAV,
	}

	data, _, err := o.postJSON(ctx, o.baseURL+openAISpeechPath, headers, req)
	if err != nil {
		return core.RawAudio{}, err
	}

	if len(data) == 0 {
		return core.RawAudio{}, o.fail(core.ErrTransient, errReceivedEmptyAudio)
	}

	raw, err := audio.DecodeWAV(data)
	if err != nil {
		return core.RawAudio{}, o.fail(core.ErrTransient, fmt.Errorf("openai response: %w", err))
	}

	return raw, nil
}

func instructions(profile core.VoiceProfile) string {
	parts := make([]string, 0, 2)
	if profile.Style != "" {
		parts = append(parts, profile.Style)
	}

	switch profile.Params[ParamEmphasis] {
	case "strong":
		parts = append(parts, "Speak this with strong emphasis.")
	case "moderate":
		parts = append(parts, "Speak this with slight emphasis.")
	}

	return strings.Join(parts, " ")
}
