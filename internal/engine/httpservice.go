package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/narrator/internal/audio"
	"github.com/book-expert/narrator/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// Default values.
const (
	defaultTemperature = 0.75
	defaultLanguage    = "en"
	healthTimeout      = 5 * time.Second
)

var (
	errUnexpectedContentType = errors.New("unexpected content type")
	errReceivedEmptyAudio    = errors.New("received empty audio data")
)

// SpeechRequest defines the JSON payload of the self-hosted speech service.
type SpeechRequest struct {
	// Text contains the input text to convert to speech.
	Text string `json:"text"`

	// SpeakerRefPath optionally names a server-side speaker reference file
	// for voice cloning. The profile voice is sent here.
	SpeakerRefPath string `json:"speaker_ref_path,omitempty"`

	// Language specifies the target language code. Defaults to "en".
	Language string `json:"language"`

	// Temperature controls randomness in speech generation, 0.0 to 2.0.
	Temperature float64 `json:"temperature"`
}

// HTTPService is a networked engine backed by a self-hosted speech service
// that answers POST /v1/generate/speech with a WAV body.
type HTTPService struct {
	baseURL string
	httpCaller
}

// NewHTTPService creates an engine for the service at opts.URL, for example
// "http://localhost:8000".
func NewHTTPService(opts Options) (*HTTPService, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: http service engine %s", ErrMissingURL, opts.ID)
	}

	return &HTTPService{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		httpCaller: newHTTPCaller(newBase(opts, core.CapabilityNetworked), opts.Timeout),
	}, nil
}

// Synthesize sends one generation request and decodes the returned WAV.
func (s *HTTPService) Synthesize(ctx context.Context, text string, profile core.VoiceProfile) (core.RawAudio, error) {
	if text == "" {
		return core.RawAudio{}, s.fail(core.ErrRejected, ErrEmptyText)
	}

	voiceErr := s.checkVoice(profile)
	if voiceErr != nil {
		return core.RawAudio{}, voiceErr
	}

	req := SpeechRequest{
		Text:           text,
		SpeakerRefPath: profile.Voice,
		Language:       profile.Language,
		Temperature:    defaultTemperature,
	}

	if req.Language == "" {
		req.Language = defaultLanguage
	}

	if value, ok := profile.Params["temperature"]; ok {
		temperature, err := strconv.ParseFloat(value, 64)
		if err == nil {
			req.Temperature = temperature
		}
	}

	data, contentType, err := s.postJSON(ctx, s.baseURL+apiGenerateSpeech,
		map[string]string{headerAccept: contentTypeWAV}, req)
	if err != nil {
		return core.RawAudio{}, err
	}

	if !strings.HasPrefix(contentType, contentTypeWAV) {
		return core.RawAudio{}, s.fail(core.ErrRejected, fmt.Errorf("%w: expected %s, got %s", errUnexpectedContentType, contentTypeWAV, contentType))
	}

	if len(data) == 0 {
		return core.RawAudio{}, s.fail(core.ErrTransient, errReceivedEmptyAudio)
	}

	raw, err := audio.DecodeWAV(data)
	if err != nil {
		return core.RawAudio{}, s.fail(core.ErrTransient, err)
	}

	return raw, nil
}

// HealthCheck verifies that the service is running.
func (s *HTTPService) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return s.classifyTransport(ctx, fmt.Errorf("health check failed for service at %s: %w", s.baseURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.parseErrorResponse(resp)
	}

	return nil
}
