package engine_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narrator/internal/audio"
	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/engine"
)

const testTimeout = 5 * time.Second

func testWAV(t *testing.T) []byte {
	t.Helper()

	buf := audio.Buffer{Samples: []float64{0, 0.25, -0.25, 0.5}, SampleRate: 16000, Channels: 1}

	data, err := audio.EncodeWAV(buf)
	require.NoError(t, err)

	return data
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts engine.Options
		want error
	}{
		{"unknown kind", engine.Options{ID: "x", Kind: "espeak"}, engine.ErrUnknownKind},
		{"http service without url", engine.Options{ID: "x", Kind: engine.KindHTTPService}, engine.ErrMissingURL},
		{"piper without url", engine.Options{ID: "x", Kind: engine.KindPiper}, engine.ErrMissingURL},
		{"openai without key env", engine.Options{ID: "x", Kind: engine.KindOpenAI}, engine.ErrMissingAPIKey},
		{"elevenlabs with empty key", engine.Options{ID: "x", Kind: engine.KindElevenLabs, APIKeyEnv: "NARRATOR_TEST_UNSET_KEY"}, engine.ErrMissingAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			built, err := engine.Build(tt.opts, nil)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, built)
		})
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		body string
		code int
		want error
	}{
		{"", http.StatusUnauthorized, core.ErrAuth},
		{"", http.StatusForbidden, core.ErrAuth},
		{"", http.StatusPaymentRequired, core.ErrQuota},
		{`{"detail":"quota exceeded"}`, http.StatusTooManyRequests, core.ErrQuota},
		{"slow down", http.StatusTooManyRequests, core.ErrTransient},
		{"", http.StatusInternalServerError, core.ErrTransient},
		{"", http.StatusBadGateway, core.ErrTransient},
		{"", http.StatusServiceUnavailable, core.ErrTransient},
		{"", http.StatusGatewayTimeout, core.ErrTransient},
		{"voice not found", http.StatusNotFound, core.ErrUnsupportedVoice},
		{"unknown voice id", http.StatusBadRequest, core.ErrUnsupportedVoice},
		{"text too long", http.StatusBadRequest, core.ErrRejected},
		{"", http.StatusNotFound, core.ErrRejected},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.code, tt.body), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, engine.ClassifyHTTPStatus(tt.code, tt.body))
		})
	}
}

func TestHTTPService_Synthesize(t *testing.T) {
	t.Parallel()

	wav := testWAV(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generate/speech", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "audio/wav", r.Header.Get("Accept"))

		var req engine.SpeechRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Hello there.", req.Text)
		assert.Equal(t, "narrator.wav", req.SpeakerRefPath)
		assert.Equal(t, "en", req.Language)
		assert.InDelta(t, 0.5, req.Temperature, 1e-9)

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer server.Close()

	svc, err := engine.NewHTTPService(engine.Options{ID: "svc", URL: server.URL + "/", Timeout: testTimeout})
	require.NoError(t, err)

	profile := core.VoiceProfile{Name: "p", Voice: "narrator.wav", Params: map[string]string{"temperature": "0.5"}}

	raw, err := svc.Synthesize(context.Background(), "Hello there.", profile)
	require.NoError(t, err)
	assert.Equal(t, 16000, raw.SampleRate)
	assert.Equal(t, 1, raw.Channels)
	assert.Len(t, raw.PCM, 8)
	assert.Equal(t, core.CapabilityNetworked, svc.Capability())
}

func TestHTTPService_ErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		status int
		want   error
	}{
		{"unavailable", `{"detail":"model loading","error_code":"BUSY"}`, http.StatusServiceUnavailable, core.ErrTransient},
		{"unauthorized", `{"detail":"bad token"}`, http.StatusUnauthorized, core.ErrAuth},
		{"rejected", "plain failure", http.StatusBadRequest, core.ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			svc, err := engine.NewHTTPService(engine.Options{ID: "svc", URL: server.URL, Timeout: testTimeout})
			require.NoError(t, err)

			_, err = svc.Synthesize(context.Background(), "text", core.VoiceProfile{})
			require.ErrorIs(t, err, tt.want)

			var engineErr *core.EngineError
			require.ErrorAs(t, err, &engineErr)
			assert.Equal(t, "svc", engineErr.Engine)
		})
	}
}

func TestHTTPService_WrongContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html></html>")
	}))
	defer server.Close()

	svc, err := engine.NewHTTPService(engine.Options{ID: "svc", URL: server.URL, Timeout: testTimeout})
	require.NoError(t, err)

	_, err = svc.Synthesize(context.Background(), "text", core.VoiceProfile{})
	require.ErrorIs(t, err, core.ErrRejected)
}

func TestHTTPService_HealthCheck(t *testing.T) {
	t.Parallel()

	var unhealthy atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)

		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}))
	defer server.Close()

	svc, err := engine.NewHTTPService(engine.Options{ID: "svc", URL: server.URL, Timeout: testTimeout})
	require.NoError(t, err)

	require.NoError(t, svc.HealthCheck(context.Background()))

	unhealthy.Store(true)

	require.ErrorIs(t, svc.HealthCheck(context.Background()), core.ErrTransient)
}

func TestHTTPService_CancelledContext(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	svc, err := engine.NewHTTPService(engine.Options{ID: "svc", URL: server.URL, Timeout: testTimeout})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.Synthesize(ctx, "text", core.VoiceProfile{})
	require.ErrorIs(t, err, context.Canceled)

	var engineErr *core.EngineError
	assert.False(t, errors.As(err, &engineErr))
}

func TestEngines_RejectEmptyTextAndUnknownVoices(t *testing.T) {
	t.Parallel()

	svc, err := engine.NewHTTPService(engine.Options{ID: "svc", URL: "http://127.0.0.1:1", Voices: []string{"anna"}})
	require.NoError(t, err)

	assert.True(t, svc.Supports(core.VoiceProfile{Voice: "anna"}))
	assert.True(t, svc.Supports(core.VoiceProfile{}))
	assert.False(t, svc.Supports(core.VoiceProfile{Voice: "bob"}))

	_, err = svc.Synthesize(context.Background(), "", core.VoiceProfile{})
	require.ErrorIs(t, err, core.ErrRejected)
	require.ErrorIs(t, err, engine.ErrEmptyText)

	_, err = svc.Synthesize(context.Background(), "hi", core.VoiceProfile{Voice: "bob"})
	require.ErrorIs(t, err, core.ErrUnsupportedVoice)
	assert.False(t, core.IsTransient(err))
}

func TestOpenAI_Synthesize(t *testing.T) {
	t.Setenv("NARRATOR_TEST_OPENAI_KEY", "sk-test")

	wav := testWAV(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tts-1-hd", body["model"])
		assert.Equal(t, "Chapter one.", body["input"])
		assert.Equal(t, "nova", body["voice"])
		assert.Equal(t, "wav", body["response_format"])
		assert.InDelta(t, 4.0, body["speed"], 1e-9)

		_, _ = w.Write(wav)
	}))
	defer server.Close()

	client, err := engine.NewOpenAI(engine.Options{
		ID: "openai", URL: server.URL, APIKeyEnv: "NARRATOR_TEST_OPENAI_KEY", Model: "tts-1-hd", Timeout: testTimeout,
	})
	require.NoError(t, err)

	raw, err := client.Synthesize(context.Background(), "Chapter one.", core.VoiceProfile{Voice: "nova", Rate: 9})
	require.NoError(t, err)
	assert.Equal(t, 16000, raw.SampleRate)
}

func TestOpenAI_QuotaExhausted(t *testing.T) {
	t.Setenv("NARRATOR_TEST_OPENAI_KEY", "sk-test")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"You exceeded your current quota"}}`)
	}))
	defer server.Close()

	client, err := engine.NewOpenAI(engine.Options{ID: "openai", URL: server.URL, APIKeyEnv: "NARRATOR_TEST_OPENAI_KEY"})
	require.NoError(t, err)

	_, err = client.Synthesize(context.Background(), "text", core.VoiceProfile{})
	require.ErrorIs(t, err, core.ErrQuota)
	assert.True(t, core.IsTerminal(err))
}

func TestElevenLabs_Synthesize(t *testing.T) {
	t.Setenv("NARRATOR_TEST_XI_KEY", "xi-test")

	pcm := []byte{1, 0, 2, 0, 3, 0, 9}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-123", r.URL.Path)
		assert.Equal(t, "pcm_22050", r.URL.Query().Get("output_format"))
		assert.Equal(t, "xi-test", r.Header.Get("xi-api-key"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "eleven_multilingual_v2", body["model_id"])

		settings, ok := body["voice_settings"].(map[string]any)
		assert.True(t, ok)
		assert.InDelta(t, 0.4, settings["stability"], 1e-9)

		_, _ = w.Write(pcm)
	}))
	defer server.Close()

	client, err := engine.NewElevenLabs(engine.Options{
		ID: "xi", URL: server.URL, APIKeyEnv: "NARRATOR_TEST_XI_KEY", SampleRate: 22050, Timeout: testTimeout,
	})
	require.NoError(t, err)

	profile := core.VoiceProfile{Voice: "voice-123", Params: map[string]string{"stability": "0.4"}}

	raw, err := client.Synthesize(context.Background(), "Hello.", profile)
	require.NoError(t, err)
	assert.Equal(t, 22050, raw.SampleRate)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0}, raw.PCM)

	_, err = client.Synthesize(context.Background(), "Hello.", core.VoiceProfile{})
	require.ErrorIs(t, err, core.ErrUnsupportedVoice)
}

// fakePiper answers one synthesize request per connection using handle.
func fakePiper(t *testing.T, handle func(request map[string]any, conn net.Conn)) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}

			go func() {
				defer conn.Close()

				reader := bufio.NewReader(conn)

				header, readErr := reader.ReadString('\n')
				if readErr != nil {
					return
				}

				fields := strings.Fields(header)
				jsonLen, _ := strconv.Atoi(fields[0])
				body := make([]byte, jsonLen+1)

				_, readErr = io.ReadFull(reader, body)
				if readErr != nil {
					return
				}

				var request map[string]any
				_ = json.Unmarshal(body[:jsonLen], &request)

				handle(request, conn)
			}()
		}
	}()

	return listener.Addr().String()
}

func sendWyoming(conn net.Conn, eventType string, data map[string]any, payload []byte) {
	jsonBytes, _ := json.Marshal(map[string]any{"type": eventType, "data": data})
	_, _ = fmt.Fprintf(conn, "%d %d\n%s\n", len(jsonBytes), len(payload), jsonBytes)
	_, _ = conn.Write(payload)
}

func TestPiper_Synthesize(t *testing.T) {
	t.Parallel()

	addr := fakePiper(t, func(request map[string]any, conn net.Conn) {
		assert.Equal(t, "synthesize", request["type"])

		data, _ := request["data"].(map[string]any)
		assert.Equal(t, "Once upon a time.", data["text"])

		sendWyoming(conn, "audio-start", map[string]any{"rate": 22050, "width": 2, "channels": 1}, nil)
		sendWyoming(conn, "audio-chunk", map[string]any{"rate": 22050}, []byte{1, 0, 2, 0})
		sendWyoming(conn, "audio-chunk", map[string]any{"rate": 22050}, []byte{3, 0})
		sendWyoming(conn, "audio-stop", nil, nil)
	})

	piper, err := engine.NewPiper(engine.Options{ID: "piper", URL: "tcp://" + addr, Timeout: testTimeout})
	require.NoError(t, err)

	raw, err := piper.Synthesize(context.Background(), "Once upon a time.", core.VoiceProfile{Voice: "en_US-lessac-medium"})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0}, raw.PCM)
	assert.Equal(t, 22050, raw.SampleRate)
	assert.Equal(t, core.CapabilityLocal, piper.Capability())
}

func TestPiper_ErrorEvent(t *testing.T) {
	t.Parallel()

	addr := fakePiper(t, func(_ map[string]any, conn net.Conn) {
		sendWyoming(conn, "error", map[string]any{"text": "Voice not found: xx"}, nil)
	})

	piper, err := engine.NewPiper(engine.Options{ID: "piper", URL: addr, Timeout: testTimeout})
	require.NoError(t, err)

	_, err = piper.Synthesize(context.Background(), "text", core.VoiceProfile{Voice: "xx"})
	require.ErrorIs(t, err, core.ErrUnsupportedVoice)
}

func TestPiper_UnreachableIsResourceFailure(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	piper, err := engine.NewPiper(engine.Options{ID: "piper", URL: addr, Timeout: testTimeout})
	require.NoError(t, err)

	_, err = piper.Synthesize(context.Background(), "text", core.VoiceProfile{})
	require.ErrorIs(t, err, core.ErrResource)
	assert.False(t, core.IsTransient(err))
}

func TestPiper_TimeoutIsResourceFailure(t *testing.T) {
	t.Parallel()

	stalled := make(chan struct{})
	addr := fakePiper(t, func(_ map[string]any, _ net.Conn) {
		<-stalled
	})
	t.Cleanup(func() { close(stalled) })

	piper, err := engine.NewPiper(engine.Options{ID: "piper", URL: addr, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = piper.Synthesize(ctx, "text", core.VoiceProfile{})
	require.ErrorIs(t, err, core.ErrResource)
	assert.False(t, core.IsTransient(err))
}

func TestChatLLM_MissingBinaryIsResourceFailure(t *testing.T) {
	t.Parallel()

	chat, err := engine.NewChatLLM(engine.Options{
		ID: "local", BinaryPath: "/nonexistent/narrator-chatllm", ModelPath: "missing.bin",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.CapabilityLocal, chat.Capability())

	_, err = chat.Synthesize(context.Background(), "text", core.VoiceProfile{})
	require.ErrorIs(t, err, core.ErrResource)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	registry, err := engine.BuildRegistry([]engine.Options{
		{ID: "svc", Kind: engine.KindHTTPService, URL: "http://127.0.0.1:8000"},
		{ID: "piper", Kind: engine.KindPiper, URL: "127.0.0.1:10200", MaxConcurrent: 2, MinInterval: time.Second},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"piper", "svc"}, registry.IDs())

	piper, err := registry.Get("piper")
	require.NoError(t, err)
	assert.Equal(t, core.RateLimitPolicy{MaxConcurrent: 2, MinInterval: time.Second}, piper.RateLimit())

	_, err = registry.Get("missing")
	require.ErrorIs(t, err, engine.ErrEngineUnknown)

	_, err = engine.BuildRegistry([]engine.Options{{ID: "bad", Kind: "nope"}}, nil)
	require.ErrorIs(t, err, engine.ErrUnknownKind)
}
