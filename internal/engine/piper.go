package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/narrator/internal/core"
)

// Wyoming event types.
const (
	eventSynthesize = "synthesize"
	eventAudioStart = "audio-start"
	eventAudioChunk = "audio-chunk"
	eventAudioStop  = "audio-stop"
	eventError      = "error"
)

const (
	piperDialTimeout   = 10 * time.Second
	piperDefaultRate   = 22050
	piperMaxHeaderSize = 64
)

var errInvalidWyomingHeader = errors.New("invalid wyoming header")

// Piper synthesizes through a local Piper server speaking the Wyoming protocol:
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>
type Piper struct {
	base
	endpoint string
	timeout  time.Duration
}

// NewPiper creates a Piper engine for a host:port endpoint.
func NewPiper(opts Options) (*Piper, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(opts.URL, "tcp://"), "http://")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: piper engine %s", ErrMissingURL, opts.ID)
	}

	return &Piper{base: newBase(opts, core.CapabilityLocal), endpoint: endpoint, timeout: opts.Timeout}, nil
}

type wyomingEvent struct {
	Data map[string]any `json:"data,omitempty"`
	Type string         `json:"type"`
}

// Synthesize sends one synthesize event and collects audio until audio-stop.
func (p *Piper) Synthesize(ctx context.Context, text string, profile core.VoiceProfile) (core.RawAudio, error) {
	if text == "" {
		return core.RawAudio{}, p.fail(core.ErrRejected, ErrEmptyText)
	}

	voiceErr := p.checkVoice(profile)
	if voiceErr != nil {
		return core.RawAudio{}, voiceErr
	}

	dialer := net.Dialer{Timeout: piperDialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", p.endpoint)
	if err != nil {
		return core.RawAudio{}, p.classifyTransport(ctx, fmt.Errorf("connecting to piper: %w", err))
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(p.timeout)
	}

	_ = conn.SetDeadline(deadline)

	data := map[string]any{"text": text}
	if profile.Voice != "" {
		data["voice"] = map[string]any{"name": profile.Voice}
	}

	writeErr := writeEvent(conn, wyomingEvent{Type: eventSynthesize, Data: data}, nil)
	if writeErr != nil {
		return core.RawAudio{}, p.classifyTransport(ctx, fmt.Errorf("sending synthesize event: %w", writeErr))
	}

	return p.collect(ctx, bufio.NewReader(conn))
}

func (p *Piper) collect(ctx context.Context, reader *bufio.Reader) (core.RawAudio, error) {
	var (
		pcm      bytes.Buffer
		rate     = piperDefaultRate
		channels = 1
		width    = pcm16Width
	)

	for {
		evt, payload, err := readEvent(reader)
		if err != nil {
			return core.RawAudio{}, p.classifyTransport(ctx, fmt.Errorf("reading piper event: %w", err))
		}

		switch evt.Type {
		case eventAudioStart:
			rate = intField(evt.Data, "rate", rate)
			channels = intField(evt.Data, "channels", channels)
			width = intField(evt.Data, "width", width)
		case eventAudioChunk:
			pcm.Write(payload)
		case eventAudioStop:
			if width != pcm16Width {
				return core.RawAudio{}, p.fail(core.ErrResource, fmt.Errorf("unsupported sample width %d", width))
			}

			return core.RawAudio{PCM: pcm.Bytes(), SampleRate: rate, Channels: channels}, nil
		case eventError:
			message, _ := evt.Data["text"].(string)

			kind := core.ErrResource
			if strings.Contains(strings.ToLower(message), "voice") {
				kind = core.ErrUnsupportedVoice
			}

			return core.RawAudio{}, p.fail(kind, fmt.Errorf("piper error: %s", message))
		}
	}
}

const pcm16Width = 2

func intField(data map[string]any, name string, fallback int) int {
	if value, ok := data[name].(float64); ok {
		return int(value)
	}

	return fallback
}

// writeEvent sends a Wyoming event.
func writeEvent(w io.Writer, evt wyomingEvent, payload []byte) error {
	jsonBytes, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	var frame bytes.Buffer

	fmt.Fprintf(&frame, "%d %d\n", len(jsonBytes), len(payload))
	frame.Write(jsonBytes)
	frame.WriteByte('\n')
	frame.Write(payload)

	_, err = w.Write(frame.Bytes())

	return err
}

// readEvent reads one Wyoming event and its payload.
func readEvent(r *bufio.Reader) (*wyomingEvent, []byte, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	if len(header) > piperMaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: header too long", errInvalidWyomingHeader)
	}

	jsonField, payloadField, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found {
		return nil, nil, fmt.Errorf("%w: %q", errInvalidWyomingHeader, header)
	}

	jsonLen, jsonErr := strconv.Atoi(jsonField)
	payloadLen, payloadErr := strconv.Atoi(payloadField)

	if jsonErr != nil || payloadErr != nil || jsonLen < 0 || payloadLen < 0 {
		return nil, nil, fmt.Errorf("%w: %q", errInvalidWyomingHeader, header)
	}

	jsonBuf := make([]byte, jsonLen+1)

	_, err = io.ReadFull(r, jsonBuf)
	if err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}

	var evt wyomingEvent

	err = json.Unmarshal(jsonBuf[:jsonLen], &evt)
	if err != nil {
		return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
	}

	payload := make([]byte, payloadLen)

	_, err = io.ReadFull(r, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("reading payload: %w", err)
	}

	return &evt, payload, nil
}
