package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrEncoderUnavailable is returned when a format needs ffmpeg and it is missing.
var ErrEncoderUnavailable = errors.New("audio encoder unavailable")

// ffmpegMuxers maps output formats to ffmpeg muxer arguments for pipe output.
var ffmpegMuxers = map[Format][]string{
	FormatMP3:  {"-f", "mp3"},
	FormatFLAC: {"-f", "flac"},
	FormatOGG:  {"-c:a", "libvorbis", "-f", "ogg"},
	FormatM4A:  {"-c:a", "aac", "-movflags", "frag_keyframe+empty_moov", "-f", "ipod"},
	FormatAAC:  {"-c:a", "aac", "-f", "adts"},
}

// Encoder writes buffers into containers. WAV and raw PCM are produced in-process;
// compressed formats are piped through an ffmpeg subprocess.
type Encoder struct {
	ffmpegPath string
}

// NewEncoder creates an encoder. An empty path means "ffmpeg" on $PATH.
func NewEncoder(ffmpegPath string) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	return &Encoder{ffmpegPath: ffmpegPath}
}

// Encode converts buf into format.
func (e *Encoder) Encode(ctx context.Context, buf Buffer, format Format) ([]byte, error) {
	switch format {
	case FormatWAV:
		return EncodeWAV(buf)
	case FormatPCM:
		return buf.PCM16(), nil
	}

	muxer, ok := ffmpegMuxers[format]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported output format %q", ErrInvalidSettings, format)
	}

	binary, lookErr := exec.LookPath(e.ffmpegPath)
	if lookErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncoderUnavailable, e.ffmpegPath, lookErr)
	}

	wav, err := EncodeWAV(buf)
	if err != nil {
		return nil, err
	}

	args := append([]string{"-hide_banner", "-loglevel", "error", "-f", "wav", "-i", "pipe:0"}, muxer...)
	args = append(args, "pipe:1")

	// #nosec G204 -- the binary comes from configuration and arguments are fixed per format
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = bytes.NewReader(wav)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		return nil, fmt.Errorf("ffmpeg encode to %s failed: %w - output: %s", format, runErr, stderr.String())
	}

	return stdout.Bytes(), nil
}
