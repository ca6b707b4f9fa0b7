package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/book-expert/narrator/internal/core"
)

// WAV decoding errors.
var (
	ErrInvalidWAV        = errors.New("invalid WAV data")
	ErrUnsupportedWAV    = errors.New("unsupported WAV encoding")
	errMissingDataChunk  = errors.New("missing data chunk")
	errMissingFormatInfo = errors.New("missing fmt chunk")
)

const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
	wavHeaderSize       = 12
	wavChunkHeaderSize  = 8
	wavFmtChunkSize     = 16
	wavBitsPerSample    = 16
)

// EncodeWAV wraps the buffer as a PCM16 RIFF/WAVE file.
func EncodeWAV(buf Buffer) ([]byte, error) {
	var out bytes.Buffer

	err := WriteWAV(&out, buf)
	if err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

// WriteWAV writes the buffer to out as a PCM16 WAV stream.
func WriteWAV(out io.Writer, buf Buffer) error {
	pcm := buf.PCM16()
	channels := max(buf.Channels, 1)
	dataSize := uint32(len(pcm))
	blockAlign := uint16(channels * wavBitsPerSample / 8)
	byteRate := uint32(buf.SampleRate) * uint32(blockAlign)

	writer := bufio.NewWriter(out)
	header := []any{
		[]byte("RIFF"), uint32(36) + dataSize, []byte("WAVE"),
		[]byte("fmt "), uint32(wavFmtChunkSize), uint16(wavFormatPCM), uint16(channels),
		uint32(buf.SampleRate), byteRate, blockAlign, uint16(wavBitsPerSample),
		[]byte("data"), dataSize,
	}

	for _, field := range header {
		writeErr := binary.Write(writer, binary.LittleEndian, field)
		if writeErr != nil {
			return fmt.Errorf("failed to write WAV header: %w", writeErr)
		}
	}

	_, err := writer.Write(pcm)
	if err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}

	return writer.Flush()
}

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// DecodeWAV parses a RIFF/WAVE payload into PCM16LE engine output. It accepts
// 8, 16, 24 and 32-bit integer PCM and 32-bit float, and skips unknown chunks.
func DecodeWAV(data []byte) (core.RawAudio, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return core.RawAudio{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		format  *wavFormat
		payload []byte
	)

	offset := wavHeaderSize
	for offset+wavChunkHeaderSize <= len(data) {
		chunkID := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		start := offset + wavChunkHeaderSize
		end := min(start+size, len(data))

		switch chunkID {
		case "fmt ":
			if end-start < wavFmtChunkSize {
				return core.RawAudio{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}

			format = &wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(data[start:]),
				channels:      binary.LittleEndian.Uint16(data[start+2:]),
				sampleRate:    binary.LittleEndian.Uint32(data[start+4:]),
				bitsPerSample: binary.LittleEndian.Uint16(data[start+14:]),
			}
			if format.audioFormat == wavFormatExtensible && end-start >= 26 {
				format.audioFormat = binary.LittleEndian.Uint16(data[start+24:])
			}
		case "data":
			payload = data[start:end]
		}

		// Chunks are padded to an even size.
		offset = start + size + size%2
	}

	if format == nil {
		return core.RawAudio{}, fmt.Errorf("%w: %w", ErrInvalidWAV, errMissingFormatInfo)
	}

	if payload == nil {
		return core.RawAudio{}, fmt.Errorf("%w: %w", ErrInvalidWAV, errMissingDataChunk)
	}

	pcm, err := toPCM16(*format, payload)
	if err != nil {
		return core.RawAudio{}, err
	}

	return core.RawAudio{PCM: pcm, SampleRate: int(format.sampleRate), Channels: int(max(format.channels, 1))}, nil
}

func toPCM16(format wavFormat, payload []byte) ([]byte, error) {
	width := int(format.bitsPerSample) / 8
	if width == 0 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, format.bitsPerSample)
	}

	count := len(payload) / width
	out := make([]byte, count*pcm16Bytes)

	for i := range count {
		sample := payload[i*width : (i+1)*width]

		var value float64

		switch {
		case format.audioFormat == wavFormatPCM && width == 1:
			value = (float64(sample[0]) - 128) / 128
		case format.audioFormat == wavFormatPCM && width == 2:
			binary.LittleEndian.PutUint16(out[i*pcm16Bytes:], binary.LittleEndian.Uint16(sample))

			continue
		case format.audioFormat == wavFormatPCM && width == 3:
			raw := int32(sample[0]) | int32(sample[1])<<8 | int32(int8(sample[2]))<<16
			value = float64(raw) / (1 << 23)
		case format.audioFormat == wavFormatPCM && width == 4:
			value = float64(int32(binary.LittleEndian.Uint32(sample))) / (1 << 31)
		case format.audioFormat == wavFormatIEEEFloat && width == 4:
			value = float64(math.Float32frombits(binary.LittleEndian.Uint32(sample)))
		default:
			return nil, fmt.Errorf("%w: format %d with %d bits",
				ErrUnsupportedWAV, format.audioFormat, format.bitsPerSample)
		}

		clipped := math.Max(-1, math.Min(1, value))
		binary.LittleEndian.PutUint16(out[i*pcm16Bytes:], uint16(int16(math.Round(clipped*pcm16Max))))
	}

	return out, nil
}
