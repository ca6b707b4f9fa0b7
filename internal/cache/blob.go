package cache

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/book-expert/narrator/internal/core"
)

// ErrCorruptBlob is returned when a stored blob has a bad header.
var ErrCorruptBlob = errors.New("corrupt cache blob")

// Blob layout: magic(4) version(1) reserved(1) channels(2) sample_rate(4) pcm16le...
const (
	blobMagic      = "NRCA"
	blobVersion    = 1
	blobHeaderSize = 12
)

func encodeBlob(raw core.RawAudio) []byte {
	out := make([]byte, blobHeaderSize+len(raw.PCM))
	copy(out, blobMagic)
	out[4] = blobVersion
	binary.LittleEndian.PutUint16(out[6:8], uint16(raw.Channels))
	binary.LittleEndian.PutUint32(out[8:12], uint32(raw.SampleRate))
	copy(out[blobHeaderSize:], raw.PCM)

	return out
}

func decodeBlob(data []byte) (core.RawAudio, error) {
	if len(data) < blobHeaderSize || string(data[:4]) != blobMagic {
		return core.RawAudio{}, fmt.Errorf("%w: bad header", ErrCorruptBlob)
	}

	if data[4] != blobVersion {
		return core.RawAudio{}, fmt.Errorf("%w: version %d", ErrCorruptBlob, data[4])
	}

	channels := int(binary.LittleEndian.Uint16(data[6:8]))
	rate := int(binary.LittleEndian.Uint32(data[8:12]))

	if channels == 0 || rate == 0 || (len(data)-blobHeaderSize)%2 != 0 {
		return core.RawAudio{}, fmt.Errorf("%w: invalid format", ErrCorruptBlob)
	}

	pcm := make([]byte, len(data)-blobHeaderSize)
	copy(pcm, data[blobHeaderSize:])

	return core.RawAudio{PCM: pcm, SampleRate: rate, Channels: channels}, nil
}
