package orchestrator

import (
	"slices"
	"time"

	"github.com/book-expert/narrator/internal/audio"
	"github.com/book-expert/narrator/internal/core"
)

// MergePause combines the pause after one segment with the pause before the next.
func MergePause(after, before time.Duration, mode string) time.Duration {
	if mode == PauseMergeMax {
		return max(after, before)
	}

	return after + before
}

// Assemble concatenates chunks in Index order, inserting the merged pause of
// each adjacent segment pair between them. Chunks must already share the
// given sample rate and channel count.
func Assemble(chunks []core.AudioChunk, segments []core.TextSegment, mode string, sampleRate, channels int) audio.Buffer {
	ordered := slices.Clone(chunks)
	slices.SortStableFunc(ordered, func(a, b core.AudioChunk) int { return a.Index - b.Index })

	byIndex := make(map[int]core.TextSegment, len(segments))
	for _, segment := range segments {
		byIndex[segment.Index] = segment
	}

	parts := make([]audio.Buffer, 0, 2*len(ordered))

	for i, chunk := range ordered {
		if i > 0 {
			previous := byIndex[ordered[i-1].Index]
			current := byIndex[chunk.Index]
			gap := MergePause(previous.PauseAfter, current.PauseBefore, mode)

			if gap > 0 {
				parts = append(parts, audio.Silence(gap, sampleRate, channels))
			}
		}

		parts = append(parts, audio.FromChunk(chunk))
	}

	return audio.Concat(sampleRate, channels, parts...)
}
