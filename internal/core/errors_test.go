// Package core_test tests the shared domain helpers.
package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/narrator/internal/core"
	"github.com/stretchr/testify/assert"
)

func TestEngineError_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		transient bool
		terminal  bool
	}{
		{
			name:      "transient",
			err:       core.NewEngineError("openai", core.ErrTransient, errors.New("503")),
			transient: true,
			terminal:  false,
		},
		{
			name:      "quota",
			err:       core.NewEngineError("openai", core.ErrQuota, nil),
			transient: false,
			terminal:  true,
		},
		{
			name:      "plain context deadline",
			err:       context.DeadlineExceeded,
			transient: false,
			terminal:  true,
		},
		{
			name:      "nil",
			err:       nil,
			transient: false,
			terminal:  false,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.transient, core.IsTransient(testCase.err))
			assert.Equal(t, testCase.terminal, core.IsTerminal(testCase.err))
		})
	}
}

func TestEngineError_UnwrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := core.NewEngineError("piper", core.ErrResource, cause)

	assert.ErrorIs(t, err, core.ErrResource)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "piper")

	var engineErr *core.EngineError
	assert.ErrorAs(t, err, &engineErr)
	assert.Equal(t, "piper", engineErr.Engine)
}

func TestRawAudio_Duration(t *testing.T) {
	t.Parallel()

	raw := core.RawAudio{PCM: make([]byte, 2*2*22050), SampleRate: 22050, Channels: 2}
	assert.Equal(t, time.Second, raw.Duration())

	assert.Equal(t, time.Duration(0), core.RawAudio{}.Duration())
}
