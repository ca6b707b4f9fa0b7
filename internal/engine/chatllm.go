package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/narrator/internal/audio"
	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/fsutil"
)

const defaultChatLLMBinary = "chatllm"

// Default sampling parameters, overridable per profile through Params.
var chatLLMDefaults = map[string]string{
	"seed":               "42",
	"ngl":                "100",
	"top_p":              "0.95",
	"repetition_penalty": "1.10",
	"temperature":        "0.70",
}

// ChatLLM synthesizes speech by running the chatllm binary with a local model.
// It never fails transiently: a missing binary, model or a crashed process are
// resource failures.
type ChatLLM struct {
	log *logger.Logger
	base
	binaryPath    string
	modelPath     string
	snacModelPath string
}

// NewChatLLM creates a chatllm engine. Model paths are resolved through the
// usual model search path; a model that cannot be found is reported at
// synthesis time so the engine can still be listed.
func NewChatLLM(opts Options, log *logger.Logger) (*ChatLLM, error) {
	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		binaryPath = defaultChatLLMBinary
	}

	return &ChatLLM{
		base:          newBase(opts, core.CapabilityLocal),
		log:           log,
		binaryPath:    binaryPath,
		modelPath:     resolveModel(opts.ModelPath),
		snacModelPath: resolveModel(opts.SnacModelPath),
	}, nil
}

func resolveModel(name string) string {
	if name == "" {
		return ""
	}

	resolved, err := fsutil.ResolveModelPath(name)
	if err != nil {
		return name
	}

	return resolved
}

// Synthesize runs chatllm with the profile's voice and returns the decoded WAV.
func (c *ChatLLM) Synthesize(ctx context.Context, text string, profile core.VoiceProfile) (core.RawAudio, error) {
	if text == "" {
		return core.RawAudio{}, c.fail(core.ErrRejected, ErrEmptyText)
	}

	voiceErr := c.checkVoice(profile)
	if voiceErr != nil {
		return core.RawAudio{}, voiceErr
	}

	binary, lookErr := exec.LookPath(c.binaryPath)
	if lookErr != nil {
		return core.RawAudio{}, c.fail(core.ErrResource, fmt.Errorf("chatllm binary: %w", lookErr))
	}

	for _, model := range []string{c.modelPath, c.snacModelPath} {
		if model == "" {
			continue
		}

		_, statErr := os.Stat(model)
		if statErr != nil {
			return core.RawAudio{}, c.fail(core.ErrResource, fmt.Errorf("model %s: %w", model, fsutil.ErrModelNotFound))
		}
	}

	tempFile, err := os.CreateTemp("", "narrator-chatllm-*.wav")
	if err != nil {
		return core.RawAudio{}, c.fail(core.ErrResource, fmt.Errorf("failed to create temp file for tts output: %w", err))
	}

	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil && c.log != nil {
			c.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	// #nosec G204 -- binary and model paths come from configuration
	cmd := exec.CommandContext(ctx, binary, c.args(text, profile, tempFile.Name())...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return core.RawAudio{}, c.classifyTransport(ctx, ctx.Err())
		}

		return core.RawAudio{}, c.fail(core.ErrResource,
			fmt.Errorf("chatllm binary execution failed: %w - output: %s", err, string(output)))
	}

	audioData, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return core.RawAudio{}, c.fail(core.ErrResource, fmt.Errorf("failed to read audio data from temp file: %w", err))
	}

	raw, err := audio.DecodeWAV(audioData)
	if err != nil {
		return core.RawAudio{}, c.fail(core.ErrResource, err)
	}

	return raw, nil
}

func (c *ChatLLM) args(text string, profile core.VoiceProfile, output string) []string {
	param := func(name string) string {
		if value, ok := profile.Params[name]; ok {
			return value
		}

		return chatLLMDefaults[name]
	}

	prompt := text
	if profile.Voice != "" {
		prompt = fmt.Sprintf("{%s}: %s", profile.Voice, text)
	}

	args := []string{"-m", c.modelPath}
	if c.snacModelPath != "" {
		args = append(args, "--snac_model", c.snacModelPath)
	}

	return append(args,
		"-p", prompt,
		"--tts_export", output,
		"--seed", param("seed"),
		"-ngl", param("ngl"),
		"--top_p", param("top_p"),
		"--repetition_penalty", param("repetition_penalty"),
		"--temp", param("temperature"),
		"--tts_speed", strconv.FormatFloat(speed(profile), 'f', 2, 64),
	)
}

func speed(profile core.VoiceProfile) float64 {
	if profile.Rate <= 0 {
		return 1
	}

	return profile.Rate
}
