// Package worker provides a NATS worker that narrates text documents.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/extract"
	"github.com/book-expert/narrator/internal/orchestrator"
)

const defaultJobTimeout = 10 * time.Minute

var (
	// ErrTopPRange indicates that the TopP parameter is out of the valid range [0.0, 1.0].
	ErrTopPRange = errors.New("top_p must be between 0.0 and 1.0")
	// ErrRepetitionPenaltyRange indicates that the RepetitionPenalty parameter is below 1.0.
	ErrRepetitionPenaltyRange = errors.New("repetition penalty must be >= 1.0")
	// ErrTemperatureRange indicates that the Temperature parameter is negative.
	ErrTemperatureRange = errors.New("temperature must be >= 0.0")
	// ErrNGLNegative indicates that the NGL (number of GPU layers) parameter is negative.
	ErrNGLNegative = errors.New("n_gpu_layers must be non-negative")
	// ErrEmptyDocument indicates that the downloaded text produced no segments.
	ErrEmptyDocument = errors.New("document contains no text")
	// ErrSubjectEmpty indicates that no subject was configured.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
)

// Synthesizer turns a segmented document into a stored artifact.
type Synthesizer interface {
	SynthesizeDocument(ctx context.Context, req orchestrator.DocumentRequest) (orchestrator.Result, error)
}

// Segmenter splits extracted blocks into synthesis segments.
type Segmenter interface {
	Chunk(blocks []core.Block) []core.TextSegment
}

// ProfileSource resolves voice profiles by name.
type ProfileSource interface {
	Get(name string) (core.VoiceProfile, error)
}

// Config wires a NatsWorker.
type Config struct {
	Subject string
	// Queue, when set, load-balances jobs across workers in the same group.
	Queue string
	// ReplySubject, when set, also receives every AudioChunkCreatedEvent.
	ReplySubject   string
	DefaultProfile string
	JobTimeout     time.Duration
}

// NatsWorker listens for TextProcessedEvent jobs and answers with
// AudioChunkCreatedEvent once the narration artifact is stored.
type NatsWorker struct {
	natsConnection *nats.Conn
	store          core.ObjectStore
	synthesizer    Synthesizer
	segmenter      Segmenter
	profiles       ProfileSource
	log            *logger.Logger
	cfg            Config
}

// NewNatsWorker creates a new instance of a NATS worker. store is where the
// text named by each event is downloaded from.
func NewNatsWorker(
	natsConnection *nats.Conn,
	store core.ObjectStore,
	synthesizer Synthesizer,
	segmenter Segmenter,
	profileSource ProfileSource,
	cfg Config,
	log *logger.Logger,
) (*NatsWorker, error) {
	if cfg.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		store:          store,
		synthesizer:    synthesizer,
		segmenter:      segmenter,
		profiles:       profileSource,
		log:            log,
		cfg:            cfg,
	}, nil
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.cfg.Queue != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.cfg.Subject, w.cfg.Queue, w.handleMessage)
	} else {
		sub, err = w.natsConnection.Subscribe(w.cfg.Subject, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.Subject, err)
	}

	w.log.Info("Listening for jobs on subject: %s", w.cfg.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse event: %v", err)

		return
	}

	audioKey, err := w.processJob(ctx, event)
	if err != nil {
		w.log.Error("Failed to process narration job for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processJob downloads the text, narrates it and returns the artifact key.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	params, err := eventParams(event)
	if err != nil {
		return "", err
	}

	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	segments := w.segmenter.Chunk(extract.Markdown(string(textData)))
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: key '%s'", ErrEmptyDocument, event.TextKey)
	}

	result, err := w.synthesizer.SynthesizeDocument(ctx, orchestrator.DocumentRequest{
		ID:          uuid.NewString(),
		ProfileName: w.profileFor(event.Voice),
		Params:      params,
		Segments:    segments,
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize document: %w", err)
	}

	if result.Completeness != orchestrator.CompletenessFull {
		w.log.Warn("Workflow %s page %d narrated with %d failed segments",
			event.Header.WorkflowID, event.PageNumber, len(result.Failures))
	}

	return result.ArtifactPath, nil
}

// profileFor uses the event voice as a profile name when one exists by that
// name, and the default profile otherwise.
func (w *NatsWorker) profileFor(voice string) string {
	if voice == "" {
		return w.cfg.DefaultProfile
	}

	_, err := w.profiles.Get(voice)
	if err != nil {
		w.log.Warn("Unknown voice profile %q, using %q", voice, w.cfg.DefaultProfile)

		return w.cfg.DefaultProfile
	}

	return voice
}

// publishReplyEvent responds to the request, if it expects a reply, and
// publishes to the reply subject, if one is configured.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
		if err != nil {
			return fmt.Errorf("failed to publish reply event: %w", err)
		}
	}

	if w.cfg.ReplySubject != "" {
		err = w.natsConnection.Publish(w.cfg.ReplySubject, replyData)
		if err != nil {
			return fmt.Errorf("failed to publish to %s: %w", w.cfg.ReplySubject, err)
		}
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}

// eventParams validates the sampling settings carried by the event and turns
// the ones that are set into engine parameters. Zero values keep the profile's.
func eventParams(event *events.TextProcessedEvent) (map[string]string, error) {
	if event.TopP < 0.0 || event.TopP > 1.0 {
		return nil, fmt.Errorf("%w: got %f", ErrTopPRange, event.TopP)
	}

	if event.RepetitionPenalty != 0 && event.RepetitionPenalty < 1.0 {
		return nil, fmt.Errorf("%w: got %f", ErrRepetitionPenaltyRange, event.RepetitionPenalty)
	}

	if event.Temperature < 0.0 {
		return nil, fmt.Errorf("%w: got %f", ErrTemperatureRange, event.Temperature)
	}

	if event.NGL < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrNGLNegative, event.NGL)
	}

	params := make(map[string]string)

	if event.Seed != 0 {
		params["seed"] = strconv.Itoa(event.Seed)
	}

	if event.NGL != 0 {
		params["ngl"] = strconv.Itoa(event.NGL)
	}

	if event.TopP != 0 {
		params["top_p"] = strconv.FormatFloat(event.TopP, 'f', -1, 64)
	}

	if event.RepetitionPenalty != 0 {
		params["repetition_penalty"] = strconv.FormatFloat(event.RepetitionPenalty, 'f', -1, 64)
	}

	if event.Temperature != 0 {
		params["temperature"] = strconv.FormatFloat(event.Temperature, 'f', -1, 64)
	}

	return params, nil
}
