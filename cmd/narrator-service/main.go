// main package for the narrator-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/narrator/internal/app"
	"github.com/book-expert/narrator/internal/config"
	"github.com/book-expert/narrator/internal/objectstore"
	"github.com/book-expert/narrator/internal/observability"
	"github.com/book-expert/narrator/internal/orchestrator"
	"github.com/book-expert/narrator/internal/worker"
)

const (
	bootstrapLogName      = "narrator-service-bootstrap.log"
	serviceLogName        = "narrator-service.log"
	metricsReadTimeout    = 10 * time.Second
	metricsShutdownPeriod = 5 * time.Second
)

var errNATSDisconnected = errors.New("nats connection is not established")

func setupLogger(logPath, name string) (*logger.Logger, error) {
	log, err := logger.New(logPath, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run(ctx context.Context) error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Connect to NATS and open the object store
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to open JetStream: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		log.Error("Failed to open object store %s: %v", cfg.NATS.AudioObjectStoreBucket, err)

		return err
	}

	// 5. Build the pipeline and the worker
	pipeline, err := app.Build(ctx, cfg, orchestrator.StoreSink{Store: store}, jetstreamContext, log)
	if err != nil {
		log.Error("Failed to build pipeline: %v", err)

		return err
	}

	defer func() {
		closeErr := pipeline.Close()
		if closeErr != nil {
			log.Warn("Failed to close pipeline: %v", closeErr)
		}
	}()

	natsWorker, err := worker.NewNatsWorker(natsConnection, store, pipeline.Orchestrator, pipeline.Chunker, pipeline.Profiles, worker.Config{
		Subject:        cfg.NATS.TextProcessedSubject,
		Queue:          cfg.NATS.TTSConsumerName,
		ReplySubject:   cfg.NATS.AudioChunkCreatedSubject,
		DefaultProfile: app.ProfileName(cfg),
		JobTimeout:     config.Seconds(cfg.NATS.JobTimeoutSeconds),
	}, log)
	if err != nil {
		return err
	}

	if pipeline.Cache != nil {
		go pipeline.Cache.RunCleanup(ctx, time.Duration(cfg.Cache.CleanupIntervalMinutes)*time.Minute)
	}

	if cfg.Metrics.Enabled {
		stopMetrics := serveMetrics(cfg.Metrics.Addr, pipeline, natsConnection, log)
		defer stopMetrics()
	}

	log.System("Narrator service initialized. Listening for jobs on subject: %s", cfg.NATS.TextProcessedSubject)

	return natsWorker.Run(ctx)
}

// serveMetrics exposes /metrics and /healthz and returns a shutdown function.
func serveMetrics(addr string, pipeline *app.Pipeline, natsConnection *nats.Conn, log *logger.Logger) func() {
	health := func(context.Context) error {
		if natsConnection.Status() != nats.CONNECTED {
			return errNATSDisconnected
		}

		return nil
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           observability.NewRouter(pipeline.Registry, health),
		ReadHeaderTimeout: metricsReadTimeout,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped: %v", err)
		}
	}()

	log.Info("Serving metrics on %s", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownPeriod)
		defer cancel()

		_ = server.Shutdown(ctx)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
