package main

import (
	"fmt"
	"os"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/book-expert/narrator/internal/config"
)

// Flag names.
const (
	flagConfig    = "config"
	flagProfile   = "profile"
	flagFormat    = "format"
	flagOutputDir = "output-dir"
	flagJobs      = "jobs"
	flagCheck     = "check"
)

// Flag descriptions.
const (
	flagConfigDesc    = "Path to a TOML config file (defaults to searching project.toml up the directory tree)"
	flagProfileDesc   = "Voice profile to narrate with (defaults to synthesis.default_profile)"
	flagFormatDesc    = "Output format: wav, pcm, mp3, flac, ogg, m4a or aac (defaults to output.format)"
	flagOutputDirDesc = "Directory for narrated files (defaults to paths.output_dir, then the current directory)"
	flagJobsDesc      = "Documents narrated at once; segments of all documents share the worker pool"
	flagCheckDesc     = "Check each engine that exposes a health endpoint"
)

const (
	logFileName       = "narrator.log"
	bootstrapLogName  = "narrator-bootstrap.log"
	errFmtLoadConfig  = "failed to load configuration: %w"
	errFmtInitLogger  = "failed to initialize logger: %w"
	errFmtConnectNATS = "failed to connect to NATS at %s: %w"
)

// options holds the persistent flag values.
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "narrator",
		Short: "Narrate text documents with pluggable speech engines",
		Long: `narrator turns plain-text and Markdown documents into narrated audio.

Text is split at paragraph, sentence and clause boundaries, synthesized by the
configured engines with retries and fallback, cached by content fingerprint,
post-processed and assembled in document order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, flagConfig, "", flagConfigDesc)

	root.AddCommand(
		newSynthesizeCmd(opts),
		newCacheCmd(opts),
		newVoicesCmd(opts),
		newEnginesCmd(opts),
	)

	return root
}

// session is the configuration and logger shared by every subcommand.
type session struct {
	cfg *config.Config
	log *logger.Logger
}

// open loads the configuration and creates the logger, the same way the
// service bootstraps: a temporary logger first, then one in base_logs_dir.
func (o *options) open() (*session, error) {
	bootstrapLog, err := logger.New(os.TempDir(), bootstrapLogName)
	if err != nil {
		return nil, fmt.Errorf(errFmtInitLogger, err)
	}

	defer func() { _ = bootstrapLog.Close() }()

	var cfg *config.Config

	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load(bootstrapLog)
	}

	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, fmt.Errorf(errFmtLoadConfig, err)
	}

	logDir := cfg.Paths.BaseLogsDir
	if logDir == "" {
		logDir = os.TempDir()
	}

	log, err := logger.New(logDir, logFileName)
	if err != nil {
		return nil, fmt.Errorf(errFmtInitLogger, err)
	}

	return &session{cfg: cfg, log: log}, nil
}

func (s *session) close() {
	_ = s.log.Close()
}

// jetStream connects to NATS when the cache lives there. The returned close
// function is never nil.
func (s *session) jetStream() (nats.JetStreamContext, func(), error) {
	if !s.cfg.Cache.Enabled || s.cfg.Cache.Backend != config.CacheBackendNATS {
		return nil, func() {}, nil
	}

	natsConnection, err := nats.Connect(s.cfg.NATS.URL)
	if err != nil {
		return nil, func() {}, fmt.Errorf(errFmtConnectNATS, s.cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, func() {}, fmt.Errorf("failed to open JetStream: %w", err)
	}

	return jetstreamContext, natsConnection.Close, nil
}
