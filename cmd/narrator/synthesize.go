package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/narrator/internal/app"
	"github.com/book-expert/narrator/internal/audio"
	"github.com/book-expert/narrator/internal/extract"
	"github.com/book-expert/narrator/internal/fsutil"
	"github.com/book-expert/narrator/internal/orchestrator"
)

const defaultJobs = 2

var errOutputCollision = errors.New("documents map to the same output file")

type synthesizeFlags struct {
	profile   string
	format    string
	outputDir string
	jobs      int
}

func newSynthesizeCmd(opts *options) *cobra.Command {
	flags := &synthesizeFlags{}

	cmd := &cobra.Command{
		Use:   "synthesize <file>...",
		Short: "Narrate .txt and .md documents",
		Long: `Narrates each document into one audio file named after it.

Examples:
  narrator synthesize chapter1.md chapter2.md
  narrator synthesize --profile storyteller --format mp3 book.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSynthesize(cmd.Context(), cmd.OutOrStdout(), opts, flags, args)
		},
	}

	cmd.Flags().StringVar(&flags.profile, flagProfile, "", flagProfileDesc)
	cmd.Flags().StringVar(&flags.format, flagFormat, "", flagFormatDesc)
	cmd.Flags().StringVar(&flags.outputDir, flagOutputDir, "", flagOutputDirDesc)
	cmd.Flags().IntVar(&flags.jobs, flagJobs, defaultJobs, flagJobsDesc)

	return cmd
}

func runSynthesize(ctx context.Context, out io.Writer, opts *options, flags *synthesizeFlags, files []string) error {
	sess, err := opts.open()
	if err != nil {
		return err
	}
	defer sess.close()

	format := audio.Format(strings.ToLower(flags.format))
	if format == "" {
		format = audio.Format(sess.cfg.Output.Format)
	}

	if !format.IsSupported() {
		return fmt.Errorf("%w: unsupported output format %q", audio.ErrInvalidSettings, format)
	}

	outputDir := flags.outputDir
	if outputDir == "" {
		outputDir = sess.cfg.Paths.OutputDir
	}

	if outputDir == "" {
		outputDir = "."
	}

	outputs := make(map[string]string, len(files))

	for _, file := range files {
		output := fsutil.OutputPath(file, outputDir, string(format))
		if other, taken := outputs[output]; taken {
			return fmt.Errorf("%w: %s and %s both write %s", errOutputCollision, other, file, output)
		}

		outputs[output] = file
	}

	profileName := flags.profile
	if profileName == "" {
		profileName = app.ProfileName(sess.cfg)
	}

	js, closeNATS, err := sess.jetStream()
	if err != nil {
		return err
	}
	defer closeNATS()

	pipeline, err := app.Build(ctx, sess.cfg, orchestrator.FileSink{Dir: outputDir}, js, sess.log)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := pipeline.Close()
		if closeErr != nil {
			sess.log.Warn("Failed to close pipeline: %v", closeErr)
		}
	}()

	var (
		group  errgroup.Group
		mu     sync.Mutex
		failed []error
	)

	group.SetLimit(max(flags.jobs, 1))

	for _, file := range files {
		group.Go(func() error {
			result, docErr := narrate(ctx, pipeline, file, profileName, format, outputDir)

			mu.Lock()
			defer mu.Unlock()

			if docErr != nil {
				failed = append(failed, fmt.Errorf("%s: %w", file, docErr))
				fmt.Fprintf(out, "FAILED  %s: %v\n", file, docErr)

				return nil
			}

			fmt.Fprintf(out, "%-7s %s -> %s (%s audio in %s, %d cache hits, %d failed segments)\n",
				strings.ToUpper(result.Completeness), file, result.ArtifactPath,
				fsutil.FormatDuration(result.AudioLength), fsutil.FormatDuration(result.Duration),
				result.CacheHits, len(result.Failures))

			return nil
		})
	}

	_ = group.Wait()

	return errors.Join(failed...)
}

// narrate extracts, chunks and synthesizes one document.
func narrate(ctx context.Context, pipeline *app.Pipeline, file, profileName string, format audio.Format, outputDir string) (orchestrator.Result, error) {
	blocks, err := extract.File(file)
	if err != nil {
		return orchestrator.Result{}, err
	}

	output := fsutil.OutputPath(file, outputDir, string(format))
	id := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))

	return pipeline.Orchestrator.SynthesizeDocument(ctx, orchestrator.DocumentRequest{
		ID:           id,
		ProfileName:  profileName,
		OutputFormat: format,
		OutputPath:   output,
		Segments:     pipeline.Chunker.Chunk(blocks),
	})
}
