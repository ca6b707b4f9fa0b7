package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/book-expert/narrator/internal/app"
	"github.com/book-expert/narrator/internal/cache"
	"github.com/book-expert/narrator/internal/fsutil"
)

func newCacheCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the synthesis cache",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cache occupancy and limits",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withCache(cmd.Context(), opts, func(c *cache.Cache) error {
					printStats(cmd.OutOrStdout(), c.Stats())

					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every cached rendition",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withCache(cmd.Context(), opts, func(c *cache.Cache) error {
					removed, err := c.Clear(cmd.Context())
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", removed)

					return err
				})
			},
		},
	)

	return cmd
}

func withCache(ctx context.Context, opts *options, fn func(*cache.Cache) error) error {
	sess, err := opts.open()
	if err != nil {
		return err
	}
	defer sess.close()

	js, closeNATS, err := sess.jetStream()
	if err != nil {
		return err
	}
	defer closeNATS()

	synthCache, err := app.OpenCache(ctx, sess.cfg, js, sess.log)
	if err != nil {
		return err
	}

	defer func() { _ = synthCache.Close() }()

	return fn(synthCache)
}

func printStats(out io.Writer, stats cache.Stats) {
	fmt.Fprintf(out, "Entries:     %d\n", stats.EntryCount)
	fmt.Fprintf(out, "Size:        %s of %s\n", fsutil.FormatFileSize(stats.TotalSizeBytes), fsutil.FormatFileSize(stats.MaxSizeBytes))
	fmt.Fprintf(out, "Oldest:      %s (max age %s)\n", fsutil.FormatDuration(stats.OldestEntryAge), fsutil.FormatDuration(stats.MaxAge))
	fmt.Fprintf(out, "Hits/Misses: %d/%d\n", stats.Hits, stats.Misses)
	fmt.Fprintf(out, "Evictions:   %d\n", stats.Evictions)
}
