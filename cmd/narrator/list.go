package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/narrator/internal/app"
	"github.com/book-expert/narrator/internal/engine"
	"github.com/book-expert/narrator/internal/profiles"
)

const (
	tabMinWidth = 0
	tabWidth    = 4
	tabPadding  = 2
	none        = "-"
)

func newVoicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List voice profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := opts.open()
			if err != nil {
				return err
			}
			defer sess.close()

			store, err := profiles.Load(sess.cfg.Paths.ProfilesDir, app.DefaultProfile(sess.cfg))
			if err != nil {
				return err
			}

			table := tabwriter.NewWriter(cmd.OutOrStdout(), tabMinWidth, tabWidth, tabPadding, ' ', 0)
			fmt.Fprintln(table, "PROFILE\tENGINE\tVOICE\tLANGUAGE\tRATE")

			defaultName := app.ProfileName(sess.cfg)

			for _, name := range store.Names() {
				profile, _ := store.Get(name)

				marker := ""
				if name == defaultName {
					marker = " *"
				}

				fmt.Fprintf(table, "%s%s\t%s\t%s\t%s\t%.2f\n",
					name, marker, profile.Engine, orNone(profile.Voice), orNone(profile.Language), profile.Rate)
			}

			return table.Flush()
		},
	}
}

// healthChecker is implemented by engines that expose a health endpoint.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

func newEnginesCmd(opts *options) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "engines",
		Short: "List configured engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := opts.open()
			if err != nil {
				return err
			}
			defer sess.close()

			table := tabwriter.NewWriter(cmd.OutOrStdout(), tabMinWidth, tabWidth, tabPadding, ' ', 0)

			header := "ENGINE\tKIND\tMAX CONCURRENT\tTIMEOUT\tVOICES"
			if check {
				header += "\tHEALTH"
			}

			fmt.Fprintln(table, header)

			for _, engineOpts := range app.EngineOptions(sess.cfg) {
				id := engineOpts.ID
				if id == sess.cfg.Synthesis.FallbackEngine {
					id += " (fallback)"
				}

				concurrency := none
				if engineOpts.MaxConcurrent > 0 {
					concurrency = fmt.Sprint(engineOpts.MaxConcurrent)
				}

				fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s",
					id, engineOpts.Kind, concurrency, engineOpts.Timeout, orNone(strings.Join(engineOpts.Voices, ", ")))

				if check {
					fmt.Fprintf(table, "\t%s", health(cmd.Context(), engineOpts, sess.log))
				}

				fmt.Fprintln(table)
			}

			return table.Flush()
		},
	}

	cmd.Flags().BoolVar(&check, flagCheck, false, flagCheckDesc)

	return cmd
}

// health checks one engine. Engines without a health endpoint report none.
func health(ctx context.Context, engineOpts engine.Options, log *logger.Logger) string {
	eng, err := engine.Build(engineOpts, log)
	if err != nil {
		return "error: " + err.Error()
	}

	checker, ok := eng.(healthChecker)
	if !ok {
		return none
	}

	err = checker.HealthCheck(ctx)
	if err != nil {
		return "unhealthy: " + err.Error()
	}

	return "ok"
}

func orNone(value string) string {
	if value == "" {
		return none
	}

	return value
}
