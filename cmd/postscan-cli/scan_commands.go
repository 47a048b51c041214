package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/postscan/internal/core"
	"github.com/vrsandeep/postscan/internal/scan"
)

const directProgressEvery = 50

func newScanCommand(ctx *commandContext) *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Start, inspect and drive the posts scan",
	}

	scanCmd.AddCommand(newScanStartCommand(ctx))
	scanCmd.AddCommand(newScanStatusCommand(ctx))
	scanCmd.AddCommand(newScanCancelCommand(ctx))
	scanCmd.AddCommand(newScanProcessCommand(ctx))
	scanCmd.AddCommand(newScanRunCommand(ctx))

	return scanCmd
}

func postTypes(app *core.App, flagged []string) []string {
	if len(flagged) == 0 {
		return app.Config().Scan.DefaultPostTypes
	}
	return flagged
}

func newScanStartCommand(ctx *commandContext) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Queue a background scan and run its first batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *core.App) error {
				types := postTypes(app, types)
				ids, err := app.Store().PublishedPostIDs(cmd.Context(), types)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					return fmt.Errorf("no posts found for post types %v", types)
				}
				if err := app.ScanJob().Start(cmd.Context(), ids, types); err != nil {
					return err
				}
				st, err := app.ScanJob().Status(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scan started: %d/%d processed\n", st.Processed, st.Total)
				if st.Running {
					fmt.Fprintln(cmd.OutOrStdout(), "Remaining batches run on the server's schedule or with `scan process`.")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "post-type", nil, "Post types to scan (default from scan.default_post_types)")
	return cmd
}

func newScanStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show scan progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *core.App) error {
				st, err := app.ScanJob().Status(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(st)
				}
				state := "idle"
				if st.Running {
					state = "running"
				}
				fmt.Fprintf(out, "State:     %s\n", state)
				fmt.Fprintf(out, "Processed: %d/%d\n", st.Processed, st.Total)
				fmt.Fprintf(out, "Remaining: %d\n", st.Remaining)
				fmt.Fprintf(out, "Failed:    %d\n", st.Failed)
				if st.StartedAt != nil {
					fmt.Fprintf(out, "Started:   %s\n", st.StartedAt.Format(time.RFC3339))
				}
				if st.FinishedAt != nil {
					fmt.Fprintf(out, "Finished:  %s\n", st.FinishedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")
	return cmd
}

func newScanCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the current scan and reset progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *core.App) error {
				if err := app.ScanJob().Cancel(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Scan cancelled.")
				return nil
			})
		},
	}
}

func newScanProcessCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one scan cycle now (or every remaining cycle with --all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *core.App) error {
				job := app.ScanJob()
				prev := int64(-1)
				for {
					if err := job.RunCycle(cmd.Context()); err != nil {
						return err
					}
					st, err := job.Status(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Processed %d/%d\n", st.Processed, st.Total)
					if !all || !st.Running {
						return nil
					}
					if st.Processed == prev {
						return fmt.Errorf("scan made no progress; another cycle may hold the lease")
					}
					prev = st.Processed
				}
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Keep running cycles until the scan finishes")
	return cmd
}

func newScanRunCommand(ctx *commandContext) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stamp every matching post synchronously, bypassing the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *core.App) error {
				types := postTypes(app, types)
				ids, err := app.Store().PublishedPostIDs(cmd.Context(), types)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No posts found for post types %v\n", types)
					return nil
				}
				log.Info().Int("total", len(ids)).Strs("post_types", types).Msg("Scanning posts")
				sum, err := app.ScanJob().RunDirect(cmd.Context(), ids, directProgressEvery, func(s scan.DirectSummary) {
					log.Info().Int("processed", s.Processed).Int("total", s.Total).Msg("Scan progress")
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d posts (%d failed).\n", sum.Processed, sum.Failed)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "post-type", nil, "Post types to scan (default from scan.default_post_types)")
	return cmd
}
