package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"wrdspanel/internal/config"
	"wrdspanel/internal/operations"
	"wrdspanel/pkg/contracts/domain"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var refresh bool
	var steps []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline",
		Long: `Runs compustat, crsp, merge, diagnostics and publish in order.
Cached pulls are reused unless --refresh is given. Publishing only happens
when storage is enabled in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), opts, operations.Request{
				Refresh: refresh,
				Steps:   steps,
			}, true)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore cached pulls and query WRDS again")
	cmd.Flags().StringSliceVar(&steps, "steps", nil, "run only these steps (compustat, crsp, merge, diagnostics, publish)")
	return cmd
}

func newPullCmd(opts *rootOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:       "pull compustat|crsp",
		Short:     "Pull one source from WRDS into the cache",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{config.StageCompustat, config.StageCRSP},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), opts, operations.Request{
				Refresh: refresh,
				Steps:   []string{args[0]},
			}, true)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore the cache and query WRDS again")
	return cmd
}

func newMergeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge the cached pulls into the final panel",
		Long: `Builds the final panel from the cached Compustat and CRSP pulls
without connecting to WRDS. Fails when no Compustat pull is cached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), opts, operations.Request{
				Steps: []string{config.StageMerge},
			}, false)
		},
	}
}

func runPipeline(ctx context.Context, out io.Writer, opts *rootOptions, req operations.Request, needWRDS bool) error {
	env, err := loadEnv(opts, needWRDS)
	if err != nil {
		return err
	}
	defer env.Close(context.WithoutCancel(ctx))
	env.cfg.LogSummary(env.logger.Logger)

	mgr, err := env.manager()
	if err != nil {
		return err
	}
	run, err := mgr.Run(ctx, req)
	if run != nil {
		printRun(out, run)
	}
	if err != nil {
		return err
	}
	if run.Status != domain.RunStatusCompleted {
		return fmt.Errorf("pipeline run %s %s: %s", run.ID, run.Status, run.Error)
	}
	return nil
}

func printRun(out io.Writer, run *domain.PipelineRun) {
	fmt.Fprintf(out, "run %s: %s", run.ID, run.Status)
	if run.Duration != "" {
		fmt.Fprintf(out, " in %s", run.Duration)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tDETAIL")
	for _, s := range run.Steps {
		detail := s.Message
		if s.Error != "" {
			detail = s.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Status, detail)
	}
	tw.Flush()

	for _, f := range run.Outputs {
		fmt.Fprintln(out, "wrote", f)
	}
}
