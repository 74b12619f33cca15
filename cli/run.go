package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"insights-pipeline/models"
)

func newRunCommand() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline over the configured domains",
		Long: `Run collects, cleans and trains every configured domain, then prints a
per-domain report and the insights of each usable table.

Modes:
  full     collect, clean, persist and train (default)
  collect  collect and write the raw CSV copy only (no processed tables)
  train    train from the newest stored processed tables`,
		Example: `  # Full run over every domain
  insights-pipeline run

  # Fetch fresh raw stock and covid data without cleaning or training
  insights-pipeline run --mode collect --domains stock,covid`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			return runPipeline(cmd, m)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(models.ModeFull), "Run mode (full|collect|train)")
	_ = cmd.RegisterFlagCompletionFunc("mode", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(models.ModeFull), string(models.ModeCollect), string(models.ModeTrain)}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func parseMode(s string) (models.RunMode, error) {
	switch m := models.RunMode(s); m {
	case models.ModeFull, models.ModeCollect, models.ModeTrain:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want full, collect or train)", s)
}

func runPipeline(cmd *cobra.Command, mode models.RunMode) error {
	ctx := cmd.Context()
	a, cleanup, err := newApp(ctx, getConfig(ctx))
	defer cleanup()
	if err != nil {
		return err
	}
	a.logger.Info("=== Insights pipeline starting (mode %s) ===", mode)

	var run *models.PipelineRun
	switch mode {
	case models.ModeTrain:
		a.openSink(ctx)
		if a.sink != nil {
			// the Postgres mirror holds the same rows as the newest processed CSV
			a.source = a.sink
		}
		run, err = a.pipeline(nil).TrainStored(ctx)
	case models.ModeCollect:
		a.openSink(ctx)
		run, err = a.pipeline(a.collectors()).Collect(ctx)
	default:
		a.openSink(ctx)
		run, err = a.pipeline(a.collectors()).Run(ctx)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	a.insights.PrintRun(out, run)
	a.insights.Print(out, reportsOf(run))
	for _, e := range run.Errors {
		fmt.Fprintf(out, "  warning: %s\n", e)
	}
	if run.BundlePath != "" {
		fmt.Fprintf(out, "\n  Models saved to %s\n", run.BundlePath)
	}

	if run.Status == models.RunFailed {
		a.logger.Error("pipeline run %s failed", run.ID)
		return errRunFailed
	}
	a.logger.Info("=== Pipeline run %s completed ===", run.ID)
	return nil
}

// reportsOf returns the insight reports of a run in domain order.
func reportsOf(run *models.PipelineRun) []*models.InsightReport {
	var out []*models.InsightReport
	for _, d := range models.AllDomains {
		if r, ok := run.Insights[d]; ok && r != nil {
			out = append(out, r)
		}
	}
	return out
}
