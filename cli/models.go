package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"insights-pipeline/models"
	"insights-pipeline/services"
	"insights-pipeline/storage"
)

func newModelsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models of the newest bundle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx, getConfig(ctx))
			defer cleanup()
			if err != nil {
				return err
			}
			summary := a.registry.Summary()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func printSummary(w io.Writer, s services.RegistrySummary) {
	if s.TotalModels == 0 {
		fmt.Fprintln(w, "No models registered. Run the pipeline first.")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(fmt.Sprintf("Models (%d total)", s.TotalModels))
	tw.AppendHeader(table.Row{"Model", "Task", "Best", "Score", "Features", "Importances", "Trained"})
	for _, m := range s.Models {
		tw.AppendRow(table.Row{
			m.Name, m.Task, m.BestModel, bestScore(m), m.FeaturesCount,
			yesNo(m.HasImportances), m.TrainedAt.Format("2006-01-02 15:04"),
		})
	}
	tw.Render()
}

// bestScore formats the headline metric of the selected candidate.
func bestScore(m services.ModelSummary) string {
	for _, c := range m.Performance {
		if c.Name != m.BestModel || !c.OK() {
			continue
		}
		if m.Task == services.TaskClassification {
			return fmt.Sprintf("acc %.3f", c.Accuracy)
		}
		return fmt.Sprintf("r2 %.3f", c.R2)
	}
	return "-"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past pipeline runs, or the domains of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx, getConfig(ctx))
			defer cleanup()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := a.runs.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				a.insights.PrintRun(out, run)
				return nil
			}
			runs, err := a.runs.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			printHistory(out, runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func printHistory(w io.Writer, runs []storage.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No pipeline runs recorded.")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Run", "Mode", "Status", "Started", "Took", "Domains", "Trained"})
	for _, r := range runs {
		took := "-"
		if !r.CompletedAt.IsZero() {
			took = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		tw.AppendRow(table.Row{
			r.ID, r.Mode, statusText(r.Status), r.StartedAt.Format("2006-01-02 15:04:05"),
			took, r.Domains, r.Trained,
		})
	}
	tw.Render()
}

func statusText(s models.RunStatus) string {
	return strings.ToUpper(string(s))
}
