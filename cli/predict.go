package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"insights-pipeline/services"
)

func newPredictCommand() *cobra.Command {
	var (
		model    string
		features []string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict with a registered model",
		Long: `Predict loads the newest model bundle and runs one prediction. Features
the row omits are filled with their training-time means.`,
		Example: `  insights-pipeline predict --model covid_forecast \
    --feature cases_7d_avg=52000 --feature deaths=900`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			row, err := parseFeatures(features)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, cleanup, err := newApp(ctx, getConfig(ctx))
			defer cleanup()
			if err != nil {
				return err
			}

			pred, err := a.registry.Predict(model, row)
			if err != nil {
				a.logger.Error("[cli] prediction failed: %v", err)
				kind, msg := services.PublicError(err)
				return fmt.Errorf("%s: %s", kind, msg)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(pred)
			}
			if pred.Label != "" {
				fmt.Fprintf(out, "%s → %s (class %d)\n", pred.Model, pred.Label, int(pred.Value))
			} else {
				fmt.Fprintf(out, "%s → %.4f\n", pred.Model, pred.Value)
			}
			if len(pred.Imputed) > 0 {
				fmt.Fprintf(out, "  filled with training means: %s\n", strings.Join(pred.Imputed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Registered model name")
	cmd.Flags().StringArrayVarP(&features, "feature", "f", nil, "Feature value as name=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the prediction as JSON")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

// parseFeatures turns name=value pairs into a prediction row.
func parseFeatures(pairs []string) (map[string]float64, error) {
	row := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid feature %q, want name=value", p)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid value for feature %q: %q", name, raw)
		}
		if _, dup := row[name]; dup {
			return nil, fmt.Errorf("feature %q given twice", name)
		}
		row[name] = v
	}
	return row, nil
}
