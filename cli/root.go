// Package cli provides the command-line interface of the insights pipeline.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"insights-pipeline/config"
	"insights-pipeline/models"
)

// Version is set at build time.
var Version = "0.1.0"

// errRunFailed makes the process exit non-zero without printing the run twice.
var errRunFailed = errors.New("pipeline run failed")

type configKey struct{}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "insights-pipeline",
		Short: "Collect public datasets, engineer features, train and serve models",
		Long: `insights-pipeline collects COVID, weather, stock and population data,
cleans it into per-domain feature tables, trains candidate models per domain,
keeps the best of each in a model registry and prints summary insights.

Configuration comes from the environment (or a .env file); flags override it.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg := config.Load()
			if err := applyFlags(cmd, cfg); err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("data-dir", "", "Directory for raw and processed CSV files")
	flags.String("model-dir", "", "Directory holding model bundles")
	flags.String("log-level", "", "Log level (debug|info|warn|error)")
	flags.StringSlice("domains", nil, "Restrict the run to these domains (covid,weather,stock,population)")
	flags.Int("concurrency", 0, "Number of domains processed in parallel")

	_ = rootCmd.RegisterFlagCompletionFunc("domains", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		names := make([]string, 0, len(models.AllDomains))
		for _, d := range models.AllDomains {
			names = append(names, string(d))
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newPredictCommand())
	rootCmd.AddCommand(newModelsCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return err
	}
	return nil
}

// getConfig returns the config stored by the root command, or one read from
// the environment when a subcommand runs on its own.
func getConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return config.FromEnv()
}

// applyFlags overrides cfg with the persistent flags the user actually set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("model-dir") {
		cfg.ModelDir, _ = flags.GetString("model-dir")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("concurrency") {
		n, _ := flags.GetInt("concurrency")
		if n < 1 {
			return fmt.Errorf("--concurrency must be at least 1, got %d", n)
		}
		cfg.MaxConcurrency = n
	}
	if flags.Changed("domains") {
		names, _ := flags.GetStringSlice("domains")
		domains, err := parseDomains(names)
		if err != nil {
			return err
		}
		cfg.Domains = domains
	}
	return nil
}

func parseDomains(names []string) ([]models.Domain, error) {
	var out []models.Domain
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		d, err := models.ParseDomain(name)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
