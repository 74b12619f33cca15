package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"insights-pipeline/config"
	"insights-pipeline/ml"
	"insights-pipeline/scraper/api"
	"insights-pipeline/scraper/wiki"
	"insights-pipeline/services"
	"insights-pipeline/storage"
	"insights-pipeline/utils"
)

// app is the set of long-lived components a command works with.
type app struct {
	cfg      *config.Config
	logger   *utils.Logger
	tables   *storage.CSVStore
	source   storage.FeatureSource
	runs     *storage.SQLiteRunStore
	sink     *storage.PostgresWriter
	registry *services.ModelRegistry
	insights *services.InsightService
	closers  []func() error
}

// newApp opens storage and loads the newest model bundle. The returned
// cleanup closes everything that was opened.
func newApp(ctx context.Context, cfg *config.Config) (*app, func(), error) {
	a := &app{
		cfg:    cfg,
		logger: utils.NewLoggerWithLevel(cfg.LogLevel),
	}
	cleanup := func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.logger.Warn("[cli] close: %v", err)
			}
		}
		_ = a.logger.Sync()
	}

	tables, err := storage.NewCSVStore(cfg.DataDir)
	if err != nil {
		return nil, cleanup, err
	}
	a.tables = tables
	a.source = tables

	if dir := filepath.Dir(cfg.StateDBPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, cleanup, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	runs, err := storage.OpenSQLiteRunStore(ctx, cfg.StateDBPath)
	if err != nil {
		return nil, cleanup, err
	}
	a.runs = runs
	a.closers = append(a.closers, runs.Close)

	a.registry = services.NewModelRegistry(a.logger)
	path, err := a.registry.LoadLatest(cfg.ModelDir)
	if err != nil {
		// a broken bundle must not block collection; retraining replaces it
		a.logger.Warn("[cli] could not load model bundle: %v", err)
	} else if path != "" {
		a.logger.Info("[cli] loaded %d models from %s", a.registry.Len(), path)
	}

	a.insights = services.NewInsightService(a.logger)
	return a, cleanup, nil
}

// openSink connects the optional PostgreSQL feature mirror.
func (a *app) openSink(ctx context.Context) {
	if !a.cfg.PostgresEnabled {
		return
	}
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	pw, err := storage.NewPostgresWriter(connectCtx, a.cfg.DSN())
	if err != nil {
		a.logger.Warn("[cli] PostgreSQL unavailable, continuing without feature mirror: %v", err)
		return
	}
	a.sink = pw
	a.closers = append(a.closers, pw.Close)
}

// collectors builds one collector per domain that can be configured.
func (a *app) collectors() []services.Collector {
	cfg := a.cfg
	client := api.NewClient(a.logger, cfg.HTTPTimeout, cfg.MaxRetries, time.Second)

	out := []services.Collector{
		api.NewCovidSource(client, a.logger, cfg.CovidURL, cfg.CovidDays),
		api.NewStockSource(client, a.logger, cfg.StockURL, cfg.StockAPIKey, cfg.StockSymbol),
		wiki.NewPopulationSource(wiki.Options{
			URL:        cfg.PopulationURL,
			ChromeBin:  cfg.ChromeBin,
			Limit:      cfg.PopulationRows,
			MaxRetries: cfg.MaxRetries,
		}, a.logger),
	}
	if cfg.WeatherAPIKey != "" {
		out = append(out, api.NewWeatherSource(client, a.logger, cfg.WeatherURL, cfg.WeatherAPIKey, cfg.WeatherCity))
	} else {
		a.logger.Warn("[cli] WEATHER_API_KEY not set, weather collection disabled")
	}
	return out
}

func (a *app) pipeline(collectors []services.Collector) *services.Pipeline {
	cfg := a.cfg
	deps := services.PipelineDeps{
		Logger:     a.logger,
		Collectors: collectors,
		Engine:     services.NewFeatureEngine(a.logger),
		Trainer: services.NewModelTrainer(a.logger, ml.Params{
			Seed:           cfg.RandomSeed,
			Trees:          cfg.ForestTrees,
			BoostingRounds: cfg.BoostingRounds,
		}, cfg.TestFraction),
		Registry: a.registry,
		Insights: a.insights,
		Tables:   a.tables,
		Source:   a.source,
		Runs:     a.runs,
	}
	if a.sink != nil {
		deps.Sink = a.sink
	}
	return services.NewPipeline(services.PipelineOptions{
		Domains:        cfg.Domains,
		ModelDir:       cfg.ModelDir,
		ResultsDir:     cfg.ResultsDir,
		MetricsFile:    cfg.MetricsFile,
		Timeout:        cfg.PipelineTimeout,
		MaxConcurrency: cfg.MaxConcurrency,
		RateLimitMs:    cfg.RateLimitMs,
	}, deps)
}
