package storage

import (
	"context"

	"insights-pipeline/models"
)

// TableWriter persists raw audit copies and processed feature tables.
type TableWriter interface {
	WriteRaw(domain models.Domain, t *models.Table) (string, error)
	WriteProcessed(domain models.Domain, t *models.Table) (string, error)
}

// FeatureSource loads the most recent processed table of a domain. A nil
// table with a nil error means nothing has been stored yet.
type FeatureSource interface {
	ReadProcessed(ctx context.Context, domain models.Domain, timeColumn string) (*models.Table, error)
}

// FeatureSink is an optional secondary destination for feature rows.
type FeatureSink interface {
	WriteFeatures(ctx context.Context, domain models.Domain, t *models.Table) error
	Close() error
}

// RunStore keeps the history of pipeline runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.PipelineRun) error
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	Close() error
}
