package models

import "time"

// Stage is a step of the pipeline state machine.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageCollecting  Stage = "collecting"
	StageCleaning    Stage = "cleaning"
	StageTraining    Stage = "training"
	StagePersisting  Stage = "persisting"
	StageSummarizing Stage = "summarizing"
	StageCompleted   Stage = "completed"
)

// RunStatus is the terminal outcome of a pipeline invocation.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// DomainStatus is the outcome recorded for one domain.
type DomainStatus string

const (
	DomainPending   DomainStatus = "pending"
	DomainTrained   DomainStatus = "trained"
	DomainProcessed DomainStatus = "processed"
	// DomainCollected means only the raw audit copy was written.
	DomainCollected DomainStatus = "collected"
	DomainSkipped   DomainStatus = "skipped"
	DomainFailed    DomainStatus = "failed"
)

// RunMode selects which part of the pipeline a run executes.
type RunMode string

const (
	ModeFull    RunMode = "full"
	ModeCollect RunMode = "collect"
	ModeTrain   RunMode = "train"
)

// ClassMetrics holds per-class classification scores.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// CandidateMetrics is the held-out evaluation of one candidate estimator.
type CandidateMetrics struct {
	Name         string                  `json:"name"`
	Kind         string                  `json:"kind"`
	Status       string                  `json:"status"`
	Error        string                  `json:"error,omitempty"`
	MSE          float64                 `json:"mse,omitempty"`
	RMSE         float64                 `json:"rmse,omitempty"`
	R2           float64                 `json:"r2,omitempty"`
	Accuracy     float64                 `json:"accuracy,omitempty"`
	MacroF1      float64                 `json:"macro_f1,omitempty"`
	PerClass     map[string]ClassMetrics `json:"per_class,omitempty"`
	TrainSeconds float64                 `json:"train_seconds"`
}

const (
	CandidateOK     = "ok"
	CandidateFailed = "failed"
)

// OK reports whether the candidate trained and was evaluated.
func (c CandidateMetrics) OK() bool { return c.Status == CandidateOK }

// DomainRecord is the per-domain part of a PipelineRun.
type DomainRecord struct {
	Domain        Domain             `json:"domain"`
	Status        DomainStatus       `json:"status"`
	Stage         Stage              `json:"stage"`
	RowsCollected int                `json:"rows_collected"`
	RowsCleaned   int                `json:"rows_cleaned"`
	Columns       []string           `json:"columns,omitempty"`
	Degraded      []string           `json:"degraded_rules,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Model         string             `json:"model,omitempty"`
	BestCandidate string             `json:"best_candidate,omitempty"`
	Metrics       []CandidateMetrics `json:"metrics,omitempty"`
	Importances   map[string]float64 `json:"feature_importances,omitempty"`
	Duration      time.Duration      `json:"duration_ns"`
}

// Usable reports whether the domain produced a cleaned table.
func (r *DomainRecord) Usable() bool {
	return r.Status == DomainTrained || r.Status == DomainProcessed ||
		(r.Status == DomainFailed && r.RowsCleaned > 0)
}

// PipelineRun is the structured record of one orchestrator invocation.
// It is not modified after CompletedAt is set.
type PipelineRun struct {
	ID          string                    `json:"id"`
	Mode        RunMode                   `json:"mode"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt time.Time                 `json:"completed_at"`
	Status      RunStatus                 `json:"status"`
	Stage       Stage                     `json:"stage"`
	Domains     []*DomainRecord           `json:"domains"`
	Insights    map[Domain]*InsightReport `json:"insights,omitempty"`
	BundlePath  string                    `json:"bundle_path,omitempty"`
	Errors      []string                  `json:"errors,omitempty"`
}

// Domain returns the record for d, or nil.
func (r *PipelineRun) Domain(d Domain) *DomainRecord {
	for _, rec := range r.Domains {
		if rec.Domain == d {
			return rec
		}
	}
	return nil
}
