package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"insights-pipeline/metrics"
	"insights-pipeline/ml"
	"insights-pipeline/models"
	"insights-pipeline/storage"
	"insights-pipeline/utils"
)

// Collector fetches the raw table of one domain. An empty or nil table means
// the source had nothing to offer.
type Collector interface {
	Domain() models.Domain
	Collect(ctx context.Context) (*models.Table, error)
}

// PipelineOptions configures one orchestrator.
type PipelineOptions struct {
	// Domains restricts the run; empty means every domain in the table.
	Domains        []models.Domain
	ModelDir       string
	ResultsDir     string
	MetricsFile    string
	Timeout        time.Duration
	MaxConcurrency int
	RateLimitMs    int
}

// PipelineDeps are the collaborators of the orchestrator. Tables, Source,
// Sink and Runs are optional.
type PipelineDeps struct {
	Logger     *utils.Logger
	Collectors []Collector
	Engine     *FeatureEngine
	Trainer    *ModelTrainer
	Registry   *ModelRegistry
	Insights   *InsightService
	Tables     storage.TableWriter
	Source     storage.FeatureSource
	Sink       storage.FeatureSink
	Runs       storage.RunStore
}

// Pipeline sequences collection, cleaning, training, persistence and
// summarization over the domain table, isolating failures per domain.
type Pipeline struct {
	opts       PipelineOptions
	deps       PipelineDeps
	logger     *utils.Logger
	collectors map[models.Domain]Collector
	now        func() time.Time
}

func NewPipeline(opts PipelineOptions, deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		opts:       opts,
		deps:       deps,
		logger:     deps.Logger,
		collectors: make(map[models.Domain]Collector),
		now:        time.Now,
	}
	for _, c := range deps.Collectors {
		p.collectors[c.Domain()] = c
	}
	return p
}

type stepKind int

const (
	stepSuccess stepKind = iota
	stepSkipped
	stepFailed
)

// stepResult is the tagged outcome of one domain step.
type stepResult struct {
	kind   stepKind
	table  *models.Table
	reason string
	err    error
}

func success(t *models.Table) stepResult { return stepResult{kind: stepSuccess, table: t} }
func skipped(reason string) stepResult { return stepResult{kind: stepSkipped, reason: reason} }
func failed(err error) stepResult { return stepResult{kind: stepFailed, err: err} }

// domainOutcome collects everything one domain contributes to the run.
type domainOutcome struct {
	log         *utils.Logger
	rec         *models.DomainRecord
	table       *models.Table
	encoders    map[string]*ml.LabelEncoder
	entry       *ModelEntry
	warnings    []string
	raisedEarly bool
}

func (o *domainOutcome) skip(reason string) {
	o.rec.Status = models.DomainSkipped
	o.rec.Reason = reason
}

func (o *domainOutcome) fail(err error) {
	o.rec.Status = models.DomainFailed
	o.rec.Reason = err.Error()
	o.raisedEarly = o.rec.Stage == models.StageCollecting || o.rec.Stage == models.StageCleaning
}

func (o *domainOutcome) warn(format string, args ...any) {
	o.warnings = append(o.warnings, fmt.Sprintf("%s: %s", o.rec.Domain, fmt.Sprintf(format, args...)))
}

// Run executes the full pipeline.
func (p *Pipeline) Run(ctx context.Context) (*models.PipelineRun, error) {
	return p.execute(ctx, models.ModeFull, nil)
}

// Collect fetches every domain and stores the raw audit copies only.
func (p *Pipeline) Collect(ctx context.Context) (*models.PipelineRun, error) {
	return p.execute(ctx, models.ModeCollect, nil)
}

// TrainFrom trains, persists and summarizes already processed tables.
func (p *Pipeline) TrainFrom(ctx context.Context, tables map[models.Domain]*models.Table) (*models.PipelineRun, error) {
	return p.execute(ctx, models.ModeTrain, tables)
}

// TrainStored loads the latest processed table of every domain from the
// configured source and trains on them.
func (p *Pipeline) TrainStored(ctx context.Context) (*models.PipelineRun, error) {
	if p.deps.Source == nil {
		return nil, fmt.Errorf("train: no processed data source configured")
	}
	specs, err := p.selectedDomains()
	if err != nil {
		return nil, err
	}
	tables := make(map[models.Domain]*models.Table, len(specs))
	for _, spec := range specs {
		t, err := p.deps.Source.ReadProcessed(ctx, spec.Domain, spec.TimeColumn)
		if err != nil {
			p.logger.Warn("[pipeline] %s: cannot load processed data: %v", spec.Domain, err)
			continue
		}
		tables[spec.Domain] = t
	}
	return p.TrainFrom(ctx, tables)
}

func (p *Pipeline) selectedDomains() ([]DomainSpec, error) {
	if len(p.opts.Domains) == 0 {
		return Domains(), nil
	}
	specs := make([]DomainSpec, 0, len(p.opts.Domains))
	for _, d := range p.opts.Domains {
		spec, ok := LookupDomain(d)
		if !ok {
			return nil, fmt.Errorf("pipeline: unknown domain %q", d)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (p *Pipeline) execute(ctx context.Context, mode models.RunMode, tables map[models.Domain]*models.Table) (*models.PipelineRun, error) {
	specs, err := p.selectedDomains()
	if err != nil {
		return nil, err
	}
	run := &models.PipelineRun{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: p.now().UTC(),
		Status:    models.RunRunning,
		Stage:     models.StageIdle,
	}
	p.logger.Info("[pipeline] run %s started (mode %s, %d domains)", run.ID, mode, len(specs))

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	run.Stage = models.StageCollecting
	if mode == models.ModeTrain {
		run.Stage = models.StageTraining
	}
	outcomes := make([]*domainOutcome, len(specs))
	if p.opts.MaxConcurrency > 1 && len(specs) > 1 {
		pool := utils.NewWorkerPool(p.opts.MaxConcurrency, p.opts.RateLimitMs)
		for i, spec := range specs {
			pool.Submit(func() { outcomes[i] = p.processDomain(ctx, mode, spec, tables) })
		}
		pool.Wait()
	} else {
		for i, spec := range specs {
			outcomes[i] = p.processDomain(ctx, mode, spec, tables)
		}
	}

	p.finalize(run, outcomes)
	return run, nil
}

// processDomain runs every step for one domain. Panics are converted into a
// failure of this domain only.
func (p *Pipeline) processDomain(ctx context.Context, mode models.RunMode, spec DomainSpec, tables map[models.Domain]*models.Table) (out *domainOutcome) {
	start := time.Now()
	out = &domainOutcome{
		log: p.logger.With("domain", string(spec.Domain), "mode", string(mode)),
		rec: &models.DomainRecord{Domain: spec.Domain, Status: models.DomainPending, Stage: models.StageIdle},
	}
	defer func() {
		if r := recover(); r != nil {
			out.log.Error("[pipeline] %s: panic during %s: %v", spec.Domain, out.rec.Stage, r)
			out.fail(fmt.Errorf("internal error during %s: %v", out.rec.Stage, r))
		}
		out.rec.Duration = time.Since(start)
		metrics.DomainRuns.WithLabelValues(string(spec.Domain), string(out.rec.Status)).Inc()
	}()

	var table *models.Table
	if mode == models.ModeTrain {
		table = tables[spec.Domain]
		if table.Empty() {
			out.skip("no stored processed data")
			return out
		}
		out.table = table
		out.rec.RowsCleaned = table.Len()
		out.rec.Columns = table.Columns()
	} else {
		out.rec.Stage = models.StageCollecting
		res := p.collect(ctx, spec)
		if !p.settle(out, res) {
			return out
		}
		out.rec.RowsCollected = res.table.Len()
		p.writeRaw(spec.Domain, res.table, out)
		if mode == models.ModeCollect {
			out.rec.Status = models.DomainCollected
			return out
		}

		out.rec.Stage = models.StageCleaning
		res = p.clean(ctx, spec, res.table, out)
		if !p.settle(out, res) {
			return out
		}
		table = res.table
		out.table = table
		out.rec.RowsCleaned = table.Len()
		out.rec.Columns = table.Columns()
		p.persistProcessed(ctx, spec.Domain, table, out)
	}

	if spec.Job == nil {
		out.rec.Status = models.DomainProcessed
		out.log.Info("[pipeline] %s: processed %d rows (no model for this domain)", spec.Domain, table.Len())
		return out
	}
	out.rec.Stage = models.StageTraining
	p.train(ctx, spec, table, out)
	return out
}

// settle records a skip or failure and reports whether processing continues.
func (p *Pipeline) settle(out *domainOutcome, res stepResult) bool {
	switch res.kind {
	case stepSkipped:
		out.skip(res.reason)
		out.log.Info("[pipeline] %s: skipped during %s: %s", out.rec.Domain, out.rec.Stage, res.reason)
		return false
	case stepFailed:
		out.fail(res.err)
		out.log.Error("[pipeline] %s: failed during %s: %v", out.rec.Domain, out.rec.Stage, res.err)
		return false
	}
	return true
}

func (p *Pipeline) collect(ctx context.Context, spec DomainSpec) stepResult {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	c, ok := p.collectors[spec.Domain]
	if !ok {
		return skipped("no collector configured")
	}
	t, err := c.Collect(ctx)
	if err != nil {
		return failed(fmt.Errorf("%w: %s: %w", ErrCollectionUnavailable, spec.Domain, err))
	}
	if t.Empty() {
		return skipped("no data")
	}
	p.logger.Info("[pipeline] %s: collected %d rows", spec.Domain, t.Len())
	return success(t)
}

func (p *Pipeline) clean(ctx context.Context, spec DomainSpec, raw *models.Table, out *domainOutcome) stepResult {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	res, err := p.deps.Engine.CleanAndFeaturize(raw, spec.Domain)
	if err != nil {
		return failed(err)
	}
	out.rec.Degraded = res.Degraded
	out.encoders = res.Encoders
	if res.Table.Empty() {
		return skipped("no rows left after cleaning")
	}
	return success(res.Table)
}

func (p *Pipeline) train(ctx context.Context, spec DomainSpec, table *models.Table, out *domainOutcome) {
	res, err := p.deps.Trainer.TrainCandidates(ctx, table, *spec.Job)
	if err != nil {
		out.fail(err)
		p.logger.Warn("[pipeline] %s: training failed: %v", spec.Domain, err)
		return
	}
	entry := NewModelEntry(spec.Job.Name, res)
	if len(out.encoders) > 0 {
		entry.Encoders = out.encoders
	}
	out.entry = entry
	out.rec.Status = models.DomainTrained
	out.rec.Model = entry.Name
	out.rec.BestCandidate = res.BestCandidate
	out.rec.Metrics = res.Candidates
	if res.Importances.Has {
		out.rec.Importances = res.Importances.Weights
	}
}

func (p *Pipeline) writeRaw(domain models.Domain, t *models.Table, out *domainOutcome) {
	if p.deps.Tables == nil {
		return
	}
	path, err := p.deps.Tables.WriteRaw(domain, t)
	if err != nil {
		p.logger.Warn("[pipeline] %s: raw audit copy not written: %v", domain, err)
		out.warn("raw audit copy not written: %v", err)
		return
	}
	p.logger.Debug("[pipeline] %s: raw data saved to %s", domain, path)
}

func (p *Pipeline) persistProcessed(ctx context.Context, domain models.Domain, t *models.Table, out *domainOutcome) {
	if p.deps.Tables != nil {
		if _, err := p.deps.Tables.WriteProcessed(domain, t); err != nil {
			p.logger.Warn("[pipeline] %s: processed table not written: %v", domain, err)
			out.warn("processed table not written: %v", err)
		}
	}
	if p.deps.Sink != nil {
		if err := p.deps.Sink.WriteFeatures(ctx, domain, t); err != nil {
			p.logger.Warn("[pipeline] %s: feature rows not stored: %v", domain, err)
			out.warn("feature rows not stored: %v", err)
		}
	}
}

// finalize registers models, writes the bundle, builds insights and stores
// the run record once every domain has finished.
func (p *Pipeline) finalize(run *models.PipelineRun, outcomes []*domainOutcome) {
	var entries []*ModelEntry
	raised := 0
	for _, o := range outcomes {
		run.Domains = append(run.Domains, o.rec)
		run.Errors = append(run.Errors, o.warnings...)
		if o.entry != nil {
			entries = append(entries, o.entry)
		}
		if o.raisedEarly {
			raised++
		}
	}

	run.Stage = models.StagePersisting
	if len(entries) > 0 {
		p.deps.Registry.RegisterAll(entries)
		path := filepath.Join(p.opts.ModelDir, BundleFileName(p.now()))
		if err := p.deps.Registry.Save(path); err != nil {
			p.logger.Error("[pipeline] bundle not saved: %v", err)
			run.Errors = append(run.Errors, fmt.Sprintf("bundle not saved: %v", err))
		} else {
			run.BundlePath = path
		}
	}

	run.Stage = models.StageSummarizing
	if run.Mode != models.ModeCollect && p.deps.Insights != nil {
		run.Insights = make(map[models.Domain]*models.InsightReport)
		for _, o := range outcomes {
			if o.table != nil && o.rec.Usable() {
				run.Insights[o.rec.Domain] = p.deps.Insights.Generate(o.rec.Domain, o.table)
			}
		}
	}

	run.Status = models.RunCompleted
	if len(outcomes) > 0 && raised == len(outcomes) {
		run.Status = models.RunFailed
	}
	run.Stage = models.StageCompleted
	run.CompletedAt = p.now().UTC()
	p.logger.Info("[pipeline] run %s %s in %s (%d models registered)",
		run.ID, run.Status, run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond), len(entries))

	p.saveRun(run)
	if p.opts.MetricsFile != "" {
		if err := metrics.WriteTextfile(p.opts.MetricsFile); err != nil {
			p.logger.Warn("[pipeline] %v", err)
		}
	}
}

var runFileMu sync.Mutex

func (p *Pipeline) saveRun(run *models.PipelineRun) {
	if p.deps.Runs != nil {
		// the caller's context may already be expired; the record must still land
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.deps.Runs.SaveRun(ctx, run); err != nil {
			p.logger.Error("[pipeline] run record not stored: %v", err)
			run.Errors = append(run.Errors, fmt.Sprintf("run record not stored: %v", err))
		}
	}
	if p.opts.ResultsDir == "" {
		return
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		p.logger.Error("[pipeline] encode run record: %v", err)
		return
	}
	runFileMu.Lock()
	defer runFileMu.Unlock()
	path := filepath.Join(p.opts.ResultsDir, "pipeline_results_"+run.StartedAt.Format("20060102_150405")+".json")
	if err := storage.WriteFileAtomic(path, data, 0o644); err != nil {
		p.logger.Error("[pipeline] write run record: %v", err)
		return
	}
	p.logger.Info("[pipeline] run record saved to %s", path)
}
