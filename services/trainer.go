package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"insights-pipeline/metrics"
	"insights-pipeline/ml"
	"insights-pipeline/models"
	"insights-pipeline/utils"
)

// Importances is the explicit feature-importance capability of a selected
// model. Weights and Ordered are empty when Has is false.
type Importances struct {
	Has     bool               `json:"has"`
	Weights map[string]float64 `json:"weights,omitempty"`
	// Ordered is aligned with the training feature order.
	Ordered []float64 `json:"ordered,omitempty"`
}

// SelectionResult is the outcome of one training job: the winning fitted
// estimator and the evaluation of every candidate.
type SelectionResult struct {
	Job           string
	Task          Task
	Features      []string
	FeatureMeans  []float64
	Classes       []string
	BestCandidate string
	Estimator     ml.Estimator
	Candidates    []models.CandidateMetrics
	Importances   Importances
	TrainRows     int
	TestRows      int
	TrainedAt     time.Time
}

// Best returns the metrics of the selected candidate.
func (r *SelectionResult) Best() models.CandidateMetrics {
	for _, c := range r.Candidates {
		if c.Name == r.BestCandidate {
			return c
		}
	}
	return models.CandidateMetrics{}
}

// ModelTrainer fits and compares the candidate estimators of a job.
type ModelTrainer struct {
	logger       *utils.Logger
	params       ml.Params
	testFraction float64
}

func NewModelTrainer(logger *utils.Logger, params ml.Params, testFraction float64) *ModelTrainer {
	if testFraction <= 0 || testFraction >= 1 {
		testFraction = 0.2
	}
	return &ModelTrainer{logger: logger, params: params, testFraction: testFraction}
}

// dataset is the supervised view of a table for one job.
type dataset struct {
	X        [][]float64
	y        []float64
	features []string
	classes  []string
}

// buildDataset frames the target, selects available features and drops rows
// with any undefined input.
func (tr *ModelTrainer) buildDataset(t *models.Table, job TrainingJob) (*dataset, error) {
	var features []string
	for _, f := range job.Features {
		if t.IsNumeric(f) {
			features = append(features, f)
		}
	}
	if len(features) < job.MinFeatures {
		return nil, fmt.Errorf("%w: %s has %d of %d required features", ErrInsufficientData, job.Name, len(features), job.MinFeatures)
	}
	target, ok := t.Numeric(job.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %s target column %q missing", ErrInsufficientData, job.Name, job.Target)
	}

	n := t.Len()
	y := make([]float64, n)
	switch job.Framing {
	case FramingNextSample:
		for i := range y {
			y[i] = math.NaN()
			if i+1 < n {
				y[i] = target[i+1]
			}
		}
	case FramingBucket:
		for i, v := range target {
			y[i] = math.NaN()
			if !isNaN(v) {
				y[i] = float64(bucketIndex(v, job.Bucket.Edges))
			}
		}
	default:
		return nil, fmt.Errorf("%s: unknown framing %q", job.Name, job.Framing)
	}

	cols := make([][]float64, len(features))
	for j, f := range features {
		cols[j] = col(t, f)
	}
	ds := &dataset{features: features}
	for i := 0; i < n; i++ {
		if isNaN(y[i]) || math.IsInf(y[i], 0) {
			continue
		}
		row := make([]float64, len(features))
		usable := true
		for j := range cols {
			v := cols[j][i]
			if isNaN(v) || math.IsInf(v, 0) {
				usable = false
				break
			}
			row[j] = v
		}
		if usable {
			ds.X = append(ds.X, row)
			ds.y = append(ds.y, y[i])
		}
	}

	if job.Task == TaskClassification {
		tr.compactClasses(ds, job)
		if len(ds.classes) < 2 {
			return nil, fmt.Errorf("%w: %s needs at least 2 classes with 2+ samples, got %d", ErrInsufficientData, job.Name, len(ds.classes))
		}
	}
	if len(ds.y) < job.MinRows {
		return nil, fmt.Errorf("%w: %s has %d usable rows, needs %d", ErrInsufficientData, job.Name, len(ds.y), job.MinRows)
	}
	return ds, nil
}

// compactClasses removes classes with a single sample, which cannot appear in
// both partitions, and renumbers the rest 0..k-1 in bucket order.
func (tr *ModelTrainer) compactClasses(ds *dataset, job TrainingJob) {
	counts := make([]int, len(job.Bucket.Labels))
	for _, v := range ds.y {
		counts[int(v)]++
	}
	remap := make([]int, len(counts))
	for b, c := range counts {
		remap[b] = -1
		switch {
		case c >= 2:
			remap[b] = len(ds.classes)
			ds.classes = append(ds.classes, job.Bucket.Labels[b])
		case c == 1:
			tr.logger.Warn("[trainer] %s: dropping class %q with a single sample", job.Name, job.Bucket.Labels[b])
		}
	}
	X, y := ds.X[:0], ds.y[:0]
	for i, v := range ds.y {
		if k := remap[int(v)]; k >= 0 {
			X = append(X, ds.X[i])
			y = append(y, float64(k))
		}
	}
	ds.X, ds.y = X, y
}

// TrainCandidates fits every candidate of job on a deterministic split of t and
// selects the best by held-out score. Candidate failures are recorded, not
// returned; ErrNoViableModel is returned only if none succeed.
func (tr *ModelTrainer) TrainCandidates(ctx context.Context, t *models.Table, job TrainingJob) (*SelectionResult, error) {
	if t.Empty() {
		return nil, fmt.Errorf("%w: %s has no rows", ErrInsufficientData, job.Name)
	}
	ds, err := tr.buildDataset(t, job)
	if err != nil {
		return nil, err
	}

	var trainIdx, testIdx []int
	if job.Task == TaskClassification {
		trainIdx, testIdx = ml.StratifiedSplit(ds.y, tr.testFraction, tr.params.Seed)
	} else {
		trainIdx, testIdx = ml.TrainTestSplit(len(ds.y), tr.testFraction, tr.params.Seed)
	}
	Xtr, ytr := ml.Take(ds.X, ds.y, trainIdx)
	Xte, yte := ml.Take(ds.X, ds.y, testIdx)
	tr.logger.Info("[trainer] %s: %d features, %d train / %d test rows",
		job.Name, len(ds.features), len(ytr), len(yte))

	res := &SelectionResult{
		Job:          job.Name,
		Task:         job.Task,
		Features:     ds.features,
		FeatureMeans: columnMeans(Xtr, len(ds.features)),
		Classes:      ds.classes,
		TrainRows:    len(ytr),
		TestRows:     len(yte),
	}

	bestIdx := -1
	var fitted []ml.Estimator
	for _, cand := range job.Candidates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: training interrupted before %s: %w", job.Name, cand.Name, err)
		}
		est, m := tr.fitCandidate(job, cand, ds.classes, Xtr, ytr, Xte, yte)
		res.Candidates = append(res.Candidates, m)
		fitted = append(fitted, est)
		if !m.OK() {
			continue
		}
		if bestIdx < 0 || better(m, res.Candidates[bestIdx], job.Task) {
			bestIdx = len(res.Candidates) - 1
		}
	}
	if bestIdx < 0 {
		return nil, fmt.Errorf("%w: all %d candidates of %s failed", ErrNoViableModel, len(job.Candidates), job.Name)
	}

	res.BestCandidate = res.Candidates[bestIdx].Name
	res.Estimator = fitted[bestIdx]
	res.Importances = importancesOf(res.Estimator, ds.features)
	res.TrainedAt = time.Now().UTC()
	best := res.Candidates[bestIdx]
	if job.Task == TaskClassification {
		tr.logger.Info("[trainer] %s: selected %s (accuracy %.3f)", job.Name, best.Name, best.Accuracy)
	} else {
		tr.logger.Info("[trainer] %s: selected %s (R² %.3f, RMSE %.3f)", job.Name, best.Name, best.R2, best.RMSE)
	}
	return res, nil
}

// fitCandidate trains and evaluates one candidate, converting errors and
// panics into a failed metrics record.
func (tr *ModelTrainer) fitCandidate(job TrainingJob, cand Candidate, classes []string, Xtr [][]float64, ytr []float64, Xte [][]float64, yte []float64) (est ml.Estimator, m models.CandidateMetrics) {
	m = models.CandidateMetrics{Name: cand.Name, Kind: string(cand.Kind), Status: models.CandidateOK}
	start := time.Now()
	fail := func(err error) {
		est = nil
		m = models.CandidateMetrics{Name: cand.Name, Kind: string(cand.Kind), Status: models.CandidateFailed, Error: err.Error()}
		tr.logger.Error("[trainer] %s: candidate %s failed: %v", job.Name, cand.Name, err)
	}
	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("panic: %v", r))
		}
		m.TrainSeconds = time.Since(start).Seconds()
		outcome := "ok"
		if !m.OK() {
			outcome = "failed"
		}
		metrics.CandidateFits.WithLabelValues(cand.Name, outcome).Inc()
		metrics.TrainingDuration.WithLabelValues(job.Name).Observe(m.TrainSeconds)
	}()

	est, err := ml.New(cand.Kind, tr.params)
	if err != nil {
		fail(err)
		return
	}
	if err := est.Fit(Xtr, ytr); err != nil {
		fail(err)
		return
	}
	pred, err := est.Predict(Xte)
	if err != nil {
		fail(err)
		return
	}
	for _, v := range pred {
		if isNaN(v) || math.IsInf(v, 0) {
			fail(fmt.Errorf("%w: non-finite prediction", ml.ErrNonFinite))
			return
		}
	}

	if job.Task == TaskClassification {
		rep := ml.Classify(yte, pred)
		m.Accuracy = rep.Accuracy
		m.MacroF1 = rep.MacroF1
		m.PerClass = make(map[string]models.ClassMetrics, len(rep.PerClass))
		for idx, sc := range rep.PerClass {
			label := fmt.Sprintf("class_%d", idx)
			if idx >= 0 && idx < len(classes) {
				label = classes[idx]
			}
			m.PerClass[label] = models.ClassMetrics{
				Precision: sc.Precision, Recall: sc.Recall, F1: sc.F1, Support: sc.Support,
			}
		}
	} else {
		m.MSE = ml.MSE(yte, pred)
		m.RMSE = math.Sqrt(m.MSE)
		m.R2 = ml.R2(yte, pred)
	}
	tr.logger.Debug("[trainer] %s: %s trained in %s", job.Name, cand.Name, time.Since(start))
	return est, m
}

// better reports whether a beats b: higher R² then lower RMSE for
// regression, higher accuracy then higher macro F1 for classification.
// Exact ties keep b, the earlier candidate.
func better(a, b models.CandidateMetrics, task Task) bool {
	if task == TaskClassification {
		if a.Accuracy != b.Accuracy {
			return a.Accuracy > b.Accuracy
		}
		return a.MacroF1 > b.MacroF1
	}
	if a.R2 != b.R2 {
		return a.R2 > b.R2
	}
	return a.RMSE < b.RMSE
}

func importancesOf(est ml.Estimator, features []string) Importances {
	w, ok := est.FeatureImportances()
	if !ok || len(w) != len(features) {
		return Importances{}
	}
	imp := Importances{Has: true, Weights: make(map[string]float64, len(w)), Ordered: w}
	for j, f := range features {
		imp.Weights[f] = w[j]
	}
	return imp
}

func columnMeans(X [][]float64, p int) []float64 {
	means := make([]float64, p)
	if len(X) == 0 {
		return means
	}
	for _, row := range X {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(X))
	}
	return means
}
