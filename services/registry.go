package services

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"insights-pipeline/metrics"
	"insights-pipeline/ml"
	"insights-pipeline/models"
	"insights-pipeline/storage"
	"insights-pipeline/utils"
)

// BundleSchemaVersion is bumped whenever the bundle layout or the meaning of
// a stored field changes. Bundles of any other version are rejected.
const BundleSchemaVersion = 1

const bundlePattern = "trained_models_*.json"

// BundleFileName returns the timestamped bundle name for t.
func BundleFileName(t time.Time) string {
	return "trained_models_" + t.Format("20060102_150405") + ".json"
}

// ModelEntry is a registered model: the fitted estimator plus everything
// needed to feed it and explain it. Features is the authoritative input
// order.
type ModelEntry struct {
	Name          string                    `json:"name"`
	Task          Task                      `json:"task"`
	Features      []string                  `json:"features"`
	FeatureMeans  []float64                 `json:"feature_means"`
	Classes       []string                  `json:"classes,omitempty"`
	BestCandidate string                    `json:"best_candidate"`
	Candidates    []models.CandidateMetrics `json:"candidates"`
	Importances   Importances               `json:"importances"`
	TrainedAt     time.Time                 `json:"trained_at"`
	// Encoders are the categorical encoders fitted with the training table.
	Encoders  map[string]*ml.LabelEncoder `json:"encoders,omitempty"`
	Estimator ml.Estimator                `json:"-"`
}

// NewModelEntry builds a registry entry from a training result.
func NewModelEntry(name string, res *SelectionResult) *ModelEntry {
	return &ModelEntry{
		Name:          name,
		Task:          res.Task,
		Features:      res.Features,
		FeatureMeans:  res.FeatureMeans,
		Classes:       res.Classes,
		BestCandidate: res.BestCandidate,
		Candidates:    res.Candidates,
		Importances:   res.Importances,
		TrainedAt:     res.TrainedAt,
		Estimator:     res.Estimator,
	}
}

// Prediction is the output of one registry prediction.
type Prediction struct {
	Model string  `json:"model"`
	Value float64 `json:"value"`
	// Label is the class name for classification models.
	Label string `json:"label,omitempty"`
	// Imputed lists features that were missing and replaced by their
	// training-time mean.
	Imputed []string `json:"imputed,omitempty"`
}

// ModelRegistry maps model names to entries. Readers work on an immutable
// snapshot; writers build a new map and swap it in.
type ModelRegistry struct {
	logger  *utils.Logger
	writeMu sync.Mutex
	entries atomic.Pointer[map[string]*ModelEntry]
}

func NewModelRegistry(logger *utils.Logger) *ModelRegistry {
	r := &ModelRegistry{logger: logger}
	empty := map[string]*ModelEntry{}
	r.entries.Store(&empty)
	return r
}

func (r *ModelRegistry) snapshot() map[string]*ModelEntry {
	return *r.entries.Load()
}

// Register adds or replaces one entry.
func (r *ModelRegistry) Register(e *ModelEntry) {
	r.RegisterAll([]*ModelEntry{e})
}

// RegisterAll adds or replaces several entries in a single swap.
func (r *ModelRegistry) RegisterAll(entries []*ModelEntry) {
	if len(entries) == 0 {
		return
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := make(map[string]*ModelEntry, len(r.snapshot())+len(entries))
	for k, v := range r.snapshot() {
		next[k] = v
	}
	for _, e := range entries {
		next[e.Name] = e
	}
	r.entries.Store(&next)
	metrics.RegisteredModels.Set(float64(len(next)))
}

// Get returns the entry registered under name.
func (r *ModelRegistry) Get(name string) (*ModelEntry, error) {
	e, ok := r.snapshot()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	return e, nil
}

// Names lists registered models in sorted order.
func (r *ModelRegistry) Names() []string {
	snap := r.snapshot()
	names := make([]string, 0, len(snap))
	for n := range snap {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *ModelRegistry) Len() int { return len(r.snapshot()) }

// Predict runs the named model on a row keyed by feature name. Features the
// row lacks, or holds as NaN, are filled with their training-time mean. A row
// sharing no feature with the model is a schema mismatch.
func (r *ModelRegistry) Predict(name string, row map[string]float64) (*Prediction, error) {
	e, err := r.Get(name)
	if err != nil {
		metrics.Predictions.WithLabelValues(name, "not_found").Inc()
		return nil, err
	}
	vec := make([]float64, len(e.Features))
	present := 0
	for j, f := range e.Features {
		v, ok := row[f]
		if ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			vec[j] = v
			present++
		} else {
			vec[j] = math.NaN()
		}
	}
	if present == 0 {
		metrics.Predictions.WithLabelValues(name, "schema_mismatch").Inc()
		return nil, fmt.Errorf("%w: row has none of the %d features of %q", ErrSchemaMismatch, len(e.Features), name)
	}
	return r.predict(e, vec)
}

// PredictVector runs the named model on a positional row in training feature
// order. NaN entries are filled with training-time means.
func (r *ModelRegistry) PredictVector(name string, vec []float64) (*Prediction, error) {
	e, err := r.Get(name)
	if err != nil {
		metrics.Predictions.WithLabelValues(name, "not_found").Inc()
		return nil, err
	}
	if len(vec) != len(e.Features) {
		metrics.Predictions.WithLabelValues(name, "schema_mismatch").Inc()
		return nil, fmt.Errorf("%w: %q expects %d features, got %d", ErrSchemaMismatch, name, len(e.Features), len(vec))
	}
	return r.predict(e, append([]float64(nil), vec...))
}

func (r *ModelRegistry) predict(e *ModelEntry, vec []float64) (p *Prediction, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.Predictions.WithLabelValues(e.Name, "error").Inc()
			r.logger.Error("[registry] %s: prediction panicked: %v", e.Name, rec)
			p, err = nil, fmt.Errorf("predict %s: internal error: %v", e.Name, rec)
		}
	}()
	p = &Prediction{Model: e.Name}
	for j, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			vec[j] = e.FeatureMeans[j]
			p.Imputed = append(p.Imputed, e.Features[j])
		}
	}
	if len(p.Imputed) > 0 {
		r.logger.Warn("[registry] %s: filled missing features with training means: %s",
			e.Name, strings.Join(p.Imputed, ", "))
	}
	out, err := e.Estimator.Predict([][]float64{vec})
	if err != nil {
		metrics.Predictions.WithLabelValues(e.Name, "error").Inc()
		return nil, fmt.Errorf("predict %s: %w", e.Name, err)
	}
	p.Value = out[0]
	if e.Task == TaskClassification {
		idx := int(p.Value)
		if idx < 0 || idx >= len(e.Classes) {
			metrics.Predictions.WithLabelValues(e.Name, "error").Inc()
			return nil, fmt.Errorf("predict %s: class index %d out of range", e.Name, idx)
		}
		p.Label = e.Classes[idx]
	}
	metrics.Predictions.WithLabelValues(e.Name, "ok").Inc()
	return p, nil
}

// ModelSummary describes one registered model.
type ModelSummary struct {
	Name           string                    `json:"name"`
	Task           Task                      `json:"task"`
	BestModel      string                    `json:"best_model"`
	FeaturesCount  int                       `json:"features_count"`
	TrainedAt      time.Time                 `json:"trained_date"`
	HasImportances bool                      `json:"has_importances"`
	Performance    []models.CandidateMetrics `json:"performance"`
}

// RegistrySummary is the structured report returned by Summary.
type RegistrySummary struct {
	TotalModels int            `json:"total_models"`
	Models      []ModelSummary `json:"models"`
}

// Summary reports every registered model in name order.
func (r *ModelRegistry) Summary() RegistrySummary {
	snap := r.snapshot()
	s := RegistrySummary{TotalModels: len(snap)}
	for _, name := range r.Names() {
		e, ok := snap[name]
		if !ok {
			continue
		}
		s.Models = append(s.Models, ModelSummary{
			Name:           e.Name,
			Task:           e.Task,
			BestModel:      e.BestCandidate,
			FeaturesCount:  len(e.Features),
			TrainedAt:      e.TrainedAt,
			HasImportances: e.Importances.Has,
			Performance:    e.Candidates,
		})
	}
	return s
}

type bundleModel struct {
	ModelEntry
	Estimator json.RawMessage `json:"estimator"`
}

type bundle struct {
	SchemaVersion int           `json:"schema_version"`
	CreatedAt     time.Time     `json:"created_at"`
	Models        []bundleModel `json:"models"`
}

// Save writes every entry to path as one bundle. The file is replaced
// atomically.
func (r *ModelRegistry) Save(path string) error {
	snap := r.snapshot()
	b := bundle{SchemaVersion: BundleSchemaVersion, CreatedAt: time.Now().UTC()}
	for _, name := range r.Names() {
		e, ok := snap[name]
		if !ok {
			continue
		}
		raw, err := ml.Marshal(e.Estimator)
		if err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
		b.Models = append(b.Models, bundleModel{ModelEntry: *e, Estimator: raw})
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err := storage.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	r.logger.Info("[registry] saved %d models to %s", len(b.Models), path)
	return nil
}

// Load replaces the whole registry with the bundle at path. The bundle is
// fully validated first; on any error the current state is kept.
func (r *ModelRegistry) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}
	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("%w: decode bundle %s: %v", ErrSchemaMismatch, filepath.Base(path), err)
	}
	if b.SchemaVersion != BundleSchemaVersion {
		return fmt.Errorf("%w: bundle schema version %d, expected %d", ErrSchemaMismatch, b.SchemaVersion, BundleSchemaVersion)
	}

	next := make(map[string]*ModelEntry, len(b.Models))
	for i := range b.Models {
		e, err := decodeEntry(&b.Models[i])
		if err != nil {
			return err
		}
		if _, dup := next[e.Name]; dup {
			return fmt.Errorf("%w: duplicate model %q", ErrSchemaMismatch, e.Name)
		}
		next[e.Name] = e
	}

	r.writeMu.Lock()
	r.entries.Store(&next)
	r.writeMu.Unlock()
	metrics.RegisteredModels.Set(float64(len(next)))
	r.logger.Info("[registry] loaded %d models from %s", len(next), path)
	return nil
}

func decodeEntry(m *bundleModel) (*ModelEntry, error) {
	e := m.ModelEntry
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: model %q: %s", ErrSchemaMismatch, e.Name, fmt.Sprintf(format, args...))
	}
	if e.Name == "" {
		return nil, bad("missing name")
	}
	est, err := ml.Unmarshal(m.Estimator)
	if err != nil {
		return nil, bad("%v", err)
	}
	if len(e.Features) == 0 {
		return nil, bad("no features")
	}
	if len(e.FeatureMeans) != len(e.Features) {
		return nil, bad("%d feature means for %d features", len(e.FeatureMeans), len(e.Features))
	}
	if est.NumFeatures() != len(e.Features) {
		return nil, bad("estimator expects %d features, entry lists %d", est.NumFeatures(), len(e.Features))
	}
	switch e.Task {
	case TaskRegression:
		if est.Kind().IsClassifier() {
			return nil, bad("regression entry holds classifier %s", est.Kind())
		}
	case TaskClassification:
		if !est.Kind().IsClassifier() {
			return nil, bad("classification entry holds regressor %s", est.Kind())
		}
		if len(e.Classes) < 2 {
			return nil, bad("classification entry has %d classes", len(e.Classes))
		}
		if n := ml.ClassCount(est); n != len(e.Classes) {
			return nil, bad("estimator predicts %d classes, entry lists %d", n, len(e.Classes))
		}
	default:
		return nil, bad("unknown task %q", e.Task)
	}
	found := false
	for _, c := range e.Candidates {
		if c.Name == e.BestCandidate && c.OK() {
			found = true
		}
	}
	if !found {
		return nil, bad("best candidate %q not among successful candidates", e.BestCandidate)
	}
	if e.Importances.Has && len(e.Importances.Ordered) != len(e.Features) {
		return nil, bad("%d importances for %d features", len(e.Importances.Ordered), len(e.Features))
	}
	e.Estimator = est
	return &e, nil
}

// LoadLatest loads the newest bundle in dir. It returns the loaded path, or
// "" when dir holds no bundle.
func (r *ModelRegistry) LoadLatest(dir string) (string, error) {
	path, found, err := storage.LatestFile(dir, bundlePattern)
	if err != nil {
		return "", err
	}
	if !found {
		r.logger.Info("[registry] no model bundle in %s, starting empty", dir)
		return "", nil
	}
	if err := r.Load(path); err != nil {
		return "", err
	}
	return path, nil
}

