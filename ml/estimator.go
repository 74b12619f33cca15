// Package ml holds the estimators, preprocessing transforms, metrics and
// data splitters used for candidate model selection. Estimators work on
// row-major [][]float64 matrices; classifiers take and return class indices
// encoded as float64.
package ml

import (
	"errors"
	"fmt"
	"math"
)

// Kind identifies an estimator family. It is the discriminator of the
// serialized form, so values must stay stable across releases.
type Kind string

const (
	KindLinearRegression   Kind = "linear_regression"
	KindForestRegressor    Kind = "forest_regressor"
	KindBoostingRegressor  Kind = "gradient_boosting_regressor"
	KindKernelRidge        Kind = "kernel_ridge_regressor"
	KindForestClassifier   Kind = "forest_classifier"
	KindLogisticRegression Kind = "logistic_regression"
	KindKernelClassifier   Kind = "kernel_ridge_classifier"
)

// IsClassifier reports whether estimators of this kind predict class indices.
func (k Kind) IsClassifier() bool {
	switch k {
	case KindForestClassifier, KindLogisticRegression, KindKernelClassifier:
		return true
	}
	return false
}

var (
	ErrEmptyInput        = errors.New("ml: empty input")
	ErrDimensionMismatch = errors.New("ml: dimension mismatch")
	ErrNonFinite         = errors.New("ml: non-finite value in input")
	ErrNotFitted         = errors.New("ml: estimator is not fitted")
	ErrUnknownKind       = errors.New("ml: unknown estimator kind")
	ErrUnseenCategory    = errors.New("ml: unseen category")
	ErrSingular          = errors.New("ml: system is not positive definite")
	ErrInvalidModel      = errors.New("ml: invalid model")
)

// Estimator is a trainable model.
type Estimator interface {
	Kind() Kind
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
	// NumFeatures is the input width seen at Fit time (0 before Fit).
	NumFeatures() int
	// FeatureImportances returns per-feature weights aligned with the
	// training columns, and false when the family has no such notion.
	FeatureImportances() ([]float64, bool)
}

// Params configures every estimator family. Zero values are replaced by
// DefaultParams when passed to New.
type Params struct {
	Seed               int64
	Trees              int
	MaxDepth           int
	MinSamplesLeaf     int
	BoostingRounds     int
	BoostingDepth      int
	LearningRate       float64
	RidgeAlpha         float64
	KernelAlpha        float64
	LogisticC          float64
	LogisticIterations int
	LogisticStep       float64
}

// DefaultParams mirrors common library defaults for small tabular datasets.
func DefaultParams() Params {
	return Params{
		Seed:               42,
		Trees:              100,
		MaxDepth:           12,
		MinSamplesLeaf:     1,
		BoostingRounds:     100,
		BoostingDepth:      3,
		LearningRate:       0.1,
		RidgeAlpha:         1e-6,
		KernelAlpha:        1.0,
		LogisticC:          1.0,
		LogisticIterations: 500,
		LogisticStep:       0.5,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Seed == 0 {
		p.Seed = d.Seed
	}
	if p.Trees <= 0 {
		p.Trees = d.Trees
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = d.MaxDepth
	}
	if p.MinSamplesLeaf <= 0 {
		p.MinSamplesLeaf = d.MinSamplesLeaf
	}
	if p.BoostingRounds <= 0 {
		p.BoostingRounds = d.BoostingRounds
	}
	if p.BoostingDepth <= 0 {
		p.BoostingDepth = d.BoostingDepth
	}
	if p.LearningRate <= 0 {
		p.LearningRate = d.LearningRate
	}
	if p.RidgeAlpha <= 0 {
		p.RidgeAlpha = d.RidgeAlpha
	}
	if p.KernelAlpha <= 0 {
		p.KernelAlpha = d.KernelAlpha
	}
	if p.LogisticC <= 0 {
		p.LogisticC = d.LogisticC
	}
	if p.LogisticIterations <= 0 {
		p.LogisticIterations = d.LogisticIterations
	}
	if p.LogisticStep <= 0 {
		p.LogisticStep = d.LogisticStep
	}
	return p
}

// New constructs an unfitted estimator of the given kind.
func New(kind Kind, p Params) (Estimator, error) {
	p = p.withDefaults()
	switch kind {
	case KindLinearRegression:
		return NewLinearRegression(p.RidgeAlpha), nil
	case KindForestRegressor:
		return NewRandomForest(false, p), nil
	case KindForestClassifier:
		return NewRandomForest(true, p), nil
	case KindBoostingRegressor:
		return NewGradientBoosting(p), nil
	case KindKernelRidge:
		return NewKernelRidge(false, p.KernelAlpha), nil
	case KindKernelClassifier:
		return NewKernelRidge(true, p.KernelAlpha), nil
	case KindLogisticRegression:
		return NewLogisticRegression(p), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// checkXY validates a training set and returns its shape.
func checkXY(X [][]float64, y []float64) (n, p int, err error) {
	n = len(X)
	if n == 0 {
		return 0, 0, ErrEmptyInput
	}
	if len(y) != n {
		return 0, 0, fmt.Errorf("%w: %d rows but %d targets", ErrDimensionMismatch, n, len(y))
	}
	p = len(X[0])
	if p == 0 {
		return 0, 0, fmt.Errorf("%w: no feature columns", ErrEmptyInput)
	}
	if err := checkX(X, p); err != nil {
		return 0, 0, err
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, fmt.Errorf("%w: target row %d", ErrNonFinite, i)
		}
	}
	return n, p, nil
}

// checkX validates prediction input against the fitted width.
func checkX(X [][]float64, p int) error {
	for i, row := range X {
		if len(row) != p {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrDimensionMismatch, i, len(row), p)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: row %d column %d", ErrNonFinite, i, j)
			}
		}
	}
	return nil
}

// classCount returns the number of classes implied by index-encoded labels.
func classCount(y []float64) (int, error) {
	k := 0
	for i, v := range y {
		if v < 0 || v != math.Trunc(v) {
			return 0, fmt.Errorf("ml: label at row %d is not a class index: %v", i, v)
		}
		if int(v)+1 > k {
			k = int(v) + 1
		}
	}
	return k, nil
}

// normalize scales w to sum to one in place; an all-zero vector is left alone.
func normalize(w []float64) {
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum <= 0 {
		return
	}
	for i := range w {
		w[i] /= sum
	}
}

// argmax returns the index of the largest value, the lowest index on ties.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
