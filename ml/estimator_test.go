package ml

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearData returns y = 2a - 3b + 1 with a third, irrelevant column.
func linearData(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		a, b, noise := rng.Float64()*10, rng.Float64()*5, rng.Float64()
		X[i] = []float64{a, b, noise}
		y[i] = 2*a - 3*b + 1
	}
	return X, y
}

// clusters returns k (at most four) well separated 2-D blobs on the corners
// of a square, labelled 0..k-1.
func clusters(perClass, k int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	var X [][]float64
	var y []float64
	for c := 0; c < k; c++ {
		for i := 0; i < perClass; i++ {
			X = append(X, []float64{float64(c%2)*10 + rng.Float64(), float64(c/2)*10 + rng.Float64()})
			y = append(y, float64(c))
		}
	}
	return X, y
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New("svm", Params{})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestNewBuildsEveryKind(t *testing.T) {
	for _, k := range []Kind{
		KindLinearRegression, KindForestRegressor, KindBoostingRegressor, KindKernelRidge,
		KindForestClassifier, KindLogisticRegression, KindKernelClassifier,
	} {
		e, err := New(k, Params{})
		require.NoError(t, err, k)
		assert.Equal(t, k, e.Kind())
		assert.Equal(t, 0, e.NumFeatures())
	}
}

func TestFitValidatesInput(t *testing.T) {
	e := NewLinearRegression(1e-6)

	assert.ErrorIs(t, e.Fit(nil, nil), ErrEmptyInput)
	assert.ErrorIs(t, e.Fit([][]float64{{1}, {2}}, []float64{1}), ErrDimensionMismatch)
	assert.ErrorIs(t, e.Fit([][]float64{{1}, {math.NaN()}}, []float64{1, 2}), ErrNonFinite)
	assert.ErrorIs(t, e.Fit([][]float64{{1, 2}, {3}}, []float64{1, 2}), ErrDimensionMismatch)
}

func TestPredictBeforeFit(t *testing.T) {
	for _, e := range []Estimator{
		NewLinearRegression(1e-6),
		NewRandomForest(false, DefaultParams()),
		NewGradientBoosting(DefaultParams()),
		NewKernelRidge(false, 1),
		NewLogisticRegression(DefaultParams()),
	} {
		_, err := e.Predict([][]float64{{1}})
		assert.ErrorIs(t, err, ErrNotFitted, e.Kind())
	}
}

func TestLinearRegressionRecoversPlane(t *testing.T) {
	X, y := linearData(60, 1)
	m := NewLinearRegression(1e-9)
	require.NoError(t, m.Fit(X, y))

	pred, err := m.Predict([][]float64{{4, 2, 0.5}})
	require.NoError(t, err)
	assert.InDelta(t, 2*4-3*2+1, pred[0], 1e-3)

	_, has := m.FeatureImportances()
	assert.False(t, has)
}

func TestLinearRegressionPredictWidth(t *testing.T) {
	X, y := linearData(20, 2)
	m := NewLinearRegression(1e-6)
	require.NoError(t, m.Fit(X, y))

	_, err := m.Predict([][]float64{{1, 2}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRandomForestRegressorIsDeterministic(t *testing.T) {
	X, y := linearData(80, 3)
	p := DefaultParams()
	p.Trees = 20

	a := NewRandomForest(false, p)
	b := NewRandomForest(false, p)
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))

	pa, err := a.Predict(X[:10])
	require.NoError(t, err)
	pb, err := b.Predict(X[:10])
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
	assert.Greater(t, R2(y, mustPredict(t, a, X)), 0.9)
}

func TestRandomForestImportances(t *testing.T) {
	X, y := linearData(80, 4)
	p := DefaultParams()
	p.Trees = 20
	m := NewRandomForest(false, p)
	require.NoError(t, m.Fit(X, y))

	w, has := m.FeatureImportances()
	require.True(t, has)
	require.Len(t, w, 3)
	var sum float64
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Less(t, w[2], w[0], "noise column should matter less than the signal")
}

func TestRandomForestClassifierSeparatesClusters(t *testing.T) {
	X, y := clusters(15, 3, 5)
	p := DefaultParams()
	p.Trees = 25
	m := NewRandomForest(true, p)
	require.NoError(t, m.Fit(X, y))
	assert.Equal(t, KindForestClassifier, m.Kind())

	rep := Classify(y, mustPredict(t, m, X))
	assert.Equal(t, 1.0, rep.Accuracy)
}

func TestGradientBoostingBeatsMean(t *testing.T) {
	X, y := linearData(60, 6)
	m := NewGradientBoosting(DefaultParams())
	require.NoError(t, m.Fit(X, y))

	pred := mustPredict(t, m, X)
	assert.Greater(t, R2(y, pred), 0.95)

	w, has := m.FeatureImportances()
	require.True(t, has)
	assert.Len(t, w, 3)
}

func TestKernelRidgeRegressor(t *testing.T) {
	X := make([][]float64, 30)
	y := make([]float64, 30)
	for i := range X {
		x := float64(i) / 29
		X[i] = []float64{x}
		y[i] = 3 * x
	}
	m := NewKernelRidge(false, 1)
	require.NoError(t, m.Fit(X, y))
	assert.Greater(t, R2(y, mustPredict(t, m, X)), 0.8)
}

func TestKernelRidgeClassifier(t *testing.T) {
	X, y := clusters(10, 3, 7)
	m := NewKernelRidge(true, 1)
	require.NoError(t, m.Fit(X, y))
	assert.Equal(t, KindKernelClassifier, m.Kind())
	assert.Equal(t, 1.0, Classify(y, mustPredict(t, m, X)).Accuracy)
}

func TestLogisticRegressionSeparatesClusters(t *testing.T) {
	X, y := clusters(12, 4, 8)
	m := NewLogisticRegression(DefaultParams())
	require.NoError(t, m.Fit(X, y))
	assert.Equal(t, 1.0, Classify(y, mustPredict(t, m, X)).Accuracy)
}

func TestClassifierRejectsNonIndexLabels(t *testing.T) {
	m := NewLogisticRegression(DefaultParams())
	err := m.Fit([][]float64{{1}, {2}}, []float64{0, 1.5})
	assert.Error(t, err)
}

func mustPredict(t *testing.T, e Estimator, X [][]float64) []float64 {
	t.Helper()
	out, err := e.Predict(X)
	require.NoError(t, err)
	return out
}
