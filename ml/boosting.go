package ml

import (
	"gonum.org/v1/gonum/stat"
)

// GradientBoosting fits shallow regression trees to squared-loss residuals.
type GradientBoosting struct {
	Rounds       int             `json:"rounds"`
	MaxDepth     int             `json:"max_depth"`
	LearningRate float64         `json:"learning_rate"`
	Init         float64         `json:"init"`
	NFeatures    int             `json:"n_features"`
	Trees        []*DecisionTree `json:"trees"`
}

func NewGradientBoosting(p Params) *GradientBoosting {
	return &GradientBoosting{
		Rounds:       p.BoostingRounds,
		MaxDepth:     p.BoostingDepth,
		LearningRate: p.LearningRate,
	}
}

func (m *GradientBoosting) Kind() Kind { return KindBoostingRegressor }

func (m *GradientBoosting) NumFeatures() int { return m.NFeatures }

func (m *GradientBoosting) Fit(X [][]float64, y []float64) error {
	n, p, err := checkXY(X, y)
	if err != nil {
		return err
	}
	m.Init = stat.Mean(y, nil)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = m.Init
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	residual := make([]float64, n)
	m.Trees = m.Trees[:0]
	for r := 0; r < m.Rounds; r++ {
		for i := range residual {
			residual[i] = y[i] - pred[i]
		}
		tree := &DecisionTree{MaxDepth: m.MaxDepth, MinSamplesLeaf: 1, MaxFeatures: p}
		tree.fit(X, residual, idx, nil)
		for i, row := range X {
			pred[i] += m.LearningRate * tree.predictRow(row)[0]
		}
		m.Trees = append(m.Trees, tree)
	}
	m.NFeatures = p
	return nil
}

func (m *GradientBoosting) Predict(X [][]float64) ([]float64, error) {
	if m.NFeatures == 0 {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NFeatures); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		v := m.Init
		for _, t := range m.Trees {
			v += m.LearningRate * t.predictRow(row)[0]
		}
		out[i] = v
	}
	return out, nil
}

func (m *GradientBoosting) FeatureImportances() ([]float64, bool) {
	if m.NFeatures == 0 {
		return nil, false
	}
	w := make([]float64, m.NFeatures)
	for _, t := range m.Trees {
		for j, v := range t.normalizedImportances() {
			w[j] += v
		}
	}
	normalize(w)
	return w, true
}
