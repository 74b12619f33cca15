package ml

import (
	"math"
	"math/rand"
)

// RandomForest is a bagged ensemble of CART trees. Regression forests consider
// every feature at each split; classification forests sample sqrt(p).
type RandomForest struct {
	Classify       bool            `json:"classify"`
	NumTrees       int             `json:"num_trees"`
	MaxDepth       int             `json:"max_depth"`
	MinSamplesLeaf int             `json:"min_samples_leaf"`
	Seed           int64           `json:"seed"`
	NumClasses     int             `json:"num_classes,omitempty"`
	NFeatures      int             `json:"n_features"`
	Trees          []*DecisionTree `json:"trees"`
}

func NewRandomForest(classify bool, p Params) *RandomForest {
	return &RandomForest{
		Classify:       classify,
		NumTrees:       p.Trees,
		MaxDepth:       p.MaxDepth,
		MinSamplesLeaf: p.MinSamplesLeaf,
		Seed:           p.Seed,
	}
}

func (m *RandomForest) Kind() Kind {
	if m.Classify {
		return KindForestClassifier
	}
	return KindForestRegressor
}

func (m *RandomForest) NumFeatures() int { return m.NFeatures }

func (m *RandomForest) Fit(X [][]float64, y []float64) error {
	n, p, err := checkXY(X, y)
	if err != nil {
		return err
	}
	if m.Classify {
		k, err := classCount(y)
		if err != nil {
			return err
		}
		m.NumClasses = k
	}
	maxFeatures := p
	if m.Classify {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(p)))))
	}

	master := rand.New(rand.NewSource(m.Seed))
	m.Trees = make([]*DecisionTree, m.NumTrees)
	for t := range m.Trees {
		rng := rand.New(rand.NewSource(master.Int63()))
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		tree := &DecisionTree{
			Classify:       m.Classify,
			NumClasses:     m.NumClasses,
			MaxDepth:       m.MaxDepth,
			MinSamplesLeaf: m.MinSamplesLeaf,
			MaxFeatures:    maxFeatures,
		}
		tree.fit(X, y, idx, rng)
		m.Trees[t] = tree
	}
	m.NFeatures = p
	return nil
}

func (m *RandomForest) Predict(X [][]float64) ([]float64, error) {
	if len(m.Trees) == 0 {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NFeatures); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		if m.Classify {
			votes := make([]float64, m.NumClasses)
			for _, t := range m.Trees {
				for c, p := range t.predictRow(row) {
					votes[c] += p
				}
			}
			out[i] = float64(argmax(votes))
			continue
		}
		var sum float64
		for _, t := range m.Trees {
			sum += t.predictRow(row)[0]
		}
		out[i] = sum / float64(len(m.Trees))
	}
	return out, nil
}

// FeatureImportances averages each tree's normalized impurity decrease.
func (m *RandomForest) FeatureImportances() ([]float64, bool) {
	if len(m.Trees) == 0 {
		return nil, false
	}
	w := make([]float64, m.NFeatures)
	for _, t := range m.Trees {
		for j, v := range t.normalizedImportances() {
			w[j] += v
		}
	}
	for j := range w {
		w[j] /= float64(len(m.Trees))
	}
	normalize(w)
	return w, true
}
