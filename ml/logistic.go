package ml

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// LogisticRegression is multinomial (softmax) regression with an L2 penalty
// of strength 1/C, trained by full-batch gradient descent on standardized
// features.
type LogisticRegression struct {
	C          float64        `json:"c"`
	Iterations int            `json:"iterations"`
	Step       float64        `json:"step"`
	NumClasses int            `json:"num_classes"`
	Scaler     StandardScaler `json:"scaler"`
	Weights    [][]float64    `json:"weights"`
	Bias       []float64      `json:"bias"`
}

func NewLogisticRegression(p Params) *LogisticRegression {
	return &LogisticRegression{C: p.LogisticC, Iterations: p.LogisticIterations, Step: p.LogisticStep}
}

func (m *LogisticRegression) Kind() Kind { return KindLogisticRegression }

func (m *LogisticRegression) NumFeatures() int { return len(m.Scaler.Mean) }

func (m *LogisticRegression) Fit(X [][]float64, y []float64) error {
	n, p, err := checkXY(X, y)
	if err != nil {
		return err
	}
	k, err := classCount(y)
	if err != nil {
		return err
	}
	Z, err := m.Scaler.FitTransform(X)
	if err != nil {
		return err
	}
	m.NumClasses = k
	m.Weights = make([][]float64, k)
	gradW := make([][]float64, k)
	for c := range m.Weights {
		m.Weights[c] = make([]float64, p)
		gradW[c] = make([]float64, p)
	}
	m.Bias = make([]float64, k)
	gradB := make([]float64, k)
	probs := make([]float64, k)
	penalty := 1 / (m.C * float64(n))

	for it := 0; it < m.Iterations; it++ {
		for c := range gradW {
			floats.Scale(0, gradW[c])
		}
		floats.Scale(0, gradB)
		for i, z := range Z {
			m.softmax(z, probs)
			for c := 0; c < k; c++ {
				d := probs[c]
				if int(y[i]) == c {
					d--
				}
				floats.AddScaled(gradW[c], d, z)
				gradB[c] += d
			}
		}
		for c := 0; c < k; c++ {
			floats.Scale(1/float64(n), gradW[c])
			floats.AddScaled(gradW[c], penalty, m.Weights[c])
			floats.AddScaled(m.Weights[c], -m.Step, gradW[c])
			m.Bias[c] -= m.Step * gradB[c] / float64(n)
		}
	}
	return nil
}

// softmax writes class probabilities for one standardized row into out.
func (m *LogisticRegression) softmax(z, out []float64) {
	for c := range out {
		out[c] = m.Bias[c] + floats.Dot(m.Weights[c], z)
	}
	top := floats.Max(out)
	var sum float64
	for c := range out {
		out[c] = math.Exp(out[c] - top)
		sum += out[c]
	}
	floats.Scale(1/sum, out)
}

func (m *LogisticRegression) Predict(X [][]float64) ([]float64, error) {
	if m.Weights == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, m.NumFeatures()); err != nil {
		return nil, err
	}
	Z, err := m.Scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(Z))
	probs := make([]float64, m.NumClasses)
	for i, z := range Z {
		m.softmax(z, probs)
		out[i] = float64(argmax(probs))
	}
	return out, nil
}

// FeatureImportances is not defined for logistic models.
func (m *LogisticRegression) FeatureImportances() ([]float64, bool) { return nil, false }
