package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// KernelRidge is RBF kernel ridge regression on standardized inputs. The
// classifier variant fits one-vs-rest ±1 targets and predicts the class with
// the largest score.
type KernelRidge struct {
	Classify   bool           `json:"classify"`
	Alpha      float64        `json:"alpha"`
	Gamma      float64        `json:"gamma"`
	NumClasses int            `json:"num_classes,omitempty"`
	Scaler     StandardScaler `json:"scaler"`
	Support    [][]float64    `json:"support"`
	// Dual has one row per support vector and one column per output.
	Dual   [][]float64 `json:"dual"`
	Offset []float64   `json:"offset"`
}

func NewKernelRidge(classify bool, alpha float64) *KernelRidge {
	return &KernelRidge{Classify: classify, Alpha: alpha}
}

func (m *KernelRidge) Kind() Kind {
	if m.Classify {
		return KindKernelClassifier
	}
	return KindKernelRidge
}

func (m *KernelRidge) NumFeatures() int { return len(m.Scaler.Mean) }

func (m *KernelRidge) rbf(a, b []float64) float64 {
	var d float64
	for j := range a {
		diff := a[j] - b[j]
		d += diff * diff
	}
	return math.Exp(-m.Gamma * d)
}

func (m *KernelRidge) Fit(X [][]float64, y []float64) error {
	n, p, err := checkXY(X, y)
	if err != nil {
		return err
	}
	Z, err := m.Scaler.FitTransform(X)
	if err != nil {
		return err
	}
	flat := make([]float64, 0, n*p)
	for _, row := range Z {
		flat = append(flat, row...)
	}
	variance := stat.Variance(flat, nil)
	if !(variance > 0) || math.IsNaN(variance) {
		variance = 1
	}
	m.Gamma = 1 / (float64(p) * variance)

	outputs := 1
	if m.Classify {
		k, err := classCount(y)
		if err != nil {
			return err
		}
		m.NumClasses = k
		outputs = k
	}
	targets := mat.NewDense(n, outputs, nil)
	m.Offset = make([]float64, outputs)
	if m.Classify {
		for i, v := range y {
			for c := 0; c < outputs; c++ {
				t := -1.0
				if int(v) == c {
					t = 1
				}
				targets.Set(i, c, t)
			}
		}
	} else {
		m.Offset[0] = stat.Mean(y, nil)
		for i, v := range y {
			targets.Set(i, 0, v-m.Offset[0])
		}
	}

	gram := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k := m.rbf(Z[i], Z[j])
			if i == j {
				k += m.Alpha
			}
			gram.SetSym(i, j, k)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return fmt.Errorf("%w: kernel system with %d samples", ErrSingular, n)
	}
	var dual mat.Dense
	if err := chol.SolveTo(&dual, targets); err != nil {
		return fmt.Errorf("kernel ridge solve: %w", err)
	}
	m.Support = Z
	m.Dual = make([][]float64, n)
	for i := range m.Dual {
		m.Dual[i] = mat.Row(nil, i, &dual)
	}
	return nil
}

func (m *KernelRidge) Predict(X [][]float64) ([]float64, error) {
	if m.Support == nil {
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
	scores := make([]float64, len(m.Offset))
	for i, z := range Z {
		copy(scores, m.Offset)
		for s, sv := range m.Support {
			k := m.rbf(z, sv)
			for c := range scores {
				scores[c] += k * m.Dual[s][c]
			}
		}
		if m.Classify {
			out[i] = float64(argmax(scores))
		} else {
			out[i] = scores[0]
		}
	}
	return out, nil
}

// FeatureImportances is not defined for kernel models.
func (m *KernelRidge) FeatureImportances() ([]float64, bool) { return nil, false }
