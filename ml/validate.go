package ml

import (
	"fmt"
	"math"
)

// validator is implemented by every estimator. It checks the internal shape
// of a decoded model so a damaged or mismatched file fails at load time
// instead of at prediction time.
type validator interface {
	validate() error
}

func invalid(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidModel, kind, fmt.Sprintf(format, args...))
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func (s *StandardScaler) validate(kind Kind, p int) error {
	if len(s.Mean) != p || len(s.Scale) != p {
		return invalid(kind, "scaler has %d means and %d scales for %d features", len(s.Mean), len(s.Scale), p)
	}
	for j := range s.Scale {
		if !finite(s.Mean[j]) || !finite(s.Scale[j]) || s.Scale[j] <= 0 {
			return invalid(kind, "scaler column %d is not usable", j)
		}
	}
	return nil
}

// validate checks that every split references an existing feature, children
// come after their parent and leaves hold outputs values.
func (t *DecisionTree) validate(kind Kind, p, outputs int) error {
	if len(t.Nodes) == 0 {
		return invalid(kind, "tree has no nodes")
	}
	if len(t.Importances) != p {
		return invalid(kind, "tree has %d importances for %d features", len(t.Importances), p)
	}
	for i, n := range t.Nodes {
		if n.leaf() {
			if len(n.Value) != outputs {
				return invalid(kind, "leaf %d holds %d values, want %d", i, len(n.Value), outputs)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= p {
			return invalid(kind, "node %d splits on feature %d of %d", i, n.Feature, p)
		}
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return invalid(kind, "node %d has children %d/%d outside (%d, %d)", i, n.Left, n.Right, i, len(t.Nodes))
		}
	}
	return nil
}

func (m *RandomForest) validate() error {
	kind := m.Kind()
	if m.NFeatures <= 0 {
		return invalid(kind, "no features")
	}
	if len(m.Trees) == 0 {
		return invalid(kind, "no trees")
	}
	outputs := 1
	if m.Classify {
		if m.NumClasses < 2 {
			return invalid(kind, "%d classes", m.NumClasses)
		}
		outputs = m.NumClasses
	}
	for i, t := range m.Trees {
		if t == nil {
			return invalid(kind, "tree %d is empty", i)
		}
		if err := t.validate(kind, m.NFeatures, outputs); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func (m *GradientBoosting) validate() error {
	kind := m.Kind()
	if m.NFeatures <= 0 {
		return invalid(kind, "no features")
	}
	if !finite(m.Init) || !finite(m.LearningRate) {
		return invalid(kind, "non-finite init or learning rate")
	}
	for i, t := range m.Trees {
		if t == nil {
			return invalid(kind, "tree %d is empty", i)
		}
		if err := t.validate(kind, m.NFeatures, 1); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func (m *LinearRegression) validate() error {
	kind := m.Kind()
	if len(m.Coef) == 0 {
		return invalid(kind, "no coefficients")
	}
	return m.Scaler.validate(kind, len(m.Coef))
}

func (m *LogisticRegression) validate() error {
	kind := m.Kind()
	p := m.NumFeatures()
	if p == 0 {
		return invalid(kind, "no features")
	}
	if err := m.Scaler.validate(kind, p); err != nil {
		return err
	}
	if m.NumClasses < 2 {
		return invalid(kind, "%d classes", m.NumClasses)
	}
	if len(m.Weights) != m.NumClasses || len(m.Bias) != m.NumClasses {
		return invalid(kind, "%d weight rows and %d biases for %d classes", len(m.Weights), len(m.Bias), m.NumClasses)
	}
	for c, w := range m.Weights {
		if len(w) != p {
			return invalid(kind, "weight row %d has %d values for %d features", c, len(w), p)
		}
	}
	return nil
}

func (m *KernelRidge) validate() error {
	kind := m.Kind()
	p := m.NumFeatures()
	if p == 0 {
		return invalid(kind, "no features")
	}
	if err := m.Scaler.validate(kind, p); err != nil {
		return err
	}
	if !finite(m.Gamma) || m.Gamma <= 0 {
		return invalid(kind, "gamma %v", m.Gamma)
	}
	outputs := 1
	if m.Classify {
		if m.NumClasses < 2 {
			return invalid(kind, "%d classes", m.NumClasses)
		}
		outputs = m.NumClasses
	}
	if len(m.Offset) != outputs {
		return invalid(kind, "%d offsets, want %d", len(m.Offset), outputs)
	}
	if len(m.Support) == 0 || len(m.Dual) != len(m.Support) {
		return invalid(kind, "%d dual rows for %d support vectors", len(m.Dual), len(m.Support))
	}
	for i, sv := range m.Support {
		if len(sv) != p {
			return invalid(kind, "support vector %d has %d features, want %d", i, len(sv), p)
		}
		if len(m.Dual[i]) != outputs {
			return invalid(kind, "dual row %d has %d values, want %d", i, len(m.Dual[i]), outputs)
		}
	}
	return nil
}

// ClassCount returns the number of classes a fitted classifier predicts, and
// 0 for regressors.
func ClassCount(e Estimator) int {
	switch m := e.(type) {
	case *RandomForest:
		if m.Classify {
			return m.NumClasses
		}
	case *KernelRidge:
		if m.Classify {
			return m.NumClasses
		}
	case *LogisticRegression:
		return m.NumClasses
	}
	return 0
}
