package ml

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LinearRegression is ordinary least squares on standardized features with a
// tiny ridge term so collinear inputs still factorize.
type LinearRegression struct {
	Alpha     float64        `json:"alpha"`
	Scaler    StandardScaler `json:"scaler"`
	Coef      []float64      `json:"coef"`
	Intercept float64        `json:"intercept"`
}

func NewLinearRegression(alpha float64) *LinearRegression {
	return &LinearRegression{Alpha: alpha}
}

func (m *LinearRegression) Kind() Kind { return KindLinearRegression }

func (m *LinearRegression) NumFeatures() int { return len(m.Coef) }

func (m *LinearRegression) Fit(X [][]float64, y []float64) error {
	n, p, err := checkXY(X, y)
	if err != nil {
		return err
	}
	Z, err := m.Scaler.FitTransform(X)
	if err != nil {
		return err
	}
	yMean := stat.Mean(y, nil)

	design := mat.NewDense(n, p, nil)
	for i, row := range Z {
		design.SetRow(i, row)
	}
	centered := make([]float64, n)
	for i, v := range y {
		centered[i] = v - yMean
	}
	target := mat.NewVecDense(n, centered)

	// (ZᵀZ + αI) β = Zᵀy
	gram := mat.NewSymDense(p, nil)
	gram.SymOuterK(1, design.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+m.Alpha*float64(n))
	}
	var rhs mat.VecDense
	rhs.MulVec(design.T(), target)

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return fmt.Errorf("%w: linear regression with %d features", ErrSingular, p)
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return fmt.Errorf("linear regression solve: %w", err)
	}
	m.Coef = make([]float64, p)
	for j := range m.Coef {
		m.Coef[j] = beta.AtVec(j)
	}
	m.Intercept = yMean
	return nil
}

func (m *LinearRegression) Predict(X [][]float64) ([]float64, error) {
	if m.Coef == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(X, len(m.Coef)); err != nil {
		return nil, err
	}
	Z, err := m.Scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(Z))
	for i, row := range Z {
		v := m.Intercept
		for j, z := range row {
			v += m.Coef[j] * z
		}
		out[i] = v
	}
	return out, nil
}

// FeatureImportances is not defined for linear models.
func (m *LinearRegression) FeatureImportances() ([]float64, bool) { return nil, false }
