package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

// LogisticModel is a fitted binary logistic regression
type LogisticModel struct {
	Weights    []float64
	Intercept  float64
	Iterations int
	Converged  bool
	Loss       float64
}

// FitLogistic minimizes 0.5*||w||^2 + C*sum(logloss) with damped Newton
// steps. The intercept is not penalized.
func FitLogistic(features [][]float64, labels []float64, c float64, maxIter int) (*LogisticModel, error) {
	n := len(features)
	if n == 0 || n != len(labels) {
		return nil, fmt.Errorf("%w: %d rows and %d labels", models.ErrValidation, n, len(labels))
	}
	if classCount(labels) < 2 {
		return nil, fmt.Errorf("%w: training data has a single class", models.ErrValidation)
	}
	if c <= 0 {
		c = 1.0
	}
	if maxIter <= 0 {
		maxIter = 100
	}

	d := len(features[0])
	p := d + 1

	// Design matrix with a leading column of ones for the intercept
	xa := mat.NewDense(n, p, nil)
	for i, row := range features {
		if len(row) != d {
			return nil, fmt.Errorf("%w: row %d has %d features, expected %d", models.ErrValidation, i, len(row), d)
		}
		xa.Set(i, 0, 1)
		for j, v := range row {
			xa.Set(i, j+1, v)
		}
	}
	y := mat.NewVecDense(n, append([]float64(nil), labels...))

	theta := mat.NewVecDense(p, nil)
	loss := logisticObjective(xa, y, theta, c)
	model := &LogisticModel{}

	z := mat.NewVecDense(n, nil)
	resid := mat.NewVecDense(n, nil)
	grad := mat.NewVecDense(p, nil)
	step := mat.NewVecDense(p, nil)
	weighted := mat.NewDense(n, p, nil)
	hess := mat.NewDense(p, p, nil)

	for iter := 1; iter <= maxIter; iter++ {
		model.Iterations = iter

		z.MulVec(xa, theta)
		for i := 0; i < n; i++ {
			pi := sigmoid(z.AtVec(i))
			resid.SetVec(i, pi-y.AtVec(i))
			w := pi * (1 - pi)
			for j := 0; j < p; j++ {
				weighted.Set(i, j, w*xa.At(i, j))
			}
		}

		// g = C * Xa^T (p - y) + R theta
		grad.MulVec(xa.T(), resid)
		grad.ScaleVec(c, grad)
		for j := 1; j < p; j++ {
			grad.SetVec(j, grad.AtVec(j)+theta.AtVec(j))
		}
		if floats.Norm(grad.RawVector().Data, math.Inf(1)) < 1e-8 {
			model.Converged = true
			break
		}

		// H = C * Xa^T W Xa + R
		hess.Mul(xa.T(), weighted)
		sym := mat.NewSymDense(p, nil)
		for j := 0; j < p; j++ {
			for k := j; k < p; k++ {
				v := c * hess.At(j, k)
				if j == k {
					v += 1e-10
					if j > 0 {
						v++
					}
				}
				sym.SetSym(j, k, v)
			}
		}

		if err := solveNewton(sym, grad, step); err != nil {
			return nil, fmt.Errorf("failed to solve newton step: %w", err)
		}

		// Backtracking line search on the full objective
		decrease := mat.Dot(grad, step)
		t := 1.0
		candidate := mat.NewVecDense(p, nil)
		var next float64
		accepted := false
		for ls := 0; ls < 40; ls++ {
			candidate.AddScaledVec(theta, -t, step)
			next = logisticObjective(xa, y, candidate, c)
			if next <= loss-1e-4*t*decrease {
				accepted = true
				break
			}
			t /= 2
		}
		if !accepted {
			model.Converged = true
			break
		}

		theta.CopyVec(candidate)
		improvement := loss - next
		loss = next
		if improvement <= 1e-12*(1+math.Abs(loss)) {
			model.Converged = true
			break
		}
	}

	model.Intercept = theta.AtVec(0)
	model.Weights = make([]float64, d)
	for j := 0; j < d; j++ {
		model.Weights[j] = theta.AtVec(j + 1)
	}
	model.Loss = loss

	for _, w := range append([]float64{model.Intercept}, model.Weights...) {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: logistic regression diverged", models.ErrValidation)
		}
	}
	return model, nil
}

func solveNewton(h *mat.SymDense, g, dst *mat.VecDense) error {
	var chol mat.Cholesky
	if chol.Factorize(h) {
		return chol.SolveVecTo(dst, g)
	}
	return dst.SolveVec(h, g)
}

// PredictProba returns the positive-class probability for one feature row
func (m *LogisticModel) PredictProba(x []float64) float64 {
	return sigmoid(m.Intercept + floats.Dot(m.Weights, x))
}

// Predict returns the 0/1 class at a 0.5 threshold
func (m *LogisticModel) Predict(x []float64) float64 {
	if m.PredictProba(x) >= 0.5 {
		return 1
	}
	return 0
}

func logisticObjective(xa *mat.Dense, y, theta *mat.VecDense, c float64) float64 {
	n, p := xa.Dims()
	z := mat.NewVecDense(n, nil)
	z.MulVec(xa, theta)

	var sum float64
	for i := 0; i < n; i++ {
		zi := z.AtVec(i)
		sum += softplus(zi) - y.AtVec(i)*zi
	}
	var penalty float64
	for j := 1; j < p; j++ {
		penalty += theta.AtVec(j) * theta.AtVec(j)
	}
	return c*sum + 0.5*penalty
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus computes log(1+exp(z)) without overflow
func softplus(z float64) float64 {
	return math.Max(z, 0) + math.Log1p(math.Exp(-math.Abs(z)))
}
