package calib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// problem is a nonlinear least-squares problem over a full parameter
// vector of which only the free indices move.
type problem struct {
	params    []float64
	free      []int
	residuals int
	eval      func(params, out []float64)
}

type solution struct {
	params     []float64
	residuals  []float64
	cost       float64
	iterations int

	// converged is false when the iteration budget ran out before the step
	// criterion was met.
	converged bool
}

// solve runs Levenberg-Marquardt with Marquardt diagonal scaling and a
// central-difference Jacobian.
func solve(p problem, crit Criteria) (solution, error) {
	n := len(p.free)
	m := p.residuals
	if n == 0 {
		return solution{}, fmt.Errorf("%w: no free parameters", ErrOptimizationFailure)
	}
	if m < n {
		return solution{}, fmt.Errorf("%w: %d residuals for %d parameters", ErrOptimizationFailure, m, n)
	}

	full := append([]float64(nil), p.params...)
	expand := func(x []float64) []float64 {
		for i, idx := range p.free {
			full[idx] = x[i]
		}
		return full
	}
	f := func(y, x []float64) {
		p.eval(expand(x), y)
	}

	x := make([]float64, n)
	for i, idx := range p.free {
		x[i] = p.params[idx]
	}
	r := make([]float64, m)
	f(r, x)
	cost := floats.Dot(r, r)
	if !finite(cost) {
		return solution{}, fmt.Errorf("%w: initial cost is not finite", ErrOptimizationFailure)
	}

	jac := mat.NewDense(m, n, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central, OriginValue: r}
	var jtj mat.SymDense
	g := mat.NewVecDense(n, nil)
	a := mat.NewSymDense(n, nil)
	step := mat.NewVecDense(n, nil)
	xNew := make([]float64, n)
	rNew := make([]float64, m)

	lambda := 1e-3
	iter := 0
	converged := cost == 0
	for ; iter < crit.MaxIterations && !converged; iter++ {
		settings.OriginValue = r
		fd.Jacobian(jac, f, x, settings)
		jtj.SymOuterK(1, jac.T())
		g.MulVec(jac.T(), mat.NewVecDense(m, r))

		accepted := false
		for attempt := 0; attempt < 12 && !accepted; attempt++ {
			a.CopySym(&jtj)
			for i := 0; i < n; i++ {
				d := jtj.At(i, i)
				a.SetSym(i, i, d+lambda*math.Max(d, 1e-12))
			}
			var chol mat.Cholesky
			if !chol.Factorize(a) {
				lambda *= 10
				continue
			}
			if err := chol.SolveVecTo(step, g); err != nil {
				lambda *= 10
				continue
			}
			for i := range x {
				xNew[i] = x[i] - step.AtVec(i)
			}
			f(rNew, xNew)
			newCost := floats.Dot(rNew, rNew)
			if finite(newCost) && newCost <= cost {
				accepted = true
				copy(x, xNew)
				copy(r, rNew)
				cost = newCost
				lambda = math.Max(lambda/10, 1e-12)
			} else {
				lambda *= 10
			}
		}
		// No damping lowers the cost: x is a minimum to working precision.
		if !accepted {
			converged = true
			break
		}
		if cost == 0 || floats.Norm(step.RawVector().Data, 2) <= crit.Epsilon*(floats.Norm(x, 2)+crit.Epsilon) {
			converged = true
		}
	}

	out := append([]float64(nil), expand(x)...)
	for _, v := range out {
		if !finite(v) {
			return solution{}, fmt.Errorf("%w: parameters diverged", ErrOptimizationFailure)
		}
	}
	return solution{params: out, residuals: r, cost: cost, iterations: iter, converged: converged}, nil
}

// requireConverged turns an exhausted iteration budget into an
// ErrOptimizationFailure.
func (s solution) requireConverged() error {
	if s.converged {
		return nil
	}
	return fmt.Errorf("%w: no convergence after %d iterations", ErrOptimizationFailure, s.iterations)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
