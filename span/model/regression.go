// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/kortschak/span/span/squash"
)

// covariateNames is the fixed covariate column set for regression-mixture
// variants: GC, GC^2, input (control), mappability (§3 "Score Frame").
// The intercept is not a column; rows() prepends it as a constant 1.
var covariateNames = []string{"GC", "GC2", "input", "mapability"}

// Regression is the two-component regression-mixture family member
// (POISSON_REGR_MIXTURE, NB_REGR_MIXTURE): a zero/background component
// and a signal component whose mean is a log-linear function of
// covariates (§4.5 "NB Regression Mixture").
type Regression struct {
	poisson bool // true selects POISSON_REGR_MIXTURE; false selects NB_REGR_MIXTURE

	LogWeight [2]float64
	// Coef holds the signal component's GLM coefficients, ordered
	// {intercept, GC, GC2, input, mapability}.
	Coef [5]float64
	// Dispersion is the NB_REGR_MIXTURE variant's mean-to-variance
	// ratio (the signal NB's variance is mu/Dispersion, i.e. Dispersion
	// is 1-P), shared across rows, only the mean varies with
	// covariates; unused for the Poisson variant.
	Dispersion float64
}

// NewRegression constructs a regression mixture for the given variant.
func NewRegression(poisson bool) *Regression {
	r := &Regression{poisson: poisson, Dispersion: 0.5}
	r.LogWeight = [2]float64{math.Log(0.9), math.Log(0.1)}
	r.Coef = [5]float64{1, 0, 0, 0, 0}
	return r
}

func (r *Regression) Variant() Variant {
	if r.poisson {
		return POISSON_REGR_MIXTURE
	}
	return NB_REGR_MIXTURE
}

func (r *Regression) States() []string { return []string{"background", "signal"} }

func (r *Regression) Clone() Model {
	c := *r
	return &c
}

type regressionRow struct {
	y    int
	x    [5]float64 // {1, GC, GC2, input, mapability}
}

func (r *Regression) rows(frame squash.Frame) ([]regressionRow, error) {
	yc, ok := frame.Column("y")
	if !ok || yc.Kind != squash.Int {
		return nil, fmt.Errorf("model: regression: frame missing integer column \"y\"")
	}
	covs := make([][]float64, len(covariateNames))
	for i, name := range covariateNames {
		c, ok := frame.Column(name)
		if !ok {
			covs[i] = make([]float64, frame.Rows) // absent covariate treated as all-zero
			continue
		}
		switch c.Kind {
		case squash.Float64:
			covs[i] = c.Float64s
		case squash.Float32:
			vs := make([]float64, len(c.Float32s))
			for j, v := range c.Float32s {
				vs[j] = float64(v)
			}
			covs[i] = vs
		case squash.Int:
			vs := make([]float64, len(c.Ints))
			for j, v := range c.Ints {
				vs[j] = float64(v)
			}
			covs[i] = vs
		default:
			return nil, fmt.Errorf("model: regression: covariate %q has unsupported column kind", name)
		}
	}
	out := make([]regressionRow, frame.Rows)
	for i := 0; i < frame.Rows; i++ {
		row := regressionRow{y: yc.Ints[i]}
		row.x[0] = 1
		for j := range covariateNames {
			row.x[j+1] = covs[j][i]
		}
		out[i] = row
	}
	return out, nil
}

func (r *Regression) mean(x [5]float64) float64 {
	eta := 0.0
	for i, c := range r.Coef {
		eta += c * x[i]
	}
	return math.Exp(eta)
}

func (r *Regression) signalLogPMF(y int, x [5]float64) float64 {
	mu := r.mean(x)
	if r.poisson {
		return Poisson{Lambda: mu}.LogPMF(y)
	}
	return MeanVarToNB(mu, mu/math.Max(r.Dispersion, 1e-6)).LogPMF(y)
}

func (r *Regression) backgroundLogPMF(y int) float64 {
	// The background component is a near-zero count process: a
	// Poisson with a small fixed rate, matching the "zero component"
	// described in §3 for both regression-mixture variants.
	return Poisson{Lambda: 0.01}.LogPMF(y)
}

func (r *Regression) rowLogProbs(row regressionRow) [2]float64 {
	return [2]float64{
		r.LogWeight[0] + r.backgroundLogPMF(row.y),
		r.LogWeight[1] + r.signalLogPMF(row.y, row.x),
	}
}

func (r *Regression) LogLikelihood(frame squash.Frame) (float64, error) {
	rows, err := r.rows(frame)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, row := range rows {
		lp := r.rowLogProbs(row)
		total += LogSumExp(lp[:])
	}
	return total, nil
}

func (r *Regression) Posteriors(frame squash.Frame) ([][]float64, error) {
	rows, err := r.rows(frame)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(rows))
	for t, row := range rows {
		lp := r.rowLogProbs(row)
		z := LogSumExp(lp[:])
		out[t] = []float64{lp[0] - z, lp[1] - z}
	}
	return out, nil
}

func (r *Regression) Predict(frame squash.Frame) ([]int, error) {
	post, err := r.Posteriors(frame)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(post))
	for t, row := range post {
		if row[1] > row[0] {
			out[t] = 1
		}
	}
	return out, nil
}

func (r *Regression) Sample(n int, rng *rand.Rand) (squash.Frame, error) {
	ys := make([]int, n)
	gc := make([]float64, n)
	gc2 := make([]float64, n)
	input := make([]float64, n)
	mapa := make([]float64, n)
	w := [2]float64{math.Exp(r.LogWeight[0]), math.Exp(r.LogWeight[1])}
	for i := 0; i < n; i++ {
		g := rng.Float64()
		gc[i] = g
		gc2[i] = g * g
		input[i] = rng.Float64() * 10
		mapa[i] = rng.Float64()
		x := [5]float64{1, gc[i], gc2[i], input[i], mapa[i]}
		if sampleCategorical(w[:], rng) == 0 {
			ys[i] = Poisson{Lambda: 0.01}.Sample(rng)
		} else {
			mu := r.mean(x)
			if r.poisson {
				ys[i] = Poisson{Lambda: mu}.Sample(rng)
			} else {
				ys[i] = MeanVarToNB(mu, mu/math.Max(r.Dispersion, 1e-6)).Sample(rng)
			}
		}
	}
	return squash.NewFrame(n,
		squash.Column{Name: "y", Kind: squash.Int, Ints: ys},
		squash.Column{Name: "GC", Kind: squash.Float64, Float64s: gc},
		squash.Column{Name: "GC2", Kind: squash.Float64, Float64s: gc2},
		squash.Column{Name: "input", Kind: squash.Float64, Float64s: input},
		squash.Column{Name: "mapability", Kind: squash.Float64, Float64s: mapa},
	)
}

// FitGLM refits the signal component's coefficients by weighted least
// squares of log(y+1) on the covariates (a linearized stand-in for a
// full IRLS Poisson/NB GLM, adequate for the mixture's M-step since
// responsibilities already carry the EM weighting).
func (r *Regression) FitGLM(frame squash.Frame, responsibilities [][]float64) error {
	rows, err := r.rows(frame)
	if err != nil {
		return err
	}
	n := len(rows)
	if n == 0 {
		return nil
	}
	const p = 5
	xtx := mat.NewDense(p, p, nil)
	xty := mat.NewVecDense(p, nil)
	for i, row := range rows {
		w := responsibilities[i][1]
		if w <= 0 {
			continue
		}
		target := math.Log(float64(row.y) + 1)
		for a := 0; a < p; a++ {
			xty.SetVec(a, xty.AtVec(a)+w*row.x[a]*target)
			for b := 0; b < p; b++ {
				xtx.Set(a, b, xtx.At(a, b)+w*row.x[a]*row.x[b])
			}
		}
	}
	for i := 0; i < p; i++ {
		xtx.Set(i, i, xtx.At(i, i)+1e-6)
	}
	var coef mat.VecDense
	if err := coef.SolveVec(xtx, xty); err != nil {
		return fmt.Errorf("model: regression: GLM solve failed: %w", err)
	}
	for i := 0; i < p; i++ {
		r.Coef[i] = coef.AtVec(i)
	}
	return nil
}

// EMStep performs one EM iteration for the regression mixture.
func (r *Regression) EMStep(frame squash.Frame) (float64, error) {
	rows, err := r.rows(frame)
	if err != nil {
		return 0, err
	}
	n := len(rows)
	if n == 0 {
		return math.Inf(-1), nil
	}
	resp := make([][]float64, n)
	ll := 0.0
	for i, row := range rows {
		lp := r.rowLogProbs(row)
		z := LogSumExp(lp[:])
		ll += z
		resp[i] = []float64{math.Exp(lp[0] - z), math.Exp(lp[1] - z)}
	}

	w0, w1 := 0.0, 0.0
	for _, rr := range resp {
		w0 += rr[0]
		w1 += rr[1]
	}
	if w0+w1 > 0 {
		r.LogWeight[0] = math.Log(w0 / float64(n))
		r.LogWeight[1] = math.Log(w1 / float64(n))
		normalizeLogVector(r.LogWeight[:])
	}

	if err := r.FitGLM(frame, resp); err != nil {
		return 0, err
	}

	if !r.poisson {
		// Update the shared dispersion to the signal component's
		// weighted mean-to-residual-variance ratio.
		num, den := 0.0, 0.0
		for i, row := range rows {
			mu := r.mean(row.x)
			d := float64(row.y) - mu
			num += resp[i][1] * d * d
			den += resp[i][1] * mu
		}
		if den > 0 && num > den {
			r.Dispersion = den / num
		}
	}

	return ll, nil
}
