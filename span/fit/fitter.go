// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fit drives expectation-maximization to convergence for any
// Model Family member (§4.6): multistart initialization search, a
// convergence check on relative log-likelihood improvement, and
// cancellation polling so long fits can be aborted between iterations.
package fit

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/kortschak/span/span/config"
	"github.com/kortschak/span/span/model"
	"github.com/kortschak/span/span/spanlog"
	"github.com/kortschak/span/span/squash"
)

// ErrCancelled is returned when ctx is done before the fit converges.
var ErrCancelled = fmt.Errorf("fit: cancelled")

// emStepper is implemented by every concrete Model Family member; it is
// kept unexported and separate from model.Model because EMStep mutates
// the receiver in place and isn't a capability every caller of
// model.Model needs to see.
type emStepper interface {
	model.Model
	EMStep(frame squash.Frame) (float64, error)
}

// Result is the outcome of a completed fit.
type Result struct {
	Model        model.Model
	LogLikelihood float64
	Iterations   int
}

// Initializer builds a freshly-parameterized, randomly perturbed model
// ready for EM, given a random source. This package supplies one per
// Model Family shape (see HMMInit, MixtureInit, RegressionInit).
type Initializer func(rng *rand.Rand) emStepper

// Fit runs the multistart-then-refine EM search described in §4.6:
// Options.Multistarts independent random initializations are each
// advanced for Options.MultistartIterations iterations, the
// highest-likelihood survivor is advanced to full convergence (up to
// Options.MaxIterations, stopping when relative improvement drops below
// Options.Threshold), and — for HMM family members — state-flip
// sanitization is applied before returning.
func Fit(ctx context.Context, frame squash.Frame, init Initializer, opts config.Options, seed uint64, log *spanlog.Logger) (Result, error) {
	if log == nil {
		log = spanlog.Discard()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	best, bestLL, err := multistart(ctx, frame, init, opts, rng, log)
	if err != nil {
		return Result{}, err
	}

	iters, finalLL, err := converge(ctx, best, frame, opts.MaxIterations, opts.Threshold, log)
	if err != nil {
		return Result{}, err
	}
	if finalLL > bestLL {
		bestLL = finalLL
	}

	if h, ok := best.(*model.HMM); ok {
		if err := model.Sanitize(h, log); err != nil {
			return Result{}, fmt.Errorf("fit: %w", err)
		}
		checkSignalToNoise(h, log)
	}

	return Result{Model: best, LogLikelihood: bestLL, Iterations: iters}, nil
}

// checkSignalToNoise warns (§7 LowSignalToNoise, a soft diagnostic that
// never fails the fit) when the fitted prior has collapsed onto a
// single state: a sign that the data carried too little signal for the
// EM search to separate states in a meaningful way.
func checkSignalToNoise(h *model.HMM, log *spanlog.Logger) {
	const collapseThreshold = 0.99
	for _, lp := range h.LogPrior {
		if math.Exp(lp) >= collapseThreshold {
			log.Warnf("fit: LowSignalToNoise: fitted prior has collapsed onto a single state; the input may carry too little signal to segment")
			return
		}
	}
}

// multistart tries opts.Multistarts random initializations (at least
// one, the Initializer's own default start, when Multistarts is 0),
// running each for opts.MultistartIterations EM steps, and returns the
// one with the highest log-likelihood.
func multistart(ctx context.Context, frame squash.Frame, init Initializer, opts config.Options, rng *rand.Rand, log *spanlog.Logger) (emStepper, float64, error) {
	n := opts.Multistarts
	if n < 1 {
		n = 1
	}

	var best emStepper
	bestLL := math.Inf(-1)
	for s := 0; s < n; s++ {
		if err := checkCancelled(ctx); err != nil {
			return nil, 0, err
		}
		candidate := init(rng)
		_, ll, err := converge(ctx, candidate, frame, opts.MultistartIterations, opts.Threshold, log)
		if err != nil {
			return nil, 0, err
		}
		log.Printf("fit: multistart %d/%d log-likelihood %.4f", s+1, n, ll)
		if ll > bestLL {
			best, bestLL = candidate, ll
		}
	}
	return best, bestLL, nil
}

// converge runs up to maxIter EM steps on m, stopping early once the
// relative improvement in log-likelihood falls below threshold (§4.6,
// §8: the EM sequence is non-decreasing, so this is a sound stopping
// rule). It returns the number of iterations actually run and the final
// log-likelihood.
func converge(ctx context.Context, m emStepper, frame squash.Frame, maxIter int, threshold float64, log *spanlog.Logger) (int, float64, error) {
	prev := math.Inf(-1)
	iters := 0
	for i := 0; i < maxIter; i++ {
		if err := checkCancelled(ctx); err != nil {
			return iters, prev, err
		}
		ll, err := m.EMStep(frame)
		if err != nil {
			return iters, prev, fmt.Errorf("fit: em step %d: %w", i, err)
		}
		if math.IsNaN(ll) {
			return iters, prev, fmt.Errorf("fit: em step %d: %w: log-likelihood is NaN", i, model.ErrIrrecoverableFit)
		}
		iters++
		if !math.IsInf(prev, -1) {
			rel := math.Abs(ll-prev) / math.Max(1, math.Abs(prev))
			if rel < threshold {
				return iters, ll, nil
			}
		}
		prev = ll
	}
	return iters, prev, nil
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	default:
		return nil
	}
}
