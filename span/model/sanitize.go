// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"fmt"

	"github.com/kortschak/span/span/spanlog"
)

// ErrIrrecoverableFit is returned when state-flip sanitization finds
// replicates that disagree on whether a swap is needed (§4.5 step 3,
// §7).
var ErrIrrecoverableFit = fmt.Errorf("model: irrecoverable fit")

// Sanitize applies state-flip sanitization to an HMM in place (§4.5).
// It is idempotent: calling it twice in a row is equivalent to calling
// it once (§8 law 6), because after a swap the low/high emissions no
// longer satisfy the swap-needed predicate.
func Sanitize(h *HMM, log *spanlog.Logger) error {
	li := indexOf(h.states, StateLow)
	hiIdx := indexOf(h.states, StateHigh)
	if li < 0 || hiIdx < 0 {
		return nil // variant has no low/high pair (e.g. plain NB_HMM_K)
	}

	needSwap := false
	anySwap, anyNoSwap := false, false
	meansOnly, probsOnly := false, false
	for trk := range h.tracks {
		lowMean, lowP := h.Emit[li][trk].mean(), h.Emit[li][trk].p()
		hiMean, hiP := h.Emit[hiIdx][trk].mean(), h.Emit[hiIdx][trk].p()
		meanInverted := lowMean > hiMean
		probInverted := lowP > hiP
		switch {
		case meanInverted && probInverted:
			anySwap = true
		case !meanInverted && !probInverted:
			anyNoSwap = true
		case meanInverted:
			meansOnly = true
		default:
			probsOnly = true
		}
	}
	if anySwap && anyNoSwap {
		return fmt.Errorf("%w: replicates disagree on low/high ordering", ErrIrrecoverableFit)
	}
	needSwap = anySwap

	if meansOnly {
		log.Warnf("model: sanitize: only state means are inverted for low/high; data may be low quality")
	}
	if probsOnly {
		log.Warnf("model: sanitize: only state success probabilities are inverted for low/high; data may be low quality")
	}

	if !needSwap {
		return nil
	}
	probabilityFlip(h, li, hiIdx)
	return nil
}

func indexOf(states []string, label string) int {
	for i, s := range states {
		if s == label {
			return i
		}
	}
	return -1
}

// probabilityFlip swaps states i and j: their emission schemes, their
// prior probabilities, and row i/row j plus column i/column j of the
// log-transition matrix (§4.5 step 2).
func probabilityFlip(h *HMM, i, j int) {
	h.Emit[i], h.Emit[j] = h.Emit[j], h.Emit[i]
	h.LogPrior[i], h.LogPrior[j] = h.LogPrior[j], h.LogPrior[i]

	k := len(h.states)
	for c := 0; c < k; c++ {
		h.LogTrans[i][c], h.LogTrans[j][c] = h.LogTrans[j][c], h.LogTrans[i][c]
	}
	for r := 0; r < k; r++ {
		h.LogTrans[r][i], h.LogTrans[r][j] = h.LogTrans[r][j], h.LogTrans[r][i]
	}
}
