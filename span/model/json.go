// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"encoding/json"
	"fmt"
)

// wireEmission is the JSON shape of a single Emission.
type wireEmission struct {
	IsZI bool    `json:"zero_inflated"`
	Pi   float64 `json:"pi,omitempty"`
	Mu   float64 `json:"mu"`
	P    float64 `json:"p"`
}

func toWire(e Emission) wireEmission {
	if e.IsZI {
		return wireEmission{IsZI: true, Pi: e.ZI.Pi, Mu: e.ZI.NB.Mu, P: e.ZI.NB.P}
	}
	return wireEmission{Mu: e.Plain.Mu, P: e.Plain.P}
}

func fromWire(w wireEmission) Emission {
	if w.IsZI {
		return Emission{IsZI: true, ZI: ZeroInflated{Pi: w.Pi, NB: NB{Mu: w.Mu, P: w.P}}}
	}
	return Emission{Plain: NB{Mu: w.Mu, P: w.P}}
}

// hmmRecord is the model.json shape for HMM variants (§6: class
// discriminator, per-variant parameter block, arrays of doubles;
// matrices as arrays of arrays).
type hmmRecord struct {
	Class     string           `json:"model.class"`
	Variant   string           `json:"variant"`
	States    []string         `json:"states"`
	Tracks    []string         `json:"tracks"`
	ZeroState bool             `json:"zero_state"`
	LogPrior  []float64        `json:"log_prior"`
	LogTrans  [][]float64      `json:"log_transitions"`
	Emit      [][]wireEmission `json:"emissions"`
}

const hmmClass = "org.jetbrains.bioinformatics.span.NBHMM"

// MarshalJSON encodes h as model.json.
func (h *HMM) MarshalJSON() ([]byte, error) {
	rec := hmmRecord{
		Class:     hmmClass,
		Variant:   h.variant.String(),
		States:    h.states,
		Tracks:    h.tracks,
		ZeroState: h.zeroState,
		LogPrior:  h.LogPrior,
		LogTrans:  h.LogTrans,
	}
	rec.Emit = make([][]wireEmission, len(h.Emit))
	for i, row := range h.Emit {
		rec.Emit[i] = make([]wireEmission, len(row))
		for j, e := range row {
			rec.Emit[i][j] = toWire(e)
		}
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes h from model.json.
func (h *HMM) UnmarshalJSON(data []byte) error {
	var rec hmmRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("model: decoding hmm model.json: %w", err)
	}
	if rec.Class != hmmClass {
		return fmt.Errorf("model: unexpected model.json class %q", rec.Class)
	}
	variant, err := parseVariant(rec.Variant)
	if err != nil {
		return err
	}
	h.variant = variant
	h.states = rec.States
	h.tracks = rec.Tracks
	h.zeroState = rec.ZeroState
	h.LogPrior = rec.LogPrior
	h.LogTrans = rec.LogTrans
	h.Emit = make([][]Emission, len(rec.Emit))
	for i, row := range rec.Emit {
		h.Emit[i] = make([]Emission, len(row))
		for j, w := range row {
			h.Emit[i][j] = fromWire(w)
		}
	}
	return nil
}

func parseVariant(s string) (Variant, error) {
	for v := NB_ZLH_HMM; v <= NB_REGR_MIXTURE; v++ {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("model: unknown variant %q", s)
}

// mixtureRecord is the model.json shape for NB_MIXTURE.
type mixtureRecord struct {
	Class     string    `json:"model.class"`
	States    []string  `json:"states"`
	LogWeight []float64 `json:"log_weight"`
	Mu        []float64 `json:"mu"`
	P         []float64 `json:"p"`
}

const mixtureClass = "org.jetbrains.bioinformatics.span.NBMixture"

func (m *Mixture) MarshalJSON() ([]byte, error) {
	rec := mixtureRecord{Class: mixtureClass, States: m.states, LogWeight: m.LogWeight}
	for _, c := range m.Comp {
		rec.Mu = append(rec.Mu, c.Mu)
		rec.P = append(rec.P, c.P)
	}
	return json.Marshal(rec)
}

func (m *Mixture) UnmarshalJSON(data []byte) error {
	var rec mixtureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("model: decoding mixture model.json: %w", err)
	}
	if rec.Class != mixtureClass {
		return fmt.Errorf("model: unexpected model.json class %q", rec.Class)
	}
	m.states = rec.States
	m.LogWeight = rec.LogWeight
	m.Comp = make([]NB, len(rec.Mu))
	for i := range rec.Mu {
		m.Comp[i] = NB{Mu: rec.Mu[i], P: rec.P[i]}
	}
	return nil
}

// regressionRecord is the model.json shape for the regression-mixture
// variants.
type regressionRecord struct {
	Class      string     `json:"model.class"`
	Poisson    bool       `json:"poisson"`
	LogWeight  [2]float64 `json:"log_weight"`
	Coef       [5]float64 `json:"coefficients"`
	Dispersion float64    `json:"dispersion"`
}

const regressionClass = "org.jetbrains.bioinformatics.span.RegressionMixture"

func (r *Regression) MarshalJSON() ([]byte, error) {
	rec := regressionRecord{
		Class:      regressionClass,
		Poisson:    r.poisson,
		LogWeight:  r.LogWeight,
		Coef:       r.Coef,
		Dispersion: r.Dispersion,
	}
	return json.Marshal(rec)
}

func (r *Regression) UnmarshalJSON(data []byte) error {
	var rec regressionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("model: decoding regression model.json: %w", err)
	}
	if rec.Class != regressionClass {
		return fmt.Errorf("model: unexpected model.json class %q", rec.Class)
	}
	r.poisson = rec.Poisson
	r.LogWeight = rec.LogWeight
	r.Coef = rec.Coef
	r.Dispersion = rec.Dispersion
	return nil
}

// Save encodes any family member to its model.json bytes, by trying
// each concrete type's MarshalJSON (the sum-type stand-in for a
// polymorphic serializer, per §9).
func Save(m Model) ([]byte, error) {
	switch v := m.(type) {
	case *HMM:
		return v.MarshalJSON()
	case *Mixture:
		return v.MarshalJSON()
	case *Regression:
		return v.MarshalJSON()
	default:
		return nil, fmt.Errorf("model: unsupported model type %T", m)
	}
}

// classProbe is used to sniff the model.json class discriminator
// before picking a concrete type to decode into.
type classProbe struct {
	Class string `json:"model.class"`
}

// Load decodes model.json bytes into the appropriate concrete type.
func Load(data []byte) (Model, error) {
	var probe classProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("model: sniffing model.json class: %w", err)
	}
	switch probe.Class {
	case hmmClass:
		h := &HMM{}
		if err := h.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return h, nil
	case mixtureClass:
		mx := &Mixture{}
		if err := mx.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return mx, nil
	case regressionClass:
		r := &Regression{}
		if err := r.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("model: unknown model.json class %q", probe.Class)
	}
}
