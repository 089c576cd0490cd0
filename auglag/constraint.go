// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auglag

import "math"

// Params holds the per-constraint augmented-Lagrangian tunables.
// A zero field takes its default at construction:
//   - PenaltyInitial = 1
//   - PenaltyScaling = 10
//   - PenaltyMax, DualMax = 𝙼𝚊𝚡𝙵𝚕𝚘𝚊𝚝
type Params struct {
	// The initial penalty value μ₀ > 0.
	PenaltyInitial float64
	// The penalty upper bound: μ ≤ μₘₐₓ.
	PenaltyMax float64
	// The geometric penalty growth factor φ > 1.
	PenaltyScaling float64
	// The multiplier magnitude bound: |λ| ≤ λₘₐₓ.
	DualMax float64
}

func (p Params) withDefaults() Params {
	if p.PenaltyInitial == zero {
		p.PenaltyInitial = one
	}
	if p.PenaltyScaling == zero {
		p.PenaltyScaling = 10
	}
	if p.PenaltyMax == zero {
		p.PenaltyMax = math.MaxFloat64
	}
	if p.DualMax == zero {
		p.DualMax = math.MaxFloat64
	}
	return p
}

func (p Params) valid() bool {
	switch {
	case math.IsNaN(p.PenaltyInitial) || p.PenaltyInitial <= zero || p.PenaltyInitial > p.PenaltyMax:
		return false
	case math.IsNaN(p.PenaltyScaling) || p.PenaltyScaling <= one:
		return false
	case math.IsNaN(p.DualMax) || p.DualMax < zero:
		return false
	}
	return true
}

// Options carries the optional overrides consumed by Set.ResetWith.
// Float fields set to NaN keep the current per-record value.
type Options struct {
	DualMax        float64 // override λₘₐₓ
	PenaltyMax     float64 // override μₘₐₓ
	PenaltyInitial float64 // override μ₀
	PenaltyScaling float64 // override φ
	ResetDuals     bool    // zero all multipliers
	ResetPenalties bool    // restore all penalties to μ₀
}

// KeepParams returns an Options value whose overrides are all unset,
// suitable for requesting resets without touching any Params.
func KeepParams() Options {
	nan := math.NaN()
	return Options{DualMax: nan, PenaltyMax: nan, PenaltyInitial: nan, PenaltyScaling: nan}
}

// Constraint describes one registered constraint: its identity, shape and
// the timesteps it applies to. Evaluation and differentiation of the
// underlying function stay with the caller.
type Constraint struct {
	// Display name used by diagnostics. Defaults to "con<k>".
	Name string
	// Stable identity assigned by the constraint registry.
	// Records with equal non-zero ID are treated as the same physical
	// constraint by Link. Zero means never linkable.
	ID int
	// Sense of the constraint (equality or inequality).
	Sense Sense
	// Kind determines the populated expansion blocks.
	Kind Kind
	// Dim is the constraint output dimension p.
	Dim int
	// Indices are the trajectory timesteps the constraint applies to,
	// strictly ascending and non-negative.
	Indices []int
	// Params are the augmented-Lagrangian tunables.
	Params Params
}

// Record is the per-constraint storage bundle: residuals, Jacobians,
// multipliers, penalties and active mask across the constraint's timesteps.
// All per-entry quantities live in flat buffers with fixed stride.
type Record struct {
	name  string
	id    int
	sense Sense
	kind  Kind
	p     int   // output dimension
	jw    int   // jacobian width
	inds  []int // timestep indices

	params Params // never aliased by Link

	vals   []float64 // len(inds)×p residuals
	jacs   []float64 // len(inds)×p×jw row-major jacobians
	lambda []float64 // len(inds)×p multipliers
	mu     []float64 // len(inds)×p penalties
	active []bool    // len(inds)×p mask
}

func newRecord(c Constraint, jw int) *Record {
	ne, p := len(c.Indices), c.Dim
	pe := ne * p

	// single backing buffer carved by offset
	buf := make([]float64, pe*(3+jw))
	r := &Record{
		name:   c.Name,
		id:     c.ID,
		sense:  c.Sense,
		kind:   c.Kind,
		p:      p,
		jw:     jw,
		inds:   append([]int(nil), c.Indices...),
		params: c.Params,
		vals:   buf[:pe],
		lambda: buf[pe : 2*pe],
		mu:     buf[2*pe : 3*pe],
		jacs:   buf[3*pe:],
		active: make([]bool, pe),
	}

	dfill(c.Params.PenaltyInitial, r.mu)
	if c.Sense == Equality {
		for i := range r.active {
			r.active[i] = true
		}
	}
	return r
}

// Name returns the diagnostic name of the constraint.
func (r *Record) Name() string { return r.name }

// Sense returns the constraint sense.
func (r *Record) Sense() Sense { return r.sense }

// Kind returns the constraint kind.
func (r *Record) Kind() Kind { return r.kind }

// Dim returns the constraint output dimension p.
func (r *Record) Dim() int { return r.p }

// Len returns the number of timestep entries.
func (r *Record) Len() int { return len(r.inds) }

// Step returns the trajectory timestep of entry i.
func (r *Record) Step(i int) int { return r.inds[i] }

// Value returns the mutable residual vector of entry i
// for the external evaluator to fill.
func (r *Record) Value(i int) []float64 {
	return r.vals[i*r.p : (i+1)*r.p : (i+1)*r.p]
}

// Jacobian returns the mutable p×w row-major Jacobian of entry i
// for the external evaluator to fill.
func (r *Record) Jacobian(i int) []float64 {
	s := r.p * r.jw
	return r.jacs[i*s : (i+1)*s : (i+1)*s]
}

// Dual returns the multiplier vector of entry i.
func (r *Record) Dual(i int) []float64 {
	return r.lambda[i*r.p : (i+1)*r.p : (i+1)*r.p]
}

// Penalty returns the penalty vector of entry i.
func (r *Record) Penalty(i int) []float64 {
	return r.mu[i*r.p : (i+1)*r.p : (i+1)*r.p]
}

// Active returns the active mask of entry i.
func (r *Record) Active(i int) []bool {
	return r.active[i*r.p : (i+1)*r.p : (i+1)*r.p]
}

// Params returns the current tunables of the record.
func (r *Record) Params() Params { return r.params }

// dualUpdate performs one multiplier ascent step over every entry:
//
//	λ ← 𝚌𝚕𝚊𝚖𝚙(λ + μ⊙𝒄, λₘᵢₙ, λₘₐₓ)
//
// with λₘᵢₙ = -λₘₐₓ for equality sense and 0 for inequality sense.
func (r *Record) dualUpdate() {
	lmax := r.params.DualMax
	lmin := zero
	if r.sense == Equality {
		lmin = -lmax
	}
	for i, c := range r.vals {
		r.lambda[i] = clamp(r.lambda[i]+r.mu[i]*c, lmin, lmax)
	}
}

// penaltyUpdate grows every penalty by the schedule μ ← 𝚖𝚒𝚗(φμ, μₘₐₓ).
func (r *Record) penaltyUpdate() {
	phi, mmax := r.params.PenaltyScaling, r.params.PenaltyMax
	for i, m := range r.mu {
		r.mu[i] = clamp(phi*m, zero, mmax)
	}
}

// updateActive refreshes the mask of an inequality record:
// a component is enforced when violated within tolerance or when it
// still carries positive multiplier mass. Equality records stay all-true.
func (r *Record) updateActive(tol float64) {
	if r.sense == Equality {
		return
	}
	for i, c := range r.vals {
		r.active[i] = c >= -tol || r.lambda[i] > zero
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
