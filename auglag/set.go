// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auglag

import (
	"errors"
	"fmt"
	"math"
)

// Set maintains the augmented-Lagrangian state of every registered
// constraint along one discrete-time trajectory.
//
// The augmented Lagrangian attaches to the original objective, for every
// constraint 𝒄 at every applicable timestep k, the term
//
//	ℒᴬ(𝐱ₖ,𝐮ₖ) = 𝛌ᵀ𝒄 + ½ 𝒄ᵀ𝐈μ𝒄   with  𝐈μ = 𝚍𝚒𝚊𝚐(𝛍 ⊙ 𝐚)
//
// where 𝛌 is the multiplier estimate, 𝛍 the penalty weights and 𝐚 the
// active mask (all-true for equality sense). Between outer primal solves
// the multipliers ascend on the residual and the penalties grow
// geometrically:
//
//	𝛌 ← 𝚌𝚕𝚊𝚖𝚙(𝛌 + 𝛍 ⊙ 𝒄, 𝛌ₘᵢₙ, 𝛌ₘₐₓ)
//	𝛍 ← 𝚖𝚒𝚗(φ𝛍, 𝛍ₘₐₓ)
//
// The set owns no trajectory state: the outer loop evaluates constraint
// residuals and Jacobians into the records, then calls, in order, per
// iteration:
//
//	evaluate → Cost / CostExpansion → primal step → re-evaluate →
//	DualUpdate → PenaltyUpdate → UpdateActiveSet → reporters
//
// Cost and CostExpansion must therefore see the residual, multiplier and
// penalty values from before the same iteration's dual/penalty update;
// this ordering is a caller obligation, not enforced here.
//
// All storage is sized once at construction and mutated in place.
// The set is not safe for concurrent use.
type Set struct {
	nx, nu  int
	horizon int
	recs    []*Record
	cmax    []float64 // per-record violation norm cache
	pmax    []float64 // per-record max penalty cache
	wg, ws  []float64 // scratch, max p
}

// Model describes the trajectory dimensions the constraints close over.
type Model struct {
	NX int // state dimension n
	NU int // control dimension m
}

// Problem specifies the constraint set attached to one trajectory solve.
type Problem struct {
	Model Model
	Cons  []Constraint
}

// New validates the registry and allocates the constraint set.
// Record order follows registration order.
func (p *Problem) New() (set *Set, err error) {

	nx, nu := p.Model.NX, p.Model.NU

	switch {
	case nx <= 0:
		err = errors.New("state dimension must greater than 0")
	case nu < 0:
		err = errors.New("control dimension must not less than 0")
	case len(p.Cons) == 0:
		err = errors.New("at least one constraint is required")
	}
	if err != nil {
		return
	}

	cons := append([]Constraint(nil), p.Cons...)
	ids := make(map[int]int, len(cons))
	for k := range cons {
		c := &cons[k]
		if c.Name == "" {
			c.Name = fmt.Sprintf("con%d", k)
		}
		c.Params = c.Params.withDefaults()

		switch {
		case c.Dim <= 0:
			err = fmt.Errorf("constraint %d: output dimension must greater than 0", k)
		case len(c.Indices) == 0:
			err = fmt.Errorf("constraint %d: at least one timestep index is required", k)
		case c.Sense != Equality && c.Sense != Inequality:
			err = fmt.Errorf("constraint %d: unknown sense", k)
		case c.Kind < StateOnly || c.Kind > Coupled:
			err = fmt.Errorf("constraint %d: unknown kind", k)
		case c.Kind == ControlOnly && nu == 0:
			err = fmt.Errorf("constraint %d: control constraint over zero control dimension", k)
		case !c.Params.valid():
			err = fmt.Errorf("constraint %d: params must satisfy 0 < μ₀ ≤ μₘₐₓ, φ > 1, λₘₐₓ ≥ 0", k)
		}
		if err != nil {
			return
		}

		for i, t := range c.Indices {
			if t < 0 || (i > 0 && t <= c.Indices[i-1]) {
				err = fmt.Errorf("constraint %d: timestep indices must be ascending and non-negative", k)
				return
			}
		}

		if c.ID != 0 {
			if dup, ok := ids[c.ID]; ok {
				err = fmt.Errorf("constraint %d: identity %d already used by constraint %d", k, c.ID, dup)
				return
			}
			ids[c.ID] = k
		}
	}

	set = &Set{nx: nx, nu: nu}
	maxp := 0
	for _, c := range cons {
		jw := nx + nu
		switch c.Kind {
		case StateOnly:
			jw = nx
		case ControlOnly:
			jw = nu
		}
		set.recs = append(set.recs, newRecord(c, jw))
		maxp = max(maxp, c.Dim)
		if last := c.Indices[len(c.Indices)-1]; last >= set.horizon {
			set.horizon = last + 1
		}
	}
	set.cmax = make([]float64, len(set.recs))
	set.pmax = make([]float64, len(set.recs))
	set.wg = make([]float64, maxp)
	set.ws = make([]float64, maxp)
	return
}

// Len returns the number of records.
func (s *Set) Len() int { return len(s.recs) }

// Horizon returns the exclusive upper bound of all timestep indices,
// i.e. the minimum length of any caller-owned per-timestep storage.
func (s *Set) Horizon() int { return s.horizon }

// Record returns the i-th record in registration order.
func (s *Set) Record(i int) *Record { return s.recs[i] }

// Find returns the first record with the given name, or nil.
func (s *Set) Find(name string) *Record {
	for _, r := range s.recs {
		if r.name == name {
			return r
		}
	}
	return nil
}

// DualUpdate performs one multiplier ascent step on every record.
// Residuals must have been re-evaluated since the last call: repeating
// the call with stale residuals keeps incrementing the multipliers.
func (s *Set) DualUpdate() {
	for _, r := range s.recs {
		r.dualUpdate()
	}
}

// PenaltyUpdate grows every penalty by its record schedule μ ← 𝚖𝚒𝚗(φμ, μₘₐₓ).
func (s *Set) PenaltyUpdate() {
	for _, r := range s.recs {
		r.penaltyUpdate()
	}
}

// UpdateActiveSet refreshes the active mask of every inequality record
// with tolerance tol ≥ 0. Equality records stay fully active.
func (s *Set) UpdateActiveSet(tol float64) {
	for _, r := range s.recs {
		r.updateActive(tol)
	}
}

// Cost accumulates the augmented-Lagrangian term of every record entry
// into the caller-owned per-timestep cost J:
//
//	J[k] += 𝛌ᵀ𝒄 + ½ 𝒄ᵀ𝐈μ𝒄
//
// J is only ever added to, so multiple cost terms may share it.
// Call before DualUpdate/PenaltyUpdate of the same iteration.
func (s *Set) Cost(J []float64) {
	if len(J) < s.horizon {
		panic("cost buffer dimension not match set")
	}
	for _, r := range s.recs {
		p := r.p
		for i, k := range r.inds {
			c := r.vals[i*p : (i+1)*p]
			lam := r.lambda[i*p : (i+1)*p]
			mu := r.mu[i*p : (i+1)*p]
			act := r.active[i*p : (i+1)*p]

			pen := zero
			for j, cj := range c {
				if act[j] {
					pen += mu[j] * cj * cj
				}
			}
			J[k] += ddot(p, lam, 1, c, 1) + half*pen
		}
	}
}

// Quadratic is caller-owned per-timestep storage for the quadratic
// expansion of the trajectory cost. Blocks are flat and row-major,
// one per timestep:
//   - Q : n×n state Hessian blocks
//   - Qx: n state gradient blocks
//   - R : m×m control Hessian blocks
//   - Ru: m control gradient blocks
//   - H : m×n control-state cross blocks
//
// Every block is accumulated into, never overwritten.
type Quadratic struct {
	NX, NU int
	Q, Qx  []float64
	R, Ru  []float64
	H      []float64
}

// NewQuadratic allocates zeroed expansion storage for the given horizon.
func NewQuadratic(nx, nu, horizon int) *Quadratic {
	return &Quadratic{
		NX: nx, NU: nu,
		Q:  make([]float64, horizon*nx*nx),
		Qx: make([]float64, horizon*nx),
		R:  make([]float64, horizon*nu*nu),
		Ru: make([]float64, horizon*nu),
		H:  make([]float64, horizon*nu*nx),
	}
}

// CostExpansion accumulates the quadratic expansion of the
// augmented-Lagrangian term of every record entry into e:
//
//	𝐠 = 𝐈μ𝒄 + 𝛌
//	Q[k] += ∇𝒄ₓᵀ𝐈μ∇𝒄ₓ   Qx[k] += ∇𝒄ₓᵀ𝐠
//	R[k] += ∇𝒄ᵤᵀ𝐈μ∇𝒄ᵤ   Ru[k] += ∇𝒄ᵤᵀ𝐠
//	H[k] += ∇𝒄ᵤᵀ𝐈μ∇𝒄ₓ
//
// populating only the blocks selected by each record's Kind.
// A Coupled record cannot be expanded stage-wise and yields an error
// before any accumulation happens.
// Call before DualUpdate/PenaltyUpdate of the same iteration.
func (s *Set) CostExpansion(e *Quadratic) error {
	nx, nu := s.nx, s.nu
	if e.NX != nx || e.NU != nu ||
		len(e.Q) < s.horizon*nx*nx || len(e.Qx) < s.horizon*nx ||
		len(e.R) < s.horizon*nu*nu || len(e.Ru) < s.horizon*nu ||
		len(e.H) < s.horizon*nu*nx {
		panic("expansion buffer dimension not match set")
	}

	for _, r := range s.recs {
		if r.kind == Coupled {
			return fmt.Errorf("coupled constraint %q not expandable per stage", r.name)
		}
	}

	for _, r := range s.recs {
		for i, k := range r.inds {
			s.expandEntry(r, i, k, e)
		}
	}
	return nil
}

// expandEntry accumulates the expansion blocks of record entry i at
// timestep k. The Jacobian of a stage-coupled record is split column-wise
// into its state part ∇𝒄ₓ (first n columns) and control part ∇𝒄ᵤ.
func (s *Set) expandEntry(r *Record, i, k int, e *Quadratic) {
	p, jw := r.p, r.jw
	nx, nu := s.nx, s.nu

	c := r.vals[i*p : (i+1)*p]
	lam := r.lambda[i*p : (i+1)*p]
	mu := r.mu[i*p : (i+1)*p]
	act := r.active[i*p : (i+1)*p]
	jac := r.jacs[i*p*jw : (i+1)*p*jw]

	// 𝐠 = 𝐈μ𝒄 + 𝛌
	g := s.wg[:p]
	for j, cj := range c {
		g[j] = lam[j]
		if act[j] {
			g[j] += mu[j] * cj
		}
	}

	// hess accumulates 𝐁 += ∇𝒄ᵣᵀ𝐈μ∇𝒄ᵦ and 𝐛 += ∇𝒄ᵦᵀ𝐠 where the row block
	// ∇𝒄ᵣ starts at column ro and the b block ∇𝒄ᵦ at column bo.
	w := s.ws[:p]
	hess := func(B, b []float64, ro, rn, bo, bn int) {
		for y := 0; y < bn; y++ {
			col := jac[bo+y:]
			for j := 0; j < p; j++ {
				if act[j] {
					w[j] = mu[j] * col[j*jw]
				} else {
					w[j] = zero
				}
			}
			for x := 0; x < rn; x++ {
				B[x*bn+y] += ddot(p, jac[ro+x:], jw, w, 1)
			}
			b[y] += ddot(p, col, jw, g, 1)
		}
	}

	switch r.kind {
	case StateOnly:
		hess(e.Q[k*nx*nx:], e.Qx[k*nx:], 0, nx, 0, nx)
	case ControlOnly:
		hess(e.R[k*nu*nu:], e.Ru[k*nu:], 0, nu, 0, nu)
	case StageCoupled:
		hess(e.Q[k*nx*nx:], e.Qx[k*nx:], 0, nx, 0, nx)
		hess(e.R[k*nu*nu:], e.Ru[k*nu:], nx, nu, nx, nu)
		// cross block 𝐇 += ∇𝒄ᵤᵀ𝐈μ∇𝒄ₓ
		H := e.H[k*nu*nx:]
		for y := 0; y < nx; y++ {
			col := jac[y:]
			for j := 0; j < p; j++ {
				if act[j] {
					w[j] = mu[j] * col[j*jw]
				} else {
					w[j] = zero
				}
			}
			for x := 0; x < nu; x++ {
				H[x*nx+y] += ddot(p, jac[nx+x:], jw, w, 1)
			}
		}
	}
}

// ResetDuals zeroes every multiplier.
func (s *Set) ResetDuals() {
	for _, r := range s.recs {
		dzero(r.lambda)
	}
}

// ResetPenalties restores every penalty to its record's current μ₀.
func (s *Set) ResetPenalties() {
	for _, r := range s.recs {
		dfill(r.params.PenaltyInitial, r.mu)
	}
}

// Reset zeroes all multipliers and restores all penalties.
func (s *Set) Reset() {
	s.ResetDuals()
	s.ResetPenalties()
}

// ResetWith overwrites every record's Params field for which the
// corresponding option is set (non-NaN), then performs the requested
// resets. Unset fields keep their per-record values.
func (s *Set) ResetWith(o Options) {
	for _, r := range s.recs {
		if !math.IsNaN(o.DualMax) {
			r.params.DualMax = o.DualMax
		}
		if !math.IsNaN(o.PenaltyMax) {
			r.params.PenaltyMax = o.PenaltyMax
		}
		if !math.IsNaN(o.PenaltyInitial) {
			r.params.PenaltyInitial = o.PenaltyInitial
		}
		if !math.IsNaN(o.PenaltyScaling) {
			r.params.PenaltyScaling = o.PenaltyScaling
		}
	}
	if o.ResetDuals {
		s.ResetDuals()
	}
	if o.ResetPenalties {
		s.ResetPenalties()
	}
}

// Link rebinds every record of s1 whose constraint identity also appears
// in s2 so that its residual, Jacobian, multiplier, penalty and active
// storage alias the matching record of s2. After linking, a mutation
// through either set is visible through both. Params stay per-record.
// Records with zero ID never match. The matched (i, j) index pairs are
// returned for verification.
func Link(s1, s2 *Set) ([][2]int, error) {
	var pairs [][2]int
	for i, a := range s1.recs {
		if a.id == 0 {
			continue
		}
		for j, b := range s2.recs {
			if b.id != a.id {
				continue
			}
			if a.p != b.p || a.jw != b.jw || len(a.inds) != len(b.inds) {
				return nil, fmt.Errorf("linked constraint %q dimensions not match", a.name)
			}
			a.vals = b.vals
			a.jacs = b.jacs
			a.lambda = b.lambda
			a.mu = b.mu
			a.active = b.active
			pairs = append(pairs, [2]int{i, j})
			break
		}
	}
	return pairs, nil
}
