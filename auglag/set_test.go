// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auglag

import (
	"math"
	"reflect"
	"testing"
)

func oneEqCon(lmax, mmax float64) Problem {
	return Problem{
		Model: Model{NX: 2, NU: 1},
		Cons: []Constraint{{
			Name:    "goal",
			Sense:   Equality,
			Kind:    StateOnly,
			Dim:     1,
			Indices: []int{0},
			Params:  Params{PenaltyInitial: 1, PenaltyScaling: 10, PenaltyMax: mmax, DualMax: lmax},
		}},
	}
}

// Scenario: one equality constraint, p=1, one timestep, 𝒄 = 0.5, μ₀ = 1, φ = 10.
// The multiplier ascent yields λ = 0.5, the cost computed before the penalty
// growth uses μ = 1 and accumulates 0.5×0.5 + ½×1×0.25 = 0.375, and the
// penalty growth then yields μ = 10.
func TestEndToEnd(t *testing.T) {

	p := oneEqCon(1e8, 1e8)
	s, e := p.New()
	if e != nil {
		panic(e)
	}

	rec := s.Record(0)
	rec.Value(0)[0] = 0.5

	s.DualUpdate()
	if !almostEqual(rec.Dual(0)[0], 0.5, 0) {
		t.Fatal("TestEndToEnd: Bad Dual Ascent")
	}

	J := make([]float64, s.Horizon())
	s.Cost(J)
	if !almostEqual(J[0], 0.375, 1e-15) {
		t.Fatal("TestEndToEnd: Bad Cost")
	}

	s.PenaltyUpdate()
	if !almostEqual(rec.Penalty(0)[0], 10.0, 0) {
		t.Fatal("TestEndToEnd: Bad Penalty Growth")
	}
}

func TestDualClamp(t *testing.T) {

	p := Problem{
		Model: Model{NX: 1, NU: 1},
		Cons: []Constraint{
			{Name: "eq", Sense: Equality, Kind: StateOnly, Dim: 1, Indices: []int{0},
				Params: Params{DualMax: 2}},
			{Name: "neq", Sense: Inequality, Kind: ControlOnly, Dim: 1, Indices: []int{0},
				Params: Params{DualMax: 2}},
		},
	}
	s, e := p.New()
	if e != nil {
		panic(e)
	}
	eq, neq := s.Record(0), s.Record(1)

	// large negative residuals drive both multipliers downward
	eq.Value(0)[0] = -100
	neq.Value(0)[0] = -100
	s.DualUpdate()

	switch {
	case eq.Dual(0)[0] != -2:
		t.Fatal("TestDualClamp: Equality Not Clamped At -λmax")
	case neq.Dual(0)[0] != 0:
		t.Fatal("TestDualClamp: Inequality Went Negative")
	}

	// large positive residuals hit the upper bound
	eq.Value(0)[0] = 100
	neq.Value(0)[0] = 100
	s.DualUpdate()
	s.DualUpdate()

	switch {
	case eq.Dual(0)[0] != 2:
		t.Fatal("TestDualClamp: Equality Not Clamped At λmax")
	case neq.Dual(0)[0] != 2:
		t.Fatal("TestDualClamp: Inequality Not Clamped At λmax")
	}
}

func TestPenaltySchedule(t *testing.T) {

	p := oneEqCon(1e8, 500)
	s, e := p.New()
	if e != nil {
		panic(e)
	}
	rec := s.Record(0)

	prev := rec.Penalty(0)[0]
	for i := 0; i < 10; i++ {
		s.PenaltyUpdate()
		cur := rec.Penalty(0)[0]
		switch {
		case cur < prev:
			t.Fatal("TestPenaltySchedule: Penalty Decreased")
		case cur > 500:
			t.Fatal("TestPenaltySchedule: Penalty Over μmax")
		}
		prev = cur
	}
	if prev != 500 {
		t.Fatal("TestPenaltySchedule: Penalty Not Saturated")
	}
}

func TestActiveSet(t *testing.T) {

	p := Problem{
		Model: Model{NX: 1, NU: 1},
		Cons: []Constraint{
			{Name: "bnd", Sense: Inequality, Kind: StateOnly, Dim: 4, Indices: []int{0}},
			{Name: "goal", Sense: Equality, Kind: StateOnly, Dim: 2, Indices: []int{0}},
		},
	}
	s, e := p.New()
	if e != nil {
		panic(e)
	}
	neq, eq := s.Record(0), s.Record(1)

	copy(neq.Value(0), []float64{0.1, -0.1, 0.0, -0.5})
	copy(neq.Dual(0), []float64{0, 0, 0, 0.3})
	copy(eq.Value(0), []float64{-5, 5})
	s.UpdateActiveSet(0)

	want := []bool{true, false, true, true} // violated, satisfied, boundary, multiplier mass
	for i, w := range want {
		if neq.Active(0)[i] != w {
			t.Fatal("TestActiveSet: Bad Inequality Mask")
		}
	}
	for _, a := range eq.Active(0) {
		if !a {
			t.Fatal("TestActiveSet: Equality Mask Not All True")
		}
	}

	// with a slack tolerance the nearly-violated component activates too
	s.UpdateActiveSet(0.2)
	if !neq.Active(0)[1] {
		t.Fatal("TestActiveSet: Tolerance Ignored")
	}
}

func TestCostAdditive(t *testing.T) {

	p := Problem{
		Model: Model{NX: 2, NU: 1},
		Cons: []Constraint{{
			Name: "goal", Sense: Equality, Kind: StateOnly, Dim: 2, Indices: []int{1, 3},
		}},
	}
	s, e := p.New()
	if e != nil {
		panic(e)
	}
	rec := s.Record(0)
	copy(rec.Value(0), []float64{0.3, -0.4})
	copy(rec.Value(1), []float64{1, 2})
	copy(rec.Dual(0), []float64{1, 1})

	J := make([]float64, s.Horizon())
	s.Cost(J)
	once := append([]float64(nil), J...)
	s.Cost(J)

	switch {
	case once[0] != 0 || once[2] != 0:
		t.Fatal("TestCostAdditive: Untouched Timestep Written")
	case once[1] == 0 || once[3] == 0:
		t.Fatal("TestCostAdditive: Cost Missing")
	case !almostEqual(J, []float64{0, 2 * once[1], 0, 2 * once[3]}, 1e-15):
		t.Fatal("TestCostAdditive: Cost Not Accumulated")
	}
}

// cost must gate the quadratic term with the active mask but keep the
// multiplier term unconditionally.
func TestCostActiveGate(t *testing.T) {

	p := Problem{
		Model: Model{NX: 1, NU: 1},
		Cons: []Constraint{{
			Name: "bnd", Sense: Inequality, Kind: StateOnly, Dim: 1, Indices: []int{0},
			Params: Params{PenaltyInitial: 4},
		}},
	}
	s, e := p.New()
	if e != nil {
		panic(e)
	}
	rec := s.Record(0)
	rec.Value(0)[0] = -0.5
	rec.Dual(0)[0] = 0.2
	s.UpdateActiveSet(0) // active: multiplier mass

	J := make([]float64, 1)
	s.Cost(J)
	if !almostEqual(J[0], 0.2*-0.5+0.5*4*0.25, 1e-15) {
		t.Fatal("TestCostActiveGate: Bad Active Cost")
	}

	rec.Dual(0)[0] = 0
	s.UpdateActiveSet(0) // inactive: satisfied with no multiplier
	dzero(J)
	s.Cost(J)
	if J[0] != 0 {
		t.Fatal("TestCostActiveGate: Inactive Component Penalized")
	}
}

func TestResetIdempotent(t *testing.T) {

	p := oneEqCon(1e8, 1e8)
	s, e := p.New()
	if e != nil {
		panic(e)
	}
	rec := s.Record(0)
	rec.Value(0)[0] = 0.5
	s.DualUpdate()
	s.PenaltyUpdate()

	s.ResetDuals()
	s.ResetDuals()
	if rec.Dual(0)[0] != 0 {
		t.Fatal("TestResetIdempotent: Duals Not Zero")
	}

	s.ResetPenalties()
	s.ResetPenalties()
	if rec.Penalty(0)[0] != 1 {
		t.Fatal("TestResetIdempotent: Penalties Not μ₀")
	}
}

func TestResetWith(t *testing.T) {

	p := oneEqCon(1e8, 1e8)
	s, e := p.New()
	if e != nil {
		panic(e)
	}
	rec := s.Record(0)
	rec.Value(0)[0] = 0.5
	s.DualUpdate()
	s.PenaltyUpdate()

	// override only the initial penalty, request a penalty reset
	o := KeepParams()
	o.PenaltyInitial = 7
	o.ResetPenalties = true
	s.ResetWith(o)

	switch {
	case rec.Params().PenaltyInitial != 7:
		t.Fatal("TestResetWith: Override Not Applied")
	case rec.Params().PenaltyScaling != 10 || rec.Params().DualMax != 1e8:
		t.Fatal("TestResetWith: Unset Field Touched")
	case rec.Penalty(0)[0] != 7:
		t.Fatal("TestResetWith: Penalty Not Reset To New μ₀")
	case rec.Dual(0)[0] != 0.5:
		t.Fatal("TestResetWith: Duals Reset Without Request")
	}
}

func TestLink(t *testing.T) {

	cons := []Constraint{
		{Name: "goal", ID: 11, Sense: Equality, Kind: StateOnly, Dim: 1, Indices: []int{0}},
		{Name: "private", Sense: Equality, Kind: StateOnly, Dim: 1, Indices: []int{0}},
	}
	p1 := Problem{Model: Model{NX: 2, NU: 1}, Cons: cons}
	p2 := Problem{Model: Model{NX: 2, NU: 1}, Cons: []Constraint{cons[0]}}

	s1, e := p1.New()
	if e != nil {
		panic(e)
	}
	s2, e := p2.New()
	if e != nil {
		panic(e)
	}

	pairs, e := Link(s1, s2)
	switch {
	case e != nil:
		t.Fatal("TestLink: Unexpected Error")
	case len(pairs) != 1 || pairs[0] != [2]int{0, 0}:
		t.Fatal("TestLink: Bad Match Pairs")
	}

	// an update through s2 must be visible through s1 without any call on s1
	s2.Record(0).Value(0)[0] = 0.5
	s2.DualUpdate()

	switch {
	case s1.Record(0).Dual(0)[0] != 0.5:
		t.Fatal("TestLink: Dual Not Aliased")
	case s1.Record(0).Value(0)[0] != 0.5:
		t.Fatal("TestLink: Value Not Aliased")
	case s1.Record(1).Dual(0)[0] != 0:
		t.Fatal("TestLink: Unmatched Record Aliased")
	}

	// params stay per-record
	o := KeepParams()
	o.PenaltyScaling = 3
	s2.ResetWith(o)
	if s1.Record(0).Params().PenaltyScaling == 3 {
		t.Fatal("TestLink: Params Aliased")
	}
}

func TestNewValidation(t *testing.T) {

	base := func() Problem { return oneEqCon(1e8, 1e8) }

	bad := []func(*Problem){
		func(p *Problem) { p.Model.NX = 0 },
		func(p *Problem) { p.Cons = nil },
		func(p *Problem) { p.Cons[0].Dim = 0 },
		func(p *Problem) { p.Cons[0].Indices = nil },
		func(p *Problem) { p.Cons[0].Indices = []int{3, 1} },
		func(p *Problem) { p.Cons[0].Indices = []int{-1} },
		func(p *Problem) { p.Cons[0].Params.PenaltyScaling = 1 },
		func(p *Problem) { p.Cons[0].Params.PenaltyInitial = -1 },
		func(p *Problem) { p.Cons[0].Params.PenaltyInitial = 2; p.Cons[0].Params.PenaltyMax = 1 },
		func(p *Problem) { p.Cons[0].Kind = ControlOnly; p.Model.NU = 0 },
		func(p *Problem) {
			p.Cons = append(p.Cons, p.Cons[0]) // duplicate non-zero ID
			p.Cons[0].ID = 5
			p.Cons[1].ID = 5
		},
	}

	for k, corrupt := range bad {
		p := base()
		corrupt(&p)
		if _, e := p.New(); e == nil {
			t.Fatalf("TestNewValidation: Case %d Accepted", k)
		}
	}

	valid := base()
	if _, e := valid.New(); e != nil {
		t.Fatal("TestNewValidation: Valid Problem Rejected")
	}
}

func TestRecordAccess(t *testing.T) {

	p := Problem{
		Model: Model{NX: 2, NU: 1},
		Cons: []Constraint{
			{Name: "goal", Sense: Equality, Kind: StateOnly, Dim: 2, Indices: []int{1, 4}},
			{Sense: Inequality, Kind: StageCoupled, Dim: 1, Indices: []int{0}},
		},
	}
	s, e := p.New()
	if e != nil {
		panic(e)
	}

	switch {
	case s.Len() != 2 || s.Horizon() != 5:
		t.Fatal("TestRecordAccess: Bad Set Shape")
	case s.Find("goal") != s.Record(0) || s.Find("nope") != nil:
		t.Fatal("TestRecordAccess: Bad Lookup")
	case s.Find("con1") != s.Record(1):
		t.Fatal("TestRecordAccess: Default Name Missing")
	}

	r := s.Record(0)
	switch {
	case r.Len() != 2 || r.Dim() != 2 || r.Step(1) != 4:
		t.Fatal("TestRecordAccess: Bad Record Shape")
	case r.Sense() != Equality || r.Kind() != StateOnly:
		t.Fatal("TestRecordAccess: Bad Tags")
	case r.Kind().String() != "state" || StageCoupled.String() != "stage":
		t.Fatal("TestRecordAccess: Bad Kind Name")
	case len(r.Jacobian(1)) != 2*2 || len(s.Record(1).Jacobian(0)) != 3:
		t.Fatal("TestRecordAccess: Bad Jacobian Shape")
	}
}

func almostEqual[T float64 | []float64](a, b T, tol float64) bool {
	equalWithinAbs := func(a, b float64) bool {
		return a == b || math.Abs(a-b) <= tol
	}
	switch reflect.TypeOf((*T)(nil)).Elem().Kind() {
	case reflect.Float64:
		return equalWithinAbs(any(a).(float64), any(b).(float64))
	case reflect.Slice:
		a, b := any(a).([]float64), any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i, a := range a {
			if !equalWithinAbs(a, b[i]) {
				return false
			}
		}
		return true
	}
	return false
}
