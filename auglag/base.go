// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auglag

const (
	zero = 0.0
	half = 0.5
	one  = 1.0
	eps  = float64(7)/3 - float64(4)/3 - 1.
)

// Sense tags the direction of a constraint.
type Sense int

const (
	// Equality constraint 𝒄(𝐱) = 0 with unbounded-sign multipliers.
	Equality Sense = iota
	// Inequality constraint 𝒄(𝐱) ≤ 0 with non-negative multipliers.
	Inequality
)

// Kind tags which trajectory variables a constraint touches and therefore
// which blocks of the quadratic cost expansion it populates.
type Kind int

const (
	// StateOnly constraint 𝒄(𝐱ₖ) populates the state blocks 𝐐ₖ, 𝐪ₖ.
	StateOnly Kind = iota
	// ControlOnly constraint 𝒄(𝐮ₖ) populates the control blocks 𝐑ₖ, 𝐫ₖ.
	ControlOnly
	// StageCoupled constraint 𝒄(𝐱ₖ,𝐮ₖ) populates state, control and cross blocks.
	StageCoupled
	// Coupled constraint spanning multiple timesteps.
	// Unsupported by the stage-wise expansion and rejected at CostExpansion.
	Coupled
)

func (k Kind) String() string {
	switch k {
	case StateOnly:
		return "state"
	case ControlOnly:
		return "control"
	case StageCoupled:
		return "stage"
	case Coupled:
		return "coupled"
	}
	return "unknown"
}
