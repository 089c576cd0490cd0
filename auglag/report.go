// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auglag

import (
	"fmt"
	"io"
	"math"
	"os"
)

// normp computes the p-norm of x for p ∈ [1, ∞].
func normp(x []float64, p float64) float64 {
	switch {
	case math.IsInf(p, 1):
		if i := idamax(len(x), x); i >= 0 {
			return math.Abs(x[i])
		}
		return zero
	case p == 2:
		return dnrm2(len(x), x)
	default:
		sum := zero
		for _, v := range x {
			sum += math.Pow(math.Abs(v), p)
		}
		return math.Pow(sum, one/p)
	}
}

// NormViolation computes, for every record, the p-norm of all its residual
// entries, caches the per-record norms, and returns the p-norm across
// records. Use p = 𝚖𝚊𝚝𝚑.𝙸𝚗𝚏(𝟷) for the worst single scalar violation.
func (s *Set) NormViolation(p float64) float64 {
	for i, r := range s.recs {
		s.cmax[i] = normp(r.vals, p)
	}
	return normp(s.cmax, p)
}

// MaxViolation returns the largest scalar residual magnitude anywhere
// in the set. Equivalent to NormViolation with p = ∞.
func (s *Set) MaxViolation() float64 {
	return s.NormViolation(math.Inf(1))
}

// MaxPenalty returns the largest penalty scalar anywhere in the set,
// caching the per-record maxima.
func (s *Set) MaxPenalty() float64 {
	for i, r := range s.recs {
		s.pmax[i] = zero
		if j := idamax(len(r.mu), r.mu); j >= 0 {
			s.pmax[i] = r.mu[j]
		}
	}
	pen := zero
	for _, p := range s.pmax {
		pen = math.Max(pen, p)
	}
	return pen
}

// FindMaxViolation locates the worst offending residual component and
// returns a human-readable locator naming the constraint, its trajectory
// timestep and the in-constraint index. When every residual magnitude is
// below machine epsilon it reports that no constraint is violated.
func (s *Set) FindMaxViolation() string {
	if s.MaxViolation() < eps {
		return "No constraints violated"
	}
	ri := idamax(len(s.cmax), s.cmax)
	r := s.recs[ri]
	ji := idamax(len(r.vals), r.vals)
	if math.Abs(r.vals[ji]) != s.cmax[ri] {
		panic("violation cache out of sync")
	}
	return fmt.Sprintf("%s at timestep %d at index %d", r.name, r.inds[ji/r.p], ji%r.p)
}

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogOuter print violation and penalty magnitudes per outer iteration
	LogOuter LogLevel = 0
	// LogLocate print also the worst-violation locator
	LogLocate LogLevel = 1
)

// Logger handles diagnostic output for the constraint set.
// Note the writer must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if l.Msg == nil {
		l.Msg = os.Stdout
	}
	_, _ = fmt.Fprintf(l.Msg, format, a...)
}

// LogStatus prints the violation and penalty magnitudes of the set for
// one outer iteration, driving the caller's penalty-schedule and
// termination decisions.
func (s *Set) LogStatus(l *Logger, iter int) {
	if l == nil || !l.enable(LogOuter) {
		return
	}
	l.log("iter %4d  viol %.6e  pen %.6e\n", iter, s.MaxViolation(), s.MaxPenalty())
	if l.enable(LogLocate) {
		l.log("  worst: %s\n", s.FindMaxViolation())
	}
}
