// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auglag

import "math"

// ddot computes the dot product of two vectors.
// The increments allow walking matrix columns stored row-major.
func ddot(n int, dx []float64, incx int, dy []float64, incy int) (dot float64) {
	if n <= 0 {
		return zero
	}
	if incx == 1 && incy == 1 {
		x, y := dx[:n], dy[:n]
		for i := range x {
			dot += x[i] * y[i]
		}
		return dot
	}
	lx, ly := uint(incx*(n-1)), uint(incy*(n-1))
	if lx >= uint(len(dx)) || ly >= uint(len(dy)) {
		panic("bound check error")
	}
	for ix, iy := uint(0), uint(0); ix <= lx && iy <= ly; {
		dot += dx[ix] * dy[iy]
		ix += uint(incx)
		iy += uint(incy)
	}
	return dot
}

// dnrm2 computes the Euclidean norm of vector x without overflow.
func dnrm2(n int, x []float64) float64 {
	if n < 1 {
		return zero
	}
	if n > len(x) {
		panic("bound check error")
	}
	if n == 1 {
		return math.Abs(x[0])
	}
	scale := zero
	ssq := one
	for _, xi := range x[:n] {
		if absxi := math.Abs(xi); absxi > 0 {
			if scale < absxi {
				sxi := scale / absxi
				ssq = 1 + ssq*sxi*sxi
				scale = absxi
			} else {
				sxi := absxi / scale
				ssq += sxi * sxi
			}
		}
	}
	return scale * math.Sqrt(ssq)
}

// idamax returns the index of the element with maximum absolute value,
// or -1 when the vector is empty.
func idamax(n int, x []float64) (idx int) {
	if n < 1 {
		return -1
	}
	if n > len(x) {
		panic("bound check error")
	}
	dmax := math.Abs(x[0])
	for i, xi := range x[1:n] {
		if a := math.Abs(xi); a > dmax {
			dmax, idx = a, i+1
		}
	}
	return idx
}

// dzero fills vector x with zero.
func dzero(dx []float64) {
	for i := range dx {
		dx[i] = zero
	}
}

// dfill broadcasts scalar da into vector x.
func dfill(da float64, dx []float64) {
	for i := range dx {
		dx[i] = da
	}
}
