// Sweep variable consistency checking
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package sweep tracks the single swept variable of a pulse sequence.
//
// Every swept command field must be a positive multiple of the first
// registered vector, so that one hardware loop variable can drive all of them.
package sweep

import (
	"gonum.org/v1/gonum/floats"

	"ssnmr-sequencer/pkg/errors"
)

// RelTolerance bounds the residual of a fitted vector relative to the norm
// of the vector it approximates: a is accepted for b when
// ||a - k*b|| <= RelTolerance * ||a||.
const RelTolerance = 1e-9

// Checker registers the first sweep vector and validates later ones against it.
// The zero value is ready to use. A Checker is not safe for concurrent use.
type Checker struct {
	vector []float64
}

// CheckOrRegister validates candidate against the registered vector.
//
// The first non-zero candidate is stored and 1 is returned. A later candidate
// must be collinear with the stored vector with a strictly positive scale; the
// returned scale k satisfies existing = k * candidate. The stored vector is
// never modified.
func (c *Checker) CheckOrRegister(candidate []float64) (float64, error) {
	if isZero(candidate) {
		return 0, errors.InvalidSweepError("sweep vector must contain a non-zero entry")
	}

	if c.vector == nil {
		c.vector = append([]float64(nil), candidate...)
		return 1, nil
	}

	if !Collinear(candidate, c.vector) {
		return 0, errors.InvalidSweepError("inconsistent loop variables").
			SetContext("registered", c.Vector()).
			SetContext("candidate", append([]float64(nil), candidate...))
	}

	k := 0.0
	for i, v := range candidate {
		if v == 0 {
			continue
		}
		k = c.vector[i] / v
		break
	}
	if k <= 0 {
		return 0, errors.InvalidSweepError("sweep vector must be a positive multiple of the registered one").
			SetContext("scale", k)
	}
	if residual(c.vector, candidate, k) > RelTolerance*floats.Norm(c.vector, 2) {
		return 0, errors.InvalidSweepError("inconsistent loop variables").
			SetContext("registered", c.Vector()).
			SetContext("candidate", append([]float64(nil), candidate...)).
			SetContext("scale", k)
	}
	return k, nil
}

// Registered reports whether a sweep vector has been stored.
func (c *Checker) Registered() bool {
	return c.vector != nil
}

// Vector returns a copy of the registered vector, or nil.
func (c *Checker) Vector() []float64 {
	if c.vector == nil {
		return nil
	}
	return append([]float64(nil), c.vector...)
}

// Len returns the length of the registered vector.
func (c *Checker) Len() int {
	return len(c.vector)
}

// Collinear reports whether a and b are parallel, in either direction.
// The least-squares multiple of b must reproduce a to within RelTolerance.
// Vectors of different length are never collinear.
func Collinear(a, b []float64) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	bb := floats.Dot(b, b)
	if bb == 0 {
		return isZero(a)
	}
	k := floats.Dot(a, b) / bb
	return residual(a, b, k) <= RelTolerance*floats.Norm(a, 2)
}

// residual returns ||a - k*b||.
func residual(a, b []float64, k float64) float64 {
	fit := make([]float64, len(b))
	floats.ScaleTo(fit, k, b)
	return floats.Distance(a, fit, 2)
}

func isZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
