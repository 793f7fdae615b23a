// Spin response model
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package executor

import (
	"math"
	"math/rand"

	"ssnmr-sequencer/pkg/clock"
)

// Signal describes the simulated sample: a single spin ensemble driven by
// every non-zero play and read by every measurement.
type Signal struct {
	// Amplitude is the demodulated level of full transverse magnetization.
	Amplitude float64
	// T1 and T2 are the longitudinal and transverse relaxation times.
	T1 clock.Duration
	T2 clock.Duration
	// Offset is the precession frequency in the rotating frame.
	Offset clock.Frequency
	// Rabi is the nutation frequency per unit of output amplitude.
	Rabi clock.Frequency
	// Noise is the standard deviation of gaussian noise added to I and Q.
	Noise float64
	// Seed seeds the noise source.
	Seed int64
}

// DefaultSignal returns a 19F-like sample for which the default pi/2
// pulse (amplitude 0.25, 1.1 us) nutates by 90 degrees.
func DefaultSignal() Signal {
	return Signal{
		Amplitude: 0.01,
		T1:        500 * clock.Millisecond,
		T2:        200 * clock.Microsecond,
		Offset:    5 * clock.Kilohertz,
		Rabi:      clock.Frequency(1 / (4 * 0.25 * 1.1e-6)),
	}
}

// magnetization is a Bloch vector at a point in time.
type magnetization struct {
	x, y, z float64
	at      clock.Cycles
}

type spins struct {
	sig   Signal
	m     magnetization
	noise *rand.Rand
}

func newSpins(sig Signal) *spins {
	return &spins{
		sig:   sig,
		m:     magnetization{z: 1},
		noise: rand.New(rand.NewSource(sig.Seed)),
	}
}

// evolved returns the magnetization after free precession until t.
func (s *spins) evolved(t clock.Cycles) magnetization {
	m := s.m
	dt := (t - m.at).Duration().Seconds()
	if dt <= 0 {
		return m
	}
	decay := 1.0
	if s.sig.T2 > 0 {
		decay = math.Exp(-dt / s.sig.T2.Seconds())
	}
	sin, cos := math.Sincos(2 * math.Pi * s.sig.Offset.Hz() * dt)
	x := (m.x*cos - m.y*sin) * decay
	y := (m.x*sin + m.y*cos) * decay
	z := m.z
	if s.sig.T1 > 0 {
		z = 1 - (1-m.z)*math.Exp(-dt/s.sig.T1.Seconds())
	}
	return magnetization{x: x, y: y, z: z, at: t}
}

// Nutate rotates the magnetization by angle about an axis in the
// transverse plane at the given phase.
func (s *spins) Nutate(t clock.Cycles, angle, phase float64) {
	m := s.evolved(t)
	if angle == 0 {
		s.m = m
		return
	}
	sp, cp := math.Sincos(phase)
	// Components along and across the rotation axis.
	along := m.x*cp + m.y*sp
	across := -m.x*sp + m.y*cp
	sa, ca := math.Sincos(angle)
	across, z := across*ca-m.z*sa, across*sa+m.z*ca
	m.x = along*cp - across*sp
	m.y = along*sp + across*cp
	m.z = z
	s.m = m
}

// Acquire returns the signal at t demodulated with the weight pair (wr, wi).
// A pi/2 pulse at phase zero leaves the magnetization along -y, which reads
// as a positive in-phase level.
func (s *spins) Acquire(t clock.Cycles, wr, wi float64) float64 {
	m := s.evolved(t)
	v := s.sig.Amplitude * (-wr*m.y + wi*m.x)
	if s.sig.Noise > 0 {
		v += s.noise.NormFloat64() * s.sig.Noise
	}
	return v
}

// flipAngle is the nutation angle of a play of the given level and length.
func (s *spins) flipAngle(level float64, d clock.Cycles) float64 {
	return 2 * math.Pi * s.sig.Rabi.Hz() * level * d.Duration().Seconds()
}
