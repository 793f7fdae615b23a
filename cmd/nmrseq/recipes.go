// Experiment recipes
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/experiment"
	"ssnmr-sequencer/pkg/settings"
)

// recipe describes how to fill an experiment.
type recipe struct {
	name  string
	shape experiment.Shape
	build func(e *experiment.Experiment, s settings.Settings) error
}

type pulcalParams struct {
	wraps             int
	start, stop, step float64
}

func defaultPulcal() pulcalParams {
	return pulcalParams{wraps: 1, start: 0.9, stop: 1.11, step: 0.025}
}

type overrotParams struct {
	start, stop, step float64
}

func defaultOverrot() overrotParams {
	return overrotParams{start: -8, stop: 3, step: 1}
}

func recipeNames() []string {
	names := []string{"fid", "pulcal", "overrot"}
	sort.Strings(names)
	return names
}

// recipe returns the named recipe, or one with a nil build if the name is
// unknown.
func (a *app) recipe(name string) recipe {
	switch name {
	case "fid":
		return recipe{name: name, shape: experiment.ShapeFixed, build: buildFID}
	case "pulcal":
		p := a.pulcal
		return recipe{name: name, shape: experiment.ShapeSwept, build: func(e *experiment.Experiment, s settings.Settings) error {
			return buildPulcal(e, s, p)
		}}
	case "overrot":
		p := a.overrot
		return recipe{name: name, shape: experiment.ShapeSwept, build: func(e *experiment.Experiment, s settings.Settings) error {
			return buildOverrot(e, s, p)
		}}
	}
	return recipe{name: name}
}

// arange returns start, start+step, ... up to but excluding stop.
func arange(start, stop, step float64) ([]float64, error) {
	if step <= 0 || math.IsNaN(step) {
		return nil, fmt.Errorf("step must be positive, got %g", step)
	}
	n := int(math.Ceil((stop - start) / step))
	if n <= 0 {
		return nil, fmt.Errorf("empty range [%g, %g) with step %g", start, stop, step)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out, nil
}

func buildFID(e *experiment.Experiment, s settings.Settings) error {
	return e.AddPulse(s.PiHalfKey, s.ResKey)
}

// buildPulcal plays 4*wraps pi/2 pulses separated by 2 us, then the readout
// pulse, all with the swept amplitude scale. The maximum signal sits at the
// scale that makes each pulse exactly pi/2.
func buildPulcal(e *experiment.Experiment, s settings.Settings, p pulcalParams) error {
	if p.wraps < 0 {
		return fmt.Errorf("wraps must not be negative, got %d", p.wraps)
	}
	amps, err := arange(p.start, p.stop, p.step)
	if err != nil {
		return fmt.Errorf("amplitude sweep: %w", err)
	}
	amp := experiment.WithAmplitude(experiment.Vector(amps...))
	for i := 0; i < 4*p.wraps; i++ {
		if err := e.AddPulse(s.PiHalfKey, s.ResKey, amp); err != nil {
			return err
		}
		if err := e.AddDelay(experiment.Scalar(float64(2 * clock.Microsecond))); err != nil {
			return err
		}
	}
	if err := e.AddPulse(s.PiHalfKey, s.ResKey, amp); err != nil {
		return err
	}

	axis := make([]float64, len(amps))
	floats.ScaleTo(axis, s.PulseAmplitude, amps)
	e.SetSweepAxis(axis)
	e.SetSweepLabel("Pulse Amplitude (Vpp)")
	return nil
}

// buildOverrot applies a pi/2 pulse with phase 90-angle, waits 4 us, applies
// a pi/2 pulse with phase 180, lets the transverse signal die in a 1 ms T1
// filter and reads out with a final pi/2 pulse. The signal crosses zero at
// the over-rotation angle.
func buildOverrot(e *experiment.Experiment, s settings.Settings, p overrotParams) error {
	angles, err := arange(p.start, p.stop, p.step)
	if err != nil {
		return fmt.Errorf("angle sweep: %w", err)
	}
	phases := make([]float64, len(angles))
	for i, a := range angles {
		phases[i] = 90 - a
	}

	steps := []func() error{
		func() error {
			return e.AddPulse(s.PiHalfKey, s.ResKey, experiment.WithPhase(experiment.Vector(phases...)))
		},
		func() error { return e.AddDelay(experiment.Scalar(float64(4 * clock.Microsecond))) },
		func() error { return e.AddPulse(s.PiHalfKey, s.ResKey, experiment.WithPhase(experiment.Scalar(180))) },
		func() error { return e.AddDelay(experiment.Scalar(float64(clock.Millisecond))) },
		func() error { return e.AddPulse(s.PiHalfKey, s.ResKey) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	e.SetSweepAxis(angles)
	e.SetSweepLabel("Over-rotation Angle (deg)")
	return nil
}
