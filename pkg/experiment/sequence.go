// Command sequence builder
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package experiment

import (
	"fmt"
	"math"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/program"
	"ssnmr-sequencer/pkg/sweep"
)

// ChannelLookup is the read-only view of the hardware configuration used
// to validate commands. *hardware.Config implements it.
type ChannelLookup interface {
	HasChannel(name string) bool
	ChannelOperations(name string) []string
}

// Shape is the declared dimensionality of an experiment.
type Shape int

const (
	// ShapeFixed experiments have no sweep variable.
	ShapeFixed Shape = iota
	// ShapeSwept experiments have exactly one sweep variable.
	ShapeSwept
)

func (s Shape) String() string {
	if s == ShapeSwept {
		return "swept"
	}
	return "fixed"
}

// Sequence is an append-only list of commands with at most one sweep
// variable shared by all swept fields. A failed Add leaves it unchanged.
// A Sequence is not safe for concurrent use.
type Sequence struct {
	channels ChannelLookup
	commands []Command
	sweep    sweep.Checker
	kind     program.Type
}

// NewSequence returns an empty sequence validated against channels.
func NewSequence(channels ChannelLookup) *Sequence {
	return &Sequence{channels: channels}
}

// AddPulse appends a pulse. At most one of phase, amplitude and length may
// be a vector; it becomes the sequence's sweep variable.
func (s *Sequence) AddPulse(operation, channel string, opts ...PulseOption) error {
	if err := s.checkOperation(channel, operation); err != nil {
		return err
	}

	var args pulseArgs
	for _, opt := range opts {
		opt(&args)
	}
	phase := Scalar(0)
	if args.phase != nil {
		phase = *args.phase
	}
	amplitude := Scalar(1)
	if args.amplitude != nil {
		amplitude = *args.amplitude
	}

	cmd := PulseCommand{Operation: operation, Channel: channel, Scale: 1}
	vectors := 0
	for _, p := range []*Param{&phase, &amplitude, args.length} {
		if p != nil && p.IsVector() {
			vectors++
			if len(p.values) == 0 {
				return errors.InvalidCommandError(fmt.Sprintf("%s on %s: empty vector argument", operation, channel)).
					SetChannel(channel).SetOperation(operation)
			}
		}
	}
	if vectors > 1 {
		return errors.InvalidCommandError(fmt.Sprintf("%s on %s: only one argument may be a vector", operation, channel)).
			SetChannel(channel).SetOperation(operation)
	}
	if err := finite(phase.values, "phase"); err != nil {
		return err.SetChannel(channel).SetOperation(operation)
	}
	if err := finite(amplitude.values, "amplitude"); err != nil {
		return err.SetChannel(channel).SetOperation(operation)
	}

	if args.length != nil {
		lengths, err := quantize(args.length.values, "pulse length")
		if err != nil {
			return err.SetChannel(channel).SetOperation(operation)
		}
		if !args.length.IsVector() {
			cmd.Length = clock.Cycles(lengths[0])
		} else {
			scale, err := s.registerSweep(lengths, program.Int)
			if err != nil {
				return err
			}
			cmd.Swept, cmd.Scale = FieldLength, scale
		}
	}

	if phase.IsVector() {
		scale, err := s.registerSweep(turns(phase.values), program.Fixed)
		if err != nil {
			return err
		}
		cmd.Swept, cmd.Scale = FieldPhase, scale
	} else {
		cmd.Phase = turns(phase.values)[0]
	}

	if amplitude.IsVector() {
		scale, err := s.registerSweep(amplitude.Values(), program.Fixed)
		if err != nil {
			return err
		}
		cmd.Swept, cmd.Scale = FieldAmplitude, scale
	} else {
		cmd.Amplitude = amplitude.Value()
	}

	s.commands = append(s.commands, cmd)
	return nil
}

// AddDelay appends a wait of d nanoseconds on all channels.
func (s *Sequence) AddDelay(d Param) error {
	if d.IsVector() && len(d.values) == 0 {
		return errors.InvalidCommandError("delay: empty vector argument")
	}
	cycles, err := quantize(d.values, "delay")
	if err != nil {
		return err
	}
	cmd := DelayCommand{Scale: 1}
	if d.IsVector() {
		scale, err := s.registerSweep(cycles, program.Int)
		if err != nil {
			return err
		}
		cmd.Swept, cmd.Scale = true, scale
	} else {
		cmd.Cycles = clock.Cycles(cycles[0])
	}
	s.commands = append(s.commands, cmd)
	return nil
}

// AddAlign appends an alignment of channels, or of all channels when none
// are given.
func (s *Sequence) AddAlign(channels ...string) error {
	for _, ch := range channels {
		if !s.channels.HasChannel(ch) {
			return errors.UnknownChannelError(ch)
		}
	}
	s.commands = append(s.commands, AlignCommand{Channels: append([]string(nil), channels...)})
	return nil
}

// registerSweep adds values as a sweep source and returns the proportionality
// factor to the registered vector.
//
// Phase and amplitude sweeps are fixed point, lengths and delays are whole
// cycles. Every swept field replays the registered values unscaled, so the
// two kinds cannot share the variable even when proportional: a wait or a
// play duration cannot take a fixed-point value, and a fixed-point field fed
// cycle counts would play the wrong values.
func (s *Sequence) registerSweep(values []float64, kind program.Type) (float64, error) {
	if s.sweep.Registered() && kind != s.kind {
		return 0, errors.InvalidSweepError(fmt.Sprintf(
			"cannot sweep %s values against a registered %s sweep", kind, s.kind)).
			SetContext("registered", s.sweep.Vector()).
			SetContext("candidate", append([]float64(nil), values...))
	}
	scale, err := s.sweep.CheckOrRegister(values)
	if err != nil {
		return 0, err
	}
	s.kind = kind
	return scale, nil
}

func (s *Sequence) checkOperation(channel, operation string) error {
	if !s.channels.HasChannel(channel) {
		return errors.UnknownChannelError(channel)
	}
	for _, op := range s.channels.ChannelOperations(channel) {
		if op == operation {
			return nil
		}
	}
	return errors.UnknownOperationError(channel, operation)
}

// Commands returns a copy of the commands in insertion order.
func (s *Sequence) Commands() []Command {
	out := make([]Command, len(s.commands))
	for i, c := range s.commands {
		if a, ok := c.(AlignCommand); ok {
			a.Channels = append([]string(nil), a.Channels...)
			c = a
		}
		out[i] = c
	}
	return out
}

// Len returns the number of commands.
func (s *Sequence) Len() int { return len(s.commands) }

// Swept reports whether a sweep variable is registered.
func (s *Sequence) Swept() bool { return s.sweep.Registered() }

// SweepVector returns a copy of the registered sweep values, or nil.
func (s *Sequence) SweepVector() []float64 { return s.sweep.Vector() }

// SweepKind returns the numeric type of the sweep variable.
func (s *Sequence) SweepKind() (program.Type, bool) {
	return s.kind, s.sweep.Registered()
}

// Validate checks that the presence of a sweep matches shape.
func (s *Sequence) Validate(shape Shape) error {
	swept := s.Swept()
	if (shape == ShapeSwept) != swept {
		return errors.ShapeMismatchError(shape.String(), swept)
	}
	return nil
}

// turns converts degrees to a fraction of a full turn in [0, 1).
func turns(degrees []float64) []float64 {
	out := make([]float64, len(degrees))
	for i, d := range degrees {
		t := math.Mod(d/360, 1)
		if t < 0 {
			t++
		}
		if t >= 1 {
			t = 0
		}
		out[i] = t
	}
	return out
}

// finite rejects NaN and infinite arguments.
func finite(values []float64, what string) *errors.ExperimentError {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.InvalidCommandError(fmt.Sprintf("%s %v must be finite", what, v))
		}
	}
	return nil
}

// quantize floors nanoseconds to clock cycles and enforces the hardware
// minimum.
func quantize(ns []float64, what string) ([]float64, *errors.ExperimentError) {
	out := make([]float64, len(ns))
	for i, v := range ns {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, errors.InvalidCommandError(fmt.Sprintf("%s %v ns must be a non-negative duration", what, v))
		}
		c := math.Floor(v / clock.CycleNs)
		if c < float64(clock.MinWaitCycles) {
			return nil, errors.InvalidCommandError(fmt.Sprintf("%s %v ns is below the %d cycle minimum", what, v, clock.MinWaitCycles))
		}
		out[i] = c
	}
	return out, nil
}
