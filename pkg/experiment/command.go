// Experiment commands
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package experiment

import (
	"fmt"
	"strings"

	"ssnmr-sequencer/pkg/clock"
)

// SweptField names the pulse field that takes the sweep variable.
type SweptField int

const (
	FieldNone SweptField = iota
	FieldPhase
	FieldAmplitude
	FieldLength
)

func (f SweptField) String() string {
	switch f {
	case FieldNone:
		return "none"
	case FieldPhase:
		return "phase"
	case FieldAmplitude:
		return "amplitude"
	case FieldLength:
		return "length"
	default:
		return "unknown"
	}
}

// Command is one step of a sequence: a PulseCommand, DelayCommand or
// AlignCommand. The set is closed.
type Command interface {
	command()
	fmt.Stringer
}

// PulseCommand plays an operation on a channel.
type PulseCommand struct {
	Operation string
	Channel   string
	// Phase is a fraction of a full turn in [0, 1).
	Phase float64
	// Amplitude multiplies the configured waveform.
	Amplitude float64
	// Length overrides the configured pulse length; zero keeps it.
	Length clock.Cycles
	Swept  SweptField
	// Scale is the proportionality factor between the registered sweep
	// vector and this command's vector. It is informational only.
	Scale float64
}

// DelayCommand waits on all channels.
type DelayCommand struct {
	Cycles clock.Cycles
	Swept  bool
	Scale  float64
}

// AlignCommand synchronizes the listed channels, or all channels when empty.
type AlignCommand struct {
	Channels []string
}

func (PulseCommand) command() {}
func (DelayCommand) command() {}
func (AlignCommand) command() {}

func (c PulseCommand) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pulse %s on %s", c.Operation, c.Channel)
	if c.Swept == FieldPhase {
		sb.WriteString(" phase=" + swept(c.Scale))
	} else if c.Phase != 0 {
		fmt.Fprintf(&sb, " phase=%gturn", c.Phase)
	}
	if c.Swept == FieldAmplitude {
		sb.WriteString(" amp=" + swept(c.Scale))
	} else if c.Amplitude != 1 {
		fmt.Fprintf(&sb, " amp=%g", c.Amplitude)
	}
	if c.Swept == FieldLength {
		sb.WriteString(" length=" + swept(c.Scale))
	} else if c.Length != 0 {
		fmt.Fprintf(&sb, " length=%dcyc", c.Length)
	}
	return sb.String()
}

func (c DelayCommand) String() string {
	if c.Swept {
		return "delay " + swept(c.Scale)
	}
	return fmt.Sprintf("delay %dcyc", c.Cycles)
}

// swept names the sweep variable as requested by a command: the registered
// values divided by the command's scale.
func swept(scale float64) string {
	if scale == 1 || scale == 0 {
		return "<sweep>"
	}
	return fmt.Sprintf("<sweep>/%g", scale)
}

func (c AlignCommand) String() string {
	if len(c.Channels) == 0 {
		return "align all"
	}
	return "align " + strings.Join(c.Channels, ",")
}

// Record is the persisted form of a command.
type Record struct {
	Type      string   `json:"type"`
	Operation string   `json:"operation,omitempty"`
	Channel   string   `json:"channel,omitempty"`
	Phase     float64  `json:"phase,omitempty"`
	Amplitude float64  `json:"amplitude,omitempty"`
	Length    int64    `json:"length_cycles,omitempty"`
	Cycles    int64    `json:"duration_cycles,omitempty"`
	Channels  []string `json:"channels,omitempty"`
	Swept     string   `json:"swept,omitempty"`
	Scale     float64  `json:"scale,omitempty"`
}

// Records converts commands to their persisted form.
func Records(cmds []Command) []Record {
	out := make([]Record, 0, len(cmds))
	for _, c := range cmds {
		switch c := c.(type) {
		case PulseCommand:
			r := Record{Type: "pulse", Operation: c.Operation, Channel: c.Channel,
				Phase: c.Phase, Amplitude: c.Amplitude, Length: int64(c.Length)}
			if c.Swept != FieldNone {
				r.Swept, r.Scale = c.Swept.String(), c.Scale
			}
			out = append(out, r)
		case DelayCommand:
			r := Record{Type: "delay", Cycles: int64(c.Cycles)}
			if c.Swept {
				r.Swept, r.Scale = "duration", c.Scale
			}
			out = append(out, r)
		case AlignCommand:
			out = append(out, Record{Type: "align", Channels: append([]string(nil), c.Channels...)})
		}
	}
	return out
}

// Param is a command argument that is either a single value or a vector of
// values to sweep over.
type Param struct {
	values []float64
	vector bool
}

// Scalar returns a fixed argument.
func Scalar(v float64) Param {
	return Param{values: []float64{v}}
}

// Vector returns a swept argument.
func Vector(vs ...float64) Param {
	return Param{values: append([]float64{}, vs...), vector: true}
}

// IsVector reports whether the argument is swept.
func (p Param) IsVector() bool { return p.vector }

// Value returns a scalar argument's value.
func (p Param) Value() float64 {
	if len(p.values) == 0 {
		return 0
	}
	return p.values[0]
}

// Values returns a copy of the argument's values.
func (p Param) Values() []float64 {
	return append([]float64(nil), p.values...)
}

// PulseOption sets an optional pulse argument.
type PulseOption func(*pulseArgs)

type pulseArgs struct {
	phase     *Param
	amplitude *Param
	length    *Param
}

// WithPhase sets the pulse phase in degrees.
func WithPhase(p Param) PulseOption {
	return func(a *pulseArgs) { a.phase = &p }
}

// WithAmplitude sets the amplitude factor (default 1).
func WithAmplitude(p Param) PulseOption {
	return func(a *pulseArgs) { a.amplitude = &p }
}

// WithLength overrides the pulse length in nanoseconds.
func WithLength(p Param) PulseOption {
	return func(a *pulseArgs) { a.length = &p }
}
