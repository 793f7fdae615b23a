// Pulse program builder
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package program

import (
	"fmt"
	"math"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/errors"
)

// Builder assembles a Program. Statements are appended to the innermost
// open loop. The first error is kept and reported by Build; later calls are
// ignored once an error has occurred.
type Builder struct {
	vars    []Variable
	types   map[string]Type
	streams []string
	isStrm  map[string]bool
	outputs []StreamOutput
	names   map[string]bool
	stack   [][]Statement
	err     error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		types:  make(map[string]Type),
		isStrm: make(map[string]bool),
		names:  make(map[string]bool),
		stack:  [][]Statement{nil},
	}
}

func (b *Builder) fail(format string, args ...interface{}) {
	if b.err == nil {
		b.err = errors.New(errors.ErrInvalidCommand, "program: "+fmt.Sprintf(format, args...))
	}
}

func (b *Builder) emit(s Statement) {
	if b.err != nil {
		return
	}
	top := len(b.stack) - 1
	b.stack[top] = append(b.stack[top], s)
}

// Declare adds a variable.
func (b *Builder) Declare(name string, t Type) {
	if name == "" {
		b.fail("empty variable name")
		return
	}
	if _, ok := b.types[name]; ok || b.isStrm[name] {
		b.fail("%q declared twice", name)
		return
	}
	b.types[name] = t
	b.vars = append(b.vars, Variable{Name: name, Type: t})
}

// DeclareStream adds a result stream.
func (b *Builder) DeclareStream(name string) {
	if name == "" {
		b.fail("empty stream name")
		return
	}
	if _, ok := b.types[name]; ok || b.isStrm[name] {
		b.fail("%q declared twice", name)
		return
	}
	b.isStrm[name] = true
	b.streams = append(b.streams, name)
}

func (b *Builder) checkOperand(o Operand, what string) {
	if o.IsVar() {
		if _, ok := b.types[o.Ref]; !ok {
			b.fail("%s refers to undeclared variable %q", what, o.Ref)
		}
	}
}

func (b *Builder) checkVar(name string) {
	if _, ok := b.types[name]; !ok {
		b.fail("undeclared variable %q", name)
	}
}

func (b *Builder) checkStream(name string) {
	if !b.isStrm[name] {
		b.fail("undeclared stream %q", name)
	}
}

// PlayOption modifies a Play statement.
type PlayOption func(*Play)

// WithAmplitude scales the played waveform.
func WithAmplitude(a Operand) PlayOption {
	return func(p *Play) { p.Amplitude = &a }
}

// WithDuration overrides the pulse length in clock cycles.
func WithDuration(d Operand) PlayOption {
	return func(p *Play) { p.Duration = &d }
}

// Play appends a Play statement.
func (b *Builder) Play(operation, channel string, opts ...PlayOption) {
	p := Play{Operation: operation, Channel: channel}
	for _, opt := range opts {
		opt(&p)
	}
	if p.Amplitude != nil {
		b.checkOperand(*p.Amplitude, "amplitude")
	}
	if p.Duration != nil {
		b.checkOperand(*p.Duration, "duration")
		if !p.Duration.IsVar() && p.Duration.Value < float64(clock.MinWaitCycles) {
			b.fail("play %s on %s: duration %s below %d cycles", operation, channel, p.Duration, clock.MinWaitCycles)
		}
	}
	b.emit(p)
}

// FrameRotation appends a phase advance in full turns.
func (b *Builder) FrameRotation(turns Operand, channel string) {
	b.checkOperand(turns, "frame rotation")
	b.emit(FrameRotation{Channel: channel, Turns: turns})
}

// Wait appends a wait. Literal waits must be at least clock.MinWaitCycles.
func (b *Builder) Wait(cycles Operand, channels ...string) {
	b.checkOperand(cycles, "wait")
	if !cycles.IsVar() && cycles.Value < float64(clock.MinWaitCycles) {
		b.fail("wait of %s cycles below minimum %d", cycles, clock.MinWaitCycles)
	}
	b.emit(Wait{Cycles: cycles, Channels: cloneStrings(channels)})
}

// Align appends an alignment of the given channels, or of all channels.
func (b *Builder) Align(channels ...string) {
	b.emit(Align{Channels: cloneStrings(channels)})
}

// Measure appends a measurement demodulated into i and q.
func (b *Builder) Measure(operation, channel string, i, q Demod) {
	b.checkVar(i.Target)
	b.checkVar(q.Target)
	b.emit(Measure{Operation: operation, Channel: channel, I: i, Q: q})
}

// Save appends the current value of variable to stream.
func (b *Builder) Save(variable, stream string) {
	b.checkVar(variable)
	b.checkStream(stream)
	b.emit(Save{Variable: variable, Stream: stream})
}

// For appends a counted loop and builds its body with fn.
func (b *Builder) For(variable string, start, limit, step Operand, fn func()) {
	if t, ok := b.types[variable]; !ok {
		b.fail("loop over undeclared variable %q", variable)
	} else if t != Int {
		b.fail("loop variable %q must be int", variable)
	}
	b.checkOperand(start, "loop start")
	b.checkOperand(limit, "loop limit")
	if step.IsVar() || step.Value <= 0 {
		b.fail("loop over %q needs a positive literal step", variable)
	}
	body := b.nest(fn)
	b.emit(For{Variable: variable, Start: start, Limit: limit, Step: step, Body: body})
}

// ForEach appends a loop over values and builds its body with fn.
func (b *Builder) ForEach(variable string, values []float64, fn func()) {
	t, ok := b.types[variable]
	if !ok {
		b.fail("loop over undeclared variable %q", variable)
	}
	if len(values) == 0 {
		b.fail("loop over %q has no values", variable)
	}
	if ok && t == Int {
		for _, v := range values {
			if v != math.Trunc(v) {
				b.fail("int variable %q cannot take %v", variable, v)
				break
			}
		}
	}
	body := b.nest(fn)
	b.emit(ForEach{Variable: variable, Values: append([]float64(nil), values...), Body: body})
}

func (b *Builder) nest(fn func()) []Statement {
	b.stack = append(b.stack, nil)
	if fn != nil {
		fn()
	}
	top := len(b.stack) - 1
	body := b.stack[top]
	b.stack = b.stack[:top]
	return body
}

// Output adds a stream-processing step.
func (b *Builder) Output(o StreamOutput) {
	b.checkStream(o.Stream)
	if o.Name == "" {
		b.fail("output of %q has no name", o.Stream)
	}
	if b.names[o.Name] {
		b.fail("output %q defined twice", o.Name)
	}
	for _, d := range o.Buffer {
		if d <= 0 {
			b.fail("output %q: buffer dimension %d must be positive", o.Name, d)
		}
	}
	b.names[o.Name] = true
	o.Buffer = append([]int(nil), o.Buffer...)
	b.outputs = append(b.outputs, o)
}

// Err returns the first error recorded so far.
func (b *Builder) Err() error { return b.err }

// Build returns the finished program. The builder must not be used afterwards.
func (b *Builder) Build() (*Program, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.stack) != 1 {
		return nil, errors.New(errors.ErrInvalidCommand, "program: unterminated loop")
	}
	return &Program{
		variables: append([]Variable(nil), b.vars...),
		streams:   append([]string(nil), b.streams...),
		body:      cloneBody(b.stack[0]),
		outputs:   append([]StreamOutput(nil), b.outputs...),
	}, nil
}
