// Pulse program intermediate representation
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package program defines the executable form of an experiment: declared
// variables and result streams, a tree of timed statements, and the
// stream-processing epilogue that reduces raw saves into output buffers.
//
// A Program is produced by a Builder and never changes afterwards. All
// accessors return deep copies, so an executor may hold a Program for as
// long as it runs without coordinating with whoever built it.
package program

import (
	"strconv"
)

// Type is the numeric type of a program variable.
type Type int

const (
	Int Type = iota
	Fixed
)

func (t Type) String() string {
	switch t {
	case Int:
		return "int"
	case Fixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// Variable is a declared program variable.
type Variable struct {
	Name string
	Type Type
}

// Operand is either a reference to a declared variable, optionally negated,
// or a literal.
type Operand struct {
	Ref     string
	Negated bool
	Value   float64
}

// Lit returns a literal operand.
func Lit(v float64) Operand { return Operand{Value: v} }

// Var returns an operand referring to the named variable.
func Var(name string) Operand { return Operand{Ref: name} }

// Neg returns the negation of o.
func Neg(o Operand) Operand {
	if o.IsVar() {
		o.Negated = !o.Negated
		return o
	}
	return Lit(-o.Value)
}

// IsVar reports whether the operand refers to a variable.
func (o Operand) IsVar() bool { return o.Ref != "" }

// Eval resolves the operand, looking variables up with lookup.
func (o Operand) Eval(lookup func(name string) float64) float64 {
	if !o.IsVar() {
		return o.Value
	}
	v := lookup(o.Ref)
	if o.Negated {
		return -v
	}
	return v
}

func (o Operand) String() string {
	if o.IsVar() {
		if o.Negated {
			return "-" + o.Ref
		}
		return o.Ref
	}
	return formatNumber(o.Value)
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Statement is one node of the program body. The set of statements is closed.
type Statement interface {
	statement()
}

// Play outputs an operation on a channel. Amplitude scales the pulse
// waveform and Duration overrides its length in clock cycles; nil leaves
// the configured value.
type Play struct {
	Operation string
	Channel   string
	Amplitude *Operand
	Duration  *Operand
}

// FrameRotation advances the channel's phase by Turns full turns.
type FrameRotation struct {
	Channel string
	Turns   Operand
}

// Wait idles the listed channels (all channels when empty) for Cycles.
type Wait struct {
	Cycles   Operand
	Channels []string
}

// Align synchronizes the listed channels (all channels when empty) to the
// latest of their clocks.
type Align struct {
	Channels []string
}

// Demod routes one demodulation output into a variable.
type Demod struct {
	Weight string
	Target string
}

// Measure plays a measurement operation and demodulates the acquired signal
// into the I and Q variables.
type Measure struct {
	Operation string
	Channel   string
	I         Demod
	Q         Demod
}

// Save appends the current value of Variable to Stream.
type Save struct {
	Variable string
	Stream   string
}

// For runs Body for Variable = Start; Variable < Limit; Variable += Step.
type For struct {
	Variable string
	Start    Operand
	Limit    Operand
	Step     Operand
	Body     []Statement
}

// ForEach runs Body once per value, in order.
type ForEach struct {
	Variable string
	Values   []float64
	Body     []Statement
}

func (Play) statement()          {}
func (FrameRotation) statement() {}
func (Wait) statement()          {}
func (Align) statement()         {}
func (Measure) statement()       {}
func (Save) statement()          {}
func (For) statement()           {}
func (ForEach) statement()       {}

// StreamOutput reduces a raw stream into a named result. Values are grouped
// into consecutive blocks of the product of Buffer's dimensions; when
// Average is set the blocks are averaged element-wise, otherwise the latest
// complete block is kept.
type StreamOutput struct {
	Stream  string
	Name    string
	Buffer  []int
	Average bool
}

// Size is the number of values in one buffer block (1 when unbuffered).
func (o StreamOutput) Size() int {
	n := 1
	for _, d := range o.Buffer {
		n *= d
	}
	return n
}

// Program is an immutable, fully resolved pulse program.
type Program struct {
	variables []Variable
	streams   []string
	body      []Statement
	outputs   []StreamOutput
}

// Variables returns the declared variables in declaration order.
func (p *Program) Variables() []Variable {
	return append([]Variable(nil), p.variables...)
}

// Variable looks up a declared variable.
func (p *Program) Variable(name string) (Variable, bool) {
	for _, v := range p.variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// Streams returns the declared stream names in declaration order.
func (p *Program) Streams() []string {
	return append([]string(nil), p.streams...)
}

// Body returns a deep copy of the statement tree.
func (p *Program) Body() []Statement {
	return cloneBody(p.body)
}

// Outputs returns the stream-processing outputs.
func (p *Program) Outputs() []StreamOutput {
	out := make([]StreamOutput, len(p.outputs))
	for i, o := range p.outputs {
		o.Buffer = append([]int(nil), o.Buffer...)
		out[i] = o
	}
	return out
}

// Output looks up a stream output by result name.
func (p *Program) Output(name string) (StreamOutput, bool) {
	for _, o := range p.Outputs() {
		if o.Name == name {
			return o, true
		}
	}
	return StreamOutput{}, false
}

// Walk visits every statement depth first in program order. Loop bodies are
// visited once. Returning a non-nil error stops the walk.
func (p *Program) Walk(fn func(s Statement, depth int) error) error {
	return walk(p.body, 0, fn)
}

func walk(body []Statement, depth int, fn func(Statement, int) error) error {
	for _, s := range body {
		if err := fn(s, depth); err != nil {
			return err
		}
		switch s := s.(type) {
		case For:
			if err := walk(s.Body, depth+1, fn); err != nil {
				return err
			}
		case ForEach:
			if err := walk(s.Body, depth+1, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func cloneOperand(o *Operand) *Operand {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneBody(body []Statement) []Statement {
	if body == nil {
		return nil
	}
	out := make([]Statement, len(body))
	for i, s := range body {
		switch s := s.(type) {
		case Play:
			s.Amplitude = cloneOperand(s.Amplitude)
			s.Duration = cloneOperand(s.Duration)
			out[i] = s
		case Wait:
			s.Channels = cloneStrings(s.Channels)
			out[i] = s
		case Align:
			s.Channels = cloneStrings(s.Channels)
			out[i] = s
		case For:
			s.Body = cloneBody(s.Body)
			out[i] = s
		case ForEach:
			s.Values = append([]float64(nil), s.Values...)
			s.Body = cloneBody(s.Body)
			out[i] = s
		default:
			out[i] = s
		}
	}
	return out
}
