// Pulse program text dump
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package program

import (
	"fmt"
	"io"
	"strings"
)

// LineKind classifies a dump line for presentation.
type LineKind int

const (
	KindDeclaration LineKind = iota
	KindLoop
	KindBlockEnd
	KindPulse
	KindTiming
	KindSave
	KindStream
)

// Line is one line of a program listing.
type Line struct {
	Depth int
	Kind  LineKind
	Text  string
}

// Lines renders the program as an indented listing.
func (p *Program) Lines() []Line {
	var lines []Line
	for _, v := range p.variables {
		lines = append(lines, Line{Kind: KindDeclaration, Text: fmt.Sprintf("declare %s %s", v.Type, v.Name)})
	}
	for _, s := range p.streams {
		lines = append(lines, Line{Kind: KindDeclaration, Text: fmt.Sprintf("declare_stream %s", s)})
	}
	lines = appendBody(lines, p.body, 0)
	if len(p.outputs) > 0 {
		lines = append(lines, Line{Kind: KindLoop, Text: "stream_processing {"})
		for _, o := range p.outputs {
			lines = append(lines, Line{Depth: 1, Kind: KindStream, Text: o.String()})
		}
		lines = append(lines, Line{Kind: KindBlockEnd, Text: "}"})
	}
	return lines
}

func appendBody(lines []Line, body []Statement, depth int) []Line {
	for _, s := range body {
		switch s := s.(type) {
		case Play:
			args := []string{s.Operation, s.Channel}
			if s.Amplitude != nil {
				args[0] = fmt.Sprintf("%s*amp(%s)", s.Operation, s.Amplitude)
			}
			if s.Duration != nil {
				args = append(args, "duration="+s.Duration.String())
			}
			lines = append(lines, Line{Depth: depth, Kind: KindPulse, Text: "play(" + strings.Join(args, ", ") + ")"})
		case FrameRotation:
			lines = append(lines, Line{Depth: depth, Kind: KindPulse,
				Text: fmt.Sprintf("frame_rotation_2pi(%s, %s)", s.Turns, s.Channel)})
		case Wait:
			args := append([]string{s.Cycles.String()}, s.Channels...)
			lines = append(lines, Line{Depth: depth, Kind: KindTiming, Text: "wait(" + strings.Join(args, ", ") + ")"})
		case Align:
			lines = append(lines, Line{Depth: depth, Kind: KindTiming, Text: "align(" + strings.Join(s.Channels, ", ") + ")"})
		case Measure:
			lines = append(lines, Line{Depth: depth, Kind: KindPulse,
				Text: fmt.Sprintf("measure(%s, %s, demod(%s, %s), demod(%s, %s))",
					s.Operation, s.Channel, s.I.Weight, s.I.Target, s.Q.Weight, s.Q.Target)})
		case Save:
			lines = append(lines, Line{Depth: depth, Kind: KindSave, Text: fmt.Sprintf("save(%s, %s)", s.Variable, s.Stream)})
		case For:
			lines = append(lines, Line{Depth: depth, Kind: KindLoop,
				Text: fmt.Sprintf("for %s = %s; %s < %s; %s += %s {", s.Variable, s.Start, s.Variable, s.Limit, s.Variable, s.Step)})
			lines = appendBody(lines, s.Body, depth+1)
			lines = append(lines, Line{Depth: depth, Kind: KindBlockEnd, Text: "}"})
		case ForEach:
			lines = append(lines, Line{Depth: depth, Kind: KindLoop,
				Text: fmt.Sprintf("for %s in %s {", s.Variable, formatValues(s.Values))})
			lines = appendBody(lines, s.Body, depth+1)
			lines = append(lines, Line{Depth: depth, Kind: KindBlockEnd, Text: "}"})
		}
	}
	return lines
}

func formatValues(values []float64) string {
	const maxShown = 6
	parts := make([]string, 0, maxShown+1)
	for i, v := range values {
		if i == maxShown-1 && len(values) > maxShown {
			parts = append(parts, fmt.Sprintf("... (%d values)", len(values)), formatNumber(values[len(values)-1]))
			break
		}
		parts = append(parts, formatNumber(v))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (o StreamOutput) String() string {
	var sb strings.Builder
	sb.WriteString(o.Stream)
	for i := len(o.Buffer) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, ".buffer(%d)", o.Buffer[i])
	}
	if o.Average {
		sb.WriteString(".average()")
	}
	fmt.Fprintf(&sb, ".save(%q)", o.Name)
	return sb.String()
}

// Dump writes the listing to w, indenting nested blocks by two spaces.
func (p *Program) Dump(w io.Writer) error {
	for _, l := range p.Lines() {
		if _, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", l.Depth), l.Text); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) String() string {
	var sb strings.Builder
	p.Dump(&sb)
	return sb.String()
}
