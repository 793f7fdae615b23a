// Program and timeline printing
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/executor"
	"ssnmr-sequencer/pkg/experiment"
	"ssnmr-sequencer/pkg/program"
	"ssnmr-sequencer/pkg/settings"
)

var (
	colorPulse  = lipgloss.Color("#2CD7C7")
	colorTiming = lipgloss.Color("#F4D03F")
	colorLoop   = lipgloss.Color("#20B9B4")
	colorSave   = lipgloss.Color("#E67E22")
	colorMuted  = lipgloss.Color("#5D7B85")
)

type styles struct {
	title lipgloss.Style
	muted lipgloss.Style
	kinds map[program.LineKind]lipgloss.Style
}

// newStyles binds the styles to w so that colors are dropped when w is not
// a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title: r.NewStyle().Bold(true).Foreground(colorPulse),
		muted: r.NewStyle().Foreground(colorMuted),
		kinds: map[program.LineKind]lipgloss.Style{
			program.KindDeclaration: r.NewStyle().Foreground(colorMuted),
			program.KindLoop:        r.NewStyle().Bold(true).Foreground(colorLoop),
			program.KindBlockEnd:    r.NewStyle().Foreground(colorLoop),
			program.KindPulse:       r.NewStyle().Foreground(colorPulse),
			program.KindTiming:      r.NewStyle().Foreground(colorTiming),
			program.KindSave:        r.NewStyle().Foreground(colorSave),
			program.KindStream:      r.NewStyle().Foreground(colorSave),
		},
	}
}

// printProgram writes the program listing with one style per line kind.
func printProgram(w io.Writer, p *program.Program) {
	st := newStyles(w)
	for _, line := range p.Lines() {
		fmt.Fprintln(w, strings.Repeat("    ", line.Depth)+st.kinds[line.Kind].Render(line.Text))
	}
}

func (a *app) dump(r recipe) error {
	s, err := a.settings()
	if err != nil {
		return err
	}
	return a.dumpWith(r, s)
}

// watchDump prints the program, then prints it again after every accepted
// change to the settings file until ctx ends.
func (a *app) watchDump(ctx context.Context, r recipe) error {
	if a.settingsPath == "" {
		return fmt.Errorf("--watch needs --settings")
	}
	s, err := a.settings()
	if err != nil {
		return err
	}
	if err := a.dumpWith(r, s); err != nil {
		return err
	}

	base, err := settings.Load(a.settingsPath)
	if err != nil {
		return err
	}
	w, err := settings.NewWatcher(a.settingsPath, base, settings.WithLogger(a.log.WithPrefix("settings")))
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go w.Run(ctx)

	for ev := range w.Events() {
		if ev.Err != nil {
			continue
		}
		for _, c := range ev.Changes {
			a.log.Info("%s", c)
		}
		s, err := a.applyOverrides(ev.New)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out)
		if err := a.dumpWith(r, s); err != nil {
			a.log.WithError(err).Warn("lowering rejected")
		}
	}
	return nil
}

func (a *app) dumpWith(r recipe, s settings.Settings) error {
	prep, err := a.prepare(r, s)
	if err != nil {
		return err
	}
	printCommands(a.out, prep.experiment.Sequence().Commands())
	printProgram(a.out, prep.program)
	return nil
}

// printCommands lists the commands as they were requested, ahead of the
// lowered program.
func printCommands(w io.Writer, cmds []experiment.Command) {
	st := newStyles(w)
	fmt.Fprintln(w, st.title.Render("commands:"))
	for i, c := range cmds {
		fmt.Fprintln(w, st.muted.Render(fmt.Sprintf("  %2d  %s", i+1, c)))
	}
}

// printTimeline writes each channel's simulated events in start order.
func printTimeline(w io.Writer, report *executor.SimulationReport) {
	st := newStyles(w)
	fmt.Fprintln(w, st.title.Render(fmt.Sprintf("simulated %s of %s", report.Reached, report.Duration)))
	for _, ch := range report.Channels() {
		events := report.Channel(ch)
		var busy clock.Duration
		for _, ev := range events {
			if ev.Kind != executor.EventWait {
				busy += ev.Length
			}
		}
		fmt.Fprintln(w, st.kinds[program.KindLoop].Render(fmt.Sprintf("%s: %d events, %s active", ch, len(events), busy)))
		for _, ev := range events {
			text := fmt.Sprintf("%12s  %-8s %-18s %s", ev.Start, ev.Kind, ev.Operation, ev.Length)
			fmt.Fprintln(w, "  "+st.kinds[eventKind(ev.Kind)].Render(text))
		}
	}
}

func eventKind(k executor.EventKind) program.LineKind {
	switch k {
	case executor.EventWait:
		return program.KindTiming
	case executor.EventMeasure:
		return program.KindSave
	default:
		return program.KindPulse
	}
}
