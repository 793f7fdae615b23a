// Command tree
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ssnmr-sequencer/pkg/log"
)

// app holds the global flags shared by every command.
type app struct {
	out io.Writer
	log *log.Logger

	settingsPath   string
	overrides      []string
	simulate       bool
	simDuration    string
	saveDir        string
	liveAddr       string
	metricsAddr    string
	noInitialDelay bool

	pulcal  pulcalParams
	overrot overrotParams
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{
		out:     out,
		pulcal:  defaultPulcal(),
		overrot: defaultOverrot(),
	}

	root := &cobra.Command{
		Use:          "nmrseq",
		Short:        "Build, lower and run solid-state NMR pulse sequences",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if a.log == nil {
				a.log = log.GetLogger("nmrseq")
			}
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.settingsPath, "settings", "", "settings file (.yaml or .cfg), defaults when empty")
	pf.StringArrayVar(&a.overrides, "set", nil, "override one setting as key=value (repeatable)")
	pf.BoolVar(&a.simulate, "simulate", false, "report the controller timeline instead of running")
	pf.StringVar(&a.simDuration, "sim-duration", "20ms", "span of controller time to simulate")
	pf.StringVar(&a.saveDir, "save-dir", "", "save results below this folder (overrides save_dir)")
	pf.StringVar(&a.liveAddr, "live", "", "serve live results over websocket on this address")
	pf.StringVar(&a.metricsAddr, "metrics", "", "serve prometheus metrics on this address")
	pf.BoolVar(&a.noInitialDelay, "no-initial-delay", false, "skip the thermal reset before the first scan")

	root.AddCommand(
		a.fidCmd(),
		a.pulcalCmd(),
		a.overrotCmd(),
		a.dumpCmd(),
		a.configCmd(),
	)
	return root
}

func (a *app) fidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fid",
		Short: "Free induction decay after a single pi/2 pulse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, a.recipe("fid"))
		},
	}
}

func (a *app) pulcalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pulcal",
		Short: "Sweep the pulse amplitude over 4*wraps+1 pi/2 pulses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, a.recipe("pulcal"))
		},
	}
	a.pulcalFlags(cmd)
	return cmd
}

func (a *app) overrotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overrot",
		Short: "Sweep the phase of the first pulse to find the over-rotation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, a.recipe("overrot"))
		},
	}
	a.overrotFlags(cmd)
	return cmd
}

func (a *app) pulcalFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&a.pulcal.wraps, "wraps", a.pulcal.wraps, "number of 2*pi rotations before the readout pulse")
	f.Float64Var(&a.pulcal.start, "amp-start", a.pulcal.start, "first amplitude scale")
	f.Float64Var(&a.pulcal.stop, "amp-stop", a.pulcal.stop, "amplitude scale limit (exclusive)")
	f.Float64Var(&a.pulcal.step, "amp-step", a.pulcal.step, "amplitude scale step")
}

func (a *app) overrotFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64Var(&a.overrot.start, "angle-start", a.overrot.start, "first over-rotation angle in degrees")
	f.Float64Var(&a.overrot.stop, "angle-stop", a.overrot.stop, "over-rotation angle limit (exclusive)")
	f.Float64Var(&a.overrot.step, "angle-step", a.overrot.step, "over-rotation angle step")
}

func (a *app) dumpCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:       "dump <fid|pulcal|overrot>",
		Short:     "Print the lowered pulse program",
		Args:      cobra.ExactArgs(1),
		ValidArgs: recipeNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.recipe(args[0])
			if r.build == nil {
				return fmt.Errorf("unknown experiment %q (want one of %v)", args[0], recipeNames())
			}
			if watch {
				return a.watchDump(cmd.Context(), r)
			}
			return a.dump(r)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "print the program again whenever the settings file changes")
	a.pulcalFlags(cmd)
	a.overrotFlags(cmd)
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	var showSettings bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the hardware configuration generated from the settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings()
			if err != nil {
				return err
			}
			if showSettings {
				return s.EncodeYAML(a.out)
			}
			hw, err := hardwareFor(s)
			if err != nil {
				return err
			}
			return hw.Encode(a.out)
		},
	}
	cmd.Flags().BoolVar(&showSettings, "settings-yaml", false, "print the effective settings as YAML instead")
	return cmd
}
