// Experiment execution
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/executor"
	"ssnmr-sequencer/pkg/experiment"
	"ssnmr-sequencer/pkg/hardware"
	"ssnmr-sequencer/pkg/live"
	"ssnmr-sequencer/pkg/metrics"
	"ssnmr-sequencer/pkg/program"
	"ssnmr-sequencer/pkg/results"
	"ssnmr-sequencer/pkg/safety"
	"ssnmr-sequencer/pkg/settings"
)

// settings loads the settings file (or the defaults) and applies --set and
// --save-dir on top.
func (a *app) settings() (settings.Settings, error) {
	s := settings.Default()
	if a.settingsPath != "" {
		loaded, err := settings.Load(a.settingsPath)
		if err != nil {
			return settings.Settings{}, err
		}
		s = loaded
	}
	return a.applyOverrides(s)
}

func (a *app) applyOverrides(s settings.Settings) (settings.Settings, error) {
	if len(a.overrides) > 0 {
		kv, err := settings.ParseOverrides(a.overrides)
		if err != nil {
			return settings.Settings{}, err
		}
		if s, _, err = s.Set(kv); err != nil {
			return settings.Settings{}, err
		}
	}
	if a.saveDir != "" {
		s.SaveDir = a.saveDir
	}
	return s, nil
}

func hardwareFor(s settings.Settings) (*hardware.Config, error) {
	hw, err := hardware.FromSettings(s)
	if err != nil {
		return nil, err
	}
	if err := hw.Validate(); err != nil {
		return nil, err
	}
	return hw, nil
}

// prepared is an experiment lowered against its hardware configuration.
type prepared struct {
	settings   settings.Settings
	hw         *hardware.Config
	experiment *experiment.Experiment
	program    *program.Program
}

func (a *app) prepare(r recipe, s settings.Settings) (*prepared, error) {
	hw, err := hardwareFor(s)
	if err != nil {
		return nil, err
	}
	var opts []experiment.Option
	opts = append(opts, experiment.WithShape(r.shape))
	if a.noInitialDelay {
		opts = append(opts, experiment.WithoutInitialDelay())
	}
	e, err := experiment.New(s, hw, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.build(e, s); err != nil {
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}

	start := time.Now()
	p, err := e.Program()
	metrics.Global().ObserveLowering(r.shape.String(), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	a.log.WithFields(map[string]interface{}{
		"experiment": r.name,
		"shape":      r.shape.String(),
		"commands":   e.Sequence().Len(),
	}).Debug("program lowered")
	return &prepared{settings: s, hw: hw, experiment: e, program: p}, nil
}

func (a *app) simulator(s settings.Settings) *executor.Simulator {
	return executor.NewSimulator(
		executor.WithLogger(a.log.WithPrefix("executor")),
		executor.WithMetrics(metrics.Global()),
		executor.WithInterlock(safety.Channels{Switch: s.SwKey, Amplifier: s.AmpKey}),
	)
}

// run lowers the recipe and either simulates its timeline or executes it,
// streaming to websocket clients and saving the results when asked.
func (a *app) run(cmd *cobra.Command, r recipe) error {
	s, err := a.settings()
	if err != nil {
		return err
	}
	prep, err := a.prepare(r, s)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.metricsAddr != "" {
		ms := metrics.NewServer(metrics.Global(), a.metricsAddr)
		errCh := ms.StartAsync()
		go func() {
			if err := <-errCh; err != nil {
				a.log.WithError(err).Error("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			ms.Shutdown(shutdownCtx)
		}()
	}

	sim := a.simulator(s)
	if a.simulate {
		return a.runSimulation(ctx, sim, prep)
	}

	var saver *results.DataSaver
	if s.SaveDir != "" {
		saver, err = results.NewDataSaver(s.SaveDir,
			results.WithSaverLogger(a.log.WithPrefix("results")),
			results.WithSaverMetrics(metrics.Global()))
		if err != nil {
			return err
		}
	}

	job, err := sim.Execute(ctx, prep.hw, prep.program)
	if err != nil {
		return err
	}
	a.log.Info("%s started as job %s (%d averages)", r.name, job.ID(), s.NAvg)

	if a.liveAddr != "" {
		srv := live.New(live.Config{
			Addr:    a.liveAddr,
			Logger:  a.log.WithPrefix("live"),
			Metrics: metrics.Global(),
			Saver:   saver,
		})
		go func() {
			if err := srv.Start(); err != nil {
				a.log.WithError(err).Error("live server failed")
			}
		}()
		defer srv.Stop()
		srv.Follow(job)
	} else {
		for snap := range job.Snapshots() {
			a.log.Debug("average %d/%d", snap.Iteration, snap.Averages)
		}
	}

	snap, err := job.Wait()
	if err != nil {
		return err
	}
	a.printResult(r, prep, snap)

	if saver != nil {
		path, err := saver.SaveRun(results.UniqueName(r.name), prep.experiment, prep.hw, snap)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "saved %s\n", path)
	}
	return nil
}

func (a *app) runSimulation(ctx context.Context, sim *executor.Simulator, prep *prepared) error {
	d, err := clock.ParseDuration(a.simDuration)
	if err != nil {
		return fmt.Errorf("--sim-duration: %w", err)
	}
	report, err := sim.Simulate(ctx, prep.hw, prep.program, d)
	if err != nil {
		return err
	}
	printTimeline(a.out, report)
	return nil
}

// printResult reports the peak magnitude of each sweep point.
func (a *app) printResult(r recipe, prep *prepared, snap executor.Snapshot) {
	st := newStyles(a.out)
	i, _ := snap.Output(experiment.ResultI)
	q, _ := snap.Output(experiment.ResultQ)
	fmt.Fprintln(a.out, st.title.Render(fmt.Sprintf("%s: %d/%d averages", r.name, snap.Iteration, snap.Averages)))

	readout := prep.settings.DwellTime
	if len(i.Shape) < 2 {
		fmt.Fprintf(a.out, "  peak %.3g V\n", peak(i.Values, q.Values, readout))
		return
	}
	axis := prep.experiment.SweepAxis()
	fmt.Fprintln(a.out, st.muted.Render("  "+prep.experiment.SweepLabel()))
	for k := 0; k < i.Shape[0]; k++ {
		label := fmt.Sprintf("%d", k)
		if k < len(axis) {
			label = fmt.Sprintf("%.4g", axis[k])
		}
		fmt.Fprintf(a.out, "  %-10s peak %.3g V\n", label, peak(i.Row(k), q.Row(k), readout))
	}
}

func peak(i, q []float64, readout clock.Duration) float64 {
	iv := results.DemodToVolts(i, readout)
	qv := results.DemodToVolts(q, readout)
	best := 0.0
	for k := range iv {
		best = math.Max(best, math.Hypot(iv[k], qv[k]))
	}
	return best
}
