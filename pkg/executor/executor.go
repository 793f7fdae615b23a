// Package executor runs lowered programs. The Executor interface is what the
// rest of the sequencer hands programs to; Simulator implements it in
// software by interpreting the program against a spin model on per-channel
// virtual clocks.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/experiment"
	"ssnmr-sequencer/pkg/hardware"
	"ssnmr-sequencer/pkg/log"
	"ssnmr-sequencer/pkg/metrics"
	"ssnmr-sequencer/pkg/program"
	"ssnmr-sequencer/pkg/safety"
)

// Executor runs programs against a hardware configuration.
type Executor interface {
	// Execute starts p and returns immediately. Results stream through the
	// returned job.
	Execute(ctx context.Context, hw *hardware.Config, p *program.Program) (*Job, error)
	// Simulate runs p for the given span of program time and reports what
	// each channel did.
	Simulate(ctx context.Context, hw *hardware.Config, p *program.Program, d clock.Duration) (*SimulationReport, error)
}

var _ Executor = (*Simulator)(nil)

// SimulationReport is the outcome of Simulate.
type SimulationReport struct {
	ID       string         `json:"id"`
	Duration clock.Duration `json:"duration"`
	// Reached is the latest channel time the simulation got to.
	Reached clock.Duration    `json:"reached"`
	Events  []Event           `json:"events"`
	Outputs map[string]Output `json:"outputs"`
}

// Channels returns the sorted names of the channels with events.
func (r *SimulationReport) Channels() []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range r.Events {
		if !seen[e.Channel] {
			seen[e.Channel] = true
			names = append(names, e.Channel)
		}
	}
	sort.Strings(names)
	return names
}

// Channel returns the events of one channel in time order.
func (r *SimulationReport) Channel(name string) []Event {
	var events []Event
	for _, e := range r.Events {
		if e.Channel == name {
			events = append(events, e)
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start < events[j].Start })
	return events
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Simulator) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Simulator) { s.metrics = m }
}

// WithSignal sets the simulated sample.
func WithSignal(sig Signal) Option {
	return func(s *Simulator) { s.signal = sig }
}

// WithInterlock enables interlock verification of every program before it
// runs.
func WithInterlock(ch safety.Channels) Option {
	return func(s *Simulator) { s.interlock = &ch }
}

// WithIterationDelay paces Execute by sleeping after every averaging
// iteration.
func WithIterationDelay(d time.Duration) Option {
	return func(s *Simulator) { s.pace = d }
}

// Simulator is a software Executor.
type Simulator struct {
	log       *log.Logger
	metrics   *metrics.Metrics
	signal    Signal
	interlock *safety.Channels
	pace      time.Duration

	progressStream string
	iterationVar   string
}

// NewSimulator creates a simulator with the default sample.
func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{
		log:            log.GetLogger("executor"),
		signal:         DefaultSignal(),
		progressStream: experiment.StreamIteration,
		iterationVar:   experiment.VarIteration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) prepare(hw *hardware.Config, p *program.Program) error {
	if hw == nil {
		return errors.New(errors.ErrConfig, "no hardware configuration")
	}
	if p == nil {
		return errors.New(errors.ErrInvalidCommand, "no program")
	}
	if err := check(hw, p); err != nil {
		return err
	}
	if s.interlock != nil {
		if err := safety.Verify(p, *s.interlock); err != nil {
			s.metrics.InterlockViolation()
			s.log.WithError(err).Error("program refused by interlock check")
			return err
		}
	}
	return nil
}

// averages returns the trip count of the top-level averaging loop, or 0
// when the program has none with literal bounds.
func (s *Simulator) averages(p *program.Program) int {
	for _, st := range p.Body() {
		f, ok := st.(program.For)
		if !ok || f.Variable != s.iterationVar {
			continue
		}
		if f.Start.IsVar() || f.Limit.IsVar() || f.Step.IsVar() || f.Step.Value <= 0 {
			return 0
		}
		n := 0
		for v := f.Start.Value; v < f.Limit.Value; v += f.Step.Value {
			n++
		}
		return n
	}
	return 0
}

// Execute starts p and returns its job.
func (s *Simulator) Execute(ctx context.Context, hw *hardware.Config, p *program.Program) (*Job, error) {
	if err := s.prepare(hw, p); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	job := newJob(uuid.NewString(), metrics.ModeExecute)
	job.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	job.group = g

	averages := s.averages(p)
	logger := s.log.With(log.Fields{"job": job.id})
	logger.Info("job started: %d averages", averages)
	s.metrics.JobStarted()

	g.Go(func() error {
		defer close(job.updates)
		return s.interpret(gctx, hw, p, job, averages)
	})
	g.Go(job.forward)

	go func() {
		err := g.Wait()
		cancel()
		elapsed := time.Since(job.started)
		s.metrics.JobFinished(metrics.ModeExecute, elapsed, err)
		if err != nil {
			logger.WithError(err).Warn("job ended after %s", elapsed)
		} else {
			logger.Info("job finished in %s", elapsed)
		}
		job.finish(err)
	}()
	return job, nil
}

func (s *Simulator) interpret(ctx context.Context, hw *hardware.Config, p *program.Program, job *Job, averages int) error {
	m := newMachine(ctx, hw, s.signal)
	m.progress = s.progressStream
	published := 0
	snapshot := func(iteration int) Snapshot {
		return Snapshot{
			JobID:     job.id,
			Iteration: iteration,
			Averages:  averages,
			Outputs:   m.outputs(p),
			Time:      time.Now(),
		}
	}
	m.onProgress = func(iteration int) error {
		s.metrics.ScanCompleted()
		s.metrics.SetAverages(iteration)
		published++
		if err := job.publish(ctx, snapshot(iteration)); err != nil {
			return err
		}
		return s.sleep(ctx)
	}

	if err := m.run(p.Body()); err != nil {
		if ctx.Err() != nil {
			return errors.ExecutionError("execute", ctx.Err())
		}
		return errors.ExecutionError("execute", err)
	}
	if published == 0 {
		return job.publish(ctx, snapshot(averages))
	}
	return nil
}

func (s *Simulator) sleep(ctx context.Context) error {
	if s.pace <= 0 {
		return nil
	}
	t := time.NewTimer(s.pace)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Simulate interprets p until every channel has passed d or the program
// ends, recording the activity that starts before d. Thermal waits take no
// wall time.
func (s *Simulator) Simulate(ctx context.Context, hw *hardware.Config, p *program.Program, d clock.Duration) (*SimulationReport, error) {
	if err := s.prepare(hw, p); err != nil {
		return nil, err
	}
	if d.Cycles() <= 0 {
		return nil, errors.ExecutionError("simulate", fmt.Errorf("duration %s is shorter than one cycle", d))
	}

	started := time.Now()
	s.metrics.JobStarted()
	m := newMachine(ctx, hw, s.signal)
	m.record = true
	m.horizon = d.Cycles()

	err := m.run(p.Body())
	if stderrors.Is(err, errLimit) {
		err = nil
	}
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		err = errors.ExecutionError("simulate", err)
	}
	s.metrics.JobFinished(metrics.ModeSimulate, time.Since(started), err)
	if err != nil {
		return nil, err
	}

	report := &SimulationReport{
		ID:       uuid.NewString(),
		Duration: d,
		Reached:  m.clocks.Latest().Duration(),
		Events:   m.events,
		Outputs:  m.outputs(p),
	}
	s.log.Debug("simulated %s: %d events on %d channels", d, len(report.Events), len(report.Channels()))
	return report, nil
}
