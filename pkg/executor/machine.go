// Program interpreter
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/hardware"
	"ssnmr-sequencer/pkg/program"
)

// errLimit stops a simulation once every channel has passed its horizon.
var errLimit = stderrors.New("simulation horizon reached")

// EventKind classifies a timeline event.
type EventKind string

const (
	EventPlay    EventKind = "play"
	EventWait    EventKind = "wait"
	EventMeasure EventKind = "measure"
)

// Event is one interval of channel activity.
type Event struct {
	Channel   string         `json:"channel"`
	Kind      EventKind      `json:"kind"`
	Operation string         `json:"operation,omitempty"`
	Start     clock.Duration `json:"start"`
	Length    clock.Duration `json:"length"`
	Amplitude float64        `json:"amplitude,omitempty"`
}

// End returns the time the event finishes.
func (e Event) End() clock.Duration { return e.Start + e.Length }

type machine struct {
	ctx    context.Context
	hw     *hardware.Config
	clocks *channelClocks
	spins  *spins

	frames   map[string]float64
	env      map[string]float64
	produced map[string]clock.Cycles
	streams  map[string]stream

	record  bool
	horizon clock.Cycles
	events  []Event

	progress   string
	onProgress func(iteration int) error
}

func newMachine(ctx context.Context, hw *hardware.Config, sig Signal) *machine {
	return &machine{
		ctx:      ctx,
		hw:       hw,
		clocks:   newChannelClocks(hw.Channels()),
		spins:    newSpins(sig),
		frames:   make(map[string]float64),
		env:      make(map[string]float64),
		produced: make(map[string]clock.Cycles),
		streams:  make(map[string]stream),
	}
}

func (m *machine) run(body []program.Statement) error {
	for _, s := range body {
		if err := m.step(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *machine) lookup(name string) float64 { return m.env[name] }

func (m *machine) step(s program.Statement) error {
	switch s := s.(type) {
	case program.Play:
		return m.play(s)
	case program.FrameRotation:
		m.frames[s.Channel] += s.Turns.Eval(m.lookup)
	case program.Wait:
		return m.wait(s)
	case program.Align:
		m.clocks.Align(s.Channels...)
	case program.Measure:
		return m.measure(s)
	case program.Save:
		return m.save(s)
	case program.For:
		return m.loop(s)
	case program.ForEach:
		for _, v := range s.Values {
			if err := m.iterate(s.Variable, v, s.Body); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported statement %T", s)
	}
	return nil
}

func (m *machine) iterate(variable string, v float64, body []program.Statement) error {
	if err := m.ctx.Err(); err != nil {
		return err
	}
	m.env[variable] = v
	delete(m.produced, variable)
	return m.run(body)
}

func (m *machine) loop(f program.For) error {
	start := f.Start.Eval(m.lookup)
	limit := f.Limit.Eval(m.lookup)
	step := f.Step.Eval(m.lookup)
	if step <= 0 {
		return fmt.Errorf("loop over %s has non-positive step %v", f.Variable, step)
	}
	for v := start; v < limit; v += step {
		if err := m.iterate(f.Variable, v, f.Body); err != nil {
			return err
		}
	}
	return nil
}

func (m *machine) play(p program.Play) error {
	pulse, err := m.hw.Pulse(p.Channel, p.Operation)
	if err != nil {
		return err
	}
	length := pulse.Length.Cycles()
	if p.Duration != nil {
		length = clock.Cycles(math.Round(p.Duration.Eval(m.lookup)))
	}
	amp := 1.0
	if p.Amplitude != nil {
		amp = p.Amplitude.Eval(m.lookup)
	}
	level := amp * m.level(pulse.Waveform)

	start := m.clocks.Time(p.Channel)
	if angle := m.spins.flipAngle(level, length); angle != 0 {
		m.spins.Nutate(start, angle, 2*math.Pi*m.frames[p.Channel])
	}
	m.emit(Event{Channel: p.Channel, Kind: EventPlay, Operation: p.Operation, Amplitude: level}, start, length)
	m.clocks.Dwell(length, p.Channel)
	return m.checkHorizon()
}

// level is the mean output level of a waveform.
func (m *machine) level(name string) float64 {
	wf, ok := m.hw.Waveforms[name]
	if !ok {
		return 0
	}
	if wf.Type == hardware.ArbitraryWaveform {
		if len(wf.Samples) == 0 {
			return 0
		}
		return floats.Sum(wf.Samples) / float64(len(wf.Samples))
	}
	return wf.Sample
}

func (m *machine) wait(w program.Wait) error {
	cycles := clock.Cycles(math.Round(w.Cycles.Eval(m.lookup)))
	if cycles < 0 {
		return fmt.Errorf("wait of %d cycles", cycles)
	}
	for _, ch := range m.clocks.resolve(w.Channels) {
		m.emit(Event{Channel: ch, Kind: EventWait}, m.clocks.Time(ch), cycles)
	}
	m.clocks.Dwell(cycles, w.Channels...)
	return m.checkHorizon()
}

func (m *machine) measure(s program.Measure) error {
	pulse, err := m.hw.Pulse(s.Channel, s.Operation)
	if err != nil {
		return err
	}
	length := pulse.Length.Cycles()
	start := m.clocks.Time(s.Channel)
	mid := start + length/2
	for _, d := range []program.Demod{s.I, s.Q} {
		w, err := m.weight(pulse, d.Weight)
		if err != nil {
			return err
		}
		m.env[d.Target] = m.spins.Acquire(mid, w.Real, w.Imag)
		m.produced[d.Target] = start + length
	}
	m.emit(Event{Channel: s.Channel, Kind: EventMeasure, Operation: s.Operation}, start, length)
	m.clocks.Dwell(length, s.Channel)
	return m.checkHorizon()
}

func (m *machine) weight(p hardware.Pulse, key string) (hardware.IntegrationWeight, error) {
	name, ok := p.IntegrationWeights[key]
	if !ok {
		return hardware.IntegrationWeight{}, fmt.Errorf("measurement has no integration weight %q", key)
	}
	w, ok := m.hw.IntegrationWeights[name]
	if !ok {
		return hardware.IntegrationWeight{}, fmt.Errorf("integration weight %q is not defined", name)
	}
	return w, nil
}

func (m *machine) save(s program.Save) error {
	at, ok := m.produced[s.Variable]
	if !ok {
		at = m.clocks.Latest()
	}
	v := m.env[s.Variable]
	m.streams[s.Stream] = append(m.streams[s.Stream], record{at: at, value: v})
	if s.Stream == m.progress && m.onProgress != nil {
		return m.onProgress(int(v) + 1)
	}
	return nil
}

func (m *machine) emit(e Event, start, length clock.Cycles) {
	if !m.record || (m.horizon > 0 && start >= m.horizon) {
		return
	}
	e.Start = start.Duration()
	e.Length = length.Duration()
	m.events = append(m.events, e)
}

func (m *machine) checkHorizon() error {
	if m.horizon > 0 && m.clocks.Earliest() >= m.horizon {
		return errLimit
	}
	return nil
}

// outputs reduces every declared output from the streams collected so far.
func (m *machine) outputs(p *program.Program) map[string]Output {
	out := make(map[string]Output)
	for _, o := range p.Outputs() {
		out[o.Name] = reduce(o, m.streams[o.Stream].values())
	}
	return out
}

// check resolves every channel, operation and integration weight the
// program references against the hardware configuration.
func check(hw *hardware.Config, p *program.Program) error {
	channel := func(name string) error {
		if !hw.HasChannel(name) {
			return errors.UnknownChannelError(name)
		}
		return nil
	}
	return p.Walk(func(s program.Statement, _ int) error {
		switch s := s.(type) {
		case program.Play:
			if _, err := hw.Pulse(s.Channel, s.Operation); err != nil {
				return errors.Wrap(err, errors.ErrConfig, "cannot resolve play").
					SetChannel(s.Channel).SetOperation(s.Operation)
			}
		case program.Measure:
			pulse, err := hw.Pulse(s.Channel, s.Operation)
			if err != nil {
				return errors.Wrap(err, errors.ErrConfig, "cannot resolve measurement").
					SetChannel(s.Channel).SetOperation(s.Operation)
			}
			if pulse.Kind != hardware.MeasurePulse {
				return errors.New(errors.ErrConfig, "operation is not a measurement").
					SetChannel(s.Channel).SetOperation(s.Operation)
			}
			m := machine{hw: hw}
			for _, d := range []program.Demod{s.I, s.Q} {
				if _, err := m.weight(pulse, d.Weight); err != nil {
					return errors.Wrap(err, errors.ErrConfig, "cannot resolve demodulation").
						SetChannel(s.Channel).SetOperation(s.Operation)
				}
			}
		case program.FrameRotation:
			return channel(s.Channel)
		case program.Wait:
			for _, ch := range s.Channels {
				if err := channel(ch); err != nil {
					return err
				}
			}
		case program.Align:
			for _, ch := range s.Channels {
				if err := channel(ch); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
