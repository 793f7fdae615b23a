// Program lowering
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package experiment

import (
	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/hardware"
	"ssnmr-sequencer/pkg/program"
	"ssnmr-sequencer/pkg/safety"
)

// Program variable and stream names.
const (
	VarIteration = "n"
	VarPrimaryT  = "t1"
	VarHelperT   = "t2"
	VarSweep     = "var"

	StreamIteration = "n_st"
	StreamI         = "I_st"
	StreamQ         = "Q_st"

	// Result names produced by stream processing.
	ResultIteration = "iteration"
	ResultI         = "I"
	ResultQ         = "Q"
)

// Roles names the channels the lowered program drives.
type Roles struct {
	Probe     string
	Helper    string
	Amplifier string
	Switch    string
}

// LowerOptions controls lowering.
type LowerOptions struct {
	Shape        Shape
	Roles        Roles
	InitialDelay bool
}

// Lower compiles a sequence into a program: an averaging loop around an
// optional sweep loop, each scan framed by the interlock macros and
// followed by the interleaved primary/helper readout, and a stream epilogue
// averaging I and Q over the averaging loop. It is deterministic and never
// returns a partial program.
func Lower(seq *Sequence, plan TimingPlan, opts LowerOptions) (*program.Program, error) {
	if seq.Len() == 0 {
		return nil, errors.EmptySequenceError()
	}
	if err := seq.Validate(opts.Shape); err != nil {
		return nil, err
	}
	kind, swept := seq.SweepKind()
	sweepValues := seq.SweepVector()

	b := program.NewBuilder()
	b.Declare(VarIteration, program.Int)
	b.Declare(VarPrimaryT, program.Int)
	b.Declare(VarHelperT, program.Int)
	for _, v := range []string{"I1", "Q1", "I2", "Q2"} {
		b.Declare(v, program.Fixed)
	}
	if swept {
		b.Declare(VarSweep, kind)
	}
	b.DeclareStream(StreamIteration)
	b.DeclareStream(StreamI)
	b.DeclareStream(StreamQ)

	l := &lowerer{
		b:        b,
		il:       safety.NewInterlock(safety.Channels{Switch: opts.Roles.Switch, Amplifier: opts.Roles.Amplifier}),
		roles:    opts.Roles,
		plan:     plan,
		commands: seq.Commands(),
	}

	if opts.InitialDelay {
		l.thermalWait()
	}

	var err error
	b.For(VarIteration, program.Lit(0), program.Lit(float64(plan.Averages)), program.Lit(1), func() {
		if swept {
			b.ForEach(VarSweep, sweepValues, func() { err = l.scan() })
		} else {
			err = l.scan()
		}
		b.Save(VarIteration, StreamIteration)
	})
	if err != nil {
		return nil, err
	}

	buffer := []int{plan.MeasureSequenceLen}
	if swept {
		buffer = []int{len(sweepValues), plan.MeasureSequenceLen}
	}
	b.Output(program.StreamOutput{Stream: StreamIteration, Name: ResultIteration})
	b.Output(program.StreamOutput{Stream: StreamI, Name: ResultI, Buffer: buffer, Average: true})
	b.Output(program.StreamOutput{Stream: StreamQ, Name: ResultQ, Buffer: buffer, Average: true})

	return b.Build()
}

type lowerer struct {
	b        *program.Builder
	il       *safety.Interlock
	roles    Roles
	plan     TimingPlan
	commands []Command
}

// scan emits one excitation and readout.
func (l *lowerer) scan() error {
	b := l.b
	if err := l.il.Drive(b); err != nil {
		return err
	}
	for _, c := range l.commands {
		l.replay(c)
	}
	if err := l.il.Safe(b); err != nil {
		return err
	}
	l.il.Wait(b, l.plan.PreScanDelay)
	if err := l.il.Readout(b); err != nil {
		return err
	}

	loopWait := program.Lit(float64(l.plan.LoopWait))
	samples := program.Lit(float64(l.plan.MeasureSequenceLen))
	b.For(VarPrimaryT, program.Lit(0), samples, program.Lit(2), func() {
		l.sample(l.roles.Probe, "I1", "Q1")
	})
	b.Wait(loopWait, l.roles.Helper)
	b.For(VarHelperT, program.Lit(1), samples, program.Lit(2), func() {
		l.sample(l.roles.Helper, "I2", "Q2")
	})

	if err := l.il.Safe(b); err != nil {
		return err
	}
	l.thermalWait()
	return nil
}

func (l *lowerer) sample(channel, i, q string) {
	l.b.Measure(hardware.OpNoPulseReadout, channel,
		program.Demod{Weight: hardware.WeightRotatedCos, Target: i},
		program.Demod{Weight: hardware.WeightRotatedSin, Target: q})
	l.b.Save(i, StreamI)
	l.b.Save(q, StreamQ)
	l.b.Wait(program.Lit(float64(l.plan.LoopWait)), channel)
}

// thermalWait lets the spins relax on the probe. A reset shorter than the
// minimum wait is skipped.
func (l *lowerer) thermalWait() {
	if l.plan.ThermalReset < clock.MinWaitCycles {
		return
	}
	l.b.Wait(program.Lit(float64(l.plan.ThermalReset)), l.roles.Probe)
}

func (l *lowerer) replay(c Command) {
	b := l.b
	sweep := program.Var(VarSweep)
	switch c := c.(type) {
	case PulseCommand:
		var opts []program.PlayOption
		switch {
		case c.Swept == FieldAmplitude:
			opts = append(opts, program.WithAmplitude(sweep))
		case c.Amplitude != 1:
			opts = append(opts, program.WithAmplitude(program.Lit(c.Amplitude)))
		}
		switch {
		case c.Swept == FieldLength:
			opts = append(opts, program.WithDuration(sweep))
		case c.Length != 0:
			opts = append(opts, program.WithDuration(program.Lit(float64(c.Length))))
		}
		rotation := program.Lit(c.Phase)
		if c.Swept == FieldPhase {
			rotation = sweep
		}
		rotate := c.Swept == FieldPhase || c.Phase != 0
		if rotate {
			b.FrameRotation(rotation, c.Channel)
		}
		b.Play(c.Operation, c.Channel, opts...)
		if rotate {
			b.FrameRotation(program.Neg(rotation), c.Channel)
		}
	case DelayCommand:
		if c.Swept {
			b.Wait(sweep)
		} else {
			b.Wait(program.Lit(float64(c.Cycles)))
		}
	case AlignCommand:
		b.Align(c.Channels...)
	}
}
