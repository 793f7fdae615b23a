package safety

import (
	"fmt"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/hardware"
	"ssnmr-sequencer/pkg/program"
)

// Verify replays p against the interlock rules and returns the first
// violation. Loops that may run more than once are replayed twice so the
// transition from the end of one iteration into the next is checked. Waits
// on variables are credited as zero cycles.
func Verify(p *program.Program, ch Channels) error {
	v := verifier{channels: ch, state: settled()}
	return v.run(p.Body())
}

type verifier struct {
	channels Channels
	state    State
}

func (v *verifier) run(body []program.Statement) error {
	for _, s := range body {
		if err := v.step(s); err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) step(s program.Statement) error {
	switch s := s.(type) {
	case program.Play:
		return v.play(s)
	case program.Wait:
		if !s.Cycles.IsVar() {
			v.state.advance(v.channels, clock.Cycles(s.Cycles.Value), s.Channels)
		}
	case program.Measure:
		if v.state.Amplifier != AmplifierBlanked {
			return errors.InterlockViolationError(s.Channel,
				fmt.Sprintf("%s measured with amplifier unblanked", s.Operation)).SetOperation(s.Operation)
		}
	case program.For:
		return v.loop(s.Body, forCount(s))
	case program.ForEach:
		return v.loop(s.Body, len(s.Values))
	}
	return nil
}

func (v *verifier) loop(body []program.Statement, count int) error {
	passes := 2
	if count >= 0 && count < 2 {
		passes = count
	}
	for i := 0; i < passes; i++ {
		if err := v.run(body); err != nil {
			return err
		}
	}
	return nil
}

// forCount returns the iteration count of a literal loop, or -1.
func forCount(f program.For) int {
	if f.Start.IsVar() || f.Limit.IsVar() || f.Step.IsVar() || f.Step.Value <= 0 {
		return -1
	}
	if f.Limit.Value <= f.Start.Value {
		return 0
	}
	n := int((f.Limit.Value - f.Start.Value) / f.Step.Value)
	if f.Start.Value+float64(n)*f.Step.Value < f.Limit.Value {
		n++
	}
	return n
}

func (v *verifier) play(p program.Play) error {
	switch p.Channel {
	case v.channels.Switch:
		to := SwitchBlocking
		if p.Operation == hardware.OpVoltageOn {
			to = SwitchPassing
		}
		if err := v.state.checkSwitch(v.channels, to); err != nil {
			return err
		}
		v.state.Switch, v.state.SwitchSettled = to, 0
	case v.channels.Amplifier:
		to := AmplifierBlanked
		if p.Operation == hardware.OpVoltageOn {
			to = AmplifierUnblanked
		}
		if err := v.state.checkAmplifier(v.channels, to); err != nil {
			return err
		}
		v.state.Amplifier, v.state.AmplifierSettled = to, 0
	}
	return nil
}
