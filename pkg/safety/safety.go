// Package safety implements the transmit/receive interlock that protects
// the receiver from the RF power amplifier. The switch and amplifier are
// modelled as a small state machine with mandatory settle times; the Drive,
// Readout and Safe macros are the only sanctioned transitions, and Verify
// replays a finished program against the same rules.
package safety

import (
	"fmt"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/hardware"
	"ssnmr-sequencer/pkg/program"
)

// Interlock settle times in clock cycles.
const (
	RxSwitchDelay           clock.Cycles = 230
	AmplifierUnblankingTime clock.Cycles = 500
	AmplifierBlankingTime   clock.Cycles = 500
)

// SwitchState is the receiver protection switch position.
type SwitchState int

const (
	// SwitchBlocking isolates the receiver (transmit mode).
	SwitchBlocking SwitchState = iota
	// SwitchPassing connects the probe to the receiver.
	SwitchPassing
)

func (s SwitchState) String() string {
	switch s {
	case SwitchBlocking:
		return "blocking"
	case SwitchPassing:
		return "passing"
	default:
		return "unknown"
	}
}

// AmplifierState is the RF power amplifier gate.
type AmplifierState int

const (
	AmplifierBlanked AmplifierState = iota
	AmplifierUnblanked
)

func (s AmplifierState) String() string {
	switch s {
	case AmplifierBlanked:
		return "blanked"
	case AmplifierUnblanked:
		return "unblanked"
	default:
		return "unknown"
	}
}

// Channels names the switch and amplifier elements.
type Channels struct {
	Switch    string
	Amplifier string
}

// State is the interlock state together with the cycles elapsed since each
// device last changed.
type State struct {
	Switch           SwitchState
	Amplifier        AmplifierState
	SwitchSettled    clock.Cycles
	AmplifierSettled clock.Cycles
}

func (s State) String() string {
	return fmt.Sprintf("switch %s (%d cycles), amplifier %s (%d cycles)",
		s.Switch, s.SwitchSettled, s.Amplifier, s.AmplifierSettled)
}

// settled is the initial state: receiver isolated, amplifier off, both long
// since settled.
func settled() State {
	return State{
		Switch:           SwitchBlocking,
		Amplifier:        AmplifierBlanked,
		SwitchSettled:    RxSwitchDelay,
		AmplifierSettled: RxSwitchDelay,
	}
}

// Emitter receives the statements a macro produces. *program.Builder
// implements it.
type Emitter interface {
	Align(channels ...string)
	Play(operation, channel string, opts ...program.PlayOption)
	Wait(cycles program.Operand, channels ...string)
}

// Interlock tracks the switch and amplifier while a program is emitted.
type Interlock struct {
	channels Channels
	state    State
}

// NewInterlock returns an interlock in the settled safe state.
func NewInterlock(ch Channels) *Interlock {
	return &Interlock{channels: ch, state: settled()}
}

// State returns the current state.
func (il *Interlock) State() State { return il.state }

// Channels returns the switch and amplifier element names.
func (il *Interlock) Channels() Channels { return il.channels }

func (il *Interlock) setSwitch(e Emitter, to SwitchState) error {
	if err := il.state.checkSwitch(il.channels, to); err != nil {
		return err
	}
	op := hardware.OpVoltageOff
	if to == SwitchPassing {
		op = hardware.OpVoltageOn
	}
	e.Play(op, il.channels.Switch)
	il.state.Switch, il.state.SwitchSettled = to, 0
	return nil
}

func (il *Interlock) setAmplifier(e Emitter, to AmplifierState) error {
	if err := il.state.checkAmplifier(il.channels, to); err != nil {
		return err
	}
	op := hardware.OpVoltageOff
	if to == AmplifierUnblanked {
		op = hardware.OpVoltageOn
	}
	e.Play(op, il.channels.Amplifier)
	il.state.Amplifier, il.state.AmplifierSettled = to, 0
	return nil
}

// Wait emits a wait on the given channels (all when empty) and credits the
// switch and amplifier with the elapsed cycles when they are included.
func (il *Interlock) Wait(e Emitter, cycles clock.Cycles, channels ...string) {
	e.Wait(program.Lit(float64(cycles)), channels...)
	il.state.advance(il.channels, cycles, channels)
}

// Drive puts the hardware in transmit mode: receiver isolated, then the
// amplifier unblanked once the switch has settled.
func (il *Interlock) Drive(e Emitter) error {
	e.Align()
	if err := il.setSwitch(e, SwitchBlocking); err != nil {
		return err
	}
	e.Align()
	il.Wait(e, RxSwitchDelay)
	if err := il.setAmplifier(e, AmplifierUnblanked); err != nil {
		return err
	}
	e.Align()
	il.Wait(e, AmplifierUnblankingTime)
	e.Align()
	return il.expect("drive", SwitchBlocking, AmplifierUnblanked)
}

// Readout puts the hardware in receive mode: amplifier blanked, then the
// switch opened to the receiver once the amplifier has settled.
func (il *Interlock) Readout(e Emitter) error {
	e.Align()
	if err := il.setAmplifier(e, AmplifierBlanked); err != nil {
		return err
	}
	e.Align()
	il.Wait(e, RxSwitchDelay)
	if err := il.setSwitch(e, SwitchPassing); err != nil {
		return err
	}
	e.Align()
	il.Wait(e, AmplifierBlankingTime)
	e.Align()
	return il.expect("readout", SwitchPassing, AmplifierBlanked)
}

// Safe isolates the receiver and blanks the amplifier together.
func (il *Interlock) Safe(e Emitter) error {
	e.Align()
	if err := il.setSwitch(e, SwitchBlocking); err != nil {
		return err
	}
	if err := il.setAmplifier(e, AmplifierBlanked); err != nil {
		return err
	}
	e.Align()
	il.Wait(e, RxSwitchDelay)
	e.Align()
	return il.expect("safe", SwitchBlocking, AmplifierBlanked)
}

func (il *Interlock) expect(macro string, sw SwitchState, amp AmplifierState) error {
	if il.state.Switch != sw || il.state.Amplifier != amp {
		return errors.InterlockViolationError(il.channels.Switch,
			fmt.Sprintf("%s left %s, want switch %s and amplifier %s", macro, il.state, sw, amp))
	}
	return nil
}

// checkSwitch enforces that the receiver only opens with the amplifier
// blanked and settled.
func (s State) checkSwitch(ch Channels, to SwitchState) error {
	if to != SwitchPassing {
		return nil
	}
	if s.Amplifier != AmplifierBlanked {
		return errors.InterlockViolationError(ch.Switch, "switch opened to receiver with amplifier unblanked")
	}
	if s.AmplifierSettled < RxSwitchDelay {
		return errors.InterlockViolationError(ch.Switch, fmt.Sprintf(
			"switch opened %d cycles after amplifier blanking, need %d", s.AmplifierSettled, RxSwitchDelay))
	}
	return nil
}

// checkAmplifier enforces that the amplifier only unblanks with the
// receiver isolated and the switch settled.
func (s State) checkAmplifier(ch Channels, to AmplifierState) error {
	if to != AmplifierUnblanked {
		return nil
	}
	if s.Switch != SwitchBlocking {
		return errors.InterlockViolationError(ch.Amplifier, "amplifier unblanked with receiver switch passing")
	}
	if s.SwitchSettled < RxSwitchDelay {
		return errors.InterlockViolationError(ch.Amplifier, fmt.Sprintf(
			"amplifier unblanked %d cycles after switch change, need %d", s.SwitchSettled, RxSwitchDelay))
	}
	return nil
}

func (s *State) advance(ch Channels, cycles clock.Cycles, channels []string) {
	if covers(channels, ch.Switch) {
		s.SwitchSettled += cycles
	}
	if covers(channels, ch.Amplifier) {
		s.AmplifierSettled += cycles
	}
}

func covers(channels []string, name string) bool {
	if len(channels) == 0 {
		return true
	}
	for _, c := range channels {
		if c == name {
			return true
		}
	}
	return false
}
