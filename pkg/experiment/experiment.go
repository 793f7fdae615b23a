// Package experiment turns a list of symbolic pulse, delay and align
// commands into an executable pulse program. Commands are validated against
// the hardware configuration as they are added; at most one swept quantity
// may exist, shared by all swept fields as proportional vectors. Lowering
// wraps the commands in the averaging and sweep loops, the transmit/receive
// interlock macros and the interleaved two-channel readout.
package experiment

import (
	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/hardware"
	"ssnmr-sequencer/pkg/program"
	"ssnmr-sequencer/pkg/settings"
)

// Option configures an Experiment.
type Option func(*Experiment)

// WithShape declares the experiment fixed (default) or swept.
func WithShape(shape Shape) Option {
	return func(e *Experiment) { e.shape = shape }
}

// WithoutInitialDelay skips the thermal reset wait before the first scan.
func WithoutInitialDelay() Option {
	return func(e *Experiment) { e.initialDelay = false }
}

// WithSweepLabel names the swept quantity in saved results.
func WithSweepLabel(label string) Option {
	return func(e *Experiment) { e.sweepLabel = label }
}

// Experiment is a sequence bound to settings, a hardware configuration and
// a declared shape.
type Experiment struct {
	settings     settings.Settings
	seq          *Sequence
	plan         TimingPlan
	roles        Roles
	shape        Shape
	initialDelay bool
	sweepAxis    []float64
	sweepLabel   string
}

// New creates an empty experiment. It fails if the readout delay is too
// short for the interlock or the configuration lacks the channels and
// operations the readout needs.
func New(s settings.Settings, hw ChannelLookup, opts ...Option) (*Experiment, error) {
	plan, err := NewTimingPlan(s)
	if err != nil {
		return nil, err
	}
	e := &Experiment{
		settings:     s,
		seq:          NewSequence(hw),
		plan:         plan,
		roles:        Roles{Probe: s.ResKey, Helper: s.HelperKey, Amplifier: s.AmpKey, Switch: s.SwKey},
		initialDelay: true,
		sweepLabel:   "Swept Variable",
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, need := range []struct{ channel, op string }{
		{e.roles.Probe, hardware.OpNoPulseReadout},
		{e.roles.Helper, hardware.OpNoPulseReadout},
		{e.roles.Amplifier, hardware.OpVoltageOn},
		{e.roles.Amplifier, hardware.OpVoltageOff},
		{e.roles.Switch, hardware.OpVoltageOn},
		{e.roles.Switch, hardware.OpVoltageOff},
	} {
		if err := e.seq.checkOperation(need.channel, need.op); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddPulse appends a pulse; see Sequence.AddPulse.
func (e *Experiment) AddPulse(operation, channel string, opts ...PulseOption) error {
	return e.seq.AddPulse(operation, channel, opts...)
}

// AddDelay appends a delay in nanoseconds; see Sequence.AddDelay.
func (e *Experiment) AddDelay(d Param) error {
	return e.seq.AddDelay(d)
}

// AddAlign appends an alignment; see Sequence.AddAlign.
func (e *Experiment) AddAlign(channels ...string) error {
	return e.seq.AddAlign(channels...)
}

// RemoveInitialDelay drops (true) or restores (false) the thermal reset wait
// before the first scan.
func (e *Experiment) RemoveInitialDelay(remove bool) {
	e.initialDelay = !remove
}

// InitialDelay reports whether the program starts with a thermal reset wait.
func (e *Experiment) InitialDelay() bool { return e.initialDelay }

// SetSweepAxis sets the values reported for the sweep axis in results, for
// when the registered sweep vector is in internal units (turns, cycles).
func (e *Experiment) SetSweepAxis(axis []float64) {
	e.sweepAxis = append([]float64(nil), axis...)
}

// SweepAxis returns the sweep axis: the value set with SetSweepAxis, or
// the registered sweep vector.
func (e *Experiment) SweepAxis() []float64 {
	if e.sweepAxis != nil {
		return append([]float64(nil), e.sweepAxis...)
	}
	return e.seq.SweepVector()
}

// SetSweepLabel names the swept quantity.
func (e *Experiment) SetSweepLabel(label string) { e.sweepLabel = label }

// SweepLabel returns the swept quantity's name.
func (e *Experiment) SweepLabel() string { return e.sweepLabel }

// Sequence returns the experiment's command sequence.
func (e *Experiment) Sequence() *Sequence { return e.seq }

// Settings returns the settings the experiment was created with.
func (e *Experiment) Settings() settings.Settings { return e.settings }

// Shape returns the declared shape.
func (e *Experiment) Shape() Shape { return e.shape }

// Roles returns the channels the program drives.
func (e *Experiment) Roles() Roles { return e.roles }

// Plan returns the timing plan including the current sweep length.
func (e *Experiment) Plan() TimingPlan {
	return e.plan.WithSweep(len(e.seq.SweepVector()))
}

// Validate checks the sequence is non-empty and matches the declared shape.
func (e *Experiment) Validate() error {
	if e.seq.Len() == 0 {
		return errors.EmptySequenceError()
	}
	return e.seq.Validate(e.shape)
}

// Program lowers the experiment.
func (e *Experiment) Program() (*program.Program, error) {
	return Lower(e.seq, e.Plan(), LowerOptions{
		Shape:        e.shape,
		Roles:        e.roles,
		InitialDelay: e.initialDelay,
	})
}
