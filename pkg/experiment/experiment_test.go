package experiment

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/hardware"
	"ssnmr-sequencer/pkg/program"
	"ssnmr-sequencer/pkg/safety"
	"ssnmr-sequencer/pkg/settings"
)

func testConfig(t *testing.T) *hardware.Config {
	t.Helper()
	cfg, err := hardware.FromSettings(settings.Default())
	require.NoError(t, err)
	return cfg
}

func newExperiment(t *testing.T, opts ...Option) *Experiment {
	t.Helper()
	e, err := New(settings.Default(), testConfig(t), opts...)
	require.NoError(t, err)
	return e
}

func amplitudes() []float64 {
	v := make([]float64, 11)
	for i := range v {
		v[i] = 0.05 * float64(i)
	}
	return v
}

func TestAddPulseValidatesChannel(t *testing.T) {
	seq := NewSequence(testConfig(t))

	err := seq.AddPulse("pi_half", "probe")
	assert.True(t, errors.Is(err, errors.ErrConfig))

	err = seq.AddPulse("flip", "resonator")
	assert.True(t, errors.Is(err, errors.ErrConfig))
	assert.Contains(t, err.Error(), "flip")

	err = seq.AddAlign("resonator", "nowhere")
	assert.True(t, errors.Is(err, errors.ErrConfig))
	assert.Equal(t, 0, seq.Len())
}

func TestAddPulseRejectsMalformedCommands(t *testing.T) {
	seq := NewSequence(testConfig(t))

	err := seq.AddPulse("pi_half", "resonator", WithPhase(Vector(0, 90)), WithAmplitude(Vector(1, 2)))
	assert.True(t, errors.Is(err, errors.ErrInvalidCommand))

	err = seq.AddPulse("pi_half", "resonator", WithAmplitude(Vector()))
	assert.True(t, errors.Is(err, errors.ErrInvalidCommand))

	err = seq.AddPulse("pi_half", "resonator", WithLength(Scalar(-8)))
	assert.True(t, errors.Is(err, errors.ErrInvalidCommand))

	err = seq.AddPulse("pi_half", "resonator", WithLength(Scalar(60)))
	assert.True(t, errors.Is(err, errors.ErrInvalidCommand))

	assert.Equal(t, 0, seq.Len())
	assert.False(t, seq.Swept())
}

func TestAddPulseNormalizes(t *testing.T) {
	seq := NewSequence(testConfig(t))
	require.NoError(t, seq.AddPulse("pi_half", "resonator", WithPhase(Scalar(-90)), WithLength(Scalar(1003))))
	require.NoError(t, seq.AddPulse("pi", "helper", WithPhase(Scalar(450)), WithAmplitude(Scalar(0.5))))

	cmds := seq.Commands()
	require.Len(t, cmds, 2)
	first := cmds[0].(PulseCommand)
	assert.InDelta(t, 0.75, first.Phase, 1e-12)
	assert.Equal(t, clock.Cycles(250), first.Length)
	assert.Equal(t, 1.0, first.Amplitude)
	assert.Equal(t, FieldNone, first.Swept)

	second := cmds[1].(PulseCommand)
	assert.InDelta(t, 0.25, second.Phase, 1e-12)
	assert.Equal(t, 0.5, second.Amplitude)
	assert.Equal(t, clock.Cycles(0), second.Length)
}

func TestAddDelay(t *testing.T) {
	seq := NewSequence(testConfig(t))
	require.NoError(t, seq.AddDelay(Scalar(2003)))
	assert.Equal(t, DelayCommand{Cycles: 500, Scale: 1}, seq.Commands()[0])

	assert.True(t, errors.Is(seq.AddDelay(Scalar(-4)), errors.ErrInvalidCommand))
	assert.True(t, errors.Is(seq.AddDelay(Scalar(63)), errors.ErrInvalidCommand))
	assert.True(t, errors.Is(seq.AddDelay(Vector()), errors.ErrInvalidCommand))

	require.NoError(t, seq.AddDelay(Vector(1000, 2002, 3000)))
	assert.Equal(t, []float64{250, 500, 750}, seq.SweepVector())
	kind, ok := seq.SweepKind()
	assert.True(t, ok)
	assert.Equal(t, program.Int, kind)
}

func TestSingleSweepSource(t *testing.T) {
	seq := NewSequence(testConfig(t))
	require.NoError(t, seq.AddPulse("pi_half", "resonator", WithAmplitude(Vector(0.1, 0.2, 0.3))))
	require.NoError(t, seq.AddPulse("pi", "resonator", WithAmplitude(Vector(0.2, 0.4, 0.6))))

	cmds := seq.Commands()
	assert.InDelta(t, 0.5, cmds[1].(PulseCommand).Scale, 1e-12)

	err := seq.AddPulse("pi", "resonator", WithAmplitude(Vector(0.1, 0.2, 0.4)))
	assert.True(t, errors.Is(err, errors.ErrInvalidSweep))
	err = seq.AddPulse("pi", "resonator", WithAmplitude(Vector(-0.1, -0.2, -0.3)))
	assert.True(t, errors.Is(err, errors.ErrInvalidSweep))
	assert.Equal(t, 2, seq.Len())
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, seq.SweepVector())
}

func TestSweepKindsCannotMix(t *testing.T) {
	seq := NewSequence(testConfig(t))
	require.NoError(t, seq.AddDelay(Vector(400, 800)))
	err := seq.AddPulse("pi_half", "resonator", WithAmplitude(Vector(100, 200)))
	assert.True(t, errors.Is(err, errors.ErrInvalidSweep))
	kind, _ := seq.SweepKind()
	assert.Equal(t, program.Int, kind)

	require.NoError(t, seq.AddPulse("pi_half", "resonator", WithLength(Vector(800, 1600))))
	assert.Equal(t, 2, seq.Len())

	// Proportional but of different kinds: the delay would replay 0.1 and
	// 0.2 as cycle counts.
	seq = NewSequence(testConfig(t))
	require.NoError(t, seq.AddPulse("pi_half", "resonator", WithAmplitude(Vector(0.1, 0.2))))
	err = seq.AddDelay(Vector(400, 800))
	assert.True(t, errors.Is(err, errors.ErrInvalidSweep))
	assert.Equal(t, 1, seq.Len())
	assert.Equal(t, []float64{0.1, 0.2}, seq.SweepVector())
}

func TestSweptDelaysOffByOneCycleRejected(t *testing.T) {
	seq := NewSequence(testConfig(t))
	require.NoError(t, seq.AddDelay(Vector(40000, 80000, 120000)))

	err := seq.AddDelay(Vector(40000, 80000, 120004))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidSweep))
	assert.Equal(t, 1, seq.Len())
	assert.Equal(t, []float64{10000, 20000, 30000}, seq.SweepVector())

	err = seq.AddPulse("pi_half", "resonator", WithLength(Vector(40000, 80000, 120004)))
	assert.True(t, errors.Is(err, errors.ErrInvalidSweep))

	require.NoError(t, seq.AddDelay(Vector(80000, 160000, 240000)))
	assert.Equal(t, 2, seq.Len())
}

func TestAddPulseRejectsNonFinite(t *testing.T) {
	tests := []struct {
		name string
		opt  PulseOption
	}{
		{"nan amplitude vector", WithAmplitude(Vector(math.NaN(), 1))},
		{"inf amplitude vector", WithAmplitude(Vector(1, math.Inf(1)))},
		{"nan amplitude", WithAmplitude(Scalar(math.NaN()))},
		{"inf phase vector", WithPhase(Vector(0, math.Inf(-1)))},
		{"nan phase", WithPhase(Scalar(math.NaN()))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := NewSequence(testConfig(t))
			err := seq.AddPulse("pi_half", "resonator", tt.opt)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidCommand))
			assert.Equal(t, 0, seq.Len())
			assert.False(t, seq.Swept())
		})
	}
}

func TestSweptCommandStringShowsScale(t *testing.T) {
	seq := NewSequence(testConfig(t))
	require.NoError(t, seq.AddPulse("pi_half", "resonator", WithAmplitude(Vector(0.1, 0.2))))
	require.NoError(t, seq.AddPulse("pi_half", "resonator", WithAmplitude(Vector(0.2, 0.4))))

	cmds := seq.Commands()
	assert.Equal(t, "pulse pi_half on resonator amp=<sweep>", cmds[0].String())
	assert.Equal(t, "pulse pi_half on resonator amp=<sweep>/0.5", cmds[1].String())

	seq = NewSequence(testConfig(t))
	require.NoError(t, seq.AddDelay(Vector(400, 800)))
	require.NoError(t, seq.AddDelay(Vector(800, 1600)))
	assert.Equal(t, "delay <sweep>/0.5", seq.Commands()[1].String())
}

func TestInconsistentSweepRejected(t *testing.T) {
	seq := NewSequence(testConfig(t))
	require.NoError(t, seq.AddPulse("pi_half", "resonator", WithPhase(Vector(0, 1, 2))))
	err := seq.AddPulse("pi_half", "resonator", WithAmplitude(Vector(1, 1, 2)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidSweep))
	assert.Equal(t, 1, seq.Len())
}

func TestValidateShape(t *testing.T) {
	seq := NewSequence(testConfig(t))
	require.NoError(t, seq.AddPulse("pi_half", "resonator"))
	assert.NoError(t, seq.Validate(ShapeFixed))
	assert.True(t, errors.Is(seq.Validate(ShapeSwept), errors.ErrShapeMismatch))

	require.NoError(t, seq.AddPulse("pi_half", "resonator", WithPhase(Vector(0, 90))))
	assert.NoError(t, seq.Validate(ShapeSwept))
	assert.True(t, errors.Is(seq.Validate(ShapeFixed), errors.ErrShapeMismatch))
}

func TestInterlockMinimum(t *testing.T) {
	cfg := testConfig(t)
	s := settings.Default()

	s.ReadoutDelay = 4 * (16 + 2*500 + 230)
	_, err := New(s, cfg)
	assert.NoError(t, err)
	assert.Equal(t, clock.Cycles(16), PreScanDelay(s.ReadoutDelay))

	s.ReadoutDelay -= 1
	_, err = New(s, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInterlockTiming))
}

func TestNewRequiresReadoutChannels(t *testing.T) {
	cfg := testConfig(t)
	delete(cfg.Elements["switch"].Operations, hardware.OpVoltageOn)
	_, err := New(settings.Default(), cfg)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestTimingPlan(t *testing.T) {
	plan, err := NewTimingPlan(settings.Default())
	require.NoError(t, err)
	assert.Equal(t, 4, plan.Averages)
	assert.Equal(t, clock.Cycles(3770), plan.PreScanDelay)
	assert.Equal(t, clock.Cycles(1000), plan.LoopWait)
	assert.Equal(t, clock.Cycles(1_000_000_000), plan.ThermalReset)
	assert.Equal(t, 64, plan.MeasureSequenceLen)
	assert.Equal(t, 0, plan.SweepLen)
	require.Len(t, plan.TauSweep, 64)
	assert.Equal(t, 2000.0, plan.TauSweep[0])
	assert.Equal(t, 6000.0, plan.TauSweep[1])

	s := settings.Default()
	s.ReadoutEnd = s.DwellTime - 1
	_, err = NewTimingPlan(s)
	assert.True(t, errors.Is(err, errors.ErrSettingsValidation))
}

func TestLowerRejectsEmptyAndMismatched(t *testing.T) {
	e := newExperiment(t)
	_, err := e.Program()
	assert.True(t, errors.Is(err, errors.ErrEmptySequence))
	assert.True(t, errors.Is(e.Validate(), errors.ErrEmptySequence))

	require.NoError(t, e.AddPulse("pi_half", "resonator", WithAmplitude(Vector(0.1, 0.2))))
	p, err := e.Program()
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, errors.ErrShapeMismatch))
}

func TestFixedPointFID(t *testing.T) {
	e := newExperiment(t)
	require.NoError(t, e.AddPulse("pi_half", "resonator"))
	require.NoError(t, e.Validate())

	p, err := e.Program()
	require.NoError(t, err)

	_, hasVar := p.Variable(VarSweep)
	assert.False(t, hasVar)

	body := p.Body()
	require.Len(t, body, 2)
	assert.Equal(t, program.Wait{Cycles: program.Lit(1e9), Channels: []string{"resonator"}}, body[0])

	avg, ok := body[1].(program.For)
	require.True(t, ok)
	assert.Equal(t, VarIteration, avg.Variable)
	assert.Equal(t, program.Lit(4), avg.Limit)

	scan := avg.Body
	require.Len(t, scan, 35)
	assert.Equal(t, program.Play{Operation: "pi_half", Channel: "resonator"}, scan[8])
	assert.Equal(t, program.Wait{Cycles: program.Lit(3770)}, scan[15])

	primary := scan[24].(program.For)
	assert.Equal(t, VarPrimaryT, primary.Variable)
	assert.Equal(t, program.Lit(0), primary.Start)
	assert.Equal(t, program.Lit(64), primary.Limit)
	assert.Equal(t, program.Lit(2), primary.Step)
	assert.Equal(t, program.Measure{
		Operation: "no_pulse_readout",
		Channel:   "resonator",
		I:         program.Demod{Weight: "rotated_cos", Target: "I1"},
		Q:         program.Demod{Weight: "rotated_sin", Target: "Q1"},
	}, primary.Body[0])

	assert.Equal(t, program.Wait{Cycles: program.Lit(1000), Channels: []string{"helper"}}, scan[25])
	helper := scan[26].(program.For)
	assert.Equal(t, program.Lit(1), helper.Start)
	assert.Equal(t, "helper", helper.Body[0].(program.Measure).Channel)

	assert.Equal(t, program.Save{Variable: VarIteration, Stream: StreamIteration}, scan[34])

	for _, v := range scan {
		_, isSweep := v.(program.ForEach)
		assert.False(t, isSweep)
	}

	out, ok := p.Output(ResultI)
	require.True(t, ok)
	assert.Equal(t, []int{64}, out.Buffer)
	assert.True(t, out.Average)
	it, ok := p.Output(ResultIteration)
	require.True(t, ok)
	assert.False(t, it.Average)
	assert.Empty(t, it.Buffer)

	assert.NoError(t, safety.Verify(p, safety.Channels{Switch: "switch", Amplifier: "amplifier"}))
}

func TestAmplitudeSweepScenario(t *testing.T) {
	e := newExperiment(t, WithShape(ShapeSwept))
	for i := 0; i < 8; i++ {
		require.NoError(t, e.AddPulse("pi_half", "resonator", WithAmplitude(Vector(amplitudes()...))))
		require.NoError(t, e.AddDelay(Scalar(2000)))
	}
	require.NoError(t, e.AddPulse("pi_half", "resonator", WithAmplitude(Vector(amplitudes()...))))

	pulses := 0
	for _, c := range e.Sequence().Commands() {
		if pc, ok := c.(PulseCommand); ok {
			pulses++
			assert.Equal(t, FieldAmplitude, pc.Swept)
			assert.Equal(t, 1.0, pc.Scale)
		}
	}
	assert.Equal(t, 9, pulses)
	assert.Equal(t, 11, e.Plan().SweepLen)

	p, err := e.Program()
	require.NoError(t, err)

	v, ok := p.Variable(VarSweep)
	require.True(t, ok)
	assert.Equal(t, program.Fixed, v.Type)

	for _, name := range []string{ResultI, ResultQ} {
		out, ok := p.Output(name)
		require.True(t, ok)
		assert.Equal(t, []int{11, 64}, out.Buffer)
	}

	avg := p.Body()[1].(program.For)
	require.Len(t, avg.Body, 2)
	loop := avg.Body[0].(program.ForEach)
	assert.Equal(t, amplitudes(), loop.Values)
	play := loop.Body[8].(program.Play)
	require.NotNil(t, play.Amplitude)
	assert.Equal(t, program.Var(VarSweep), *play.Amplitude)
	assert.Equal(t, program.Save{Variable: VarIteration, Stream: StreamIteration}, avg.Body[1])

	assert.NoError(t, safety.Verify(p, safety.Channels{Switch: "switch", Amplifier: "amplifier"}))
}

func TestPhaseReplay(t *testing.T) {
	e := newExperiment(t, WithShape(ShapeSwept), WithoutInitialDelay())
	require.NoError(t, e.AddPulse("pi_half", "resonator", WithPhase(Vector(90, 180, 270))))
	require.NoError(t, e.AddPulse("pi", "resonator", WithPhase(Scalar(90)), WithLength(Scalar(2000))))
	require.NoError(t, e.AddDelay(Scalar(1000)))
	require.NoError(t, e.AddAlign("resonator", "helper"))

	p, err := e.Program()
	require.NoError(t, err)
	body := p.Body()
	require.Len(t, body, 1)

	loop := body[0].(program.For).Body[0].(program.ForEach)
	assert.Equal(t, []float64{0.25, 0.5, 0.75}, loop.Values)
	replay := loop.Body[8:17]
	assert.Equal(t, []program.Statement{
		program.FrameRotation{Channel: "resonator", Turns: program.Var(VarSweep)},
		program.Play{Operation: "pi_half", Channel: "resonator"},
		program.FrameRotation{Channel: "resonator", Turns: program.Neg(program.Var(VarSweep))},
		program.FrameRotation{Channel: "resonator", Turns: program.Lit(0.25)},
		program.Play{Operation: "pi", Channel: "resonator", Duration: &program.Operand{Value: 500}},
		program.FrameRotation{Channel: "resonator", Turns: program.Lit(-0.25)},
		program.Wait{Cycles: program.Lit(250)},
		program.Align{Channels: []string{"resonator", "helper"}},
		program.Align{},
	}, replay)
}

func TestSweptDelayReplay(t *testing.T) {
	e := newExperiment(t, WithShape(ShapeSwept))
	require.NoError(t, e.AddPulse("pi_half", "resonator"))
	require.NoError(t, e.AddDelay(Vector(400, 800, 1200)))
	require.NoError(t, e.AddPulse("pi_half", "resonator"))

	p, err := e.Program()
	require.NoError(t, err)
	v, _ := p.Variable(VarSweep)
	assert.Equal(t, program.Int, v.Type)
	loop := p.Body()[1].(program.For).Body[0].(program.ForEach)
	assert.Equal(t, program.Wait{Cycles: program.Var(VarSweep)}, loop.Body[9])
}

func TestLoweringIsDeterministic(t *testing.T) {
	build := func() *program.Program {
		e := newExperiment(t, WithShape(ShapeSwept))
		require.NoError(t, e.AddPulse("pi_half", "resonator", WithAmplitude(Vector(amplitudes()...))))
		require.NoError(t, e.AddDelay(Scalar(2000)))
		require.NoError(t, e.AddPulse("pi", "helper", WithPhase(Scalar(45))))
		p, err := e.Program()
		require.NoError(t, err)
		return p
	}
	a, b := build(), build()
	assert.Equal(t, a, b)
	assert.Equal(t, a.String(), b.String())

	e := newExperiment(t)
	require.NoError(t, e.AddPulse("pi_half", "resonator"))
	p1, err := e.Program()
	require.NoError(t, err)
	p2, err := e.Program()
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestSweepAxisAndInitialDelay(t *testing.T) {
	e := newExperiment(t, WithShape(ShapeSwept), WithSweepLabel("Phase (deg)"))
	require.NoError(t, e.AddPulse("pi_half", "resonator", WithPhase(Vector(90, 180))))
	assert.Equal(t, []float64{0.25, 0.5}, e.SweepAxis())
	e.SetSweepAxis([]float64{90, 180})
	assert.Equal(t, []float64{90, 180}, e.SweepAxis())
	assert.Equal(t, "Phase (deg)", e.SweepLabel())

	assert.True(t, e.InitialDelay())
	e.RemoveInitialDelay(true)
	p, err := e.Program()
	require.NoError(t, err)
	_, first := p.Body()[0].(program.For)
	assert.True(t, first)

	e.RemoveInitialDelay(false)
	p, err = e.Program()
	require.NoError(t, err)
	_, first = p.Body()[0].(program.Wait)
	assert.True(t, first)
}

func TestZeroThermalResetSkipsWaits(t *testing.T) {
	s := settings.Default()
	s.ThermalReset = 0
	e, err := New(s, testConfig(t))
	require.NoError(t, err)
	require.NoError(t, e.AddPulse("pi_half", "resonator"))
	p, err := e.Program()
	require.NoError(t, err)
	body := p.Body()
	require.Len(t, body, 1)
	assert.Len(t, body[0].(program.For).Body, 34)
}

func TestRecords(t *testing.T) {
	seq := NewSequence(testConfig(t))
	require.NoError(t, seq.AddPulse("pi_half", "resonator", WithAmplitude(Vector(0.1, 0.2))))
	require.NoError(t, seq.AddDelay(Scalar(400)))
	require.NoError(t, seq.AddAlign())

	recs := Records(seq.Commands())
	require.Len(t, recs, 3)
	assert.Equal(t, Record{Type: "pulse", Operation: "pi_half", Channel: "resonator", Swept: "amplitude", Scale: 1}, recs[0])
	assert.Equal(t, Record{Type: "delay", Cycles: 100}, recs[1])
	assert.Equal(t, Record{Type: "align"}, recs[2])

	assert.Equal(t, "pulse pi_half on resonator amp=<sweep>", seq.Commands()[0].String())
	assert.Equal(t, "delay 100cyc", seq.Commands()[1].String())
	assert.Equal(t, "align all", seq.Commands()[2].String())
}
