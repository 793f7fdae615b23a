package hardware

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/settings"
)

// Defaults for the standard NMR installation.
const (
	DefaultHost       = "192.168.88.253"
	DefaultCluster    = "lex"
	DefaultController = "con1"

	// TimeOfFlight is the delay between a pulse leaving the controller and
	// its response arriving at the input.
	TimeOfFlight = 280 * clock.Nanosecond

	// MarkerPulseLength is the length of the switch and amplifier TTL pulses.
	// The elements are sticky so the level persists after the pulse.
	MarkerPulseLength = 40 * clock.Nanosecond
)

// Operation names understood by the probe and helper elements.
const (
	OpCW             = "cw"
	OpExcitation     = "excitation"
	OpReadout        = "readout"
	OpNoPulseReadout = "no_pulse_readout"
	OpPi             = "pi"
	OpPiHalf         = "pi_half"
	OpGaussianPiHalf = "gaussian_pi_half"

	// Digital operations of the amplifier and switch elements.
	OpVoltageOn  = "voltage_on"
	OpVoltageOff = "voltage_off"
)

// Integration weight keys referenced by measurement pulses.
const (
	WeightCos             = "cos"
	WeightSin             = "sin"
	WeightMinusSin        = "minus_sin"
	WeightRotatedCos      = "rotated_cos"
	WeightRotatedSin      = "rotated_sin"
	WeightRotatedMinusSin = "rotated_minus_sin"
)

// FromSettings builds the standard single-probe NMR configuration: one LF
// front-end module driving the probe and its helper on analog output 2,
// reading analog input 2, with the receiver switch, amplifier blanking and a
// debug marker on digital outputs 1-3.
func FromSettings(s settings.Settings) (*Config, error) {
	cfg := NewConfig(DefaultHost, DefaultCluster)

	fem := NewFEModule(1, "LF")
	fem.AddAnalogOutput(2, 0)
	fem.AddAnalogInput(2, 0, 16)
	fem.AddDigitalOutput(1, "readout_switch", false)
	fem.AddDigitalOutput(2, "amplifier_blank", true)
	fem.AddDigitalOutput(3, "debug_marker", false)

	ctrl := NewController(DefaultController, "opx1000")
	ctrl.AddModule(fem)
	cfg.AddController(ctrl)

	analog := Port{Controller: DefaultController, Slot: 1, Number: 2}
	marker := func(n int) Port { return Port{Controller: DefaultController, Slot: 1, Number: n} }

	rfOps := map[string]string{
		OpCW:             "const_pulse",
		OpExcitation:     "excitation_pulse",
		OpReadout:        "readout_pulse",
		OpNoPulseReadout: "no_pulse_readout",
		OpPi:             "pi_pulse",
		OpPiHalf:         "pi_half_pulse",
		OpGaussianPiHalf: "gaussian_pi_half_pulse",
	}
	ttlOps := map[string]string{
		OpVoltageOn:  "voltage_on_pulse",
		OpVoltageOff: "voltage_off_pulse",
	}

	newElement := func(name string, ops map[string]string, markerPort int, sticky bool) *Element {
		e := &Element{
			Name:         name,
			Frequency:    s.RFFrequency(),
			Output:       analog,
			Input:        analog,
			Operations:   copyOps(ops),
			TimeOfFlight: TimeOfFlight,
			Sticky:       sticky,
		}
		e.AddDigitalInput("marker", marker(markerPort))
		return e
	}
	cfg.AddElement(newElement(s.ResKey, rfOps, 3, false))
	cfg.AddElement(newElement(s.HelperKey, rfOps, 3, false))
	cfg.AddElement(newElement(s.AmpKey, ttlOps, 2, true))
	cfg.AddElement(newElement(s.SwKey, ttlOps, 1, true))

	weights := map[string]string{
		WeightCos:             "cosine_weights",
		WeightSin:             "sine_weights",
		WeightMinusSin:        "minus_sine_weights",
		WeightRotatedCos:      "rotated_cosine_weights",
		WeightRotatedSin:      "rotated_sine_weights",
		WeightRotatedMinusSin: "rotated_minus_sine_weights",
	}

	cfg.AddPulse("const_pulse", Pulse{Kind: ControlPulse, Length: s.ConstLen, Waveform: "const_wf", DigitalMarker: "OFF"})
	cfg.AddPulse("excitation_pulse", Pulse{Kind: ControlPulse, Length: s.ExcitationLength, Waveform: "excitation_wf", DigitalMarker: "ON"})
	cfg.AddPulse("readout_pulse", Pulse{Kind: MeasurePulse, Length: s.DwellTime, Waveform: "readout_wf", DigitalMarker: "ON", IntegrationWeights: weights})
	cfg.AddPulse("no_pulse_readout", Pulse{Kind: MeasurePulse, Length: s.DwellTime, Waveform: "zero_wf", DigitalMarker: "ON", IntegrationWeights: weights})
	cfg.AddPulse("pi_half_pulse", Pulse{Kind: ControlPulse, Length: s.PulseLength, Waveform: "square_pi_half_wf", DigitalMarker: "ON"})
	cfg.AddPulse("pi_pulse", Pulse{Kind: ControlPulse, Length: 2 * s.PulseLength, Waveform: "square_pi_wf", DigitalMarker: "ON"})
	cfg.AddPulse("gaussian_pi_half_pulse", Pulse{Kind: ControlPulse, Length: s.PulseLength, Waveform: "gaussian_pi_half_wf", DigitalMarker: "ON"})
	cfg.AddPulse("voltage_on_pulse", Pulse{Kind: ControlPulse, Length: MarkerPulseLength, Waveform: "zero_wf", DigitalMarker: "ON"})
	cfg.AddPulse("voltage_off_pulse", Pulse{Kind: ControlPulse, Length: MarkerPulseLength, Waveform: "zero_wf", DigitalMarker: "OFF"})

	cfg.AddConstantWaveform("const_wf", s.ConstAmp)
	cfg.AddConstantWaveform("zero_wf", 0)
	cfg.AddConstantWaveform("readout_wf", s.ReadoutAmp)
	cfg.AddConstantWaveform("excitation_wf", s.ExcitationAmp)
	cfg.AddConstantWaveform("square_pi_half_wf", s.PulseAmplitude)
	cfg.AddConstantWaveform("square_pi_wf", s.PulseAmplitude)
	cfg.AddArbitraryWaveform("gaussian_pi_half_wf", Gaussian(s.PulseAmplitude, int(s.PulseLength)))

	cfg.AddDigitalWaveform("ON", 1, 0)
	cfg.AddDigitalWaveform("OFF", 0, 0)

	theta := s.RotationAngle * math.Pi / 180
	sin, cos := math.Sincos(theta)
	cfg.AddIntegrationWeight("cosine_weights", s.DwellTime, 1, 0)
	cfg.AddIntegrationWeight("sine_weights", s.DwellTime, 0, 1)
	cfg.AddIntegrationWeight("minus_sine_weights", s.DwellTime, 0, -1)
	cfg.AddIntegrationWeight("rotated_cosine_weights", s.DwellTime, cos, sin)
	cfg.AddIntegrationWeight("rotated_sine_weights", s.DwellTime, -sin, cos)
	cfg.AddIntegrationWeight("rotated_minus_sine_weights", s.DwellTime, sin, -cos)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Gaussian samples amp*exp(-x²/2) at n points evenly spaced over [-3, 3].
func Gaussian(amp float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	x := make([]float64, n)
	if n == 1 {
		x[0] = -3
	} else {
		floats.Span(x, -3, 3)
	}
	for i, v := range x {
		x[i] = amp * math.Exp(-0.5*v*v)
	}
	return x
}

func copyOps(ops map[string]string) map[string]string {
	out := make(map[string]string, len(ops))
	for k, v := range ops {
		out[k] = v
	}
	return out
}
