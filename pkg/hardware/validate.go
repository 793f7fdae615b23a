package hardware

import (
	"fmt"

	"go.uber.org/multierr"

	"ssnmr-sequencer/pkg/errors"
)

// Validate checks that every reference in the configuration resolves:
// element ports name configured controller ports, operations name pulses,
// pulses name waveforms and markers, and measurements name integration weights.
func (c *Config) Validate() error {
	var errs error

	for _, name := range c.Channels() {
		e := c.Elements[name]
		errs = multierr.Append(errs, c.checkPort(name, "output", e.Output, analogOut))
		errs = multierr.Append(errs, c.checkPort(name, "input", e.Input, analogIn))
		for marker, di := range e.DigitalInputs {
			errs = multierr.Append(errs, c.checkPort(name, "marker "+marker, di.Port, digitalOut))
		}
		for op, pulse := range e.Operations {
			if _, ok := c.Pulses[pulse]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("element %q: operation %q refers to undefined pulse %q", name, op, pulse))
			}
		}
	}

	for name, p := range c.Pulses {
		if p.Length <= 0 || p.Length%4 != 0 {
			errs = multierr.Append(errs, fmt.Errorf("pulse %q: length %d ns must be a positive multiple of 4", name, p.Length))
		}
		wf, ok := c.Waveforms[p.Waveform]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("pulse %q: undefined waveform %q", name, p.Waveform))
		} else if wf.Type == ArbitraryWaveform && len(wf.Samples) != int(p.Length) {
			errs = multierr.Append(errs, fmt.Errorf("pulse %q: waveform %q has %d samples, want %d", name, p.Waveform, len(wf.Samples), p.Length))
		}
		if p.DigitalMarker != "" {
			if _, ok := c.DigitalWaveforms[p.DigitalMarker]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("pulse %q: undefined digital marker %q", name, p.DigitalMarker))
			}
		}
		if p.Kind == MeasurePulse {
			for key, w := range p.IntegrationWeights {
				if _, ok := c.IntegrationWeights[w]; !ok {
					errs = multierr.Append(errs, fmt.Errorf("pulse %q: integration weight %s=%q is undefined", name, key, w))
				}
			}
		}
	}

	if errs != nil {
		return errors.Wrap(errs, errors.ErrConfig, "invalid hardware configuration")
	}
	return nil
}

type portKind int

const (
	analogOut portKind = iota
	analogIn
	digitalOut
)

func (c *Config) checkPort(element, role string, p Port, kind portKind) error {
	ctrl, ok := c.Controllers[p.Controller]
	if !ok {
		return fmt.Errorf("element %q %s: unknown controller %q", element, role, p.Controller)
	}
	m, ok := ctrl.Modules[p.Slot]
	if !ok {
		return fmt.Errorf("element %q %s: no module in slot %d of %s", element, role, p.Slot, p.Controller)
	}
	var configured bool
	switch kind {
	case analogOut:
		_, configured = m.AnalogOutputs[p.Number]
	case analogIn:
		_, configured = m.AnalogInputs[p.Number]
	case digitalOut:
		_, configured = m.DigitalOutputs[p.Number]
	}
	if !configured {
		return fmt.Errorf("element %q %s: port %s is not configured", element, role, p)
	}
	return nil
}
