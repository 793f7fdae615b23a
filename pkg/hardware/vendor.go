package hardware

// Vendor renders the configuration in the nested dictionary layout the
// control server accepts. Durations are integer nanoseconds.
func (c *Config) Vendor() map[string]interface{} {
	controllers := make(map[string]interface{}, len(c.Controllers))
	for name, ctrl := range c.Controllers {
		fems := make(map[int]interface{}, len(ctrl.Modules))
		for slot, m := range ctrl.Modules {
			fems[slot] = m.vendor()
		}
		controllers[name] = map[string]interface{}{
			"type": ctrl.Model,
			"fems": fems,
		}
	}

	elements := make(map[string]interface{}, len(c.Elements))
	for name, e := range c.Elements {
		elements[name] = e.vendor()
	}

	pulses := make(map[string]interface{}, len(c.Pulses))
	for name, p := range c.Pulses {
		pulses[name] = p.vendor()
	}

	waveforms := make(map[string]interface{}, len(c.Waveforms))
	for name, w := range c.Waveforms {
		if w.Type == ArbitraryWaveform {
			waveforms[name] = map[string]interface{}{"type": "arbitrary", "samples": w.Samples}
		} else {
			waveforms[name] = map[string]interface{}{"type": "constant", "sample": w.Sample}
		}
	}

	digital := make(map[string]interface{}, len(c.DigitalWaveforms))
	for name, d := range c.DigitalWaveforms {
		digital[name] = map[string]interface{}{"samples": [][2]int{{d.State, d.Length}}}
	}

	weights := make(map[string]interface{}, len(c.IntegrationWeights))
	for name, w := range c.IntegrationWeights {
		ns := w.Length.Nanoseconds()
		weights[name] = map[string]interface{}{
			"cosine": [][2]interface{}{{w.Real, ns}},
			"sine":   [][2]interface{}{{w.Imag, ns}},
		}
	}

	return map[string]interface{}{
		"version":             1,
		"controllers":         controllers,
		"elements":            elements,
		"pulses":              pulses,
		"waveforms":           waveforms,
		"digital_waveforms":   digital,
		"integration_weights": weights,
	}
}

func (m *FEModule) vendor() map[string]interface{} {
	aos := make(map[int]interface{}, len(m.AnalogOutputs))
	for port, ao := range m.AnalogOutputs {
		aos[port] = map[string]interface{}{
			"offset":        ao.Offset,
			"sampling_rate": ao.SamplingRate,
			"output_mode":   ao.OutputMode,
		}
	}
	ais := make(map[int]interface{}, len(m.AnalogInputs))
	for port, ai := range m.AnalogInputs {
		ais[port] = map[string]interface{}{
			"offset":        ai.Offset,
			"gain_db":       ai.GainDB,
			"sampling_rate": ai.SamplingRate,
		}
	}
	dos := make(map[int]interface{}, len(m.DigitalOutputs))
	for port, do := range m.DigitalOutputs {
		if do.Inverted {
			dos[port] = map[string]interface{}{"inverted": true}
		} else {
			dos[port] = map[string]interface{}{}
		}
	}
	return map[string]interface{}{
		"type":            m.Type,
		"analog_outputs":  aos,
		"analog_inputs":   ais,
		"digital_outputs": dos,
	}
}

func (e *Element) vendor() map[string]interface{} {
	digital := make(map[string]interface{}, len(e.DigitalInputs))
	for name, di := range e.DigitalInputs {
		digital[name] = map[string]interface{}{
			"port":   di.Port.vendor(),
			"delay":  di.Delay,
			"buffer": di.Buffer,
		}
	}
	ops := make(map[string]string, len(e.Operations))
	for k, v := range e.Operations {
		ops[k] = v
	}
	out := map[string]interface{}{
		"singleInput":            map[string]interface{}{"port": e.Output.vendor()},
		"intermediate_frequency": e.Frequency.Hz(),
		"outputs":                map[string]interface{}{"out1": e.Input.vendor()},
		"digitalInputs":          digital,
		"operations":             ops,
		"time_of_flight":         e.TimeOfFlight.Nanoseconds(),
	}
	if e.Sticky {
		out["sticky"] = map[string]interface{}{"analog": true, "digital": true}
	}
	return out
}

func (p Pulse) vendor() map[string]interface{} {
	out := map[string]interface{}{
		"operation": string(p.Kind),
		"length":    p.Length.Nanoseconds(),
		"waveforms": map[string]string{"single": p.Waveform},
	}
	if p.DigitalMarker != "" {
		out["digital_marker"] = p.DigitalMarker
	}
	if p.Kind == MeasurePulse {
		weights := make(map[string]string, len(p.IntegrationWeights))
		for k, v := range p.IntegrationWeights {
			weights[k] = v
		}
		out["integration_weights"] = weights
	}
	return out
}
