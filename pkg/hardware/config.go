// Hardware configuration model
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package hardware describes the AWG/digitizer configuration an experiment
// runs against: controllers and their front-end modules, elements (logical
// channels) with their operation tables, pulses, waveforms, digital markers
// and integration weights. It is plain data with lookups and validation.
package hardware

import (
	"encoding/json"
	"fmt"
	"sort"

	"ssnmr-sequencer/pkg/clock"
)

// Port addresses a physical connector as (controller, chassis slot, port number).
type Port struct {
	Controller string
	Slot       int
	Number     int
}

// MarshalJSON encodes the port as a three element array.
func (p Port) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.Controller, p.Slot, p.Number})
}

// UnmarshalJSON decodes a three element array.
func (p *Port) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("port must have 3 entries, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Controller); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &p.Slot); err != nil {
		return err
	}
	return json.Unmarshal(raw[2], &p.Number)
}

func (p Port) vendor() []interface{} {
	return []interface{}{p.Controller, p.Slot, p.Number}
}

func (p Port) String() string {
	return fmt.Sprintf("%s/%d/%d", p.Controller, p.Slot, p.Number)
}

// AnalogOutput configures one analog output channel of a front-end module.
type AnalogOutput struct {
	Offset       float64 `json:"offset"`
	SamplingRate float64 `json:"sampling_rate"`
	OutputMode   string  `json:"output_mode"`
}

// AnalogInput configures one analog input channel of a front-end module.
type AnalogInput struct {
	Offset       float64 `json:"offset"`
	GainDB       float64 `json:"gain_db"`
	SamplingRate float64 `json:"sampling_rate"`
}

// DigitalOutput configures one TTL output of a front-end module.
type DigitalOutput struct {
	Name     string `json:"name,omitempty"`
	Inverted bool   `json:"inverted"`
}

// FEModule is a front-end module plugged into a controller slot.
type FEModule struct {
	Slot           int                   `json:"slot"`
	Type           string                `json:"type"`
	AnalogOutputs  map[int]AnalogOutput  `json:"analog_outputs"`
	AnalogInputs   map[int]AnalogInput   `json:"analog_inputs"`
	DigitalOutputs map[int]DigitalOutput `json:"digital_outputs"`
}

// NewFEModule creates an empty module of the given type ("LF" for the low
// frequency module used for NMR).
func NewFEModule(slot int, femType string) *FEModule {
	return &FEModule{
		Slot:           slot,
		Type:           femType,
		AnalogOutputs:  make(map[int]AnalogOutput),
		AnalogInputs:   make(map[int]AnalogInput),
		DigitalOutputs: make(map[int]DigitalOutput),
	}
}

// AddAnalogOutput configures an analog output port (1-8) at 1 GS/s in direct mode.
func (m *FEModule) AddAnalogOutput(port int, offset float64) error {
	if port < 1 || port > 8 {
		return fmt.Errorf("analog output port %d out of range 1-8", port)
	}
	if _, ok := m.AnalogOutputs[port]; ok {
		return fmt.Errorf("analog output port %d already configured", port)
	}
	m.AnalogOutputs[port] = AnalogOutput{Offset: offset, SamplingRate: 1e9, OutputMode: "direct"}
	return nil
}

// AddAnalogInput configures an analog input port (1-2) with the given gain.
func (m *FEModule) AddAnalogInput(port int, offset, gainDB float64) error {
	if port != 1 && port != 2 {
		return fmt.Errorf("analog input port %d must be 1 or 2", port)
	}
	if _, ok := m.AnalogInputs[port]; ok {
		return fmt.Errorf("analog input port %d already configured", port)
	}
	m.AnalogInputs[port] = AnalogInput{Offset: offset, GainDB: gainDB, SamplingRate: 1e9}
	return nil
}

// AddDigitalOutput configures a digital output port (1-8).
func (m *FEModule) AddDigitalOutput(port int, name string, inverted bool) error {
	if port < 1 || port > 8 {
		return fmt.Errorf("digital output port %d out of range 1-8", port)
	}
	if _, ok := m.DigitalOutputs[port]; ok {
		return fmt.Errorf("digital output port %d already configured", port)
	}
	m.DigitalOutputs[port] = DigitalOutput{Name: name, Inverted: inverted}
	return nil
}

// Controller is one chassis with its front-end modules.
type Controller struct {
	Name    string            `json:"name"`
	Model   string            `json:"model"`
	Modules map[int]*FEModule `json:"modules"`
}

// NewController creates a controller with no modules.
func NewController(name, model string) *Controller {
	return &Controller{Name: name, Model: model, Modules: make(map[int]*FEModule)}
}

// AddModule places m in its chassis slot.
func (c *Controller) AddModule(m *FEModule) {
	c.Modules[m.Slot] = m
}

// DigitalInput routes a digital marker from a controller port to an element.
type DigitalInput struct {
	Port   Port `json:"port"`
	Delay  int  `json:"delay"`
	Buffer int  `json:"buffer"`
}

// Element is a logical channel: a physical connection driven and read by the
// controller, with the table of operations it supports.
type Element struct {
	Name      string          `json:"name"`
	Frequency clock.Frequency `json:"frequency"`
	// Output is the controller output driving the element.
	Output Port `json:"analog_input"`
	// Input is the controller input reading the element.
	Input         Port                    `json:"analog_output"`
	DigitalInputs map[string]DigitalInput `json:"digital_inputs"`
	// Operations maps operation names to pulse names.
	Operations   map[string]string `json:"operations"`
	TimeOfFlight clock.Duration     `json:"time_of_flight"`
	// Sticky elements hold their last output level between operations.
	Sticky bool `json:"sticky"`
}

// AddDigitalInput attaches a marker line to the element.
func (e *Element) AddDigitalInput(name string, port Port) {
	if e.DigitalInputs == nil {
		e.DigitalInputs = make(map[string]DigitalInput)
	}
	e.DigitalInputs[name] = DigitalInput{Port: port}
}

// PulseKind distinguishes control pulses from measurement pulses.
type PulseKind string

const (
	ControlPulse PulseKind = "control"
	MeasurePulse PulseKind = "measure"
)

// Pulse is a named waveform with a length, optional digital marker and,
// for measurements, integration weights.
type Pulse struct {
	Kind          PulseKind      `json:"type"`
	Length        clock.Duration `json:"length"`
	Waveform      string         `json:"waveform"`
	DigitalMarker string         `json:"digital_marker,omitempty"`
	// IntegrationWeights maps demodulation keys (e.g. "rotated_cos") to weight names.
	IntegrationWeights map[string]string `json:"integration_weights,omitempty"`
}

// WaveformType distinguishes constant from sampled waveforms.
type WaveformType string

const (
	ConstantWaveform  WaveformType = "constant"
	ArbitraryWaveform WaveformType = "arbitrary"
)

// Waveform is either a constant level or an explicit sample list.
type Waveform struct {
	Type    WaveformType `json:"type"`
	Sample  float64      `json:"sample,omitempty"`
	Samples []float64    `json:"samples,omitempty"`
}

// DigitalWaveform is a marker. A zero length holds the state for the
// duration of the pulse it is attached to.
type DigitalWaveform struct {
	State  int `json:"state"`
	Length int `json:"length"`
}

// IntegrationWeight is a constant demodulation weight pair over a window.
type IntegrationWeight struct {
	Length clock.Duration `json:"length"`
	Real   float64        `json:"real_weight"`
	Imag   float64        `json:"imag_weight"`
}

// Config is the complete hardware configuration.
type Config struct {
	Host               string                       `json:"qop_ip"`
	Cluster            string                       `json:"cluster"`
	Controllers        map[string]*Controller       `json:"controllers"`
	Elements           map[string]*Element          `json:"elements"`
	Pulses             map[string]Pulse             `json:"pulses"`
	Waveforms          map[string]Waveform          `json:"waveforms"`
	DigitalWaveforms   map[string]DigitalWaveform   `json:"digital_waveforms"`
	IntegrationWeights map[string]IntegrationWeight `json:"integration_weights"`
}

// NewConfig creates an empty configuration for the given server.
func NewConfig(host, cluster string) *Config {
	return &Config{
		Host:               host,
		Cluster:            cluster,
		Controllers:        make(map[string]*Controller),
		Elements:           make(map[string]*Element),
		Pulses:             make(map[string]Pulse),
		Waveforms:          make(map[string]Waveform),
		DigitalWaveforms:   make(map[string]DigitalWaveform),
		IntegrationWeights: make(map[string]IntegrationWeight),
	}
}

// AddController registers a controller under its name.
func (c *Config) AddController(ctrl *Controller) {
	c.Controllers[ctrl.Name] = ctrl
}

// AddElement registers an element under its name.
func (c *Config) AddElement(e *Element) {
	c.Elements[e.Name] = e
}

// AddPulse registers a pulse.
func (c *Config) AddPulse(name string, p Pulse) {
	c.Pulses[name] = p
}

// AddConstantWaveform registers a constant-level waveform.
func (c *Config) AddConstantWaveform(name string, level float64) {
	c.Waveforms[name] = Waveform{Type: ConstantWaveform, Sample: level}
}

// AddArbitraryWaveform registers a sampled waveform.
func (c *Config) AddArbitraryWaveform(name string, samples []float64) {
	c.Waveforms[name] = Waveform{Type: ArbitraryWaveform, Samples: append([]float64(nil), samples...)}
}

// AddDigitalWaveform registers a marker.
func (c *Config) AddDigitalWaveform(name string, state, length int) {
	c.DigitalWaveforms[name] = DigitalWaveform{State: state, Length: length}
}

// AddIntegrationWeight registers a constant integration weight.
func (c *Config) AddIntegrationWeight(name string, length clock.Duration, real, imag float64) {
	c.IntegrationWeights[name] = IntegrationWeight{Length: length, Real: real, Imag: imag}
}

// HasChannel reports whether an element with the given name exists.
func (c *Config) HasChannel(name string) bool {
	_, ok := c.Elements[name]
	return ok
}

// ChannelOperations returns the sorted operation names of an element, or nil
// if the element does not exist.
func (c *Config) ChannelOperations(name string) []string {
	e, ok := c.Elements[name]
	if !ok {
		return nil
	}
	ops := make([]string, 0, len(e.Operations))
	for op := range e.Operations {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Channels returns the sorted element names.
func (c *Config) Channels() []string {
	names := make([]string, 0, len(c.Elements))
	for name := range c.Elements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pulse resolves the pulse behind an operation of a channel.
func (c *Config) Pulse(channel, operation string) (Pulse, error) {
	e, ok := c.Elements[channel]
	if !ok {
		return Pulse{}, fmt.Errorf("unknown element %q", channel)
	}
	name, ok := e.Operations[operation]
	if !ok {
		return Pulse{}, fmt.Errorf("element %q has no operation %q", channel, operation)
	}
	p, ok := c.Pulses[name]
	if !ok {
		return Pulse{}, fmt.Errorf("operation %q of %q refers to undefined pulse %q", operation, channel, name)
	}
	return p, nil
}
