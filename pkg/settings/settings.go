// Experiment settings
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package settings holds the user-facing parameters of an NMR experiment.
//
// Settings is an immutable value: every modification goes through Update or
// Set, which return a new validated value together with the list of fields
// that changed. Nothing is ever mutated in place and no callbacks are invoked.
package settings

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/errors"
)

// MaxRFFrequency is the exclusive upper bound of the synthesizable frequency.
const MaxRFFrequency = 750 * clock.Megahertz

// Settings are the parameters of one experiment. Durations are nanoseconds,
// frequencies hertz and amplitudes normalized output levels.
type Settings struct {
	// Core experiment parameters
	NAvg           int            `yaml:"n_avg" json:"n_avg" validate:"gte=1"`
	PulseLength    clock.Duration `yaml:"pulse_length" json:"pulse_length" validate:"gte=64"`
	PulseAmplitude float64        `yaml:"pulse_amplitude" json:"pulse_amplitude" validate:"gte=-0.5,lte=0.5"`
	RotationAngle  float64        `yaml:"rotation_angle" json:"rotation_angle"`

	// Continuous wave
	ConstLen clock.Duration `yaml:"const_len" json:"const_len" validate:"gt=0"`
	ConstAmp float64        `yaml:"const_amp" json:"const_amp" validate:"gte=-0.5,lte=0.5"`

	// Pre-scan delay for thermal equilibration
	ThermalReset clock.Duration `yaml:"thermal_reset" json:"thermal_reset" validate:"gte=0"`

	// Frequencies
	CenterFreq clock.Frequency `yaml:"center_freq" json:"center_freq"`
	OffsetFreq clock.Frequency `yaml:"offset_freq" json:"offset_freq"`

	// Readout
	ReadoutDelay clock.Duration `yaml:"readout_delay" json:"readout_delay" validate:"gte=5000"`
	ReadoutAmp   float64        `yaml:"readout_amp" json:"readout_amp" validate:"gte=-0.5,lte=0.5"`
	DwellTime    clock.Duration `yaml:"dwell_time" json:"dwell_time" validate:"gte=64"`
	ReadoutStart clock.Duration `yaml:"readout_start" json:"readout_start" validate:"gte=0"`
	ReadoutEnd   clock.Duration `yaml:"readout_end" json:"readout_end" validate:"gtfield=ReadoutStart"`

	// Resonator excitation
	ExcitationLength clock.Duration `yaml:"excitation_length" json:"excitation_length" validate:"gt=0"`
	ExcitationAmp    float64        `yaml:"excitation_amp" json:"excitation_amp" validate:"gte=-0.5,lte=0.5"`

	// Data saving
	SaveDir string `yaml:"save_dir" json:"save_dir"`

	// Element and operation names in the hardware configuration
	ResKey    string `yaml:"res_key" json:"res_key" validate:"required"`
	AmpKey    string `yaml:"amp_key" json:"amp_key" validate:"required"`
	HelperKey string `yaml:"helper_key" json:"helper_key" validate:"required"`
	SwKey     string `yaml:"sw_key" json:"sw_key" validate:"required"`
	PiHalfKey string `yaml:"pi_half_key" json:"pi_half_key" validate:"required"`
}

// Default returns the standard settings for a 19F experiment.
func Default() Settings {
	return Settings{
		NAvg:             4,
		PulseLength:      1100 * clock.Nanosecond,
		PulseAmplitude:   0.25,
		RotationAngle:    90,
		ConstLen:         100 * clock.Nanosecond,
		ConstAmp:         0.03,
		ThermalReset:     4 * clock.Second,
		CenterFreq:       282.1901 * clock.Megahertz,
		OffsetFreq:       750 * clock.Hertz,
		ReadoutDelay:     20 * clock.Microsecond,
		ReadoutAmp:       0.01,
		DwellTime:        4 * clock.Microsecond,
		ReadoutStart:     0,
		ReadoutEnd:       256 * clock.Microsecond,
		ExcitationLength: 5 * clock.Microsecond,
		ExcitationAmp:    0.03,
		ResKey:           "resonator",
		AmpKey:           "amplifier",
		HelperKey:        "helper",
		SwKey:            "switch",
		PiHalfKey:        "pi_half",
	}
}

// New normalizes and validates s.
func New(s Settings) (Settings, error) {
	s = s.Normalize()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// RFFrequency is the synthesized frequency: center minus calibration offset.
func (s Settings) RFFrequency() clock.Frequency {
	return s.CenterFreq - s.OffsetFreq
}

// Normalize returns a copy with the rotation angle folded into [0, 360).
func (s Settings) Normalize() Settings {
	a := math.Mod(s.RotationAngle, 360)
	if a < 0 {
		a += 360
	}
	s.RotationAngle = a
	return s
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(fieldName)
	})
	return validate
}

// fieldName reports struct fields by their file key.
func fieldName(f reflect.StructField) string {
	name := strings.Split(f.Tag.Get("yaml"), ",")[0]
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

// Validate checks every constraint and reports all violations at once.
func (s Settings) Validate() error {
	var errs error

	if err := getValidator().Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if !asValidationErrors(err, &fieldErrs) {
			return errors.SettingsValidationError(err)
		}
		for _, fe := range fieldErrs {
			errs = multierr.Append(errs, describe(fe))
		}
	}

	if rf := s.RFFrequency(); rf < 0 || rf >= MaxRFFrequency {
		errs = multierr.Append(errs, fmt.Errorf("center_freq - offset_freq = %v is outside [0, %v)", rf, MaxRFFrequency))
	}

	if errs != nil {
		return errors.SettingsValidationError(errs)
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

func describe(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s must be set", fe.Field())
	case "gte":
		return fmt.Errorf("%s must be at least %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "lte":
		return fmt.Errorf("%s must be at most %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "gt":
		return fmt.Errorf("%s must be greater than %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "gtfield":
		return fmt.Errorf("%s must be after %s, got %v", fe.Field(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s failed %s validation", fe.Field(), fe.Tag())
}

// Change records one field that differs between two settings values.
type Change struct {
	Field string      `json:"field"`
	Old   interface{} `json:"old"`
	New   interface{} `json:"new"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %v -> %v", c.Field, c.Old, c.New)
}

// Diff lists the fields that differ from old to s, in declaration order.
func (s Settings) Diff(old Settings) []Change {
	var changes []Change
	ov := reflect.ValueOf(old)
	nv := reflect.ValueOf(s)
	t := nv.Type()
	for i := 0; i < t.NumField(); i++ {
		a, b := ov.Field(i).Interface(), nv.Field(i).Interface()
		if a != b {
			changes = append(changes, Change{Field: fieldName(t.Field(i)), Old: a, New: b})
		}
	}
	return changes
}

// Update applies mutate to a copy of s, normalizes and validates it, and
// returns the new value with the changes. On error s is returned unchanged.
func (s Settings) Update(mutate func(*Settings)) (Settings, []Change, error) {
	next := s
	mutate(&next)
	next, err := New(next)
	if err != nil {
		return s, nil, err
	}
	return next, next.Diff(s), nil
}

// Fields returns the file keys of every setting, in declaration order.
func Fields() []string {
	t := reflect.TypeOf(Settings{})
	names := make([]string, t.NumField())
	for i := range names {
		names[i] = fieldName(t.Field(i))
	}
	return names
}

// Set applies textual overrides such as {"n_avg": "8", "readout_delay": "30us"}.
// Values use the same syntax as settings files. Unknown keys are rejected.
func (s Settings) Set(overrides map[string]string) (Settings, []Change, error) {
	known := make(map[string]bool)
	for _, f := range Fields() {
		known[f] = true
	}

	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range sortedKeys(overrides) {
		if !known[key] {
			return s, nil, errors.SettingsValidationError(fmt.Errorf("unknown setting %q", key))
		}
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: overrides[key]},
		)
	}

	var decodeErr error
	next, changes, err := s.Update(func(n *Settings) {
		decodeErr = doc.Decode(n)
	})
	if decodeErr != nil {
		return s, nil, errors.SettingsValidationError(decodeErr)
	}
	return next, changes, err
}

// ParseOverrides splits "key=value" pairs as given on a command line.
func ParseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid override %q, expected key=value", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
