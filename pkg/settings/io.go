package settings

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/config"
	"ssnmr-sequencer/pkg/errors"
)

// Load reads settings from a YAML (.yaml, .yml) or sectioned (.cfg, .ini)
// file. Missing keys keep their defaults.
func Load(path string) (Settings, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cfg", ".ini", ".conf":
		return LoadCfg(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return Settings{}, fmt.Errorf("settings: %w", err)
		}
		defer f.Close()
		return DecodeYAML(f)
	}
}

// DecodeYAML reads settings from YAML, rejecting unknown keys.
func DecodeYAML(r io.Reader) (Settings, error) {
	s := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return Settings{}, errors.SettingsValidationError(err)
	}
	return New(s)
}

// EncodeYAML writes s as YAML.
func (s Settings) EncodeYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

// Save writes s as YAML to path.
func (s Settings) Save(path string) error {
	var buf bytes.Buffer
	if err := s.EncodeYAML(&buf); err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// LoadCfg reads settings from a sectioned configuration file:
//
//	[experiment]  n_avg, thermal_reset, save_dir
//	[pulse]       length, amplitude, rotation_angle
//	[cw]          length, amplitude
//	[frequency]   center, offset
//	[readout]     delay, amplitude, dwell_time, start, end
//	[excitation]  length, amplitude
//	[elements]    resonator, amplifier, helper, switch, pi_half
//
// Options that are never read are reported as errors.
func LoadCfg(path string) (Settings, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return Settings{}, errors.SettingsValidationError(err)
	}
	return FromConfig(cfg)
}

// FromConfig reads settings from a parsed sectioned configuration.
func FromConfig(cfg *config.Config) (Settings, error) {
	s := Default()
	r := cfgReader{}

	exp := cfg.GetSectionOptional("experiment")
	s.NAvg = r.int(exp.GetInt("n_avg", s.NAvg))
	s.ThermalReset = r.dur(exp.GetDuration("thermal_reset", s.ThermalReset))
	s.SaveDir = r.str(exp.Get("save_dir", s.SaveDir))

	pulse := cfg.GetSectionOptional("pulse")
	s.PulseLength = r.dur(pulse.GetDuration("length", s.PulseLength))
	s.PulseAmplitude = r.float(pulse.GetFloat("amplitude", s.PulseAmplitude))
	s.RotationAngle = r.float(pulse.GetFloat("rotation_angle", s.RotationAngle))

	cw := cfg.GetSectionOptional("cw")
	s.ConstLen = r.dur(cw.GetDuration("length", s.ConstLen))
	s.ConstAmp = r.float(cw.GetFloat("amplitude", s.ConstAmp))

	freq := cfg.GetSectionOptional("frequency")
	center, err := freq.GetFrequency("center", s.CenterFreq)
	r.note(err)
	offset, err := freq.GetFrequency("offset", s.OffsetFreq)
	r.note(err)
	s.CenterFreq, s.OffsetFreq = center, offset

	ro := cfg.GetSectionOptional("readout")
	s.ReadoutDelay = r.dur(ro.GetDuration("delay", s.ReadoutDelay))
	s.ReadoutAmp = r.float(ro.GetFloat("amplitude", s.ReadoutAmp))
	s.DwellTime = r.dur(ro.GetDuration("dwell_time", s.DwellTime))
	s.ReadoutStart = r.dur(ro.GetDuration("start", s.ReadoutStart))
	s.ReadoutEnd = r.dur(ro.GetDuration("end", s.ReadoutEnd))

	exc := cfg.GetSectionOptional("excitation")
	s.ExcitationLength = r.dur(exc.GetDuration("length", s.ExcitationLength))
	s.ExcitationAmp = r.float(exc.GetFloat("amplitude", s.ExcitationAmp))

	el := cfg.GetSectionOptional("elements")
	s.ResKey = r.str(el.Get("resonator", s.ResKey))
	s.AmpKey = r.str(el.Get("amplifier", s.AmpKey))
	s.HelperKey = r.str(el.Get("helper", s.HelperKey))
	s.SwKey = r.str(el.Get("switch", s.SwKey))
	s.PiHalfKey = r.str(el.Get("pi_half", s.PiHalfKey))

	r.note(cfg.CheckUnused())
	if r.err != nil {
		return Settings{}, errors.SettingsValidationError(r.err)
	}
	return New(s)
}

// cfgReader keeps the first parse error so option reads stay one per line.
type cfgReader struct {
	err error
}

func (r *cfgReader) note(err error) {
	if err != nil && r.err == nil {
		r.err = err
	}
}

func (r *cfgReader) int(v int, err error) int {
	r.note(err)
	return v
}

func (r *cfgReader) float(v float64, err error) float64 {
	r.note(err)
	return v
}

func (r *cfgReader) str(v string, err error) string {
	r.note(err)
	return v
}

func (r *cfgReader) dur(v clock.Duration, err error) clock.Duration {
	r.note(err)
	return v
}
