// Package clock provides the time and frequency units shared by the sequencer.
// Durations cross the API boundary in nanoseconds and are quantized once into
// 4 ns FPGA clock cycles.
package clock

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Constants
const (
	// CycleNs is the length of one FPGA clock cycle in nanoseconds
	CycleNs = 4

	// MinWaitCycles is the shortest wait the hardware accepts
	MinWaitCycles Cycles = 16
)

// Cycles is a count of 4 ns clock cycles.
type Cycles int64

// Duration returns the cycle count expressed in nanoseconds.
func (c Cycles) Duration() Duration {
	return Duration(int64(c) * CycleNs)
}

// Duration is a time span in nanoseconds.
type Duration int64

// Common durations.
const (
	Nanosecond  Duration = 1
	Microsecond          = 1000 * Nanosecond
	Millisecond          = 1000 * Microsecond
	Second               = 1000 * Millisecond
)

// Cycles quantizes the duration to clock cycles with floor division.
func (d Duration) Cycles() Cycles {
	return Cycles(FloorDiv(int64(d), CycleNs))
}

// Nanoseconds returns the duration as an integer nanosecond count.
func (d Duration) Nanoseconds() int64 { return int64(d) }

// Seconds returns the duration in seconds.
func (d Duration) Seconds() float64 { return float64(d) / float64(Second) }

// String formats the duration using the largest exact unit.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseDuration accepts either a bare nanosecond count ("20000") or a
// unit-suffixed value ("20us", "20µs", "4s").
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(math.Round(v)), nil
	}
	td, err := time.ParseDuration(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(td), nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// UnmarshalYAML accepts integer nanoseconds or duration strings.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// NsToCycles floor-divides each nanosecond value into clock cycles.
func NsToCycles(ns []float64) []float64 {
	out := make([]float64, len(ns))
	for i, v := range ns {
		out[i] = math.Floor(v / CycleNs)
	}
	return out
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Frequency is a frequency in hertz.
type Frequency float64

// Common frequencies.
const (
	Hertz     Frequency = 1
	Kilohertz           = 1e3 * Hertz
	Megahertz           = 1e6 * Hertz
	Gigahertz           = 1e9 * Hertz
)

// Hz returns the frequency as a float in hertz.
func (f Frequency) Hz() float64 { return float64(f) }

// String formats the frequency in the largest unit not exceeding it.
func (f Frequency) String() string {
	abs := math.Abs(float64(f))
	switch {
	case abs >= float64(Gigahertz):
		return strconv.FormatFloat(float64(f/Gigahertz), 'f', -1, 64) + "GHz"
	case abs >= float64(Megahertz):
		return strconv.FormatFloat(float64(f/Megahertz), 'f', -1, 64) + "MHz"
	case abs >= float64(Kilohertz):
		return strconv.FormatFloat(float64(f/Kilohertz), 'f', -1, 64) + "kHz"
	}
	return strconv.FormatFloat(float64(f), 'f', -1, 64) + "Hz"
}

var frequencyUnits = []struct {
	suffix string
	scale  Frequency
}{
	{"GHz", Gigahertz},
	{"MHz", Megahertz},
	{"kHz", Kilohertz},
	{"Hz", Hertz},
}

// ParseFrequency accepts a bare hertz value or a unit-suffixed one ("282.1901MHz").
func ParseFrequency(s string) (Frequency, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	scale := Hertz
	for _, u := range frequencyUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSuffix(s, u.suffix)
			scale = u.scale
			break
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", s, err)
	}
	return Frequency(v) * scale, nil
}

// MarshalText implements encoding.TextMarshaler.
func (f Frequency) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Frequency) UnmarshalText(text []byte) error {
	v, err := ParseFrequency(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// UnmarshalYAML accepts bare hertz values or frequency strings.
func (f *Frequency) UnmarshalYAML(node *yaml.Node) error {
	return f.UnmarshalText([]byte(node.Value))
}
