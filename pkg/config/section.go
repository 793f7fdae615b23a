package config

import (
	"strconv"

	"ssnmr-sequencer/pkg/clock"
)

// get parses an option with parse, returning the first fallback when the
// option is absent and an error when it is absent without one.
func get[T any](s *Section, option, want string, parse func(string) (T, error), fallback []T) (T, error) {
	var zero T
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return zero, missingOption(s.name, option)
	}
	out, err := parse(v)
	if err != nil {
		return zero, invalidValue(s.name, option, v, want)
	}
	return out, nil
}

// Get returns a string option.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	return get(s, option, "string", func(v string) (string, error) { return v, nil }, fallback)
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	return get(s, option, "integer", strconv.Atoi, fallback)
}

// GetFloat returns a float option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	return get(s, option, "number", func(v string) (float64, error) { return strconv.ParseFloat(v, 64) }, fallback)
}

// GetDuration returns a duration such as "20us". Bare numbers are nanoseconds.
func (s *Section) GetDuration(option string, fallback ...clock.Duration) (clock.Duration, error) {
	return get(s, option, "duration", clock.ParseDuration, fallback)
}

// GetFrequency returns a frequency such as "282.19MHz". Bare numbers are hertz.
func (s *Section) GetFrequency(option string, fallback ...clock.Frequency) (clock.Frequency, error) {
	return get(s, option, "frequency", clock.ParseFrequency, fallback)
}
