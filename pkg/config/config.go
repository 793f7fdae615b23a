// Sectioned settings files
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Config is a parsed file. Reads are tracked per section and option.
type Config struct {
	mu       sync.Mutex
	sections map[string]*Section
	order    []string
	read     map[string]bool
}

// Load parses the file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

// LoadString parses data.
func LoadString(data string) (*Config, error) {
	return Parse(strings.NewReader(data))
}

// Parse reads sections of "key: value" or "key = value" lines. Text after
// '#' or ';' is a comment. Option names are case-insensitive and a repeated
// section merges into the first.
func Parse(r io.Reader) (*Config, error) {
	c := &Config{sections: make(map[string]*Section), read: make(map[string]bool)}
	var cur *Section

	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if i := strings.IndexAny(line, "#;"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "["):
			if !strings.HasSuffix(line, "]") {
				return nil, syntaxError(n, "unterminated section header %q", line)
			}
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				return nil, syntaxError(n, "empty section header")
			}
			cur = c.section(name)
		case cur == nil:
			return nil, syntaxError(n, "option outside of a section")
		default:
			i := strings.IndexAny(line, ":=")
			key := ""
			if i > 0 {
				key = strings.ToLower(strings.TrimSpace(line[:i]))
			}
			if key == "" {
				return nil, syntaxError(n, "malformed option %q", line)
			}
			cur.options[key] = strings.TrimSpace(line[i+1:])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) section(name string) *Section {
	if s, ok := c.sections[name]; ok {
		return s
	}
	s := &Section{name: name, options: make(map[string]string), read: make(map[string]bool)}
	c.sections[name] = s
	c.order = append(c.order, name)
	return s
}

// GetSection returns the named section, or an error if the file lacks it.
func (c *Config) GetSection(name string) (*Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sections[name]
	if !ok {
		return nil, missingSection(name)
	}
	c.read[name] = true
	return s, nil
}

// GetSectionOptional returns the named section, or an empty one whose
// getters all return their fallbacks.
func (c *Config) GetSectionOptional(name string) *Section {
	if s, err := c.GetSection(name); err == nil {
		return s
	}
	return &Section{name: name, options: map[string]string{}, read: map[string]bool{}}
}

// Sections returns the section names in file order.
func (c *Config) Sections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// CheckUnused returns one error per section or option that was never read.
func (c *Config) CheckUnused() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs error
	for _, name := range c.order {
		if !c.read[name] {
			errs = multierr.Append(errs, &ConfigError{Section: name, Message: "unknown section"})
			continue
		}
		for _, opt := range c.sections[name].Unused() {
			errs = multierr.Append(errs, &ConfigError{Section: name, Option: opt, Message: "unknown option"})
		}
	}
	return errs
}

// Section is one [name] block.
type Section struct {
	name    string
	options map[string]string

	mu   sync.Mutex
	read map[string]bool
}

// Name returns the section name.
func (s *Section) Name() string { return s.name }

// Has reports whether the option is present.
func (s *Section) Has(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// Unused returns the sorted options never read.
func (s *Section) Unused() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for opt := range s.options {
		if !s.read[opt] {
			out = append(out, opt)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Section) lookup(option string) (string, bool) {
	key := strings.ToLower(option)
	v, ok := s.options[key]
	if ok {
		s.mu.Lock()
		s.read[key] = true
		s.mu.Unlock()
	}
	return v, ok
}
