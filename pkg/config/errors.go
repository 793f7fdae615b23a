// Package config reads sectioned "key: value" settings files and reports
// every option that was never read, so a misspelled key is an error rather
// than a silently ignored line.
package config

import "fmt"

// ConfigError locates a problem in a configuration file.
type ConfigError struct {
	Section string
	Option  string
	// Line is the 1-based line of a syntax error, or 0.
	Line    int
	Message string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	case e.Option != "":
		return fmt.Sprintf("[%s] %s: %s", e.Section, e.Option, e.Message)
	case e.Section != "":
		return fmt.Sprintf("[%s]: %s", e.Section, e.Message)
	}
	return e.Message
}

func syntaxError(line int, format string, args ...any) *ConfigError {
	return &ConfigError{Line: line, Message: fmt.Sprintf(format, args...)}
}

func missingSection(section string) *ConfigError {
	return &ConfigError{Section: section, Message: "section not found"}
}

func missingOption(section, option string) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: "must be specified"}
}

func invalidValue(section, option, value, want string) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: fmt.Sprintf("invalid value %q, expected %s", value, want)}
}
