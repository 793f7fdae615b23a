package hardware

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Encode writes the configuration as indented JSON.
func (c *Config) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// Decode reads a configuration written by Encode.
func Decode(r io.Reader) (*Config, error) {
	c := NewConfig("", "")
	if err := json.NewDecoder(r).Decode(c); err != nil {
		return nil, fmt.Errorf("hardware: decode: %w", err)
	}
	return c, nil
}

// Save writes the configuration to path as JSON.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("hardware: %w", err)
	}
	if err := c.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("hardware: encode: %w", err)
	}
	return f.Close()
}

// Load reads a configuration from a JSON file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hardware: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
