// Experiment persistence
//
// Every saved experiment is a folder under the data root holding four JSON
// documents: the hardware configuration, the settings, the command list and
// the acquired data.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/log"
	"ssnmr-sequencer/pkg/metrics"
	"ssnmr-sequencer/pkg/pool"
)

// Files of a saved experiment.
const (
	ConfigFile   = "config.json"
	SettingsFile = "settings.json"
	CommandsFile = "commands.json"
	DataFile     = "data.json"
)

// DataSaver writes experiments below a root folder.
type DataSaver struct {
	root    string
	log     *log.Logger
	metrics *metrics.Metrics
}

// SaverOption configures a DataSaver.
type SaverOption func(*DataSaver)

// WithSaverLogger sets the logger.
func WithSaverLogger(l *log.Logger) SaverOption {
	return func(d *DataSaver) { d.log = l }
}

// WithSaverMetrics sets the metrics sink.
func WithSaverMetrics(m *metrics.Metrics) SaverOption {
	return func(d *DataSaver) { d.metrics = m }
}

// NewDataSaver creates the root folder if needed.
func NewDataSaver(root string, opts ...SaverOption) (*DataSaver, error) {
	if root == "" {
		return nil, errors.DataSaveError(root, fmt.Errorf("empty data folder"))
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.DataSaveError(root, err)
	}
	d := &DataSaver{root: root, log: log.GetLogger("results")}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Root returns the data folder.
func (d *DataSaver) Root() string { return d.root }

// UniqueName returns prefix followed by a timestamp and a short random
// suffix.
func UniqueName(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := time.Now().Format("20060102_150405") + "_" + id
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

func checkName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid experiment name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("invalid experiment name %q: must be a simple name without path separators", name)
	}
	return nil
}

// SaveExperiment writes the four documents into a new folder called name
// and returns its path. It refuses names with path separators and folders
// that already exist. A partially written folder is removed.
func (d *DataSaver) SaveExperiment(name string, config, settings, commands, data any) (path string, err error) {
	defer func() { d.metrics.ResultSaved(err) }()

	if err := checkName(name); err != nil {
		return "", errors.DataSaveError(name, err)
	}
	folder := filepath.Join(d.root, name)
	if _, err := os.Stat(folder); err == nil {
		return "", errors.DataSaveError(folder, fmt.Errorf("experiment folder already exists: %w", os.ErrExist))
	}
	if err := os.Mkdir(folder, 0755); err != nil {
		return "", errors.DataSaveError(folder, err)
	}

	docs := []struct {
		file  string
		value any
	}{
		{ConfigFile, config},
		{SettingsFile, settings},
		{CommandsFile, commands},
		{DataFile, data},
	}
	for _, doc := range docs {
		if err := writeJSON(filepath.Join(folder, doc.file), doc.value); err != nil {
			os.RemoveAll(folder)
			d.log.WithError(err).Error("saving %s failed", name)
			return "", errors.DataSaveError(folder, fmt.Errorf("failed to save experiment %q: %w", name, err))
		}
	}
	d.log.Info("saved experiment %s", folder)
	return folder, nil
}

func writeJSON(path string, v any) error {
	data, err := pool.EncodeJSON(v, "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Saved is a loaded experiment. Each document is kept raw for the caller
// to decode.
type Saved struct {
	Name     string
	Config   json.RawMessage
	Settings json.RawMessage
	Commands json.RawMessage
	Data     json.RawMessage
}

// LoadExperiment reads a saved experiment. Every document must be present.
func (d *DataSaver) LoadExperiment(name string) (*Saved, error) {
	if err := checkName(name); err != nil {
		return nil, errors.DataSaveError(name, err)
	}
	folder := filepath.Join(d.root, name)
	if _, err := os.Stat(folder); err != nil {
		return nil, errors.DataSaveError(folder, fmt.Errorf("experiment folder not found: %w", err))
	}
	s := &Saved{Name: name}
	for _, doc := range []struct {
		file string
		dst  *json.RawMessage
	}{
		{ConfigFile, &s.Config},
		{SettingsFile, &s.Settings},
		{CommandsFile, &s.Commands},
		{DataFile, &s.Data},
	} {
		raw, err := os.ReadFile(filepath.Join(folder, doc.file))
		if err != nil {
			return nil, errors.DataSaveError(folder, fmt.Errorf("required file %s: %w", doc.file, err))
		}
		if !json.Valid(raw) {
			return nil, errors.DataSaveError(folder, fmt.Errorf("%s is not valid JSON", doc.file))
		}
		*doc.dst = raw
	}
	return s, nil
}

// ListExperiments returns the sorted names of the folders holding a data
// document.
func (d *DataSaver) ListExperiments() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.DataSaveError(d.root, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(d.root, e.Name(), DataFile)); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
