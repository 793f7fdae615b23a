package results

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/executor"
	"ssnmr-sequencer/pkg/experiment"
	"ssnmr-sequencer/pkg/hardware"
	"ssnmr-sequencer/pkg/log"
	"ssnmr-sequencer/pkg/metrics"
	"ssnmr-sequencer/pkg/settings"
)

func newSaver(t *testing.T, m *metrics.Metrics) *DataSaver {
	t.Helper()
	d, err := NewDataSaver(filepath.Join(t.TempDir(), "data"), WithSaverLogger(log.Discard()), WithSaverMetrics(m))
	require.NoError(t, err)
	return d
}

func TestDemodToVolts(t *testing.T) {
	v := DemodToVolts([]float64{1, -0.5, 0}, 4*clock.Microsecond)
	assert.InDeltaSlice(t, []float64{4096.0 / 4000, -2048.0 / 4000, 0}, v, 1e-12)
	assert.Equal(t, []float64{0}, DemodToVolts([]float64{3}, 0))
}

func TestSaveAndLoadExperiment(t *testing.T) {
	m := metrics.New()
	d := newSaver(t, m)

	path, err := d.SaveExperiment("experiment_001",
		map[string]any{"version": 1},
		map[string]any{"n_avg": 4},
		[]map[string]any{{"type": "pulse"}},
		map[string]any{"I_data": []float64{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.Root(), "experiment_001"), path)
	for _, f := range []string{ConfigFile, SettingsFile, CommandsFile, DataFile} {
		assert.FileExists(t, filepath.Join(path, f))
	}

	saved, err := d.LoadExperiment("experiment_001")
	require.NoError(t, err)
	var data struct {
		I []float64 `json:"I_data"`
	}
	require.NoError(t, json.Unmarshal(saved.Data, &data))
	assert.Equal(t, []float64{1, 2, 3}, data.I)
	assert.JSONEq(t, `{"n_avg": 4}`, string(saved.Settings))

	names, err := d.ListExperiments()
	require.NoError(t, err)
	assert.Equal(t, []string{"experiment_001"}, names)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultsSaved.WithLabelValues("success")))
}

func TestSaveExperimentRejectsBadNames(t *testing.T) {
	d := newSaver(t, nil)
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := d.SaveExperiment(name, nil, nil, nil, nil)
		assert.True(t, errors.Is(err, errors.ErrDataSave), "name %q", name)
	}
	names, err := d.ListExperiments()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSaveExperimentRefusesExistingFolder(t *testing.T) {
	m := metrics.New()
	d := newSaver(t, m)
	_, err := d.SaveExperiment("run", 1, 2, 3, 4)
	require.NoError(t, err)

	_, err = d.SaveExperiment("run", 1, 2, 3, 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDataSave))
	assert.ErrorIs(t, err, os.ErrExist)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultsSaved.WithLabelValues("error")))
}

func TestSaveExperimentCleansUpOnFailure(t *testing.T) {
	d := newSaver(t, nil)
	// Channels cannot be encoded as JSON.
	_, err := d.SaveExperiment("broken", 1, 2, 3, make(chan int))
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(d.Root(), "broken"))
}

func TestLoadExperimentRequiresAllFiles(t *testing.T) {
	d := newSaver(t, nil)
	path, err := d.SaveExperiment("partial", 1, 2, 3, 4)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(path, CommandsFile)))

	_, err = d.LoadExperiment("partial")
	assert.True(t, errors.Is(err, errors.ErrDataSave))
	assert.Contains(t, err.Error(), CommandsFile)

	_, err = d.LoadExperiment("missing")
	assert.True(t, errors.Is(err, errors.ErrDataSave))
}

func TestListExperimentsSkipsFoldersWithoutData(t *testing.T) {
	d := newSaver(t, nil)
	for _, name := range []string{"b", "a"} {
		_, err := d.SaveExperiment(name, 1, 2, 3, 4)
		require.NoError(t, err)
	}
	require.NoError(t, os.Mkdir(filepath.Join(d.Root(), "empty"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(d.Root(), "notes.txt"), nil, 0644))

	names, err := d.ListExperiments()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestUniqueName(t *testing.T) {
	a, b := UniqueName("fid"), UniqueName("fid")
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^fid_\d{8}_\d{6}_[0-9a-f]{8}$`, a)
	assert.NoError(t, checkName(a))
}

func TestSaveRun(t *testing.T) {
	s := settings.Default()
	s.NAvg = 2
	hw, err := hardware.FromSettings(s)
	require.NoError(t, err)
	e, err := experiment.New(s, hw, experiment.WithShape(experiment.ShapeSwept), experiment.WithoutInitialDelay())
	require.NoError(t, err)
	require.NoError(t, e.AddPulse(s.PiHalfKey, s.ResKey, experiment.WithAmplitude(experiment.Vector(0.5, 1, 1.5))))
	e.SetSweepLabel("Amplitude scale")
	p, err := e.Program()
	require.NoError(t, err)

	job, err := executor.NewSimulator(executor.WithLogger(log.Discard())).Execute(context.Background(), hw, p)
	require.NoError(t, err)
	snap, err := job.Wait()
	require.NoError(t, err)

	d := newSaver(t, nil)
	_, err = d.SaveRun("pulcal", e, hw, snap)
	require.NoError(t, err)

	saved, err := d.LoadExperiment("pulcal")
	require.NoError(t, err)

	var data Data
	require.NoError(t, json.Unmarshal(saved.Data, &data))
	L := e.Plan().MeasureSequenceLen
	assert.Equal(t, job.ID(), data.RunID)
	assert.Equal(t, 2, data.Iterations)
	assert.Equal(t, []int{3, L}, data.Shape)
	assert.Len(t, data.I, 3*L)
	assert.Len(t, data.TauSweep, L)
	assert.Equal(t, "Amplitude scale", data.SweepLabel)
	assert.Equal(t, []float64{0.5, 1, 1.5}, data.SweepAxis)

	var records []experiment.Record
	require.NoError(t, json.Unmarshal(saved.Commands, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "amplitude", records[0].Swept)

	var loaded settings.Settings
	require.NoError(t, json.Unmarshal(saved.Settings, &loaded))
	assert.Equal(t, s.PulseLength, loaded.PulseLength)
	assert.InDelta(t, s.CenterFreq.Hz(), loaded.CenterFreq.Hz(), 1e-3)

	var config map[string]any
	require.NoError(t, json.Unmarshal(saved.Config, &config))
	assert.Contains(t, config, "elements")
}
