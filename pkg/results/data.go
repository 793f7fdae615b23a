// Package results converts executor output into physical units and
// persists finished experiments.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package results

import (
	"time"

	"gonum.org/v1/gonum/floats"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/executor"
	"ssnmr-sequencer/pkg/experiment"
	"ssnmr-sequencer/pkg/hardware"
)

// demodFullScale is the demodulator's fixed-point scale per nanosecond of
// integration.
const demodFullScale = 4096

// DemodToVolts converts demodulated values integrated over readoutLen into
// volts.
func DemodToVolts(values []float64, readoutLen clock.Duration) []float64 {
	out := make([]float64, len(values))
	if readoutLen <= 0 {
		return out
	}
	floats.ScaleTo(out, demodFullScale/float64(readoutLen), values)
	return out
}

// Data is the persisted acquisition of one experiment.
type Data struct {
	RunID      string    `json:"run_id"`
	Saved      time.Time `json:"saved"`
	NAvg       int       `json:"n_avg"`
	Iterations int       `json:"iterations"`
	// Shape is the shape of I and Q: [samples] or [sweep, samples].
	Shape []int `json:"shape"`
	// TauSweep is the acquisition time of each sample in nanoseconds.
	TauSweep   []float64 `json:"tau_sweep"`
	SweepLabel string    `json:"sweep_label,omitempty"`
	SweepAxis  []float64 `json:"sweep_axis,omitempty"`
	// I and Q are in volts, row-major.
	I []float64 `json:"I_data"`
	Q []float64 `json:"Q_data"`
}

// NewData builds the data document from an experiment's final snapshot.
func NewData(e *experiment.Experiment, snap executor.Snapshot) Data {
	s := e.Settings()
	plan := e.Plan()
	i, _ := snap.Output(experiment.ResultI)
	q, _ := snap.Output(experiment.ResultQ)
	d := Data{
		RunID:      snap.JobID,
		Saved:      time.Now().UTC(),
		NAvg:       s.NAvg,
		Iterations: snap.Iteration,
		Shape:      i.Shape,
		TauSweep:   plan.TauSweep,
		I:          DemodToVolts(i.Values, s.DwellTime),
		Q:          DemodToVolts(q.Values, s.DwellTime),
	}
	if e.Sequence().Swept() {
		d.SweepLabel = e.SweepLabel()
		d.SweepAxis = e.SweepAxis()
	}
	return d
}

// SaveRun saves a finished experiment: the vendor form of the hardware
// configuration, the settings, the command records and the converted data.
func (d *DataSaver) SaveRun(name string, e *experiment.Experiment, hw *hardware.Config, snap executor.Snapshot) (string, error) {
	return d.SaveExperiment(name,
		hw.Vendor(),
		e.Settings(),
		experiment.Records(e.Sequence().Commands()),
		NewData(e, snap))
}
