package experiment

import (
	"fmt"

	"ssnmr-sequencer/pkg/clock"
	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/safety"
	"ssnmr-sequencer/pkg/settings"
)

// TimingPlan holds the loop counts and waits derived from the settings.
type TimingPlan struct {
	Averages     int
	PreScanDelay clock.Cycles
	LoopWait     clock.Cycles
	ThermalReset clock.Cycles
	// MeasureSequenceLen is the number of dwell-time samples per scan.
	MeasureSequenceLen int
	// SweepLen is the length of the sweep vector, zero when unswept.
	SweepLen int
	// TauSweep is the centre time of each sample in nanoseconds.
	TauSweep []float64
}

// PreScanDelay is the wait between the safe and readout macros that makes
// the readout start readoutDelay after the end of the sequence.
func PreScanDelay(readoutDelay clock.Duration) clock.Cycles {
	return readoutDelay.Cycles() - 2*safety.AmplifierBlankingTime - safety.RxSwitchDelay
}

// NewTimingPlan derives the timing of an unswept experiment. It fails when
// the readout delay cannot accommodate the interlock settle times.
func NewTimingPlan(s settings.Settings) (TimingPlan, error) {
	pre := PreScanDelay(s.ReadoutDelay)
	if pre < clock.MinWaitCycles {
		return TimingPlan{}, errors.InterlockTimingError(int64(pre), int64(clock.MinWaitCycles))
	}
	n := 0
	if s.DwellTime > 0 {
		n = int((s.ReadoutEnd - s.ReadoutStart) / s.DwellTime)
	}
	if n < 1 {
		return TimingPlan{}, errors.SettingsValidationError(fmt.Errorf(
			"readout window %s to %s holds no %s dwell sample", s.ReadoutStart, s.ReadoutEnd, s.DwellTime))
	}
	return TimingPlan{
		Averages:           s.NAvg,
		PreScanDelay:       pre,
		LoopWait:           s.DwellTime.Cycles(),
		ThermalReset:       s.ThermalReset.Cycles(),
		MeasureSequenceLen: n,
		TauSweep:           TauSweep(s.ReadoutStart, s.DwellTime, n),
	}, nil
}

// WithSweep returns a copy of the plan for a sweep of n points.
func (p TimingPlan) WithSweep(n int) TimingPlan {
	p.SweepLen = n
	p.TauSweep = append([]float64(nil), p.TauSweep...)
	return p
}

// TauSweep returns the centre time of n consecutive samples of width dwell
// starting at start.
func TauSweep(start, dwell clock.Duration, n int) []float64 {
	tau := make([]float64, n)
	for i := range tau {
		tau[i] = float64(start) + (float64(i)+0.5)*float64(dwell)
	}
	return tau
}
