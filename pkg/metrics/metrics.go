// Metrics collection for the NMR sequencer
//
// Provides Prometheus metrics for program lowering, job execution, result
// persistence and live streaming. All collectors live on a private
// registry together with the Go runtime and process collectors.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ssnmr-sequencer/pkg/errors"
)

const namespace = "nmr"

// Job modes.
const (
	ModeExecute  = "execute"
	ModeSimulate = "simulate"
)

// Metrics holds the sequencer's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ProgramsLowered  *prometheus.CounterVec
	LoweringErrors   *prometheus.CounterVec
	LoweringDuration prometheus.Histogram

	JobsTotal       *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	JobsRunning     prometheus.Gauge
	ScansCompleted  prometheus.Counter
	AveragesDone    prometheus.Gauge
	InterlockErrors prometheus.Counter

	ResultsSaved *prometheus.CounterVec
	LiveClients  prometheus.Gauge
	LiveMessages prometheus.Counter

	startTime time.Time
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	m.ProgramsLowered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "programs_lowered_total",
		Help: "Programs lowered from command sequences, by experiment shape",
	}, []string{"shape"})
	m.LoweringErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "lowering_errors_total",
		Help: "Failed lowerings, by error code",
	}, []string{"code"})
	m.LoweringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "lowering_duration_seconds",
		Help:    "Time spent lowering a sequence into a program",
		Buckets: prometheus.ExponentialBuckets(1e-5, 4, 8),
	})

	m.JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "jobs_total",
		Help: "Finished jobs, by mode and outcome",
	}, []string{"mode", "outcome"})
	m.JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "job_duration_seconds",
		Help:    "Wall time of finished jobs",
		Buckets: prometheus.ExponentialBuckets(1e-3, 4, 10),
	}, []string{"mode"})
	m.JobsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "jobs_running",
		Help: "Jobs currently executing",
	})
	m.ScansCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "scans_completed_total",
		Help: "Excitation and readout scans completed",
	})
	m.AveragesDone = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "averages_completed",
		Help: "Averaging iterations completed by the current job",
	})
	m.InterlockErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "interlock_violations_total",
		Help: "Programs refused because they violate the transmit/receive interlock",
	})

	m.ResultsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "results_saved_total",
		Help: "Experiment folders written, by outcome",
	}, []string{"outcome"})
	m.LiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "live_clients",
		Help: "Connected live data websocket clients",
	})
	m.LiveMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "live_messages_total",
		Help: "Messages broadcast to live data clients",
	})

	m.registry.MustRegister(
		m.ProgramsLowered, m.LoweringErrors, m.LoweringDuration,
		m.JobsTotal, m.JobDuration, m.JobsRunning, m.ScansCompleted, m.AveragesDone, m.InterlockErrors,
		m.ResultsSaved, m.LiveClients, m.LiveMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "uptime_seconds",
			Help: "Seconds since the metrics were created",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
	)
	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveLowering records one lowering attempt.
func (m *Metrics) ObserveLowering(shape string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.LoweringDuration.Observe(d.Seconds())
	if err != nil {
		m.LoweringErrors.WithLabelValues(errorCode(err)).Inc()
		return
	}
	m.ProgramsLowered.WithLabelValues(shape).Inc()
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsRunning.Inc()
	m.AveragesDone.Set(0)
}

// JobFinished records a finished job.
func (m *Metrics) JobFinished(mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
	m.JobDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.JobsTotal.WithLabelValues(mode, outcome(err)).Inc()
}

// ScanCompleted counts one scan.
func (m *Metrics) ScanCompleted() {
	if m == nil {
		return
	}
	m.ScansCompleted.Inc()
}

// SetAverages reports the completed averaging iterations of the current job.
func (m *Metrics) SetAverages(n int) {
	if m == nil {
		return
	}
	m.AveragesDone.Set(float64(n))
}

// InterlockViolation counts a refused program.
func (m *Metrics) InterlockViolation() {
	if m == nil {
		return
	}
	m.InterlockErrors.Inc()
}

// ResultSaved records a save attempt.
func (m *Metrics) ResultSaved(err error) {
	if m == nil {
		return
	}
	m.ResultsSaved.WithLabelValues(outcome(err)).Inc()
}

// SetLiveClients reports the connected live client count.
func (m *Metrics) SetLiveClients(n int) {
	if m == nil {
		return
	}
	m.LiveClients.Set(float64(n))
}

// LiveMessage counts one broadcast message.
func (m *Metrics) LiveMessage() {
	if m == nil {
		return
	}
	m.LiveMessages.Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func errorCode(err error) string {
	for _, code := range []errors.ErrorCode{
		errors.ErrConfig, errors.ErrInvalidCommand, errors.ErrInvalidSweep, errors.ErrShapeMismatch,
		errors.ErrEmptySequence, errors.ErrInterlockTiming, errors.ErrInterlockViolation,
	} {
		if errors.Is(err, code) {
			return string(code)
		}
	}
	return "UNKNOWN"
}

var (
	globalMetrics *Metrics
	globalOnce    sync.Once
)

// Global returns the process-wide metrics, creating them on first use.
func Global() *Metrics {
	globalOnce.Do(func() {
		globalMetrics = New()
	})
	return globalMetrics
}
