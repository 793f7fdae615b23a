// Running programs
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package executor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Snapshot is the reduced state of every output at the end of an
// averaging iteration.
type Snapshot struct {
	JobID string `json:"job_id"`
	// Iteration counts the completed averaging iterations.
	Iteration int               `json:"iteration"`
	Averages  int               `json:"averages"`
	Outputs   map[string]Output `json:"outputs"`
	Time      time.Time         `json:"time"`
}

// Output returns the named output.
func (s Snapshot) Output(name string) (Output, bool) {
	o, ok := s.Outputs[name]
	return o, ok
}

// Done reports whether all averaging iterations have completed.
func (s Snapshot) Done() bool { return s.Averages > 0 && s.Iteration >= s.Averages }

// Job is a program running on an executor. Results are published as
// snapshots after each averaging iteration.
type Job struct {
	id      string
	mode    string
	started time.Time

	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}

	updates   chan Snapshot
	snapshots chan Snapshot

	mu     sync.Mutex
	latest Snapshot
	have   bool
	err    error
}

func newJob(id, mode string) *Job {
	return &Job{
		id:        id,
		mode:      mode,
		started:   time.Now(),
		done:      make(chan struct{}),
		updates:   make(chan Snapshot, 16),
		snapshots: make(chan Snapshot, 1),
	}
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

// Mode returns the executor mode that runs the job.
func (j *Job) Mode() string { return j.mode }

// Started returns the wall time the job was started.
func (j *Job) Started() time.Time { return j.started }

// Snapshots returns a channel carrying the most recent snapshot. Snapshots
// a slow reader misses are dropped in favor of newer ones. The channel is
// closed when the job ends.
func (j *Job) Snapshots() <-chan Snapshot { return j.snapshots }

// Done is closed when the job has ended.
func (j *Job) Done() <-chan struct{} { return j.done }

// Latest returns the most recent snapshot, if any.
func (j *Job) Latest() (Snapshot, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.latest, j.have
}

// Cancel stops the job. Wait returns context.Canceled afterwards.
func (j *Job) Cancel() { j.cancel() }

// Wait blocks until the job ends and returns its last snapshot.
func (j *Job) Wait() (Snapshot, error) {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.latest, j.err
}

// publish hands a snapshot from the interpreter to the forwarder.
func (j *Job) publish(ctx context.Context, s Snapshot) error {
	select {
	case j.updates <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forward keeps the latest snapshot and offers it on the public channel,
// replacing a stale snapshot no one has read yet.
func (j *Job) forward() error {
	defer close(j.snapshots)
	for s := range j.updates {
		j.mu.Lock()
		j.latest, j.have = s, true
		j.mu.Unlock()
		for {
			select {
			case j.snapshots <- s:
			default:
				select {
				case <-j.snapshots:
				default:
				}
				continue
			}
			break
		}
	}
	return nil
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
	close(j.done)
}
