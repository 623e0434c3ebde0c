/*
Copyright 2025 Pacewatch Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scheduler

import (
	"math"
	"sync"
	"time"

	"github.com/pacewatch/pacewatch/lib/defaults"
)

// Adaptive extends the basic scheduler with per-marathon exponential
// backoff: after each consecutive failure the marathon's interval
// doubles, capped at defaults.MaxBackoff; one success resets it.
type Adaptive struct {
	*Scheduler

	mu       sync.Mutex
	failures map[int64]int
}

// NewAdaptive creates an adaptive scheduler.
func NewAdaptive(cfg Config) (*Adaptive, error) {
	base, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Adaptive{
		Scheduler: base,
		failures:  make(map[int64]int),
	}, nil
}

// ShouldRunMarathon applies the base admission check, then the backoff
// window when the marathon is failing.
func (a *Adaptive) ShouldRunMarathon(marathonID int64, refresh time.Duration) bool {
	if !a.Scheduler.ShouldRunMarathon(marathonID, refresh) {
		return false
	}
	a.mu.Lock()
	failures := a.failures[marathonID]
	a.mu.Unlock()
	if failures == 0 {
		return true
	}

	a.Scheduler.mu.Lock()
	since := a.sinceMarathonLocked(marathonID)
	a.Scheduler.mu.Unlock()
	return since >= backoff(refresh, failures)
}

// RecordSuccess marks the run and clears the marathon's backoff.
func (a *Adaptive) RecordSuccess(marathonID int64) {
	a.MarkMarathonRun(marathonID)
	a.mu.Lock()
	delete(a.failures, marathonID)
	a.mu.Unlock()
}

// RecordFailure marks the run and deepens the marathon's backoff.
func (a *Adaptive) RecordFailure(marathonID int64) {
	a.MarkMarathonRun(marathonID)
	a.mu.Lock()
	a.failures[marathonID]++
	a.mu.Unlock()
}

// BackoffTime returns the marathon's current effective interval: the
// refresh when healthy, the backed-off interval when failing.
func (a *Adaptive) BackoffTime(marathonID int64, refresh time.Duration) time.Duration {
	a.mu.Lock()
	failures := a.failures[marathonID]
	a.mu.Unlock()
	if failures == 0 {
		return refresh
	}
	return backoff(refresh, failures)
}

// FailureCount returns the marathon's consecutive failure count.
func (a *Adaptive) FailureCount(marathonID int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures[marathonID]
}

func backoff(refresh time.Duration, failures int) time.Duration {
	d := time.Duration(float64(refresh) * math.Pow(defaults.BackoffMultiplier, float64(failures)))
	if d > defaults.MaxBackoff || d < 0 {
		return defaults.MaxBackoff
	}
	return d
}
