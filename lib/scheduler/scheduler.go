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

// Package scheduler decides when each marathon and each participant may
// be crawled again. Admission is polled: the engine asks on every tick
// and the scheduler answers from its last-run bookkeeping, so no timers
// are kept. The adaptive variant adds exponential backoff on repeated
// marathon failures.
package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pacewatch/pacewatch/lib/defaults"
)

// Config holds the admission intervals.
type Config struct {
	// MinMarathonInterval is the floor between two runs of the same
	// marathon regardless of its configured refresh.
	MinMarathonInterval time.Duration
	// MinParticipantGap is the floor between two fetches of the same
	// participant.
	MinParticipantGap time.Duration
	// ParticipantGapJitter widens the participant gap by a uniform
	// random amount so simultaneous admissions spread out.
	ParticipantGapJitter time.Duration
	// Clock is the time source.
	Clock clockwork.Clock
	// Rand returns a uniform value in [0,1) for jitter. Defaults to
	// math/rand.
	Rand func() float64
}

// CheckAndSetDefaults fills missing intervals with the crawler
// defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.MinMarathonInterval <= 0 {
		c.MinMarathonInterval = defaults.MinMarathonInterval
	}
	if c.MinParticipantGap <= 0 {
		c.MinParticipantGap = defaults.MinParticipantGap
	}
	if c.ParticipantGapJitter < 0 {
		c.ParticipantGapJitter = 0
	} else if c.ParticipantGapJitter == 0 {
		c.ParticipantGapJitter = defaults.ParticipantGapJitter
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
	return nil
}

// Scheduler tracks last-run times per marathon and per participant.
// Safe for concurrent use.
type Scheduler struct {
	cfg Config

	mu              sync.Mutex
	lastMarathon    map[int64]time.Time
	lastParticipant map[int64]time.Time
}

// New creates a basic scheduler.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:             cfg,
		lastMarathon:    make(map[int64]time.Time),
		lastParticipant: make(map[int64]time.Time),
	}, nil
}

// marathonInterval is the effective interval for a marathon: its
// configured refresh bounded below by the global floor.
func (s *Scheduler) marathonInterval(refresh time.Duration) time.Duration {
	if refresh < s.cfg.MinMarathonInterval {
		return s.cfg.MinMarathonInterval
	}
	return refresh
}

// ShouldRunMarathon reports whether the marathon's interval has elapsed
// since its last recorded run. A marathon never seen runs immediately.
func (s *Scheduler) ShouldRunMarathon(marathonID int64, refresh time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinceMarathonLocked(marathonID) >= s.marathonInterval(refresh)
}

// MarkMarathonRun records a marathon run at the current time.
func (s *Scheduler) MarkMarathonRun(marathonID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMarathon[marathonID] = s.cfg.Clock.Now()
}

// MarathonWait returns the remaining wait before the marathon may run,
// zero when it may run now.
func (s *Scheduler) MarathonWait(marathonID int64, refresh time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	wait := s.marathonInterval(refresh) - s.sinceMarathonLocked(marathonID)
	if wait < 0 {
		return 0
	}
	return wait
}

// CanFetchParticipant reports whether the participant's gap has
// elapsed. The gap is the configured floor plus a fresh uniform jitter
// drawn on every call, so a participant denied now may be admitted on a
// cheaper draw a tick later.
func (s *Scheduler) CanFetchParticipant(participantID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	gap := s.cfg.MinParticipantGap +
		time.Duration(s.cfg.Rand()*float64(s.cfg.ParticipantGapJitter))
	last, ok := s.lastParticipant[participantID]
	if !ok {
		return true
	}
	return s.cfg.Clock.Since(last) >= gap
}

// MarkParticipantFetch records a participant fetch at the current time.
func (s *Scheduler) MarkParticipantFetch(participantID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastParticipant[participantID] = s.cfg.Clock.Now()
}

// ParticipantWait returns the remaining un-jittered wait before the
// participant may be fetched, zero when it may be fetched now.
func (s *Scheduler) ParticipantWait(participantID int64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastParticipant[participantID]
	if !ok {
		return 0
	}
	wait := s.cfg.MinParticipantGap - s.cfg.Clock.Since(last)
	if wait < 0 {
		return 0
	}
	return wait
}

// Stats reports how many marathons and participants are tracked.
func (s *Scheduler) Stats() (marathons, participants int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastMarathon), len(s.lastParticipant)
}

// Reset drops all bookkeeping.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.lastMarathon)
	clear(s.lastParticipant)
}

// ResetMarathon drops one marathon's bookkeeping so it runs on the next
// tick.
func (s *Scheduler) ResetMarathon(marathonID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastMarathon, marathonID)
}

// ResetParticipant drops one participant's bookkeeping.
func (s *Scheduler) ResetParticipant(participantID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastParticipant, participantID)
}

// sinceMarathonLocked returns the time since the marathon's last run,
// or a value past any interval when it never ran.
func (s *Scheduler) sinceMarathonLocked(marathonID int64) time.Duration {
	last, ok := s.lastMarathon[marathonID]
	if !ok {
		return 1<<62 - 1
	}
	return s.cfg.Clock.Since(last)
}
