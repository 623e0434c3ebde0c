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

// Package defaults contains default constants set in various parts of
// the crawler. Values that upstream timing providers depend on (header
// strings, tolerance bounds, standard race distances) live here so that
// parsers, the scheduler and the engine agree on them.
package defaults

import "time"

const (
	// HalfKm and FullKm are the nominal half/full marathon distances used
	// when a race label carries a keyword instead of a number. They are
	// deliberately the loose values the providers print, not the exact
	// 21.0975/42.195 figures.
	HalfKm = 21.0
	FullKm = 42.1

	// MaxWorkers is the default size of the per-marathon fetch pool.
	MaxWorkers = 24

	// FetchCacheTTL is how long a fetched page is served from the
	// in-process cache.
	FetchCacheTTL = 30 * time.Second

	// FetchTimeout is the default timeout for a single upstream fetch.
	FetchTimeout = 10 * time.Second

	// RedirectFetchTimeout is the timeout for fetches that follow
	// JS/meta redirects and therefore issue more than one request.
	RedirectFetchTimeout = 15 * time.Second

	// ImageDownloadTimeout bounds a single certificate image download.
	ImageDownloadTimeout = 20 * time.Second

	// ImageWorkers is the number of background certificate downloaders.
	ImageWorkers = 3

	// ImageQueueSize bounds the certificate download queue; jobs past the
	// bound are dropped and re-enqueued on a later tick.
	ImageQueueSize = 1024

	// ImageDrainTimeout bounds the wait for image workers on shutdown.
	ImageDrainTimeout = 5 * time.Second

	// ImageMinSize is the smallest byte count accepted as a real
	// certificate image; anything smaller is an error page.
	ImageMinSize = 512

	// MinMarathonInterval is the floor on per-marathon refresh periods.
	MinMarathonInterval = 5 * time.Second

	// MinParticipantGap is the floor on the delay between two fetches of
	// the same participant.
	MinParticipantGap = 3 * time.Second

	// ParticipantGapJitter is the upper bound of the random jitter added
	// to MinParticipantGap on every admission check.
	ParticipantGapJitter = 2 * time.Second

	// MaxBackoff caps the adaptive scheduler's exponential backoff.
	MaxBackoff = 300 * time.Second

	// BackoffMultiplier is the per-failure growth factor of the adaptive
	// scheduler.
	BackoffMultiplier = 2.0

	// TickPeriod is the cadence of the engine main loop.
	TickPeriod = 100 * time.Millisecond

	// DBBusyTimeout is the sqlite busy timeout allowing the image workers
	// and the engine to share the database file.
	DBBusyTimeout = 5 * time.Second

	// JoinCodeLength is the length of marathon join codes.
	JoinCodeLength = 8

	// JoinCodeTTL is how long a freshly issued join code stays valid.
	JoinCodeTTL = 72 * time.Hour
)

// JoinCodeAlphabet is the confusion-safe alphabet for join codes:
// base-32 without I, 1, O and 0.
const JoinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// StandardDistances are the race lengths (km) measured distances snap to
// when within SnapEpsilon.
var StandardDistances = []float64{5, 10, 21.1, 42.2, 50, 100, 109}

// SnapEpsilon is the maximum deviation at which a measured distance
// snaps to a standard one.
const SnapEpsilon = 0.6

// UserAgent identifies the crawler as a standard desktop browser; some
// providers refuse anything else.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// AcceptLanguage is sent on every request; the providers are Korean.
const AcceptLanguage = "ko,en;q=0.8"

// FinishKeywordsKo and FinishKeywordsEn mark a split label as a finish
// line. Matching is substring on the cleaned label; Korean keywords are
// matched case-sensitively, English ones on the lowercased label.
var (
	FinishKeywordsKo = []string{"도착", "완주", "골인", "결승", "피니시"}
	FinishKeywordsEn = []string{"finish", "goal", "completed", "end"}
)

// InsecureHosts are host names with TLS verification disabled by
// default; several provider hosts serve expired or mismatched
// certificates. Extend via the INSECURE_HOSTS environment variable.
var InsecureHosts = []string{
	"smartchip.co.kr",
	"www.smartchip.co.kr",
	"myresult.co.kr",
	"image.smartchip.co.kr",
	"img.spct.kr",
}

// ToleranceBand maps a snapped total distance to the point-to-finish
// tolerance used by finish detection.
type ToleranceBand struct {
	MinKm float64
	MaxKm float64
	Tol   float64
}

// DistanceTolerances is ordered; the first band containing the snapped
// distance wins.
var DistanceTolerances = []ToleranceBand{
	{0, 5, 0.4},
	{5, 10, 0.6},
	{10, 15, 1.0},
	{15, 20, 0.8},
	{20, 40, 0.8},
	{40, 1 << 20, 3.0},
}

// FinishTolerance returns the finish tolerance for a snapped total
// distance, with 0.5 as the out-of-band fallback.
func FinishTolerance(snappedKm float64) float64 {
	for _, b := range DistanceTolerances {
		if snappedKm >= b.MinKm && snappedKm < b.MaxKm {
			return b.Tol
		}
	}
	return 0.5
}
