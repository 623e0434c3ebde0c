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

// Package engine drives the crawl: a fast main loop walks the enabled
// marathons, the scheduler decides which are due, participants are
// fetched through the provider pipeline, and each marathon tick's
// observations land in storage as one batch. Certificate downloads run
// on background workers so a slow image host never stalls the loop.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/pacewatch/pacewatch/lib/browser"
	"github.com/pacewatch/pacewatch/lib/defaults"
	"github.com/pacewatch/pacewatch/lib/parsers"
	"github.com/pacewatch/pacewatch/lib/storage"
	"github.com/pacewatch/pacewatch/lib/utils"
)

// PageFetcher retrieves result pages.
type PageFetcher interface {
	Fetch(ctx context.Context, rawurl string, timeout time.Duration, verify *bool) (string, error)
}

// Scheduler decides when marathons and participants are due.
type Scheduler interface {
	ShouldRunMarathon(marathonID int64, refresh time.Duration) bool
	MarkMarathonRun(marathonID int64)
	CanFetchParticipant(participantID int64) bool
	MarkParticipantFetch(participantID int64)
}

// backoffScheduler is the optional adaptive surface. When the
// configured scheduler implements it, marathon outcomes feed the
// backoff instead of a plain run mark.
type backoffScheduler interface {
	RecordSuccess(marathonID int64)
	RecordFailure(marathonID int64)
	BackoffTime(marathonID int64, refresh time.Duration) time.Duration
}

// CertificateSaver downloads one certificate image to disk.
type CertificateSaver interface {
	SaveCertificate(ctx context.Context, host, usedata, bib, imageURL, referer string) (string, error)
}

// Config holds the engine dependencies.
type Config struct {
	// Storage is the crawl database.
	Storage *storage.Storage
	// Fetcher retrieves result pages.
	Fetcher PageFetcher
	// Scheduler gates marathon and participant runs.
	Scheduler Scheduler
	// Downloader saves certificate images; nil disables downloads.
	Downloader CertificateSaver
	// MaxWorkers bounds the per-marathon parallel fetch pool.
	MaxWorkers int
	// ImageWorkers is the number of background download workers.
	ImageWorkers int
	// TickPeriod is the main loop cadence.
	TickPeriod time.Duration
	// Clock is the engine time source.
	Clock clockwork.Clock
	// Logger is the engine logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Storage == nil {
		return trace.BadParameter("missing parameter Storage")
	}
	if c.Fetcher == nil {
		return trace.BadParameter("missing parameter Fetcher")
	}
	if c.Scheduler == nil {
		return trace.BadParameter("missing parameter Scheduler")
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaults.MaxWorkers
	}
	if c.ImageWorkers <= 0 {
		c.ImageWorkers = defaults.ImageWorkers
	}
	if c.TickPeriod <= 0 {
		c.TickPeriod = defaults.TickPeriod
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Engine is the crawler main loop.
type Engine struct {
	cfg Config
	log *slog.Logger

	imageQueue chan imageJob
	imageWG    sync.WaitGroup
	closeOnce  sync.Once
}

// New returns an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{
		cfg:        cfg,
		log:        cfg.Logger.With("component", "engine"),
		imageQueue: make(chan imageJob, defaults.ImageQueueSize),
	}, nil
}

// Run starts the image workers and the main loop, returning nil when
// the context is canceled. The image queue is drained on the way out.
func (e *Engine) Run(ctx context.Context) error {
	e.log.InfoContext(ctx, "starting main loop",
		"workers", e.cfg.MaxWorkers, "image_workers", e.cfg.ImageWorkers)
	e.startImageWorkers()
	defer e.stopImageWorkers()

	ticker := e.cfg.Clock.NewTicker(e.cfg.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.InfoContext(ctx, "shutting down")
			return nil
		case <-ticker.Chan():
			e.tick(ctx)
		}
	}
}

// tick runs one pass over the enabled marathons.
func (e *Engine) tick(ctx context.Context) {
	marathons, err := e.cfg.Storage.EnabledMarathons(ctx)
	if err != nil {
		e.log.ErrorContext(ctx, "failed to list marathons", "error", err)
		return
	}
	for _, m := range marathons {
		e.processMarathon(ctx, m)
	}
}

// processMarathon crawls one marathon if it is due. A skipped marathon
// (not yet event day, or not due) leaves the scheduler untouched.
func (e *Engine) processMarathon(ctx context.Context, m *storage.Marathon) {
	if !e.eventDayReached(ctx, m) {
		return
	}
	if !e.cfg.Scheduler.ShouldRunMarathon(m.ID, m.Refresh()) {
		return
	}
	start := e.cfg.Clock.Now()

	participants, err := e.cfg.Storage.ActiveParticipants(ctx, m.ID)
	if err != nil {
		e.recordFailure(ctx, m, err)
		return
	}
	if len(participants) == 0 {
		// No one to crawl; still wait out the refresh period.
		e.cfg.Scheduler.MarkMarathonRun(m.ID)
		return
	}

	results := e.crawlParticipants(ctx, m, participants)
	if err := e.cfg.Storage.WriteBatch(ctx, buildBatch(results)); err != nil {
		e.recordFailure(ctx, m, err)
		return
	}
	e.enqueueImages(ctx, m, results)

	e.log.InfoContext(ctx, "marathon crawled",
		"marathon_id", m.ID,
		"participants", len(participants),
		"duration", e.cfg.Clock.Since(start))
	if a, ok := e.cfg.Scheduler.(backoffScheduler); ok {
		a.RecordSuccess(m.ID)
	} else {
		e.cfg.Scheduler.MarkMarathonRun(m.ID)
	}
}

func (e *Engine) recordFailure(ctx context.Context, m *storage.Marathon, err error) {
	e.log.ErrorContext(ctx, "marathon crawl failed", "marathon_id", m.ID, "error", err)
	if a, ok := e.cfg.Scheduler.(backoffScheduler); ok {
		a.RecordFailure(m.ID)
		e.log.WarnContext(ctx, "backing off",
			"marathon_id", m.ID,
			"next_try_in", a.BackoffTime(m.ID, m.Refresh()))
	} else {
		e.cfg.Scheduler.MarkMarathonRun(m.ID)
	}
}

// eventDayReached reports whether the marathon's event day has come.
// An unset or malformed date never gates.
func (e *Engine) eventDayReached(ctx context.Context, m *storage.Marathon) bool {
	if m.EventDate == "" {
		return true
	}
	if _, err := time.Parse(time.DateOnly, m.EventDate); err != nil {
		e.log.WarnContext(ctx, "ignoring malformed event date",
			"marathon_id", m.ID, "event_date", m.EventDate)
		return true
	}
	return e.cfg.Clock.Now().Format(time.DateOnly) >= m.EventDate
}

// crawlResult is one participant's crawl outcome.
type crawlResult struct {
	participantID int64
	bib           string
	splits        []parsers.Split
	raceLabel     string
	raceTotalKm   float64
	assets        []parsers.Asset
}

// crawlParticipants fetches every due participant. myresult pages go
// through the single browser worker and are crawled serially; the rest
// run on the bounded pool.
func (e *Engine) crawlParticipants(ctx context.Context, m *storage.Marathon, participants []*storage.Participant) []crawlResult {
	type job struct {
		p   *storage.Participant
		url string
	}
	var parallel, serial []job
	for _, p := range participants {
		if !e.cfg.Scheduler.CanFetchParticipant(p.ID) {
			continue
		}
		e.cfg.Scheduler.MarkParticipantFetch(p.ID)
		pageURL := BuildURL(m.URLTemplate, p.NameOrBibNo, m.Usedata)
		if strings.Contains(utils.HostOf(pageURL), "myresult.co.kr") {
			serial = append(serial, job{p: p, url: pageURL})
		} else {
			parallel = append(parallel, job{p: p, url: pageURL})
		}
	}

	var (
		mu      sync.Mutex
		results []crawlResult
	)
	var group errgroup.Group
	group.SetLimit(e.cfg.MaxWorkers)
	for _, j := range parallel {
		group.Go(func() error {
			r := e.crawlOne(ctx, m, j.p, j.url)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	group.Wait()

	for _, j := range serial {
		results = append(results, e.crawlOne(ctx, m, j.p, j.url))
	}
	return results
}

// crawlOne fetches and parses one participant's result page. Fetch and
// parse failures degrade to an empty result rather than failing the
// marathon.
func (e *Engine) crawlOne(ctx context.Context, m *storage.Marathon, p *storage.Participant, pageURL string) crawlResult {
	host := utils.HostOf(pageURL)
	body, err := e.cfg.Fetcher.Fetch(ctx, pageURL, 0, nil)
	if err != nil {
		e.log.WarnContext(ctx, "fetch failed",
			"participant_id", p.ID, "url", pageURL, "error", err)
		body = ""
	}

	res := parsers.Parse(ctx, body, parsers.Context{
		Host:    host,
		URL:     pageURL,
		Usedata: m.Usedata,
		Bib:     p.NameOrBibNo,
		Fetch:   e.auxFetch,
	})
	if strings.HasPrefix(body, browser.JSONPrefix) {
		e.backfillMyresultFinish(ctx, pageURL, host, res)
	}
	res.Splits = parsers.EnsureFinishLabel(res.Splits, res.RaceTotalKm)

	assets := res.Assets
	if len(assets) == 0 {
		assets = InferAssets(host, m.Usedata, p.NameOrBibNo)
	}
	return crawlResult{
		participantID: p.ID,
		bib:           p.NameOrBibNo,
		splits:        res.Splits,
		raceLabel:     res.RaceLabel,
		raceTotalKm:   res.RaceTotalKm,
		assets:        assets,
	}
}

// auxFetch adapts the fetcher to the parsers' auxiliary fetch hook.
func (e *Engine) auxFetch(ctx context.Context, rawurl string, timeout time.Duration) (string, error) {
	return e.cfg.Fetcher.Fetch(ctx, rawurl, timeout, nil)
}

// backfillMyresultFinish supplements a captured-JSON myresult result
// that lacks a Finish row: the rendered page carries the race total
// even when the JSON payload does not. The second fetch is cache
// busted so it cannot hit the cached JSON body; if it still comes back
// as JSON, the result is left alone.
func (e *Engine) backfillMyresultFinish(ctx context.Context, pageURL, host string, res *parsers.Result) {
	if !strings.Contains(host, "myresult.co.kr") || parsers.HasFinishRow(res.Splits) {
		return
	}
	body, err := e.cfg.Fetcher.Fetch(ctx, utils.AddCacheBuster(pageURL), defaults.FetchTimeout, nil)
	if err != nil || body == "" || strings.HasPrefix(body, browser.JSONPrefix) {
		return
	}
	total := parsers.ExtractTotalNetTime(body)
	if !utils.LooksTime(total) {
		return
	}
	res.Splits = append(res.Splits, parsers.Split{
		PointLabel: "Finish",
		NetTime:    total,
		PassClock:  parsers.ExtractFinishClock(body),
	})
	e.log.DebugContext(ctx, "backfilled finish from rendered page",
		"url", pageURL, "net", total)
}

// buildBatch reduces one tick's crawl results into a storage batch.
// Splits without a label cannot be keyed and are dropped.
func buildBatch(results []crawlResult) *storage.Batch {
	b := &storage.Batch{}
	for _, r := range results {
		if r.raceLabel != "" || r.raceTotalKm > 0 {
			b.Meta = append(b.Meta, storage.MetaUpdate{
				ParticipantID: r.participantID,
				RaceLabel:     r.raceLabel,
				RaceTotalKm:   r.raceTotalKm,
			})
		}
		for _, s := range r.splits {
			if strings.TrimSpace(s.PointLabel) == "" {
				continue
			}
			b.Splits = append(b.Splits, storage.SplitUpsert{
				ParticipantID: r.participantID,
				PointLabel:    s.PointLabel,
				PointKm:       s.PointKm,
				NetTime:       s.NetTime,
				PassClock:     s.PassClock,
				Pace:          s.Pace,
			})
		}
		for _, a := range r.assets {
			if a.URL == "" {
				continue
			}
			b.Assets = append(b.Assets, storage.AssetUpsert{
				ParticipantID: r.participantID,
				Kind:          a.Kind,
				Host:          a.Host,
				URL:           a.URL,
			})
		}
	}
	return b
}

// isFinished reports whether any split carries a finish label.
func isFinished(splits []parsers.Split) bool {
	for _, s := range splits {
		if utils.IsFinishLabel(s.PointLabel) {
			return true
		}
	}
	return false
}
