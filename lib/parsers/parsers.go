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

// Package parsers converts the upstream timing providers' pages into
// one canonical split set. Each provider has a dedicated parser picked
// by host substring; unknown hosts fall back to a generic table
// extractor. Parsers are pure except for the smartchip dual-path
// resolution and never fail the caller: a page that cannot be parsed
// yields an empty result.
package parsers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pacewatch/pacewatch/lib/utils"
)

// Asset kinds.
const (
	KindCertificate = "certificate"
	KindLivephoto   = "livephoto"
)

// Split is one checkpoint observation.
type Split struct {
	// PointLabel is the checkpoint label, verbatim from upstream
	// except for finish promotion.
	PointLabel string
	// PointKm is the checkpoint distance; 0 means unknown.
	PointKm float64
	// NetTime is the cumulative elapsed time, "HH:MM:SS" shaped.
	NetTime string
	// PassClock is the wall clock time of day at the checkpoint.
	PassClock string
	// Pace is the per-km pace, "MM:SS" shaped.
	Pace string
}

// Summary carries provider totals printed outside the split table.
type Summary struct {
	TotalNet   string
	StartTime  string
	FinishTime string
}

// Asset is a downloadable artifact referenced by a result page.
type Asset struct {
	Kind string
	Host string
	URL  string
}

// Result is the canonical parser output. All fields are always
// present; empty pages produce empty slices.
type Result struct {
	Splits  []Split
	Summary Summary
	Assets  []Asset
	// RaceLabel and RaceTotalKm are the inferred race metadata;
	// "" / 0 mean unknown.
	RaceLabel   string
	RaceTotalKm float64
	// State is the smartchip progress state: in_progress, finished,
	// in_progress_no_table, fallback or unknown.
	State string
}

// FetchFunc retrieves an auxiliary page during parsing; nil disables
// the fetch-dependent paths (smartchip dual-path resolution).
type FetchFunc func(ctx context.Context, url string, timeout time.Duration) (string, error)

// Context carries the request context a parser may need.
type Context struct {
	// Host is the page's host.
	Host string
	// URL is the page's URL.
	URL string
	// Usedata is the upstream race identifier.
	Usedata string
	// Bib is the participant's bib or name.
	Bib string
	// Fetch retrieves auxiliary pages; may be nil.
	Fetch FetchFunc
}

// Parser converts one provider's pages into the canonical result.
type Parser interface {
	// CanParse reports whether this parser handles the host.
	CanParse(host string) bool
	// Parse converts a page body. body may be HTML or a
	// browser-captured "JSON::" payload.
	Parse(ctx context.Context, body string, pctx Context) (*Result, error)
}

type registryEntry struct {
	hostSubstr string
	parser     Parser
}

// registry maps host substrings to dedicated parsers, in match order.
var registry = []registryEntry{
	{"smartchip.co.kr", &smartchipParser{}},
	{"spct.co.kr", &spctParser{}},
	{"myresult.co.kr", &myresultParser{}},
}

// ParserFor returns the dedicated parser for a host, or nil.
func ParserFor(host string) Parser {
	h := strings.ToLower(host)
	for _, e := range registry {
		if strings.Contains(h, e.hostSubstr) {
			return e.parser
		}
	}
	return nil
}

// SupportedHosts lists the registry's host substrings.
func SupportedHosts() []string {
	hosts := make([]string, 0, len(registry))
	for _, e := range registry {
		hosts = append(hosts, e.hostSubstr)
	}
	return hosts
}

// Parse routes a page to its provider parser with a generic table
// fallback. It never returns nil and never fails: a dedicated parser
// error downgrades to the generic extractor.
func Parse(ctx context.Context, body string, pctx Context) *Result {
	if body == "" {
		return &Result{Splits: []Split{}, Assets: []Asset{}}
	}
	if p := ParserFor(pctx.Host); p != nil {
		res, err := p.Parse(ctx, body, pctx)
		if err == nil && res != nil {
			return withDefaults(res)
		}
		slog.Warn("provider parser failed, using generic extractor",
			"host", pctx.Host, "error", err)
	}
	return ParseGenericTable(body)
}

func withDefaults(r *Result) *Result {
	if r.Splits == nil {
		r.Splits = []Split{}
	}
	if r.Assets == nil {
		r.Assets = []Asset{}
	}
	return r
}

// EnsureFinishLabel promotes the last split's label to Finish when the
// splits clearly reach the end of the course. Idempotent.
func EnsureFinishLabel(splits []Split, raceTotalKm float64) []Split {
	if len(splits) == 0 {
		return splits
	}
	last := &splits[len(splits)-1]
	if utils.IsFinishLabel(last.PointLabel) {
		return splits
	}
	switch {
	case raceTotalKm > 0 && last.PointKm > 0 && last.PointKm >= raceTotalKm-1.0:
		last.PointLabel = "Finish"
	case raceTotalKm <= 0 && last.PointKm >= 41.5 && last.PointKm <= 43.0:
		last.PointLabel = "Finish"
	}
	return splits
}

// kmOf is KmFromLabel with a 0 sentinel for unknown.
func kmOf(label string) float64 {
	km, ok := utils.KmFromLabel(label)
	if !ok {
		return 0
	}
	return km
}

// cellText extracts a cleaned cell's text.
func cellText(s *goquery.Selection) string {
	return utils.CleanLabel(s.Text())
}

// docFrom parses an HTML body.
func docFrom(body string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(body))
}
