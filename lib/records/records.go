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

// Package records aggregates each active participant's best record for
// display: one line per participant with their final (or latest) time,
// race category and certificate link.
package records

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/gravitational/trace"

	"github.com/pacewatch/pacewatch/lib/assets"
	"github.com/pacewatch/pacewatch/lib/storage"
	"github.com/pacewatch/pacewatch/lib/utils"
)

// Record is one participant's display line.
type Record struct {
	// Name is the alias when set, the bib otherwise.
	Name     string
	Category string
	Distance float64
	Marathon string
	// Record is the best net time, "" when none is usable yet.
	Record string
	// Clock is the matching pass clock.
	Clock string
	// CertWeb is the certificate link: the local /static path when
	// downloaded, the upstream URL otherwise.
	CertWeb string
}

// Config holds the aggregation dependencies.
type Config struct {
	Storage *storage.Storage
	// StaticDir maps stored local paths to /static URLs.
	StaticDir string
	Logger    *slog.Logger
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Storage == nil {
		return trace.BadParameter("missing storage")
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "records")
	}
	return nil
}

// Service aggregates records.
type Service struct {
	cfg Config
}

// NewService creates a records service.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// AllRecords returns every active participant's record, optionally
// filtered by a name and a marathon substring, sorted by name, then
// distance descending, then record ascending with missing records
// last.
func (s *Service) AllRecords(ctx context.Context, query, marathonFilter string) ([]Record, error) {
	sources, err := s.cfg.Storage.RecordSources(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	items := make([]Record, 0, len(sources))
	for _, src := range sources {
		rec := Record{
			Name:     displayName(src),
			Marathon: src.MarathonName,
			Distance: src.RaceTotalKm,
		}
		if rec.Distance == 0 {
			rec.Distance = src.DefaultKm
		}
		rec.Category = strings.TrimSpace(src.RaceLabel)
		if rec.Category == "" {
			rec.Category = utils.LabelForDistance(rec.Distance)
		}

		if best := s.pickBest(ctx, src.ID); best != nil {
			rec.Record = best.Record
			rec.Clock = best.Clock
		}
		rec.CertWeb = s.certLink(ctx, src)
		items = append(items, rec)
	}

	items = filter(items, query, marathonFilter)
	sort.SliceStable(items, func(i, j int) bool {
		return less(items[i], items[j])
	})
	return items, nil
}

// bestRecord is the chosen final time for one participant.
type bestRecord struct {
	Record string
	Clock  string
}

// pickBest selects the participant's final record: the last
// finish-labeled split, or the last split. A best row without a
// time-shaped net falls back to the absolute last row's net.
func (s *Service) pickBest(ctx context.Context, participantID int64) *bestRecord {
	splits, err := s.cfg.Storage.SplitsFor(ctx, participantID)
	if err != nil {
		s.cfg.Logger.WarnContext(ctx, "failed to load splits",
			"participant_id", participantID, "error", err)
		return nil
	}
	if len(splits) == 0 {
		return nil
	}

	best := splits[len(splits)-1]
	for i := len(splits) - 1; i >= 0; i-- {
		if utils.IsFinishLabel(splits[i].PointLabel) {
			best = splits[i]
			break
		}
	}

	record := strings.TrimSpace(best.NetTime)
	if !utils.LooksTime(record) {
		record = strings.TrimSpace(splits[len(splits)-1].NetTime)
	}
	clock := strings.TrimSpace(best.PassClock)

	out := &bestRecord{}
	if utils.LooksTime(record) {
		out.Record = record
	}
	if utils.LooksTime(clock) {
		out.Clock = clock
	}
	return out
}

// certLink prefers the downloaded local path over the upstream URL,
// and the asset row over the participant's finish-image columns.
func (s *Service) certLink(ctx context.Context, src storage.RecordSource) string {
	asset, err := s.cfg.Storage.LatestCertificate(ctx, src.ID)
	if err == nil {
		if web := assets.ToWebStaticPath(asset.LocalPath, s.cfg.StaticDir); web != "" {
			return web
		}
		return asset.URL
	}
	if !trace.IsNotFound(err) {
		s.cfg.Logger.WarnContext(ctx, "failed to load certificate asset",
			"participant_id", src.ID, "error", err)
	}
	if web := assets.ToWebStaticPath(src.FinishImagePath, s.cfg.StaticDir); web != "" {
		return web
	}
	return src.FinishImageURL
}

func displayName(src storage.RecordSource) string {
	if name := strings.TrimSpace(src.Alias); name != "" {
		return name
	}
	return strings.TrimSpace(src.NameOrBibNo)
}

func filter(items []Record, query, marathonFilter string) []Record {
	if query == "" && marathonFilter == "" {
		return items
	}
	q := strings.ToLower(query)
	m := strings.ToLower(marathonFilter)
	out := items[:0]
	for _, it := range items {
		if q != "" && !strings.Contains(strings.ToLower(it.Name), q) {
			continue
		}
		if m != "" && !strings.Contains(strings.ToLower(it.Marathon), m) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// less orders by name ascending, distance descending, then record
// seconds ascending with missing records last.
func less(a, b Record) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return recordSec(a.Record) < recordSec(b.Record)
}

func recordSec(record string) int {
	if sec, ok := utils.ParseDurationSec(record); ok {
		return sec
	}
	return 1<<62 - 1
}
