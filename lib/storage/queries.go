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

package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gravitational/trace"
)

// Split is one stored checkpoint observation.
type Split struct {
	ID            int64
	ParticipantID int64
	PointLabel    string
	PointKm       float64
	NetTime       string
	PassClock     string
	Pace          string
	SeenAt        string
}

// Asset is one stored downloadable artifact.
type Asset struct {
	ID            int64
	ParticipantID int64
	Kind          string
	Host          string
	URL           string
	LocalPath     string
	SeenAt        string
}

// SplitsFor lists the participant's splits in insertion order.
func (s *Storage) SplitsFor(ctx context.Context, participantID int64) ([]Split, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, participant_id, point_label, COALESCE(point_km,0),
			COALESCE(net_time,''), COALESCE(pass_clock,''),
			COALESCE(pace,''), COALESCE(seen_at,'')
		 FROM splits WHERE participant_id = ? ORDER BY id`, participantID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var out []Split
	for rows.Next() {
		var sp Split
		if err := rows.Scan(&sp.ID, &sp.ParticipantID, &sp.PointLabel,
			&sp.PointKm, &sp.NetTime, &sp.PassClock, &sp.Pace, &sp.SeenAt); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, sp)
	}
	return out, trace.Wrap(rows.Err())
}

// LatestCertificate returns the participant's most recent certificate
// asset, or a NotFound error.
func (s *Storage) LatestCertificate(ctx context.Context, participantID int64) (*Asset, error) {
	var a Asset
	err := s.db.QueryRowContext(ctx,
		`SELECT id, participant_id, kind, COALESCE(host,''), COALESCE(url,''),
			COALESCE(local_path,''), COALESCE(seen_at,'')
		 FROM assets WHERE participant_id = ? AND kind = 'certificate'
		 ORDER BY id DESC LIMIT 1`, participantID).
		Scan(&a.ID, &a.ParticipantID, &a.Kind, &a.Host, &a.URL, &a.LocalPath, &a.SeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("no certificate asset")
		}
		return nil, trace.Wrap(err)
	}
	return &a, nil
}

// SetAssetLocalPath records where an asset was saved on disk.
func (s *Storage) SetAssetLocalPath(ctx context.Context, participantID int64, kind, path string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE assets SET local_path = ? WHERE participant_id = ? AND kind = ?",
		path, participantID, kind)
	return trace.Wrap(err)
}

// RecordSource is one participant joined with its marathon, the input
// of records aggregation.
type RecordSource struct {
	Participant
	MarathonName string
	// DefaultKm is the marathon's canonical distance, used when the
	// participant's own race_total_km was never inferred.
	DefaultKm   float64
	URLTemplate string
}

// RecordSources lists every active participant joined with its
// marathon.
func (s *Storage) RecordSources(ctx context.Context) ([]RecordSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.marathon_id, COALESCE(p.alias,''), p.nameorbibno,
			p.active, COALESCE(p.race_label,''), COALESCE(p.race_total_km,0),
			COALESCE(p.finish_image_url,''), COALESCE(p.finish_image_path,''),
			m.name, m.total_distance_km, m.url_template
		 FROM participants p
		 JOIN marathons m ON m.id = p.marathon_id
		 WHERE p.active = 1`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var out []RecordSource
	for rows.Next() {
		var r RecordSource
		var active int
		if err := rows.Scan(&r.ID, &r.MarathonID, &r.Alias, &r.NameOrBibNo,
			&active, &r.RaceLabel, &r.RaceTotalKm,
			&r.FinishImageURL, &r.FinishImagePath,
			&r.MarathonName, &r.DefaultKm, &r.URLTemplate); err != nil {
			return nil, trace.Wrap(err)
		}
		r.Active = active != 0
		out = append(out, r)
	}
	return out, trace.Wrap(rows.Err())
}
