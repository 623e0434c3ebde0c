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

	"github.com/pacewatch/pacewatch/lib/utils"
)

// Participant is one tracked runner.
type Participant struct {
	ID         int64
	MarathonID int64
	Alias      string
	// NameOrBibNo is the bib or name, normalized at insert for spct
	// hosts.
	NameOrBibNo string
	Active      bool
	// RaceLabel and RaceTotalKm are inferred by the crawler; "" / 0
	// mean not yet known.
	RaceLabel       string
	RaceTotalKm     float64
	FinishImageURL  string
	FinishImagePath string
}

const participantColumns = `id, marathon_id, COALESCE(alias,''), nameorbibno,
	active, COALESCE(race_label,''), COALESCE(race_total_km,0),
	COALESCE(finish_image_url,''), COALESCE(finish_image_path,'')`

func scanParticipant(row interface{ Scan(...any) error }) (*Participant, error) {
	var p Participant
	var active int
	err := row.Scan(&p.ID, &p.MarathonID, &p.Alias, &p.NameOrBibNo,
		&active, &p.RaceLabel, &p.RaceTotalKm,
		&p.FinishImageURL, &p.FinishImagePath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("participant not found")
		}
		return nil, trace.Wrap(err)
	}
	p.Active = active != 0
	return &p, nil
}

// CreateParticipant inserts a participant for the marathon, applying
// bib normalization against the marathon's provider host.
func (s *Storage) CreateParticipant(ctx context.Context, marathonID int64, alias, bib string) (int64, error) {
	if bib == "" {
		return 0, trace.BadParameter("missing bib")
	}
	m, err := s.GetMarathon(ctx, marathonID)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	bib = utils.NormalizeBibForHost(m.Host(), bib)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO participants(marathon_id, alias, nameorbibno, active)
		 VALUES(?,?,?,1)`,
		marathonID, nullString(alias), bib)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, trace.AlreadyExists("participant %v already tracked", bib)
		}
		return 0, trace.Wrap(err)
	}
	id, err := res.LastInsertId()
	return id, trace.Wrap(err)
}

// GetParticipant returns one participant by id.
func (s *Storage) GetParticipant(ctx context.Context, id int64) (*Participant, error) {
	return scanParticipant(s.db.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE id = ?", id))
}

// ActiveParticipants lists the marathon's participants the engine
// should fetch.
func (s *Storage) ActiveParticipants(ctx context.Context, marathonID int64) ([]*Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+participantColumns+` FROM participants
		 WHERE marathon_id = ? AND active = 1 ORDER BY id`, marathonID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var out []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, p)
	}
	return out, trace.Wrap(rows.Err())
}

// FinishImagePath returns the participant's stored certificate path,
// "" when none.
func (s *Storage) FinishImagePath(ctx context.Context, participantID int64) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(finish_image_path,'') FROM participants WHERE id = ?",
		participantID).Scan(&path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", trace.NotFound("participant not found")
		}
		return "", trace.Wrap(err)
	}
	return path, nil
}

// SetFinishImage records a downloaded certificate's source URL and
// local path.
func (s *Storage) SetFinishImage(ctx context.Context, participantID int64, url, path string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE participants SET finish_image_url = ?, finish_image_path = ? WHERE id = ?",
		url, path, participantID)
	return trace.Wrap(err)
}
