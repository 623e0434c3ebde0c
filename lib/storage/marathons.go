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
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/pacewatch/pacewatch/lib/defaults"
	"github.com/pacewatch/pacewatch/lib/utils"
)

// Marathon is one tracked race.
type Marathon struct {
	ID              int64
	Name            string
	URLTemplate     string
	Usedata         string
	TotalDistanceKm float64
	RefreshSec      int
	Enabled         bool
	CertURLTemplate string
	// EventDate is "YYYY-MM-DD" or empty.
	EventDate string
	JoinCode  string
}

// Refresh returns the marathon's refresh period.
func (m *Marathon) Refresh() time.Duration {
	return time.Duration(m.RefreshSec) * time.Second
}

// Host returns the host of the marathon's URL template.
func (m *Marathon) Host() string {
	return utils.HostOf(m.URLTemplate)
}

const marathonColumns = `id, name, url_template, COALESCE(usedata,''),
	total_distance_km, refresh_sec, enabled,
	COALESCE(cert_url_template,''), COALESCE(event_date,''),
	COALESCE(join_code,'')`

func scanMarathon(row interface{ Scan(...any) error }) (*Marathon, error) {
	var m Marathon
	var enabled int
	err := row.Scan(&m.ID, &m.Name, &m.URLTemplate, &m.Usedata,
		&m.TotalDistanceKm, &m.RefreshSec, &enabled,
		&m.CertURLTemplate, &m.EventDate, &m.JoinCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trace.NotFound("marathon not found")
		}
		return nil, trace.Wrap(err)
	}
	m.Enabled = enabled != 0
	return &m, nil
}

// CreateMarathon inserts a marathon and returns its id.
func (s *Storage) CreateMarathon(ctx context.Context, m Marathon) (int64, error) {
	if m.Name == "" || m.URLTemplate == "" {
		return 0, trace.BadParameter("marathon needs a name and a url template")
	}
	if m.TotalDistanceKm <= 0 {
		m.TotalDistanceKm = defaults.HalfKm + 0.1
	}
	if m.RefreshSec <= 0 {
		m.RefreshSec = 60
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO marathons(name, url_template, usedata, total_distance_km,
			refresh_sec, enabled, cert_url_template, event_date, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		m.Name, m.URLTemplate, nullString(m.Usedata), m.TotalDistanceKm,
		m.RefreshSec, boolInt(m.Enabled), nullString(m.CertURLTemplate),
		nullString(m.EventDate), s.now())
	if err != nil {
		return 0, trace.Wrap(err)
	}
	id, err := res.LastInsertId()
	return id, trace.Wrap(err)
}

// GetMarathon returns one marathon by id.
func (s *Storage) GetMarathon(ctx context.Context, id int64) (*Marathon, error) {
	return scanMarathon(s.db.QueryRowContext(ctx,
		"SELECT "+marathonColumns+" FROM marathons WHERE id = ?", id))
}

// EnabledMarathons lists the marathons the engine should tick.
func (s *Storage) EnabledMarathons(ctx context.Context) ([]*Marathon, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+marathonColumns+" FROM marathons WHERE enabled = 1 ORDER BY id")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var out []*Marathon
	for rows.Next() {
		m, err := scanMarathon(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, m)
	}
	return out, trace.Wrap(rows.Err())
}

// AssignJoinCode issues a fresh join code for the marathon, retrying on
// the unlikely collision with an existing code.
func (s *Storage) AssignJoinCode(ctx context.Context, marathonID int64) (string, error) {
	expiry := utils.JoinCodeExpiry(s.cfg.Clock.Now()).Format(time.RFC3339)
	for attempt := 0; attempt < 5; attempt++ {
		code, err := utils.GenJoinCode(defaults.JoinCodeLength)
		if err != nil {
			return "", trace.Wrap(err)
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE marathons SET join_code = ?, join_code_expires_at = ?,
				join_code_try_count = 0 WHERE id = ?`,
			code, expiry, marathonID)
		if err == nil {
			return code, nil
		}
		if !isUniqueViolation(err) {
			return "", trace.Wrap(err)
		}
	}
	return "", trace.LimitExceeded("could not allocate a unique join code")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
