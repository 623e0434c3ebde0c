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
	"strings"

	"github.com/gravitational/trace"

	"github.com/pacewatch/pacewatch/lib/utils"
)

// MetaUpdate carries inferred race metadata for one participant.
// Empty / zero fields leave the stored value untouched.
type MetaUpdate struct {
	ParticipantID int64
	RaceLabel     string
	RaceTotalKm   float64
}

// SplitUpsert is one split observation to persist.
type SplitUpsert struct {
	ParticipantID int64
	PointLabel    string
	// PointKm 0 means unknown and is stored as NULL.
	PointKm   float64
	NetTime   string
	PassClock string
	Pace      string
}

// AssetUpsert is one asset observation to persist.
type AssetUpsert struct {
	ParticipantID int64
	Kind          string
	Host          string
	URL           string
}

// Batch is one marathon tick's worth of writes.
type Batch struct {
	Meta   []MetaUpdate
	Splits []SplitUpsert
	Assets []AssetUpsert
}

// Empty reports whether the batch carries nothing.
func (b *Batch) Empty() bool {
	return len(b.Meta) == 0 && len(b.Splits) == 0 && len(b.Assets) == 0
}

// WriteBatch persists one tick's batch in a single transaction, in
// meta, splits, assets order. Metadata updates use COALESCE so an
// inferred value is never reverted to null. A Finish split arriving
// with a pass clock but no usable net time gets its net time
// recomputed from the stored pass clocks before the upsert.
func (s *Storage) WriteBatch(ctx context.Context, b *Batch) error {
	if b == nil || b.Empty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	defer tx.Rollback()

	for _, m := range b.Meta {
		_, err := tx.ExecContext(ctx,
			`UPDATE participants
			 SET race_label = COALESCE(?, race_label),
			     race_total_km = COALESCE(?, race_total_km)
			 WHERE id = ?`,
			nullString(m.RaceLabel), nullFloat(m.RaceTotalKm), m.ParticipantID)
		if err != nil {
			return trace.Wrap(err)
		}
	}

	s.backfillFinishNets(ctx, tx, b.Splits)

	seenAt := s.now()
	for _, sp := range b.Splits {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO splits(participant_id, point_label, point_km,
				net_time, pass_clock, pace, seen_at)
			 VALUES(?,?,?,?,?,?,?)
			 ON CONFLICT(participant_id, point_label)
			 DO UPDATE SET net_time = excluded.net_time,
			               pass_clock = excluded.pass_clock,
			               pace = excluded.pace,
			               seen_at = excluded.seen_at`,
			sp.ParticipantID, sp.PointLabel, nullFloat(sp.PointKm),
			nullString(sp.NetTime), nullString(sp.PassClock),
			nullString(sp.Pace), seenAt)
		if err != nil {
			return trace.Wrap(err)
		}
	}

	for _, a := range b.Assets {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO assets(participant_id, kind, host, url, local_path, seen_at)
			 VALUES(?,?,?,?,NULL,?)
			 ON CONFLICT(participant_id, kind)
			 DO UPDATE SET url = excluded.url,
			               host = excluded.host,
			               seen_at = excluded.seen_at`,
			a.ParticipantID, a.Kind, nullString(a.Host), a.URL, seenAt)
		if err != nil {
			return trace.Wrap(err)
		}
	}
	return trace.Wrap(tx.Commit())
}

// backfillFinishNets recomputes the net time of Finish rows whose net
// field is not time-shaped but which carry a pass clock, from the
// clock gaps already stored for the participant. Best effort: a
// failed computation leaves the row as parsed.
func (s *Storage) backfillFinishNets(ctx context.Context, tx *sql.Tx, splits []SplitUpsert) {
	recalc := map[int64]bool{}
	for _, sp := range splits {
		if strings.Contains(strings.ToLower(sp.PointLabel), "finish") &&
			strings.TrimSpace(sp.PassClock) != "" && !utils.LooksTime(sp.NetTime) {
			recalc[sp.ParticipantID] = true
		}
	}
	for pid := range recalc {
		net, err := calcNetTimeFromClocks(ctx, tx, pid)
		if err != nil {
			s.cfg.Logger.WarnContext(ctx, "net time backfill failed",
				"participant_id", pid, "error", err)
			continue
		}
		if net == "" {
			continue
		}
		for i := range splits {
			if splits[i].ParticipantID == pid &&
				strings.Contains(strings.ToLower(splits[i].PointLabel), "finish") {
				splits[i].NetTime = net
				s.cfg.Logger.DebugContext(ctx, "recalculated finish net time",
					"participant_id", pid, "net_time", net)
			}
		}
	}
}

// calcNetTimeSQL sums the wall-clock gaps between the participant's
// checkpoints ordered by distance, deduplicated to the most recent
// observation per point. A backward gap means a midnight crossing and
// gains a day.
const calcNetTimeSQL = `
WITH base AS (
  SELECT point_km, pass_clock, seen_at
  FROM splits
  WHERE participant_id = ?
    AND pass_clock IS NOT NULL
    AND LENGTH(pass_clock) >= 8
),
dedup AS (
  SELECT point_km, pass_clock,
         ROW_NUMBER() OVER (
           PARTITION BY point_km
           ORDER BY datetime(seen_at) DESC
         ) AS rn
  FROM base
),
ordered AS (
  SELECT point_km, pass_clock FROM dedup WHERE rn = 1 ORDER BY point_km
),
parsed AS (
  SELECT point_km,
         (substr(pass_clock,1,2)*3600 + substr(pass_clock,4,2)*60 + substr(pass_clock,7,2)) AS sec
  FROM ordered
),
gaps AS (
  SELECT LAG(sec) OVER (ORDER BY point_km) AS prev_sec,
         CASE
           WHEN sec < LAG(sec) OVER (ORDER BY point_km) THEN (sec + 86400) - LAG(sec) OVER (ORDER BY point_km)
           ELSE sec - LAG(sec) OVER (ORDER BY point_km)
         END AS gap_sec,
         sec
  FROM parsed
)
SELECT SUM(gap_sec) AS total_seconds FROM gaps WHERE prev_sec IS NOT NULL`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func calcNetTimeFromClocks(ctx context.Context, q querier, participantID int64) (string, error) {
	var total sql.NullInt64
	err := q.QueryRowContext(ctx, calcNetTimeSQL, participantID).Scan(&total)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if !total.Valid {
		return "", nil
	}
	return utils.FormatHMS(int(total.Int64)), nil
}

// CalcNetTimeFromClocks computes the participant's elapsed time from
// stored pass clocks; "" when fewer than two usable clocks exist.
func (s *Storage) CalcNetTimeFromClocks(ctx context.Context, participantID int64) (string, error) {
	return calcNetTimeFromClocks(ctx, s.db, participantID)
}
