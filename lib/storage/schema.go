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

const schemaSQL = `
CREATE TABLE IF NOT EXISTS marathons (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  url_template TEXT NOT NULL,
  usedata TEXT,
  total_distance_km REAL NOT NULL DEFAULT 21.1,
  refresh_sec INTEGER NOT NULL DEFAULT 60,
  enabled INTEGER NOT NULL DEFAULT 1,
  cert_url_template TEXT,
  event_date TEXT,
  updated_at TEXT,
  join_code TEXT UNIQUE,
  join_code_expires_at DATETIME,
  join_code_try_window_start DATETIME,
  join_code_try_count INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS participants (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  marathon_id INTEGER NOT NULL REFERENCES marathons(id) ON DELETE CASCADE,
  alias TEXT,
  nameorbibno TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  race_label TEXT,
  race_total_km REAL,
  cert_key TEXT,
  finish_image_url TEXT,
  finish_image_path TEXT,
  UNIQUE(marathon_id, nameorbibno)
);

CREATE TABLE IF NOT EXISTS splits (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  participant_id INTEGER NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
  point_label TEXT NOT NULL,
  point_km REAL,
  net_time TEXT,
  pass_clock TEXT,
  pace TEXT,
  seen_at TEXT,
  UNIQUE(participant_id, point_label)
);

CREATE TABLE IF NOT EXISTS assets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  participant_id INTEGER NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  host TEXT,
  url TEXT,
  local_path TEXT,
  seen_at TEXT,
  UNIQUE(participant_id, kind)
);

CREATE TABLE IF NOT EXISTS groups (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  marathon_id INTEGER NOT NULL,
  name TEXT NOT NULL,
  group_code TEXT UNIQUE NOT NULL,
  enabled INTEGER NOT NULL DEFAULT 1,
  created_at TEXT,
  updated_at TEXT,
  FOREIGN KEY (marathon_id) REFERENCES marathons(id) ON DELETE CASCADE
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_groups_code ON groups(group_code);

CREATE TABLE IF NOT EXISTS user_groups (
  user_id INTEGER NOT NULL,
  group_id INTEGER NOT NULL,
  role TEXT DEFAULT 'member',
  joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (user_id, group_id),
  FOREIGN KEY (group_id) REFERENCES groups(id)
);

CREATE INDEX IF NOT EXISTS idx_marathons_join_code ON marathons(join_code);
`

type migration struct {
	table  string
	column string
	ddl    string
}

// migrations lists the columns added after the initial schema, for
// database files created before them.
var migrations = []migration{
	{"participants", "race_label", "ALTER TABLE participants ADD COLUMN race_label TEXT"},
	{"participants", "race_total_km", "ALTER TABLE participants ADD COLUMN race_total_km REAL"},
	{"participants", "cert_key", "ALTER TABLE participants ADD COLUMN cert_key TEXT"},
	{"participants", "finish_image_url", "ALTER TABLE participants ADD COLUMN finish_image_url TEXT"},
	{"participants", "finish_image_path", "ALTER TABLE participants ADD COLUMN finish_image_path TEXT"},
	{"marathons", "cert_url_template", "ALTER TABLE marathons ADD COLUMN cert_url_template TEXT"},
	{"marathons", "event_date", "ALTER TABLE marathons ADD COLUMN event_date TEXT"},
	{"marathons", "join_code", "ALTER TABLE marathons ADD COLUMN join_code TEXT UNIQUE"},
	{"marathons", "join_code_expires_at", "ALTER TABLE marathons ADD COLUMN join_code_expires_at DATETIME"},
	{"marathons", "join_code_try_window_start", "ALTER TABLE marathons ADD COLUMN join_code_try_window_start DATETIME"},
	{"marathons", "join_code_try_count", "ALTER TABLE marathons ADD COLUMN join_code_try_count INTEGER DEFAULT 0"},
}
