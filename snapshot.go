// snapshot.go
package calendar

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// replicaState is the full point-in-time image persisted after every
// state-mutating operation (§4.8): {clock, T, PL, V, apptNo}. L itself is
// deliberately not part of this: it is re-derived from PL on restore.
type replicaState struct {
	SelfID int
	N      int
	Clock  uint64
	T      TimeTable
	PL     []EventRecord
	V      Dictionary
	ApptNo uint64
}

// SnapshotStore persists replicaState atomically (write-to-temp +
// os.Rename, §4.8) and, on every save, mirrors the records then in PL into
// a best-effort SQLite append log (SPEC_FULL §5). A record that never
// enters PL is not mirrored, and nothing in this package reads the append
// log back; correctness depends only on PL.
//
// Atomic-rename grounded on ppriyankuu-godkv's internal/store/snapshot.go.
// SQLite usage grounded on the teacher's storage.go (schema-on-open via
// database/sql + mattn/go-sqlite3).
type SnapshotStore struct {
	path string
	db   *sql.DB
}

// NewSnapshotStore opens (or creates) the snapshot file and event-log
// database for a node. dir/<nodeID>.snapshot.json is the snapshot file;
// dir/<nodeID>.events.db is the SQLite append log.
func NewSnapshotStore(dir string, nodeID int) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.snapshot.json", nodeID))
	dbPath := filepath.Join(dir, fmt.Sprintf("%d.events.db", nodeID))
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS event_log (
		op INTEGER NOT NULL,
		clock INTEGER NOT NULL,
		origin_node INTEGER NOT NULL,
		appt_id TEXT NOT NULL,
		appt_json TEXT NOT NULL,
		PRIMARY KEY (op, clock, origin_node, appt_id)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SnapshotStore{path: path, db: db}, nil
}

func (s *SnapshotStore) Close() error { return s.db.Close() }

// Save writes the full replica state to a temp file in the same directory,
// then renames it over the canonical path — a crash mid-write leaves the
// old file intact, never a half-written one (§4.8).
func (s *SnapshotStore) Save(st replicaState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}
	s.appendEvents(st.PL)
	return nil
}

// Load reads the last good snapshot. Recovery tolerates an absent file
// (§6): the second return value is false and err is nil in that case.
func (s *SnapshotStore) Load() (replicaState, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return replicaState{}, false, nil
		}
		return replicaState{}, false, err
	}
	var st replicaState
	if err := json.Unmarshal(data, &st); err != nil {
		return replicaState{}, false, err
	}
	return st, true, nil
}

// appendEvents mirrors freshly-persisted PL records into the SQLite audit
// trail. Best-effort: a failure here never affects replica correctness,
// since correctness depends only on PL, not on this log.
func (s *SnapshotStore) appendEvents(records []EventRecord) {
	for _, eR := range records {
		payload, err := json.Marshal(eR.Appt)
		if err != nil {
			continue
		}
		_, err = s.db.Exec(
			`INSERT OR IGNORE INTO event_log (op, clock, origin_node, appt_id, appt_json) VALUES (?, ?, ?, ?, ?)`,
			int(eR.Op), eR.Clock, eR.OriginNode, eR.Appt.ID, string(payload),
		)
		if err != nil {
			Logger().Warn("event_log_append_failed", "appt", eR.Appt.ID, "err", err)
		}
	}
}
