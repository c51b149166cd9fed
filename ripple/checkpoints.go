package ripple

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// CheckpointStore persists per-round snapshots of a worker's owned distances
// so a restarted worker can resume a long run instead of replaying it from
// the source. Default store is a per-worker sqlite file; a shared mysql DSN
// works for deployments where worker-local disk is ephemeral.
type CheckpointStore struct {
	db *sql.DB
}

const createCheckpoints = `
  CREATE TABLE IF NOT EXISTS checkpoints (
  round BIGINT NOT NULL PRIMARY KEY,
  state BLOB NOT NULL
  );`

func OpenCheckpointStore(driver, dsn string, workerId int) (*CheckpointStore, error) {
	if driver == "" {
		driver = "sqlite3"
	}
	switch driver {
	case "sqlite3":
		if dsn == "" {
			dsn = fmt.Sprintf("checkpoints%v.db", workerId)
		}
	case "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("mysql checkpoint store needs a DSN")
		}
	default:
		return nil, fmt.Errorf("unknown checkpoint driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	if _, err := db.Exec(createCheckpoints); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &CheckpointStore{db: db}, nil
}

// Save stores the distance snapshot for a round, discarding any snapshot at
// or past it first: a re-run through the same round must not collide with
// stale rows from a previous attempt.
func (s *CheckpointStore) Save(round uint64, distances map[uint64]uint64) error {
	if _, err := s.db.Exec(
		"DELETE FROM checkpoints WHERE round >= ?", round,
	); err != nil {
		return fmt.Errorf("clear checkpoints from round %v: %w", round, err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(distances); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	if _, err := s.db.Exec(
		"INSERT INTO checkpoints VALUES(?,?)", round, buf.Bytes(),
	); err != nil {
		return fmt.Errorf("insert checkpoint for round %v: %w", round, err)
	}
	return nil
}

// LoadLatest returns the most recent snapshot, or ok=false when none exists.
func (s *CheckpointStore) LoadLatest() (uint64, map[uint64]uint64, bool, error) {
	row := s.db.QueryRow(
		"SELECT round, state FROM checkpoints ORDER BY round DESC LIMIT 1",
	)

	var round uint64
	var buf []byte
	if err := row.Scan(&round, &buf); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var distances map[uint64]uint64
	if err := gob.NewDecoder(bytes.NewBuffer(buf)).Decode(&distances); err != nil {
		return 0, nil, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return round, distances, true, nil
}

// Clear drops all snapshots; called when a fresh run starts.
func (s *CheckpointStore) Clear() error {
	_, err := s.db.Exec("DELETE FROM checkpoints")
	return err
}

func (s *CheckpointStore) Close() error {
	return s.db.Close()
}
