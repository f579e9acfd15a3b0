package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/m4xw311/codoc/errors"
	_ "modernc.org/sqlite"
)

// stateKeyPrefix namespaces session rows in the key/value table.
const stateKeyPrefix = "coDocUserState:"

// SQLiteStore persists session state as JSON values in a key/value table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create state directory")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "database ping failed")
	}
	// One connection keeps writes serialized without SQLITE_BUSY handling.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "could not create kv table")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, name string) (*State, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, stateKeyPrefix+name).Scan(&value)
	if err == sql.ErrNoRows {
		return NewState(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query failed for session %s", name)
	}
	return decodeState([]byte(value), name)
}

func (s *SQLiteStore) Save(ctx context.Context, name string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		stateKeyPrefix+name, string(data))
	if err != nil {
		return errors.Wrapf(err, "failed to save session %s", name)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, stateKeyPrefix+name); err != nil {
		return errors.Wrapf(err, "failed to clear session %s", name)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
