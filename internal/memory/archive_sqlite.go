package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteArchive is an alternative cold-tier backend. It keeps the same
// in-memory entry list as the file backend and rewrites the table
// wholesale inside a transaction on Save, so rollback and round-trip
// semantics match the document file exactly.
type SQLiteArchive struct {
	archiveBuffer
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteArchive opens (lazily) a SQLite-backed archive. The driver
// does not touch the file until the first query, so construction has no
// filesystem side effects.
func NewSQLiteArchive(cfg ArchiveConfig, logger *zap.Logger) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite archive: %w", err)
	}
	return &SQLiteArchive{db: db, path: cfg.Path, logger: logger}, nil
}

// Close releases the database handle.
func (a *SQLiteArchive) Close() error { return a.db.Close() }

func (a *SQLiteArchive) ensureSchema() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS archive_entries (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type      TEXT NOT NULL,
			significance    REAL NOT NULL,
			timestamp       REAL NOT NULL,
			weight          REAL NOT NULL,
			feedback        TEXT,
			subjective_time REAL
		)
	`)
	return err
}

// Save rewrites the archive table from the in-memory list.
func (a *SQLiteArchive) Save() error {
	if err := a.ensureSchema(); err != nil {
		return &PersistenceError{Op: "schema", Path: a.path, Err: err}
	}

	tx, err := a.db.Begin()
	if err != nil {
		return &PersistenceError{Op: "begin", Path: a.path, Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM archive_entries`); err != nil {
		return &PersistenceError{Op: "clear", Path: a.path, Err: err}
	}

	stmt, err := tx.Prepare(`
		INSERT INTO archive_entries (event_type, significance, timestamp, weight, feedback, subjective_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return &PersistenceError{Op: "prepare", Path: a.path, Err: err}
	}
	defer stmt.Close()

	for _, e := range a.entries {
		var feedback any
		if e.Feedback != nil {
			b, merr := json.Marshal(e.Feedback)
			if merr != nil {
				return &PersistenceError{Op: "marshal feedback", Path: a.path, Err: merr}
			}
			feedback = string(b)
		}
		var subjective any
		if e.SubjectiveTime != nil {
			subjective = *e.SubjectiveTime
		}
		if _, err := stmt.Exec(e.EventType, e.Significance, e.Timestamp, e.Weight, feedback, subjective); err != nil {
			return &PersistenceError{Op: "insert", Path: a.path, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit", Path: a.path, Err: err}
	}
	a.logger.Debug("archive saved",
		zap.String("path", a.path),
		zap.Int("entries", len(a.entries)))
	return nil
}

// Load reads all rows in insertion order. Like the file backend, an
// unreadable or missing store is recovered as an empty archive.
func (a *SQLiteArchive) Load() error {
	if err := a.ensureSchema(); err != nil {
		a.logger.Warn("archive schema unavailable, starting empty",
			zap.String("path", a.path), zap.Error(err))
		a.entries = nil
		return nil
	}

	rows, err := a.db.Query(`
		SELECT event_type, significance, timestamp, weight, feedback, subjective_time
		FROM archive_entries ORDER BY seq
	`)
	if err != nil {
		a.logger.Warn("archive unreadable, starting empty",
			zap.String("path", a.path), zap.Error(err))
		a.entries = nil
		return nil
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var feedback sql.NullString
		var subjective sql.NullFloat64
		if err := rows.Scan(&e.EventType, &e.Significance, &e.Timestamp, &e.Weight, &feedback, &subjective); err != nil {
			cerr := &CorruptDataError{Path: a.path, Err: err}
			a.logger.Warn("corrupt archive row, starting empty", zap.Error(cerr))
			a.entries = nil
			return nil
		}
		if feedback.Valid {
			if err := json.Unmarshal([]byte(feedback.String), &e.Feedback); err != nil {
				cerr := &CorruptDataError{Path: a.path, Err: err}
				a.logger.Warn("corrupt feedback payload, starting empty", zap.Error(cerr))
				a.entries = nil
				return nil
			}
		}
		if subjective.Valid {
			v := subjective.Float64
			e.SubjectiveTime = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		a.logger.Warn("archive scan failed, starting empty",
			zap.String("path", a.path), zap.Error(err))
		a.entries = nil
		return nil
	}

	a.entries = entries
	a.logger.Info("archive loaded",
		zap.String("path", a.path),
		zap.Int("entries", len(a.entries)))
	return nil
}

var _ Archive = (*SQLiteArchive)(nil)
