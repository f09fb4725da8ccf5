package streamio

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

func init() {
	mustRegisterSink(func(p Params) (OutputSink, error) {
		s, err := NewSQLiteSink(p)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, "sqlite")
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session     TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    frame_id    INTEGER,
    payload     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_frame ON messages(frame_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session);
`

// SQLiteSink appends every write as JSON rows in a messages table.
type SQLiteSink struct {
	path        string
	journalMode string
	session     string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteSink(params Params) (*SQLiteSink, error) {
	path, err := params.String("path", "")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w path: cannot be empty", ErrBadParam)
	}
	journal, err := params.String("journal_mode", "wal")
	if err != nil {
		return nil, err
	}
	return &SQLiteSink{
		path:        path,
		journalMode: journal,
		session:     uuid.NewString(),
	}, nil
}

// Session identifies the rows written by this sink instance.
func (s *SQLiteSink) Session() string {
	return s.session
}

func (s *SQLiteSink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("sqlite sink: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)", s.path, s.journalMode)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("sqlite sink: open %s: %w", s.path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("sqlite sink: schema: %w", err)
	}
	s.db = db
	slog.Debug("sqlite sink initialized", "path", s.path, "session", s.session)
	return nil
}

func (s *SQLiteSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrNotInitialized
	}
	now := time.Now()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite sink: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range records(s.session, now, v) {
		payload, err := r.payload()
		if err != nil {
			return err
		}
		var frameID any
		if r.FrameID != nil {
			frameID = int64(*r.FrameID)
		}
		if _, err := tx.Exec(
			`INSERT INTO messages (session, timestamp, frame_id, payload) VALUES (?, ?, ?, ?)`,
			r.Session, now.UnixNano(), frameID, string(payload),
		); err != nil {
			return fmt.Errorf("sqlite sink: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite sink: commit: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
