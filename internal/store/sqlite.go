package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/autofill/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	state       TEXT NOT NULL DEFAULT 'detecting',
	stage_index INTEGER NOT NULL DEFAULT 0,
	stage_count INTEGER,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS decision_events (
	id          TEXT PRIMARY KEY,
	seq         INTEGER NOT NULL,
	session_id  TEXT NOT NULL,
	stage_index INTEGER NOT NULL,
	field_id    TEXT NOT NULL,
	status      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	decision    TEXT NOT NULL,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS answer_cache (
	session_id          TEXT NOT NULL,
	normalized_question TEXT NOT NULL,
	answer              TEXT NOT NULL,
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (session_id, normalized_question)
);

CREATE INDEX IF NOT EXISTS idx_decision_events_session ON decision_events(session_id, stage_index);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, stageCount *int) (*Session, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, state, stage_index, stage_count, created_at, updated_at) VALUES (?, ?, 0, ?, ?, ?)`,
		id, string(model.StateDetecting), nullInt(stageCount), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert session")
	}
	return &Session{
		ID:         id,
		State:      model.StateDetecting,
		StageCount: stageCount,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, state model.StageState, stageIndex int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, stage_index = ?, updated_at = ? WHERE id = ?`,
		string(state), stageIndex, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session %s", id)
	}
	return checkRowsAffected(res, "session", id)
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var count sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, state, stage_index, stage_count, created_at, updated_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&sess.ID, &sess.State, &sess.StageIndex, &count, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: session %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get session")
	}
	if count.Valid {
		n := int(count.Int64)
		sess.StageCount = &n
	}
	return &sess, nil
}

func (s *SQLiteStore) RecordDecision(ctx context.Context, d model.ResolutionDecision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal decision")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_events (id, seq, session_id, stage_index, field_id, status, mode, decision, recorded_at)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM decision_events WHERE session_id = ?), ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), d.SessionID, d.SessionID, d.StageIndex, d.FieldID,
		string(d.Status), string(d.Mode), string(payload), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record decision %s", d.FieldID)
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.ResolutionDecision, error) {
	query := `SELECT decision FROM decision_events WHERE session_id = ?`
	args := []any{filter.SessionID}
	if filter.StageIndex != nil {
		query += ` AND stage_index = ?`
		args = append(args, *filter.StageIndex)
	}
	query += ` ORDER BY seq LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer rows.Close()

	var out []model.ResolutionDecision
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		var d model.ResolutionDecision
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal decision")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	e := model.CacheEntry{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT answer, updated_at FROM answer_cache WHERE session_id = ? AND normalized_question = ?`,
		key.SessionID, key.NormalizedQuestion,
	).Scan(&e.Answer, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}
	return &e, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, entry model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answer_cache (session_id, normalized_question, answer, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id, normalized_question) DO UPDATE SET answer = excluded.answer, updated_at = excluded.updated_at`,
		entry.Key.SessionID, entry.Key.NormalizedQuestion, entry.Answer, entry.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
