package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/autofill/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	state       TEXT NOT NULL DEFAULT 'detecting',
	stage_index INTEGER NOT NULL DEFAULT 0,
	stage_count INTEGER,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS decision_events (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	session_id  TEXT NOT NULL,
	stage_index INTEGER NOT NULL,
	field_id    TEXT NOT NULL,
	status      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	decision    JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS answer_cache (
	session_id          TEXT NOT NULL,
	normalized_question TEXT NOT NULL,
	answer              TEXT NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, normalized_question)
);

CREATE INDEX IF NOT EXISTS idx_decision_events_session ON decision_events(session_id, stage_index);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) CreateSession(ctx context.Context, stageCount *int) (*Session, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, state, stage_index, stage_count, created_at, updated_at) VALUES ($1, $2, 0, $3, $4, $5)`,
		id, string(model.StateDetecting), stageCount, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert session")
	}
	return &Session{
		ID:         id,
		State:      model.StateDetecting,
		StageCount: stageCount,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, id string, state model.StageState, stageIndex int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET state = $1, stage_index = $2, updated_at = $3 WHERE id = $4`,
		string(state), stageIndex, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: session %s", id)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var state string
	err := s.pool.QueryRow(ctx,
		`SELECT id, state, stage_index, stage_count, created_at, updated_at FROM sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &state, &sess.StageIndex, &sess.StageCount, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: session %s", id)
		}
		return nil, eris.Wrap(err, "postgres: get session")
	}
	sess.State = model.StageState(state)
	return &sess, nil
}

func (s *PostgresStore) RecordDecision(ctx context.Context, d model.ResolutionDecision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal decision")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO decision_events (id, session_id, stage_index, field_id, status, mode, decision, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), d.SessionID, d.StageIndex, d.FieldID,
		string(d.Status), string(d.Mode), payload, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record decision %s", d.FieldID)
}

func (s *PostgresStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.ResolutionDecision, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if filter.StageIndex != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT decision FROM decision_events WHERE session_id = $1 AND stage_index = $2 ORDER BY seq LIMIT $3`,
			filter.SessionID, *filter.StageIndex, listLimit(filter.Limit),
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT decision FROM decision_events WHERE session_id = $1 ORDER BY seq LIMIT $2`,
			filter.SessionID, listLimit(filter.Limit),
		)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var out []model.ResolutionDecision
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		var d model.ResolutionDecision
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal decision")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	e := model.CacheEntry{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT answer, updated_at FROM answer_cache WHERE session_id = $1 AND normalized_question = $2`,
		key.SessionID, key.NormalizedQuestion,
	).Scan(&e.Answer, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}
	return &e, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, entry model.CacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO answer_cache (session_id, normalized_question, answer, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, normalized_question) DO UPDATE SET answer = $3, updated_at = $4`,
		entry.Key.SessionID, entry.Key.NormalizedQuestion, entry.Answer, entry.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: put cache entry")
}
