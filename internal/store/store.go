package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/autofill/internal/config"
	"github.com/sells-group/autofill/internal/model"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = eris.New("store: not found")

// Session is the persisted view of one application session.
type Session struct {
	ID         string           `json:"id"`
	State      model.StageState `json:"state"`
	StageIndex int              `json:"stage_index"`
	StageCount *int             `json:"stage_count,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// DecisionFilter narrows ListDecisions.
type DecisionFilter struct {
	SessionID  string `json:"session_id"`
	StageIndex *int   `json:"stage_index,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for sessions, the decision audit
// log and the answer cache.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, stageCount *int) (*Session, error)
	UpdateSession(ctx context.Context, id string, state model.StageState, stageIndex int) error
	GetSession(ctx context.Context, id string) (*Session, error)

	// Decision audit log. Every status change appends one event.
	RecordDecision(ctx context.Context, d model.ResolutionDecision) error
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.ResolutionDecision, error)

	// Answer cache
	GetCacheEntry(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry model.CacheEntry) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 500

// Open creates the store selected by cfg.Driver. The caller runs Migrate.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
