package model

import "time"

// StageState is a node in the per-stage confirmation graph.
type StageState string

const (
	StateDetecting            StageState = "detecting"
	StateResolving            StageState = "resolving"
	StateAwaitingConfirmation StageState = "awaiting_confirmation"
	StateConfirmed            StageState = "confirmed"
	StateAdvancing            StageState = "advancing"
	StateSubmitted            StageState = "submitted"
	StateFailed               StageState = "failed"
)

// StageContext describes the active stage of an application session.
type StageContext struct {
	SessionID  string `json:"session_id"`
	StageID    string `json:"stage_id"`
	StageIndex int    `json:"stage_index"`
	// StageCount is nil until the total number of stages is known.
	StageCount *int `json:"stage_count,omitempty"`
	// Prior holds approved decisions from earlier stages, in stage order.
	Prior []ResolutionDecision `json:"prior,omitempty"`
	// Terminal is set only once the session has been submitted.
	Terminal bool `json:"terminal"`
}

// IsLastStage reports whether the stage is the final known page. It is
// always false while the stage count is unknown.
func (c StageContext) IsLastStage() bool {
	return c.StageCount != nil && c.StageIndex >= *c.StageCount-1
}

// PriorAnswers returns the accepted question/answer pairs from earlier
// stages, keyed by normalized question. Later stages win on conflict.
func (c StageContext) PriorAnswers() map[string]string {
	out := make(map[string]string, len(c.Prior))
	for _, d := range c.Prior {
		v, ok := d.ReleasedValue()
		if !ok || d.NormalizedQuestion == "" {
			continue
		}
		out[d.NormalizedQuestion] = v
	}
	return out
}

// CacheEntry is one approved answer kept for cross-field consistency.
type CacheEntry struct {
	Key       CacheKey  `json:"key"`
	Answer    string    `json:"answer"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStatus is the health/status view of one session.
type SessionStatus struct {
	SessionID   string     `json:"session_id"`
	StageIndex  int        `json:"stage_index"`
	StageCount  *int       `json:"stage_count,omitempty"`
	State       StageState `json:"state"`
	Pending     int        `json:"pending"`
	Unresolved  int        `json:"unresolved"`
	Expired     int        `json:"expired"`
	InFlight    int        `json:"in_flight"`
	LastError   string     `json:"last_error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Transitions []string   `json:"transitions,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	Terminal    bool       `json:"terminal"`
}
