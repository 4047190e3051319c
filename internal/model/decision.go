package model

import "time"

// ResolutionMode records how a proposed value was obtained.
type ResolutionMode string

const (
	ModeExtraction ResolutionMode = "extraction"
	ModeGeneration ResolutionMode = "generation"
	ModeUnresolved ResolutionMode = "unresolved"
)

// DecisionStatus is the confirmation lifecycle of a decision.
type DecisionStatus string

const (
	StatusPending  DecisionStatus = "pending"
	StatusApproved DecisionStatus = "approved"
	StatusEdited   DecisionStatus = "edited"
	StatusRejected DecisionStatus = "rejected"
	StatusExpired  DecisionStatus = "expired"
)

// Terminal reports whether no further user action applies to the status.
func (s DecisionStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusEdited, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Accepted reports whether the user consented to the value.
func (s DecisionStatus) Accepted() bool {
	return s == StatusApproved || s == StatusEdited
}

// ResolutionDecision is the proposed value for one classified field.
type ResolutionDecision struct {
	SessionID          string         `json:"session_id"`
	StageID            string         `json:"stage_id"`
	StageIndex         int            `json:"stage_index"`
	FieldID            string         `json:"field_id"`
	Seq                int            `json:"seq"`
	Purpose            Purpose        `json:"purpose"`
	Required           bool           `json:"required"`
	Question           string         `json:"question"`
	NormalizedQuestion string         `json:"normalized_question,omitempty"`
	Mode               ResolutionMode `json:"mode"`
	ProposedValue      string         `json:"proposed_value"`
	FinalValue         string         `json:"final_value,omitempty"`
	SourceConfidence   float64        `json:"source_confidence"`
	FromCache          bool           `json:"from_cache,omitempty"`
	Provider           string         `json:"provider,omitempty"`
	Error              string         `json:"error,omitempty"`
	Status             DecisionStatus `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	ExpiresAt          time.Time      `json:"expires_at,omitempty"`
	DecidedAt          *time.Time     `json:"decided_at,omitempty"`
}

// Blocking reports whether the decision prevents a required field from
// being confirmed.
func (d ResolutionDecision) Blocking() bool {
	return d.Required && !d.Status.Accepted()
}

// ReleasedValue returns the value the fill executor should write, and false
// when the decision must never be released.
func (d ResolutionDecision) ReleasedValue() (string, bool) {
	if !d.Status.Accepted() {
		return "", false
	}
	return d.FinalValue, true
}

// FillInstruction is one value handed to the browser-side fill executor.
type FillInstruction struct {
	FieldID string `json:"field_id"`
	Value   string `json:"value"`
}
