// Package stage tracks one application session through its pages. Each page
// moves through detecting, resolving, awaiting_confirmation and confirmed,
// then either advances to the next page or submits.
package stage

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/autofill/internal/model"
)

var (
	// ErrStaleDetection means fields were reported for a stage that is
	// already confirmed. The detection is dropped; the state is unchanged.
	ErrStaleDetection = eris.New("stage: stale detection")
	// ErrFinalConfirmationRequired means Submit was called without the
	// explicit final confirmation.
	ErrFinalConfirmationRequired = eris.New("stage: final confirmation required")
)

// TransitionError reports a transition the stage graph does not allow.
// Blocking lists the required fields that prevented a confirmation.
type TransitionError struct {
	From     model.StageState
	To       model.StageState
	Current  model.StageState
	Blocking []string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("stage: invalid transition %s -> %s (current %s)", e.From, e.To, e.Current)
	if len(e.Blocking) > 0 {
		msg += ": blocked by required fields " + strings.Join(e.Blocking, ", ")
	}
	return msg
}

// Unwrap lets errors.Is match model.ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return model.ErrInvalidTransition }

// IsTransitionError reports whether err is a *TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// Transition is one recorded state change.
type Transition struct {
	StageIndex int              `json:"stage_index"`
	From       model.StageState `json:"from"`
	To         model.StageState `json:"to"`
	At         time.Time        `json:"at"`
}

func (t Transition) String() string {
	return fmt.Sprintf("%d:%s->%s", t.StageIndex, t.From, t.To)
}

// Machine is the state machine for one session. It is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	sc        model.StageContext
	state     model.StageState
	expected  int
	recorded  int
	confirmed []model.ResolutionDecision
	history   []Transition
	nowFunc   func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the transition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.nowFunc = now }
}

// New returns a machine for sessionID positioned at stage 0 in detecting.
// stageCount may be nil when the number of pages is not known.
func New(sessionID string, stageCount *int, opts ...Option) *Machine {
	m := &Machine{
		state:   model.StateDetecting,
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.sc = model.StageContext{
		SessionID:  sessionID,
		StageID:    uuid.NewString(),
		StageIndex: 0,
		StageCount: copyCount(stageCount),
	}
	return m
}

// State returns the current state.
func (m *Machine) State() model.StageState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Context returns a copy of the active stage context.
func (m *Machine) Context() model.StageContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.sc
	sc.Prior = append([]model.ResolutionDecision(nil), m.sc.Prior...)
	sc.StageCount = copyCount(m.sc.StageCount)
	return sc
}

// History returns every transition recorded so far.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}

// Outstanding returns how many detected fields still have no decision.
func (m *Machine) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != model.StateResolving {
		return 0
	}
	return m.expected - m.recorded
}

// FieldsDetected moves detecting to resolving for n fields. A page with no
// fields goes straight to awaiting_confirmation. Detections for a stage that
// is already confirmed return ErrStaleDetection.
func (m *Machine) FieldsDetected(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stale() {
		return ErrStaleDetection
	}
	if m.state != model.StateDetecting {
		return m.invalid(model.StateResolving)
	}
	m.expected = n
	m.recorded = 0
	m.transition(model.StateResolving)
	if n <= 0 {
		m.transition(model.StateAwaitingConfirmation)
	}
	return nil
}

// Redetect restarts detection on the current page, dropping any resolution
// progress. It is discarded with ErrStaleDetection once the stage is
// confirmed.
func (m *Machine) Redetect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stale() {
		return ErrStaleDetection
	}
	switch m.state {
	case model.StateResolving, model.StateAwaitingConfirmation:
		m.expected, m.recorded = 0, 0
		m.transition(model.StateDetecting)
	}
	return nil
}

// DecisionRecorded counts one field decision. The stage moves to
// awaiting_confirmation once every detected field has one.
func (m *Machine) DecisionRecorded() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.StateResolving {
		return m.invalid(model.StateAwaitingConfirmation)
	}
	m.recorded++
	if m.recorded >= m.expected {
		m.transition(model.StateAwaitingConfirmation)
	}
	return nil
}

// AllResolved moves resolving to awaiting_confirmation regardless of the
// recorded count.
func (m *Machine) AllResolved() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.StateResolving {
		return m.invalid(model.StateAwaitingConfirmation)
	}
	m.recorded = m.expected
	m.transition(model.StateAwaitingConfirmation)
	return nil
}

// Confirm moves awaiting_confirmation to confirmed. Every required field
// among decisions must be approved or edited; otherwise the returned
// *TransitionError lists the blocking field IDs and the state is unchanged.
// Accepted decisions are carried into the next stage's context.
func (m *Machine) Confirm(decisions []model.ResolutionDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.StateAwaitingConfirmation {
		return m.invalid(model.StateConfirmed)
	}

	var blocking []string
	accepted := make([]model.ResolutionDecision, 0, len(decisions))
	for _, d := range decisions {
		if d.Blocking() {
			blocking = append(blocking, d.FieldID)
			continue
		}
		if d.Status.Accepted() {
			accepted = append(accepted, d)
		}
	}
	if len(blocking) > 0 {
		err := m.invalid(model.StateConfirmed)
		err.Blocking = blocking
		return err
	}

	m.confirmed = accepted
	m.transition(model.StateConfirmed)
	return nil
}

// Advance leaves a confirmed stage and opens the next one in detecting.
// stageCount, when non-nil, updates the known number of stages. The final
// stage cannot be advanced past; it must be submitted.
func (m *Machine) Advance(stageCount *int) (model.StageContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.StateConfirmed {
		return model.StageContext{}, m.invalid(model.StateAdvancing)
	}
	if stageCount != nil {
		m.sc.StageCount = copyCount(stageCount)
	}
	if m.sc.IsLastStage() {
		return model.StageContext{}, m.invalid(model.StateAdvancing)
	}

	m.transition(model.StateAdvancing)

	prior := make([]model.ResolutionDecision, 0, len(m.sc.Prior)+len(m.confirmed))
	prior = append(prior, m.sc.Prior...)
	prior = append(prior, m.confirmed...)

	m.sc = model.StageContext{
		SessionID:  m.sc.SessionID,
		StageID:    uuid.NewString(),
		StageIndex: m.sc.StageIndex + 1,
		StageCount: m.sc.StageCount,
		Prior:      prior,
	}
	m.confirmed = nil
	m.expected, m.recorded = 0, 0
	m.transition(model.StateDetecting)

	sc := m.sc
	sc.Prior = append([]model.ResolutionDecision(nil), prior...)
	sc.StageCount = copyCount(m.sc.StageCount)
	return sc, nil
}

// Submit moves a confirmed stage to submitted and marks the context
// terminal. It needs final set, a confirmation distinct from the stage
// confirmation. Submitting from any other state fails the session.
func (m *Machine) Submit(final bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.StateConfirmed {
		err := m.invalid(model.StateSubmitted)
		if m.state != model.StateSubmitted {
			m.transition(model.StateFailed)
		}
		return err
	}
	if !final {
		return ErrFinalConfirmationRequired
	}
	m.transition(model.StateSubmitted)
	m.sc.Terminal = true
	return nil
}

// Fail moves the session to failed from any non-terminal state.
func (m *Machine) Fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != model.StateSubmitted && m.state != model.StateFailed {
		m.transition(model.StateFailed)
	}
}

func (m *Machine) stale() bool {
	switch m.state {
	case model.StateConfirmed, model.StateAdvancing, model.StateSubmitted, model.StateFailed:
		return true
	}
	return false
}

func (m *Machine) invalid(to model.StageState) *TransitionError {
	return &TransitionError{From: m.state, To: to, Current: m.state}
}

func (m *Machine) transition(to model.StageState) {
	m.history = append(m.history, Transition{
		StageIndex: m.sc.StageIndex,
		From:       m.state,
		To:         to,
		At:         m.nowFunc(),
	})
	m.state = to
}

func copyCount(c *int) *int {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}
