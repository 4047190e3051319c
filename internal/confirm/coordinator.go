// Package confirm owns pending decisions between resolution and filling.
// Nothing is released to the fill executor without explicit user consent.
package confirm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autofill/internal/model"
	"github.com/sells-group/autofill/internal/stage"
	"github.com/sells-group/autofill/internal/store"
)

// DefaultDecisionTimeout is how long a decision stays pending before it expires.
const DefaultDecisionTimeout = 5 * time.Minute

const auditTimeout = 5 * time.Second

var (
	// ErrClosed is returned after Close.
	ErrClosed = eris.New("confirm: coordinator closed")
	// ErrStillResolving means the field has no decision yet.
	ErrStillResolving = eris.New("confirm: field still resolving")
	// ErrNoProposedValue means an unresolved decision was approved as-is.
	ErrNoProposedValue = eris.New("confirm: decision has no proposed value")
)

// Classifier assigns purposes to detected fields.
type Classifier interface {
	ClassifyAll(ds []model.FieldDescriptor) []model.ClassifiedField
}

// Resolver produces decisions and owns the answer cache. *resolve.Pipeline
// satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, cf model.ClassifiedField, sc model.StageContext) model.ResolutionDecision
	ResolveStage(ctx context.Context, fields []model.ClassifiedField, sc model.StageContext, emit func(model.ResolutionDecision)) error
	Commit(ctx context.Context, d model.ResolutionDecision) bool
}

// Coordinator tracks sessions, their stage machines and every pending
// decision. It is safe for concurrent use.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	classifier Classifier
	resolver   Resolver
	fill       FillExecutor
	store      store.Store
	timeout    time.Duration
	nowFunc    func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type session struct {
	id          string
	machine     *stage.Machine
	runs        map[int]*stageRun
	current     *stageRun
	startedAt   time.Time
	updatedAt   time.Time
	lastErr     string
	submittedAt *time.Time
}

// stageRun is one detection pass over a stage. A re-detection replaces the
// run; results addressed to a replaced or cancelled run are dropped.
type stageRun struct {
	index    int
	ctx      context.Context
	cancel   context.CancelFunc
	fields   map[string]model.ClassifiedField
	order    []string
	entries  map[string]*entry
	inFlight int
}

type entry struct {
	d       model.ResolutionDecision
	ready   bool
	counted bool
	version int
	timer   *time.Timer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStore records sessions and every decision change to s.
func WithStore(s store.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithFillExecutor sets where confirmed values are released.
func WithFillExecutor(f FillExecutor) Option {
	return func(c *Coordinator) { c.fill = f }
}

// WithDecisionTimeout sets how long a decision may stay pending.
func WithDecisionTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.nowFunc = now }
}

// New creates a Coordinator. Without a fill executor, confirmed values are
// queued in a FillQueue.
func New(cl Classifier, r Resolver, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		sessions:   make(map[string]*session),
		classifier: cl,
		resolver:   r,
		timeout:    DefaultDecisionTimeout,
		nowFunc:    time.Now,
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for _, o := range opts {
		o(c)
	}
	if c.fill == nil {
		c.fill = NewFillQueue()
	}
	return c
}

// FillExecutor returns the executor confirmed values are released to.
func (c *Coordinator) FillExecutor() FillExecutor { return c.fill }

// StartSession opens a new application session at stage 0. stageCount may
// be nil when the number of pages is unknown.
func (c *Coordinator) StartSession(ctx context.Context, stageCount *int) (string, error) {
	id := ""
	if c.store != nil {
		rec, err := c.store.CreateSession(ctx, stageCount)
		if err != nil {
			zap.L().Warn("confirm: persist session failed", zap.Error(err))
		} else {
			id = rec.ID
		}
	}
	if id == "" {
		id = uuid.New().String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	now := c.nowFunc()
	c.sessions[id] = &session{
		id:        id,
		machine:   stage.New(id, stageCount, stage.WithClock(c.nowFunc)),
		runs:      make(map[int]*stageRun),
		startedAt: now,
		updatedAt: now,
	}
	zap.L().Info("confirm: session started", zap.String("session", id))
	return id, nil
}

// Detect classifies the descriptors of the active stage and starts resolving
// them in the background. Detecting again before the stage is confirmed
// replaces the earlier pass; detecting after confirmation returns
// stage.ErrStaleDetection and changes nothing.
func (c *Coordinator) Detect(ctx context.Context, sessionID string, ds []model.FieldDescriptor) ([]model.ClassifiedField, error) {
	fields := c.classifier.ClassifyAll(dedupe(ds))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	s, err := c.session(sessionID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	m := s.machine
	if m.State() != model.StateDetecting {
		if err := m.Redetect(); err != nil {
			c.mu.Unlock()
			return nil, eris.Wrapf(err, "confirm: detect session %s", sessionID)
		}
		c.stopRun(s.current)
	}
	if err := m.FieldsDetected(len(fields)); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	sc := m.Context()
	run := c.newRun(sc.StageIndex, fields)
	s.current = run
	s.runs[sc.StageIndex] = run
	s.updatedAt = c.nowFunc()
	state := m.State()
	c.wg.Add(1)
	c.mu.Unlock()

	c.persist(ctx, sessionID, state, sc.StageIndex)
	zap.L().Info("confirm: fields detected",
		zap.String("session", sessionID),
		zap.Int("stage", sc.StageIndex),
		zap.Int("fields", len(fields)),
	)

	go func() {
		defer c.wg.Done()
		_ = c.resolver.ResolveStage(run.ctx, fields, sc, func(d model.ResolutionDecision) {
			c.accept(sessionID, run, d)
		})
	}()
	return fields, nil
}

func (c *Coordinator) newRun(index int, fields []model.ClassifiedField) *stageRun {
	ctx, cancel := context.WithCancel(c.baseCtx)
	run := &stageRun{
		index:    index,
		ctx:      ctx,
		cancel:   cancel,
		fields:   make(map[string]model.ClassifiedField, len(fields)),
		order:    make([]string, 0, len(fields)),
		entries:  make(map[string]*entry, len(fields)),
		inFlight: len(fields),
	}
	for _, f := range fields {
		run.fields[f.ID] = f
		run.order = append(run.order, f.ID)
		run.entries[f.ID] = &entry{}
	}
	return run
}

// stopRun cancels outstanding resolution and stops every timer of run.
func (c *Coordinator) stopRun(run *stageRun) {
	if run == nil {
		return
	}
	run.cancel()
	for _, e := range run.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	run.inFlight = 0
}

// accept installs a decision that finished resolving. Decisions for a run
// that is no longer current are dropped.
func (c *Coordinator) accept(sessionID string, run *stageRun, d model.ResolutionDecision) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok || s.current != run || run.ctx.Err() != nil {
		c.mu.Unlock()
		zap.L().Debug("confirm: discarding late decision",
			zap.String("session", sessionID),
			zap.String("field", d.FieldID),
		)
		return
	}
	e, ok := run.entries[d.FieldID]
	if !ok || e.ready {
		c.mu.Unlock()
		return
	}

	c.install(sessionID, run, d.FieldID, e, d)
	run.inFlight--
	if !e.counted {
		e.counted = true
		if err := s.machine.DecisionRecorded(); err != nil {
			zap.L().Warn("confirm: record decision", zap.String("session", sessionID), zap.Error(err))
		}
	}
	s.updatedAt = c.nowFunc()
	snapshot := e.d
	state := s.machine.State()
	c.mu.Unlock()

	c.audit(snapshot)
	if state == model.StateAwaitingConfirmation {
		c.persist(context.Background(), sessionID, state, snapshot.StageIndex)
	}
}

// install stores d on e and arms its expiry timer. Caller holds c.mu.
func (c *Coordinator) install(sessionID string, run *stageRun, fieldID string, e *entry, d model.ResolutionDecision) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.version++
	e.ready = true
	e.d = d
	if d.Status != model.StatusPending {
		return
	}
	e.d.ExpiresAt = c.nowFunc().Add(c.timeout)
	version := e.version
	e.timer = time.AfterFunc(c.timeout, func() {
		c.expire(sessionID, run, fieldID, version)
	})
}

func (c *Coordinator) expire(sessionID string, run *stageRun, fieldID string, version int) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok || c.closed || isClosedState(s.machine.State()) {
		c.mu.Unlock()
		return
	}
	e, ok := run.entries[fieldID]
	if !ok || e.version != version || e.d.Status != model.StatusPending {
		c.mu.Unlock()
		return
	}
	now := c.nowFunc()
	e.timer = nil
	e.d.Status = model.StatusExpired
	e.d.Error = model.ErrDecisionExpired.Error()
	e.d.DecidedAt = &now
	s.updatedAt = now
	snapshot := e.d
	c.mu.Unlock()

	zap.L().Info("confirm: decision expired",
		zap.String("session", sessionID),
		zap.String("field", fieldID),
	)
	c.audit(snapshot)
}

// Decisions returns the decisions of one stage that have finished
// resolving, in detection order.
func (c *Coordinator) Decisions(sessionID string, stageIndex int) ([]model.ResolutionDecision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}
	run, ok := s.runs[stageIndex]
	if !ok {
		return []model.ResolutionDecision{}, nil
	}
	out := make([]model.ResolutionDecision, 0, len(run.order))
	for _, id := range run.order {
		if e := run.entries[id]; e.ready {
			out = append(out, e.d)
		}
	}
	return out, nil
}

// Pending returns the decisions of one stage still awaiting a user action,
// in detection order.
func (c *Coordinator) Pending(sessionID string, stageIndex int) ([]model.ResolutionDecision, error) {
	all, err := c.Decisions(sessionID, stageIndex)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, d := range all {
		if d.Status == model.StatusPending {
			out = append(out, d)
		}
	}
	return out, nil
}

// Approve accepts the proposed value of a decision as-is.
func (c *Coordinator) Approve(ctx context.Context, sessionID, fieldID string) (model.ResolutionDecision, error) {
	return c.decide(ctx, sessionID, fieldID, model.StatusApproved, "")
}

// Edit accepts a decision with a user-supplied value.
func (c *Coordinator) Edit(ctx context.Context, sessionID, fieldID, value string) (model.ResolutionDecision, error) {
	return c.decide(ctx, sessionID, fieldID, model.StatusEdited, value)
}

// Reject discards a decision. Its value is never released.
func (c *Coordinator) Reject(ctx context.Context, sessionID, fieldID string) (model.ResolutionDecision, error) {
	return c.decide(ctx, sessionID, fieldID, model.StatusRejected, "")
}

func (c *Coordinator) decide(ctx context.Context, sessionID, fieldID string, status model.DecisionStatus, value string) (model.ResolutionDecision, error) {
	c.mu.Lock()
	s, _, e, err := c.lookup(sessionID, fieldID)
	if err != nil {
		c.mu.Unlock()
		return model.ResolutionDecision{}, err
	}
	if err := checkOpen(s, e, fieldID); err != nil {
		c.mu.Unlock()
		return model.ResolutionDecision{}, err
	}
	if status == model.StatusApproved && e.d.Mode == model.ModeUnresolved {
		c.mu.Unlock()
		return model.ResolutionDecision{}, eris.Wrapf(ErrNoProposedValue, "confirm: approve %s", fieldID)
	}

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	now := c.nowFunc()
	e.d.Status = status
	e.d.DecidedAt = &now
	switch status {
	case model.StatusApproved:
		e.d.FinalValue = e.d.ProposedValue
	case model.StatusEdited:
		e.d.FinalValue = value
	default:
		e.d.FinalValue = ""
	}
	s.updatedAt = now
	d := e.d
	c.mu.Unlock()

	if c.resolver.Commit(ctx, d) {
		zap.L().Debug("confirm: answer cached",
			zap.String("session", sessionID),
			zap.String("field", fieldID),
		)
	}
	c.audit(d)
	return d, nil
}

// Reresolve runs resolution again for a decision that was not accepted,
// typically after it expired.
func (c *Coordinator) Reresolve(_ context.Context, sessionID, fieldID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	s, run, e, err := c.lookup(sessionID, fieldID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if isClosedState(s.machine.State()) {
		c.mu.Unlock()
		return eris.Wrapf(model.ErrDecisionClosed, "confirm: stage of %s already confirmed", fieldID)
	}
	if !e.ready {
		c.mu.Unlock()
		return eris.Wrapf(ErrStillResolving, "confirm: reresolve %s", fieldID)
	}
	if e.d.Status.Accepted() {
		c.mu.Unlock()
		return eris.Wrapf(model.ErrDecisionClosed, "confirm: reresolve %s", fieldID)
	}

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.ready = false
	e.version++
	run.inFlight++
	cf := run.fields[fieldID]
	seq := e.d.Seq
	sc := s.machine.Context()
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		d := c.resolver.Resolve(run.ctx, cf, sc)
		d.Seq = seq
		if run.ctx.Err() != nil {
			return
		}
		c.accept(sessionID, run, d)
	}()
	return nil
}

// Confirm confirms the active stage and releases its accepted values to the
// fill executor. Required fields that are not approved or edited block the
// confirmation; the returned error lists them.
func (c *Coordinator) Confirm(ctx context.Context, sessionID string) ([]model.FillInstruction, error) {
	c.mu.Lock()
	s, err := c.session(sessionID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	var decisions []model.ResolutionDecision
	run := s.current
	if run != nil && run.index == s.machine.Context().StageIndex {
		decisions = run.snapshot()
	}
	if err := s.machine.Confirm(decisions); err != nil {
		s.lastErr = err.Error()
		c.mu.Unlock()
		return nil, err
	}
	// Optional fields left pending stay pending on the confirmed stage.
	c.stopRun(run)

	var fills []model.FillInstruction
	for _, d := range decisions {
		if v, ok := d.ReleasedValue(); ok {
			fills = append(fills, model.FillInstruction{FieldID: d.FieldID, Value: v})
		}
	}
	s.updatedAt = c.nowFunc()
	idx := s.machine.Context().StageIndex
	c.mu.Unlock()

	c.persist(ctx, sessionID, model.StateConfirmed, idx)
	if err := c.fill.Fill(ctx, sessionID, fills); err != nil {
		c.setLastErr(sessionID, err)
		return fills, eris.Wrapf(err, "confirm: fill session %s", sessionID)
	}
	zap.L().Info("confirm: stage confirmed",
		zap.String("session", sessionID),
		zap.Int("stage", idx),
		zap.Int("released", len(fills)),
	)
	return fills, nil
}

// snapshot returns every field's decision in detection order. Fields still
// resolving are reported as pending unresolved placeholders.
func (r *stageRun) snapshot() []model.ResolutionDecision {
	out := make([]model.ResolutionDecision, 0, len(r.order))
	for i, id := range r.order {
		e := r.entries[id]
		if e.ready {
			out = append(out, e.d)
			continue
		}
		f := r.fields[id]
		out = append(out, model.ResolutionDecision{
			FieldID:  id,
			Seq:      i,
			Purpose:  f.Purpose,
			Required: f.Required,
			Mode:     model.ModeUnresolved,
			Status:   model.StatusPending,
		})
	}
	return out
}

// Advance moves a confirmed session to its next stage. Resolution still
// running for the old stage is cancelled and its results are discarded.
func (c *Coordinator) Advance(ctx context.Context, sessionID string, stageCount *int) (model.StageContext, error) {
	c.mu.Lock()
	s, err := c.session(sessionID)
	if err != nil {
		c.mu.Unlock()
		return model.StageContext{}, err
	}
	sc, err := s.machine.Advance(stageCount)
	if err != nil {
		s.lastErr = err.Error()
		c.mu.Unlock()
		return model.StageContext{}, err
	}
	c.stopRun(s.current)
	s.current = nil
	s.updatedAt = c.nowFunc()
	c.mu.Unlock()

	c.persist(ctx, sessionID, model.StateDetecting, sc.StageIndex)
	zap.L().Info("confirm: stage advanced",
		zap.String("session", sessionID),
		zap.Int("stage", sc.StageIndex),
	)
	return sc, nil
}

// Submit finalizes the session. final is the explicit final confirmation,
// distinct from confirming the last stage. An out-of-order submit fails the
// session.
func (c *Coordinator) Submit(ctx context.Context, sessionID string, final bool) error {
	c.mu.Lock()
	s, err := c.session(sessionID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	err = s.machine.Submit(final)
	state := s.machine.State()
	idx := s.machine.Context().StageIndex
	if err != nil {
		s.lastErr = err.Error()
	} else {
		now := c.nowFunc()
		s.submittedAt = &now
		c.stopRun(s.current)
	}
	s.updatedAt = c.nowFunc()
	c.mu.Unlock()

	c.persist(ctx, sessionID, state, idx)
	if err != nil {
		zap.L().Warn("confirm: submit rejected", zap.String("session", sessionID), zap.Error(err))
		return err
	}
	zap.L().Info("confirm: session submitted", zap.String("session", sessionID))
	return nil
}

// Status returns the health view of one session.
func (c *Coordinator) Status(sessionID string) (model.SessionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.session(sessionID)
	if err != nil {
		return model.SessionStatus{}, err
	}
	return c.status(s), nil
}

// Sessions returns the status of every known session, oldest first.
func (c *Coordinator) Sessions() []model.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.SessionStatus, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, c.status(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (c *Coordinator) status(s *session) model.SessionStatus {
	sc := s.machine.Context()
	st := model.SessionStatus{
		SessionID:   s.id,
		StageIndex:  sc.StageIndex,
		StageCount:  sc.StageCount,
		State:       s.machine.State(),
		LastError:   s.lastErr,
		StartedAt:   s.startedAt,
		UpdatedAt:   s.updatedAt,
		SubmittedAt: s.submittedAt,
		Terminal:    sc.Terminal,
	}
	if run := s.current; run != nil {
		st.InFlight = run.inFlight
		for _, e := range run.entries {
			if !e.ready {
				continue
			}
			switch {
			case e.d.Status == model.StatusExpired:
				st.Expired++
			case e.d.Status == model.StatusPending && e.d.Mode == model.ModeUnresolved:
				st.Unresolved++
				st.Pending++
			case e.d.Status == model.StatusPending:
				st.Pending++
			}
		}
	}
	for _, t := range s.machine.History() {
		st.Transitions = append(st.Transitions, t.String())
	}
	return st
}

// Close cancels all outstanding resolution, stops every timer and waits for
// background work to finish. It is safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, s := range c.sessions {
		for _, run := range s.runs {
			c.stopRun(run)
		}
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// session looks up a session. Caller holds c.mu.
func (c *Coordinator) session(id string) (*session, error) {
	s, ok := c.sessions[id]
	if !ok {
		return nil, eris.Wrapf(model.ErrUnknownSession, "confirm: session %s", id)
	}
	return s, nil
}

// lookup finds a field of the active stage. Caller holds c.mu.
func (c *Coordinator) lookup(sessionID, fieldID string) (*session, *stageRun, *entry, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	run := s.current
	if run == nil {
		return nil, nil, nil, eris.Wrapf(model.ErrUnknownField, "confirm: field %s", fieldID)
	}
	e, ok := run.entries[fieldID]
	if !ok {
		return nil, nil, nil, eris.Wrapf(model.ErrUnknownField, "confirm: field %s", fieldID)
	}
	return s, run, e, nil
}

func checkOpen(s *session, e *entry, fieldID string) error {
	if isClosedState(s.machine.State()) {
		return eris.Wrapf(model.ErrDecisionClosed, "confirm: stage of %s already confirmed", fieldID)
	}
	if !e.ready {
		return eris.Wrapf(ErrStillResolving, "confirm: field %s", fieldID)
	}
	switch e.d.Status {
	case model.StatusExpired:
		return eris.Wrapf(model.ErrDecisionExpired, "confirm: field %s", fieldID)
	case model.StatusApproved, model.StatusEdited, model.StatusRejected:
		return eris.Wrapf(model.ErrDecisionClosed, "confirm: field %s is %s", fieldID, e.d.Status)
	}
	return nil
}

func isClosedState(s model.StageState) bool {
	switch s {
	case model.StateConfirmed, model.StateAdvancing, model.StateSubmitted, model.StateFailed:
		return true
	}
	return false
}

func (c *Coordinator) setLastErr(sessionID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		s.lastErr = err.Error()
	}
}

func (c *Coordinator) audit(d model.ResolutionDecision) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := c.store.RecordDecision(ctx, d); err != nil {
		zap.L().Warn("confirm: audit write failed",
			zap.String("session", d.SessionID),
			zap.String("field", d.FieldID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) persist(ctx context.Context, sessionID string, state model.StageState, stageIndex int) {
	if c.store == nil {
		return
	}
	if err := c.store.UpdateSession(ctx, sessionID, state, stageIndex); err != nil {
		zap.L().Warn("confirm: persist session failed",
			zap.String("session", sessionID),
			zap.Error(err),
		)
	}
}

// dedupe drops repeated field IDs, keeping the first, and names fields that
// arrived without an ID by position.
func dedupe(ds []model.FieldDescriptor) []model.FieldDescriptor {
	seen := make(map[string]bool, len(ds))
	out := make([]model.FieldDescriptor, 0, len(ds))
	for i, d := range ds {
		if d.ID == "" {
			d.ID = fmt.Sprintf("field-%d", i)
		}
		if seen[d.ID] {
			zap.L().Warn("confirm: duplicate field id", zap.String("field", d.ID))
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}
