package confirm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/autofill/internal/cache"
	"github.com/sells-group/autofill/internal/classify"
	"github.com/sells-group/autofill/internal/facts"
	"github.com/sells-group/autofill/internal/model"
	"github.com/sells-group/autofill/internal/provider"
	"github.com/sells-group/autofill/internal/resolve"
	"github.com/sells-group/autofill/internal/stage"
	"github.com/sells-group/autofill/internal/store"
)

type fakeGen struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req provider.Request) (provider.Result, error)
}

func (g *fakeGen) Generate(ctx context.Context, req provider.Request) (provider.Result, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.fn == nil {
		return provider.Result{Text: "Because of the mission.", Provider: "fake", Attempts: 1}, nil
	}
	return g.fn(ctx, req)
}

func (g *fakeGen) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type harness struct {
	c     *Coordinator
	queue *FillQueue
	gen   *fakeGen
}

func newHarness(t *testing.T, gen *fakeGen, opts ...Option) *harness {
	t.Helper()
	if gen == nil {
		gen = &fakeGen{}
	}
	store := facts.NewMapStore(map[model.Purpose]string{model.PurposeEmail: "ada@example.com"})
	pipeline := resolve.New(store, gen, cache.New())
	q := NewFillQueue()
	c := New(classify.MustNew(), pipeline, append([]Option{WithFillExecutor(q)}, opts...)...)
	t.Cleanup(c.Close)
	return &harness{c: c, queue: q, gen: gen}
}

func intPtr(n int) *int { return &n }

func desc(id, label string, required bool) model.FieldDescriptor {
	return model.FieldDescriptor{ID: id, RawLabel: label, InputKind: model.InputText, Required: required}
}

func waitDecisions(t *testing.T, c *Coordinator, sid string, stageIndex, n int) []model.ResolutionDecision {
	t.Helper()
	var got []model.ResolutionDecision
	require.Eventually(t, func() bool {
		ds, err := c.Decisions(sid, stageIndex)
		if err != nil {
			return false
		}
		got = ds
		return len(ds) == n
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func fieldIDs(ds []model.ResolutionDecision) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.FieldID
	}
	return out
}

func TestCoordinator_FullSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, intPtr(2))
	require.NoError(t, err)

	fields, err := h.c.Detect(ctx, sid, []model.FieldDescriptor{
		desc("email", "Email", true),
		desc("why", "Why this company?", true),
		desc("shoe", "Shoe size", false),
	})
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, model.PurposeEmail, fields[0].Purpose)

	ds := waitDecisions(t, h.c, sid, 0, 3)
	assert.Equal(t, []string{"email", "why", "shoe"}, fieldIDs(ds))
	assert.Equal(t, model.ModeExtraction, ds[0].Mode)
	assert.Equal(t, model.ModeGeneration, ds[1].Mode)
	assert.Equal(t, model.ModeUnresolved, ds[2].Mode)
	assert.False(t, ds[1].ExpiresAt.IsZero())

	// Nothing is approved yet, so both required fields block.
	_, err = h.c.Confirm(ctx, sid)
	var te *stage.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, []string{"email", "why"}, te.Blocking)
	assert.Empty(t, h.queue.Drain(sid), "nothing is released before confirmation")

	_, err = h.c.Approve(ctx, sid, "email")
	require.NoError(t, err)
	edited, err := h.c.Edit(ctx, sid, "why", "I admire the engineering culture.")
	require.NoError(t, err)
	assert.Equal(t, model.StatusEdited, edited.Status)
	assert.NotNil(t, edited.DecidedAt)

	fills, err := h.c.Confirm(ctx, sid)
	require.NoError(t, err)
	want := []model.FillInstruction{
		{FieldID: "email", Value: "ada@example.com"},
		{FieldID: "why", Value: "I admire the engineering culture."},
	}
	assert.Equal(t, want, fills)
	assert.Equal(t, want, h.queue.Drain(sid))
	assert.Empty(t, h.queue.Drain(sid))

	sc, err := h.c.Advance(ctx, sid, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sc.StageIndex)
	assert.True(t, sc.IsLastStage())
	assert.False(t, sc.Terminal)
	assert.Len(t, sc.Prior, 2)

	// The same question on the next page comes from the cache.
	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{desc("why2", "  why THIS company? ", true)})
	require.NoError(t, err)
	ds = waitDecisions(t, h.c, sid, 1, 1)
	assert.True(t, ds[0].FromCache)
	assert.Equal(t, "I admire the engineering culture.", ds[0].ProposedValue)
	assert.Equal(t, 1, h.gen.Calls())

	_, err = h.c.Approve(ctx, sid, "why2")
	require.NoError(t, err)
	_, err = h.c.Confirm(ctx, sid)
	require.NoError(t, err)

	assert.ErrorIs(t, h.c.Submit(ctx, sid, false), stage.ErrFinalConfirmationRequired)
	st, err := h.c.Status(sid)
	require.NoError(t, err)
	assert.False(t, st.Terminal)
	require.NoError(t, h.c.Submit(ctx, sid, true))

	st, err = h.c.Status(sid)
	require.NoError(t, err)
	assert.Equal(t, model.StateSubmitted, st.State)
	assert.True(t, st.Terminal)
	assert.Equal(t, 1, st.StageIndex)
	assert.NotNil(t, st.SubmittedAt)
	assert.Contains(t, st.Transitions, "1:confirmed->submitted")

	// Earlier stages stay queryable.
	old, err := h.c.Decisions(sid, 0)
	require.NoError(t, err)
	assert.Len(t, old, 3)
}

func TestCoordinator_DetectionOrderDespiteCompletionOrder(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	gen := &fakeGen{fn: func(ctx context.Context, req provider.Request) (provider.Result, error) {
		if strings.Contains(req.Prompt, "Question 0?") {
			select {
			case <-release:
			case <-ctx.Done():
				return provider.Result{}, ctx.Err()
			}
		}
		return provider.Result{Text: "answer", Provider: "fake"}, nil
	}}
	h := newHarness(t, gen)
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)
	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{
		desc("q0", "Question 0?", true),
		desc("q1", "Question 1?", true),
	})
	require.NoError(t, err)

	ds := waitDecisions(t, h.c, sid, 0, 1)
	assert.Equal(t, "q1", ds[0].FieldID)

	st, err := h.c.Status(sid)
	require.NoError(t, err)
	assert.Equal(t, model.StateResolving, st.State)
	assert.Equal(t, 1, st.InFlight)

	close(release)
	ds = waitDecisions(t, h.c, sid, 0, 2)
	assert.Equal(t, []string{"q0", "q1"}, fieldIDs(ds))
	assert.Equal(t, 0, ds[0].Seq)
	assert.Equal(t, 1, ds[1].Seq)
}

func TestCoordinator_ExpiryBlocksAndReresolve(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, WithDecisionTimeout(30*time.Millisecond))
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)
	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{desc("why", "Why us?", true)})
	require.NoError(t, err)
	waitDecisions(t, h.c, sid, 0, 1)

	require.Eventually(t, func() bool {
		ds, _ := h.c.Decisions(sid, 0)
		return len(ds) == 1 && ds[0].Status == model.StatusExpired
	}, 2*time.Second, 5*time.Millisecond)

	_, err = h.c.Approve(ctx, sid, "why")
	assert.ErrorIs(t, err, model.ErrDecisionExpired)

	_, err = h.c.Confirm(ctx, sid)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	st, err := h.c.Status(sid)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Expired)
	assert.NotEmpty(t, st.LastError)

	require.NoError(t, h.c.Reresolve(ctx, sid, "why"))
	require.Eventually(t, func() bool {
		ds, _ := h.c.Decisions(sid, 0)
		return h.gen.Calls() == 2 && len(ds) == 1
	}, 2*time.Second, 2*time.Millisecond)
	ds, err := h.c.Decisions(sid, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, ds[0].Seq)
}

func TestCoordinator_ConfirmStopsExpiryOfOptionalFields(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, WithDecisionTimeout(200*time.Millisecond))
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)
	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{
		desc("email", "Email", true),
		desc("why", "Why us?", false),
	})
	require.NoError(t, err)
	waitDecisions(t, h.c, sid, 0, 2)

	_, err = h.c.Approve(ctx, sid, "email")
	require.NoError(t, err)
	fills, err := h.c.Confirm(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, []model.FillInstruction{{FieldID: "email", Value: "ada@example.com"}}, fills)

	assert.Never(t, func() bool {
		st, _ := h.c.Status(sid)
		return st.Expired > 0
	}, 400*time.Millisecond, 10*time.Millisecond)

	ds, err := h.c.Decisions(sid, 0)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, model.StatusPending, ds[1].Status)
	st, err := h.c.Status(sid)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, st.State)
	assert.ErrorIs(t, h.c.Reresolve(ctx, sid, "why"), model.ErrDecisionClosed)
}

func TestCoordinator_ReresolveAfterReject(t *testing.T) {
	t.Parallel()
	answers := []string{"First draft.", "Second draft."}
	var mu sync.Mutex
	gen := &fakeGen{fn: func(context.Context, provider.Request) (provider.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		text := answers[0]
		answers = answers[1:]
		return provider.Result{Text: text, Provider: "fake"}, nil
	}}
	h := newHarness(t, gen)
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)
	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{desc("why", "Why this role?", true)})
	require.NoError(t, err)
	waitDecisions(t, h.c, sid, 0, 1)

	_, err = h.c.Reject(ctx, sid, "why")
	require.NoError(t, err)
	require.NoError(t, h.c.Reresolve(ctx, sid, "why"))

	require.Eventually(t, func() bool {
		ds, _ := h.c.Decisions(sid, 0)
		return len(ds) == 1 && ds[0].Status == model.StatusPending
	}, 2*time.Second, 2*time.Millisecond)

	d, err := h.c.Approve(ctx, sid, "why")
	require.NoError(t, err)
	assert.Equal(t, "Second draft.", d.FinalValue)
	assert.ErrorIs(t, h.c.Reresolve(ctx, sid, "why"), model.ErrDecisionClosed)

	fills, err := h.c.Confirm(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, []model.FillInstruction{{FieldID: "why", Value: "Second draft."}}, fills)
}

func TestCoordinator_RedetectDiscardsLateResults(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	gen := &fakeGen{fn: func(_ context.Context, req provider.Request) (provider.Result, error) {
		if strings.Contains(req.Prompt, "Old question?") {
			started <- struct{}{}
			// Ignores cancellation and finishes anyway.
			<-release
			return provider.Result{Text: "stale", Provider: "fake"}, nil
		}
		return provider.Result{Text: "fresh", Provider: "fake"}, nil
	}}
	h := newHarness(t, gen)
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)
	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{desc("old", "Old question?", true)})
	require.NoError(t, err)
	<-started

	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{desc("new", "New question?", true)})
	require.NoError(t, err)
	ds := waitDecisions(t, h.c, sid, 0, 1)
	assert.Equal(t, "new", ds[0].FieldID)

	close(release)
	time.Sleep(20 * time.Millisecond)
	ds, err = h.c.Decisions(sid, 0)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "fresh", ds[0].ProposedValue)

	_, err = h.c.Approve(ctx, sid, "old")
	assert.ErrorIs(t, err, model.ErrUnknownField)
}

func TestCoordinator_CloseCancelsInFlight(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 2)
	gen := &fakeGen{fn: func(ctx context.Context, _ provider.Request) (provider.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return provider.Result{}, ctx.Err()
	}}
	h := newHarness(t, gen)
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)
	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{
		desc("a", "Why us?", true),
		desc("b", "Why this role?", true),
	})
	require.NoError(t, err)
	<-started
	<-started

	done := make(chan struct{})
	go func() {
		h.c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	ds, err := h.c.Decisions(sid, 0)
	require.NoError(t, err)
	assert.Empty(t, ds)

	_, err = h.c.StartSession(ctx, nil)
	assert.ErrorIs(t, err, ErrClosed)
	h.c.Close()
}

func TestCoordinator_StaleDetectionAfterConfirm(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)
	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{desc("email", "Email", true)})
	require.NoError(t, err)
	waitDecisions(t, h.c, sid, 0, 1)
	_, err = h.c.Approve(ctx, sid, "email")
	require.NoError(t, err)
	_, err = h.c.Confirm(ctx, sid)
	require.NoError(t, err)

	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{desc("late", "Phone", true)})
	assert.ErrorIs(t, err, stage.ErrStaleDetection)

	_, err = h.c.Reject(ctx, sid, "email")
	assert.ErrorIs(t, err, model.ErrDecisionClosed)
	assert.ErrorIs(t, h.c.Reresolve(ctx, sid, "email"), model.ErrDecisionClosed)
}

func TestCoordinator_DecisionRules(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)
	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{
		desc("shoe", "Shoe size", true),
		desc("why", "Why us?", false),
		desc("why", "Duplicate", false),
	})
	require.NoError(t, err)
	waitDecisions(t, h.c, sid, 0, 2)

	_, err = h.c.Approve(ctx, sid, "shoe")
	assert.ErrorIs(t, err, ErrNoProposedValue)

	d, err := h.c.Edit(ctx, sid, "shoe", "10")
	require.NoError(t, err)
	assert.Equal(t, "10", d.FinalValue)

	_, err = h.c.Edit(ctx, sid, "shoe", "11")
	assert.ErrorIs(t, err, model.ErrDecisionClosed)

	rejected, err := h.c.Reject(ctx, sid, "why")
	require.NoError(t, err)
	assert.Empty(t, rejected.FinalValue)

	_, err = h.c.Approve(ctx, sid, "nope")
	assert.ErrorIs(t, err, model.ErrUnknownField)
	_, err = h.c.Approve(ctx, "no-session", "shoe")
	assert.ErrorIs(t, err, model.ErrUnknownSession)
	_, err = h.c.Status("no-session")
	assert.ErrorIs(t, err, model.ErrUnknownSession)

	fills, err := h.c.Confirm(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, []model.FillInstruction{{FieldID: "shoe", Value: "10"}}, fills, "rejected values are never released")
}

func TestCoordinator_SubmitBeforeConfirmFailsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)

	err = h.c.Submit(ctx, sid, true)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	st, err := h.c.Status(sid)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, st.State)
	assert.Contains(t, st.LastError, "invalid transition")
}

func TestCoordinator_AuditTrail(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	h := newHarness(t, nil, WithStore(mem))
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)
	_, err = mem.GetSession(ctx, sid)
	require.NoError(t, err, "session ids come from the store")

	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{desc("email", "Email", true)})
	require.NoError(t, err)
	waitDecisions(t, h.c, sid, 0, 1)
	_, err = h.c.Approve(ctx, sid, "email")
	require.NoError(t, err)
	_, err = h.c.Confirm(ctx, sid)
	require.NoError(t, err)

	events, err := mem.ListDecisions(ctx, store.DecisionFilter{SessionID: sid})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.StatusPending, events[0].Status)
	assert.Equal(t, model.StatusApproved, events[1].Status)

	rec, err := mem.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, rec.State)
}

func TestCoordinator_FillFailure(t *testing.T) {
	t.Parallel()
	failing := FillFunc(func(context.Context, string, []model.FillInstruction) error {
		return errors.New("tab closed")
	})
	h := newHarness(t, nil, WithFillExecutor(failing))
	ctx := context.Background()

	sid, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)
	_, err = h.c.Detect(ctx, sid, []model.FieldDescriptor{desc("email", "Email", true)})
	require.NoError(t, err)
	waitDecisions(t, h.c, sid, 0, 1)
	_, err = h.c.Approve(ctx, sid, "email")
	require.NoError(t, err)

	_, err = h.c.Confirm(ctx, sid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tab closed")

	st, err := h.c.Status(sid)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, st.State)
	assert.Contains(t, st.LastError, "tab closed")
}

func TestCoordinator_Sessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	a, err := h.c.StartSession(ctx, nil)
	require.NoError(t, err)
	b, err := h.c.StartSession(ctx, intPtr(3))
	require.NoError(t, err)

	all := h.c.Sessions()
	require.Len(t, all, 2)
	ids := []string{all[0].SessionID, all[1].SessionID}
	assert.ElementsMatch(t, []string{a, b}, ids)
}
