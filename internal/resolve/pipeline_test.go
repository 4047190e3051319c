package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/autofill/internal/cache"
	"github.com/sells-group/autofill/internal/facts"
	"github.com/sells-group/autofill/internal/model"
	"github.com/sells-group/autofill/internal/provider"
)

type fakeGen struct {
	mu   sync.Mutex
	reqs []provider.Request
	fn   func(ctx context.Context, req provider.Request) (provider.Result, error)
}

func (f *fakeGen) Generate(ctx context.Context, req provider.Request) (provider.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.fn == nil {
		return provider.Result{Text: "generated", Provider: "fake", Attempts: 1}, nil
	}
	return f.fn(ctx, req)
}

func (f *fakeGen) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeGen) Last() provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func answer(text string) func(context.Context, provider.Request) (provider.Result, error) {
	return func(context.Context, provider.Request) (provider.Result, error) {
		return provider.Result{Text: text, Provider: "fake", Attempts: 1}, nil
	}
}

type brokenFacts struct{}

func (brokenFacts) Get(context.Context, model.Purpose) (string, bool, error) {
	return "", false, errors.New("profile unavailable")
}

func (brokenFacts) Summary(context.Context) (string, error) {
	return "", errors.New("profile unavailable")
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func field(id, label string, purpose model.Purpose, conf float64) model.ClassifiedField {
	return model.ClassifiedField{
		FieldDescriptor: model.FieldDescriptor{ID: id, RawLabel: label, InputKind: model.InputText, Required: true},
		Purpose:         purpose,
		Confidence:      conf,
	}
}

func stage(idx int, prior ...model.ResolutionDecision) model.StageContext {
	return model.StageContext{
		SessionID:  "sess-1",
		StageID:    fmt.Sprintf("stage-%d", idx),
		StageIndex: idx,
		Prior:      prior,
	}
}

func newPipeline(store facts.Store, gen Generator, opts ...Option) *Pipeline {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(store, gen, cache.New(), opts...)
}

func TestResolve_Extraction(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{}
	p := newPipeline(facts.NewMapStore(map[model.Purpose]string{model.PurposeEmail: "ada@example.com"}), gen)

	d := p.Resolve(context.Background(), field("f1", "Email Address", model.PurposeEmail, 1.0), stage(0))

	assert.Equal(t, model.ModeExtraction, d.Mode)
	assert.Equal(t, "ada@example.com", d.ProposedValue)
	assert.Equal(t, 1.0, d.SourceConfidence)
	assert.Equal(t, model.StatusPending, d.Status)
	assert.Equal(t, "email address", d.NormalizedQuestion)
	assert.Equal(t, "stage-0", d.StageID)
	assert.Equal(t, fixedNow, d.CreatedAt)
	assert.Zero(t, gen.Calls())
}

func TestResolve_MissingFactGeneratesWithAbsenceNote(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{fn: answer("3.7")}
	store := facts.NewMapStore(map[model.Purpose]string{model.PurposeEmail: "ada@example.com"})
	store.Profile = "Name: Ada Lovelace"
	p := newPipeline(store, gen)

	d := p.Resolve(context.Background(), field("gpa", "GPA", model.PurposeGPA, 1.0), stage(0))

	assert.Equal(t, model.ModeGeneration, d.Mode)
	assert.Equal(t, "3.7", d.ProposedValue)
	assert.Equal(t, "fake", d.Provider)
	assert.False(t, d.FromCache)
	require.Equal(t, 1, gen.Calls())

	req := gen.Last()
	assert.Contains(t, req.Prompt, "Form question: GPA")
	assert.Contains(t, req.Prompt, "no stored value for this field (gpa)")
	assert.Contains(t, req.Context, "Name: Ada Lovelace")
	assert.Equal(t, "gpa", req.Purpose)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
}

func TestResolve_FactLookupErrorFallsBackToGeneration(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{fn: answer("Ada")}
	p := newPipeline(brokenFacts{}, gen)

	d := p.Resolve(context.Background(), field("fn", "First name", model.PurposeFirstName, 1.0), stage(0))
	assert.Equal(t, model.ModeGeneration, d.Mode)
	assert.Equal(t, "Ada", d.ProposedValue)
	assert.Empty(t, gen.Last().Context)
}

func TestResolve_UnknownIsUnresolvedWithoutProviderCall(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{}
	p := newPipeline(facts.NewMapStore(nil), gen)

	d := p.Resolve(context.Background(), field("x", "Favourite colour", model.PurposeUnknown, 0), stage(0))
	assert.Equal(t, model.ModeUnresolved, d.Mode)
	assert.Equal(t, model.ErrClassificationAmbiguous.Error(), d.Error)
	assert.Empty(t, d.ProposedValue)
	assert.Zero(t, gen.Calls())
}

func TestResolve_ProviderFailureIsUnresolved(t *testing.T) {
	t.Parallel()
	perr := &provider.Error{
		Kind:     model.ErrProviderTransient,
		Err:      errors.New("429 too many requests"),
		Backends: []string{"anthropic", "openai"},
	}
	gen := &fakeGen{fn: func(context.Context, provider.Request) (provider.Result, error) {
		return provider.Result{}, perr
	}}
	p := newPipeline(facts.NewMapStore(nil), gen)

	d := p.Resolve(context.Background(), field("why", "Why this company?", model.PurposeWhyCompany, 1.0), stage(0))
	assert.Equal(t, model.ModeUnresolved, d.Mode)
	assert.Equal(t, perr.Error(), d.Error)
	assert.Contains(t, d.Error, "429 too many requests")
	assert.Empty(t, d.ProposedValue)
}

func TestResolve_NoGenerator(t *testing.T) {
	t.Parallel()
	p := newPipeline(facts.NewMapStore(nil), nil)
	d := p.Resolve(context.Background(), field("why", "Why us?", model.PurposeWhyCompany, 1.0), stage(0))
	assert.Equal(t, model.ModeUnresolved, d.Mode)
	assert.Equal(t, model.ErrProviderFatal.Error(), d.Error)
}

func TestResolve_FilePurposes(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{}
	p := newPipeline(facts.NewMapStore(map[model.Purpose]string{model.PurposeResume: "/home/ada/resume.pdf"}), gen)

	resume := field("cv", "Resume", model.PurposeResume, 1.0)
	resume.InputKind = model.InputFile
	d := p.Resolve(context.Background(), resume, stage(0))
	assert.Equal(t, model.ModeExtraction, d.Mode)
	assert.Equal(t, "/home/ada/resume.pdf", d.ProposedValue)

	cover := field("cl", "Cover letter", model.PurposeCoverLetter, 1.0)
	cover.InputKind = model.InputFile
	d = p.Resolve(context.Background(), cover, stage(0))
	assert.Equal(t, model.ModeUnresolved, d.Mode)
	assert.Equal(t, model.ErrExtractionMissing.Error(), d.Error)
	assert.Zero(t, gen.Calls(), "documents are never generated")
}

func TestResolve_OptionsAreSnapped(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{fn: answer("I would say no.")}
	p := newPipeline(facts.NewMapStore(map[model.Purpose]string{model.PurposeWorkAuthorization: "yes"}), gen)

	auth := field("auth", "Are you authorized to work?", model.PurposeWorkAuthorization, 1.0)
	auth.InputKind = model.InputRadio
	auth.Options = []string{"Yes", "No"}
	d := p.Resolve(context.Background(), auth, stage(0))
	assert.Equal(t, "Yes", d.ProposedValue)

	spons := field("sp", "Will you require sponsorship?", model.PurposeSponsorship, 1.0)
	spons.InputKind = model.InputSelect
	spons.Options = []string{"Yes", "No"}
	d = p.Resolve(context.Background(), spons, stage(0))
	assert.Equal(t, model.ModeGeneration, d.Mode)
	assert.Equal(t, "No", d.ProposedValue)
	assert.Contains(t, gen.Last().Prompt, "Yes | No")
}

func TestCommit_OnlyAcceptedGeneration(t *testing.T) {
	t.Parallel()
	p := newPipeline(facts.NewMapStore(nil), &fakeGen{})
	ctx := context.Background()

	base := model.ResolutionDecision{
		SessionID:          "sess-1",
		NormalizedQuestion: "why this company?",
		Mode:               model.ModeGeneration,
		FinalValue:         "Mission.",
	}

	pending := base
	pending.Status = model.StatusPending
	assert.False(t, p.Commit(ctx, pending))

	rejected := base
	rejected.Status = model.StatusRejected
	assert.False(t, p.Commit(ctx, rejected))

	extraction := base
	extraction.Mode = model.ModeExtraction
	extraction.Status = model.StatusApproved
	assert.False(t, p.Commit(ctx, extraction))
	assert.Zero(t, p.Cache().Len())

	edited := base
	edited.Status = model.StatusEdited
	assert.True(t, p.Commit(ctx, edited))
	e, ok := p.Cache().Get(ctx, model.NewCacheKey("sess-1", "Why this company?"))
	require.True(t, ok)
	assert.Equal(t, "Mission.", e.Answer)
}

func TestResolve_RepeatedQuestionAcrossStagesServedFromCache(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{fn: answer("Your mission resonates with me.")}
	p := newPipeline(facts.NewMapStore(nil), gen)
	ctx := context.Background()

	d := p.Resolve(ctx, field("why1", "Why this company?", model.PurposeWhyCompany, 1.0), stage(0))
	require.Equal(t, model.ModeGeneration, d.Mode)
	require.Equal(t, 1, gen.Calls())

	d.Status = model.StatusEdited
	d.FinalValue = "I admire the engineering culture."
	require.True(t, p.Commit(ctx, d))

	again := p.Resolve(ctx, field("why2", "  WHY this   company? ", model.PurposeWhyCompany, 1.0), stage(1, d))
	assert.Equal(t, model.ModeGeneration, again.Mode)
	assert.True(t, again.FromCache)
	assert.Equal(t, "I admire the engineering culture.", again.ProposedValue)
	assert.Equal(t, 1, gen.Calls(), "cache hit must not call the provider")

	other := stage(0)
	other.SessionID = "sess-2"
	fresh := p.Resolve(ctx, field("why", "Why this company?", model.PurposeWhyCompany, 1.0), other)
	assert.False(t, fresh.FromCache)
	assert.Equal(t, 2, gen.Calls())
}

func TestResolve_PriorAnswersInContext(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{}
	p := newPipeline(facts.NewMapStore(nil), gen)

	prior := model.ResolutionDecision{
		NormalizedQuestion: "desired salary",
		Status:             model.StatusApproved,
		FinalValue:         "$120,000",
	}
	_ = p.Resolve(context.Background(), field("why", "Why this role?", model.PurposeWhyRole, 1.0), stage(1, prior))
	assert.Contains(t, gen.Last().Context, "- desired salary => $120,000")
}

func TestResolveStage_EmitsEveryFieldWithSeq(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{fn: func(_ context.Context, req provider.Request) (provider.Result, error) {
		if req.Purpose == string(model.PurposeWhyRole) {
			return provider.Result{}, &provider.Error{Kind: model.ErrProviderFatal, Err: errors.New("invalid api key")}
		}
		return provider.Result{Text: "ok", Provider: "fake"}, nil
	}}
	p := newPipeline(facts.NewMapStore(map[model.Purpose]string{model.PurposeEmail: "ada@example.com"}), gen)

	fields := []model.ClassifiedField{
		field("email", "Email", model.PurposeEmail, 1.0),
		field("why", "Why us?", model.PurposeWhyCompany, 1.0),
		field("role", "Why this role?", model.PurposeWhyRole, 1.0),
		field("misc", "Shoe size", model.PurposeUnknown, 0),
	}

	var mu sync.Mutex
	var got []model.ResolutionDecision
	err := p.ResolveStage(context.Background(), fields, stage(0), func(d model.ResolutionDecision) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Len(t, got, 4)

	sort.Slice(got, func(i, j int) bool { return got[i].Seq < got[j].Seq })
	for i, d := range got {
		assert.Equal(t, i, d.Seq)
		assert.Equal(t, fields[i].ID, d.FieldID)
	}
	assert.Equal(t, model.ModeExtraction, got[0].Mode)
	assert.Equal(t, model.ModeGeneration, got[1].Mode)
	assert.Equal(t, model.ModeUnresolved, got[2].Mode, "one failed field does not abort siblings")
	assert.Contains(t, got[2].Error, "invalid api key")
	assert.Equal(t, model.ModeUnresolved, got[3].Mode)
}

func TestResolveStage_BoundsProviderConcurrency(t *testing.T) {
	t.Parallel()
	var active, peak atomic.Int32
	gen := &fakeGen{fn: func(context.Context, provider.Request) (provider.Result, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		active.Add(-1)
		return provider.Result{Text: "ok"}, nil
	}}
	p := newPipeline(facts.NewMapStore(nil), gen, WithConcurrency(2))

	fields := make([]model.ClassifiedField, 8)
	for i := range fields {
		fields[i] = field(fmt.Sprintf("q%d", i), fmt.Sprintf("Question %d?", i), model.PurposeOpenQuestion, 1.0)
	}

	var emitted atomic.Int32
	require.NoError(t, p.ResolveStage(context.Background(), fields, stage(0), func(model.ResolutionDecision) {
		emitted.Add(1)
	}))
	assert.Equal(t, int32(8), emitted.Load())
	assert.Equal(t, 8, gen.Calls())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestResolveStage_CancelDiscardsLateResults(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 4)
	gen := &fakeGen{fn: func(ctx context.Context, _ provider.Request) (provider.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return provider.Result{}, ctx.Err()
	}}
	p := newPipeline(facts.NewMapStore(nil), gen)

	ctx, cancel := context.WithCancel(context.Background())
	fields := []model.ClassifiedField{
		field("a", "Why us?", model.PurposeWhyCompany, 1.0),
		field("b", "Why this role?", model.PurposeWhyRole, 1.0),
	}

	var emitted atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- p.ResolveStage(ctx, fields, stage(0), func(model.ResolutionDecision) { emitted.Add(1) })
	}()

	<-started
	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ResolveStage did not return after cancel")
	}
	assert.Zero(t, emitted.Load())
}
