// Package resolve turns classified fields into proposed values, either from
// stored facts or by asking the provider pool.
package resolve

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/autofill/internal/cache"
	"github.com/sells-group/autofill/internal/facts"
	"github.com/sells-group/autofill/internal/model"
	"github.com/sells-group/autofill/internal/provider"
)

// DefaultConcurrency bounds concurrent provider calls per stage.
const DefaultConcurrency = 5

// DefaultMaxTokens bounds generated answer length.
const DefaultMaxTokens = 500

// Generator produces answer text. *provider.Pool satisfies it.
type Generator interface {
	Generate(ctx context.Context, req provider.Request) (provider.Result, error)
}

// Pipeline resolves fields against the fact store, the answer cache and the
// generator, in that order.
type Pipeline struct {
	facts       facts.Store
	gen         Generator
	cache       *cache.Cache
	concurrency int
	maxTokens   int
	nowFunc     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency sets the per-stage provider call bound.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithMaxTokens sets the generation token budget.
func WithMaxTokens(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithClock overrides the decision timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.nowFunc = now }
}

// New creates a Pipeline. A nil cache gets an in-memory one.
func New(store facts.Store, gen Generator, c *cache.Cache, opts ...Option) *Pipeline {
	if c == nil {
		c = cache.New()
	}
	p := &Pipeline{
		facts:       store,
		gen:         gen,
		cache:       c,
		concurrency: DefaultConcurrency,
		maxTokens:   DefaultMaxTokens,
		nowFunc:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Cache returns the pipeline's answer cache.
func (p *Pipeline) Cache() *cache.Cache { return p.cache }

// Resolve produces a pending decision for one field. Failures are recorded
// on the decision as Mode unresolved; Resolve never returns an error.
func (p *Pipeline) Resolve(ctx context.Context, cf model.ClassifiedField, sc model.StageContext) model.ResolutionDecision {
	return p.resolve(ctx, cf, sc, nil)
}

func (p *Pipeline) resolve(ctx context.Context, cf model.ClassifiedField, sc model.StageContext, sem *semaphore.Weighted) model.ResolutionDecision {
	q := cf.QuestionText()
	d := model.ResolutionDecision{
		SessionID:          sc.SessionID,
		StageID:            sc.StageID,
		StageIndex:         sc.StageIndex,
		FieldID:            cf.ID,
		Purpose:            cf.Purpose,
		Required:           cf.Required,
		Question:           q,
		NormalizedQuestion: model.NormalizeQuestion(q),
		SourceConfidence:   cf.Confidence,
		Status:             model.StatusPending,
		CreatedAt:          p.nowFunc(),
	}

	switch {
	case cf.Purpose == model.PurposeUnknown || cf.Purpose == "":
		return unresolved(d, model.ErrClassificationAmbiguous)

	case cf.Purpose.IsFile():
		// Documents come from the profile or not at all.
		if v, ok := p.lookup(ctx, cf.Purpose, sc); ok {
			return extracted(d, v)
		}
		return unresolved(d, model.ErrExtractionMissing)

	case cf.Purpose.IsFactKey():
		if v, ok := p.lookup(ctx, cf.Purpose, sc); ok {
			return p.snap(cf, extracted(d, v))
		}
		return p.snap(cf, p.generate(ctx, cf, sc, d, true, sem))

	default:
		return p.snap(cf, p.generate(ctx, cf, sc, d, false, sem))
	}
}

func (p *Pipeline) lookup(ctx context.Context, key model.Purpose, sc model.StageContext) (string, bool) {
	if p.facts == nil {
		return "", false
	}
	v, ok, err := p.facts.Get(ctx, key)
	if err != nil {
		zap.L().Warn("resolve: fact lookup failed",
			zap.String("session", sc.SessionID),
			zap.String("purpose", string(key)),
			zap.Error(err),
		)
		return "", false
	}
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func (p *Pipeline) generate(ctx context.Context, cf model.ClassifiedField, sc model.StageContext, d model.ResolutionDecision, absent bool, sem *semaphore.Weighted) model.ResolutionDecision {
	d.Mode = model.ModeGeneration

	key := model.CacheKey{SessionID: sc.SessionID, NormalizedQuestion: d.NormalizedQuestion}
	if e, ok := p.cache.Get(ctx, key); ok {
		d.ProposedValue = e.Answer
		d.FromCache = true
		return d
	}

	if p.gen == nil {
		return unresolved(d, model.ErrProviderFatal)
	}

	var summary string
	if p.facts != nil {
		s, err := p.facts.Summary(ctx)
		if err != nil {
			zap.L().Warn("resolve: profile summary failed", zap.Error(err))
		}
		summary = s
	}

	req := buildRequest(promptInput{
		Field:     cf,
		Question:  d.Question,
		Summary:   summary,
		Prior:     sc.PriorAnswers(),
		Absent:    absent,
		MaxTokens: p.maxTokens,
	})

	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return unresolved(d, err)
		}
		defer sem.Release(1)
	}

	res, err := p.gen.Generate(ctx, req)
	if err != nil {
		zap.L().Warn("resolve: generation failed",
			zap.String("session", sc.SessionID),
			zap.String("field", cf.ID),
			zap.String("purpose", string(cf.Purpose)),
			zap.Error(err),
		)
		return unresolved(d, err)
	}

	d.ProposedValue = strings.TrimSpace(res.Text)
	d.Provider = res.Provider
	zap.L().Debug("resolve: generated",
		zap.String("session", sc.SessionID),
		zap.String("field", cf.ID),
		zap.String("provider", res.Provider),
		zap.Int("attempts", res.Attempts),
		zap.Bool("absent_fact", absent),
	)
	return d
}

func (p *Pipeline) snap(cf model.ClassifiedField, d model.ResolutionDecision) model.ResolutionDecision {
	if d.Mode == model.ModeUnresolved || !cf.InputKind.HasOptions() || len(cf.Options) == 0 {
		return d
	}
	if v, ok := snapToOption(d.ProposedValue, cf.Options); ok {
		d.ProposedValue = v
	}
	return d
}

func extracted(d model.ResolutionDecision, v string) model.ResolutionDecision {
	d.Mode = model.ModeExtraction
	d.ProposedValue = v
	return d
}

func unresolved(d model.ResolutionDecision, err error) model.ResolutionDecision {
	d.Mode = model.ModeUnresolved
	d.ProposedValue = ""
	d.FromCache = false
	d.Error = err.Error()
	return d
}

// ResolveStage resolves every field of a stage concurrently and calls emit
// with each decision as it completes. Seq carries the field's position in
// fields. Provider calls are bounded by the pipeline's concurrency. Once ctx
// is done no further decisions are emitted; ResolveStage then returns
// ctx.Err(). emit may be called from several goroutines at once.
func (p *Pipeline) ResolveStage(ctx context.Context, fields []model.ClassifiedField, sc model.StageContext, emit func(model.ResolutionDecision)) error {
	sem := semaphore.NewWeighted(int64(p.concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i, f := range fields {
		g.Go(func() error {
			d := p.resolve(gctx, f, sc, sem)
			d.Seq = i
			if gctx.Err() != nil {
				return nil //nolint:nilerr // stage superseded; the result is discarded
			}
			emit(d)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		zap.L().Info("resolve: stage cancelled",
			zap.String("session", sc.SessionID),
			zap.Int("stage", sc.StageIndex),
		)
		return err
	}
	return nil
}

// Commit writes an accepted generation decision's final value to the cache
// and reports whether it did. It is the only way answers enter the cache.
func (p *Pipeline) Commit(ctx context.Context, d model.ResolutionDecision) bool {
	if d.Mode != model.ModeGeneration || !d.Status.Accepted() || d.NormalizedQuestion == "" {
		return false
	}
	p.cache.Put(ctx, model.CacheKey{SessionID: d.SessionID, NormalizedQuestion: d.NormalizedQuestion}, d.FinalValue)
	return true
}
