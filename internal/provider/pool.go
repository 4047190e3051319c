package provider

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/autofill/internal/model"
	"github.com/sells-group/autofill/internal/resilience"
)

// DefaultConcurrency bounds concurrent provider calls across the pool.
const DefaultConcurrency = 5

// BackendOptions tunes a single registered backend.
type BackendOptions struct {
	// RPS and Burst configure a token-bucket limiter. Zero RPS disables it.
	RPS   float64
	Burst int
	// Timeout bounds each attempt. Zero disables it.
	Timeout time.Duration
}

type backend struct {
	Provider
	limiter *rate.Limiter
	timeout time.Duration
}

// Pool tries backends in priority order, retrying each on transient errors
// before falling back to the next.
type Pool struct {
	backends []backend
	retry    resilience.RetryConfig
	breakers *resilience.Breakers
	sem      *semaphore.Weighted
}

// Option configures a Pool.
type Option func(*Pool)

// WithRetry sets the per-backend retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Pool) { p.retry = cfg }
}

// WithBreakers sets the circuit breaker registry.
func WithBreakers(b *resilience.Breakers) Option {
	return func(p *Pool) { p.breakers = b }
}

// WithConcurrency bounds concurrent Generate calls.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewPool creates an empty pool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		retry:    resilience.DefaultRetryConfig(),
		breakers: resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig()),
		sem:      semaphore.NewWeighted(DefaultConcurrency),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Register appends a backend at the lowest priority.
func (p *Pool) Register(prov Provider, o BackendOptions) {
	b := backend{Provider: prov, timeout: o.Timeout}
	if o.RPS > 0 {
		burst := o.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(o.RPS), burst)
	}
	p.backends = append(p.backends, b)
}

// Names returns backend names in priority order.
func (p *Pool) Names() []string {
	names := make([]string, len(p.backends))
	for i, b := range p.backends {
		names[i] = b.Name()
	}
	return names
}

// Breakers returns the circuit breaker states keyed by backend.
func (p *Pool) Breakers() map[string]string {
	return p.breakers.States()
}

type attemptResult struct {
	text     string
	attempts int
}

// Generate produces an answer from the first backend that succeeds. When ctx
// is cancelled the context error is returned as is.
func (p *Pool) Generate(ctx context.Context, req Request) (Result, error) {
	if len(p.backends) == 0 {
		return Result{}, &Error{Kind: model.ErrProviderFatal, Err: errNoBackends}
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer p.sem.Release(1)

	var (
		lastErr  error
		tried    []string
		attempts int
	)
	for _, b := range p.backends {
		tried = append(tried, b.Name())
		res, err := resilience.ExecuteVal(ctx, p.breakers.Get(b.Name()), func(ctx context.Context) (attemptResult, error) {
			cfg := p.retry
			cfg.OnRetry = resilience.RetryLogger(b.Name(), "generate")
			text, n, err := resilience.DoCount(ctx, cfg, func(ctx context.Context) (string, error) {
				return b.call(ctx, req)
			})
			return attemptResult{text: text, attempts: n}, err
		})
		attempts += res.attempts
		if err == nil {
			return Result{Text: res.text, Provider: b.Name(), Attempts: attempts}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		lastErr = err
		zap.L().Warn("provider: backend failed, falling back",
			zap.String("backend", b.Name()),
			zap.String("purpose", req.Purpose),
			zap.Int("attempts", res.attempts),
			zap.Bool("fatal", resilience.IsFatal(err)),
			zap.Error(err),
		)
	}

	kind := model.ErrProviderTransient
	if resilience.IsFatal(lastErr) {
		kind = model.ErrProviderFatal
	}
	return Result{}, &Error{Kind: kind, Err: lastErr, Backends: tried}
}

func (b backend) call(ctx context.Context, req Request) (string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	text, err := b.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", resilience.NewTransientError(errEmptyAnswer, 0)
	}
	return text, nil
}
