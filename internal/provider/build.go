package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autofill/internal/config"
	"github.com/sells-group/autofill/internal/resilience"
	"github.com/sells-group/autofill/internal/secrets"
	"github.com/sells-group/autofill/pkg/anthropic"
)

// FromConfig builds a pool from the providers section, in configured order.
// Backends whose credential is missing are skipped with a warning; an error
// is returned only when no backend remains.
func FromConfig(ctx context.Context, cfg *config.Config, sec secrets.Provider) (*Pool, error) {
	pool := NewPool(
		WithRetry(resilience.FromRetryConfig(cfg.Retry)),
		WithBreakers(resilience.NewBreakers(resilience.FromCircuitConfig(cfg.Circuit))),
		WithConcurrency(cfg.Resolve.MaxConcurrency),
	)

	for _, name := range cfg.Providers.Order {
		bc, ok := cfg.Providers.Backend(name)
		if !ok {
			return nil, eris.Errorf("provider: unknown backend %q", name)
		}

		key, err := sec.Get(bc.KeyName)
		if errors.Is(err, secrets.ErrNotFound) {
			zap.L().Warn("provider: no credential, skipping backend",
				zap.String("backend", name),
				zap.String("key_name", bc.KeyName),
			)
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "provider: credential for %s", name)
		}

		var prov Provider
		switch name {
		case "anthropic":
			prov = NewAnthropicProvider(anthropic.NewClient(key, bc.BaseURL), bc.Model)
		case "openai":
			prov = NewOpenAIProvider(key, bc.BaseURL, bc.Model)
		case "gemini":
			g, err := NewGeminiProvider(ctx, key, bc.BaseURL, bc.Model)
			if err != nil {
				return nil, err
			}
			prov = g
		}

		pool.Register(prov, BackendOptions{
			RPS:     bc.RPS,
			Burst:   bc.Burst,
			Timeout: time.Duration(bc.TimeoutSecs) * time.Second,
		})
		zap.L().Info("provider: registered backend",
			zap.String("backend", name),
			zap.String("model", bc.Model),
		)
	}

	if len(pool.Names()) == 0 {
		return nil, eris.New("provider: no backend has a credential configured")
	}
	return pool, nil
}
