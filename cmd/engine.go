package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autofill/internal/cache"
	"github.com/sells-group/autofill/internal/classify"
	"github.com/sells-group/autofill/internal/confirm"
	"github.com/sells-group/autofill/internal/facts"
	"github.com/sells-group/autofill/internal/provider"
	"github.com/sells-group/autofill/internal/resolve"
	"github.com/sells-group/autofill/internal/secrets"
	"github.com/sells-group/autofill/internal/store"
)

// engineEnv holds everything the serve command needs.
type engineEnv struct {
	Store       store.Store
	Coordinator *confirm.Coordinator
	Fills       *confirm.FillQueue
	Pool        *provider.Pool
}

// Close releases resources held by the engine environment.
func (e *engineEnv) Close() {
	if e.Coordinator != nil {
		e.Coordinator.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initClassifier builds the classifier with any configured rule overrides.
func initClassifier() (*classify.Classifier, error) {
	rules, err := classify.LoadRules(cfg.Classify.RulesPath)
	if err != nil {
		return nil, err
	}
	return classify.New(classify.WithRules(rules))
}

// initEngine wires the store, fact store, provider pool, resolution pipeline
// and coordinator. Callers should defer env.Close().
func initEngine(ctx context.Context, sec secrets.Provider) (*engineEnv, error) {
	if err := cfg.Validate("serve"); err != nil {
		return nil, err
	}

	profile, err := facts.LoadProfile(cfg.Profile.Path)
	if err != nil {
		return nil, err
	}
	factStore := facts.NewProfileStore(profile)

	cl, err := initClassifier()
	if err != nil {
		return nil, err
	}

	pool, err := provider.FromConfig(ctx, cfg, sec)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	pipeline := resolve.New(factStore, pool, cache.New(cache.WithBacking(st)),
		resolve.WithConcurrency(cfg.Resolve.MaxConcurrency),
		resolve.WithMaxTokens(cfg.Resolve.MaxTokens),
	)

	fills := confirm.NewFillQueue()
	coord := confirm.New(cl, pipeline,
		confirm.WithStore(st),
		confirm.WithFillExecutor(fills),
		confirm.WithDecisionTimeout(time.Duration(cfg.Confirm.DecisionTimeoutSecs)*time.Second),
	)

	zap.L().Info("engine initialized",
		zap.Strings("providers", pool.Names()),
		zap.String("store", cfg.Store.Driver),
		zap.Int("facts", len(factStore.Keys())),
	)

	return &engineEnv{
		Store:       st,
		Coordinator: coord,
		Fills:       fills,
		Pool:        pool,
	}, nil
}
