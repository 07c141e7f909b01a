package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/agent"
	"github.com/sells-group/diligence-cli/internal/agents"
	"github.com/sells-group/diligence-cli/internal/cache"
	"github.com/sells-group/diligence-cli/internal/cost"
	"github.com/sells-group/diligence-cli/internal/credits"
	"github.com/sells-group/diligence-cli/internal/facts"
	"github.com/sells-group/diligence-cli/internal/orchestrator"
	"github.com/sells-group/diligence-cli/internal/resilience"
	"github.com/sells-group/diligence-cli/internal/store"
	"github.com/sells-group/diligence-cli/internal/taxonomy"
	anthropicpkg "github.com/sells-group/diligence-cli/pkg/anthropic"
	"github.com/sells-group/diligence-cli/pkg/notion"
)

// analysisEnv holds the initialized store, clients, and orchestrator needed
// by the analyze/agent/serve commands.
type analysisEnv struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Reconciler   *facts.Reconciler
	Ledger       *credits.Ledger // nil when the store has no shared pool
	Notion       notion.Client   // nil when no token is configured
}

// Close releases resources held by the analysis environment.
func (ae *analysisEnv) Close() {
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "diligence.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initLedger builds the credit ledger on the store's shared pool. SQLite
// deployments run creditless, so a nil ledger is not an error there.
func initLedger(st store.Store) *credits.Ledger {
	ps, ok := st.(*store.PostgresStore)
	if !ok {
		zap.L().Debug("credit ledger disabled, store has no shared pool")
		return nil
	}
	return credits.NewLedger(ps.Pool())
}

// costRates returns configured pricing, falling back to built-in defaults
// when the config carries no rates.
func costRates() cost.Rates {
	if len(cfg.Pricing.Anthropic) == 0 {
		return cost.DefaultRates()
	}
	rates := cost.Rates{Anthropic: make(map[string]cost.ModelRate, len(cfg.Pricing.Anthropic))}
	for name, p := range cfg.Pricing.Anthropic {
		rates.Anthropic[name] = cost.ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	return rates
}

// initAnalysis sets up the store, the Anthropic client, the agent registry,
// and the orchestrator. Callers should defer env.Close().
func initAnalysis(ctx context.Context, mode string) (*analysisEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	tax, err := taxonomy.Load()
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load taxonomy")
	}
	reconciler := facts.NewReconciler(tax)

	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key,
		anthropicpkg.WithRateLimit(cfg.Anthropic.RateLimitRPS, cfg.Anthropic.RateLimitBurst),
		anthropicpkg.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
	)

	reg, err := agents.NewRegistry(agents.Deps{
		AI:   aiClient,
		Calc: cost.NewCalculator(costRates()),
		Models: agents.Models{
			Haiku:  cfg.Anthropic.HaikuModel,
			Sonnet: cfg.Anthropic.SonnetModel,
			Opus:   cfg.Anthropic.OpusModel,
		},
	})
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "build agent registry")
	}

	runner := agent.NewRunner(resilience.RetryConfig{})

	extractionCache := cache.New(cache.Options{
		DefaultTTL: time.Duration(cfg.Pipeline.ExtractionCacheTTLHours) * time.Hour,
	})

	orch := orchestrator.New(reg, runner, reconciler, st, extractionCache)

	var notionClient notion.Client
	if cfg.Notion.Token != "" {
		notionClient = notion.NewClient(cfg.Notion.Token)
	}

	zap.L().Info("analysis environment ready",
		zap.String("driver", cfg.Store.Driver),
		zap.Int("agents", reg.Len()),
	)

	return &analysisEnv{
		Store:        st,
		Orchestrator: orch,
		Reconciler:   reconciler,
		Ledger:       initLedger(st),
		Notion:       notionClient,
	}, nil
}
