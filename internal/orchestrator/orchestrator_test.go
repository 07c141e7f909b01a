package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/agent"
	"github.com/sells-group/diligence-cli/internal/agents"
	"github.com/sells-group/diligence-cli/internal/cache"
	"github.com/sells-group/diligence-cli/internal/facts"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/resilience"
	"github.com/sells-group/diligence-cli/internal/taxonomy"
)

type stubAgent struct {
	def model.AgentDefinition
	run func(ctx context.Context, ec *model.ExecContext) (*agent.Output, error)
}

func (s *stubAgent) Definition() model.AgentDefinition { return s.def }

func (s *stubAgent) Run(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
	return s.run(ctx, ec)
}

func okAgent(id model.AgentID, tier int, data string) *stubAgent {
	return &stubAgent{
		def: model.AgentDefinition{ID: id, Tier: tier, Timeout: time.Second},
		run: func(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
			return &agent.Output{Data: []byte(data), CostUSD: 0.01}, nil
		},
	}
}

func failAgent(id model.AgentID, tier int) *stubAgent {
	return &stubAgent{
		def: model.AgentDefinition{ID: id, Tier: tier, Timeout: time.Second},
		run: func(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
			return nil, eris.New("provider exploded")
		},
	}
}

// fakeFactStore is an in-memory FactStore.
type fakeFactStore struct {
	mu    sync.Mutex
	facts map[string]map[model.FactKey]*model.CurrentFact
}

func newFakeFactStore() *fakeFactStore {
	return &fakeFactStore{facts: make(map[string]map[model.FactKey]*model.CurrentFact)}
}

func (s *fakeFactStore) CurrentFacts(ctx context.Context, dealID string) ([]model.CurrentFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CurrentFact
	for _, cf := range s.facts[dealID] {
		out = append(out, *cf)
	}
	return out, nil
}

func (s *fakeFactStore) ReplaceCurrentFact(ctx context.Context, cf *model.CurrentFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.facts[cf.DealID] == nil {
		s.facts[cf.DealID] = make(map[model.FactKey]*model.CurrentFact)
	}
	cp := *cf
	s.facts[cf.DealID][cf.Key] = &cp
	return nil
}

const extractionData = `{"facts":[{"key":"mrr","value":50000,"confidence":90,"quote":"MRR is $50,000","document_id":"doc-1"}]}`

const enrichmentData = `{"tagline":"Robots","product_summary":"Warehouse robots.","competitors":["Locus"],"sector_hints":["saas"],"keywords":["robotics"]}`

const analysisData = `{"summary":"fine","findings":[],"score":70,"confidence":0.8}`

// fullRegistry builds a stub pipeline. Overrides replace individual agents.
func fullRegistry(t *testing.T, overrides ...agent.Agent) *agent.Registry {
	t.Helper()

	byID := make(map[model.AgentID]agent.Agent)
	add := func(a agent.Agent) { byID[a.Definition().ID] = a }

	add(okAgent(model.AgentDocExtraction, 0, extractionData))
	add(okAgent(model.AgentContextEnrichment, 0, enrichmentData))
	for _, id := range agents.Tier1AgentIDs() {
		add(okAgent(id, 1, analysisData))
	}
	add(okAgent(model.AgentSWOT, 2, `{"strengths":["x"],"weaknesses":["y"]}`))
	add(okAgent(model.AgentComparables, 2, `{"comparables":[]}`))
	add(okAgent(model.AgentScoring, 2, `{"dimensions":[],"overall_score":60,"conviction":"neutral"}`))
	add(okAgent(model.AgentMemo, 2, `{"title":"memo","sections":[],"recommendation":"pass"}`))
	add(okAgent(model.AgentSaaSSpecialist, 3, analysisData))

	for _, a := range overrides {
		add(a)
	}

	var all []agent.Agent
	for _, a := range byID {
		all = append(all, a)
	}
	reg, err := agent.NewRegistry(all...)
	require.NoError(t, err)
	return reg
}

func newOrchestrator(t *testing.T, reg *agent.Registry, store FactStore) *Orchestrator {
	t.Helper()
	tax, err := taxonomy.Load()
	require.NoError(t, err)
	runner := agent.NewRunner(fastRetry())
	return New(reg, runner, facts.NewReconciler(tax), store, cache.New(cache.Options{}))
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	}
}

func testDeal() model.Deal {
	return model.Deal{ID: "deal-1", Name: "Acme", OrgID: "org-1", Sector: model.SectorSaaS, Stage: model.StageSeed}
}

func testDocs() []model.Document {
	return []model.Document{{ID: "doc-1", Type: model.DocTypePitchDeck, Name: "deck.pdf", ExtractedText: "MRR is $50,000"}}
}

func TestRunFullAnalysisHappyPath(t *testing.T) {
	store := newFakeFactStore()
	o := newOrchestrator(t, fullRegistry(t), store)

	run, err := o.RunFullAnalysis(context.Background(), testDeal(), testDocs(), Options{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.NotEmpty(t, run.ID)
	// 2 tier 0 + 12 tier 1 + 4 tier 2 + 1 specialist.
	assert.Len(t, run.Results, 19)
	assert.Positive(t, run.TotalCostUSD)

	// Extraction's facts landed in the store.
	stored, err := store.CurrentFacts(context.Background(), "deal-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.FactKey("mrr"), stored[0].Key)
	assert.Equal(t, 90, stored[0].Confidence)
}

func TestTier1FailureIsIsolated(t *testing.T) {
	reg := fullRegistry(t, failAgent(model.AgentLegal, 1))
	o := newOrchestrator(t, reg, newFakeFactStore())

	run, err := o.RunFullAnalysis(context.Background(), testDeal(), testDocs(), Options{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusPartial, run.Status)
	assert.Len(t, run.Results, 19)

	legal := run.Results[model.AgentLegal]
	require.NotNil(t, legal)
	assert.False(t, legal.Success)
	assert.Contains(t, legal.Error, "provider exploded")

	// Every sibling still succeeded.
	for _, id := range agents.Tier1AgentIDs() {
		if id == model.AgentLegal {
			continue
		}
		require.NotNil(t, run.Results[id], "missing result for %s", id)
		assert.True(t, run.Results[id].Success, "sibling %s should not be affected", id)
	}
}

func TestExtractionFailureAbortsRun(t *testing.T) {
	enrichmentRan := false
	reg := fullRegistry(t,
		failAgent(model.AgentDocExtraction, 0),
		&stubAgent{
			def: model.AgentDefinition{ID: model.AgentContextEnrichment, Tier: 0, Timeout: time.Second},
			run: func(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
				enrichmentRan = true
				return &agent.Output{Data: []byte(enrichmentData)}, nil
			},
		},
	)
	o := newOrchestrator(t, reg, newFakeFactStore())

	run, err := o.RunFullAnalysis(context.Background(), testDeal(), testDocs(), Options{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "provider exploded")
	// Enrichment still settles (it follows extraction sequentially), but no
	// tier 1 agent ever ran.
	assert.True(t, enrichmentRan)
	for _, id := range agents.Tier1AgentIDs() {
		assert.Nil(t, run.Results[id])
	}
}

func TestTier3SkippedForUncoveredSector(t *testing.T) {
	o := newOrchestrator(t, fullRegistry(t), newFakeFactStore())

	deal := testDeal()
	deal.Sector = model.SectorConsumer

	run, err := o.RunFullAnalysis(context.Background(), deal, testDocs(), Options{})
	require.NoError(t, err)

	// Skipped, not failed: run completes without a specialist result.
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Len(t, run.Results, 18)
	assert.Nil(t, run.Results[model.AgentSaaSSpecialist])
}

func TestUrgentWarningPushedBeforeTierCompletes(t *testing.T) {
	var mu sync.Mutex
	var warnedAt time.Time

	slowDone := make(chan struct{})
	reg := fullRegistry(t,
		&stubAgent{
			def: model.AgentDefinition{ID: model.AgentFinancials, Tier: 1, Timeout: time.Second},
			run: func(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
				return &agent.Output{
					Data: []byte(analysisData),
					Warning: &model.EarlyWarning{
						AgentID:  model.AgentFinancials,
						Severity: model.WarnCritical,
						Title:    "Cash discrepancy",
					},
				}, nil
			},
		},
		&stubAgent{
			def: model.AgentDefinition{ID: model.AgentLegal, Tier: 1, Timeout: 5 * time.Second},
			run: func(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
				<-slowDone
				return &agent.Output{Data: []byte(analysisData)}, nil
			},
		},
	)

	o := newOrchestrator(t, reg, newFakeFactStore())

	opts := Options{
		OnWarning: func(w model.EarlyWarning) {
			mu.Lock()
			warnedAt = time.Now()
			mu.Unlock()
			close(slowDone) // release the slow sibling only after the push
		},
	}

	run, err := o.RunFullAnalysis(context.Background(), testDeal(), testDocs(), opts)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	// The warning callback fired (otherwise the slow agent would deadlock the
	// tier) and the warning is also on the aggregate.
	assert.False(t, warnedAt.IsZero())
	require.Len(t, run.EarlyWarnings, 1)
	assert.Equal(t, "Cash discrepancy", run.EarlyWarnings[0].Title)
}

func TestProgressCallback(t *testing.T) {
	o := newOrchestrator(t, fullRegistry(t), newFakeFactStore())

	var mu sync.Mutex
	var seen []model.Progress
	opts := Options{OnProgress: func(p model.Progress) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	}}

	_, err := o.RunFullAnalysis(context.Background(), testDeal(), testDocs(), opts)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 19)
	last := seen[len(seen)-1]
	assert.Equal(t, 19, last.Completed)
	assert.Equal(t, 19, last.Total)
}

func TestExtractionCacheHitSkipsSecondCall(t *testing.T) {
	calls := 0
	reg := fullRegistry(t, &stubAgent{
		def: model.AgentDefinition{ID: model.AgentDocExtraction, Tier: 0, Timeout: time.Second},
		run: func(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
			calls++
			return &agent.Output{Data: []byte(extractionData), CostUSD: 0.05}, nil
		},
	})
	o := newOrchestrator(t, reg, newFakeFactStore())

	_, err := o.RunFullAnalysis(context.Background(), testDeal(), testDocs(), Options{})
	require.NoError(t, err)
	_, err = o.RunFullAnalysis(context.Background(), testDeal(), testDocs(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestRunSingleAgentOutcomes(t *testing.T) {
	reg := fullRegistry(t,
		&stubAgent{
			def: model.AgentDefinition{ID: model.AgentLegal, Tier: 1, Timeout: 50 * time.Millisecond},
			run: func(ctx context.Context, ec *model.ExecContext) (*agent.Output, error) {
				select {} // never settles
			},
		},
		failAgent(model.AgentMarket, 1),
	)
	o := newOrchestrator(t, reg, newFakeFactStore())
	ec := &model.ExecContext{Deal: testDeal(), Documents: testDocs()}

	res, outcome, err := o.RunSingleAgent(context.Background(), model.AgentFinancials, ec, time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, outcome)
	assert.True(t, res.Success)

	res, outcome, err = o.RunSingleAgent(context.Background(), model.AgentLegal, ec, time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTimeout, outcome)
	assert.True(t, res.TimedOut)

	_, outcome, err = o.RunSingleAgent(context.Background(), model.AgentMarket, ec, time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailed, outcome)

	_, _, err = o.RunSingleAgent(context.Background(), model.AgentID("bogus"), ec, time.Second)
	require.Error(t, err)
}

func TestFactContradictionFlowsIntoSnapshot(t *testing.T) {
	store := newFakeFactStore()
	seed := &model.CurrentFact{
		DealID: "deal-1", Key: "mrr", Category: model.CategoryFinancial,
		Value: float64(40000), Source: "doc-0", Confidence: 85,
		FirstSeenAt: time.Now(), LastUpdatedAt: time.Now(),
	}
	require.NoError(t, store.ReplaceCurrentFact(context.Background(), seed))

	o := newOrchestrator(t, fullRegistry(t), store)

	// Extraction asserts 50000 against an existing 40000: a 25% delta, so the
	// replacement is recorded with a SIGNIFICANT contradiction.
	run, err := o.RunFullAnalysis(context.Background(), testDeal(), testDocs(), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)

	stored, err := store.CurrentFacts(context.Background(), "deal-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	cf := stored[0]
	assert.Equal(t, float64(50000), toF(cf.Value))
	assert.True(t, cf.Disputed)
	require.Len(t, cf.History, 1)
	require.NotNil(t, cf.History[0].Contradiction)
	assert.Equal(t, model.SignificanceSignificant, cf.History[0].Contradiction.Significance)
}

func toF(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
