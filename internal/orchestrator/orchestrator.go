// Package orchestrator drives the fixed analysis pipeline: tier 0 context
// building, the tier 1 fan-out, tier 2 synthesis and the conditional tier 3
// specialist, with fact reconciliation between tier 0 and everything after.
package orchestrator

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/diligence-cli/internal/agent"
	"github.com/sells-group/diligence-cli/internal/agents"
	"github.com/sells-group/diligence-cli/internal/cache"
	"github.com/sells-group/diligence-cli/internal/facts"
	"github.com/sells-group/diligence-cli/internal/model"
)

// singleAgentOuterSlack pads the outer deadline of a single-agent refresh so
// the agent's own timer always fires before the context guard.
const singleAgentOuterSlack = 5 * time.Second

// extractionNS is the cache namespace for tier-0 extraction payloads.
const extractionNS = "extraction"

// FactStore is the slice of persistence the orchestrator needs: the current
// snapshot going in, reconciled replacements coming out.
type FactStore interface {
	CurrentFacts(ctx context.Context, dealID string) ([]model.CurrentFact, error)
	ReplaceCurrentFact(ctx context.Context, cf *model.CurrentFact) error
}

// Options carries the per-run callbacks.
type Options struct {
	// OnWarning receives urgent warnings the moment the emitting agent
	// settles, before its tier finishes.
	OnWarning func(model.EarlyWarning)

	// OnProgress is invoked after every agent settlement.
	OnProgress func(model.Progress)
}

func (o Options) warn(w model.EarlyWarning) {
	if o.OnWarning != nil {
		o.OnWarning(w)
	}
}

// Orchestrator runs the pipeline over a registry of agents.
type Orchestrator struct {
	reg    *agent.Registry
	runner *agent.Runner
	rec    *facts.Reconciler
	store  FactStore
	cache  *cache.Cache

	now func() time.Time
}

// New creates an Orchestrator. store and c may be nil: without a store facts
// live only for the run, without a cache tier 0 always recomputes.
func New(reg *agent.Registry, runner *agent.Runner, rec *facts.Reconciler, store FactStore, c *cache.Cache) *Orchestrator {
	return &Orchestrator{
		reg:    reg,
		runner: runner,
		rec:    rec,
		store:  store,
		cache:  c,
		now:    time.Now,
	}
}

// progressTracker serializes progress callbacks across concurrent settlements.
type progressTracker struct {
	mu        sync.Mutex
	completed int
	total     int
	cb        func(model.Progress)
}

func (p *progressTracker) settle(id model.AgentID) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.completed++
	prog := model.Progress{Completed: p.completed, Total: p.total, Current: id}
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb(prog)
	}
}

// RunFullAnalysis executes the whole pipeline for one deal. The returned run
// is always non-nil on a nil error; partial agent failure is recorded in the
// run, not returned as an error.
func (o *Orchestrator) RunFullAnalysis(ctx context.Context, deal model.Deal, docs []model.Document, opts Options) (*model.AnalysisRun, error) {
	log := zap.L().With(zap.String("deal", deal.ID), zap.String("company", deal.Name))
	log.Info("orchestrator: starting analysis")

	start := o.now()
	run := &model.AnalysisRun{
		ID:        uuid.New().String(),
		DealID:    deal.ID,
		Status:    model.RunStatusRunning,
		Results:   make(map[model.AgentID]*model.AgentResult),
		CreatedAt: start,
	}

	existing, err := o.loadFacts(ctx, deal.ID)
	if err != nil {
		return nil, err
	}

	ec := &model.ExecContext{
		Deal:            deal,
		Documents:       docs,
		Facts:           existing,
		PreviousResults: make(map[model.AgentID]*model.AgentResult),
	}

	tracker := &progressTracker{total: o.plannedAgents(deal), cb: opts.OnProgress}

	// Tier 0 is the hard dependency: without extracted context the later
	// tiers have nothing to analyze.
	tier0, ec, err := o.runTier0(ctx, ec, opts, tracker)
	if err != nil {
		return nil, err
	}
	o.fold(run, tier0)

	if r, ok := run.Results[model.AgentDocExtraction]; !ok || !r.Success {
		run.Status = model.RunStatusFailed
		if r != nil {
			run.Error = r.Error
		}
		o.finish(run, start)
		log.Warn("orchestrator: tier 0 extraction failed, aborting run", zap.String("error", run.Error))
		return run, nil
	}

	tier1, err := o.runTier1(ctx, ec, opts, tracker)
	if err != nil {
		return nil, err
	}
	o.fold(run, tier1)
	ec = ec.Extend(tier1.Results)

	tier2, err := o.runTier2(ctx, ec, opts, tracker)
	if err != nil {
		return nil, err
	}
	o.fold(run, tier2)
	ec = ec.Extend(tier2.Results)

	tier3, err := o.runTier3(ctx, ec, opts, tracker)
	if err != nil {
		return nil, err
	}
	if !tier3.Skipped {
		o.fold(run, tier3)
	}

	run.Status = model.RunStatusComplete
	for _, r := range run.Results {
		if !r.Success {
			run.Status = model.RunStatusPartial
			break
		}
	}
	o.finish(run, start)

	log.Info("orchestrator: analysis finished",
		zap.String("run", run.ID),
		zap.String("status", string(run.Status)),
		zap.Float64("cost_usd", run.TotalCostUSD),
		zap.Duration("total_time", run.TotalTime),
		zap.Int("warnings", len(run.EarlyWarnings)),
	)
	return run, nil
}

// RunTier executes a single tier against a prepared context.
func (o *Orchestrator) RunTier(ctx context.Context, tier int, ec *model.ExecContext) (*model.TierResult, error) {
	switch tier {
	case 0:
		tr, _, err := o.runTier0(ctx, ec, Options{}, nil)
		return tr, err
	case 1:
		return o.runTier1(ctx, ec, Options{}, nil)
	case 2:
		return o.runTier2(ctx, ec, Options{}, nil)
	case 3:
		return o.runTier3(ctx, ec, Options{}, nil)
	default:
		return nil, eris.Errorf("orchestrator: unknown tier %d", tier)
	}
}

// RunSingleAgent refreshes one agent's result outside a full run. The outer
// deadline always exceeds the agent's own timeout so the runner's timer
// settles first and the outcome is attributable.
func (o *Orchestrator) RunSingleAgent(ctx context.Context, id model.AgentID, ec *model.ExecContext, outerTimeout time.Duration) (*model.AgentResult, model.Outcome, error) {
	ag, ok := o.reg.Get(id)
	if !ok {
		return nil, model.OutcomeFailed, eris.Errorf("orchestrator: agent %q not registered", id)
	}

	inner := ag.Definition().Timeout
	if outerTimeout <= inner {
		outerTimeout = inner + singleAgentOuterSlack
	}
	ctx, cancel := context.WithTimeout(ctx, outerTimeout)
	defer cancel()

	res := o.runner.Run(ctx, ag, ec)
	switch {
	case res.Success:
		return res, model.OutcomeSuccess, nil
	case res.TimedOut:
		return res, model.OutcomeTimeout, nil
	default:
		return res, model.OutcomeFailed, nil
	}
}

// runTier0 runs extraction, reconciles its facts into the store, then runs
// enrichment and the coherence check over the updated snapshot. Enrichment
// strictly follows extraction; it never starts before extraction settles.
func (o *Orchestrator) runTier0(ctx context.Context, ec *model.ExecContext, opts Options, tracker *progressTracker) (*model.TierResult, *model.ExecContext, error) {
	start := o.now()
	tr := &model.TierResult{Tier: 0, Results: make(map[model.AgentID]*model.AgentResult)}

	extraction := o.runExtraction(ctx, ec)
	tr.Results[extraction.AgentID] = extraction
	o.emit(opts, tracker, extraction)

	if extraction.Success {
		updated, err := o.reconcile(ctx, ec, extraction)
		if err != nil {
			return nil, nil, err
		}
		ec = ec.WithFacts(updated)
	}
	ec = ec.Extend(map[model.AgentID]*model.AgentResult{extraction.AgentID: extraction})

	if enrichAgent, ok := o.reg.Get(model.AgentContextEnrichment); ok {
		res := o.runner.Run(ctx, enrichAgent, ec)
		tr.Results[res.AgentID] = res
		o.emit(opts, tracker, res)
		ec = ec.Extend(map[model.AgentID]*model.AgentResult{res.AgentID: res})

		if res.Success {
			if e, err := agents.DecodeEnrichment(res.Data); err != nil {
				zap.L().Warn("orchestrator: enrichment payload unreadable", zap.Error(err))
			} else {
				ec = ec.WithEnrichment(e)
			}
		}
	}

	if cohAgent, ok := o.reg.Get(model.AgentCoherence); ok {
		res := o.runner.Run(ctx, cohAgent, ec)
		tr.Results[res.AgentID] = res
		o.emit(opts, tracker, res)
		ec = ec.Extend(map[model.AgentID]*model.AgentResult{res.AgentID: res})
	}

	finishTier(tr, o.now().Sub(start))
	return tr, ec, nil
}

// runExtraction serves the extraction result from cache when the case file is
// unchanged, otherwise invokes the agent and caches a successful payload.
func (o *Orchestrator) runExtraction(ctx context.Context, ec *model.ExecContext) *model.AgentResult {
	ag, ok := o.reg.Get(model.AgentDocExtraction)
	if !ok {
		return &model.AgentResult{
			AgentID: model.AgentDocExtraction,
			Error:   "document extraction agent not registered",
		}
	}

	key := extractionCacheKey(ec.Deal.ID, ec.Documents)
	if o.cache != nil {
		if v, hit := o.cache.Get(extractionNS, key); hit {
			if cached, ok := v.(*model.AgentResult); ok {
				zap.L().Debug("orchestrator: extraction served from cache", zap.String("deal", ec.Deal.ID))
				return cached
			}
		}
	}

	res := o.runner.Run(ctx, ag, ec)
	if res.Success && o.cache != nil {
		o.cache.SetTTL(extractionNS, key, res, time.Hour, cache.WithTags("deal:"+ec.Deal.ID))
	}
	return res
}

// reconcile ingests the extraction payload's candidates and persists accepted
// facts, returning the refreshed snapshot the later tiers read.
func (o *Orchestrator) reconcile(ctx context.Context, ec *model.ExecContext, extraction *model.AgentResult) ([]model.CurrentFact, error) {
	payload, err := agents.DecodeExtraction(extraction.Data)
	if err != nil {
		return nil, err
	}

	ingest, err := o.rec.Ingest(payload.Candidates(), ec.Facts)
	if err != nil {
		return nil, err
	}

	byKey := make(map[model.FactKey]*model.CurrentFact, len(ec.Facts))
	var order []model.FactKey
	for i := range ec.Facts {
		cf := ec.Facts[i]
		byKey[cf.Key] = &cf
		order = append(order, cf.Key)
	}
	contradictions := make(map[model.FactKey]*model.Contradiction, len(ingest.Contradictions))
	for i := range ingest.Contradictions {
		contradictions[ingest.Contradictions[i].Key] = &ingest.Contradictions[i]
	}

	now := o.now()
	for _, f := range ingest.Accepted {
		next := facts.Apply(byKey[f.Key], ec.Deal.ID, f, contradictions[f.Key], now)
		if _, seen := byKey[f.Key]; !seen {
			order = append(order, f.Key)
		}
		byKey[f.Key] = next
		if o.store != nil {
			if err := o.store.ReplaceCurrentFact(ctx, next); err != nil {
				return nil, eris.Wrap(err, "orchestrator: persist fact")
			}
		}
	}

	snapshot := make([]model.CurrentFact, 0, len(order))
	for _, key := range order {
		snapshot = append(snapshot, *byKey[key])
	}

	zap.L().Info("orchestrator: facts reconciled",
		zap.String("deal", ec.Deal.ID),
		zap.Int("accepted", len(ingest.Accepted)),
		zap.Int("contradictions", len(ingest.Contradictions)),
		zap.Int("rejected", len(ingest.Notes)),
	)
	return snapshot, nil
}

// runTier1 fans the independent analysis agents out. One failure never
// cancels siblings; the tier completes when every agent settles.
func (o *Orchestrator) runTier1(ctx context.Context, ec *model.ExecContext, opts Options, tracker *progressTracker) (*model.TierResult, error) {
	start := o.now()
	tr := &model.TierResult{Tier: 1, Results: make(map[model.AgentID]*model.AgentResult)}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)

	for _, id := range agents.Tier1AgentIDs() {
		ag, ok := o.reg.Get(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			res := o.runner.Run(gCtx, ag, ec)

			mu.Lock()
			tr.Results[res.AgentID] = res
			mu.Unlock()

			o.emit(opts, tracker, res)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "orchestrator: tier 1")
	}

	finishTier(tr, o.now().Sub(start))
	zap.L().Info("orchestrator: tier 1 complete",
		zap.Int("success", tr.SuccessCount),
		zap.Int("total", len(tr.Results)),
	)
	return tr, nil
}

// runTier2 runs the parallel synthesis pair, then scoring, then the memo.
// Scoring waits on the pair; the memo waits on the score.
func (o *Orchestrator) runTier2(ctx context.Context, ec *model.ExecContext, opts Options, tracker *progressTracker) (*model.TierResult, error) {
	start := o.now()
	tr := &model.TierResult{Tier: 2, Results: make(map[model.AgentID]*model.AgentResult)}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	for _, id := range []model.AgentID{model.AgentSWOT, model.AgentComparables} {
		ag, ok := o.reg.Get(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			res := o.runner.Run(gCtx, ag, ec)
			mu.Lock()
			tr.Results[res.AgentID] = res
			mu.Unlock()
			o.emit(opts, tracker, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "orchestrator: tier 2 synthesis")
	}

	ec = ec.Extend(tr.Results)
	for _, id := range []model.AgentID{model.AgentScoring, model.AgentMemo} {
		ag, ok := o.reg.Get(id)
		if !ok {
			continue
		}
		res := o.runner.Run(ctx, ag, ec)
		tr.Results[res.AgentID] = res
		o.emit(opts, tracker, res)
		ec = ec.Extend(map[model.AgentID]*model.AgentResult{res.AgentID: res})
	}

	finishTier(tr, o.now().Sub(start))
	return tr, nil
}

// runTier3 selects at most one sector specialist. A sector without a
// specialist skips the tier.
func (o *Orchestrator) runTier3(ctx context.Context, ec *model.ExecContext, opts Options, tracker *progressTracker) (*model.TierResult, error) {
	start := o.now()
	tr := &model.TierResult{Tier: 3, Results: make(map[model.AgentID]*model.AgentResult)}

	id, ok := agents.SpecialistFor(ec.Deal.Sector)
	if !ok {
		tr.Skipped = true
		zap.L().Info("orchestrator: no specialist for sector, skipping tier 3",
			zap.String("sector", string(ec.Deal.Sector)))
		return tr, nil
	}
	ag, ok := o.reg.Get(id)
	if !ok {
		tr.Skipped = true
		return tr, nil
	}

	res := o.runner.Run(ctx, ag, ec)
	tr.Results[res.AgentID] = res
	o.emit(opts, tracker, res)

	finishTier(tr, o.now().Sub(start))
	return tr, nil
}

// emit pushes urgent warnings immediately and advances progress.
func (o *Orchestrator) emit(opts Options, tracker *progressTracker, res *model.AgentResult) {
	if res.Warning != nil && res.Warning.Urgent() {
		opts.warn(*res.Warning)
	}
	tracker.settle(res.AgentID)
}

// fold merges a tier's results and warnings into the run aggregate.
func (o *Orchestrator) fold(run *model.AnalysisRun, tr *model.TierResult) {
	for id, res := range tr.Results {
		run.Results[id] = res
		run.TotalCostUSD += res.CostUSD
		run.TotalTokens += res.Usage.InputTokens + res.Usage.OutputTokens
		if res.Warning != nil {
			run.EarlyWarnings = append(run.EarlyWarnings, *res.Warning)
		}
	}
}

func (o *Orchestrator) finish(run *model.AnalysisRun, start time.Time) {
	run.TotalTime = o.now().Sub(start)
	run.UpdatedAt = o.now()
}

func (o *Orchestrator) loadFacts(ctx context.Context, dealID string) ([]model.CurrentFact, error) {
	if o.store == nil {
		return nil, nil
	}
	existing, err := o.store.CurrentFacts(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load facts")
	}
	return existing, nil
}

// plannedAgents counts the settlements a full run will produce for progress
// reporting.
func (o *Orchestrator) plannedAgents(deal model.Deal) int {
	n := len(o.reg.Tier(0)) + len(o.reg.Tier(1)) + len(o.reg.Tier(2))
	if _, ok := agents.SpecialistFor(deal.Sector); ok {
		n++
	}
	return n
}

func finishTier(tr *model.TierResult, d time.Duration) {
	tr.Duration = d
	for _, res := range tr.Results {
		tr.CostUSD += res.CostUSD
		if res.Success {
			tr.SuccessCount++
		}
	}
}

// extractionCacheKey fingerprints the case file so a changed document set
// misses the cache.
func extractionCacheKey(dealID string, docs []model.Document) string {
	h := fnv.New64a()
	for _, d := range docs {
		fmt.Fprintf(h, "%s|%d;", d.ID, len(d.ExtractedText))
	}
	return fmt.Sprintf("%s:%x", dealID, h.Sum64())
}
